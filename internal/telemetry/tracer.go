package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for arcadia operations.
// These follow OpenTelemetry semantic conventions where applicable;
// domain-specific keys use the "game." prefix.
const (
	// Client attributes
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// Realtime session attributes
	AttrConnID   = "game.conn_id"
	AttrPlayerID = "game.player_id"
	AttrRoomID   = "game.room_id"
	AttrEvent    = "game.event"

	// State store attributes
	AttrKey      = "state.key"
	AttrCategory = "state.category"
	AttrKind     = "state.kind"
	AttrStrategy = "state.strategy"

	// Concurrency attributes
	AttrTxnID    = "txn.id"
	AttrTxnKeys  = "txn.keys"
	AttrLockKey  = "lock.key"
	AttrVersion  = "state.version"
	AttrPolicy   = "conflict.policy"
	AttrOutcome  = "outcome"
	AttrCacheOps = "txn.cache_ops"
)

// String returns a string attribute.
func String(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Int returns an int attribute.
func Int(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// Int64 returns an int64 attribute.
func Int64(key string, value int64) attribute.KeyValue {
	return attribute.Int64(key, value)
}

// StringSlice returns a string slice attribute.
func StringSlice(key string, values []string) attribute.KeyValue {
	return attribute.StringSlice(key, values)
}

// WithSpanKind returns a span start option for the given kind.
func WithSpanKind(kind trace.SpanKind) trace.SpanStartOption {
	return trace.WithSpanKind(kind)
}

// StartTxnSpan starts a span for a distributed transaction operation.
func StartTxnSpan(ctx context.Context, op, txnID string, keys []string) (context.Context, trace.Span) {
	return StartSpan(ctx, "txn."+op,
		trace.WithAttributes(
			attribute.String(AttrTxnID, txnID),
			attribute.StringSlice(AttrTxnKeys, keys),
		),
	)
}
