package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that aggregated
// logs can be queried by connection, player, room, or key.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Realtime Session
	// ========================================================================
	KeyConnID    = "conn_id"   // Connection identifier
	KeyPlayerID  = "player_id" // Authenticated principal (player)
	KeyRoomID    = "room_id"   // Room the operation concerns
	KeyAreaID    = "area_id"   // Area/zone identifier
	KeyRole      = "role"      // Session role (player, spectator, admin)
	KeyGroupKey  = "group"     // Broadcast group key (scope:id)
	KeyClientIP  = "client_ip" // Client IP address
	KeyEventType = "event"     // Realtime event type (ready, position, chat, ...)
	KeyMessageID = "message_id"

	// ========================================================================
	// State Store
	// ========================================================================
	KeyKey        = "key"      // Logical cache/document key
	KeyCategory   = "category" // Cache key category
	KeyKind       = "kind"     // Persisted entity kind (player, room, ...)
	KeyCollection = "collection"
	KeyStrategy   = "strategy" // Sync strategy in effect
	KeyTTL        = "ttl"
	KeyBatchSize  = "batch_size"
	KeyEvicted    = "evicted" // Number of entries evicted
	KeyCacheHit   = "cache_hit"

	// ========================================================================
	// Concurrency Layer
	// ========================================================================
	KeyLockKey  = "lock_key"
	KeyToken    = "token"   // Lock owner token (fencing token)
	KeyTxnID    = "txn_id"  // Distributed transaction id
	KeyVersion  = "version" // Entity version number
	KeyPolicy   = "policy"  // Conflict resolution policy
	KeyWriterID = "writer_id"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyReason     = "reason"      // Why something happened (disconnect, reject, ...)
	KeyCount      = "count"
)

// ============================================================================
// Field constructors for type safety
// ============================================================================
// These functions provide type-safe construction of slog.Attr values.

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// ConnID returns a slog.Attr for a connection identifier
func ConnID(id string) slog.Attr {
	return slog.String(KeyConnID, id)
}

// PlayerID returns a slog.Attr for a player identifier
func PlayerID(id string) slog.Attr {
	return slog.String(KeyPlayerID, id)
}

// RoomID returns a slog.Attr for a room identifier
func RoomID(id string) slog.Attr {
	return slog.String(KeyRoomID, id)
}

// Key returns a slog.Attr for a logical state key
func Key(key string) slog.Attr {
	return slog.String(KeyKey, key)
}

// LockKey returns a slog.Attr for a lock key
func LockKey(key string) slog.Attr {
	return slog.String(KeyLockKey, key)
}

// TxnID returns a slog.Attr for a transaction id
func TxnID(id string) slog.Attr {
	return slog.String(KeyTxnID, id)
}

// Version returns a slog.Attr for an entity version
func Version(v int64) slog.Attr {
	return slog.Int64(KeyVersion, v)
}

// Err returns a slog.Attr for an error value
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for an operation duration
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
