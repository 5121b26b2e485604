// Package router delivers routed messages to selected receivers.
//
// Receivers are live connections registered by the hub; target selection
// matches receiver ids or presence metadata (room, area, role). Fan-out to
// the selected receivers runs in parallel per message; batches run under a
// weighted semaphore bounding concurrent messages.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRouteInvalid is returned for messages rejected before selection:
	// hop budget exhausted, deadline passed, malformed target.
	ErrRouteInvalid = errors.New("router: invalid route")

	// ErrPoolFull is returned when the receiver map is at capacity.
	ErrPoolFull = errors.New("router: receiver pool full")

	// ErrDuplicateReceiver is returned when a receiver id is already
	// registered.
	ErrDuplicateReceiver = errors.New("router: receiver already registered")
)

// TargetKind selects the audience of a message.
type TargetKind string

const (
	Unicast   TargetKind = "unicast"
	Multicast TargetKind = "multicast"
	Broadcast TargetKind = "broadcast"
	Room      TargetKind = "room"
	Area      TargetKind = "area"
	Role      TargetKind = "role"
)

// Sender pushes one encoded frame to a receiver's transport.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Presence exposes the liveness and metadata of a receiver's session.
// Implemented by *session.Session.
type Presence interface {
	Online() bool
	Meta(key string) string
}

// Receiver is one registered delivery endpoint.
type Receiver struct {
	ID           string
	RegisteredAt time.Time

	sender   Sender
	presence Presence
}

// Message is one routed delivery request.
type Message struct {
	// ID identifies the message in acks and logs; Route assigns one when
	// empty.
	ID   string
	Kind TargetKind

	// Target is the room/area/role id for scoped kinds.
	Target string
	// Targets are the receiver ids for unicast and multicast.
	Targets []string
	// Exclude lists receiver ids never delivered to.
	Exclude []string

	Payload  []byte
	Priority int

	// RequireAck collects per-receiver ack tuples in the result.
	RequireAck bool

	// Deadline rejects the message once passed. Zero means none.
	Deadline time.Time

	// Hops and MaxHops guard against forwarding loops. A zero MaxHops uses
	// the configured default.
	Hops    int
	MaxHops int
}

// Ack is one receiver's delivery acknowledgement.
type Ack struct {
	MessageID   string    `json:"message_id"`
	ReceiverID  string    `json:"receiver_id"`
	OK          bool      `json:"ok"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Result reports one message's delivery outcome.
type Result struct {
	MessageID string
	Selected  int
	Delivered int
	Failed    int
	Rejected  bool
	Reason    string
	Acks      []Ack
}

// Config holds router settings.
type Config struct {
	// DefaultMaxHops applies to messages that carry none.
	DefaultMaxHops int `mapstructure:"default_max_hops" validate:"gt=0" yaml:"default_max_hops"`

	// DeliveryTimeout bounds one receiver send.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" yaml:"delivery_timeout"`

	// MaxConcurrentMessages bounds batch processing.
	MaxConcurrentMessages int64 `mapstructure:"max_concurrent_messages" validate:"gt=0" yaml:"max_concurrent_messages"`

	// MaxReceivers caps the receiver map; registration past it fails fast.
	MaxReceivers int `mapstructure:"max_receivers" validate:"gt=0" yaml:"max_receivers"`

	// CleanupInterval is the stale receiver sweep period.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// MaxReceiverAge is how long an offline receiver registration survives
	// the sweep.
	MaxReceiverAge time.Duration `mapstructure:"max_receiver_age" yaml:"max_receiver_age"`
}

// DefaultConfig returns production-leaning router settings.
func DefaultConfig() Config {
	return Config{
		DefaultMaxHops:        8,
		DeliveryTimeout:       5 * time.Second,
		MaxConcurrentMessages: 10,
		MaxReceivers:          10_000,
		CleanupInterval:       time.Minute,
		MaxReceiverAge:        10 * time.Minute,
	}
}

// Router fans routed messages out to registered receivers.
type Router struct {
	cfg Config

	mu        sync.RWMutex
	receivers map[string]*Receiver

	stats routerStats

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New creates a router.
func New(cfg Config) *Router {
	return &Router{
		cfg:       cfg,
		receivers: make(map[string]*Receiver),
	}
}

// AddReceiver registers a delivery endpoint. Admission fails fast at the
// configured cap.
func (r *Router) AddReceiver(id string, sender Sender, presence Presence) (*Receiver, error) {
	if id == "" || sender == nil || presence == nil {
		return nil, fmt.Errorf("%w: id, sender and presence required", ErrRouteInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.receivers[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateReceiver, id)
	}
	if len(r.receivers) >= r.cfg.MaxReceivers {
		return nil, fmt.Errorf("%w: %d receivers", ErrPoolFull, r.cfg.MaxReceivers)
	}

	rcv := &Receiver{
		ID:           id,
		RegisteredAt: time.Now(),
		sender:       sender,
		presence:     presence,
	}
	r.receivers[id] = rcv
	return rcv, nil
}

// RemoveReceiver drops a delivery endpoint. Returns whether it existed.
func (r *Router) RemoveReceiver(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.receivers[id]
	delete(r.receivers, id)
	return ok
}

// ReceiverCount returns the number of registered receivers.
func (r *Router) ReceiverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.receivers)
}

// snapshot returns the current receivers for selection.
func (r *Router) snapshot() []*Receiver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Receiver, 0, len(r.receivers))
	for _, rcv := range r.receivers {
		out = append(out, rcv)
	}
	return out
}

// CleanupStale removes offline receivers registered longer ago than the
// configured maximum age. Returns the removed count.
func (r *Router) CleanupStale() int {
	if r.cfg.MaxReceiverAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.cfg.MaxReceiverAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rcv := range r.receivers {
		if !rcv.presence.Online() && rcv.RegisteredAt.Before(cutoff) {
			delete(r.receivers, id)
			removed++
		}
	}
	return removed
}

func newMessageID() string {
	return uuid.NewString()
}
