// Package session owns the mapping from connection id to live session,
// with reverse indexes by principal and by broadcast group.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrPoolFull is returned when the registry is at capacity even after
	// evicting expired sessions.
	ErrPoolFull = errors.New("session: pool full")

	// ErrNotFound is returned for operations on an unknown connection id.
	ErrNotFound = errors.New("session: connection not registered")

	// ErrInvalidArgument is returned for empty connection or group ids.
	ErrInvalidArgument = errors.New("session: invalid argument")
)

// Scope classifies a broadcast group.
type Scope string

const (
	ScopeRoom      Scope = "room"
	ScopeArea      Scope = "area"
	ScopeRole      Scope = "role"
	ScopePrincipal Scope = "principal"
)

// GroupKey builds the canonical "scope:id" group key.
func GroupKey(scope Scope, id string) string {
	return string(scope) + ":" + id
}

// Session is one live connection's registry entry.
type Session struct {
	ConnID      string
	ConnectedAt time.Time

	mu         sync.Mutex
	principal  string
	online     bool
	lastActive time.Time
	metadata   map[string]string
	groups     map[string]struct{}
}

// Principal returns the bound principal id, empty before authentication.
func (s *Session) Principal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// Online reports whether the session is authenticated and connected.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// LastActive returns the last touch instant.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Meta returns one metadata value.
func (s *Session) Meta(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[key]
}

// SetMeta sets one metadata value.
func (s *Session) SetMeta(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Groups snapshots the group keys the session belongs to.
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Config holds session registry settings.
type Config struct {
	// MaxSessions caps the pool; registration past it fails with
	// ErrPoolFull after one expired-session cleanup attempt.
	MaxSessions int `mapstructure:"max_sessions" validate:"gt=0" yaml:"max_sessions"`

	// IdleTimeout expires sessions with no activity.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// CleanupInterval is the idle sweep period.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns production-leaning session settings.
func DefaultConfig() Config {
	return Config{
		MaxSessions:     10_000,
		IdleTimeout:     5 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

// Registry tracks live sessions and their group membership.
type Registry struct {
	cfg Config

	mu          sync.RWMutex
	byConn      map[string]*Session
	byPrincipal map[string]map[string]*Session // principal -> connID -> session
	groups      map[string]map[string]*Session // group key -> connID -> session

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New creates a session registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:         cfg,
		byConn:      make(map[string]*Session),
		byPrincipal: make(map[string]map[string]*Session),
		groups:      make(map[string]map[string]*Session),
	}
}

// Register inserts a session for a new connection. The session starts
// offline; Bind marks it online once the principal is verified.
func (r *Registry) Register(connID string, metadata map[string]string) (*Session, error) {
	if connID == "" {
		return nil, fmt.Errorf("%w: empty connection id", ErrInvalidArgument)
	}

	r.mu.Lock()
	if _, exists := r.byConn[connID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: connection %q already registered", ErrInvalidArgument, connID)
	}
	full := len(r.byConn) >= r.cfg.MaxSessions
	r.mu.Unlock()

	if full {
		r.CleanupExpired()
		r.mu.Lock()
		full = len(r.byConn) >= r.cfg.MaxSessions
		r.mu.Unlock()
		if full {
			return nil, fmt.Errorf("%w: %d sessions", ErrPoolFull, r.cfg.MaxSessions)
		}
	}

	now := time.Now()
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	s := &Session{
		ConnID:      connID,
		ConnectedAt: now,
		lastActive:  now,
		metadata:    md,
		groups:      make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byConn) >= r.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: %d sessions", ErrPoolFull, r.cfg.MaxSessions)
	}
	r.byConn[connID] = s
	return s, nil
}

// Bind associates a verified principal with the connection and marks it
// online. Rebinding to a different principal is rejected.
func (r *Registry) Bind(connID, principal string) (*Session, error) {
	if principal == "" {
		return nil, fmt.Errorf("%w: empty principal", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, connID)
	}

	s.mu.Lock()
	if s.principal != "" && s.principal != principal {
		cur := s.principal
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: connection bound to %q", ErrInvalidArgument, cur)
	}
	s.principal = principal
	s.online = true
	s.lastActive = time.Now()
	s.mu.Unlock()

	conns, ok := r.byPrincipal[principal]
	if !ok {
		conns = make(map[string]*Session)
		r.byPrincipal[principal] = conns
	}
	conns[connID] = s
	return s, nil
}

// Unregister removes a session and all its group memberships.
// Returns false for unknown connections; unregistering twice is a no-op.
func (r *Registry) Unregister(connID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID, reason)
}

func (r *Registry) removeLocked(connID, _ string) bool {
	s, ok := r.byConn[connID]
	if !ok {
		return false
	}
	delete(r.byConn, connID)

	s.mu.Lock()
	s.online = false
	principal := s.principal
	memberships := make([]string, 0, len(s.groups))
	for g := range s.groups {
		memberships = append(memberships, g)
	}
	s.groups = make(map[string]struct{})
	s.mu.Unlock()

	if principal != "" {
		if conns := r.byPrincipal[principal]; conns != nil {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.byPrincipal, principal)
			}
		}
	}
	for _, g := range memberships {
		if members := r.groups[g]; members != nil {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.groups, g)
			}
		}
	}
	return true
}

// Touch updates a session's last-active instant.
func (r *Registry) Touch(connID string) bool {
	r.mu.RLock()
	s, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.touch()
	return true
}

// Get returns the session for a connection id.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// ByPrincipal snapshots the sessions bound to a principal.
func (r *Registry) ByPrincipal(principal string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byPrincipal[principal]))
	for _, s := range r.byPrincipal[principal] {
		out = append(out, s)
	}
	return out
}

// InGroup snapshots the online members of a group.
func (r *Registry) InGroup(groupKey string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.groups[groupKey]))
	for _, s := range r.groups[groupKey] {
		if s.Online() {
			out = append(out, s)
		}
	}
	return out
}

// JoinGroup adds the session to a group and records the scope id in its
// metadata for router target selection.
func (r *Registry) JoinGroup(connID string, scope Scope, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty group id", ErrInvalidArgument)
	}
	key := GroupKey(scope, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, connID)
	}

	members, ok := r.groups[key]
	if !ok {
		members = make(map[string]*Session)
		r.groups[key] = members
	}
	members[connID] = s

	s.mu.Lock()
	s.groups[key] = struct{}{}
	s.metadata[string(scope)] = id
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

// LeaveGroup removes the session from a group.
func (r *Registry) LeaveGroup(connID string, scope Scope, id string) error {
	key := GroupKey(scope, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, connID)
	}

	if members := r.groups[key]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.groups, key)
		}
	}

	s.mu.Lock()
	delete(s.groups, key)
	if s.metadata[string(scope)] == id {
		delete(s.metadata, string(scope))
	}
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// CleanupExpired evicts sessions idle past the timeout. Idempotent.
func (r *Registry) CleanupExpired() int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for connID, s := range r.byConn {
		if s.idleFor(now) > r.cfg.IdleTimeout {
			r.removeLocked(connID, "idle timeout")
			evicted++
		}
	}
	return evicted
}
