package codec

// Typed frame bodies exchanged between hub and clients, and the generic
// state payload stored in the cache. XDR cannot encode Go maps, so metadata
// travels as explicit key/value pairs.

// KV is a single metadata pair.
type KV struct {
	Key   string
	Value string
}

// PairsToMap converts a KV slice to a map. Later duplicates win.
func PairsToMap(pairs []KV) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// MapToPairs converts a map to a KV slice. Order is unspecified.
func MapToPairs(m map[string]string) []KV {
	if len(m) == 0 {
		return nil
	}
	pairs := make([]KV, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, KV{Key: k, Value: v})
	}
	return pairs
}

// AuthRequest authenticates a connection with a JWT issued by the external
// login surface.
type AuthRequest struct {
	Token string
}

// AuthResult reports the outcome of authentication.
type AuthResult struct {
	OK       bool
	PlayerID string
	Reason   string
}

// JoinRoomRequest binds the session to a room broadcast group.
type JoinRoomRequest struct {
	RoomID string
}

// LeaveRoomRequest removes the session from a room broadcast group.
type LeaveRoomRequest struct {
	RoomID string
}

// ReadyState toggles the player's ready flag in its current room.
type ReadyState struct {
	PlayerID string
	RoomID   string
	Ready    bool
}

// PositionUpdate carries a player position sample.
type PositionUpdate struct {
	PlayerID string
	RoomID   string
	X        float64
	Y        float64
	Z        float64
	Heading  float64
	SentAtMs int64
}

// ChatMessage carries a room-scoped chat line.
type ChatMessage struct {
	PlayerID string
	RoomID   string
	Text     string
	SentAtMs int64
}

// GameEvent carries an opaque gameplay event.
type GameEvent struct {
	PlayerID  string
	RoomID    string
	EventType string
	Data      []byte
	SentAtMs  int64
}

// ServerEvent is a server-initiated notification delivered to receivers.
type ServerEvent struct {
	MessageID string
	EventType string
	Data      []byte
	Meta      []KV
	SentAtMs  int64
}

// AckFrame acknowledges a delivered message when acks were requested.
type AckFrame struct {
	MessageID string
	Status    string
}

// ErrorFrame reports a rejected client frame.
type ErrorFrame struct {
	Code    uint32
	Message string
}

// StatePayload is the generic stored-state body used by the cache tier when
// a caller has no richer typed payload. Fields travel as pairs.
type StatePayload struct {
	Kind       string
	ID         string
	Fields     []KV
	UpdatedAt  int64
	WriterID   string
	SchemaHint uint32
}
