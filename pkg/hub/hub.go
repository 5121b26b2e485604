// Package hub binds client connections to the session registry and the
// broadcast router.
//
// The hub is deliberately thin: it validates every client event against the
// authenticated session (the claimed player id must match the bound
// principal), translates it into a routed message, and hands it to the
// router. Hub-generated notifications (player joined, player left) travel
// as server events.
package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/codec"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/session"
)

var (
	// ErrUnauthorized is returned for events whose claimed player does not
	// match the session's bound principal, and for failed authentication.
	ErrUnauthorized = errors.New("hub: unauthorized")

	// ErrNotConnected is returned for operations on unknown connections.
	ErrNotConnected = errors.New("hub: connection not registered")

	// ErrNotInRoom is returned for room events from sessions outside the
	// room.
	ErrNotInRoom = errors.New("hub: session not in room")
)

// Server-generated event types.
const (
	EventPlayerJoined = "player_joined"
	EventPlayerLeft   = "player_left"
)

// Config holds hub settings.
type Config struct {
	// EchoChat delivers chat lines back to their sender as well.
	EchoChat bool `mapstructure:"echo_chat" yaml:"echo_chat"`
}

// DefaultConfig returns production-leaning hub settings.
func DefaultConfig() Config {
	return Config{EchoChat: false}
}

// Hub is the realtime front of the server core.
type Hub struct {
	reg    *session.Registry
	router *router.Router
	verify Verifier
	cfg    Config
}

// New creates a hub over the given registry and router.
func New(reg *session.Registry, rt *router.Router, verify Verifier, cfg Config) *Hub {
	return &Hub{reg: reg, router: rt, verify: verify, cfg: cfg}
}

// Connect registers a new connection and its send endpoint. The session
// stays offline until Authenticate succeeds.
func (h *Hub) Connect(ctx context.Context, connID string, sender router.Sender, meta map[string]string) (*session.Session, error) {
	sess, err := h.reg.Register(connID, meta)
	if err != nil {
		return nil, err
	}
	if _, err := h.router.AddReceiver(connID, sender, sess); err != nil {
		h.reg.Unregister(connID, "receiver registration failed")
		return nil, err
	}
	logger.InfoCtx(ctx, "connection registered", logger.KeyConnID, connID)
	return sess, nil
}

// Authenticate verifies the client token and binds the principal to the
// connection. The session joins its principal group for directed delivery.
func (h *Hub) Authenticate(ctx context.Context, connID, token string) (*codec.AuthResult, error) {
	if _, ok := h.reg.Get(connID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotConnected, connID)
	}

	playerID, err := h.verify.Verify(token)
	if err != nil {
		logger.WarnCtx(ctx, "authentication failed",
			logger.KeyConnID, connID, logger.KeyError, err.Error())
		return &codec.AuthResult{OK: false, Reason: "invalid token"}, err
	}

	if _, err := h.reg.Bind(connID, playerID); err != nil {
		return &codec.AuthResult{OK: false, Reason: "bind rejected"}, err
	}
	if err := h.reg.JoinGroup(connID, session.ScopePrincipal, playerID); err != nil {
		return &codec.AuthResult{OK: false, Reason: "bind rejected"}, err
	}

	logger.InfoCtx(ctx, "connection authenticated",
		logger.KeyConnID, connID, logger.KeyPlayerID, playerID)
	return &codec.AuthResult{OK: true, PlayerID: playerID}, nil
}

// authenticated returns the session when it is online, enforcing that the
// claimed player matches the bound principal.
func (h *Hub) authenticated(connID, claimedPlayer string) (*session.Session, error) {
	sess, ok := h.reg.Get(connID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotConnected, connID)
	}
	if !sess.Online() {
		return nil, fmt.Errorf("%w: connection %q not authenticated", ErrUnauthorized, connID)
	}
	if claimedPlayer != "" && claimedPlayer != sess.Principal() {
		return nil, fmt.Errorf("%w: claimed %q, bound %q",
			ErrUnauthorized, claimedPlayer, sess.Principal())
	}
	h.reg.Touch(connID)
	return sess, nil
}

// JoinRoom binds the session to a room group and announces the arrival to
// the room.
func (h *Hub) JoinRoom(ctx context.Context, connID, roomID string) error {
	sess, err := h.authenticated(connID, "")
	if err != nil {
		return err
	}
	if err := h.reg.JoinGroup(connID, session.ScopeRoom, roomID); err != nil {
		return err
	}

	h.announce(ctx, roomID, EventPlayerJoined, sess.Principal(), connID)
	logger.InfoCtx(ctx, "joined room",
		logger.KeyConnID, connID, logger.KeyRoomID, roomID)
	return nil
}

// LeaveRoom removes the session from a room group and announces the
// departure.
func (h *Hub) LeaveRoom(ctx context.Context, connID, roomID string) error {
	sess, err := h.authenticated(connID, "")
	if err != nil {
		return err
	}
	if err := h.reg.LeaveGroup(connID, session.ScopeRoom, roomID); err != nil {
		return err
	}

	h.announce(ctx, roomID, EventPlayerLeft, sess.Principal(), connID)
	logger.InfoCtx(ctx, "left room",
		logger.KeyConnID, connID, logger.KeyRoomID, roomID)
	return nil
}

// SetReady forwards a ready toggle to the player's room.
func (h *Hub) SetReady(ctx context.Context, connID string, rs *codec.ReadyState) error {
	sess, err := h.authenticated(connID, rs.PlayerID)
	if err != nil {
		return err
	}
	if err := h.inRoom(sess, rs.RoomID); err != nil {
		return err
	}
	return h.forward(ctx, codec.KindReady, rs, rs.RoomID, connID, false)
}

// UpdatePosition forwards a position sample to the player's room.
func (h *Hub) UpdatePosition(ctx context.Context, connID string, pu *codec.PositionUpdate) error {
	sess, err := h.authenticated(connID, pu.PlayerID)
	if err != nil {
		return err
	}
	if err := h.inRoom(sess, pu.RoomID); err != nil {
		return err
	}
	return h.forward(ctx, codec.KindPosition, pu, pu.RoomID, connID, false)
}

// SendChat forwards a chat line to the player's room.
func (h *Hub) SendChat(ctx context.Context, connID string, cm *codec.ChatMessage) error {
	sess, err := h.authenticated(connID, cm.PlayerID)
	if err != nil {
		return err
	}
	if err := h.inRoom(sess, cm.RoomID); err != nil {
		return err
	}
	return h.forward(ctx, codec.KindChat, cm, cm.RoomID, connID, h.cfg.EchoChat)
}

// SendGameEvent forwards an opaque gameplay event to the player's room.
func (h *Hub) SendGameEvent(ctx context.Context, connID string, ge *codec.GameEvent) error {
	sess, err := h.authenticated(connID, ge.PlayerID)
	if err != nil {
		return err
	}
	if err := h.inRoom(sess, ge.RoomID); err != nil {
		return err
	}
	return h.forward(ctx, codec.KindGameEvent, ge, ge.RoomID, connID, false)
}

// SendTo delivers a server event to every connection of one player.
func (h *Hub) SendTo(ctx context.Context, playerID string, ev *codec.ServerEvent) error {
	payload, err := codec.Encode(codec.KindServerEvent, ev)
	if err != nil {
		return err
	}
	targets := make([]string, 0, 1)
	for _, s := range h.reg.ByPrincipal(playerID) {
		targets = append(targets, s.ConnID)
	}
	if len(targets) == 0 {
		return nil
	}
	_, err = h.router.Route(ctx, &router.Message{
		Kind:    router.Multicast,
		Targets: targets,
		Payload: payload,
	})
	return err
}

// Disconnect tears a connection down: the session leaves all groups, every
// room it was in hears a player-left event, and the receiver is removed.
func (h *Hub) Disconnect(ctx context.Context, connID, reason string) error {
	sess, ok := h.reg.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotConnected, connID)
	}

	principal := sess.Principal()
	var rooms []string
	for _, g := range sess.Groups() {
		if room, ok := groupRoom(g); ok {
			rooms = append(rooms, room)
		}
	}

	h.router.RemoveReceiver(connID)
	h.reg.Unregister(connID, reason)

	for _, room := range rooms {
		h.announce(ctx, room, EventPlayerLeft, principal, connID)
	}

	logger.InfoCtx(ctx, "connection closed",
		logger.KeyConnID, connID, logger.KeyReason, reason, logger.KeyCount, len(rooms))
	return nil
}

// inRoom rejects events claiming a room the session is not a member of.
func (h *Hub) inRoom(sess *session.Session, roomID string) error {
	if roomID == "" || sess.Meta(string(session.ScopeRoom)) != roomID {
		return fmt.Errorf("%w: room %q", ErrNotInRoom, roomID)
	}
	return nil
}

// forward re-encodes a client event and routes it to the room.
func (h *Hub) forward(ctx context.Context, kind codec.Kind, body any, roomID, senderConn string, echo bool) error {
	payload, err := codec.Encode(kind, body)
	if err != nil {
		return err
	}
	msg := &router.Message{
		Kind:    router.Room,
		Target:  roomID,
		Payload: payload,
	}
	if !echo {
		msg.Exclude = []string{senderConn}
	}
	_, err = h.router.Route(ctx, msg)
	return err
}

// announce broadcasts a hub-generated room notification, excluding the
// connection that caused it.
func (h *Hub) announce(ctx context.Context, roomID, eventType, playerID, exceptConn string) {
	ev := &codec.ServerEvent{
		MessageID: newEventID(),
		EventType: eventType,
		Meta: []codec.KV{
			{Key: "player_id", Value: playerID},
			{Key: "room_id", Value: roomID},
		},
		SentAtMs: time.Now().UnixMilli(),
	}
	payload, err := codec.Encode(codec.KindServerEvent, ev)
	if err != nil {
		logger.WarnCtx(ctx, "announce encode failed", logger.KeyError, err.Error())
		return
	}
	if _, err := h.router.Route(ctx, &router.Message{
		ID:      ev.MessageID,
		Kind:    router.Room,
		Target:  roomID,
		Exclude: []string{exceptConn},
		Payload: payload,
	}); err != nil {
		logger.WarnCtx(ctx, "announce failed",
			logger.KeyRoomID, roomID, logger.KeyEventType, eventType, logger.KeyError, err.Error())
	}
}

func groupRoom(groupKey string) (string, bool) {
	const prefix = string(session.ScopeRoom) + ":"
	if len(groupKey) > len(prefix) && groupKey[:len(prefix)] == prefix {
		return groupKey[len(prefix):], true
	}
	return "", false
}
