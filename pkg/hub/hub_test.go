package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/arcadia/pkg/codec"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/session"
)

type fakeVerifier struct {
	players map[string]string // token -> player id
}

func (f *fakeVerifier) Verify(token string) (string, error) {
	if id, ok := f.players[token]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: unknown token", ErrUnauthorized)
}

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) kinds(t *testing.T) []codec.Kind {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []codec.Kind
	for _, raw := range f.frames {
		frame, err := codec.DecodeFrame(raw)
		require.NoError(t, err)
		out = append(out, codec.Kind(frame.Kind))
	}
	return out
}

func (f *fakeSender) last(t *testing.T, out any) codec.Kind {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	kind, err := codec.Decode(f.frames[len(f.frames)-1], out)
	require.NoError(t, err)
	return kind
}

type testHub struct {
	hub    *Hub
	reg    *session.Registry
	verify *fakeVerifier
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	rcfg := router.DefaultConfig()
	rcfg.CleanupInterval = 0
	reg := session.New(session.DefaultConfig())
	verify := &fakeVerifier{players: map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	}}
	return &testHub{
		hub:    New(reg, router.New(rcfg), verify, DefaultConfig()),
		reg:    reg,
		verify: verify,
	}
}

// connect wires a connection and authenticates it as the given player.
func (th *testHub) connect(t *testing.T, connID, token string) *fakeSender {
	t.Helper()
	sender := &fakeSender{}
	_, err := th.hub.Connect(context.Background(), connID, sender, nil)
	require.NoError(t, err)
	if token != "" {
		res, err := th.hub.Authenticate(context.Background(), connID, token)
		require.NoError(t, err)
		require.True(t, res.OK)
	}
	return sender
}

func TestConnectAndAuthenticate(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "")

	res, err := th.hub.Authenticate(context.Background(), "c1", "tok-alice")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "alice", res.PlayerID)

	sess, ok := th.reg.Get("c1")
	require.True(t, ok)
	assert.True(t, sess.Online())
	assert.Equal(t, "alice", sess.Principal())
}

func TestAuthenticateBadToken(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "")

	res, err := th.hub.Authenticate(context.Background(), "c1", "tok-nope")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotNil(t, res)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Reason)

	sess, _ := th.reg.Get("c1")
	assert.False(t, sess.Online())
}

func TestAuthenticateUnknownConnection(t *testing.T) {
	th := newTestHub(t)
	_, err := th.hub.Authenticate(context.Background(), "ghost", "tok-alice")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestJoinRoomAnnouncesToOthers(t *testing.T) {
	th := newTestHub(t)
	aliceS := th.connect(t, "c1", "tok-alice")
	bobS := th.connect(t, "c2", "tok-bob")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))

	require.NoError(t, th.hub.JoinRoom(context.Background(), "c2", "lobby"))

	// Alice hears bob joining; bob does not hear his own arrival.
	var ev codec.ServerEvent
	kind := aliceS.last(t, &ev)
	assert.Equal(t, codec.KindServerEvent, kind)
	assert.Equal(t, EventPlayerJoined, ev.EventType)
	meta := codec.PairsToMap(ev.Meta)
	assert.Equal(t, "bob", meta["player_id"])
	assert.Equal(t, "lobby", meta["room_id"])
	assert.Zero(t, bobS.count())
}

func TestJoinRoomRequiresAuth(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "")
	err := th.hub.JoinRoom(context.Background(), "c1", "lobby")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestChatForwardedToRoomExcludingSender(t *testing.T) {
	th := newTestHub(t)
	aliceS := th.connect(t, "c1", "tok-alice")
	bobS := th.connect(t, "c2", "tok-bob")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c2", "lobby"))

	before := bobS.count()
	err := th.hub.SendChat(context.Background(), "c1", &codec.ChatMessage{
		PlayerID: "alice", RoomID: "lobby", Text: "hello", SentAtMs: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	var cm codec.ChatMessage
	kind := bobS.last(t, &cm)
	assert.Equal(t, codec.KindChat, kind)
	assert.Equal(t, "hello", cm.Text)
	assert.Equal(t, before+1, bobS.count())

	// Sender never receives their own chat with echo disabled.
	for _, k := range aliceS.kinds(t) {
		assert.NotEqual(t, codec.KindChat, k)
	}
}

func TestChatEcho(t *testing.T) {
	th := newTestHub(t)
	cfg := DefaultConfig()
	cfg.EchoChat = true
	th.hub.cfg = cfg

	aliceS := th.connect(t, "c1", "tok-alice")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))

	err := th.hub.SendChat(context.Background(), "c1", &codec.ChatMessage{
		PlayerID: "alice", RoomID: "lobby", Text: "hi",
	})
	require.NoError(t, err)

	var cm codec.ChatMessage
	assert.Equal(t, codec.KindChat, aliceS.last(t, &cm))
}

func TestEventRejectsPrincipalMismatch(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))

	err := th.hub.SendChat(context.Background(), "c1", &codec.ChatMessage{
		PlayerID: "bob", RoomID: "lobby", Text: "impersonation",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEventRejectsWrongRoom(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))

	err := th.hub.UpdatePosition(context.Background(), "c1", &codec.PositionUpdate{
		PlayerID: "alice", RoomID: "arena", X: 1, Y: 2,
	})
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestPositionAndReadyAndGameEventForwarded(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")
	bobS := th.connect(t, "c2", "tok-bob")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c2", "lobby"))

	ctx := context.Background()
	require.NoError(t, th.hub.SetReady(ctx, "c1", &codec.ReadyState{
		PlayerID: "alice", RoomID: "lobby", Ready: true,
	}))
	require.NoError(t, th.hub.UpdatePosition(ctx, "c1", &codec.PositionUpdate{
		PlayerID: "alice", RoomID: "lobby", X: 10, Y: 20, Z: 0, Heading: 90,
	}))
	require.NoError(t, th.hub.SendGameEvent(ctx, "c1", &codec.GameEvent{
		PlayerID: "alice", RoomID: "lobby", EventType: "pickup", Data: []byte{1, 2},
	}))

	kinds := bobS.kinds(t)
	assert.Contains(t, kinds, codec.KindReady)
	assert.Contains(t, kinds, codec.KindPosition)
	assert.Contains(t, kinds, codec.KindGameEvent)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")
	bobS := th.connect(t, "c2", "tok-bob")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c2", "lobby"))
	require.NoError(t, th.hub.LeaveRoom(context.Background(), "c2", "lobby"))

	before := bobS.count()
	err := th.hub.SendChat(context.Background(), "c1", &codec.ChatMessage{
		PlayerID: "alice", RoomID: "lobby", Text: "anyone there?",
	})
	require.NoError(t, err)
	assert.Equal(t, before, bobS.count())
}

func TestSendToReachesAllPlayerConnections(t *testing.T) {
	th := newTestHub(t)
	s1 := th.connect(t, "c1", "tok-alice")
	s2 := th.connect(t, "c2", "tok-alice")
	other := th.connect(t, "c3", "tok-bob")

	err := th.hub.SendTo(context.Background(), "alice", &codec.ServerEvent{
		MessageID: "m1", EventType: "match_found",
	})
	require.NoError(t, err)

	var ev codec.ServerEvent
	assert.Equal(t, codec.KindServerEvent, s1.last(t, &ev))
	assert.Equal(t, "match_found", ev.EventType)
	assert.Equal(t, codec.KindServerEvent, s2.last(t, &ev))
	assert.Zero(t, other.count())
}

func TestSendToUnknownPlayerIsNoOp(t *testing.T) {
	th := newTestHub(t)
	err := th.hub.SendTo(context.Background(), "nobody", &codec.ServerEvent{MessageID: "m1"})
	assert.NoError(t, err)
}

func TestDisconnectAnnouncesLeft(t *testing.T) {
	th := newTestHub(t)
	aliceS := th.connect(t, "c1", "tok-alice")
	th.connect(t, "c2", "tok-bob")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c2", "lobby"))

	require.NoError(t, th.hub.Disconnect(context.Background(), "c2", "client closed"))

	var ev codec.ServerEvent
	assert.Equal(t, codec.KindServerEvent, aliceS.last(t, &ev))
	assert.Equal(t, EventPlayerLeft, ev.EventType)
	assert.Equal(t, "bob", codec.PairsToMap(ev.Meta)["player_id"])

	_, ok := th.reg.Get("c2")
	assert.False(t, ok)
	assert.ErrorIs(t, th.hub.Disconnect(context.Background(), "c2", "again"), ErrNotConnected)
}

func encodeFrame(t *testing.T, kind codec.Kind, body any) []byte {
	t.Helper()
	data, err := codec.Encode(kind, body)
	require.NoError(t, err)
	return data
}

func TestHandleFrameAuthFlow(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "")

	resp, err := th.hub.HandleFrame(context.Background(), "c1",
		encodeFrame(t, codec.KindAuth, &codec.AuthRequest{Token: "tok-alice"}))
	require.NoError(t, err)

	var res codec.AuthResult
	kind, err := codec.Decode(resp, &res)
	require.NoError(t, err)
	assert.Equal(t, codec.KindAuthResult, kind)
	assert.True(t, res.OK)
	assert.Equal(t, "alice", res.PlayerID)
}

func TestHandleFrameJoinAndChat(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")

	resp, err := th.hub.HandleFrame(context.Background(), "c1",
		encodeFrame(t, codec.KindJoinRoom, &codec.JoinRoomRequest{RoomID: "lobby"}))
	require.NoError(t, err)
	var ack codec.AckFrame
	kind, err := codec.Decode(resp, &ack)
	require.NoError(t, err)
	assert.Equal(t, codec.KindAck, kind)
	assert.Equal(t, AckOK, ack.Status)

	resp, err = th.hub.HandleFrame(context.Background(), "c1",
		encodeFrame(t, codec.KindChat, &codec.ChatMessage{
			PlayerID: "alice", RoomID: "lobby", Text: "hi",
		}))
	require.NoError(t, err)
	kind, err = codec.Decode(resp, &ack)
	require.NoError(t, err)
	assert.Equal(t, codec.KindAck, kind)
}

func TestHandleFramePositionIsFireAndForget(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")
	require.NoError(t, th.hub.JoinRoom(context.Background(), "c1", "lobby"))

	resp, err := th.hub.HandleFrame(context.Background(), "c1",
		encodeFrame(t, codec.KindPosition, &codec.PositionUpdate{
			PlayerID: "alice", RoomID: "lobby", X: 1,
		}))
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestHandleFrameErrors(t *testing.T) {
	th := newTestHub(t)
	th.connect(t, "c1", "tok-alice")

	cases := []struct {
		name string
		data []byte
		code uint32
	}{
		{"garbage", []byte{0xde, 0xad}, CodeBadFrame},
		{
			"unsupported kind",
			encodeFrame(t, codec.KindAuthResult, &codec.AuthResult{OK: true}),
			CodeBadFrame,
		},
		{
			"not in room",
			encodeFrame(t, codec.KindChat, &codec.ChatMessage{
				PlayerID: "alice", RoomID: "arena", Text: "x",
			}),
			CodeNotInRoom,
		},
		{
			"impersonation",
			encodeFrame(t, codec.KindChat, &codec.ChatMessage{
				PlayerID: "bob", RoomID: "lobby", Text: "x",
			}),
			CodeUnauthorized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := th.hub.HandleFrame(context.Background(), "c1", tc.data)
			assert.Error(t, err)
			var ef codec.ErrorFrame
			kind, decErr := codec.Decode(resp, &ef)
			require.NoError(t, decErr)
			assert.Equal(t, codec.KindError, kind)
			assert.Equal(t, tc.code, ef.Code)
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestJWTVerifier(t *testing.T) {
	const secret = "swordfish"
	v := NewJWTVerifier(secret, WithIssuer("arcadia"))

	id, err := v.Verify(signToken(t, secret, jwt.MapClaims{
		"iss":       "arcadia",
		"player_id": "alice",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	// Subject fallback.
	id, err = v.Verify(signToken(t, secret, jwt.MapClaims{
		"iss": "arcadia",
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "bob", id)

	// Wrong secret.
	_, err = v.Verify(signToken(t, "other", jwt.MapClaims{"iss": "arcadia", "sub": "x"}))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Wrong issuer.
	_, err = v.Verify(signToken(t, secret, jwt.MapClaims{"iss": "evil", "sub": "x"}))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Expired.
	_, err = v.Verify(signToken(t, secret, jwt.MapClaims{
		"iss": "arcadia", "sub": "x", "exp": time.Now().Add(-time.Hour).Unix(),
	}))
	assert.ErrorIs(t, err, ErrUnauthorized)

	// No player id anywhere.
	_, err = v.Verify(signToken(t, secret, jwt.MapClaims{"iss": "arcadia"}))
	assert.ErrorIs(t, err, ErrUnauthorized)
}
