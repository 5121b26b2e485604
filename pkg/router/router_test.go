package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	delay  time.Duration
}

func (f *fakeSender) Send(ctx context.Context, frame []byte) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
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

type fakePresence struct {
	mu     sync.Mutex
	online bool
	meta   map[string]string
}

func (f *fakePresence) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakePresence) Meta(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta[key]
}

type endpoint struct {
	sender   *fakeSender
	presence *fakePresence
}

func addEndpoint(t *testing.T, r *Router, id string, meta map[string]string) *endpoint {
	t.Helper()
	ep := &endpoint{
		sender:   &fakeSender{},
		presence: &fakePresence{online: true, meta: meta},
	}
	_, err := r.AddReceiver(id, ep.sender, ep.presence)
	require.NoError(t, err)
	return ep
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0
	return cfg
}

func payload() []byte { return []byte("frame") }

func TestUnicastDeliversToTarget(t *testing.T) {
	r := New(testConfig())
	a := addEndpoint(t, r, "c1", nil)
	b := addEndpoint(t, r, "c2", nil)

	res, err := r.Route(context.Background(), &Message{
		Kind: Unicast, Targets: []string{"c1"}, Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Delivered)
	assert.Zero(t, res.Failed)
	assert.NotEmpty(t, res.MessageID)
	assert.Equal(t, 1, a.sender.count())
	assert.Zero(t, b.sender.count())
}

func TestMulticastDeliversToAllNamed(t *testing.T) {
	r := New(testConfig())
	a := addEndpoint(t, r, "c1", nil)
	b := addEndpoint(t, r, "c2", nil)
	c := addEndpoint(t, r, "c3", nil)

	res, err := r.Route(context.Background(), &Message{
		Kind: Multicast, Targets: []string{"c1", "c3"}, Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, a.sender.count())
	assert.Zero(t, b.sender.count())
	assert.Equal(t, 1, c.sender.count())
}

func TestBroadcastSkipsExcludedAndOffline(t *testing.T) {
	r := New(testConfig())
	a := addEndpoint(t, r, "c1", nil)
	b := addEndpoint(t, r, "c2", nil)
	off := addEndpoint(t, r, "c3", nil)
	off.presence.mu.Lock()
	off.presence.online = false
	off.presence.mu.Unlock()

	res, err := r.Route(context.Background(), &Message{
		Kind: Broadcast, Exclude: []string{"c2"}, Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, a.sender.count())
	assert.Zero(t, b.sender.count())
	assert.Zero(t, off.sender.count())
}

func TestRoomAreaRoleSelection(t *testing.T) {
	r := New(testConfig())
	inRoom := addEndpoint(t, r, "c1", map[string]string{"room": "lobby", "role": "player"})
	alsoIn := addEndpoint(t, r, "c2", map[string]string{"room": "lobby", "role": "admin"})
	outside := addEndpoint(t, r, "c3", map[string]string{"room": "arena", "area": "north"})

	res, err := r.Route(context.Background(), &Message{
		Kind: Room, Target: "lobby", Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	assert.Zero(t, outside.sender.count())

	res, err = r.Route(context.Background(), &Message{
		Kind: Area, Target: "north", Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, outside.sender.count())

	res, err = r.Route(context.Background(), &Message{
		Kind: Role, Target: "admin", Exclude: []string{"c1"}, Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 2, alsoIn.sender.count())
	assert.Equal(t, 1, inRoom.sender.count())
}

func TestValidationRejections(t *testing.T) {
	r := New(testConfig())
	addEndpoint(t, r, "c1", nil)

	cases := []struct {
		name string
		msg  *Message
	}{
		{"hop budget", &Message{Kind: Broadcast, Payload: payload(), Hops: 3, MaxHops: 3}},
		{"deadline", &Message{Kind: Broadcast, Payload: payload(), Deadline: time.Now().Add(-time.Second)}},
		{"empty payload", &Message{Kind: Broadcast}},
		{"no targets", &Message{Kind: Unicast, Payload: payload()}},
		{"no target id", &Message{Kind: Room, Payload: payload()}},
		{"unknown kind", &Message{Kind: TargetKind("carrier-pigeon"), Payload: payload()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Route(context.Background(), tc.msg)
			assert.ErrorIs(t, err, ErrRouteInvalid)
			require.NotNil(t, res)
			assert.True(t, res.Rejected)
			assert.NotEmpty(t, res.Reason)
			assert.Equal(t, 1, res.Failed)
		})
	}

	st := r.Stats()
	assert.Equal(t, int64(len(cases)), st.Rejected)
}

func TestAckCollection(t *testing.T) {
	r := New(testConfig())
	addEndpoint(t, r, "good", nil)
	bad := addEndpoint(t, r, "bad", nil)
	bad.sender.err = errors.New("connection reset")

	res, err := r.Route(context.Background(), &Message{
		ID: "m1", Kind: Broadcast, Payload: payload(), RequireAck: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Acks, 2)

	byReceiver := map[string]Ack{}
	for _, a := range res.Acks {
		assert.Equal(t, "m1", a.MessageID)
		assert.False(t, a.ProcessedAt.IsZero())
		byReceiver[a.ReceiverID] = a
	}
	assert.True(t, byReceiver["good"].OK)
	assert.False(t, byReceiver["bad"].OK)
}

func TestRouteBatchBoundedConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentMessages = 2
	r := New(cfg)

	var inFlight, peak int64
	slow := &fakeSender{}
	pres := &fakePresence{online: true}
	_, err := r.AddReceiver("c1", senderFunc(func(ctx context.Context, frame []byte) error {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return slow.Send(ctx, frame)
	}), pres)
	require.NoError(t, err)

	msgs := make([]*Message, 6)
	for i := range msgs {
		msgs[i] = &Message{Kind: Broadcast, Payload: payload(), Priority: i}
	}
	results := r.RouteBatch(context.Background(), msgs)

	require.Len(t, results, 6)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 1, res.Delivered)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Equal(t, 6, slow.count())
}

type senderFunc func(ctx context.Context, frame []byte) error

func (f senderFunc) Send(ctx context.Context, frame []byte) error { return f(ctx, frame) }

func TestDeliveryTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.DeliveryTimeout = 10 * time.Millisecond
	r := New(cfg)

	ep := addEndpoint(t, r, "slow", nil)
	ep.sender.delay = 200 * time.Millisecond

	res, err := r.Route(context.Background(), &Message{Kind: Broadcast, Payload: payload()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Delivered)
}

func TestReceiverAdmission(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReceivers = 1
	r := New(cfg)

	addEndpoint(t, r, "c1", nil)

	_, err := r.AddReceiver("c1", &fakeSender{}, &fakePresence{online: true})
	assert.ErrorIs(t, err, ErrDuplicateReceiver)

	_, err = r.AddReceiver("c2", &fakeSender{}, &fakePresence{online: true})
	assert.ErrorIs(t, err, ErrPoolFull)

	assert.True(t, r.RemoveReceiver("c1"))
	assert.False(t, r.RemoveReceiver("c1"))
}

func TestCleanupStale(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReceiverAge = 10 * time.Millisecond
	r := New(cfg)

	gone := addEndpoint(t, r, "gone", nil)
	gone.presence.mu.Lock()
	gone.presence.online = false
	gone.presence.mu.Unlock()
	addEndpoint(t, r, "alive", nil)

	// Too young to sweep.
	assert.Zero(t, r.CleanupStale())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, 1, r.CleanupStale())
	assert.Equal(t, 1, r.ReceiverCount())
}

func TestStatsTracking(t *testing.T) {
	r := New(testConfig())
	for i := 0; i < 3; i++ {
		addEndpoint(t, r, fmt.Sprintf("c%d", i), map[string]string{"room": "lobby"})
	}

	_, err := r.Route(context.Background(), &Message{Kind: Broadcast, Payload: payload()})
	require.NoError(t, err)
	_, err = r.Route(context.Background(), &Message{Kind: Room, Target: "lobby", Payload: payload()})
	require.NoError(t, err)
	_, _ = r.Route(context.Background(), &Message{Kind: Unicast, Payload: payload()})

	st := r.Stats()
	assert.Equal(t, int64(3), st.Processed)
	assert.Equal(t, int64(2), st.Succeeded)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.ByKind[string(Broadcast)])
	assert.Equal(t, int64(1), st.ByKind[string(Room)])
	assert.Equal(t, 3, st.Receivers)
	assert.GreaterOrEqual(t, st.AvgLatencyMs, 0.0)
}
