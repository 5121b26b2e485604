package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0
	return cfg
}

func TestRegisterAndBind(t *testing.T) {
	r := New(testConfig())

	s, err := r.Register("c1", map[string]string{"client": "ios"})
	require.NoError(t, err)
	assert.Equal(t, "c1", s.ConnID)
	assert.False(t, s.Online())
	assert.Empty(t, s.Principal())
	assert.Equal(t, "ios", s.Meta("client"))
	assert.Equal(t, 1, r.Count())

	_, err = r.Bind("c1", "player-9")
	require.NoError(t, err)
	assert.True(t, s.Online())
	assert.Equal(t, "player-9", s.Principal())

	byP := r.ByPrincipal("player-9")
	require.Len(t, byP, 1)
	assert.Same(t, s, byP[0])
}

func TestRegisterDuplicateConnection(t *testing.T) {
	r := New(testConfig())

	_, err := r.Register("c1", nil)
	require.NoError(t, err)
	_, err = r.Register("c1", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBindValidation(t *testing.T) {
	r := New(testConfig())

	_, err := r.Bind("ghost", "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Register("c1", nil)
	require.NoError(t, err)
	_, err = r.Bind("c1", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.Bind("c1", "p1")
	require.NoError(t, err)
	// Same principal again is fine; a different one is not.
	_, err = r.Bind("c1", "p1")
	require.NoError(t, err)
	_, err = r.Bind("c1", "p2")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGroupsTrackOnlineMembers(t *testing.T) {
	r := New(testConfig())

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("c%d", i)
		_, err := r.Register(id, nil)
		require.NoError(t, err)
		_, err = r.Bind(id, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		require.NoError(t, r.JoinGroup(id, ScopeRoom, "lobby"))
	}
	// An unauthenticated (offline) member joins but is not listed.
	_, err := r.Register("c4", nil)
	require.NoError(t, err)
	require.NoError(t, r.JoinGroup("c4", ScopeRoom, "lobby"))

	members := r.InGroup(GroupKey(ScopeRoom, "lobby"))
	assert.Len(t, members, 3)

	// Membership also lands in session metadata for target selection.
	s, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "lobby", s.Meta("room"))
	assert.Equal(t, []string{"room:lobby"}, s.Groups())

	require.NoError(t, r.LeaveGroup("c1", ScopeRoom, "lobby"))
	assert.Len(t, r.InGroup(GroupKey(ScopeRoom, "lobby")), 2)
	assert.Empty(t, s.Meta("room"))
}

func TestUnregisterRemovesEverywhere(t *testing.T) {
	r := New(testConfig())

	_, err := r.Register("c1", nil)
	require.NoError(t, err)
	_, err = r.Bind("c1", "p1")
	require.NoError(t, err)
	require.NoError(t, r.JoinGroup("c1", ScopeRoom, "lobby"))
	require.NoError(t, r.JoinGroup("c1", ScopeArea, "north"))

	assert.True(t, r.Unregister("c1", "client quit"))
	assert.Zero(t, r.Count())
	assert.Empty(t, r.ByPrincipal("p1"))
	assert.Empty(t, r.InGroup(GroupKey(ScopeRoom, "lobby")))
	assert.Empty(t, r.InGroup(GroupKey(ScopeArea, "north")))

	// Idempotent.
	assert.False(t, r.Unregister("c1", "again"))
}

func TestPoolCapacityWithCleanup(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	cfg.IdleTimeout = 10 * time.Millisecond
	r := New(cfg)

	_, err := r.Register("c1", nil)
	require.NoError(t, err)
	_, err = r.Register("c2", nil)
	require.NoError(t, err)

	// Pool full, nothing expired yet.
	_, err = r.Register("c3", nil)
	assert.ErrorIs(t, err, ErrPoolFull)

	// Once the residents go idle, registration reclaims their slots.
	time.Sleep(15 * time.Millisecond)
	s, err := r.Register("c3", nil)
	require.NoError(t, err)
	assert.Equal(t, "c3", s.ConnID)
	assert.Equal(t, 1, r.Count())
}

func TestTouchAndCleanupExpired(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	r := New(cfg)

	_, err := r.Register("stale", nil)
	require.NoError(t, err)
	_, err = r.Register("fresh", nil)
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	assert.True(t, r.Touch("fresh"))
	assert.False(t, r.Touch("ghost"))
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, r.CleanupExpired())
	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)

	// Idempotent.
	assert.Zero(t, r.CleanupExpired())
}

func TestCleanupWorker(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	cfg.CleanupInterval = 5 * time.Millisecond
	r := New(cfg)

	_, err := r.Register("c1", nil)
	require.NoError(t, err)

	r.Start(context.Background())
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)
}
