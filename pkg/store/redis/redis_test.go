package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoValue(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:0\r\n"

	assert.Equal(t, "1048576", InfoValue(info, "used_memory"))
	assert.Equal(t, "0", InfoValue(info, "maxmemory"))
	assert.Equal(t, "", InfoValue(info, "not_there"))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(context.Canceled))
	assert.True(t, isPermanent(context.DeadlineExceeded))
	assert.False(t, isPermanent(errors.New("connection refused")))
}

func TestWithDBClonesConfig(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	clone := c.WithDB(3)
	defer clone.Close()

	assert.Equal(t, 3, clone.cfg.DB)
	assert.Equal(t, c.cfg.Addr, clone.cfg.Addr)
	// Availability state is shared so upper layers see one signal.
	assert.Same(t, c.state, clone.state)
}

func TestStateTrackerEdges(t *testing.T) {
	tr := newStateTracker()

	var events []bool
	tr.setHandler(func(available bool, _ error) {
		events = append(events, available)
	})

	tr.markUp() // already up, no event
	tr.markDown(errors.New("boom"))
	tr.markDown(errors.New("boom again")) // debounced
	tr.markUp()

	require.Equal(t, []bool{false, true}, events)
}

func TestEmptyBatchesNoop(t *testing.T) {
	c := New(DefaultConfig())
	defer c.Close()

	// No keys means no I/O: these must succeed without a server.
	vals, err := c.MGet(context.Background())
	require.NoError(t, err)
	assert.Nil(t, vals)

	require.NoError(t, c.SetBatch(context.Background(), nil))

	errs, err := c.ExecBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, errs)

	n, err := c.Del(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.HSet(context.Background(), "k", nil))
	require.NoError(t, c.HDel(context.Background(), "k"))
}
