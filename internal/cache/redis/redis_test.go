package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb)
}

func TestLockIsExclusive(t *testing.T) {
	lm := NewLockManager(newTestClient(t))
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "agent:bootstrap:arbitrage_hunter", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "agent:bootstrap:arbitrage_hunter", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "agent:bootstrap:arbitrage_hunter", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(newTestClient(t))
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStreamRevRangeNewestFirst(t *testing.T) {
	sb := NewSignalBus(newTestClient(t), 0)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, sb.StreamAppend(ctx, "sentinel:events", []byte(p)))
	}

	msgs, err := sb.StreamRevRange(ctx, "sentinel:events", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "c", string(msgs[0].Payload))
	assert.Equal(t, "b", string(msgs[1].Payload))

	none, err := sb.StreamRevRange(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPatternSubscribe(t *testing.T) {
	sb := NewSignalBus(newTestClient(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sb.Subscribe(ctx, "sentinel:*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, "sentinel:trade:executed", []byte(`{"event":"trade:executed"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"event":"trade:executed"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
