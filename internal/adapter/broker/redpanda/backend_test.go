package redpanda

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBackendWithClient(rdb, time.Hour), mr
}

func TestBackendResultRoundTrip(t *testing.T) {
	t.Parallel()
	b, _ := newTestBackend(t)
	ctx := context.Background()

	in := domain.ExecutionStatus{
		State:      "SUCCESS",
		Result:     map[string]any{"rows": float64(42)},
		Successful: true,
	}
	require.NoError(t, b.WriteResult(ctx, "ex-1", in))

	out, found, err := b.ReadResult(ctx, "ex-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "SUCCESS", out.State)
	assert.True(t, out.Successful)
	assert.Equal(t, map[string]any{"rows": float64(42)}, out.Result)
}

func TestBackendReadMissingIsPending(t *testing.T) {
	t.Parallel()
	b, _ := newTestBackend(t)

	st, found, err := b.ReadResult(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "PENDING", st.State)
}

func TestBackendResultTTL(t *testing.T) {
	t.Parallel()
	b, mr := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.WriteResult(ctx, "ex-ttl", domain.ExecutionStatus{State: "SUCCESS"}))
	mr.FastForward(2 * time.Hour)

	_, found, err := b.ReadResult(ctx, "ex-ttl")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBackendRevocation(t *testing.T) {
	t.Parallel()
	b, _ := newTestBackend(t)
	ctx := context.Background()

	revoked, err := b.IsRevoked(ctx, "ex-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, b.MarkRevoked(ctx, "ex-2"))
	revoked, err = b.IsRevoked(ctx, "ex-2")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestBackendWorkers(t *testing.T) {
	t.Parallel()
	b, mr := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Heartbeat(ctx, "host-a1b2", []string{"noop", "health_check"}, 45*time.Second))
	require.NoError(t, b.Heartbeat(ctx, "host-c3d4", []string{"noop"}, 45*time.Second))

	workers, err := b.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)

	ids := []string{workers[0].ID, workers[1].ID}
	assert.ElementsMatch(t, []string{"host-a1b2", "host-c3d4"}, ids)

	// An expired heartbeat key drops the worker from the listing.
	mr.FastForward(time.Minute)
	workers, err = b.Workers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers)
}

func TestBackendPing(t *testing.T) {
	t.Parallel()
	b, mr := newTestBackend(t)
	require.NoError(t, b.Ping(context.Background()))

	mr.Close()
	assert.Error(t, b.Ping(context.Background()))
}
