package telemetry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, MonitorRedis(r))

	ctx := context.Background()
	require.NoError(t, r.Set(ctx, "k", "v", 0).Err())

	got, err := r.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = r.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil, "hooks pass misses through")

	cmds, err := r.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, "n")
		p.Incr(ctx, "n")
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, cmds, 2)
}
