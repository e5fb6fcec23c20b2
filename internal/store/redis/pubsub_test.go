package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/gosuda/costtrail/internal/store/redis"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("unreachable server fails ping", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		// Port 1 is reserved and refuses connections on loopback.
		ps, err := redisstore.New(ctx, "127.0.0.1:1", "", 0)

		require.Error(t, err)
		assert.Nil(t, ps)
		assert.Contains(t, err.Error(), "redis.New: ping")
	})

	t.Run("cancelled context fails fast", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ps, err := redisstore.New(ctx, "127.0.0.1:1", "", 0)

		require.Error(t, err)
		assert.Nil(t, ps)
	})
}
