package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay(t *testing.T) {
	t.Parallel()

	t.Run("forwards payloads until source closes", func(t *testing.T) {
		t.Parallel()

		in := make(chan *redis.Message, 2)
		out := make(chan []byte, 2)
		in <- &redis.Message{Channel: "project:a:b", Payload: `{"type":"breakdown_created"}`}
		in <- &redis.Message{Channel: "project:a:b", Payload: `{"type":"breakdown_moved"}`}
		close(in)

		relay(context.Background(), "project:a:b", in, out)

		var got []string
		for msg := range out {
			got = append(got, string(msg))
		}
		assert.Equal(t, []string{`{"type":"breakdown_created"}`, `{"type":"breakdown_moved"}`}, got)
	})

	t.Run("lagging subscriber drops events", func(t *testing.T) {
		t.Parallel()

		in := make(chan *redis.Message, 3)
		out := make(chan []byte, 1)
		for _, p := range []string{"first", "second", "third"} {
			in <- &redis.Message{Payload: p}
		}
		close(in)

		relay(context.Background(), "tenant:a", in, out)

		var got []string
		for msg := range out {
			got = append(got, string(msg))
		}
		assert.Equal(t, []string{"first"}, got)
	})

	t.Run("context cancel closes output", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		in := make(chan *redis.Message)
		out := make(chan []byte, 1)
		done := make(chan struct{})
		go func() {
			relay(ctx, "tenant:a", in, out)
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			require.FailNow(t, "relay did not stop after cancel")
		}
		_, ok := <-out
		assert.False(t, ok)
	})
}
