// Package redis relays live feed events between API instances over Redis
// pub/sub.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// feedBuffer is how many events a websocket subscriber may lag behind before
// further events are dropped for it.
const feedBuffer = 64

// PubSub carries project and tenant feed events between API instances. It
// satisfies feed.Publisher and ws.PubSub, and behaves like the in-process
// broker: a slow subscriber loses events instead of stalling the relay.
type PubSub struct {
	client *redis.Client
}

// New connects to the broker and verifies it with a ping.
func New(ctx context.Context, addr, password string, db int) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &PubSub{client: client}, nil
}

// Ping backs the /healthz broker check.
func (ps *PubSub) Ping(ctx context.Context) error {
	if err := ps.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Ping: %w", err)
	}
	return nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

// Publish sends one serialized feed event to every instance subscribed to
// channel.
func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// Subscribe follows a feed channel until ctx ends or cleanup is called.
// The returned channel is closed in either case.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, feedBuffer)
	go relay(ctx, channel, sub.Channel(), out)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { _ = sub.Close() })
	}
	return out, cleanup, nil
}

// relay copies payloads from in to out and closes out when in closes or ctx
// ends. Events that do not fit in out's buffer are dropped.
func relay(ctx context.Context, channel string, in <-chan *redis.Message, out chan<- []byte) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				log.Debug().Str("channel", channel).Msg("redis.PubSub: subscriber lagging, event dropped")
			}
		}
	}
}
