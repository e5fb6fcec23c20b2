package memory

import (
	"context"
	"sync"
)

// PubSub is an in-process fan-out broker with the same shape as the Redis
// publisher. Slow subscribers drop messages instead of blocking Publish.
type PubSub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan []byte
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string]map[int]chan []byte)}
}

func (ps *PubSub) Publish(_ context.Context, channel string, payload []byte) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener on channel. The returned cleanup func
// unsubscribes and closes the message channel; cancelling ctx does the same.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan []byte, 64)

	ps.mu.Lock()
	id := ps.nextID
	ps.nextID++
	if ps.subs[channel] == nil {
		ps.subs[channel] = make(map[int]chan []byte)
	}
	ps.subs[channel][id] = ch
	ps.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			ps.mu.Lock()
			delete(ps.subs[channel], id)
			if len(ps.subs[channel]) == 0 {
				delete(ps.subs, channel)
			}
			ps.mu.Unlock()
			close(ch)
		})
	}

	stop := context.AfterFunc(ctx, cleanup)

	return ch, func() {
		stop()
		cleanup()
	}, nil
}

// Subscribers returns the number of active listeners on channel.
func (ps *PubSub) Subscribers(channel string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[channel])
}
