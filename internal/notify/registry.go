package notify

import (
	"maps"
	"slices"

	"github.com/gosuda/costtrail/internal/messenger"
)

// Registry maps chat platforms to the messengers that deliver integrity and
// variance escalations. It satisfies MessengerRegistry.
type Registry struct {
	messengers map[string]messenger.Messenger
}

// NewRegistry registers each messenger under its own platform name.
func NewRegistry(ms ...messenger.Messenger) *Registry {
	r := &Registry{messengers: make(map[string]messenger.Messenger, len(ms))}
	for _, m := range ms {
		r.Register(m)
	}
	return r
}

// Register adds m under m.Platform(). A later messenger for the same
// platform wins.
func (r *Registry) Register(m messenger.Messenger) {
	r.messengers[m.Platform()] = m
}

func (r *Registry) Get(platform string) (messenger.Messenger, bool) {
	m, ok := r.messengers[platform]
	return m, ok
}

// Platforms lists the platforms escalations can reach, sorted.
func (r *Registry) Platforms() []string {
	return slices.Sorted(maps.Keys(r.messengers))
}
