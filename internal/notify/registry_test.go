package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/notify"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("register and get", func(t *testing.T) {
		t.Parallel()

		reg := notify.NewRegistry()
		msg := &mockMessenger{platform: "slack"}
		reg.Register(msg)

		got, ok := reg.Get("slack")
		require.True(t, ok)
		assert.Same(t, msg, got)
	})

	t.Run("constructor registers", func(t *testing.T) {
		t.Parallel()

		msg := &mockMessenger{platform: "slack"}
		reg := notify.NewRegistry(msg)

		got, ok := reg.Get("slack")
		require.True(t, ok)
		assert.Same(t, msg, got)
	})

	t.Run("get unregistered returns false", func(t *testing.T) {
		t.Parallel()

		reg := notify.NewRegistry()

		_, ok := reg.Get("unknown")
		assert.False(t, ok)
	})

	t.Run("platforms are sorted", func(t *testing.T) {
		t.Parallel()

		reg := notify.NewRegistry(&mockMessenger{platform: "slack"}, &mockMessenger{platform: "discord"})
		assert.Equal(t, []string{"discord", "slack"}, reg.Platforms())
		assert.Empty(t, notify.NewRegistry().Platforms())
	})

	t.Run("register overwrites previous", func(t *testing.T) {
		t.Parallel()

		reg := notify.NewRegistry()
		msg1 := &mockMessenger{platform: "slack"}
		msg2 := &mockMessenger{platform: "slack"}

		reg.Register(msg1)
		reg.Register(msg2)

		got, ok := reg.Get("slack")
		require.True(t, ok)
		assert.Same(t, msg2, got)
	})
}
