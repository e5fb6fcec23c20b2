package slack_test

import (
	"testing"

	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/messenger"
	ctslack "github.com/gosuda/costtrail/internal/messenger/slack"
)

func TestBuildAlertBlocks(t *testing.T) {
	t.Parallel()

	t.Run("full alert has header, detail and fields", func(t *testing.T) {
		t.Parallel()

		blocks := ctslack.BuildAlertBlocks(messenger.Alert{
			Severity: "critical",
			Subject:  "Budget overrun on 1.2 Steel",
			Detail:   "60.00% over plan",
			Fields: []messenger.Field{
				{Label: "Planned", Value: "100.00"},
				{Label: "Actual", Value: "160.00"},
			},
		})

		require.Len(t, blocks, 3)

		header, ok := blocks[0].(*slacklib.SectionBlock)
		require.True(t, ok, "first block should be a SectionBlock")
		require.NotNil(t, header.Text)
		assert.Equal(t, slacklib.MarkdownType, header.Text.Type)
		assert.Contains(t, header.Text.Text, ":rotating_light:")
		assert.Contains(t, header.Text.Text, "Budget overrun on 1.2 Steel")

		detail, ok := blocks[1].(*slacklib.SectionBlock)
		require.True(t, ok)
		assert.Equal(t, "60.00% over plan", detail.Text.Text)

		fields, ok := blocks[2].(*slacklib.SectionBlock)
		require.True(t, ok)
		assert.Nil(t, fields.Text)
		require.Len(t, fields.Fields, 2)
		assert.Equal(t, "*Actual*\n160.00", fields.Fields[1].Text)
	})

	t.Run("subject only", func(t *testing.T) {
		t.Parallel()

		blocks := ctslack.BuildAlertBlocks(messenger.Alert{Severity: "medium", Subject: "Import finished"})

		require.Len(t, blocks, 1)
		header, ok := blocks[0].(*slacklib.SectionBlock)
		require.True(t, ok)
		assert.Contains(t, header.Text.Text, ":information_source:")
		assert.Contains(t, header.Text.Text, "`medium`")
	})
}

func TestFallbackText(t *testing.T) {
	t.Parallel()

	got := ctslack.FallbackText(messenger.Alert{Severity: "high", Subject: "Audit write failed"})
	assert.Equal(t, "[HIGH] Audit write failed", got)
}
