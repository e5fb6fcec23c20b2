package slack

import (
	"fmt"
	"strings"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/costtrail/internal/messenger"
)

func severityIcon(severity string) string {
	switch severity {
	case "critical":
		return ":rotating_light:"
	case "high":
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// FallbackText is the notification text shown by clients that cannot render blocks.
func FallbackText(alert messenger.Alert) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity), alert.Subject)
}

// BuildAlertBlocks builds Slack Block Kit blocks for an alert: a header
// section, the detail text and, when present, a fields section.
func BuildAlertBlocks(alert messenger.Alert) []slacklib.Block {
	header := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType,
			fmt.Sprintf("%s *%s*\n*Severity:* `%s`", severityIcon(alert.Severity), alert.Subject, alert.Severity),
			false, false),
		nil,
		nil,
	)
	blocks := []slacklib.Block{header}

	if alert.Detail != "" {
		blocks = append(blocks, slacklib.NewSectionBlock(
			slacklib.NewTextBlockObject(slacklib.PlainTextType, alert.Detail, false, false),
			nil,
			nil,
		))
	}

	if len(alert.Fields) > 0 {
		fields := make([]*slacklib.TextBlockObject, 0, len(alert.Fields))
		for _, f := range alert.Fields {
			fields = append(fields, slacklib.NewTextBlockObject(slacklib.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.Label, f.Value), false, false))
		}
		blocks = append(blocks, slacklib.NewSectionBlock(nil, fields, nil))
	}

	return blocks
}
