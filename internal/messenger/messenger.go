package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// Field is a labelled value shown alongside an alert.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Alert is an operator-facing escalation: audit write failures, broken hash
// chains and critical budget deviations.
type Alert struct {
	Severity string  `json:"severity"` // risk level, e.g. "critical"
	Subject  string  `json:"subject"`
	Detail   string  `json:"detail"`
	Fields   []Field `json:"fields,omitempty"`
}

// Messenger abstracts communication with a chat platform.
type Messenger interface {
	// SendAlert posts a formatted alert to a channel and returns its platform message ID.
	SendAlert(ctx context.Context, channelID string, alert Alert) (MessageID, error)

	// Reply posts a threaded follow-up under an earlier message.
	Reply(ctx context.Context, channelID string, parentID MessageID, text string) (MessageID, error)

	// Platform returns the messenger platform identifier (e.g. "slack").
	Platform() string
}
