package notify

import (
	"context"
	"fmt"
	"strings"

	slacklib "github.com/slack-go/slack"
)

// SlackAPI is the subset of the Slack client used by the sink.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackSink posts security alerts to a Slack channel.
type SlackSink struct {
	api     SlackAPI
	channel string
}

// NewSlackSink creates a sink posting to the given channel.
func NewSlackSink(api SlackAPI, channel string) *SlackSink {
	return &SlackSink{api: api, channel: channel}
}

// Send posts the alert as a single message. Field order is stable.
func (s *SlackSink) Send(ctx context.Context, alert Alert) error {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s*: %s\n", alert.Kind, alert.Summary)
	for _, k := range alert.SortedFields() {
		fmt.Fprintf(&b, "• %s: `%s`\n", k, alert.Fields[k])
	}
	fmt.Fprintf(&b, "_at %s_", alert.At.Format("2006-01-02 15:04:05 MST"))

	_, _, err := s.api.PostMessageContext(ctx, s.channel, slacklib.MsgOptionText(b.String(), false))
	if err != nil {
		return fmt.Errorf("notify.SlackSink.Send: %w", err)
	}
	return nil
}
