// Package slack implements the notify.Notifier for Slack.
package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"github.com/switchboardhq/switchboard/internal/notify"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts task events to one Slack channel.
type Notifier struct {
	client    slackClient
	channelID string
}

// New builds a Notifier from a bot token and target channel.
func New(botToken, channelID string) *Notifier {
	return &Notifier{
		client:    slackapi.New(botToken),
		channelID: channelID,
	}
}

// Post implements notify.Notifier.
func (n *Notifier) Post(ctx context.Context, ev notify.Event) error {
	attachment := slackapi.Attachment{
		Color: statusColor(ev.Status),
		Title: fmt.Sprintf("Task %d %s", ev.TaskID, ev.Status),
		Text:  ev.Title,
		Fields: []slackapi.AttachmentField{
			{Title: "User", Value: ev.UserName, Short: true},
			{Title: "Status", Value: ev.Status, Short: true},
		},
	}
	if ev.Error != "" {
		attachment.Fields = append(attachment.Fields,
			slackapi.AttachmentField{Title: "Error", Value: ev.Error})
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack: post task %d: %w", ev.TaskID, err)
	}
	return nil
}

// Close implements notify.Notifier.
func (n *Notifier) Close() error { return nil }

func statusColor(status string) string {
	switch status {
	case "COMPLETED":
		return "#36a64f"
	case "FAILED":
		return "#e01e5a"
	default:
		return "#ecb22e"
	}
}
