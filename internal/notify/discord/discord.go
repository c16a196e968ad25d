// Package discord implements the notify.Notifier for Discord.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/switchboardhq/switchboard/internal/notify"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts task events to one Discord channel.
type Notifier struct {
	session   session
	channelID string
}

// New builds a Notifier from a bot token and target channel, opening the
// gateway session immediately.
func New(botToken, channelID string) (*Notifier, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	return &Notifier{session: s, channelID: channelID}, nil
}

// Post implements notify.Notifier.
func (n *Notifier) Post(_ context.Context, ev notify.Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Task %d %s", ev.TaskID, ev.Status),
		Description: ev.Title,
		Color:       statusColor(ev.Status),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: orDash(ev.UserName), Inline: true},
			{Name: "Status", Value: ev.Status, Inline: true},
		},
	}
	if ev.Error != "" {
		embed.Fields = append(embed.Fields,
			&discordgo.MessageEmbedField{Name: "Error", Value: ev.Error})
	}
	if _, err := n.session.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
		return fmt.Errorf("discord: post task %d: %w", ev.TaskID, err)
	}
	return nil
}

// Close implements notify.Notifier.
func (n *Notifier) Close() error { return n.session.Close() }

func statusColor(status string) int {
	switch status {
	case "COMPLETED":
		return 0x36a64f
	case "FAILED":
		return 0xe01e5a
	default:
		return 0xecb22e
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
