package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/switchboardhq/switchboard/internal/notify"
)

type mockSession struct {
	channel string
	embed   *discordgo.MessageEmbed
	err     error
	closed  bool
}

func (m *mockSession) Open() error  { return nil }
func (m *mockSession) Close() error { m.closed = true; return nil }

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.channel = channelID
	m.embed = embed
	return nil, m.err
}

func TestPost(t *testing.T) {
	ms := &mockSession{}
	n := &Notifier{session: ms, channelID: "987"}
	ev := notify.Event{TaskID: 7, Title: "Summarize the meeting", Status: "FAILED", Error: "model timeout"}
	if err := n.Post(context.Background(), ev); err != nil {
		t.Fatalf("post: %v", err)
	}
	if ms.channel != "987" {
		t.Errorf("channel = %s", ms.channel)
	}
	if ms.embed == nil || ms.embed.Description != "Summarize the meeting" {
		t.Errorf("embed = %+v", ms.embed)
	}
	// The error field rides along when set.
	last := ms.embed.Fields[len(ms.embed.Fields)-1]
	if last.Name != "Error" || last.Value != "model timeout" {
		t.Errorf("last field = %+v", last)
	}
}

func TestPostError(t *testing.T) {
	ms := &mockSession{err: errors.New("missing access")}
	n := &Notifier{session: ms, channelID: "987"}
	if err := n.Post(context.Background(), notify.Event{TaskID: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestCloseClosesSession(t *testing.T) {
	ms := &mockSession{}
	n := &Notifier{session: ms, channelID: "987"}
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ms.closed {
		t.Error("session not closed")
	}
}
