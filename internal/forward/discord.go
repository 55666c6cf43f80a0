package forward

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor is the part of *discordgo.Session the sink uses.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts transcript lines to a Discord channel webhook.
type DiscordSink struct {
	WebhookID string
	Token     string
	Username  string
	exec      webhookExecutor
}

// NewDiscordSink returns a sink executing the webhook id/token. Webhook
// execution needs no bot token.
func NewDiscordSink(webhookID, token string) (*DiscordSink, error) {
	if webhookID == "" || token == "" {
		return nil, fmt.Errorf("forward: discord webhook id and token are required")
	}
	dg, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("forward: discordgo.New: %w", err)
	}
	return &DiscordSink{WebhookID: webhookID, Token: token, Username: "Astra Live", exec: dg}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Send(ctx context.Context, r Record) error {
	params := &discordgo.WebhookParams{
		Username: s.Username,
		Content:  fmt.Sprintf("**%s**: %s", speakerLabel(r.Speaker), r.Text),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}
	_, err := s.exec.WebhookExecute(s.WebhookID, s.Token, false, params, discordgo.WithContext(ctx))
	return err
}

func speakerLabel(speaker string) string {
	if speaker == "user" {
		return "YOU"
	}
	return "ASTRA"
}
