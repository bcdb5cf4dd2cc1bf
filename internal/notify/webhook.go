package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Chat webhooks: Discord, Slack, Mattermost and Rocket.Chat.

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *DiscordConfig) validate() error {
	if c.WebhookURL == "" {
		return missing("webhook_url")
	}
	return nil
}

type Discord struct {
	cfg  DiscordConfig
	http httpSender
	now  func() time.Time
}

func newDiscord(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg DiscordConfig
	if err := decodeConfig("discord", raw, &cfg); err != nil {
		return nil, err
	}
	return &Discord{cfg: cfg, http: newHTTPSender("Discord", opts), now: opts.Now}, nil
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Footer      map[string]any `json:"footer"`
	Fields      []discordField `json:"fields,omitempty"`
}

// Send posts one embed. Discord caps embeds at 25 fields of 1024 chars.
func (d *Discord) Send(ctx context.Context, ev Event) error {
	embed := discordEmbed{
		Title:       ev.Title,
		Description: ev.Message,
		Color:       ev.Severity.Color(),
		Timestamp:   d.now().Format(time.RFC3339),
		Footer:      map[string]any{"text": AppName},
	}
	for _, f := range fields(ev.Metadata, 1024) {
		if len(embed.Fields) == 25 {
			break
		}
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	_, _, err := d.http.postJSON(ctx, d.cfg.WebhookURL, map[string]any{
		"username": AppName,
		"embeds":   []discordEmbed{embed},
	}, nil)
	return err
}

// slackAttachment is shared by Slack, Mattermost and Rocket.Chat.
type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func attachment(ev Event) slackAttachment {
	a := slackAttachment{Color: ev.Severity.HexColor(), Title: ev.Title, Text: ev.Message}
	for _, f := range fields(ev.Metadata, 2000) {
		a.Fields = append(a.Fields, slackField{Title: f.Name, Value: f.Value, Short: true})
	}
	return a
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *SlackConfig) validate() error {
	if c.WebhookURL == "" {
		return missing("webhook_url")
	}
	return nil
}

type Slack struct {
	cfg  SlackConfig
	http httpSender
	now  func() time.Time
}

func newSlack(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg SlackConfig
	if err := decodeConfig("slack", raw, &cfg); err != nil {
		return nil, err
	}
	return &Slack{cfg: cfg, http: newHTTPSender("Slack", opts), now: opts.Now}, nil
}

func (s *Slack) Send(ctx context.Context, ev Event) error {
	a := attachment(ev)
	a.Footer = AppName
	a.TS = s.now().Unix()
	status, _, err := s.http.postJSON(ctx, s.cfg.WebhookURL, map[string]any{
		"username":    AppName,
		"attachments": []slackAttachment{a},
	}, nil)
	if err != nil {
		return err
	}
	return s.http.expectStatus(status, http.StatusOK)
}

type MattermostConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
	IconURL    string `json:"icon_url,omitempty"`
}

func (c *MattermostConfig) validate() error {
	if c.WebhookURL == "" {
		return missing("webhook_url")
	}
	if c.Username == "" {
		c.Username = AppName
	}
	return nil
}

type Mattermost struct {
	cfg  MattermostConfig
	http httpSender
}

func newMattermost(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg MattermostConfig
	if err := decodeConfig("mattermost", raw, &cfg); err != nil {
		return nil, err
	}
	return &Mattermost{cfg: cfg, http: newHTTPSender("Mattermost", opts)}, nil
}

func (m *Mattermost) Send(ctx context.Context, ev Event) error {
	payload := map[string]any{
		"username": m.cfg.Username,
		"text":     fmt.Sprintf("**%s**\n%s", ev.Title, ev.Message),
		"props":    map[string]any{"attachments": []slackAttachment{attachment(ev)}},
	}
	if m.cfg.Channel != "" {
		payload["channel"] = m.cfg.Channel
	}
	if m.cfg.IconURL != "" {
		payload["icon_url"] = m.cfg.IconURL
	}
	_, _, err := m.http.postJSON(ctx, m.cfg.WebhookURL, payload, nil)
	return err
}

type RocketChatConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
	Emoji      string `json:"emoji,omitempty"`
}

func (c *RocketChatConfig) validate() error {
	if c.WebhookURL == "" {
		return missing("webhook_url")
	}
	if c.Username == "" {
		c.Username = AppName
	}
	if c.Emoji == "" {
		c.Emoji = ":robot_face:"
	}
	return nil
}

type RocketChat struct {
	cfg  RocketChatConfig
	http httpSender
}

func newRocketChat(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg RocketChatConfig
	if err := decodeConfig("rocketchat", raw, &cfg); err != nil {
		return nil, err
	}
	return &RocketChat{cfg: cfg, http: newHTTPSender("Rocket.Chat", opts)}, nil
}

func (r *RocketChat) Send(ctx context.Context, ev Event) error {
	_, _, err := r.http.postJSON(ctx, r.cfg.WebhookURL, map[string]any{
		"username":    r.cfg.Username,
		"emoji":       r.cfg.Emoji,
		"text":        fmt.Sprintf("**%s**\n%s", ev.Title, ev.Message),
		"attachments": []slackAttachment{attachment(ev)},
	}, nil)
	return err
}
