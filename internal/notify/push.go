package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Push services and chat APIs that are not plain webhooks.

var severityEmoji = map[Severity]string{
	SeverityInfo:     "ℹ️",
	SeveritySuccess:  "✅",
	SeverityWarning:  "⚠️",
	SeverityError:    "❌",
	SeverityCritical: "🚨",
}

// priority maps a severity onto a service's priority scale, falling back to
// the configured value for unknown severities.
func priority(scale map[Severity]int, s Severity, fallback int) int {
	if p, ok := scale[s]; ok {
		return p
	}
	return fallback
}

func withDetails(message string, md map[string]any, header, sep string) string {
	d := details(md, sep)
	if d == "" {
		return message
	}
	return message + "\n\n" + header + d
}

// Telegram

type TelegramConfig struct {
	BotToken string     `json:"bot_token"`
	ChatID   flexString `json:"chat_id"`
	APIURL   string     `json:"api_url,omitempty"`
}

func (c *TelegramConfig) validate() error {
	if c.BotToken == "" || c.ChatID == "" {
		return missing("bot_token", "chat_id")
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.telegram.org"
	}
	return nil
}

type Telegram struct {
	cfg  TelegramConfig
	http httpSender
}

func newTelegram(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg TelegramConfig
	if err := decodeConfig("telegram", raw, &cfg); err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, http: newHTTPSender("Telegram", opts)}, nil
}

func (t *Telegram) Send(ctx context.Context, ev Event) error {
	emoji := severityEmoji[ev.Severity]
	if emoji == "" {
		emoji = severityEmoji[SeverityInfo]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", emoji, ev.Title, ev.Message)
	if fs := fields(ev.Metadata, 0); len(fs) > 0 {
		b.WriteString("\n\n*Details:*\n")
		for _, f := range fs {
			fmt.Fprintf(&b, "• %s: %s\n", f.Name, f.Value)
		}
	}
	fmt.Fprintf(&b, "\n_Sent by %s_", AppName)

	form := url.Values{}
	form.Set("chat_id", string(t.cfg.ChatID))
	form.Set("text", b.String())
	form.Set("parse_mode", "Markdown")
	form.Set("disable_web_page_preview", "true")

	target := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIURL, "/"), t.cfg.BotToken)
	_, body, err := t.http.postForm(ctx, target, form)
	if err != nil {
		return err
	}
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode Telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API error: %s", result.Description)
	}
	return nil
}

// Gotify

type GotifyConfig struct {
	ServerURL string `json:"server_url"`
	AppToken  string `json:"app_token"`
	Priority  int    `json:"priority,omitempty"`
}

func (c *GotifyConfig) validate() error {
	if c.ServerURL == "" || c.AppToken == "" {
		return missing("server_url", "app_token")
	}
	if c.Priority == 0 {
		c.Priority = 5
	}
	return nil
}

type Gotify struct {
	cfg  GotifyConfig
	http httpSender
}

func newGotify(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg GotifyConfig
	if err := decodeConfig("gotify", raw, &cfg); err != nil {
		return nil, err
	}
	return &Gotify{cfg: cfg, http: newHTTPSender("Gotify", opts)}, nil
}

var gotifyPriority = map[Severity]int{
	SeverityInfo: 5, SeveritySuccess: 4, SeverityWarning: 7, SeverityError: 9, SeverityCritical: 10,
}

func (g *Gotify) Send(ctx context.Context, ev Event) error {
	target := strings.TrimRight(g.cfg.ServerURL, "/") + "/message?token=" + url.QueryEscape(g.cfg.AppToken)
	_, _, err := g.http.postJSON(ctx, target, map[string]any{
		"title":    ev.Title,
		"message":  withDetails(ev.Message, ev.Metadata, "**Details:**\n", "\n\n"),
		"priority": priority(gotifyPriority, ev.Severity, g.cfg.Priority),
		"extras": map[string]any{
			"client::display": map[string]string{"contentType": "text/markdown"},
		},
	}, nil)
	return err
}

// Ntfy

type NtfyConfig struct {
	ServerURL string `json:"server_url,omitempty"`
	Topic     string `json:"topic"`
	Priority  int    `json:"priority,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
}

func (c *NtfyConfig) validate() error {
	if c.Topic == "" {
		return missing("topic")
	}
	if c.ServerURL == "" {
		c.ServerURL = "https://ntfy.sh"
	}
	if c.Priority == 0 {
		c.Priority = 3
	}
	return nil
}

type Ntfy struct {
	cfg  NtfyConfig
	http httpSender
}

func newNtfy(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg NtfyConfig
	if err := decodeConfig("ntfy", raw, &cfg); err != nil {
		return nil, err
	}
	return &Ntfy{cfg: cfg, http: newHTTPSender("ntfy", opts)}, nil
}

var ntfyPriority = map[Severity]int{
	SeverityInfo: 3, SeveritySuccess: 2, SeverityWarning: 4, SeverityError: 5, SeverityCritical: 5,
}

func (n *Ntfy) Send(ctx context.Context, ev Event) error {
	body := withDetails(ev.Title+"\n\n"+ev.Message, ev.Metadata, "", "\n")
	header := http.Header{}
	header.Set("Title", ev.Title)
	header.Set("Priority", strconv.Itoa(priority(ntfyPriority, ev.Severity, n.cfg.Priority)))
	header.Set("Content-Type", "text/plain; charset=utf-8")
	if n.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+n.cfg.AuthToken)
	}
	target := strings.TrimRight(n.cfg.ServerURL, "/") + "/" + url.PathEscape(n.cfg.Topic)
	_, _, err := n.http.do(ctx, http.MethodPost, target, strings.NewReader(body), header)
	return err
}

// Matrix

type MatrixConfig struct {
	Homeserver  string `json:"homeserver"`
	AccessToken string `json:"access_token"`
	RoomID      string `json:"room_id"`
}

func (c *MatrixConfig) validate() error {
	if c.Homeserver == "" || c.AccessToken == "" || c.RoomID == "" {
		return missing("homeserver", "access_token", "room_id")
	}
	return nil
}

type Matrix struct {
	cfg  MatrixConfig
	http httpSender
}

func newMatrix(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg MatrixConfig
	if err := decodeConfig("matrix", raw, &cfg); err != nil {
		return nil, err
	}
	return &Matrix{cfg: cfg, http: newHTTPSender("Matrix", opts)}, nil
}

// Send puts one m.text event. The transaction id is random so retries of a
// rate-limited send are not deduplicated away by the homeserver.
func (m *Matrix) Send(ctx context.Context, ev Event) error {
	var formatted strings.Builder
	fmt.Fprintf(&formatted, "<strong>%s</strong><br><br>%s", html.EscapeString(ev.Title), html.EscapeString(ev.Message))
	for _, f := range fields(ev.Metadata, 0) {
		fmt.Fprintf(&formatted, "<br><strong>%s:</strong> %s", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}

	target := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		strings.TrimRight(m.cfg.Homeserver, "/"), url.PathEscape(m.cfg.RoomID), uuid.NewString())
	header := http.Header{}
	header.Set("Authorization", "Bearer "+m.cfg.AccessToken)
	_, _, err := m.http.sendJSON(ctx, http.MethodPut, target, map[string]string{
		"msgtype":        "m.text",
		"body":           ev.Title + "\n\n" + ev.Message,
		"format":         "org.matrix.custom.html",
		"formatted_body": formatted.String(),
	}, header)
	return err
}

// Pushover

type PushoverConfig struct {
	APIToken string `json:"api_token"`
	UserKey  string `json:"user_key"`
	Device   string `json:"device,omitempty"`
	Priority int    `json:"priority,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

func (c *PushoverConfig) validate() error {
	if c.APIToken == "" || c.UserKey == "" {
		return missing("api_token", "user_key")
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.pushover.net/1/messages.json"
	}
	return nil
}

type Pushover struct {
	cfg  PushoverConfig
	http httpSender
}

func newPushover(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg PushoverConfig
	if err := decodeConfig("pushover", raw, &cfg); err != nil {
		return nil, err
	}
	return &Pushover{cfg: cfg, http: newHTTPSender("Pushover", opts)}, nil
}

// pushPriority is the -2..2 scale Pushover and Prowl share.
var pushPriority = map[Severity]int{
	SeverityInfo: 0, SeveritySuccess: -1, SeverityWarning: 1, SeverityError: 1, SeverityCritical: 2,
}

func (p *Pushover) Send(ctx context.Context, ev Event) error {
	form := url.Values{}
	form.Set("token", p.cfg.APIToken)
	form.Set("user", p.cfg.UserKey)
	form.Set("title", ev.Title)
	form.Set("message", withDetails(ev.Message, ev.Metadata, "", "\n"))
	form.Set("priority", strconv.Itoa(priority(pushPriority, ev.Severity, p.cfg.Priority)))
	if p.cfg.Device != "" {
		form.Set("device", p.cfg.Device)
	}
	_, body, err := p.http.postForm(ctx, p.cfg.APIURL, form)
	if err != nil {
		return err
	}
	var result struct {
		Status int      `json:"status"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode Pushover response: %w", err)
	}
	if result.Status != 1 {
		return fmt.Errorf("pushover API error: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

// Pushbullet

type PushbulletConfig struct {
	APIKey     string `json:"api_key"`
	DeviceIden string `json:"device_iden,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
}

func (c *PushbulletConfig) validate() error {
	if c.APIKey == "" {
		return missing("api_key")
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.pushbullet.com/v2/pushes"
	}
	return nil
}

type Pushbullet struct {
	cfg  PushbulletConfig
	http httpSender
}

func newPushbullet(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg PushbulletConfig
	if err := decodeConfig("pushbullet", raw, &cfg); err != nil {
		return nil, err
	}
	return &Pushbullet{cfg: cfg, http: newHTTPSender("Pushbullet", opts)}, nil
}

func (p *Pushbullet) Send(ctx context.Context, ev Event) error {
	payload := map[string]string{"type": "note", "title": ev.Title, "body": ev.Message}
	if p.cfg.DeviceIden != "" {
		payload["device_iden"] = p.cfg.DeviceIden
	}
	header := http.Header{}
	header.Set("Access-Token", p.cfg.APIKey)
	status, _, err := p.http.postJSON(ctx, p.cfg.APIURL, payload, header)
	if err != nil {
		return err
	}
	return p.http.expectStatus(status, http.StatusOK)
}

// Prowl

type ProwlConfig struct {
	APIKey      string `json:"api_key"`
	ProviderKey string `json:"provider_key,omitempty"`
	Application string `json:"application,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	APIURL      string `json:"api_url,omitempty"`
}

func (c *ProwlConfig) validate() error {
	if c.APIKey == "" {
		return missing("api_key")
	}
	if c.Application == "" {
		c.Application = AppName
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.prowlapp.com/publicapi/add"
	}
	return nil
}

type Prowl struct {
	cfg  ProwlConfig
	http httpSender
}

func newProwl(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg ProwlConfig
	if err := decodeConfig("prowl", raw, &cfg); err != nil {
		return nil, err
	}
	return &Prowl{cfg: cfg, http: newHTTPSender("Prowl", opts)}, nil
}

// Send posts to the Prowl API, which answers 200 with an XML body that carries
// its own result code.
func (p *Prowl) Send(ctx context.Context, ev Event) error {
	form := url.Values{}
	form.Set("apikey", p.cfg.APIKey)
	form.Set("providerkey", p.cfg.ProviderKey)
	form.Set("application", p.cfg.Application)
	form.Set("event", ev.Title)
	form.Set("description", ev.Message)
	form.Set("priority", strconv.Itoa(priority(pushPriority, ev.Severity, p.cfg.Priority)))
	_, body, err := p.http.postForm(ctx, p.cfg.APIURL, form)
	if err != nil {
		return err
	}
	if !strings.Contains(string(body), `success code="200"`) {
		return fmt.Errorf("prowl API error: %s", truncate(strings.TrimSpace(string(body)), 200))
	}
	return nil
}

// Boxcar

type BoxcarConfig struct {
	AccessToken string `json:"access_token"`
	APIURL      string `json:"api_url,omitempty"`
}

func (c *BoxcarConfig) validate() error {
	if c.AccessToken == "" {
		return missing("access_token")
	}
	if c.APIURL == "" {
		c.APIURL = "https://boxcar-api-production.herokuapp.com/notifications"
	}
	return nil
}

type Boxcar struct {
	cfg  BoxcarConfig
	http httpSender
}

func newBoxcar(raw json.RawMessage, opts *Options) (Sink, error) {
	var cfg BoxcarConfig
	if err := decodeConfig("boxcar", raw, &cfg); err != nil {
		return nil, err
	}
	return &Boxcar{cfg: cfg, http: newHTTPSender("Boxcar", opts)}, nil
}

var boxcarSounds = map[Severity]string{
	SeverityInfo:     "notifier-2",
	SeveritySuccess:  "magic-1",
	SeverityWarning:  "warning-1",
	SeverityError:    "glass",
	SeverityCritical: "alarm",
}

func (b *Boxcar) Send(ctx context.Context, ev Event) error {
	sound, ok := boxcarSounds[ev.Severity]
	if !ok {
		sound = "cosmic"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.cfg.AccessToken)
	status, _, err := b.http.postJSON(ctx, b.cfg.APIURL, map[string]string{
		"title": ev.Title,
		"body":  ev.Message,
		"sound": sound,
	}, header)
	if err != nil {
		return err
	}
	return b.http.expectStatus(status, http.StatusCreated)
}
