package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/util"
)

var fixedNow = time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

func testOptions() *Options {
	return &Options{Timeout: 2 * time.Second, Now: func() time.Time { return fixedNow }}
}

// captured is one request seen by a recording server.
type captured struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

func recorder(t *testing.T, status int, reply string) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{r.Method, r.URL.Path, r.URL.Query(), r.Header.Clone(), body})
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func sink(t *testing.T, kind string, cfg map[string]any) Sink {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	s, err := NewSink(kind, raw, testOptions())
	require.NoError(t, err)
	return s
}

var sample = Event{
	Trigger:  OnScrapeComplete,
	Title:    "Scrape complete",
	Message:  "3 stations scraped",
	Severity: SeveritySuccess,
	Metadata: map[string]any{"songs_added": 4, "failed_stations": 0, "skipped": nil},
}

func TestNewSinkErrors(t *testing.T) {
	_, err := NewSink("carrier-pigeon", nil, nil)
	assert.True(t, errors.Is(err, util.ErrUnsupported))

	_, err = NewSink("discord", json.RawMessage(`{}`), nil)
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))

	_, err = NewSink("slack", json.RawMessage(`{not json`), nil)
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))

	_, err = NewSink("mqtt", json.RawMessage(`{"broker":"localhost","qos":3}`), nil)
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))

	assert.Len(t, Kinds(), 14)
}

func TestFields(t *testing.T) {
	got := fields(sample.Metadata, 0)
	assert.Equal(t, []field{
		{Name: "Failed Stations", Value: "0"},
		{Name: "Songs Added", Value: "4"},
	}, got)

	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "short", truncate("short", 7))
}

func TestDiscordPayload(t *testing.T) {
	srv, got := recorder(t, http.StatusNoContent, "")
	require.NoError(t, sink(t, "discord", map[string]any{"webhook_url": srv.URL + "/hook"}).Send(context.Background(), sample))

	require.Len(t, *got, 1)
	var payload struct {
		Username string         `json:"username"`
		Embeds   []discordEmbed `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal((*got)[0].Body, &payload))
	assert.Equal(t, AppName, payload.Username)
	require.Len(t, payload.Embeds, 1)
	e := payload.Embeds[0]
	assert.Equal(t, "Scrape complete", e.Title)
	assert.Equal(t, 0x2ecc71, e.Color)
	assert.Equal(t, "2025-03-01T14:30:00Z", e.Timestamp)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "Failed Stations", e.Fields[0].Name)
}

func TestDiscordFieldCap(t *testing.T) {
	srv, got := recorder(t, http.StatusNoContent, "")
	md := map[string]any{}
	for i := 0; i < 30; i++ {
		md[string(rune('a'+i%26))+strings.Repeat("x", i)] = strings.Repeat("v", 2000)
	}
	ev := sample
	ev.Metadata = md
	require.NoError(t, sink(t, "discord", map[string]any{"webhook_url": srv.URL}).Send(context.Background(), ev))

	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	require.NoError(t, json.Unmarshal((*got)[0].Body, &payload))
	assert.Len(t, payload.Embeds[0].Fields, 25)
	assert.Len(t, payload.Embeds[0].Fields[0].Value, 1024)
}

func TestSlackRequiresOK(t *testing.T) {
	srv, got := recorder(t, http.StatusOK, "ok")
	require.NoError(t, sink(t, "slack", map[string]any{"webhook_url": srv.URL}).Send(context.Background(), sample))
	var payload struct {
		Attachments []slackAttachment `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal((*got)[0].Body, &payload))
	assert.Equal(t, "#2ecc71", payload.Attachments[0].Color)
	assert.Equal(t, fixedNow.Unix(), payload.Attachments[0].TS)

	accepted, _ := recorder(t, http.StatusAccepted, "")
	err := sink(t, "slack", map[string]any{"webhook_url": accepted.URL}).Send(context.Background(), sample)
	assert.Error(t, err)
}

func TestMattermostAndRocketChat(t *testing.T) {
	srv, got := recorder(t, http.StatusOK, "")
	ctx := context.Background()
	require.NoError(t, sink(t, "mattermost", map[string]any{"webhook_url": srv.URL, "channel": "alerts"}).Send(ctx, sample))
	require.NoError(t, sink(t, "rocketchat", map[string]any{"webhook_url": srv.URL}).Send(ctx, sample))
	require.Len(t, *got, 2)

	var mm map[string]any
	require.NoError(t, json.Unmarshal((*got)[0].Body, &mm))
	assert.Equal(t, "alerts", mm["channel"])
	assert.Equal(t, AppName, mm["username"])
	assert.Contains(t, mm["text"], "**Scrape complete**")

	var rc map[string]any
	require.NoError(t, json.Unmarshal((*got)[1].Body, &rc))
	assert.Equal(t, ":robot_face:", rc["emoji"])
}

func TestTelegram(t *testing.T) {
	srv, got := recorder(t, http.StatusOK, `{"ok":true}`)
	s := sink(t, "telegram", map[string]any{"bot_token": "123:abc", "chat_id": -100200, "api_url": srv.URL})
	require.NoError(t, s.Send(context.Background(), sample))

	req := (*got)[0]
	assert.Equal(t, "/bot123:abc/sendMessage", req.Path)
	form, err := url.ParseQuery(string(req.Body))
	require.NoError(t, err)
	assert.Equal(t, "-100200", form.Get("chat_id"))
	assert.Equal(t, "Markdown", form.Get("parse_mode"))
	assert.Contains(t, form.Get("text"), "*Scrape complete*")
	assert.Contains(t, form.Get("text"), "• Songs Added: 4")

	bad, _ := recorder(t, http.StatusOK, `{"ok":false,"description":"chat not found"}`)
	err = sink(t, "telegram", map[string]any{"bot_token": "t", "chat_id": "1", "api_url": bad.URL}).Send(context.Background(), sample)
	assert.ErrorContains(t, err, "chat not found")
}

func TestGotifyAndNtfyPriorities(t *testing.T) {
	srv, got := recorder(t, http.StatusOK, "{}")
	ctx := context.Background()
	ev := sample
	ev.Severity = SeverityError

	require.NoError(t, sink(t, "gotify", map[string]any{"server_url": srv.URL + "/", "app_token": "tok"}).Send(ctx, ev))
	require.NoError(t, sink(t, "ntfy", map[string]any{"server_url": srv.URL, "topic": "radio", "auth_token": "secret"}).Send(ctx, ev))
	require.Len(t, *got, 2)

	gotify := (*got)[0]
	assert.Equal(t, "/message", gotify.Path)
	assert.Equal(t, "tok", gotify.Query.Get("token"))
	var gp map[string]any
	require.NoError(t, json.Unmarshal(gotify.Body, &gp))
	assert.Equal(t, float64(9), gp["priority"])
	assert.Contains(t, gp["message"], "**Details:**\nfailed_stations: 0\n\nsongs_added: 4")

	ntfy := (*got)[1]
	assert.Equal(t, "/radio", ntfy.Path)
	assert.Equal(t, "5", ntfy.Header.Get("Priority"))
	assert.Equal(t, "Scrape complete", ntfy.Header.Get("Title"))
	assert.Equal(t, "Bearer secret", ntfy.Header.Get("Authorization"))
	assert.True(t, strings.HasPrefix(string(ntfy.Body), "Scrape complete\n\n3 stations scraped"))
}

func TestMatrix(t *testing.T) {
	srv, got := recorder(t, http.StatusOK, `{"event_id":"$1"}`)
	ev := sample
	ev.Title = "<b>Tom & Jerry</b>"
	s := sink(t, "matrix", map[string]any{"homeserver": srv.URL, "access_token": "tok", "room_id": "!room:example.org"})
	require.NoError(t, s.Send(context.Background(), ev))

	req := (*got)[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.True(t, strings.HasPrefix(req.Path, "/_matrix/client/v3/rooms/!room:example.org/send/m.room.message/"))
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Contains(t, body["formatted_body"], "&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;")
}

func TestPushServices(t *testing.T) {
	ctx := context.Background()

	pushover, got := recorder(t, http.StatusOK, `{"status":1}`)
	require.NoError(t, sink(t, "pushover", map[string]any{"api_token": "a", "user_key": "u", "api_url": pushover.URL}).Send(ctx, sample))
	form, _ := url.ParseQuery(string((*got)[0].Body))
	assert.Equal(t, "-1", form.Get("priority"))

	rejected, _ := recorder(t, http.StatusOK, `{"status":0,"errors":["user key is invalid"]}`)
	err := sink(t, "pushover", map[string]any{"api_token": "a", "user_key": "u", "api_url": rejected.URL}).Send(ctx, sample)
	assert.ErrorContains(t, err, "user key is invalid")

	pushbullet, got := recorder(t, http.StatusOK, "{}")
	require.NoError(t, sink(t, "pushbullet", map[string]any{"api_key": "k", "api_url": pushbullet.URL}).Send(ctx, sample))
	assert.Equal(t, "k", (*got)[0].Header.Get("Access-Token"))

	prowl, _ := recorder(t, http.StatusOK, `<prowl><success code="200" remaining="999"/></prowl>`)
	require.NoError(t, sink(t, "prowl", map[string]any{"api_key": "k", "api_url": prowl.URL}).Send(ctx, sample))
	prowlErr, _ := recorder(t, http.StatusOK, `<prowl><error code="401">Invalid API key</error></prowl>`)
	assert.Error(t, sink(t, "prowl", map[string]any{"api_key": "k", "api_url": prowlErr.URL}).Send(ctx, sample))

	boxcar, got := recorder(t, http.StatusCreated, "{}")
	require.NoError(t, sink(t, "boxcar", map[string]any{"access_token": "t", "api_url": boxcar.URL}).Send(ctx, sample))
	var bp map[string]string
	require.NoError(t, json.Unmarshal((*got)[0].Body, &bp))
	assert.Equal(t, "magic-1", bp["sound"])
	boxcarOK, _ := recorder(t, http.StatusOK, "{}")
	assert.Error(t, sink(t, "boxcar", map[string]any{"access_token": "t", "api_url": boxcarOK.URL}).Send(ctx, sample))
}

func TestRateLimitAndStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/limited" {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := sink(t, "discord", map[string]any{"webhook_url": srv.URL + "/limited"}).Send(context.Background(), sample)
	assert.True(t, errors.Is(err, util.ErrRateLimited))
	wait, ok := util.RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)

	err = sink(t, "discord", map[string]any{"webhook_url": srv.URL + "/broken"}).Send(context.Background(), sample)
	var status *util.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
	assert.Equal(t, "boom", status.Body)
}

func TestEmailMessage(t *testing.T) {
	s := sink(t, "email", map[string]any{
		"smtp_server": "smtp.example.org", "username": "radio@example.org", "password": "pw", "to_addr": "me@example.org",
	}).(*Email)
	assert.Equal(t, 587, s.cfg.SMTPPort)
	assert.Equal(t, "radio@example.org", s.cfg.FromAddr)

	ev := sample
	ev.Message = "<script>alert(1)</script>"
	msg, err := s.message(ev)
	require.NoError(t, err)
	text := string(msg)
	assert.Contains(t, text, "From: radio@example.org\r\n")
	assert.Contains(t, text, "To: me@example.org\r\n")
	assert.Contains(t, text, "Subject: [Radio Monitor] Scrape complete\r\n")
	assert.Contains(t, text, "Content-Type: text/html")
	assert.Contains(t, text, "&lt;script&gt;")
	assert.NotContains(t, text, "<script>")
	assert.Contains(t, text, "<strong>Songs Added:</strong></td><td>4</td>")
	assert.Contains(t, text, "2025-03-01 14:30:00")
}

func TestMQTTConfig(t *testing.T) {
	s := sink(t, "mqtt", map[string]any{"broker": "broker.local"}).(*MQTT)
	assert.Equal(t, "tcp://broker.local:1883", s.cfg.brokerURL())
	assert.Equal(t, defaultMQTTTopic, s.cfg.Topic)
	assert.Equal(t, 1, *s.cfg.QoS)

	s = sink(t, "mqtt", map[string]any{"broker": "ssl://broker.local:8883", "qos": 0}).(*MQTT)
	assert.Equal(t, "ssl://broker.local:8883", s.cfg.brokerURL())
	assert.Equal(t, 0, *s.cfg.QoS)

	data, err := s.payload(sample)
	require.NoError(t, err)
	var p map[string]any
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "success", p["severity"])
	assert.Equal(t, "on_scrape_complete", p["trigger"])
	assert.Equal(t, "2025-03-01T14:30:00Z", p["timestamp"])
}

func TestMQTTUnreachableBroker(t *testing.T) {
	raw := json.RawMessage(`{"broker":"127.0.0.1","port":1}`)
	s, err := NewSink("mqtt", raw, &Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.Error(t, s.Send(context.Background(), sample))
}
