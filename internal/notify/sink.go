package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

// DefaultTimeout bounds every delivery attempt.
const DefaultTimeout = 10 * time.Second

// maxResponseBody caps how much of a sink's response is read.
const maxResponseBody = 64 << 10

// Sink delivers one event.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Options are shared by every sink a dispatcher builds.
type Options struct {
	Client  *http.Client
	Timeout time.Duration
	Now     func() time.Time
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Client == nil {
		out.Client = &http.Client{Timeout: out.Timeout}
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

type builder func(raw json.RawMessage, opts *Options) (Sink, error)

var builders = map[string]builder{
	"discord":    newDiscord,
	"slack":      newSlack,
	"mattermost": newMattermost,
	"rocketchat": newRocketChat,
	"telegram":   newTelegram,
	"gotify":     newGotify,
	"ntfy":       newNtfy,
	"matrix":     newMatrix,
	"pushover":   newPushover,
	"pushbullet": newPushbullet,
	"prowl":      newProwl,
	"boxcar":     newBoxcar,
	"email":      newEmail,
	"mqtt":       newMQTT,
}

// Kinds returns the supported notification types, sorted.
func Kinds() []string {
	return slices.Sorted(maps.Keys(builders))
}

// NewSink builds the sink for a stored notification type and its JSON config.
func NewSink(kind string, raw json.RawMessage, opts *Options) (Sink, error) {
	b, ok := builders[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("notification type %q (supported: %s): %w",
			kind, strings.Join(Kinds(), ", "), util.ErrUnsupported)
	}
	return b(raw, opts.withDefaults())
}

// validator is implemented by every sink config. validate applies defaults
// and checks required fields.
type validator interface {
	validate() error
}

func decodeConfig(kind string, raw json.RawMessage, cfg validator) error {
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("invalid %s config: %v: %w", kind, err, util.ErrInvalidConfig)
		}
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid %s config: %w", kind, err)
	}
	return nil
}

func missing(names ...string) error {
	return fmt.Errorf("%s not configured: %w", strings.Join(names, ", "), util.ErrInvalidConfig)
}

// flexString accepts a JSON string or number. Chat ids are stored both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// httpSender performs the request/response handling every HTTP sink shares.
type httpSender struct {
	service string
	client  *http.Client
	timeout time.Duration
}

func newHTTPSender(service string, opts *Options) httpSender {
	return httpSender{service: service, client: opts.Client, timeout: opts.Timeout}
}

// do sends the request and returns the response body. A 429 yields a
// *util.RateLimitError and any other non-2xx a *util.StatusError.
func (h httpSender) do(ctx context.Context, method, target string, body io.Reader, header http.Header) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build %s request: %w", h.service, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reach %s: %w", h.service, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read %s response: %w", h.service, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, data, &util.RateLimitError{
			Service:    h.service,
			RetryAfter: util.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, data, &util.StatusError{
			Service:    h.service,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(data)), 200),
		}
	}
	return resp.StatusCode, data, nil
}

func (h httpSender) sendJSON(ctx context.Context, method, target string, payload any, header http.Header) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode %s payload: %w", h.service, err)
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return h.do(ctx, method, target, bytes.NewReader(data), header)
}

func (h httpSender) postJSON(ctx context.Context, target string, payload any, header http.Header) (int, []byte, error) {
	return h.sendJSON(ctx, http.MethodPost, target, payload, header)
}

func (h httpSender) postForm(ctx context.Context, target string, form url.Values) (int, []byte, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(ctx, http.MethodPost, target, strings.NewReader(form.Encode()), header)
}

// expectStatus rejects 2xx codes a service documents as something else.
func (h httpSender) expectStatus(got int, want ...int) error {
	if slices.Contains(want, got) {
		return nil
	}
	return &util.StatusError{Service: h.service, StatusCode: got}
}
