package notify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/sourcegraph/conc"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// MaxRetryWait caps how long a rate-limited send waits before its one retry.
const MaxRetryWait = 30 * time.Second

// Store is the part of the store the dispatcher reads and records into.
type Store interface {
	NotificationsForEvent(trigger string) ([]store.NotificationConfig, error)
	GetNotification(id int64) (*store.NotificationConfig, error)
	LogNotificationSend(h store.NotificationSend) error
	MarkNotificationTriggered(id int64) error
	IncrementNotificationFailures(id int64) error
}

// Dispatcher fans an event out to every enabled sink subscribed to its
// trigger and records each attempt.
type Dispatcher struct {
	store Store
	opts  *Options
	log   hclog.Logger
}

// NewDispatcher creates a dispatcher over st.
func NewDispatcher(st Store, opts *Options) *Dispatcher {
	return &Dispatcher{
		store: st,
		opts:  opts.withDefaults(),
		log:   util.Named("notify"),
	}
}

// Dispatch delivers ev and returns the number of sinks that accepted it.
// Delivery failures are recorded, never returned. A nil dispatcher sends
// nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) int {
	if d == nil {
		return 0
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	configs, err := d.store.NotificationsForEvent(string(ev.Trigger))
	if err != nil {
		d.log.Error("failed to load notification configs", "trigger", ev.Trigger, "error", err)
		return 0
	}
	if len(configs) == 0 {
		return 0
	}

	var (
		sent atomic.Int64
		wg   conc.WaitGroup
	)
	for _, cfg := range configs {
		wg.Go(func() {
			if d.deliver(ctx, cfg, ev) == nil {
				sent.Add(1)
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		d.log.Error("notification sink panicked", "trigger", ev.Trigger, "panic", r.Value)
	}

	d.log.Debug("dispatched", "trigger", ev.Trigger, "sent", sent.Load(), "configured", len(configs))
	return int(sent.Load())
}

// Test sends a test notification through one configured sink, enabled or
// not, and returns the delivery error.
func (d *Dispatcher) Test(ctx context.Context, id int64) error {
	cfg, err := d.store.GetNotification(id)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("notification %d: %w", id, util.ErrNotFound)
	}
	return d.deliver(ctx, *cfg, Event{
		Trigger:  OnTest,
		Title:    "Test Notification",
		Message:  fmt.Sprintf("This is a test notification from %s (%s).", AppName, cfg.Name),
		Severity: SeverityInfo,
		Metadata: map[string]any{"notification_type": cfg.Type},
	})
}

// deliver sends ev through one sink, retrying once after a rate limit, and
// records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, cfg store.NotificationConfig, ev Event) error {
	log := d.log.With("notification", cfg.Name, "type", cfg.Type)

	err := d.send(ctx, cfg, ev)
	if errors.Is(err, util.ErrRateLimited) {
		wait, ok := util.RetryAfter(err)
		if !ok {
			wait = time.Second
		}
		wait = min(wait, MaxRetryWait)
		log.Warn("rate limited, retrying once", "wait", wait)
		if err = util.Sleep(ctx, wait); err == nil {
			err = d.send(ctx, cfg, ev)
		}
	}

	h := store.NotificationSend{
		NotificationID: cfg.ID,
		EventType:      string(ev.Trigger),
		Severity:       string(ev.Severity),
		Title:          ev.Title,
		Message:        ev.Message,
		Success:        err == nil,
	}
	if err != nil {
		h.ErrorMessage = err.Error()
		log.Error("notification failed", "trigger", ev.Trigger, "error", err)
	} else {
		log.Info("notification sent", "trigger", ev.Trigger, "title", ev.Title)
	}
	if lerr := d.store.LogNotificationSend(h); lerr != nil {
		log.Warn("failed to record notification history", "error", lerr)
	}

	if err == nil {
		if serr := d.store.MarkNotificationTriggered(cfg.ID); serr != nil {
			log.Warn("failed to update notification", "error", serr)
		}
	} else if serr := d.store.IncrementNotificationFailures(cfg.ID); serr != nil {
		log.Warn("failed to update notification", "error", serr)
	}
	return err
}

func (d *Dispatcher) send(ctx context.Context, cfg store.NotificationConfig, ev Event) error {
	sink, err := NewSink(cfg.Type, cfg.Config, d.opts)
	if err != nil {
		return err
	}
	return sink.Send(ctx, ev)
}
