package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/foldclub/internal/tracking/metrics"
)

const defaultAsyncTimeout = 10 * time.Second

// Outcome is the result of one platform call.
type Outcome struct {
	Platform string        `json:"platform"`
	Event    EventKind     `json:"event"`
	EventID  string        `json:"event_id"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
	Err      error         `json:"-"`
}

// Observer receives every Outcome. It is called from dispatch goroutines and
// must not block.
type Observer func(Outcome)

// Tracker fans events out to the registered platforms.
type Tracker struct {
	platforms    []Platform
	logger       *slog.Logger
	metrics      *metrics.Metrics
	observers    []Observer
	asyncTimeout time.Duration
	now          func() time.Time
	wg           sync.WaitGroup
}

type Option func(*Tracker)

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observers = append(t.observers, o) }
}

// WithAsyncTimeout bounds the whole fan-out started by DispatchAsync.
func WithAsyncTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.asyncTimeout = d }
}

func NewTracker(logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		logger:       logger,
		asyncTimeout: defaultAsyncTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a platform. It must only be called during startup, before
// the first dispatch.
func (t *Tracker) Register(p Platform) {
	t.platforms = append(t.platforms, p)
	t.logger.Info("platform registered", "platform", p.Name())
}

// Platforms returns the registered platform names.
func (t *Tracker) Platforms() []string {
	names := make([]string, len(t.platforms))
	for i, p := range t.platforms {
		names[i] = p.Name()
	}
	return names
}

// Dispatch sends ev to every platform concurrently and waits for all of them.
// A platform's failure is logged and reported in its Outcome; it never
// affects the other platforms or the caller.
func (t *Tracker) Dispatch(ctx context.Context, kind EventKind, ev Event) []Outcome {
	ev.Kind = kind
	if ev.Time.IsZero() {
		ev.Time = t.now()
	}

	outcomes := make([]Outcome, len(t.platforms))
	var g errgroup.Group
	for i, p := range t.platforms {
		g.Go(func() error {
			outcomes[i] = t.invoke(ctx, p, kind, ev)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// DispatchAsync runs Dispatch in the background on a context detached from
// the caller, bounded by the async timeout. Use Wait to drain.
func (t *Tracker) DispatchAsync(kind EventKind, ev Event) {
	if len(t.platforms) == 0 {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.asyncTimeout)
		defer cancel()
		t.Dispatch(ctx, kind, ev)
	}()
}

// Wait blocks until background dispatches finish or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) invoke(ctx context.Context, p Platform, kind EventKind, ev Event) (out Outcome) {
	start := time.Now()
	out = Outcome{Platform: p.Name(), Event: kind, EventID: ev.ID}

	defer func() {
		outcome := metrics.OutcomeSuccess
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
			outcome = metrics.OutcomePanic
		} else if out.Err != nil {
			outcome = classify(out.Err)
		}
		out.Duration = time.Since(start)
		out.OK = out.Err == nil
		if out.Err != nil {
			out.Error = out.Err.Error()
			t.logger.Warn("dispatch failed",
				"platform", out.Platform,
				"event", string(kind),
				"event_id", ev.ID,
				"error", out.Err,
			)
		} else {
			t.logger.Debug("dispatched",
				"platform", out.Platform,
				"event", string(kind),
				"event_id", ev.ID,
				"duration", out.Duration,
			)
		}
		t.metrics.Dispatched(out.Platform, string(kind), outcome, out.Duration)
		for _, o := range t.observers {
			o(out)
		}
	}()

	out.Err = send(ctx, p, kind, ev)
	return out
}

func send(ctx context.Context, p Platform, kind EventKind, ev Event) error {
	switch kind {
	case ViewContent:
		return p.SendViewContent(ctx, ev)
	case AddToCart:
		return p.SendAddToCart(ctx, ev)
	case InitiateCheckout:
		return p.SendInitiateCheckout(ctx, ev)
	case Purchase:
		return p.SendPurchase(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
}

func classify(err error) string {
	var de *DispatchError
	switch {
	case errors.As(err, &de):
		return metrics.OutcomeHTTPError
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
