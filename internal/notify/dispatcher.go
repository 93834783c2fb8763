package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome is what the caller learns synchronously about a notification.
type Outcome int

const (
	// Queued means a send was started in the background.
	Queued Outcome = iota
	// Skipped means nothing was sent; the reason was logged.
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "queued"
}

// Dispatcher sends notices in the background, at most once each. Delivery
// failures are logged and never reach the caller.
type Dispatcher struct {
	n        Notifier
	timeout  time.Duration
	fallback string
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher wraps n. fallback, when non-empty, replaces a missing recipient.
func NewDispatcher(n Notifier, timeout time.Duration, fallback string, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{n: n, timeout: timeout, fallback: fallback, log: log.With(zap.String("component", "notify"))}
}

// Dispatch starts delivery of notice and returns immediately. The send is
// detached from ctx cancellation but bounded by the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, notice OfferNotice) Outcome {
	if strings.TrimSpace(notice.To) == "" {
		if d.fallback == "" {
			d.log.Warn("offer notice skipped: missing recipient")
			return Skipped
		}
		d.log.Info("using fallback recipient", zap.String("to", d.fallback))
		notice.To = d.fallback
	}
	if err := d.n.Ready(); err != nil {
		d.log.Warn("offer notice skipped", zap.Error(err))
		return Skipped
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.n.SendOffer(sendCtx, notice); err != nil {
			d.log.Error("offer notice failed", zap.String("to", notice.To), zap.Error(err))
			return
		}
		d.log.Info("offer notice sent", zap.String("to", notice.To))
	}()
	return Queued
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
