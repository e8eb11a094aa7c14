package sync

import (
	"context"
	"log/slog"
	"time"
)

// debouncer coalesces bursts of Trigger calls into a single fire once a
// quiet window elapses with no new triggers. The fire function runs on
// the debouncer's own goroutine (Run), which gives Flush its guarantee
// for free: a flush request queued behind an in-flight fire is not
// served until that fire returns, so a caller observing Flush's return
// has also observed the completion of any save that was already running.
type debouncer struct {
	window time.Duration
	fire   func(ctx context.Context) error
	logger *slog.Logger

	notify chan struct{}   // signaled on Trigger; capacity 1
	flush  chan chan error // flush requests carrying a reply channel
}

// newDebouncer creates an idle debouncer. Run must be started before
// Trigger or Flush have any effect.
func newDebouncer(window time.Duration, fire func(ctx context.Context) error, logger *slog.Logger) *debouncer {
	return &debouncer{
		window: window,
		fire:   fire,
		logger: logger,
		notify: make(chan struct{}, 1),
		flush:  make(chan chan error),
	}
}

// Trigger (re)starts the quiet window. Non-blocking and safe to call
// from any goroutine at any rate.
func (d *debouncer) Trigger() {
	select {
	case d.notify <- struct{}{}:
	default:
		// Already signaled, loop hasn't consumed yet.
	}
}

// Flush cancels any pending window and runs fire immediately, returning
// its error. Blocks until the fire completes, including one that was
// already in flight when Flush was called.
func (d *debouncer) Flush(ctx context.Context) error {
	reply := make(chan error, 1)

	select {
	case d.flush <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the debounce loop until ctx is canceled. Always returns
// nil on cancellation so it can run under an errgroup without aborting
// sibling goroutines. A window pending at shutdown fires one final time.
func (d *debouncer) Run(ctx context.Context) error {
	timer := time.NewTimer(d.window)
	timer.Stop() // start idle, nothing pending
	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			if timerActive {
				if err := d.fire(context.WithoutCancel(ctx)); err != nil {
					d.logger.Warn("final debounced fire failed", "error", err)
				}
			}

			return nil

		case <-d.notify:
			// New trigger arrived; reset the quiet window.
			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(d.window)
			timerActive = true

		case <-timer.C:
			timerActive = false

			// fire reports its own failures to its owner; the error
			// return exists for Flush callers.
			_ = d.fire(ctx)

		case reply := <-d.flush:
			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timerActive = false

			// Consume any un-serviced trigger so the next loop pass
			// does not rearm the window for work this flush covers.
			select {
			case <-d.notify:
			default:
			}

			reply <- d.fire(ctx)
		}
	}
}
