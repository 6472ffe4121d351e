// README: Best-effort fan-out; every recipient is attempted independently and failures are only counted.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ridematch/internal/types"
)

const defaultTimeout = 10 * time.Second

type Fanout struct {
	sink    Sink
	stats   Stats
	log     *slog.Logger
	timeout time.Duration

	inflight sync.WaitGroup
}

// NewFanout builds a fan-out over sink. stats may be nil.
func NewFanout(sink Sink, stats Stats, logger *slog.Logger, timeout time.Duration) *Fanout {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sink: sink, stats: stats, log: logger, timeout: timeout}
}

// Deliver sends msg to all recipients concurrently and waits for every attempt.
// One recipient failing (or panicking) never affects the others.
func (f *Fanout) Deliver(ctx context.Context, recipients []types.ID, msg Message) Result {
	var delivered, failed atomic.Int64
	var wg sync.WaitGroup
	for _, r := range recipients {
		wg.Add(1)
		go func(recipient types.ID) {
			defer wg.Done()
			if err := f.sendOne(ctx, recipient, msg); err != nil {
				failed.Add(1)
				f.log.Warn("notification failed", "kind", msg.Kind, "recipient", string(recipient), "err", err)
				return
			}
			delivered.Add(1)
		}(r)
	}
	wg.Wait()

	res := Result{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	if f.stats != nil {
		f.stats.Record(ctx, res.Delivered, res.Failed)
	}
	return res
}

// NotifyDrivers starts delivery in the background and returns how many drivers were targeted.
// Delivery outlives the caller's request context, bounded by the fan-out timeout.
func (f *Fanout) NotifyDrivers(ctx context.Context, driverIDs []types.ID, msg Message) int {
	if len(driverIDs) == 0 {
		return 0
	}
	recipients := append([]types.ID(nil), driverIDs...)
	f.background(ctx, recipients, msg)
	return len(recipients)
}

// NotifyUser is the single-recipient form of NotifyDrivers.
func (f *Fanout) NotifyUser(ctx context.Context, userID types.ID, msg Message) {
	if userID == "" {
		return
	}
	f.background(ctx, []types.ID{userID}, msg)
}

// Drain waits for background deliveries started so far, or for ctx to end.
func (f *Fanout) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fanout) background(ctx context.Context, recipients []types.ID, msg Message) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()
		defer cancel()
		res := f.Deliver(bctx, recipients, msg)
		f.log.Info("notification batch done",
			"kind", msg.Kind,
			"targeted", len(recipients),
			"delivered", res.Delivered,
			"failed", res.Failed,
		)
	}()
}

func (f *Fanout) sendOne(ctx context.Context, recipient types.ID, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return f.sink.Send(ctx, recipient, msg)
}
