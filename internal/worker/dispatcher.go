// Package worker runs the background loops of the ledger worker: the
// periodic sweeps and the delivery of notification intents.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"flowledger/internal/log"
	"flowledger/internal/notify"
)

// DispatcherStats counts delivery outcomes.
type DispatcherStats struct {
	Delivered int64
	Failed    int64
}

// Dispatcher drains a notify.Queue into a delivery sink. Delivery failures
// are logged and the intent is dropped.
type Dispatcher struct {
	queue *notify.Queue
	sink  notify.Sink

	// DrainTimeout bounds delivery of buffered intents after shutdown.
	DrainTimeout time.Duration

	delivered atomic.Int64
	failed    atomic.Int64
}

func NewDispatcher(queue *notify.Queue, sink notify.Sink) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		sink:         sink,
		DrainTimeout: 5 * time.Second,
	}
}

// Run delivers intents until the queue is closed or ctx is cancelled. On
// cancellation the intents already buffered are still attempted.
func (d *Dispatcher) Run(ctx context.Context) {
	intents := d.queue.Intents()
	for {
		select {
		case in, ok := <-intents:
			if !ok {
				return
			}
			d.deliver(ctx, in)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.DrainTimeout)
	defer cancel()

	intents := d.queue.Intents()
	for {
		select {
		case in, ok := <-intents:
			if !ok {
				return
			}
			d.deliver(ctx, in)
		case <-ctx.Done():
			if n := d.queue.Len(); n > 0 {
				slog.Warn("Dropping undelivered notification intents", "count", n)
			}
			return
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, in notify.Intent) {
	if err := d.sink.Emit(ctx, in); err != nil {
		d.failed.Add(1)
		slog.ErrorContext(ctx, "Failed to deliver notification intent",
			"intent_id", in.ID,
			log.FieldUserID, in.UserID,
			log.FieldKind, in.Kind,
			log.FieldError, err)
		return
	}
	d.delivered.Add(1)
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}
