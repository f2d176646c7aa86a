package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/telemetry"
)

// Dispatcher queues notices for a background worker. Notify never blocks: when the queue is
// full the notice is dropped with a warning.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

type queued struct {
	ctx    context.Context
	notice Notice
}

// NewDispatcher starts a worker draining a queue of queueSize notices.
func NewDispatcher(sender Sender, queueSize int, timeout time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan queued, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues n for delivery.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, n, "dispatcher closed")
		return
	}

	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), notice: n}:
	default:
		d.drop(ctx, n, "queue full")
	}
}

// Send delivers n synchronously, for callers that must know whether delivery succeeded.
func (d *Dispatcher) Send(ctx context.Context, n Notice) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.Send(ctx, n)
	if err != nil {
		d.metrics.RecordNotification(ctx, string(n.Kind), "failed")
		return err
	}
	d.metrics.RecordNotification(ctx, string(n.Kind), "sent")
	return nil
}

// Close stops accepting notices and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for q := range d.queue {
		if err := d.Send(q.ctx, q.notice); err != nil {
			d.logger.ErrorContext(q.ctx, "failed to send notification",
				"kind", q.notice.Kind,
				"transaction_id", q.notice.TransactionID,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) drop(ctx context.Context, n Notice, reason string) {
	d.metrics.RecordNotification(ctx, string(n.Kind), "dropped")
	d.logger.WarnContext(ctx, "dropping notification",
		"kind", n.Kind,
		"transaction_id", n.TransactionID,
		"reason", reason,
	)
}
