package alertqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/homelab-ops/remedy/pkg/models"
)

// Sink persists a drained record. *store.Store satisfies it.
type Sink interface {
	LogAttempt(ctx context.Context, a *models.RemediationAttempt) (int64, error)
}

// Drainer periodically flushes the queue into the sink in bounded batches.
type Drainer struct {
	queue    *Queue
	sink     Sink
	batch    int
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDrainer creates a Drainer over the queue.
func NewDrainer(queue *Queue, sink Sink, batch int, interval time.Duration) *Drainer {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Drainer{
		queue:    queue,
		sink:     sink,
		batch:    batch,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the drain loop.
func (d *Drainer) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.DrainOnce(ctx)
			}
		}
	}()
	slog.Info("alert queue drainer started", "interval", d.interval, "batch", d.batch)
}

// Stop halts the drain loop and waits for it to exit.
func (d *Drainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// DrainOnce flushes up to one batch. A sink failure stops the batch and
// requeues the unpersisted remainder at the head, keeping order.
func (d *Drainer) DrainOnce(ctx context.Context) int {
	batch := d.queue.Dequeue(d.batch)
	if len(batch) == 0 {
		return 0
	}
	for i, a := range batch {
		if _, err := d.sink.LogAttempt(ctx, a); err != nil {
			slog.Warn("queue drain interrupted, requeueing remainder",
				"persisted", i, "remaining", len(batch)-i, "error", err)
			d.queue.Requeue(batch[i:])
			return i
		}
	}
	slog.Info("drained queued remediation records", "count", len(batch), "remaining", d.queue.Len())
	return len(batch)
}
