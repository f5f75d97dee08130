// Package proactive runs periodic predictive checks so slow-burn problems
// (a filesystem filling up) surface before they page anyone.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homelab-ops/remedy/pkg/models"
)

// exhaustionWarnHours is the horizon below which a disk-fill prediction is
// worth a notification.
const exhaustionWarnHours = 12

// diskFreeMetric is the metric the disk exhaustion check extrapolates.
const diskFreeMetric = `node_filesystem_avail_bytes{fstype!~"tmpfs|overlay"}`

// Predictor is the metrics surface. *promql.Client satisfies it.
type Predictor interface {
	PredictExhaustion(ctx context.Context, metric, instance string, threshold float64) (float64, error)
}

// CheckStore persists findings. *store.Store satisfies it.
type CheckStore interface {
	RecordProactiveCheck(ctx context.Context, c *models.ProactiveCheck) error
}

// Notifier receives warnings. May be nil.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Checker runs the predictive checks on an interval.
type Checker struct {
	predictor Predictor
	store     CheckStore
	notifier  Notifier
	instances []string
	interval  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Checker over the given node-exporter instances.
func New(predictor Predictor, store CheckStore, notifier Notifier, instances []string, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Checker{
		predictor: predictor,
		store:     store,
		notifier:  notifier,
		instances: instances,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the check loop.
func (c *Checker) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()
	slog.Info("proactive checker started", "interval", c.interval, "instances", len(c.instances))
}

// Stop halts the check loop.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RunOnce executes the disk exhaustion check for every instance.
func (c *Checker) RunOnce(ctx context.Context) {
	for _, instance := range c.instances {
		c.checkDiskExhaustion(ctx, instance)
	}
}

func (c *Checker) checkDiskExhaustion(ctx context.Context, instance string) {
	hours, err := c.predictor.PredictExhaustion(ctx, diskFreeMetric, instance, 0)
	if err != nil {
		slog.Warn("disk exhaustion check failed", "instance", instance, "error", err)
		return
	}

	finding := "disk usage stable or improving"
	action := ""
	if hours >= 0 && hours <= exhaustionWarnHours {
		finding = fmt.Sprintf("filesystem projected to fill in ~%.1f hours", hours)
		action = "notified operator"
		title := "Disk filling on " + instance
		if c.notifier != nil {
			if err := c.notifier.Notify(ctx, title, finding); err != nil {
				slog.Warn("proactive notification failed", "instance", instance, "error", err)
				action = "notification failed"
			}
		}
		slog.Warn("proactive finding", "instance", instance, "hours_to_full", hours)
	}

	if c.store != nil {
		record := &models.ProactiveCheck{
			CheckType:   "disk_exhaustion",
			Target:      instance,
			Finding:     finding,
			ActionTaken: action,
		}
		if err := c.store.RecordProactiveCheck(ctx, record); err != nil {
			slog.Warn("failed to persist proactive check", "instance", instance, "error", err)
		}
	}
}
