package task

import (
	"context"
	"log/slog"
	"time"
)

// Ticker is anything the Driver can pump: the Scheduler itself, or a wrapper
// that serializes access to one.
type Ticker interface {
	Tick()
	Active() bool
}

// Driver is an external tick source: it invokes Tick on a fixed interval
// while the target has active work. Used where no caller-owned loop drives
// the scheduler (e.g. under the HTTP server).
type Driver struct {
	target   Ticker
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDriver creates a Driver ticking target every interval.
func NewDriver(target Ticker, interval time.Duration, logger *slog.Logger) *Driver {
	return &Driver{
		target:   target,
		interval: interval,
		logger:   logger.With("component", "driver"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the tick loop. Blocks until ctx is cancelled or Stop is called.
func (d *Driver) Start(ctx context.Context) error {
	d.logger.Info("driver started", "interval", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("driver stopping (context cancelled)")
			close(d.doneCh)
			return ctx.Err()
		case <-d.stopCh:
			d.logger.Info("driver stopping (stop called)")
			close(d.doneCh)
			return nil
		case <-ticker.C:
			if d.target.Active() {
				d.target.Tick()
			}
		}
	}
}

// Stop shuts the driver down and waits for the current tick to finish.
func (d *Driver) Stop() error {
	close(d.stopCh)
	<-d.doneCh
	return nil
}
