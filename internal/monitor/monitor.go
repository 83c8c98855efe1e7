// Package monitor drives the periodic reservation tick and feeds its
// observations to the threshold notifier.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval is the canonical tick period.
const DefaultInterval = 15 * time.Second

var errInvalidMonitorConfig = errors.New("invalid monitor config")

// Ticker advances active reservations. *laundry.Service satisfies it.
type Ticker interface {
	Tick(ctx context.Context) ([]laundry.Observation, error)
}

// Observer receives every tick's observations. *laundry.ThresholdNotifier
// satisfies it.
type Observer interface {
	Observe(ctx context.Context, observations []laundry.Observation) []laundry.Notification
}

// Monitor runs Tick then Observe on a fixed schedule. A tick that is still
// running when the next one is due is skipped.
type Monitor struct {
	ticker   Ticker
	observer Observer
	interval time.Duration
	logger   *zap.Logger
}

// New validates dependencies. A zero interval selects DefaultInterval.
func New(ticker Ticker, observer Observer, interval time.Duration, logger *zap.Logger) (*Monitor, error) {
	if ticker == nil {
		return nil, fmt.Errorf("%w: ticker dependency is nil", errInvalidMonitorConfig)
	}
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < time.Second {
		return nil, fmt.Errorf("%w: interval %s is below one second", errInvalidMonitorConfig, interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{ticker: ticker, observer: observer, interval: interval, logger: logger}, nil
}

// Interval returns the tick period.
func (monitor *Monitor) Interval() time.Duration {
	return monitor.interval
}

// RunOnce performs a single tick and hands the result to the observer.
func (monitor *Monitor) RunOnce(ctx context.Context) error {
	observations, err := monitor.ticker.Tick(ctx)
	if err != nil {
		return fmt.Errorf("monitor: tick: %w", err)
	}
	if monitor.observer != nil {
		notifications := monitor.observer.Observe(ctx, observations)
		if len(notifications) > 0 {
			monitor.logger.Debug("threshold notifications published", zap.Int("count", len(notifications)))
		}
	}
	return nil
}

// Run ticks immediately and then every interval until ctx is done. It waits
// for an in-flight tick before returning.
func (monitor *Monitor) Run(ctx context.Context) error {
	scheduler := cron.New(
		cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(monitor.logger))),
		cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(monitor.logger))), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	job := cron.FuncJob(func() {
		if err := monitor.RunOnce(ctx); err != nil && ctx.Err() == nil {
			monitor.logger.Warn("reservation tick failed", zap.Error(err))
		}
	})
	scheduler.Schedule(cron.Every(monitor.interval), job)
	job.Run()
	scheduler.Start()
	monitor.logger.Info("reservation monitor started", zap.Duration("interval", monitor.interval))

	<-ctx.Done()
	<-scheduler.Stop().Done()
	monitor.logger.Info("reservation monitor stopped")
	return ctx.Err()
}
