package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"investia/internal/advisor"
	"investia/pkg/model"
)

// ErrTooManyFailures stops the loop after consecutive failed cycles
var ErrTooManyFailures = errors.New("too many consecutive refresh failures")

// Refresher runs one advisory cycle; *advisor.Advisor implements it
type Refresher interface {
	Refresh(ctx context.Context, list []model.Asset) (*advisor.Report, error)
}

// Config holds loop settings
type Config struct {
	Interval    time.Duration // time between cycle starts
	MaxCycles   int           // 0 runs until stopped
	MaxFailures int           // consecutive failed cycles before giving up; 0 never gives up
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.MaxCycles < 0 || c.MaxFailures < 0 {
		return fmt.Errorf("max cycles and max failures must not be negative")
	}
	return nil
}

// Summary describes a finished loop
type Summary struct {
	Cycles   int
	Failures int
	Reason   string
}

// Option configures a Daemon
type Option func(*Daemon)

// WithLogger sets the logger; nil keeps the no-op logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Daemon) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithReportHandler is called with every successful cycle's report
func WithReportHandler(fn func(*advisor.Report)) Option {
	return func(d *Daemon) { d.onReport = fn }
}

// Daemon re-runs the advisory cycle on a fixed interval. Each cycle reads a
// fresh regime, and recording goes through the refresher's recorder.
type Daemon struct {
	config    Config
	refresher Refresher
	assets    []model.Asset
	logger    *zap.Logger
	onReport  func(*advisor.Report)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a daemon over a fixed asset list
func New(cfg Config, r Refresher, list []model.Asset, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("refresher is required")
	}
	d := &Daemon{
		config:    cfg,
		refresher: r,
		assets:    list,
		logger:    zap.NewNop(),
		cancel:    func() {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run refreshes immediately and then on every tick until ctx is cancelled,
// Stop is called, or a stop condition is met. Cancellation is a normal exit.
func (d *Daemon) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	d.logger.Info("daemon started",
		zap.Duration("interval", d.config.Interval),
		zap.Int("assets", len(d.assets)))

	var sum Summary
	consecutive := 0

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		if err := d.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return d.shutdown(sum, "cancelled"), nil
			}
			sum.Failures++
			consecutive++
		} else {
			consecutive = 0
		}
		sum.Cycles++

		if stop, reason := d.checkStopConditions(sum, consecutive); stop {
			if reason == "failures" {
				return d.shutdown(sum, reason), fmt.Errorf("%w: %d in a row", ErrTooManyFailures, consecutive)
			}
			return d.shutdown(sum, reason), nil
		}

		select {
		case <-ctx.Done():
			return d.shutdown(sum, "cancelled"), nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return d.shutdown(sum, "cancelled"), nil
			}
		}
	}
}

// Stop cancels a running loop
func (d *Daemon) Stop() {
	d.logger.Info("daemon stop requested")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
}

func (d *Daemon) runCycle(ctx context.Context) error {
	report, err := d.refresher.Refresh(ctx, d.assets)
	if err != nil {
		d.logger.Error("refresh failed", zap.Error(err))
		return err
	}

	d.logger.Info("refresh complete",
		zap.String("regime", string(report.Regime.Level)),
		zap.Int("recommendations", len(report.Recommendations)),
		zap.Int("buy", report.Count(model.ActionBuy)),
		zap.Int("sell", report.Count(model.ActionSell)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", report.Duration))

	if d.onReport != nil {
		d.onReport(report)
	}
	return nil
}

func (d *Daemon) checkStopConditions(sum Summary, consecutive int) (bool, string) {
	if d.config.MaxFailures > 0 && consecutive >= d.config.MaxFailures {
		return true, "failures"
	}
	if d.config.MaxCycles > 0 && sum.Cycles >= d.config.MaxCycles {
		return true, "max_cycles"
	}
	return false, ""
}

func (d *Daemon) shutdown(sum Summary, reason string) Summary {
	sum.Reason = reason
	d.logger.Info("daemon stopped",
		zap.String("reason", reason),
		zap.Int("cycles", sum.Cycles),
		zap.Int("failures", sum.Failures))
	return sum
}
