package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var refreshCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// parseRefreshSchedule parses a five-field cron expression. Schedules are
// UTC-only; timezone prefixes are rejected.
func parseRefreshSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("tool: refresh cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("tool: refresh schedule must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := refreshCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("tool: invalid refresh cron expression: %w", err)
	}
	return schedule, nil
}

// RefreshSchedulerConfig controls background discovery refresh.
type RefreshSchedulerConfig struct {
	Registry *Registry
	// Schedule is a five-field cron expression, evaluated in UTC.
	Schedule string
	// RefreshTimeout bounds each refresh run; zero means one minute.
	RefreshTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// RefreshScheduler re-runs tool discovery on a cron schedule, also
// sweeping expired cache entries on each tick.
type RefreshScheduler struct {
	registry       *Registry
	schedule       cron.Schedule
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefreshScheduler creates a refresh scheduler.
func NewRefreshScheduler(cfg RefreshSchedulerConfig) (*RefreshScheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool: refresh scheduler registry is nil")
	}
	schedule, err := parseRefreshSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &RefreshScheduler{
		registry:       cfg.Registry,
		schedule:       schedule,
		refreshTimeout: cfg.RefreshTimeout,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}, nil
}

// NextRun returns the next scheduled refresh time after now, in UTC.
func (s *RefreshScheduler) NextRun() time.Time {
	return s.schedule.Next(s.now().UTC())
}

// Start begins scheduler execution. Starting a running scheduler is a
// no-op.
func (s *RefreshScheduler) Start() error {
	if s == nil {
		return errors.New("tool: refresh scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			next := s.schedule.Next(s.now().UTC())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.RunOnce(loopCtx)
			}
		}
	}()

	return nil
}

// RunOnce performs one refresh pass immediately.
func (s *RefreshScheduler) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()

	swept := s.registry.SweepCache()
	if err := s.registry.Refresh(runCtx, ""); err != nil {
		s.logger.Warn("scheduled refresh failed", "error", err)
		return
	}
	s.logger.Debug("scheduled refresh complete", "swept", swept)
}

// Stop terminates scheduler execution and waits for the loop to exit.
func (s *RefreshScheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
