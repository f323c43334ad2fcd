package outbox

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Sweeper retries pending events in the background, decoupling "handler
// produced an event" from "event reached the bus". Publishing is
// rate-limited so a backed-up outbox cannot saturate the broker.
type Sweeper struct {
	store       Store
	limiter     *rate.Limiter
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

// SweeperConfig tunes the background sweep.
type SweeperConfig struct {
	Interval    time.Duration // time between sweeps (default 5s)
	BatchSize   int           // max events scanned per sweep (default 100)
	MaxAttempts int           // attempts before an event is dead-lettered (default 10)
	RatePerSec  float64       // publish rate limit (default 50/s)
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store Store, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 50
	}
	return &Sweeper{
		store:       store,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		logger:      slog.Default().With("component", "outbox-sweeper"),
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.WarnContext(ctx, "sweep incomplete", "published", n, "error", err)
			}
		}
	}
}

// SweepOnce scans pending events and publishes per owning execution.
// Returns the number of events published.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	pending, err := s.store.ListUnpublished(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	executions := make([]string, 0)
	seen := make(map[string]bool)
	for _, ev := range pending {
		if ev.Attempts >= s.maxAttempts {
			s.logger.WarnContext(ctx, "event dead-lettered",
				"event_id", ev.ID, "execution_id", ev.ExecutionID, "attempts", ev.Attempts)
			continue
		}
		if !seen[ev.ExecutionID] {
			seen[ev.ExecutionID] = true
			executions = append(executions, ev.ExecutionID)
		}
	}

	published := 0
	for _, execID := range executions {
		if err := s.limiter.Wait(ctx); err != nil {
			return published, err
		}
		n, err := s.store.PublishEvents(ctx, execID)
		published += n
		if err != nil {
			// Leave the remainder for the next sweep.
			s.logger.WarnContext(ctx, "publish retry failed", "execution_id", execID, "error", err)
		}
	}
	return published, nil
}
