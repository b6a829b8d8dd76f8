/*
reclaimer.go - Reservation Reclaimer

PURPOSE:
  Returns gift codes whose reservation was never completed to the free
  pool, and their unit to the reward's stock.

DESIGN:
  - Sweeps every reward once on start, then every Interval
  - A code is stale when reservedAt < now - Timeout (strictly older)
  - Each reward is released as one atomic batch in the store
  - A failing reward is logged and skipped; the others still run
  - Runs as a supervised service (Serve) and on demand (RunNow)

CONFIGURATION:
  - Interval: how often to sweep (default: 10 minutes)
  - Timeout:  reservation lifetime (default: 10 minutes)

USAGE:
  r := reclaimer.New(store, reclaimer.Config{})
  supervisor.Add(r)        // Serve(ctx) until ctx is cancelled
  report := r.RunNow(ctx)  // admin trigger

SEE ALSO:
  - ledger/store.go: ReservationStore
  - api/handlers.go: POST /api/admin/reclaim
*/
package reclaimer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/metrics"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultTimeout  = 10 * time.Minute
)

// Store is what the reclaimer needs: the reward list and the batch release.
type Store interface {
	ledger.ReservationStore
	ListRewards(ctx context.Context, filter ledger.RewardFilter) ([]ledger.Reward, error)
}

// Config tunes the sweep.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	At       time.Time
	Cutoff   time.Time
	Rewards  int
	Released map[string]int   // reward id -> codes released, only non-zero
	Failed   map[string]error // reward id -> error
}

// Total returns the number of codes released across rewards.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Released {
		n += c
	}
	return n
}

// Reclaimer releases expired reservations.
type Reclaimer struct {
	store Store
	cfg   Config
	log   zerolog.Logger

	mu   sync.Mutex // one sweep at a time
	last Report
}

// New creates a reclaimer. Zero config values take the defaults.
func New(store Store, cfg Config) *Reclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Reclaimer{store: store, cfg: cfg, log: logging.Component("reclaimer")}
}

// Serve sweeps on start and then every Interval until ctx is done.
func (r *Reclaimer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.cfg.Interval).Dur("timeout", r.cfg.Timeout).Msg("Reclaimer started")
	r.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			r.log.Info().Msg("Reclaimer stopped")
			return ctx.Err()
		}
	}
}

// String names the service in supervisor logs.
func (r *Reclaimer) String() string { return "reservation-reclaimer" }

// RunNow sweeps immediately.
func (r *Reclaimer) RunNow(ctx context.Context) Report {
	return r.Sweep(ctx)
}

// LastReport returns the most recent sweep.
func (r *Reclaimer) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Sweep releases stale reservations of every reward.
func (r *Reclaimer) Sweep(ctx context.Context) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.Clock()
	report := Report{
		At:       now,
		Cutoff:   now.Add(-r.cfg.Timeout),
		Released: make(map[string]int),
		Failed:   make(map[string]error),
	}

	rewards, err := r.store.ListRewards(ctx, ledger.RewardFilter{})
	if err != nil {
		r.log.Error().Err(err).Msg("Listing rewards failed")
		report.Failed["*"] = err
		r.finish(report)
		return report
	}
	report.Rewards = len(rewards)

	for _, reward := range rewards {
		if ctx.Err() != nil {
			report.Failed[reward.ID] = ctx.Err()
			continue
		}
		n, err := r.store.ReleaseExpiredReservations(ctx, reward.ID, report.Cutoff)
		if err != nil {
			r.log.Error().Err(err).Str("reward", reward.ID).Msg("Releasing reservations failed")
			report.Failed[reward.ID] = err
			continue
		}
		if n > 0 {
			report.Released[reward.ID] = n
			r.log.Info().Str("reward", reward.ID).Int("released", n).Msg("Released expired reservations")
		}
	}

	r.finish(report)
	return report
}

func (r *Reclaimer) finish(report Report) {
	status := "ok"
	if len(report.Failed) > 0 {
		status = "partial"
	}
	metrics.ReclaimSweeps.WithLabelValues(status).Inc()
	metrics.ReclaimedCodes.Add(float64(report.Total()))
	metrics.ReclaimLastSweep.Set(float64(report.At.Unix()))
	r.last = report

	if total := report.Total(); total > 0 || len(report.Failed) > 0 {
		r.log.Info().Int("released", total).Int("failed", len(report.Failed)).Int("rewards", report.Rewards).
			Msg("Sweep completed")
	}
}
