package scheduler

import (
	"context"
	"time"

	"github.com/iliyamo/tour-booking/internal/service"
)

// Job names.
const (
	JobExpirePending     = "expire-pending"
	JobAutoComplete      = "auto-complete"
	JobNotCompleted      = "not-completed"
	JobUnlockPenalized   = "unlock-penalized"
	JobPenalizeNoShows   = "penalize-no-shows"
	JobRecomputeRankings = "recompute-rankings"
)

// Specs holds the cron spec of every job.
type Specs struct {
	ExpirePending     string
	AutoComplete      string
	NotCompleted      string
	UnlockPenalized   string
	PenalizeNoShows   string
	RecomputeRankings string
}

// DefaultSpecs returns the production schedule.
func DefaultSpecs() Specs {
	return Specs{
		ExpirePending:     "@every 1m",
		AutoComplete:      "@every 1m",
		NotCompleted:      "@every 1m",
		UnlockPenalized:   "@hourly",
		PenalizeNoShows:   "@every 10m",
		RecomputeRankings: "@hourly",
	}
}

// BookingSweeper moves bookings whose deadlines passed.
type BookingSweeper interface {
	ExpireDue(ctx context.Context, now time.Time) (service.Sweep, error)
	AutoCompleteDue(ctx context.Context, now time.Time) (service.Sweep, error)
	NotCompletedDue(ctx context.Context, now time.Time) (service.Sweep, error)
}

// Penalizer locks and unlocks travelers.
type Penalizer interface {
	PenalizeNoShows(ctx context.Context, now time.Time) (int, error)
	UnlockExpired(ctx context.Context, now time.Time) (int64, error)
}

// Ranker recomputes every guide's ranking.
type Ranker interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// RegisterAll registers the reconciliation jobs on s.
func RegisterAll(s *Scheduler, specs Specs, bookings BookingSweeper, penalties Penalizer, ranking Ranker) error {
	jobs := []struct {
		name, spec string
		fn         JobFunc
	}{
		{JobExpirePending, specs.ExpirePending, sweep(bookings.ExpireDue)},
		{JobAutoComplete, specs.AutoComplete, sweep(bookings.AutoCompleteDue)},
		{JobNotCompleted, specs.NotCompleted, sweep(bookings.NotCompletedDue)},
		{JobUnlockPenalized, specs.UnlockPenalized, func(ctx context.Context, now time.Time) (Report, error) {
			n, err := penalties.UnlockExpired(ctx, now)
			return Report{Changed: int(n)}, err
		}},
		{JobPenalizeNoShows, specs.PenalizeNoShows, func(ctx context.Context, now time.Time) (Report, error) {
			n, err := penalties.PenalizeNoShows(ctx, now)
			return Report{Changed: n}, err
		}},
		{JobRecomputeRankings, specs.RecomputeRankings, func(ctx context.Context, _ time.Time) (Report, error) {
			n, err := ranking.RecomputeAll(ctx)
			return Report{Changed: n}, err
		}},
	}
	for _, j := range jobs {
		if err := s.Register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func sweep(fn func(context.Context, time.Time) (service.Sweep, error)) JobFunc {
	return func(ctx context.Context, now time.Time) (Report, error) {
		res, err := fn(ctx, now)
		return Report{Scanned: res.Scanned, Changed: res.Changed, Failed: res.Failed}, err
	}
}
