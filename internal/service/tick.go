package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jobwatch/internal/domain"
	"jobwatch/internal/filter"
	"jobwatch/internal/session"
)

// ErrRunEnded means the run that started a tick was stopped while the tick
// was in flight. The tick's remaining effects were skipped.
var ErrRunEnded = errors.New("run ended")

// Run is the per-tick snapshot handed over by the scheduler.
type Run struct {
	ID         string
	Feed       domain.FeedSelector
	Credential domain.Credential
	Config     domain.FilterConfig
	// Alive reports whether the run is still current. Nil means always.
	Alive func() bool
}

func (r Run) alive() bool {
	return r.Alive == nil || r.Alive()
}

type TickService struct {
	source     Source
	dedup      DedupStore
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewTickService(source Source, dedup DedupStore, dispatcher Dispatcher, logger *slog.Logger) *TickService {
	return &TickService{
		source:     source,
		dedup:      dedup,
		dispatcher: dispatcher,
		logger:     logger.With("component", "tick"),
		now:        time.Now,
	}
}

// Tick runs one poll: guard, fetch, classify, filter, dispatch, commit.
// Credential and fetch failures are returned unchanged in kind so the caller
// can decide whether they end the run.
func (s *TickService) Tick(ctx context.Context, run Run) (*domain.TickStats, error) {
	startTime := s.now()
	logger := s.logger.With("run_id", run.ID, "feed", run.Feed)

	stats := &domain.TickStats{RunID: run.ID, Feed: run.Feed}

	if !session.IsUsable(run.Credential, startTime) {
		return stats, fmt.Errorf("check session: %w", domain.ErrCredentialExpired)
	}

	page, err := s.source.Fetch(ctx, run.Feed, run.Credential)
	if err != nil {
		return stats, fmt.Errorf("fetch %s: %w", run.Feed, err)
	}
	stats.Fetched = len(page.Listings)

	if !run.alive() {
		return stats, ErrRunEnded
	}

	cls, err := s.dedup.Classify(ctx, run.Feed, page.Listings)
	if err != nil {
		return stats, fmt.Errorf("classify listings: %w", err)
	}

	if cls.IsFirstRun {
		stats.Baseline = true
		stats.Duration = s.now().Sub(startTime)
		logger.Info("baseline recorded", "fetched", stats.Fetched)
		return stats, nil
	}

	stats.New = len(cls.NewListings)
	if stats.New == 0 {
		stats.Duration = s.now().Sub(startTime)
		logger.Debug("no new listings", "fetched", stats.Fetched)
		return stats, nil
	}

	accepted := filter.Jobs(cls.NewListings, run.Config, s.now())
	stats.Accepted = len(accepted)

	if !run.alive() {
		return stats, ErrRunEnded
	}
	if len(accepted) > 0 {
		stats.Dispatched = s.dispatcher.Dispatch(accepted, page.DisplayName, run.Config)
	}

	if !run.alive() {
		return stats, ErrRunEnded
	}
	// Rejected listings are committed too, so they are never reconsidered.
	if err := s.dedup.Commit(ctx, run.Feed, domain.IDs(cls.NewListings)); err != nil {
		return stats, fmt.Errorf("commit seen ids: %w", err)
	}

	stats.Duration = s.now().Sub(startTime)

	logger.Info("tick completed",
		"fetched", stats.Fetched,
		"new", stats.New,
		"accepted", stats.Accepted,
		"dispatched", stats.Dispatched,
		"duration", stats.Duration,
	)

	return stats, nil
}
