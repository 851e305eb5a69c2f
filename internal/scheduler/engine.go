// Package scheduler owns the monitoring engine: its Running/Stopped state,
// the poll cadence and the reaction to fatal tick errors.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/service"
	"jobwatch/internal/storage"
)

// Ticker runs one poll of a feed.
type Ticker interface {
	Tick(ctx context.Context, run service.Run) (*domain.TickStats, error)
}

// CursorResetter forgets all dedup state.
type CursorResetter interface {
	Reset(ctx context.Context) error
}

type ErrorNotifier interface {
	NotifyError(message string, cfg domain.FilterConfig)
}

type StartOption func(*startOptions)

type startOptions struct {
	clamp bool
}

// WithClampInterval raises a poll interval below the floor instead of
// rejecting the config.
func WithClampInterval() StartOption {
	return func(o *startOptions) { o.clamp = true }
}

// Engine is safe for concurrent use. At most one tick runs at a time and a
// tick that outlives its run has no visible effect.
type Engine struct {
	ticker   Ticker
	cursors  CursorResetter
	notifier ErrorNotifier
	kv       storage.KV
	bus      *eventbus.Bus
	logger   *slog.Logger

	now      func() time.Time
	schedule func(time.Duration) cron.Schedule

	// tickMu is held for the duration of a tick. Start takes it so a tick
	// left over from an earlier run cannot touch dedup state after the reset.
	tickMu sync.Mutex

	mu        sync.Mutex
	state     domain.EngineState
	indicator domain.Indicator
	lastError string
	runID     string
	cfg       domain.FilterConfig
	cred      domain.Credential
	feedIndex int
	startedAt time.Time
	cron      *cron.Cron
	cancel    context.CancelFunc
}

func NewEngine(
	ticker Ticker,
	cursors CursorResetter,
	notifier ErrorNotifier,
	kv storage.KV,
	bus *eventbus.Bus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ticker:    ticker,
		cursors:   cursors,
		notifier:  notifier,
		kv:        kv,
		bus:       bus,
		logger:    logger.With("component", "engine"),
		now:       time.Now,
		schedule:  func(d time.Duration) cron.Schedule { return cron.Every(d) },
		state:     domain.StateStopped,
		indicator: domain.IndicatorStopped,
	}
}

// Start begins a fresh run: dedup state is cleared, one tick runs at once and
// further ticks follow every poll interval.
func (e *Engine) Start(ctx context.Context, cfg domain.FilterConfig, cred domain.Credential, opts ...StartOption) error {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	if e.IsRunning() {
		return domain.ErrAlreadyRunning
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == domain.StateRunning {
		return domain.ErrAlreadyRunning
	}

	if o.clamp {
		if clamped, changed := cfg.WithClampedInterval(); changed {
			e.logger.Warn("poll interval raised to minimum",
				"requested_seconds", cfg.PollIntervalSeconds,
				"seconds", clamped.PollIntervalSeconds,
			)
			cfg = clamped
		}
	}
	if err := validateStart(cfg, cred); err != nil {
		return err
	}

	if err := e.cursors.Reset(ctx); err != nil {
		return fmt.Errorf("reset dedup state: %w", err)
	}

	e.runID = uuid.NewString()
	e.cfg = cfg
	e.cred = cred
	e.feedIndex = 0
	e.startedAt = e.now()
	e.saveRecord(ctx)
	e.beginLocked()

	e.logger.Info("engine started",
		"run_id", e.runID,
		"feeds", len(cfg.Feeds()),
		"interval", cfg.PollInterval(),
	)
	e.publishStatus("started")
	return nil
}

// Resume continues a persisted run after a host restart without clearing
// dedup state. The run record never holds the bearer token, so the caller
// supplies the credential to resume with. It reports whether a run was
// resumed.
func (e *Engine) Resume(ctx context.Context, cred domain.Credential) (bool, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == domain.StateRunning {
		return false, nil
	}

	rec, err := e.loadRecord(ctx)
	if err != nil {
		return false, fmt.Errorf("load run record: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	if err := validateStart(rec.Config, cred); err != nil {
		_ = e.removeRecord(ctx)
		return false, fmt.Errorf("persisted run: %w", err)
	}

	e.runID = rec.RunID
	e.cfg = rec.Config
	e.cred = cred
	e.feedIndex = rec.FeedIndex
	e.startedAt = rec.StartedAt
	e.beginLocked()

	e.logger.Info("engine resumed", "run_id", e.runID, "since", e.startedAt)
	e.publishStatus("resumed")
	return true, nil
}

// Stop ends the current run. Stopping a stopped engine does nothing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != domain.StateRunning {
		e.mu.Unlock()
		return nil
	}

	runID := e.runID
	e.indicator = domain.IndicatorStopped
	e.lastError = ""
	e.haltLocked()
	err := e.removeRecord(context.Background())
	e.publishStatus("stopped")
	e.mu.Unlock()

	e.logger.Info("engine stopped", "run_id", runID)
	if err != nil {
		return fmt.Errorf("remove run record: %w", err)
	}
	return nil
}

// Shutdown halts ticking for process exit. Unlike Stop the run record is
// kept so Resume can pick the run up again. It waits for an in-flight tick
// until ctx is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.state != domain.StateRunning {
		e.mu.Unlock()
		return nil
	}
	c := e.cron
	e.haltLocked()
	e.mu.Unlock()

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == domain.StateRunning
}

func (e *Engine) Status() domain.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Status{
		State:     e.state,
		Indicator: e.indicator,
		RunID:     e.runID,
		LastError: e.lastError,
	}
}

// Subscribe streams status and tick events.
func (e *Engine) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// beginLocked marks the engine Running and starts the cadence with an
// immediate first tick. e.mu must be held.
func (e *Engine) beginLocked() {
	runCtx, cancel := context.WithCancel(context.Background())
	runID := e.runID

	logger := cronLogger{logger: e.logger}
	job := cron.NewChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	).Then(cron.FuncJob(func() { e.tick(runCtx, runID) }))

	c := cron.New(cron.WithLogger(logger))
	c.Schedule(e.schedule(e.cfg.PollInterval()), job)
	c.Start()

	e.state = domain.StateRunning
	e.indicator = domain.IndicatorRunning
	e.lastError = ""
	e.cron = c
	e.cancel = cancel

	go job.Run()
}

// haltLocked stops the cadence and cancels the in-flight tick without
// waiting for it, since it may be called from within that tick. e.mu must
// be held.
func (e *Engine) haltLocked() {
	if e.cron != nil {
		e.cron.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.state = domain.StateStopped
	e.runID = ""
}

func (e *Engine) current(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == domain.StateRunning && e.runID == runID
}

func (e *Engine) tick(ctx context.Context, runID string) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.mu.Lock()
	if e.state != domain.StateRunning || e.runID != runID {
		e.mu.Unlock()
		return
	}
	feeds := e.cfg.Feeds()
	run := service.Run{
		ID:         runID,
		Feed:       feeds[e.feedIndex%len(feeds)],
		Credential: e.cred,
		Config:     e.cfg,
		Alive:      func() bool { return e.current(runID) },
	}
	if len(feeds) > 1 {
		e.feedIndex = (e.feedIndex + 1) % len(feeds)
		e.saveRecord(ctx)
	}
	e.mu.Unlock()

	tickCtx, cancel := context.WithTimeout(ctx, tickTimeout(run.Config))
	defer cancel()

	stats, err := e.ticker.Tick(tickCtx, run)
	switch {
	case err == nil:
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: *stats})
	case errors.Is(err, service.ErrRunEnded) || ctx.Err() != nil:
		e.logger.Debug("tick outlived its run", "run_id", runID)
	case domain.IsAuthFailure(err) || errors.Is(err, domain.ErrFetchFailure):
		e.fail(runID, err)
	default:
		e.logger.Error("tick failed", "run_id", runID, "feed", run.Feed, "error", err)
	}
}

// fail is the error path: record the cause, notify once, stop the run.
func (e *Engine) fail(runID string, cause error) {
	msg := failureMessage(cause)

	e.mu.Lock()
	if e.state != domain.StateRunning || e.runID != runID {
		e.mu.Unlock()
		return
	}
	cfg := e.cfg
	e.indicator = domain.IndicatorError
	if domain.IsAuthFailure(cause) {
		e.indicator = domain.IndicatorAuthError
	}
	e.lastError = msg
	e.haltLocked()
	if err := e.removeRecord(context.Background()); err != nil {
		e.logger.Warn("failed to remove run record", "error", err)
	}
	e.notifier.NotifyError(msg, cfg)
	e.publishStatus(msg)
	e.mu.Unlock()

	e.logger.Error("engine stopped on error",
		"run_id", runID,
		"error", cause,
	)
}

// publishStatus must be called with e.mu held so events follow state order.
func (e *Engine) publishStatus(reason string) {
	e.bus.Publish(eventbus.Event{
		Type: eventbus.TypeStatusChanged,
		Data: domain.StatusChanged{
			IsRunning: e.state == domain.StateRunning,
			Indicator: e.indicator,
			Reason:    reason,
			RunID:     e.runID,
		},
	})
}

func validateStart(cfg domain.FilterConfig, cred domain.Credential) error {
	err := cfg.Validate()
	if strings.TrimSpace(cred.Token) != "" {
		return err
	}

	var v *domain.ValidationError
	if !errors.As(err, &v) {
		v = &domain.ValidationError{}
	}
	v.Add("credential.token", "bearer token is required")
	return v
}

func failureMessage(err error) string {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	if errors.Is(err, domain.ErrCredentialExpired) {
		return "credential expired"
	}
	return err.Error()
}

func tickTimeout(cfg domain.FilterConfig) time.Duration {
	d := cfg.PollInterval()
	if d < domain.MinPollIntervalSeconds*time.Second {
		d = domain.MinPollIntervalSeconds * time.Second
	}
	return d
}
