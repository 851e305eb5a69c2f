package domain

import "time"

// Credential is a bearer token supplied at start and never refreshed by the
// engine.
type Credential struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

type EngineState int

const (
	StateStopped EngineState = iota
	StateRunning
)

func (s EngineState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Indicator is the visible status shown by a control surface.
type Indicator string

const (
	IndicatorStopped   Indicator = "stopped"
	IndicatorRunning   Indicator = "running"
	IndicatorAuthError Indicator = "auth-error"
	IndicatorError     Indicator = "error"
)

type Status struct {
	State     EngineState
	Indicator Indicator
	RunID     string
	LastError string
}

func (s Status) IsRunning() bool { return s.State == StateRunning }

// StatusChanged is published whenever the engine starts or stops, including
// autonomous stops on fatal errors.
type StatusChanged struct {
	IsRunning bool      `json:"isRunning"`
	Indicator Indicator `json:"indicator"`
	Reason    string    `json:"reason,omitempty"`
	RunID     string    `json:"runId,omitempty"`
}

// FeedCursor is the per-feed dedup state.
type FeedCursor struct {
	FeedName    FeedSelector `json:"feedName"`
	SeenIDs     []string     `json:"seenIds"`
	Initialized bool         `json:"initialized"`
}

// TickStats holds statistics about one tick.
type TickStats struct {
	RunID      string        `json:"runId"`
	Feed       FeedSelector  `json:"feed"`
	Fetched    int           `json:"fetched"`
	New        int           `json:"new"`
	Accepted   int           `json:"accepted"`
	Dispatched int           `json:"dispatched"`
	Baseline   bool          `json:"baseline"`
	Duration   time.Duration `json:"durationNs"`
}
