package models

import (
	"time"
)

// Status is the lifecycle state of a scan session as exposed to clients.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusScanning  Status = "scanning"
	StatusPartial   Status = "partial"  // budget expired with strategies outstanding
	StatusComplete  Status = "complete" // every scheduled strategy finished
)

// Terminal reports whether no further updates will be written for this status.
func (s Status) Terminal() bool {
	return s == StatusPartial || s == StatusComplete
}

// Outcome classifies how a single strategy evaluation ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimedOut Outcome = "timed_out"
)

// Opportunity is a single actionable signal produced by a strategy evaluator.
// Opportunities are replaceable while a scan is partial and frozen once the
// final snapshot is written.
type Opportunity struct {
	Strategy    string  `json:"strategy"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"` // buy|sell|hold
	Signal      float64 `json:"signal"`
	Confidence  float64 `json:"confidence"`
	Entry       float64 `json:"entry,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	Target      float64 `json:"target,omitempty"`
	PositionPct float64 `json:"position_pct,omitempty"`
}

// StrategyOutcome records how one evaluator finished. Timed-out and failed
// strategies stay visible in the final payload instead of vanishing.
type StrategyOutcome struct {
	Strategy      string        `json:"strategy"`
	Outcome       Outcome       `json:"outcome"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	Opportunities int           `json:"opportunities"`
}

// ScanSnapshot is the serialized view of a scan session stored in the result
// cache. It is overwritten wholesale on every progress update; the write that
// sets Partial=false is the authoritative terminal state.
type ScanSnapshot struct {
	ScanID              string                     `json:"scan_id"`
	UserID              string                     `json:"user_id"`
	CacheKey            string                     `json:"cache_key"`
	Status              Status                     `json:"status"`
	StrategiesTotal     int                        `json:"strategies_total"`
	StrategiesCompleted int                        `json:"strategies_completed"`
	Opportunities       []Opportunity              `json:"opportunities"`
	Outcomes            map[string]StrategyOutcome `json:"outcomes"`
	Partial             bool                       `json:"partial"`
	CreatedAt           time.Time                  `json:"created_at"`
	BudgetDeadline      time.Time                  `json:"budget_deadline"`
	FinishedAt          *time.Time                 `json:"finished_at,omitempty"`
}

// Progress returns the completed fraction in [0,1].
func (s *ScanSnapshot) Progress() float64 {
	if s.StrategiesTotal == 0 {
		return 0
	}
	return float64(s.StrategiesCompleted) / float64(s.StrategiesTotal)
}

// UserContext carries the caller identity and tier through evaluator calls.
type UserContext struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

// ScanParams are the client-supplied knobs for one scan request. Normalized
// params plus the user id determine the cache key, so two identical requests
// from the same user dedupe onto one running scan.
type ScanParams struct {
	Strategies []string `json:"strategies,omitempty"` // empty = all entitled
	Symbols    []string `json:"symbols,omitempty"`    // empty = discovered universe
	Tier       string   `json:"tier,omitempty"`
}
