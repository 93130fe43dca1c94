// Package scan runs one batch of strategy evaluators against an asset
// universe under a wall-clock budget, reporting incremental progress into the
// shared result cache after every completion.
package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oppscan/internal/metrics"
	"github.com/sawpanic/oppscan/internal/models"
	"github.com/sawpanic/oppscan/internal/strategy"
)

// progress writes are detached from the budget context so the final snapshot
// still lands after the budget expires.
const writeTimeout = 5 * time.Second

// Store is the slice of the result cache the scheduler needs.
type Store interface {
	Put(ctx context.Context, cacheKey string, snap *models.ScanSnapshot, ttl time.Duration) error
}

// Config carries the two-level timeout budget and the concurrency cap.
type Config struct {
	// Budget is the hard ceiling for the whole batch.
	Budget time.Duration
	// MinStrategyTimeout / MaxStrategyTimeout clamp the dynamic per-strategy
	// timeout. MaxStrategyTimeout may exceed Budget: the per-strategy timeout
	// is a runaway-evaluator safety net, and shrinking it below realistic
	// completion time causes systemic false timeouts even when the overall
	// budget has headroom.
	MinStrategyTimeout time.Duration
	MaxStrategyTimeout time.Duration
	// Concurrency bounds simultaneous evaluators so a wide scan does not
	// overwhelm downstream exchange and AI rate limits.
	Concurrency int
	// CacheTTL is applied on every progress write, refreshing the entry so a
	// long scan never expires its own record mid-flight.
	CacheTTL time.Duration
}

// Job is one scan batch handed off by the session manager.
type Job struct {
	Snapshot   *models.ScanSnapshot // placeholder already persisted at initiation
	Evaluators []strategy.Evaluator
	Universe   []string
	User       models.UserContext
}

// Scheduler executes scan jobs. A single scheduler instance owns a given
// scan, so an in-process mutex is all the serialization progress merges need.
type Scheduler struct {
	cfg     Config
	store   Store
	metrics *metrics.Metrics
}

func NewScheduler(cfg Config, store Store, m *metrics.Metrics) *Scheduler {
	return &Scheduler{cfg: cfg, store: store, metrics: m}
}

type evalResult struct {
	opportunities []models.Opportunity
	err           error
}

// Run executes the batch and returns the terminal snapshot. Completed results
// are merged as they arrive; evaluators still in flight at budget expiry are
// cancelled and tagged timed_out, never silently dropped. One evaluator's
// failure is isolated from its siblings.
func (s *Scheduler) Run(ctx context.Context, job Job) *models.ScanSnapshot {
	snap := job.Snapshot
	snap.Status = models.StatusScanning
	snap.StrategiesTotal = len(job.Evaluators)
	snap.BudgetDeadline = time.Now().Add(s.cfg.Budget)
	if snap.Outcomes == nil {
		snap.Outcomes = make(map[string]models.StrategyOutcome, len(job.Evaluators))
	}

	if s.metrics != nil {
		s.metrics.ActiveScans.Inc()
		defer s.metrics.ActiveScans.Dec()
	}

	budgetCtx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		pending = len(job.Evaluators)
		sem     = make(chan struct{}, s.cfg.Concurrency)
	)

	mu.Lock()
	s.put(snap)
	mu.Unlock()

	for _, ev := range job.Evaluators {
		wg.Add(1)
		go func(ev strategy.Evaluator) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-budgetCtx.Done():
				// Never dispatched: budget ran out while queued.
				s.merge(snap, &mu, &pending, models.StrategyOutcome{
					Strategy: ev.ID(),
					Outcome:  models.OutcomeTimedOut,
					Error:    "not started before budget expiry",
				}, nil)
				return
			}

			mu.Lock()
			timeout := strategyTimeout(time.Until(snap.BudgetDeadline), pending,
				s.cfg.Concurrency, s.cfg.MinStrategyTimeout, s.cfg.MaxStrategyTimeout)
			mu.Unlock()

			evalCtx, evalCancel := context.WithTimeout(budgetCtx, timeout)
			defer evalCancel()

			start := time.Now()
			outcome, opportunities := s.evaluate(evalCtx, budgetCtx, ev, job)
			outcome.Duration = time.Since(start)
			outcome.Opportunities = len(opportunities)

			s.merge(snap, &mu, &pending, outcome, opportunities)
		}(ev)
	}

	wg.Wait()
	return s.finalize(snap, &mu, job.Evaluators)
}

// evaluate runs one evaluator in its own goroutine so a non-cooperative hang
// cannot stall the batch past its timeout; the rogue goroutine is abandoned
// and its eventual result discarded.
func (s *Scheduler) evaluate(evalCtx, budgetCtx context.Context, ev strategy.Evaluator, job Job) (models.StrategyOutcome, []models.Opportunity) {
	resultCh := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- evalResult{err: fmt.Errorf("evaluator panic: %v", r)}
			}
		}()
		opportunities, err := ev.Evaluate(evalCtx, job.Universe, job.User)
		resultCh <- evalResult{opportunities: opportunities, err: err}
	}()

	outcome := models.StrategyOutcome{Strategy: ev.ID()}

	select {
	case res := <-resultCh:
		switch {
		case res.err == nil:
			outcome.Outcome = models.OutcomeSuccess
		case budgetCtx.Err() != nil || evalCtx.Err() != nil:
			outcome.Outcome = models.OutcomeTimedOut
			outcome.Error = timeoutReason(budgetCtx)
		default:
			outcome.Outcome = models.OutcomeError
			outcome.Error = res.err.Error()
		}
		// Opportunities returned alongside an error are still kept.
		return outcome, res.opportunities
	case <-evalCtx.Done():
		outcome.Outcome = models.OutcomeTimedOut
		outcome.Error = timeoutReason(budgetCtx)
		return outcome, nil
	}
}

func timeoutReason(budgetCtx context.Context) string {
	if budgetCtx.Err() != nil {
		return "cancelled at budget expiry"
	}
	return "exceeded per-strategy timeout"
}

// merge applies one completion to the snapshot and re-puts the partial
// payload. The mutation and its re-put form a single critical section per
// cache key: with last-write-wins storage, a re-put outside the lock could
// land after a newer snapshot and roll the completed counter backwards.
func (s *Scheduler) merge(snap *models.ScanSnapshot, mu *sync.Mutex, pending *int,
	outcome models.StrategyOutcome, opportunities []models.Opportunity) {

	mu.Lock()
	*pending--
	snap.StrategiesCompleted++
	snap.Outcomes[outcome.Strategy] = outcome
	snap.Opportunities = append(snap.Opportunities, opportunities...)
	s.put(snap)
	mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveEvaluator(outcome.Strategy, string(outcome.Outcome), outcome.Duration)
	}
	if outcome.Outcome == models.OutcomeError {
		log.Warn().Str("scan_id", snap.ScanID).Str("strategy", outcome.Strategy).
			Str("error", outcome.Error).Msg("evaluator failed, batch continues")
	}
}

// put writes a detached copy of the current snapshot, refreshing its TTL.
// Callers hold mu.
func (s *Scheduler) put(snap *models.ScanSnapshot) {
	dup := *snap
	dup.Opportunities = append([]models.Opportunity(nil), snap.Opportunities...)
	dup.Outcomes = make(map[string]models.StrategyOutcome, len(snap.Outcomes))
	for k, v := range snap.Outcomes {
		dup.Outcomes[k] = v
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.store.Put(writeCtx, dup.CacheKey, &dup, s.cfg.CacheTTL); err != nil {
		log.Warn().Err(err).Str("scan_id", dup.ScanID).Msg("progress write failed")
	}
}

func (s *Scheduler) finalize(snap *models.ScanSnapshot, mu *sync.Mutex, evaluators []strategy.Evaluator) *models.ScanSnapshot {
	mu.Lock()
	status := models.StatusComplete
	for _, outcome := range snap.Outcomes {
		if outcome.Outcome == models.OutcomeTimedOut {
			status = models.StatusPartial
			break
		}
	}
	snap.Status = status
	snap.Partial = false
	now := time.Now().UTC()
	snap.FinishedAt = &now
	Rank(snap.Opportunities, priorities(evaluators))
	final := *snap

	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	if err := s.store.Put(writeCtx, final.CacheKey, &final, s.cfg.CacheTTL); err != nil {
		log.Error().Err(err).Str("scan_id", final.ScanID).Msg("final write failed")
	}
	cancel()
	mu.Unlock()

	if s.metrics != nil {
		s.metrics.ScansTotal.WithLabelValues(string(status)).Inc()
	}

	log.Info().Str("scan_id", final.ScanID).Str("status", string(status)).
		Int("completed", final.StrategiesCompleted).Int("total", final.StrategiesTotal).
		Int("opportunities", len(final.Opportunities)).Msg("scan finished")

	return &final
}

// strategyTimeout computes the dynamic per-strategy timeout:
// clamp(min, max, remaining budget / remaining batches).
func strategyTimeout(remaining time.Duration, pending, concurrency int, min, max time.Duration) time.Duration {
	if pending < 1 {
		pending = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	batches := (pending + concurrency - 1) / concurrency
	timeout := remaining / time.Duration(batches)
	if timeout < min {
		return min
	}
	if timeout > max {
		return max
	}
	return timeout
}

func priorities(evaluators []strategy.Evaluator) map[string]int {
	p := make(map[string]int, len(evaluators))
	for _, ev := range evaluators {
		p[ev.ID()] = ev.Priority()
	}
	return p
}
