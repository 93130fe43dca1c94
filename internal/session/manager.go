// Package session orchestrates scan lifecycles: synchronous placeholder
// creation at initiation, detached batch execution, and the status/results
// read paths that stay consistent across stateless workers.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oppscan/internal/cache"
	"github.com/sawpanic/oppscan/internal/config"
	"github.com/sawpanic/oppscan/internal/entitlement"
	"github.com/sawpanic/oppscan/internal/metrics"
	"github.com/sawpanic/oppscan/internal/models"
	"github.com/sawpanic/oppscan/internal/scan"
	"github.com/sawpanic/oppscan/internal/strategy"
	"github.com/sawpanic/oppscan/internal/universe"
)

// ResultStore is the slice of the result cache the manager consumes.
type ResultStore interface {
	Put(ctx context.Context, cacheKey string, snap *models.ScanSnapshot, ttl time.Duration) error
	Get(ctx context.Context, cacheKey string) (*models.ScanSnapshot, bool, error)
}

// Lookup resolves and registers scan id mappings.
type Lookup interface {
	Register(ctx context.Context, userID, scanID, cacheKey string, ttl time.Duration)
	Resolve(ctx context.Context, userID, scanID string) (string, bool)
}

// Runner executes a scan batch to its terminal snapshot.
type Runner interface {
	Run(ctx context.Context, job scan.Job) *models.ScanSnapshot
}

// Archiver persists terminal snapshots. Optional and best-effort.
type Archiver interface {
	Insert(ctx context.Context, snap *models.ScanSnapshot) error
}

// StatusView is the polling answer for one scan.
type StatusView struct {
	Status              models.Status        `json:"status"`
	StrategiesCompleted int                  `json:"strategies_completed"`
	StrategiesTotal     int                  `json:"strategies_total"`
	Progress            float64              `json:"progress"`
	Opportunities       []models.Opportunity `json:"opportunities_so_far"`
}

// Manager owns the scan state machine.
type Manager struct {
	store        ResultStore
	lookup       Lookup
	runner       Runner
	registry     *strategy.Registry
	universe     universe.Provider
	entitlements entitlement.Service
	archive      Archiver
	metrics      *metrics.Metrics
	cfg          config.ScanConfig
}

func NewManager(
	store ResultStore,
	lookup Lookup,
	runner Runner,
	registry *strategy.Registry,
	provider universe.Provider,
	entitlements entitlement.Service,
	archive Archiver,
	m *metrics.Metrics,
	cfg config.ScanConfig,
) *Manager {
	return &Manager{
		store:        store,
		lookup:       lookup,
		runner:       runner,
		registry:     registry,
		universe:     provider,
		entitlements: entitlements,
		archive:      archive,
		metrics:      m,
		cfg:          cfg,
	}
}

// Initiate starts (or dedupes onto) a scan and returns its id without
// awaiting execution. The placeholder entry is written before the id is
// handed back, so a status poll issued immediately after resolves to
// scanning, never not-found.
func (m *Manager) Initiate(ctx context.Context, userID string, params models.ScanParams) (string, error) {
	cacheKey := cache.ResultKey(userID, params)

	// Dedupe by key, not by request instance: an active non-final entry for
	// the same normalized request re-uses the running scan.
	if existing, found, err := m.store.Get(ctx, cacheKey); err == nil && found && existing.Partial {
		log.Info().Str("scan_id", existing.ScanID).Str("user_id", userID).
			Msg("deduped onto active scan")
		m.lookup.Register(ctx, userID, existing.ScanID, cacheKey, m.cfg.LookupTTL())
		return existing.ScanID, nil
	}

	evaluators, err := m.entitledEvaluators(ctx, userID, params.Strategies)
	if err != nil {
		return "", err
	}

	symbols := params.Symbols
	if len(symbols) == 0 {
		symbols, err = m.universe.Discover(ctx, params.Tier)
		if err != nil {
			return "", err
		}
	}

	scanID := uuid.New().String()
	now := time.Now().UTC()
	snap := &models.ScanSnapshot{
		ScanID:          scanID,
		UserID:          userID,
		CacheKey:        cacheKey,
		Status:          models.StatusInitiated,
		StrategiesTotal: len(evaluators),
		Outcomes:        make(map[string]models.StrategyOutcome, len(evaluators)),
		Partial:         true,
		CreatedAt:       now,
		BudgetDeadline:  now.Add(m.cfg.Budget),
	}

	// Create-before-return: the placeholder must be durable before the
	// caller ever sees the scan id.
	if err := m.store.Put(ctx, cacheKey, snap, m.cfg.CacheTTL); err != nil {
		return "", err
	}
	m.lookup.Register(ctx, userID, scanID, cacheKey, m.cfg.LookupTTL())

	job := scan.Job{
		Snapshot:   snap,
		Evaluators: evaluators,
		Universe:   symbols,
		User:       models.UserContext{UserID: userID, Tier: params.Tier},
	}
	go m.execute(job)

	log.Info().Str("scan_id", scanID).Str("user_id", userID).
		Int("strategies", len(evaluators)).Int("symbols", len(symbols)).
		Msg("scan initiated")
	return scanID, nil
}

// execute runs the batch detached from the initiating request's context so
// client disconnects never kill a scan.
func (m *Manager) execute(job scan.Job) {
	final := m.runner.Run(context.Background(), job)

	if m.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.archive.Insert(ctx, final); err != nil {
			log.Warn().Err(err).Str("scan_id", final.ScanID).Msg("archive write failed")
		}
	}
}

// Status resolves and reads the latest snapshot for scanID.
func (m *Manager) Status(ctx context.Context, userID, scanID string) (*StatusView, error) {
	snap, err := m.read(ctx, userID, scanID)
	if err != nil {
		return nil, err
	}
	status := snap.Status
	if status == models.StatusInitiated {
		// The placeholder is observable before the scheduler's first write.
		status = models.StatusScanning
	}
	return &StatusView{
		Status:              status,
		StrategiesCompleted: snap.StrategiesCompleted,
		StrategiesTotal:     snap.StrategiesTotal,
		Progress:            snap.Progress(),
		Opportunities:       snap.Opportunities,
	}, nil
}

// Results returns the terminal payload, or ErrStillRunning while partial.
func (m *Manager) Results(ctx context.Context, userID, scanID string) (*models.ScanSnapshot, error) {
	snap, err := m.read(ctx, userID, scanID)
	if err != nil {
		return nil, err
	}
	if snap.Partial {
		return snap, ErrStillRunning
	}
	return snap, nil
}

func (m *Manager) read(ctx context.Context, userID, scanID string) (*models.ScanSnapshot, error) {
	cacheKey, ok := m.lookup.Resolve(ctx, userID, scanID)
	if !ok {
		return nil, ErrNotFound
	}
	snap, found, err := m.store.Get(ctx, cacheKey)
	if err != nil {
		// The store already retried once through its reconnect path;
		// degrade to not-found for this call only.
		log.Warn().Err(err).Str("scan_id", scanID).Msg("result read failed")
		return nil, ErrNotFound
	}
	if !found {
		if m.metrics != nil {
			m.metrics.CacheMisses.Inc()
		}
		return nil, ErrNotFound
	}
	if m.metrics != nil {
		m.metrics.CacheHits.Inc()
	}
	return snap, nil
}

func (m *Manager) entitledEvaluators(ctx context.Context, userID string, requested []string) ([]strategy.Evaluator, error) {
	active, err := m.entitlements.ActiveStrategies(ctx, userID)
	if err != nil {
		return nil, err
	}
	var evaluators []strategy.Evaluator
	for _, ev := range m.registry.Select(requested) {
		if active == nil || active[ev.ID()] {
			evaluators = append(evaluators, ev)
		}
	}
	if len(evaluators) == 0 {
		return nil, ErrNoStrategies
	}
	return evaluators, nil
}
