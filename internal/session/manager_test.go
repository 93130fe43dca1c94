package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oppscan/internal/config"
	"github.com/sawpanic/oppscan/internal/entitlement"
	"github.com/sawpanic/oppscan/internal/models"
	"github.com/sawpanic/oppscan/internal/scan"
	"github.com/sawpanic/oppscan/internal/strategy"
	"github.com/sawpanic/oppscan/internal/universe"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]models.ScanSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]models.ScanSnapshot)}
}

func (s *fakeStore) Put(_ context.Context, key string, snap *models.ScanSnapshot, _ time.Duration) error {
	s.mu.Lock()
	s.entries[key] = *snap
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (*models.ScanSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	dup := snap
	return &dup, true, nil
}

func (s *fakeStore) delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

type fakeLookup struct {
	mu       sync.Mutex
	mappings map[string]string // scanID -> cacheKey
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{mappings: make(map[string]string)}
}

func (l *fakeLookup) Register(_ context.Context, _, scanID, cacheKey string, _ time.Duration) {
	l.mu.Lock()
	l.mappings[scanID] = cacheKey
	l.mu.Unlock()
}

func (l *fakeLookup) Resolve(_ context.Context, _, scanID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.mappings[scanID]
	return key, ok
}

// captureRunner records the job and optionally finalizes the snapshot.
type captureRunner struct {
	mu       sync.Mutex
	jobs     []scan.Job
	finalize func(store *fakeStore, job scan.Job)
	store    *fakeStore
	done     chan struct{}
}

func (r *captureRunner) Run(_ context.Context, job scan.Job) *models.ScanSnapshot {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	if r.finalize != nil {
		r.finalize(r.store, job)
	}
	if r.done != nil {
		close(r.done)
	}
	return job.Snapshot
}

func (r *captureRunner) lastJob() scan.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[len(r.jobs)-1]
}

type stubEvaluator struct{ id string }

func (s *stubEvaluator) ID() string    { return s.id }
func (s *stubEvaluator) Priority() int { return 1 }
func (s *stubEvaluator) Evaluate(context.Context, []string, models.UserContext) ([]models.Opportunity, error) {
	return nil, nil
}

func scanConfig() config.ScanConfig {
	return config.ScanConfig{
		Budget:             time.Second,
		MinStrategyTimeout: 100 * time.Millisecond,
		MaxStrategyTimeout: 2 * time.Second,
		Concurrency:        2,
		CacheTTL:           time.Minute,
		LookupTTLBuffer:    time.Minute,
	}
}

func newManager(t *testing.T, runner Runner, ent entitlement.Service) (*Manager, *fakeStore, *fakeLookup) {
	t.Helper()
	store := newFakeStore()
	lookups := newFakeLookup()
	registry := strategy.NewRegistry(
		&stubEvaluator{id: "momentum"},
		&stubEvaluator{id: "volume_surge"},
		&stubEvaluator{id: "mean_reversion"},
	)
	mgr := NewManager(store, lookups, runner, registry,
		universe.NewStatic(), ent, nil, nil, scanConfig())
	return mgr, store, lookups
}

func TestStatusImmediatelyAfterInitiate(t *testing.T) {
	mgr, _, _ := newManager(t, &captureRunner{}, entitlement.AllowAll{})

	scanID, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{Tier: "pro"})
	require.NoError(t, err)
	require.NotEmpty(t, scanID)

	// The placeholder is written before Initiate returns, so an immediate
	// poll can never see not-found.
	view, err := mgr.Status(context.Background(), "user-1", scanID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScanning, view.Status)
	assert.Equal(t, 0, view.StrategiesCompleted)
	assert.Equal(t, 3, view.StrategiesTotal)
	assert.Zero(t, view.Progress)
}

func TestInitiateDedupesIdenticalRequests(t *testing.T) {
	mgr, _, _ := newManager(t, &captureRunner{}, entitlement.AllowAll{})

	params := models.ScanParams{Strategies: []string{"momentum", "volume_surge"}, Tier: "pro"}
	first, err := mgr.Initiate(context.Background(), "user-1", params)
	require.NoError(t, err)

	// Same normalized request while the scan is active re-uses it.
	reordered := models.ScanParams{Strategies: []string{"volume_surge", "momentum"}, Tier: "PRO"}
	second, err := mgr.Initiate(context.Background(), "user-1", reordered)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A different request starts a new scan.
	third, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{Tier: "free"})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestResultsStillRunningIsNotNotFound(t *testing.T) {
	mgr, _, _ := newManager(t, &captureRunner{}, entitlement.AllowAll{})

	scanID, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{})
	require.NoError(t, err)

	snap, err := mgr.Results(context.Background(), "user-1", scanID)
	assert.ErrorIs(t, err, ErrStillRunning)
	require.NotNil(t, snap, "still-running responses carry the partial snapshot")
	assert.True(t, snap.Partial)
}

func TestResultsAfterCompletion(t *testing.T) {
	done := make(chan struct{})
	runner := &captureRunner{done: done}
	runner.finalize = func(store *fakeStore, job scan.Job) {
		final := *job.Snapshot
		final.Status = models.StatusComplete
		final.Partial = false
		final.StrategiesCompleted = final.StrategiesTotal
		final.Opportunities = []models.Opportunity{{Strategy: "momentum", Symbol: "BTC-USD", Action: "buy", Signal: 0.8, Confidence: 0.7}}
		_ = store.Put(context.Background(), final.CacheKey, &final, time.Minute)
	}

	mgr, store, _ := newManager(t, runner, entitlement.AllowAll{})
	runner.store = store

	scanID, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner never executed")
	}

	snap, err := mgr.Results(context.Background(), "user-1", scanID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, snap.Status)
	assert.Len(t, snap.Opportunities, 1)
}

func TestUnknownScanIDIsNotFound(t *testing.T) {
	mgr, _, _ := newManager(t, &captureRunner{}, entitlement.AllowAll{})

	_, err := mgr.Status(context.Background(), "user-1", "no-such-scan")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Results(context.Background(), "user-1", "no-such-scan")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredEntryIsNotFound(t *testing.T) {
	mgr, store, lookups := newManager(t, &captureRunner{}, entitlement.AllowAll{})

	scanID, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{})
	require.NoError(t, err)

	// Simulate TTL expiry of the cache entry while the lookup mapping lives on.
	key, ok := lookups.Resolve(context.Background(), "user-1", scanID)
	require.True(t, ok)
	store.delete(key)

	_, err = mgr.Status(context.Background(), "user-1", scanID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntitlementFiltersScheduledStrategies(t *testing.T) {
	runner := &captureRunner{done: make(chan struct{})}
	ent := &entitlement.Static{Users: map[string][]string{"user-1": {"momentum"}}}
	mgr, _, _ := newManager(t, runner, ent)

	_, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{})
	require.NoError(t, err)

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("runner never executed")
	}

	job := runner.lastJob()
	require.Len(t, job.Evaluators, 1)
	assert.Equal(t, "momentum", job.Evaluators[0].ID())
}

func TestInitiateFailsWithNoEntitledStrategies(t *testing.T) {
	ent := &entitlement.Static{Users: map[string][]string{}, Default: []string{}}
	mgr, _, _ := newManager(t, &captureRunner{}, ent)

	_, err := mgr.Initiate(context.Background(), "user-1", models.ScanParams{})
	assert.ErrorIs(t, err, ErrNoStrategies)
}
