// Package lookup resolves client-visible scan ids to cache keys through three
// redundant TTL'd mappings in the shared KV store, with an in-process fast
// cache layered on top as a read-through optimization, never as the source of
// truth.
package lookup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/oppscan/internal/cache"
	"github.com/sawpanic/oppscan/internal/kv"
)

const (
	primaryPrefix  = "lookup:scan:"
	fallbackPrefix = "lookup:index:"
	userPrefix     = "lookup:user:"

	// fastTTL bounds how long a locally cached mapping is trusted without
	// touching the durable store. Mappings are immutable for a scan's
	// lifetime, so this only limits memory, not correctness.
	fastTTL = time.Minute
)

// Recorder receives the resolution path taken for each resolve call.
type Recorder interface {
	RecordLookup(path string)
}

type userRecord struct {
	ScanID   string `json:"scan_id"`
	CacheKey string `json:"cache_key"`
}

type fastEntry struct {
	cacheKey  string
	expiresAt time.Time
}

// Registry maps scan ids to cache keys. Any worker can resolve a scan id
// registered by any other worker through the durable mappings; the fast cache
// makes hot polling loops cheap after the first durable hit.
type Registry struct {
	kv       *kv.Client
	recorder Recorder

	mu   sync.RWMutex
	fast map[string]fastEntry
}

func NewRegistry(client *kv.Client, recorder Recorder) *Registry {
	return &Registry{
		kv:       client,
		recorder: recorder,
		fast:     make(map[string]fastEntry),
	}
}

// Register writes all three mappings with the same TTL. Writes are
// independent best-effort operations: one failure is logged and does not
// abort the others, which is exactly what makes the fallback index worth
// having.
func (r *Registry) Register(ctx context.Context, userID, scanID, cacheKey string, ttl time.Duration) {
	if err := r.kv.Set(ctx, primaryPrefix+scanID, cacheKey, ttl); err != nil {
		log.Warn().Err(err).Str("scan_id", scanID).Msg("primary lookup write failed")
	}
	if err := r.kv.Set(ctx, fallbackPrefix+scanID, cacheKey, ttl); err != nil {
		log.Warn().Err(err).Str("scan_id", scanID).Msg("fallback lookup write failed")
	}
	rec, _ := json.Marshal(userRecord{ScanID: scanID, CacheKey: cacheKey})
	if err := r.kv.Set(ctx, userPrefix+userID, string(rec), ttl); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("user-latest lookup write failed")
	}

	r.storeFast(scanID, cacheKey)
}

// Resolve returns the cache key for scanID, or ("", false) when every path is
// exhausted. A resolved key owned by a different user is a security violation,
// not a cache miss: it is logged and treated as unresolved.
func (r *Registry) Resolve(ctx context.Context, userID, scanID string) (string, bool) {
	if key, ok := r.loadFast(scanID); ok {
		if !r.owned(userID, scanID, key) {
			return "", false
		}
		r.record("fast")
		return key, true
	}

	if key, ok := r.durable(ctx, primaryPrefix+scanID, scanID); ok {
		if !r.owned(userID, scanID, key) {
			return "", false
		}
		r.record("primary")
		return key, true
	}

	if key, ok := r.durable(ctx, fallbackPrefix+scanID, scanID); ok {
		if !r.owned(userID, scanID, key) {
			return "", false
		}
		r.record("fallback")
		return key, true
	}

	// User-latest is best-effort convenience: only trusted when the stored
	// scan id matches the requested one, so a newer scan never shadows an
	// older id.
	if payload, found, err := r.kv.Get(ctx, userPrefix+userID); err == nil && found {
		var rec userRecord
		if json.Unmarshal([]byte(payload), &rec) == nil && rec.ScanID == scanID {
			if !r.owned(userID, scanID, rec.CacheKey) {
				return "", false
			}
			r.storeFast(scanID, rec.CacheKey)
			r.record("user_latest")
			return rec.CacheKey, true
		}
	}

	r.record("miss")
	return "", false
}

func (r *Registry) durable(ctx context.Context, key, scanID string) (string, bool) {
	payload, found, err := r.kv.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("lookup read failed")
		return "", false
	}
	if !found {
		return "", false
	}
	// Cross-worker writes become locally visible on second touch.
	r.storeFast(scanID, payload)
	return payload, true
}

func (r *Registry) owned(userID, scanID, cacheKey string) bool {
	owner, ok := cache.KeyOwner(cacheKey)
	if !ok || owner != userID {
		log.Error().
			Str("event", "security_violation").
			Str("scan_id", scanID).
			Str("caller", userID).
			Str("owner", owner).
			Msg("resolved cache key owned by another user")
		return false
	}
	return true
}

func (r *Registry) loadFast(scanID string) (string, bool) {
	r.mu.RLock()
	entry, ok := r.fast[scanID]
	r.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.cacheKey, true
}

func (r *Registry) storeFast(scanID, cacheKey string) {
	r.mu.Lock()
	r.fast[scanID] = fastEntry{cacheKey: cacheKey, expiresAt: time.Now().Add(fastTTL)}
	r.mu.Unlock()
}

func (r *Registry) record(path string) {
	if r.recorder != nil {
		r.recorder.RecordLookup(path)
	}
}
