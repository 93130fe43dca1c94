// Package cache implements the durable result store: TTL-scoped scan
// snapshots shared by every worker process through the KV substrate.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sawpanic/oppscan/internal/kv"
	"github.com/sawpanic/oppscan/internal/models"
)

const keyPrefix = "scan"

// ResultKey derives the deterministic cache key for a user and scan request.
// The key embeds the user id so any resolution can be ownership-checked, and
// identical requests from the same user hash to the same key, which is what
// request-level dedupe hangs off.
func ResultKey(userID string, params models.ScanParams) string {
	h := sha256.Sum256([]byte(userID + "|" + Normalize(params)))
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, hex.EncodeToString(h[:])[:16])
}

// KeyOwner extracts the user id embedded in a cache key.
func KeyOwner(cacheKey string) (string, bool) {
	parts := strings.SplitN(cacheKey, ":", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Normalize canonicalizes scan parameters: strategy ids sorted, symbols
// trimmed/uppercased/sorted, tier lowercased. Two requests that differ only
// in ordering or casing normalize identically.
func Normalize(params models.ScanParams) string {
	strategies := append([]string(nil), params.Strategies...)
	sort.Strings(strategies)

	symbols := make([]string, 0, len(params.Symbols))
	for _, sym := range params.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	return strings.Join([]string{
		strings.Join(strategies, ","),
		strings.Join(symbols, ","),
		strings.ToLower(strings.TrimSpace(params.Tier)),
	}, "|")
}

// ResultStore reads and writes scan snapshots in the shared KV store.
type ResultStore struct {
	kv *kv.Client
}

func NewResultStore(client *kv.Client) *ResultStore {
	return &ResultStore{kv: client}
}

// Put overwrites the entry for cacheKey wholesale. Every update while the
// scan is running refreshes the TTL so a long-running scan cannot expire its
// own record mid-flight. The write with snap.Partial=false freezes the entry.
func (s *ResultStore) Put(ctx context.Context, cacheKey string, snap *models.ScanSnapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, cacheKey, string(payload), ttl); err != nil {
		return fmt.Errorf("put %s: %w", cacheKey, err)
	}
	return nil
}

// Get returns the snapshot at cacheKey. A missing key is (nil, false, nil),
// never an error.
func (s *ResultStore) Get(ctx context.Context, cacheKey string) (*models.ScanSnapshot, bool, error) {
	payload, found, err := s.kv.Get(ctx, cacheKey)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", cacheKey, err)
	}
	if !found {
		return nil, false, nil
	}
	var snap models.ScanSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal %s: %w", cacheKey, err)
	}
	return &snap, true, nil
}

// Ping reports substrate liveness for health checks.
func (s *ResultStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}
