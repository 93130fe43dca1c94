// Package postgres archives terminal scan summaries for offline analysis.
// The archive is optional and best-effort: a write failure never affects the
// scan itself, whose source of truth stays in the result cache.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/oppscan/internal/config"
	"github.com/sawpanic/oppscan/internal/models"
)

// Open connects to Postgres using the archive configuration.
func Open(cfg config.ArchiveConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive DSN is required when enabled")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// ScanArchive persists one row per terminal scan.
type ScanArchive struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewScanArchive(db *sqlx.DB, timeout time.Duration) *ScanArchive {
	return &ScanArchive{db: db, timeout: timeout}
}

// Insert records a terminal snapshot. Re-inserting the same scan id is a
// no-op so retried finalizations stay idempotent.
func (a *ScanArchive) Insert(ctx context.Context, snap *models.ScanSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	opportunities, err := json.Marshal(snap.Opportunities)
	if err != nil {
		return fmt.Errorf("failed to marshal opportunities: %w", err)
	}
	outcomes, err := json.Marshal(snap.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	query := `
		INSERT INTO scan_archive
			(scan_id, user_id, cache_key, status, strategies_total,
			 strategies_completed, opportunities, outcomes, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (scan_id) DO NOTHING`

	_, err = a.db.ExecContext(ctx, query,
		snap.ScanID, snap.UserID, snap.CacheKey, string(snap.Status),
		snap.StrategiesTotal, snap.StrategiesCompleted,
		opportunities, outcomes, snap.CreatedAt, snap.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to archive scan %s: %w", snap.ScanID, err)
	}
	return nil
}

// RecentByUser returns up to limit archived scan ids for a user, newest first.
func (a *ScanArchive) RecentByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var ids []string
	err := a.db.SelectContext(ctx, &ids,
		`SELECT scan_id FROM scan_archive WHERE user_id = $1 ORDER BY finished_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived scans: %w", err)
	}
	return ids, nil
}
