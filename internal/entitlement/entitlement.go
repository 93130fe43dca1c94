// Package entitlement answers which strategies a user may run. Credit checks
// and billing live elsewhere; the session manager only consults this before
// scheduling to filter the evaluator batch.
package entitlement

import (
	"context"
)

// Service reports the active strategy set for a user.
type Service interface {
	ActiveStrategies(ctx context.Context, userID string) (map[string]bool, error)
}

// AllowAll entitles every user to every strategy. Useful for single-tenant
// deployments and tests.
type AllowAll struct{}

func (AllowAll) ActiveStrategies(ctx context.Context, userID string) (map[string]bool, error) {
	return nil, nil // nil set means no filtering
}

// Static serves a fixed per-user strategy set with a default for unknown users.
type Static struct {
	Users   map[string][]string
	Default []string
}

func (s *Static) ActiveStrategies(ctx context.Context, userID string) (map[string]bool, error) {
	ids, ok := s.Users[userID]
	if !ok {
		ids = s.Default
	}
	if ids == nil {
		return nil, nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}
