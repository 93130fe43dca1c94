// Package strategy defines the evaluator contract the scheduler runs and a
// small set of built-in evaluators. Signal algorithms proper live behind this
// interface; the engine only cares that an evaluator is cancellable mid-await
// and reports its opportunities or an error.
package strategy

import (
	"context"

	"github.com/sawpanic/oppscan/internal/models"
)

// Evaluator is one strategy's entry point into a scan batch.
type Evaluator interface {
	// ID is the stable strategy identifier used in outcomes and entitlements.
	ID() string

	// Priority breaks ranking ties between strategies; lower runs earlier in
	// the final ordering.
	Priority() int

	// Evaluate scans the given universe and returns zero or more
	// opportunities. It must return promptly once ctx is cancelled; the
	// scheduler relies on this for both per-strategy timeouts and
	// whole-batch budget expiry.
	Evaluate(ctx context.Context, symbols []string, uc models.UserContext) ([]models.Opportunity, error)
}

// Registry holds the evaluators known to this worker, in registration order.
type Registry struct {
	order []string
	byID  map[string]Evaluator
}

func NewRegistry(evaluators ...Evaluator) *Registry {
	r := &Registry{byID: make(map[string]Evaluator)}
	for _, ev := range evaluators {
		r.Add(ev)
	}
	return r
}

func (r *Registry) Add(ev Evaluator) {
	if _, exists := r.byID[ev.ID()]; !exists {
		r.order = append(r.order, ev.ID())
	}
	r.byID[ev.ID()] = ev
}

func (r *Registry) Get(id string) (Evaluator, bool) {
	ev, ok := r.byID[id]
	return ev, ok
}

// Select returns the evaluators for the requested ids, preserving registry
// order and skipping unknown ids. An empty request selects everything.
func (r *Registry) Select(ids []string) []Evaluator {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Evaluator
	for _, id := range r.order {
		if len(ids) == 0 || want[id] {
			out = append(out, r.byID[id])
		}
	}
	return out
}

func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}
