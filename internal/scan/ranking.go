package scan

import (
	"sort"

	"github.com/sawpanic/oppscan/internal/models"
)

// Rank orders opportunities by signal strength then confidence, descending.
// Ties break by strategy priority and finally symbol, so identical inputs
// always rank identically regardless of completion order.
func Rank(opportunities []models.Opportunity, priority map[string]int) {
	sort.SliceStable(opportunities, func(i, j int) bool {
		a, b := opportunities[i], opportunities[j]
		if a.Signal != b.Signal {
			return a.Signal > b.Signal
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if pa, pb := priority[a.Strategy], priority[b.Strategy]; pa != pb {
			return pa < pb
		}
		return a.Symbol < b.Symbol
	})
}
