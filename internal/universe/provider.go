// Package universe supplies the ordered asset universe a scan runs against.
// Discovery ranking is an external concern; this package only defines the
// contract plus a static tiered provider for deployments without a live
// discovery service.
package universe

import (
	"context"
	"strings"
)

// Provider yields the ordered symbol universe for a user tier.
type Provider interface {
	Discover(ctx context.Context, tier string) ([]string, error)
}

// Static serves fixed per-tier universes, widest tier first match wins.
type Static struct {
	Tiers   map[string][]string
	Default []string
}

// NewStatic returns a provider with the stock tier layout.
func NewStatic() *Static {
	top10 := []string{"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD", "ADA-USD",
		"DOGE-USD", "AVAX-USD", "DOT-USD", "LINK-USD", "MATIC-USD"}
	top30 := append(append([]string(nil), top10...),
		"UNI-USD", "ATOM-USD", "LTC-USD", "ETC-USD", "XLM-USD",
		"NEAR-USD", "ALGO-USD", "FIL-USD", "ICP-USD", "APT-USD",
		"ARB-USD", "OP-USD", "INJ-USD", "SUI-USD", "TIA-USD",
		"SEI-USD", "RUNE-USD", "FTM-USD", "AAVE-USD", "MKR-USD")
	return &Static{
		Tiers: map[string][]string{
			"free":    top10,
			"pro":     top30,
			"premium": top30,
		},
		Default: top10,
	}
}

func (s *Static) Discover(ctx context.Context, tier string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if symbols, ok := s.Tiers[strings.ToLower(strings.TrimSpace(tier))]; ok {
		return append([]string(nil), symbols...), nil
	}
	return append([]string(nil), s.Default...), nil
}
