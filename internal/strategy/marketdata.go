package strategy

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/sawpanic/oppscan/internal/ratelimit"
)

// Candle is one OHLCV bar, oldest-first in any series returned here.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketData is the narrow view of exchange connectivity the built-in
// evaluators consume.
type MarketData interface {
	// Candles returns the most recent n bars for symbol, oldest first.
	Candles(ctx context.Context, symbol string, n int) ([]Candle, error)
}

// SyntheticMarketData produces deterministic pseudo-price series derived from
// the symbol name. It stands in for live exchange feeds in the one-shot CLI
// and in tests, and still goes through the shared downstream rate limiter so
// evaluator pacing behaves like production.
type SyntheticMarketData struct {
	limiter *ratelimit.Limiter
}

func NewSyntheticMarketData(limiter *ratelimit.Limiter) *SyntheticMarketData {
	return &SyntheticMarketData{limiter: limiter}
}

func (s *SyntheticMarketData) Candles(ctx context.Context, symbol string, n int) ([]Candle, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, "market_data"); err != nil {
			return nil, err
		}
	}

	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := float64(h.Sum32()%10000) / 100.0

	base := 50.0 + seed
	now := time.Now().UTC().Truncate(time.Hour)
	candles := make([]Candle, n)
	for i := 0; i < n; i++ {
		// Deterministic drift plus a sine swing so different symbols show
		// different momentum and reversion profiles.
		t := float64(i)
		drift := (seed - 50.0) / 50.0 * t * 0.2
		swing := math.Sin(t/4+seed) * base * 0.02
		px := base + drift + swing
		candles[i] = Candle{
			Timestamp: now.Add(-time.Duration(n-i) * time.Hour),
			Open:      px * 0.998,
			High:      px * 1.005,
			Low:       px * 0.994,
			Close:     px,
			Volume:    1000 + math.Abs(swing)*500,
		}
	}
	return candles, nil
}
