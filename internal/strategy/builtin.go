package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/sawpanic/oppscan/internal/models"
)

const lookbackBars = 24

// Momentum flags symbols whose recent returns accelerate in one direction.
type Momentum struct {
	Data MarketData
}

func (m *Momentum) ID() string    { return "momentum" }
func (m *Momentum) Priority() int { return 1 }

func (m *Momentum) Evaluate(ctx context.Context, symbols []string, uc models.UserContext) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		candles, err := m.Data.Candles(ctx, symbol, lookbackBars)
		if err != nil {
			return out, fmt.Errorf("momentum %s: %w", symbol, err)
		}
		if len(candles) < 2 {
			continue
		}
		first, last := candles[0].Close, candles[len(candles)-1].Close
		if first == 0 {
			continue
		}
		ret := (last - first) / first
		if math.Abs(ret) < 0.01 {
			continue
		}
		action := "buy"
		if ret < 0 {
			action = "sell"
		}
		signal := math.Min(math.Abs(ret)*10, 1.0)
		out = append(out, models.Opportunity{
			Strategy:    m.ID(),
			Symbol:      symbol,
			Action:      action,
			Signal:      signal,
			Confidence:  0.5 + signal/2,
			Entry:       last,
			StopLoss:    last * (1 - 0.03*sign(ret)),
			Target:      last * (1 + 0.06*sign(ret)),
			PositionPct: 2.0,
		})
	}
	return out, nil
}

// VolumeSurge flags symbols whose latest bar volume spikes over its average.
type VolumeSurge struct {
	Data MarketData
}

func (v *VolumeSurge) ID() string    { return "volume_surge" }
func (v *VolumeSurge) Priority() int { return 2 }

func (v *VolumeSurge) Evaluate(ctx context.Context, symbols []string, uc models.UserContext) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		candles, err := v.Data.Candles(ctx, symbol, lookbackBars)
		if err != nil {
			return out, fmt.Errorf("volume_surge %s: %w", symbol, err)
		}
		if len(candles) < 4 {
			continue
		}
		var avg float64
		for _, c := range candles[:len(candles)-1] {
			avg += c.Volume
		}
		avg /= float64(len(candles) - 1)
		last := candles[len(candles)-1]
		if avg == 0 || last.Volume < avg*1.2 {
			continue
		}
		ratio := last.Volume / avg
		signal := math.Min((ratio-1.0)/2.0, 1.0)
		out = append(out, models.Opportunity{
			Strategy:    v.ID(),
			Symbol:      symbol,
			Action:      "buy",
			Signal:      signal,
			Confidence:  math.Min(0.4+signal/2, 0.95),
			Entry:       last.Close,
			StopLoss:    last.Close * 0.96,
			Target:      last.Close * 1.08,
			PositionPct: 1.5,
		})
	}
	return out, nil
}

// MeanReversion flags symbols stretched far from their lookback mean.
type MeanReversion struct {
	Data MarketData
}

func (r *MeanReversion) ID() string    { return "mean_reversion" }
func (r *MeanReversion) Priority() int { return 3 }

func (r *MeanReversion) Evaluate(ctx context.Context, symbols []string, uc models.UserContext) ([]models.Opportunity, error) {
	var out []models.Opportunity
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		candles, err := r.Data.Candles(ctx, symbol, lookbackBars)
		if err != nil {
			return out, fmt.Errorf("mean_reversion %s: %w", symbol, err)
		}
		if len(candles) < 4 {
			continue
		}
		var mean float64
		for _, c := range candles {
			mean += c.Close
		}
		mean /= float64(len(candles))
		last := candles[len(candles)-1].Close
		if mean == 0 {
			continue
		}
		stretch := (last - mean) / mean
		if math.Abs(stretch) < 0.015 {
			continue
		}
		action := "sell"
		if stretch < 0 {
			action = "buy"
		}
		signal := math.Min(math.Abs(stretch)*20, 1.0)
		out = append(out, models.Opportunity{
			Strategy:    r.ID(),
			Symbol:      symbol,
			Action:      action,
			Signal:      signal,
			Confidence:  0.45 + signal/3,
			Entry:       last,
			StopLoss:    last * (1 + 0.025*sign(stretch)),
			Target:      mean,
			PositionPct: 1.0,
		})
	}
	return out, nil
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
