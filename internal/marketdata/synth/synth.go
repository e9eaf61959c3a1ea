// Package synth generates deterministic random-walk candles for backtests
// that run without stored market data.
package synth

import (
	"context"
	"math"
	"math/rand"
	"time"

	"tradeflow/internal/model"
)

// Config shapes the generated series.
type Config struct {
	Pair       string
	Seed       int64
	Count      int
	StartPrice float64
	Volatility float64 // per-candle stddev of the log return
	Interval   time.Duration
	StartX     int64 // x of the first candle, Unix ms
}

// Generate returns Count candles. The same Config always yields the same
// series.
func Generate(cfg Config) []model.Candle {
	rng := rand.New(rand.NewSource(cfg.Seed))
	step := cfg.Interval.Milliseconds()
	out := make([]model.Candle, 0, cfg.Count)

	price := cfg.StartPrice
	for i := 0; i < cfg.Count; i++ {
		open := price
		// Four sub-steps give each candle an intra-bar path for high and low.
		high, low := open, open
		for k := 0; k < 4; k++ {
			price *= math.Exp(rng.NormFloat64() * cfg.Volatility / 2)
			high = math.Max(high, price)
			low = math.Min(low, price)
		}
		x := cfg.StartX + int64(i)*step
		out = append(out, model.Candle{
			Pair:     cfg.Pair,
			X:        x,
			OpenTime: model.TimeFromX(x),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   math.Round(rng.ExpFloat64()*1000) / 100,
		})
	}
	return out
}

// Source serves a generated series through the replay loader interface.
type Source struct {
	candles []model.Candle
}

// NewSource generates the series once.
func NewSource(cfg Config) *Source {
	return &Source{candles: Generate(cfg)}
}

// Candles returns the generated candles of pair within [fromX, toX).
func (s *Source) Candles(_ context.Context, pair string, fromX, toX int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range s.candles {
		if c.Pair != pair || c.X < fromX || (toX > 0 && c.X >= toX) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
