package strategy

import (
	"math"

	"tradeflow/internal/exchange"
)

// PriceStepper gives the limit price of the rung after prev. Steps move
// away from the market: down for buys, up for sells.
type PriceStepper interface {
	Next(side exchange.Side, prev float64) float64
}

// VolumeStepper gives the counter volume of rung n (0-based).
type VolumeStepper interface {
	At(rung int) float64
}

// Geometric steps the price by a fixed fraction, 0.02 meaning 2%.
type Geometric struct {
	Pct float64
}

func (g Geometric) Next(side exchange.Side, prev float64) float64 {
	if side == exchange.Buy {
		return prev * (1 - g.Pct)
	}
	return prev * (1 + g.Pct)
}

// Linear steps the price by a fixed amount.
type Linear struct {
	Step float64
}

func (l Linear) Next(side exchange.Side, prev float64) float64 {
	if side == exchange.Buy {
		return prev - l.Step
	}
	return prev + l.Step
}

// Multiply scales the volume by Factor per rung; Factor 2 doubles it.
type Multiply struct {
	Base   float64
	Factor float64
}

func (m Multiply) At(rung int) float64 {
	return m.Base * math.Pow(m.Factor, float64(rung))
}

// Fixed uses the same volume on every rung.
type Fixed struct {
	Amount float64
}

func (f Fixed) At(int) float64 {
	return f.Amount
}
