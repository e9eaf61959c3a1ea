// Package exchange simulates a single-pair venue for backtests: it holds
// outstanding limit orders, matches them against each candle's range and
// tracks one open position plus the history of closed ones.
package exchange

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side int8

const (
	Buy Side = iota + 1
	Sell
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for Buy and -1 for Sell.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

// MarshalText encodes the side as BUY/SELL.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Pair describes the traded instrument. PriceStep is the tick size of
// CounterPrice and VolumeStep the granularity of CounterVolume; zero
// disables rounding.
type Pair struct {
	Base       string  `json:"base" yaml:"base"`
	Quote      string  `json:"quote" yaml:"quote"`
	PriceStep  float64 `json:"price_step" yaml:"price_step"`
	VolumeStep float64 `json:"volume_step" yaml:"volume_step"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// RoundPrice rounds v to the nearest price step.
func (p Pair) RoundPrice(v float64) float64 {
	if p.PriceStep <= 0 {
		return v
	}
	step := decimal.NewFromFloat(p.PriceStep)
	f, _ := decimal.NewFromFloat(v).Div(step).Round(0).Mul(step).Float64()
	return f
}

// RoundVolume rounds v down to the volume step so an order never exceeds
// the amount asked for.
func (p Pair) RoundVolume(v float64) float64 {
	if p.VolumeStep <= 0 {
		return v
	}
	step := decimal.NewFromFloat(p.VolumeStep)
	f, _ := decimal.NewFromFloat(v).Div(step).Floor().Mul(step).Float64()
	return f
}

// CeilVolume rounds v up to the volume step. Exit orders use it so the
// rounded amount still covers the whole position.
func (p Pair) CeilVolume(v float64) float64 {
	if p.VolumeStep <= 0 {
		return v
	}
	step := decimal.NewFromFloat(p.VolumeStep)
	f, _ := decimal.NewFromFloat(v).Div(step).Ceil().Mul(step).Float64()
	return f
}

// Order is an immutable limit order. CounterVolume is the amount of the
// quote currency to trade at CounterPrice. Slot is the rung index the
// submitting strategy uses to find the order again.
type Order struct {
	ID            uuid.UUID `json:"id"`
	Side          Side      `json:"side"`
	CounterPrice  float64   `json:"price"`
	CounterVolume float64   `json:"volume"`
	Slot          int       `json:"slot"`
	Pair          Pair      `json:"-"`
}

// BaseVolume is the base-currency amount the order trades.
func (o Order) BaseVolume() float64 {
	if o.CounterPrice == 0 {
		return 0
	}
	return o.CounterVolume / o.CounterPrice
}

// Trade is an order executed at sample X.
type Trade struct {
	Order
	X int64 `json:"x"`
}
