package exchange

import "math"

// baseEpsilon absorbs float residue when deciding a position is closed.
const baseEpsilon = 1e-9

// Position aggregates the enter and exit trades of one side. It is closed
// once the exited base volume reaches or passes the entered base volume.
type Position struct {
	Side  Side    `json:"side"`
	Enter []Trade `json:"enter"`
	Exit  []Trade `json:"exit"`
}

func sumBase(ts []Trade) float64 {
	var s float64
	for _, t := range ts {
		s += t.BaseVolume()
	}
	return s
}

func sumCounter(ts []Trade) float64 {
	var s float64
	for _, t := range ts {
		s += t.CounterVolume
	}
	return s
}

func (p *Position) EnterBase() float64    { return sumBase(p.Enter) }
func (p *Position) ExitBase() float64     { return sumBase(p.Exit) }
func (p *Position) EnterCounter() float64 { return sumCounter(p.Enter) }
func (p *Position) ExitCounter() float64  { return sumCounter(p.Exit) }

// BaseDelta is the base volume still held.
func (p *Position) BaseDelta() float64 {
	return p.EnterBase() - p.ExitBase()
}

// AvgEnterPrice is the volume-weighted entry price.
func (p *Position) AvgEnterPrice() float64 {
	b := p.EnterBase()
	if b == 0 {
		return 0
	}
	return p.EnterCounter() / b
}

// AvgExitPrice is the volume-weighted exit price.
func (p *Position) AvgExitPrice() float64 {
	b := p.ExitBase()
	if b == 0 {
		return 0
	}
	return p.ExitCounter() / b
}

// WorstEnterPrice is the furthest entry into the move: the lowest entry of
// a long, the highest of a short. ok is false before the first entry.
func (p *Position) WorstEnterPrice() (price float64, ok bool) {
	for i, t := range p.Enter {
		switch {
		case i == 0:
			price = t.CounterPrice
		case p.Side == Buy:
			price = math.Min(price, t.CounterPrice)
		default:
			price = math.Max(price, t.CounterPrice)
		}
	}
	return price, len(p.Enter) > 0
}

// Closed reports whether the exits have consumed the entered volume.
func (p *Position) Closed() bool {
	return len(p.Enter) > 0 && p.BaseDelta() <= baseEpsilon
}

// CounterDiff is the realized profit in the quote currency on the volume
// exited so far.
func (p *Position) CounterDiff() float64 {
	exited := math.Min(p.ExitBase(), p.EnterBase())
	if exited == 0 {
		return 0
	}
	return p.Side.Sign() * (p.AvgExitPrice() - p.AvgEnterPrice()) * exited
}

// Unrealized is the profit of the volume still held if it were closed at
// price.
func (p *Position) Unrealized(price float64) float64 {
	held := p.BaseDelta()
	if held <= 0 {
		return 0
	}
	return p.Side.Sign() * (price - p.AvgEnterPrice()) * held
}

// Clone returns a deep copy.
func (p *Position) Clone() Position {
	return Position{
		Side:  p.Side,
		Enter: append([]Trade(nil), p.Enter...),
		Exit:  append([]Trade(nil), p.Exit...),
	}
}
