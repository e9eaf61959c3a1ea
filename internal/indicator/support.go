package indicator

import (
	"math"

	"tradeflow/internal/graph"
)

// SupportResistanceName is the unit name of the support/resistance range.
const SupportResistanceName = "sr"

var (
	PortSupport    = graph.ScalarPort("support")
	PortResistance = graph.ScalarPort("resistance")
	PortRange      = graph.LinePort("range")
)

// SupportResistanceParams configures the lookback of the range.
type SupportResistanceParams struct {
	Length int
}

// SupportResistanceKey names the range unit for p.
func SupportResistanceKey(p SupportResistanceParams) graph.Key {
	return graph.NewKey(SupportResistanceName, p)
}

// SupportResistance emits the lowest low and highest high over the last
// Length samples. It shares the low and high windows with any other unit
// using the same length.
type SupportResistance struct {
	key   graph.Key
	lows  graph.Slot
	highs graph.Slot
	n     int
}

func newSupportResistance(param any) (graph.Unit, error) {
	p, err := paramsAs[SupportResistanceParams](SupportResistanceName, param)
	if err != nil {
		return nil, err
	}
	if err := checkLength(SupportResistanceName, p.Length); err != nil {
		return nil, err
	}
	return &SupportResistance{
		key:   SupportResistanceKey(p),
		lows:  WindowKey(Params{Length: p.Length, Source: Low}).With(PortWindow),
		highs: WindowKey(Params{Length: p.Length, Source: High}).With(PortWindow),
		n:     p.Length,
	}, nil
}

func (u *SupportResistance) Key() graph.Key { return u.key }

func (u *SupportResistance) Ports() []graph.Port {
	return []graph.Port{PortSupport, PortResistance, PortRange}
}

func (u *SupportResistance) DependsOn() []graph.Key {
	return []graph.Key{u.lows.Key, u.highs.Key}
}

func (u *SupportResistance) Process(s *graph.Scope) error {
	lows, ok := u.lows.Value(s)
	if !ok || len(lows.Items) < u.n {
		return nil
	}
	highs, ok := u.highs.Value(s)
	if !ok || len(highs.Items) < u.n {
		return nil
	}
	support := math.Inf(1)
	for _, y := range windowValues(lows) {
		support = math.Min(support, y)
	}
	resistance := math.Inf(-1)
	for _, y := range windowValues(highs) {
		resistance = math.Max(resistance, y)
	}

	x := s.X()
	if err := s.Put(u.key, PortSupport, graph.Scalar(x, support)); err != nil {
		return err
	}
	if err := s.Put(u.key, PortResistance, graph.Scalar(x, resistance)); err != nil {
		return err
	}
	rng := graph.Line{X1: lows.Items[0].X, Y1: support, X2: x, Y2: resistance}
	return s.Put(u.key, PortRange, graph.Segment(x, rng))
}
