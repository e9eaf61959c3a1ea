package indicator

import "tradeflow/internal/graph"

// EMAName is the unit name of the exponential moving average.
const EMAName = "ema"

var PortEMA = graph.ScalarPort("ema")

// EMAKey names the EMA of p.Source with period p.Length.
func EMAKey(p Params) graph.Key {
	return graph.NewKey(EMAName, p)
}

// EMA calculates Exponential Moving Average.
// O(1) per update. The average starts at zero and is emitted from the first
// sample, so early values are biased toward zero.
type EMA struct {
	key        graph.Key
	params     Params
	multiplier float64
	current    float64
}

func newEMA(param any) (graph.Unit, error) {
	p, err := paramsAs[Params](EMAName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(EMAName); err != nil {
		return nil, err
	}
	return &EMA{
		key:        EMAKey(p),
		params:     p,
		multiplier: 2.0 / float64(p.Length+1),
	}, nil
}

func (u *EMA) Key() graph.Key         { return u.key }
func (u *EMA) Ports() []graph.Port    { return []graph.Port{PortEMA} }
func (u *EMA) DependsOn() []graph.Key { return []graph.Key{u.params.Source.Key} }

func (u *EMA) Process(s *graph.Scope) error {
	v, ok := u.params.Source.Float(s)
	if !ok {
		return nil
	}
	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	u.current = v*u.multiplier + u.current*(1-u.multiplier)
	return s.Put(u.key, PortEMA, graph.Scalar(s.X(), u.current))
}
