package indicator

import "tradeflow/internal/graph"

// SMMAName is the unit name of the smoothed moving average.
const SMMAName = "smma"

var PortSMMA = graph.ScalarPort("smma")

// SMMAKey names the SMMA of p.Source with period p.Length.
func SMMAKey(p Params) graph.Key {
	return graph.NewKey(SMMAName, p)
}

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	key     graph.Key
	params  Params
	count   int
	sum     float64
	current float64
}

func newSMMA(param any) (graph.Unit, error) {
	p, err := paramsAs[Params](SMMAName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(SMMAName); err != nil {
		return nil, err
	}
	return &SMMA{key: SMMAKey(p), params: p}, nil
}

func (u *SMMA) Key() graph.Key         { return u.key }
func (u *SMMA) Ports() []graph.Port    { return []graph.Port{PortSMMA} }
func (u *SMMA) DependsOn() []graph.Key { return []graph.Key{u.params.Source.Key} }

func (u *SMMA) Process(s *graph.Scope) error {
	v, ok := u.params.Source.Float(s)
	if !ok {
		return nil
	}
	n := u.params.Length
	u.count++
	if u.count <= n {
		u.sum += v
		if u.count < n {
			return nil
		}
		u.current = u.sum / float64(n)
	} else {
		u.current = (u.current*float64(n-1) + v) / float64(n)
	}
	return s.Put(u.key, PortSMMA, graph.Scalar(s.X(), u.current))
}
