package indicator

import "tradeflow/internal/graph"

// RSIName is the unit name of the relative strength index.
const RSIName = "rsi"

var PortRSI = graph.ScalarPort("rsi")

// RSIKey names the RSI of p.Source with period p.Length.
func RSIKey(p Params) graph.Key {
	return graph.NewKey(RSIName, p)
}

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value is emitted after Length+1 source values.
type RSI struct {
	key       graph.Key
	params    Params
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
}

func newRSI(param any) (graph.Unit, error) {
	p, err := paramsAs[Params](RSIName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(RSIName); err != nil {
		return nil, err
	}
	return &RSI{key: RSIKey(p), params: p}, nil
}

func (u *RSI) Key() graph.Key         { return u.key }
func (u *RSI) Ports() []graph.Port    { return []graph.Port{PortRSI} }
func (u *RSI) DependsOn() []graph.Key { return []graph.Key{u.params.Source.Key} }

func (u *RSI) Process(s *graph.Scope) error {
	v, ok := u.params.Source.Float(s)
	if !ok {
		return nil
	}
	rsi, ready := u.update(v)
	if !ready {
		return nil
	}
	return s.Put(u.key, PortRSI, graph.Scalar(s.X(), rsi))
}

func (u *RSI) update(price float64) (float64, bool) {
	u.count++
	if u.count == 1 {
		u.prevClose = price
		return 0, false
	}

	delta := price - u.prevClose
	u.prevClose = price
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	p := float64(u.params.Length)
	switch {
	case u.count <= u.params.Length:
		u.avgGain += gain
		u.avgLoss += loss
		return 0, false
	case u.count == u.params.Length+1:
		// First value seeds from the simple average
		u.avgGain = (u.avgGain + gain) / p
		u.avgLoss = (u.avgLoss + loss) / p
	default:
		u.avgGain = (u.avgGain*(p-1) + gain) / p
		u.avgLoss = (u.avgLoss*(p-1) + loss) / p
	}

	if u.avgLoss == 0 {
		return 100, true
	}
	rs := u.avgGain / u.avgLoss
	return 100 - 100/(1+rs), true
}
