package indicator

import "tradeflow/internal/graph"

// SMAName is the unit name of the simple moving average.
const SMAName = "sma"

var PortSMA = graph.ScalarPort("sma")

// SMAKey names the SMA of p.Length values of p.Source.
func SMAKey(p Params) graph.Key {
	return graph.NewKey(SMAName, p)
}

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer. Until the buffer is full it emits
// the raw source value rather than a partial average.
//
// The running sum is kept relative to the first value seen so a constant
// series averages back to exactly that value.
type SMA struct {
	key    graph.Key
	params Params
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total values received
	anchor float64
	sum    float64 // sum of (value - anchor) over buf
}

func newSMA(param any) (graph.Unit, error) {
	p, err := paramsAs[Params](SMAName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(SMAName); err != nil {
		return nil, err
	}
	return &SMA{key: SMAKey(p), params: p, buf: make([]float64, p.Length)}, nil
}

func (u *SMA) Key() graph.Key         { return u.key }
func (u *SMA) Ports() []graph.Port    { return []graph.Port{PortSMA} }
func (u *SMA) DependsOn() []graph.Key { return []graph.Key{u.params.Source.Key} }

// Ready reports whether the buffer holds Length values.
func (u *SMA) Ready() bool { return u.count >= u.params.Length }

func (u *SMA) Process(s *graph.Scope) error {
	v, ok := u.params.Source.Float(s)
	if !ok {
		return nil
	}
	out := u.update(v)
	return s.Put(u.key, PortSMA, graph.Scalar(s.X(), out))
}

func (u *SMA) update(v float64) float64 {
	if u.count == 0 {
		u.anchor = v
	}
	n := u.params.Length
	if u.count >= n {
		// Subtract the oldest value being overwritten
		u.sum -= u.buf[u.idx] - u.anchor
	}
	u.buf[u.idx] = v
	u.sum += v - u.anchor
	u.idx = (u.idx + 1) % n
	u.count++

	if u.count < n {
		return v
	}
	return u.anchor + u.sum/float64(n)
}
