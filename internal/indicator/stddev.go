package indicator

import (
	"math"

	"tradeflow/internal/graph"
)

// StdDevName is the unit name of the rolling standard deviation.
const StdDevName = "stddev"

var PortStdDev = graph.ScalarPort("stddev")

// StdDevKey names the population standard deviation over the last
// p.Length values of p.Source.
func StdDevKey(p Params) graph.Key {
	return graph.NewKey(StdDevName, p)
}

// StdDev reads the shared rolling window for its source and emits the
// population standard deviation once the window is full.
type StdDev struct {
	key    graph.Key
	params Params
	window graph.Slot
}

func newStdDev(param any) (graph.Unit, error) {
	p, err := paramsAs[Params](StdDevName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(StdDevName); err != nil {
		return nil, err
	}
	return &StdDev{
		key:    StdDevKey(p),
		params: p,
		window: WindowKey(p).With(PortWindow),
	}, nil
}

func (u *StdDev) Key() graph.Key         { return u.key }
func (u *StdDev) Ports() []graph.Port    { return []graph.Port{PortStdDev} }
func (u *StdDev) DependsOn() []graph.Key { return []graph.Key{u.window.Key} }

func (u *StdDev) Process(s *graph.Scope) error {
	w, ok := u.window.Value(s)
	if !ok || len(w.Items) < u.params.Length {
		return nil
	}
	sd := populationStdDev(windowValues(w))
	return s.Put(u.key, PortStdDev, graph.Scalar(s.X(), sd))
}

// populationStdDev uses the shifted-data form so a constant window is
// exactly zero.
func populationStdDev(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	k := ys[0]
	var sum, sumSq float64
	for _, y := range ys {
		d := y - k
		sum += d
		sumSq += d * d
	}
	n := float64(len(ys))
	variance := (sumSq - sum*sum/n) / n
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}
