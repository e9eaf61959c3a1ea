package indicator

import (
	"sort"

	"tradeflow/internal/graph"
)

// WindowName is the unit name of the rolling window cache.
const WindowName = "window"

// PortWindow carries the window as a group of scalars ordered by X.
var PortWindow = graph.GroupPort("window")

// WindowKey names the rolling window of the last p.Length source values.
func WindowKey(p Params) graph.Key {
	return graph.NewKey(WindowName, p)
}

// Window caches the last Length source values keyed by sample X. Values are
// kept sorted by X; an arrival with an X already present replaces it, and
// when the cache grows past Length the smallest X is evicted.
type Window struct {
	key    graph.Key
	params Params
	xs     []int64
	ys     []float64
}

func newWindow(param any) (graph.Unit, error) {
	p, err := paramsAs[Params](WindowName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(WindowName); err != nil {
		return nil, err
	}
	return &Window{
		key:    WindowKey(p),
		params: p,
		xs:     make([]int64, 0, p.Length+1),
		ys:     make([]float64, 0, p.Length+1),
	}, nil
}

func (w *Window) Key() graph.Key         { return w.key }
func (w *Window) Ports() []graph.Port    { return []graph.Port{PortWindow} }
func (w *Window) DependsOn() []graph.Key { return []graph.Key{w.params.Source.Key} }

func (w *Window) Process(s *graph.Scope) error {
	v, ok := w.params.Source.Float(s)
	if ok {
		w.insert(s.X(), v)
	}
	if len(w.xs) == 0 {
		return nil
	}
	items := make([]graph.Value, len(w.xs))
	for i := range w.xs {
		items[i] = graph.Scalar(w.xs[i], w.ys[i])
	}
	return s.Put(w.key, PortWindow, graph.Group(s.X(), items...))
}

func (w *Window) insert(x int64, y float64) {
	i := sort.Search(len(w.xs), func(i int) bool { return w.xs[i] >= x })
	if i < len(w.xs) && w.xs[i] == x {
		w.ys[i] = y
		return
	}
	w.xs = append(w.xs, 0)
	w.ys = append(w.ys, 0)
	copy(w.xs[i+1:], w.xs[i:])
	copy(w.ys[i+1:], w.ys[i:])
	w.xs[i] = x
	w.ys[i] = y
	if len(w.xs) > w.params.Length {
		w.xs = append(w.xs[:0], w.xs[1:]...)
		w.ys = append(w.ys[:0], w.ys[1:]...)
	}
}
