package backtest

import (
	"encoding/json"

	"tradeflow/internal/exchange"
	"tradeflow/internal/graph"
	"tradeflow/internal/model"
	"tradeflow/internal/strategy"
)

// Record is what the output sinks receive for one sample.
type Record struct {
	Pair     string                 `json:"pair"`
	X        int64                  `json:"x"`
	Candle   model.Candle           `json:"candle"`
	Values   map[string]graph.Value `json:"values"`
	Account  *exchange.Account      `json:"account,omitempty"`
	Position *exchange.Position     `json:"position,omitempty"`
	Orders   []exchange.Order       `json:"orders,omitempty"`
	Trades   []exchange.Trade       `json:"trades,omitempty"`
}

// recorder extracts a Record from resolved scopes.
type recorder struct {
	dca   graph.Key
	slots []graph.Slot
}

func newRecorder(p strategy.DCAParams) *recorder {
	key := strategy.DCAKey(p)
	return &recorder{
		dca: key,
		slots: []graph.Slot{
			p.Bollinger.High(),
			p.Bollinger.Mid(),
			p.Bollinger.Low(),
			key.With(strategy.PortEquity),
			key.With(strategy.PortCash),
			key.With(strategy.PortAvailable),
		},
	}
}

func (r *recorder) record(sc *graph.Scope) Record {
	rec := Record{
		Pair:   sc.Sample.Pair,
		X:      sc.X(),
		Candle: sc.Sample,
		Values: sc.Snapshot(r.slots...),
	}
	if acc, ok := object[exchange.Account](sc, r.dca.With(strategy.PortAccount)); ok {
		rec.Account = &acc
	}
	if pos, ok := object[exchange.Position](sc, r.dca.With(strategy.PortPosition)); ok {
		rec.Position = &pos
	}
	rec.Orders, _ = object[[]exchange.Order](sc, r.dca.With(strategy.PortOrders))
	rec.Trades, _ = object[[]exchange.Trade](sc, r.dca.With(strategy.PortTrades))
	return rec
}

func object[T any](sc *graph.Scope, slot graph.Slot) (T, bool) {
	v, ok := slot.Value(sc)
	if !ok {
		var zero T
		return zero, false
	}
	return graph.ObjectAs[T](v)
}

// JSON encodes the record.
func (r Record) JSON() ([]byte, error) {
	return json.Marshal(r)
}
