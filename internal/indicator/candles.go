package indicator

import (
	"tradeflow/internal/graph"
	"tradeflow/internal/model"
)

// CandlesName is the unit name of the candle source.
const CandlesName = "candles"

var (
	PortOpen   = graph.ScalarPort("open")
	PortHigh   = graph.ScalarPort("high")
	PortLow    = graph.ScalarPort("low")
	PortClose  = graph.ScalarPort("close")
	PortVolume = graph.Port{ID: "volume", Kind: graph.KindScalar}
	PortCandle = graph.ObjectPort("candle")
)

// CandlesKey names the single candle source unit.
var CandlesKey = graph.NewKey(CandlesName, nil)

// Slots of the candle source, the usual Source for indicators.
var (
	Open   = CandlesKey.With(PortOpen)
	High   = CandlesKey.With(PortHigh)
	Low    = CandlesKey.With(PortLow)
	Close  = CandlesKey.With(PortClose)
	Volume = CandlesKey.With(PortVolume)
	Candle = CandlesKey.With(PortCandle)
)

// Candles republishes the input sample's fields as ports.
type Candles struct{}

func (Candles) Key() graph.Key { return CandlesKey }

func (Candles) Ports() []graph.Port {
	return []graph.Port{PortOpen, PortHigh, PortLow, PortClose, PortVolume, PortCandle}
}

func (Candles) DependsOn() []graph.Key { return nil }

func (Candles) Process(s *graph.Scope) error {
	c := s.Sample
	x := c.X
	puts := []struct {
		port graph.Port
		v    graph.Value
	}{
		{PortOpen, graph.Scalar(x, c.Open)},
		{PortHigh, graph.Scalar(x, c.High)},
		{PortLow, graph.Scalar(x, c.Low)},
		{PortClose, graph.Scalar(x, c.Close)},
		{PortVolume, graph.Scalar(x, c.Volume)},
		{PortCandle, graph.Object(x, c)},
	}
	for _, p := range puts {
		if err := s.Put(CandlesKey, p.port, p.v); err != nil {
			return err
		}
	}
	return nil
}

// CandleOf returns the candle published on the source for this scope.
func CandleOf(s *graph.Scope) (model.Candle, bool) {
	v, ok := Candle.Value(s)
	if !ok {
		return model.Candle{}, false
	}
	return graph.ObjectAs[model.Candle](v)
}
