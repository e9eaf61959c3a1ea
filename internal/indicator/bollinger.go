package indicator

import (
	"fmt"
	"strings"

	"tradeflow/internal/graph"
)

// BollingerName is the unit name of the Bollinger bands.
const BollingerName = "bollinger"

// MAType selects the moving average a Bollinger unit centres on.
type MAType uint8

const (
	MASMA MAType = iota
	MAEMA
)

func (m MAType) String() string {
	switch m {
	case MASMA:
		return "SMA"
	case MAEMA:
		return "EMA"
	default:
		return fmt.Sprintf("MAType(%d)", uint8(m))
	}
}

// ParseMAType maps "SMA"/"EMA" (any case) to an MAType.
func ParseMAType(s string) (MAType, error) {
	switch strings.ToUpper(s) {
	case "SMA", "":
		return MASMA, nil
	case "EMA":
		return MAEMA, nil
	}
	return 0, &ParamsError{Unit: BollingerName, Field: "ma", Value: s}
}

var (
	PortBandHigh = graph.ScalarPort("high")
	PortBandMid  = graph.ScalarPort("mid")
	PortBandLow  = graph.ScalarPort("low")
	PortBands    = graph.GroupPort("bands")
)

// BollingerParams configures a Bollinger unit.
type BollingerParams struct {
	Length int
	Factor float64
	MA     MAType
	Source graph.Slot
}

// BollingerKey names the Bollinger bands for p.
func BollingerKey(p BollingerParams) graph.Key {
	return graph.NewKey(BollingerName, p)
}

// High, Mid and Low address the band ports of the unit for p.
func (p BollingerParams) High() graph.Slot { return BollingerKey(p).With(PortBandHigh) }
func (p BollingerParams) Mid() graph.Slot  { return BollingerKey(p).With(PortBandMid) }
func (p BollingerParams) Low() graph.Slot  { return BollingerKey(p).With(PortBandLow) }

func (p BollingerParams) inner() Params {
	return Params{Length: p.Length, Source: p.Source}
}

func (p BollingerParams) maSlot() graph.Slot {
	if p.MA == MAEMA {
		return EMAKey(p.inner()).With(PortEMA)
	}
	return SMAKey(p.inner()).With(PortSMA)
}

func (p BollingerParams) validate() error {
	if err := checkLength(BollingerName, p.Length); err != nil {
		return err
	}
	if p.Factor < 0 || !isFinite(p.Factor) {
		return &ParamsError{Unit: BollingerName, Field: "factor", Value: p.Factor}
	}
	if p.MA != MASMA && p.MA != MAEMA {
		return &ParamsError{Unit: BollingerName, Field: "ma", Value: p.MA}
	}
	return nil
}

// Bollinger combines a standard deviation and a moving average of the same
// source into high/mid/low bands.
type Bollinger struct {
	key    graph.Key
	params BollingerParams
	stddev graph.Slot
	ma     graph.Slot
}

func newBollinger(param any) (graph.Unit, error) {
	p, err := paramsAs[BollingerParams](BollingerName, param)
	if err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Bollinger{
		key:    BollingerKey(p),
		params: p,
		stddev: StdDevKey(p.inner()).With(PortStdDev),
		ma:     p.maSlot(),
	}, nil
}

func (u *Bollinger) Key() graph.Key { return u.key }

func (u *Bollinger) Ports() []graph.Port {
	return []graph.Port{PortBandHigh, PortBandMid, PortBandLow, PortBands}
}

func (u *Bollinger) DependsOn() []graph.Key {
	return []graph.Key{u.stddev.Key, u.ma.Key}
}

func (u *Bollinger) Process(s *graph.Scope) error {
	sd, ok := u.stddev.Float(s)
	if !ok {
		return nil
	}
	mid, ok := u.ma.Float(s)
	if !ok {
		return nil
	}
	x := s.X()
	dev := sd * u.params.Factor
	high := graph.Scalar(x, mid+dev)
	mv := graph.Scalar(x, mid)
	low := graph.Scalar(x, mid-dev)

	for _, out := range []struct {
		port graph.Port
		v    graph.Value
	}{
		{PortBandHigh, high},
		{PortBandMid, mv},
		{PortBandLow, low},
		{PortBands, graph.Group(x, high, mv, low)},
	} {
		if err := s.Put(u.key, out.port, out.v); err != nil {
			return err
		}
	}
	return nil
}
