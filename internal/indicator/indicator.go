// Package indicator provides the stateful indicator units of the graph.
//
// Every indicator is a graph.Unit keyed by its parameter struct, so two
// consumers asking for the same indicator on the same source share one
// instance. Register installs all factories on a registry; the XxxKey
// helpers build the keys consumers depend on.
package indicator

import (
	"fmt"
	"math"

	"tradeflow/internal/graph"
)

// ParamsError reports an indicator parameter outside its valid range.
type ParamsError struct {
	Unit  string
	Field string
	Value any
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("indicator %s: invalid %s %v", e.Unit, e.Field, e.Value)
}

// Register installs every indicator factory on reg.
func Register(reg *graph.Registry) {
	reg.Register(CandlesName, func(any) (graph.Unit, error) { return Candles{}, nil })
	reg.Register(WindowName, newWindow)
	reg.Register(SMAName, newSMA)
	reg.Register(EMAName, newEMA)
	reg.Register(StdDevName, newStdDev)
	reg.Register(BollingerName, newBollinger)
	reg.Register(SupportResistanceName, newSupportResistance)
	reg.Register(RSIName, newRSI)
	reg.Register(SMMAName, newSMMA)
}

func paramsAs[T any](unit string, param any) (T, error) {
	p, ok := param.(T)
	if !ok {
		return p, fmt.Errorf("indicator %s: unexpected parameter type %T", unit, param)
	}
	return p, nil
}

func checkLength(unit string, length int) error {
	if length <= 0 {
		return &ParamsError{Unit: unit, Field: "length", Value: length}
	}
	return nil
}

// Params shared by the single-source rolling indicators.
type Params struct {
	Length int
	Source graph.Slot
}

func (p Params) validate(unit string) error {
	return checkLength(unit, p.Length)
}

// window values read from a Window group output.
func windowValues(v graph.Value) []float64 {
	ys := make([]float64, 0, len(v.Items))
	for _, it := range v.Items {
		ys = append(ys, it.Y)
	}
	return ys
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
