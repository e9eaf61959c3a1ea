package graph

import (
	"encoding/json"
	"math"
)

// Line is a segment between two chart points.
type Line struct {
	X1 int64   `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 int64   `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Value is the tagged union every unit output is carried in. Kind selects
// which of the payload fields is meaningful.
type Value struct {
	Kind   Kind
	X      int64
	Y      float64   // KindScalar
	Vec    []float64 // KindVector
	Line   Line      // KindLine
	Items  []Value   // KindGroup
	Object any       // KindObject
}

// Scalar builds a single-value output at x.
func Scalar(x int64, y float64) Value {
	return Value{Kind: KindScalar, X: x, Y: y}
}

// Vector builds a multi-value output at x.
func Vector(x int64, ys ...float64) Value {
	return Value{Kind: KindVector, X: x, Vec: ys}
}

// Segment builds a line segment output anchored at x.
func Segment(x int64, l Line) Value {
	return Value{Kind: KindLine, X: x, Line: l}
}

// Group builds a container of other outputs.
func Group(x int64, items ...Value) Value {
	return Value{Kind: KindGroup, X: x, Items: items}
}

// Object wraps a domain object.
func Object(x int64, obj any) Value {
	return Value{Kind: KindObject, X: x, Object: obj}
}

// ObjectAs unwraps an object value into T.
func ObjectAs[T any](v Value) (T, bool) {
	var zero T
	if v.Kind != KindObject {
		return zero, false
	}
	t, ok := v.Object.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Range returns the y-range covered by the value. Objects have no range.
func (v Value) Range() (lo, hi float64, ok bool) {
	switch v.Kind {
	case KindScalar:
		return v.Y, v.Y, true
	case KindVector:
		if len(v.Vec) == 0 {
			return 0, 0, false
		}
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, y := range v.Vec {
			lo = math.Min(lo, y)
			hi = math.Max(hi, y)
		}
		return lo, hi, true
	case KindLine:
		return math.Min(v.Line.Y1, v.Line.Y2), math.Max(v.Line.Y1, v.Line.Y2), true
	case KindGroup:
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, it := range v.Items {
			l, h, ok := it.Range()
			if !ok {
				continue
			}
			lo = math.Min(lo, l)
			hi = math.Max(hi, h)
		}
		return lo, hi, !math.IsInf(lo, 1)
	}
	return 0, 0, false
}

// MarshalJSON encodes only the payload selected by Kind.
func (v Value) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind": v.Kind.String(),
		"x":    v.X,
	}
	switch v.Kind {
	case KindScalar:
		out["y"] = v.Y
	case KindVector:
		out["y"] = v.Vec
	case KindLine:
		out["line"] = v.Line
	case KindGroup:
		out["items"] = v.Items
	case KindObject:
		out["object"] = v.Object
	}
	return json.Marshal(out)
}
