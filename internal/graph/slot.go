package graph

// Slot is the fully qualified address of one value: a unit key and one of
// its ports. Units use slots in their parameters to say exactly which
// upstream output they read.
type Slot struct {
	Key  Key
	Port Port
}

// Value returns the value stored for this slot in the scope. A missing
// entry and a stored value whose kind differs from the port's kind both
// report ok=false; the latter is also recorded in Scope.Mismatches.
func (s Slot) Value(sc *Scope) (Value, bool) {
	return sc.lookup(s)
}

// Float returns the scalar stored for this slot.
func (s Slot) Float(sc *Scope) (float64, bool) {
	v, ok := sc.lookup(s)
	if !ok || v.Kind != KindScalar {
		return 0, false
	}
	return v.Y, true
}

func (s Slot) String() string {
	return s.Key.String() + "." + s.Port.ID
}
