package graph

import (
	"fmt"

	"tradeflow/internal/model"
)

// Scope is the per-sample result table. It is created fresh for every
// sample, filled by the units while they run and handed to consumers once
// all units have been resolved. A unit gets an entry the moment it starts,
// even when it ends up publishing nothing, which is how the processor knows
// it has already run for this sample.
type Scope struct {
	Sample model.Candle
	Units  []Unit

	index      map[Key]Unit
	table      map[Key]map[string]Value
	running    Key
	active     bool
	mismatches []Slot
}

// NewScope builds an empty scope for sample over the given units.
func NewScope(sample model.Candle, units []Unit) *Scope {
	index := make(map[Key]Unit, len(units))
	for _, u := range units {
		index[u.Key()] = u
	}
	return newScope(sample, units, index)
}

func newScope(sample model.Candle, units []Unit, index map[Key]Unit) *Scope {
	return &Scope{
		Sample: sample,
		Units:  units,
		index:  index,
		table:  make(map[Key]map[string]Value, len(units)),
	}
}

// X is the ordering key of the sample this scope was produced for.
func (s *Scope) X() int64 {
	return s.Sample.X
}

// Executed reports whether the unit named by key has run for this sample.
func (s *Scope) Executed(key Key) bool {
	_, ok := s.table[key]
	return ok
}

func (s *Scope) begin(key Key) {
	s.table[key] = make(map[string]Value, 2)
	s.running = key
	s.active = true
}

func (s *Scope) end() {
	s.active = false
}

// Put stores v as the value of port on the unit named by key. Only the
// running unit may write, only to ports it declared, and each port at most
// once per sample.
func (s *Scope) Put(key Key, port Port, v Value) error {
	if !s.active || s.running != key {
		return fmt.Errorf("%w: %s", ErrForeignWrite, key)
	}
	u, ok := s.index[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignWrite, key)
	}
	declared := false
	for _, p := range u.Ports() {
		if p.Same(port) {
			declared = true
			break
		}
	}
	if !declared {
		return fmt.Errorf("%w: %s.%s", ErrUndeclaredPort, key, port)
	}
	if v.Kind != port.Kind {
		return fmt.Errorf("%w: %s.%s got %s", ErrKindMismatch, key, port, v.Kind)
	}
	entry := s.table[key]
	if _, dup := entry[port.ID]; dup {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateWrite, key, port.ID)
	}
	entry[port.ID] = v
	return nil
}

func (s *Scope) lookup(slot Slot) (Value, bool) {
	entry, ok := s.table[slot.Key]
	if !ok {
		return Value{}, false
	}
	v, ok := entry[slot.Port.ID]
	if !ok {
		return Value{}, false
	}
	if v.Kind != slot.Port.Kind {
		s.mismatches = append(s.mismatches, slot)
		return Value{}, false
	}
	return v, true
}

// Outputs returns a copy of everything the unit named by key published,
// keyed by port ID. It is nil when the unit did not run.
func (s *Scope) Outputs(key Key) map[string]Value {
	entry, ok := s.table[key]
	if !ok {
		return nil
	}
	out := make(map[string]Value, len(entry))
	for id, v := range entry {
		out[id] = v
	}
	return out
}

// Snapshot collects the values present for the given slots, keyed by the
// slot's string form. Absent slots are left out.
func (s *Scope) Snapshot(slots ...Slot) map[string]Value {
	out := make(map[string]Value, len(slots))
	for _, sl := range slots {
		if v, ok := s.lookup(sl); ok {
			out[sl.String()] = v
		}
	}
	return out
}

// Mismatches lists the slots read with a kind that differed from the stored
// value. Any entry is a wiring bug in the reading unit.
func (s *Scope) Mismatches() []Slot {
	return s.mismatches
}
