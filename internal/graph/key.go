// Package graph implements the per-sample dataflow evaluator.
//
// Units (nodes) are named by a Key and publish typed values on Ports. A
// Slot (Key + Port) addresses one producible value anywhere in the graph.
// A Registry turns keys into unit instances exactly once, so two dependents
// asking for an equal key share one instance. A Processor then resolves the
// flat unit list for every input sample, dependencies first, each unit at
// most once, and hands back the filled Scope.
package graph

import (
	"fmt"
	"reflect"
)

// Key identifies a unit instance. Keys with the same Name and equal Param
// name the same unit, which is what lets independent dependents share one
// computation. Param must be comparable (scalars, structs of scalars, Slots).
type Key struct {
	Name  string
	Param any
}

// NewKey builds a Key for the given unit name and parameter value.
func NewKey(name string, param any) Key {
	return Key{Name: name, Param: param}
}

// With returns the Slot addressing port p of the unit named by k.
func (k Key) With(p Port) Slot {
	return Slot{Key: k, Port: p}
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	if k.Param == nil {
		return k.Name
	}
	return fmt.Sprintf("%s%+v", k.Name, k.Param)
}

// comparable reports whether k can safely be used as a map key.
func (k Key) comparable() bool {
	if k.Param == nil {
		return true
	}
	return comparableValue(reflect.ValueOf(k.Param))
}

// comparableValue walks interfaces, structs and arrays by value. A nil
// interface compares equal to another nil, so it counts as comparable.
func comparableValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return comparableValue(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !comparableValue(v.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !comparableValue(v.Index(i)) {
				return false
			}
		}
		return true
	}
	return v.Type().Comparable()
}
