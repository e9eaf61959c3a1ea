package graph

import "errors"

var (
	ErrUnknownUnit       = errors.New("graph: no factory registered for unit")
	ErrKeyNotComparable  = errors.New("graph: key parameter is not comparable")
	ErrKeyMismatch       = errors.New("graph: factory returned a unit with a different key")
	ErrDuplicateUnit     = errors.New("graph: duplicate unit key")
	ErrDuplicatePort     = errors.New("graph: duplicate port id")
	ErrMissingDependency = errors.New("graph: dependency not in unit list")
	ErrCycle             = errors.New("graph: dependency cycle")
	ErrDuplicateWrite    = errors.New("graph: port written twice in one sample")
	ErrUndeclaredPort    = errors.New("graph: port not declared by unit")
	ErrKindMismatch      = errors.New("graph: value kind does not match port kind")
	ErrForeignWrite      = errors.New("graph: write under a key other than the running unit")
)
