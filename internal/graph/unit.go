package graph

// Unit is a node of the dataflow graph.
//
// A unit is built once per distinct Key and lives for the whole stream, so
// its fields are state accumulated across every sample it has seen.
// Process may read the outputs of any key listed in DependsOn from the
// scope and writes zero or more of its own Ports under its own Key. A unit
// that has no value yet for this sample (warm-up) simply does not write the
// port. A returned error is fatal for the stream.
type Unit interface {
	Key() Key
	Ports() []Port
	DependsOn() []Key
	Process(s *Scope) error
}

// Factory builds a unit from its key parameter.
type Factory func(param any) (Unit, error)
