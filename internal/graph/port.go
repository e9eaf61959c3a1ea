package graph

// Kind is the discriminant of a Value.
type Kind uint8

const (
	KindScalar Kind = iota + 1 // single y value
	KindVector                 // several y values at one x
	KindLine                   // segment between two points
	KindGroup                  // container of other values
	KindObject                 // domain object (orders, positions, candles)
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindLine:
		return "line"
	case KindGroup:
		return "group"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Port names one typed output of a unit. Ports compare by ID and Kind;
// AutoScale is a hint for chart renderers and takes no part in evaluation.
type Port struct {
	ID        string
	Kind      Kind
	AutoScale bool
}

// ScalarPort declares a scalar output included in auto-scaling.
func ScalarPort(id string) Port {
	return Port{ID: id, Kind: KindScalar, AutoScale: true}
}

// GroupPort declares a container output.
func GroupPort(id string) Port {
	return Port{ID: id, Kind: KindGroup}
}

// LinePort declares a line segment output included in auto-scaling.
func LinePort(id string) Port {
	return Port{ID: id, Kind: KindLine, AutoScale: true}
}

// ObjectPort declares a domain-object output.
func ObjectPort(id string) Port {
	return Port{ID: id, Kind: KindObject}
}

// Same reports whether p and o name the same output.
func (p Port) Same(o Port) bool {
	return p.ID == o.ID && p.Kind == o.Kind
}

func (p Port) String() string {
	return p.ID + ":" + p.Kind.String()
}
