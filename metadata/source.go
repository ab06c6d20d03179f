package metadata

// ConfigurationSource records who configured a piece of metadata.
// Configuration from a stronger source is never overridden by a weaker one.
type ConfigurationSource uint8

// Configuration sources, weakest first. The zero value means "not set".
const (
	// Convention is configuration inferred by the convention pipeline.
	Convention ConfigurationSource = iota + 1
	// Explicit is configuration requested through the builder API.
	Explicit
)

// String implements fmt.Stringer.
func (s ConfigurationSource) String() string {
	switch s {
	case Convention:
		return "Convention"
	case Explicit:
		return "Explicit"
	default:
		return "None"
	}
}

// Overrides reports whether configuration from s may replace
// configuration from other.
func (s ConfigurationSource) Overrides(other ConfigurationSource) bool {
	return s >= other
}

// Max returns the stronger of two sources.
func (s ConfigurationSource) Max(other ConfigurationSource) ConfigurationSource {
	if other > s {
		return other
	}
	return s
}

// ValueGenerated tells when the store, or the state manager, produces a
// value for a property.
type ValueGenerated uint8

// Value generation strategies.
const (
	// Never generate a value.
	Never ValueGenerated = iota
	// OnAdd generates a value when an entity is added with the property
	// still at its zero value.
	OnAdd
	// OnAddOrUpdate marks store-computed values.
	OnAddOrUpdate
)

// String implements fmt.Stringer.
func (v ValueGenerated) String() string {
	switch v {
	case OnAdd:
		return "OnAdd"
	case OnAddOrUpdate:
		return "OnAddOrUpdate"
	default:
		return "Never"
	}
}
