// Package orbit holds the types shared by the orbit packages: the entity
// lifecycle states and the error taxonomy.
//
// The model is built with package metadata/builder, tracked at runtime with
// package tracking and used through package session.
package orbit

import "strconv"

// EntityState is the lifecycle state of a tracked entity instance.
type EntityState uint8

// Entity states.
const (
	// Unknown means the instance is not tracked.
	Unknown EntityState = iota
	// Added instances are inserted on the next save.
	Added
	// Unchanged instances match their snapshot.
	Unchanged
	// Modified instances have at least one property that differs from
	// its snapshot, or was explicitly marked modified.
	Modified
	// Deleted instances are removed on the next save.
	Deleted
)

var stateNames = [...]string{
	Unknown:   "Unknown",
	Added:     "Added",
	Unchanged: "Unchanged",
	Modified:  "Modified",
	Deleted:   "Deleted",
}

// String returns the name of the state.
func (s EntityState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "EntityState(" + strconv.Itoa(int(s)) + ")"
}

// IsTracked reports whether the state belongs to a tracked instance.
func (s EntityState) IsTracked() bool { return s != Unknown && int(s) < len(stateNames) }

// IsDirty reports whether an instance in this state has pending changes
// that a save must persist.
func (s EntityState) IsDirty() bool {
	return s == Added || s == Modified || s == Deleted
}

// ParseEntityState parses the name of a state, as returned by String.
func ParseEntityState(name string) (EntityState, error) {
	for i, n := range stateNames {
		if n == name {
			return EntityState(i), nil
		}
	}
	return Unknown, NewNotFoundError("entity state", name)
}
