package orbit

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the error kinds raised by the model builder,
// the state manager and the session.
var (
	// ErrConfigurationConflict is matched by ConfigurationConflictError.
	ErrConfigurationConflict = errors.New("orbit: configuration conflict")

	// ErrTypeMismatch is matched by TypeMismatchError.
	ErrTypeMismatch = errors.New("orbit: type mismatch")

	// ErrNullability is matched by NullabilityError.
	ErrNullability = errors.New("orbit: nullability conflict")

	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("orbit: not found")

	// ErrReentrancy is matched by ReentrancyError.
	ErrReentrancy = errors.New("orbit: re-entrant model construction")

	// ErrReadOnlyModel is returned when mutating a finalized model.
	ErrReadOnlyModel = errors.New("orbit: model is read-only")

	// ErrInvalidEntity is returned when an instance handed to the state
	// manager is not a non-nil pointer to a struct.
	ErrInvalidEntity = errors.New("orbit: invalid entity instance")
)

// ConfigurationConflictError is raised at the builder call that detects
// contradicting configuration, e.g. a property that is both added and
// ignored, or a relationship direction flipped after it was pinned.
type ConfigurationConflictError struct {
	Type    string // Entity type name
	Member  string // Property or navigation name (if applicable)
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigurationConflictError) Error() string {
	var b strings.Builder
	b.WriteString("orbit: configuration conflict")
	if e.Type != "" {
		b.WriteString(" on type ")
		b.WriteString(e.Type)
	}
	if e.Member != "" {
		b.WriteString(" member ")
		b.WriteString(e.Member)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ConfigurationConflictError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrConfigurationConflict.
func (e *ConfigurationConflictError) Is(target error) bool {
	return target == ErrConfigurationConflict
}

// NewConfigurationConflictError returns a new ConfigurationConflictError.
func NewConfigurationConflictError(typeName, member, message string) *ConfigurationConflictError {
	return &ConfigurationConflictError{Type: typeName, Member: member, Message: message}
}

// WrapConfigurationConflictError returns a ConfigurationConflictError
// caused by err.
func WrapConfigurationConflictError(err error, typeName, member, message string) *ConfigurationConflictError {
	return &ConfigurationConflictError{Type: typeName, Member: member, Message: message, Cause: err}
}

// IsConfigurationConflict returns true if the error is a ConfigurationConflictError.
func IsConfigurationConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigurationConflictError
	return errors.As(err, &e) || errors.Is(err, ErrConfigurationConflict)
}

// TypeMismatchError is raised when the dependent properties of a foreign
// key do not line up with the properties of its principal key.
type TypeMismatchError struct {
	Dependent string   // Dependent entity type
	Principal string   // Principal entity type
	Props     []string // Dependent property names
	Key       []string // Principal key property names
	Message   string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("orbit: foreign key {%s} on %s does not match key {%s} on %s: %s",
		strings.Join(e.Props, ", "), e.Dependent, strings.Join(e.Key, ", "), e.Principal, e.Message)
}

// Is reports whether the target matches ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// NewTypeMismatchError returns a new TypeMismatchError.
func NewTypeMismatchError(dependent string, props []string, principal string, key []string, message string) *TypeMismatchError {
	return &TypeMismatchError{
		Dependent: dependent,
		Principal: principal,
		Props:     props,
		Key:       key,
		Message:   message,
	}
}

// IsTypeMismatch returns true if the error is a TypeMismatchError.
func IsTypeMismatch(err error) bool {
	if err == nil {
		return false
	}
	var e *TypeMismatchError
	return errors.As(err, &e) || errors.Is(err, ErrTypeMismatch)
}

// NullabilityError is raised when a relationship is made optional while
// its foreign key properties cannot hold a null.
type NullabilityError struct {
	Type  string   // Dependent entity type
	Props []string // Non-nullable foreign key properties
}

// Error implements the error interface.
func (e *NullabilityError) Error() string {
	return fmt.Sprintf("orbit: relationship on %s cannot be optional: foreign key properties {%s} are not nullable",
		e.Type, strings.Join(e.Props, ", "))
}

// Is reports whether the target matches ErrNullability.
func (e *NullabilityError) Is(target error) bool {
	return target == ErrNullability
}

// NewNullabilityError returns a new NullabilityError.
func NewNullabilityError(typeName string, props ...string) *NullabilityError {
	return &NullabilityError{Type: typeName, Props: props}
}

// IsNullability returns true if the error is a NullabilityError.
func IsNullability(err error) bool {
	if err == nil {
		return false
	}
	var e *NullabilityError
	return errors.As(err, &e) || errors.Is(err, ErrNullability)
}

// NotFoundError represents a failed lookup of something named: an entity
// type, a property, a named configuration.
type NotFoundError struct {
	kind string
	name string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("orbit: %s %q not found", e.kind, e.name)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Kind returns what was looked up.
func (e *NotFoundError) Kind() string {
	return e.kind
}

// Name returns the name that was looked up.
func (e *NotFoundError) Name() string {
	return e.name
}

// NewNotFoundError returns a new NotFoundError.
func NewNotFoundError(kind, name string) *NotFoundError {
	return &NotFoundError{kind: kind, name: name}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ReentrancyError is raised when a model, or the session owning it, is
// used from inside the callback that is building that model.
type ReentrancyError struct {
	Operation string
}

// Error returns the error string.
func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("orbit: %s called while the model is being built", e.Operation)
}

// Is reports whether the target matches ErrReentrancy.
func (e *ReentrancyError) Is(target error) bool {
	return target == ErrReentrancy
}

// NewReentrancyError returns a new ReentrancyError.
func NewReentrancyError(op string) *ReentrancyError {
	return &ReentrancyError{Operation: op}
}

// IsReentrancy returns true if the error is a ReentrancyError.
func IsReentrancy(err error) bool {
	if err == nil {
		return false
	}
	var e *ReentrancyError
	return errors.As(err, &e) || errors.Is(err, ErrReentrancy)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "orbit: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("orbit: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors, so errors.Is and errors.As
// inspect each of them.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
