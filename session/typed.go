package session

import "github.com/syssam/orbit/tracking"

// TypedEntry is an entry whose instance is a *T.
type TypedEntry[T any] struct {
	*tracking.Entry
}

// Entity returns the tracked instance.
func (e *TypedEntry[T]) Entity() *T {
	return e.Entry.Entity().(*T)
}

// Add is Session.Add for instances of T.
func Add[T any](s *Session, entities ...*T) ([]*TypedEntry[T], error) {
	return typed[T](s.Add(anys(entities)...))
}

// Attach is Session.Attach for instances of T.
func Attach[T any](s *Session, entities ...*T) ([]*TypedEntry[T], error) {
	return typed[T](s.Attach(anys(entities)...))
}

// Update is Session.Update for instances of T.
func Update[T any](s *Session, entities ...*T) ([]*TypedEntry[T], error) {
	return typed[T](s.Update(anys(entities)...))
}

// Remove is Session.Remove for instances of T.
func Remove[T any](s *Session, entities ...*T) ([]*TypedEntry[T], error) {
	return typed[T](s.Remove(anys(entities)...))
}

// EntryOf is Session.Entry for an instance of T.
func EntryOf[T any](s *Session, entity *T) (*TypedEntry[T], error) {
	e, err := s.Entry(entity)
	if err != nil {
		return nil, err
	}
	return &TypedEntry[T]{Entry: e}, nil
}

func anys[T any](entities []*T) []any {
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = e
	}
	return out
}

func typed[T any](entries []*tracking.Entry, err error) ([]*TypedEntry[T], error) {
	out := make([]*TypedEntry[T], len(entries))
	for i, e := range entries {
		out[i] = &TypedEntry[T]{Entry: e}
	}
	return out, err
}
