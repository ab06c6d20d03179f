package metadata

import (
	"maps"
	"slices"
)

// Annotations holds free-form key/value metadata attached to a node of
// the model. Providers and tools read them; the core never interprets them.
type Annotations map[string]any

// annotatable is embedded by every node of the model.
type annotatable struct {
	model       *Model
	annotations Annotations
}

// Annotation returns the annotation stored under key.
func (a *annotatable) Annotation(key string) (any, bool) {
	v, ok := a.annotations[key]
	return v, ok
}

// SetAnnotation stores an annotation, replacing any previous value.
func (a *annotatable) SetAnnotation(key string, value any) error {
	if err := a.model.checkMutable(); err != nil {
		return err
	}
	if a.annotations == nil {
		a.annotations = make(Annotations)
	}
	a.annotations[key] = value
	return nil
}

// RemoveAnnotation deletes the annotation stored under key.
func (a *annotatable) RemoveAnnotation(key string) error {
	if err := a.model.checkMutable(); err != nil {
		return err
	}
	delete(a.annotations, key)
	return nil
}

// Annotations returns a copy of the annotations.
func (a *annotatable) Annotations() Annotations {
	return maps.Clone(a.annotations)
}

// annotationKeys returns the annotation keys in sorted order.
func (a *annotatable) annotationKeys() []string {
	return slices.Sorted(maps.Keys(a.annotations))
}
