package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/orbit/tracking"
)

// Viewer is the user on whose behalf changes are saved.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant, or "".
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext returns the viewer of ctx, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic Viewer.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer denies every entry when ctx carries no viewer.
//
//	privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("orbit/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole allows entries when the viewer has role.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole allows entries when the viewer has one of roles.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner allows entries whose property holds the viewer's ID and denies
// the others. Entity types without the property are skipped.
func IsOwner(property string) Rule {
	return matchViewer(property, "owner", Viewer.GetID)
}

// TenantRule allows entries whose property holds the viewer's tenant and
// denies the others. Entity types without the property are skipped.
func TenantRule(property string) Rule {
	return matchViewer(property, "tenant", Viewer.GetTenantID)
}

func matchViewer(property, what string, id func(Viewer) string) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || id(viewer) == "" {
			return Skip
		}
		if e.EntityType().FindProperty(property) == nil {
			return Skip
		}
		pe, err := e.Property(property)
		if err != nil {
			return err
		}
		value := pe.CurrentValue()
		if value == nil {
			return Denyf("orbit/privacy: %s %s is not set", what, property)
		}
		var got string
		switch v := value.(type) {
		case string:
			got = v
		default:
			got = fmt.Sprintf("%v", v)
		}
		if got == id(viewer) {
			return Allow
		}
		return Denyf("orbit/privacy: %s mismatch", what)
	})
}
