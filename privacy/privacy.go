// Package privacy provides rules deciding whether the tracked changes of a
// session may be saved, and their evaluation at runtime.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/tracking"
)

// Policy decision sentinel errors.
//
// Rules return them to tell how the evaluation proceeds. Use errors.Is to
// check for them:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow ends the evaluation of an entry with an allow decision.
	Allow = errors.New("orbit/privacy: allow rule")

	// Deny ends the evaluation of an entry with a deny decision.
	Deny = errors.New("orbit/privacy: deny rule")

	// Skip moves on to the next rule.
	Skip = errors.New("orbit/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Rule decides whether a tracked entry may be saved.
type Rule interface {
	EvalEntry(context.Context, *tracking.Entry) error
}

// RuleFunc is an adapter to allow the use of ordinary functions as rules.
type RuleFunc func(context.Context, *tracking.Entry) error

// EvalEntry returns f(ctx, e).
func (f RuleFunc) EvalEntry(ctx context.Context, e *tracking.Entry) error {
	return f(ctx, e)
}

// AlwaysAllowRule returns a rule that always allows.
func AlwaysAllowRule() Rule {
	return RuleFunc(func(context.Context, *tracking.Entry) error { return Allow })
}

// AlwaysDenyRule returns a rule that always denies.
func AlwaysDenyRule() Rule {
	return RuleFunc(func(context.Context, *tracking.Entry) error { return Deny })
}

// ContextRule creates a rule from a function of the context alone. A nil
// result counts as Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *tracking.Entry) error {
		return eval(ctx)
	})
}

// OnState evaluates rule only for entries in one of the given states.
func OnState(rule Rule, states ...orbit.EntityState) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		if slices.Contains(states, e.State()) {
			return rule.EvalEntry(ctx, e)
		}
		return Skip
	})
}

// OnEntityType evaluates rule only for entries of the named entity types.
func OnEntityType(rule Rule, names ...string) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		if slices.Contains(names, e.EntityType().Name()) {
			return rule.EvalEntry(ctx, e)
		}
		return Skip
	})
}

// DenyStateRule returns a rule denying entries in the given states.
func DenyStateRule(states ...orbit.EntityState) Rule {
	rule := RuleFunc(func(_ context.Context, e *tracking.Entry) error {
		return Denyf("orbit/privacy: %s entities are not allowed", e.State())
	})
	return OnState(rule, states...)
}

// Policy combines rules. The first rule that does not skip decides; an
// entry no rule decides on is allowed.
type Policy []Rule

// EvalEntry evaluates the rules in order against e.
func (p Policy) EvalEntry(ctx context.Context, e *tracking.Entry) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.EvalEntry(ctx, e); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// Eval evaluates rule against every entry and returns the first denial,
// naming the entry it was about.
func Eval(ctx context.Context, rule Rule, entries []*tracking.Entry) error {
	for _, e := range entries {
		switch decision := rule.EvalEntry(ctx, e); {
		case decision == nil || errors.Is(decision, Skip) || errors.Is(decision, Allow):
		default:
			return fmt.Errorf("%s: %w", e, decision)
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext returns a copy of parent carrying a decision that
// overrides every policy evaluated under it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the decision attached to ctx. An Allow
// decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}
