package privacy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata/builder"
	"github.com/syssam/orbit/privacy"
	"github.com/syssam/orbit/tracking"
)

type (
	Document struct {
		Id       int
		OwnerId  string
		TenantId *int
	}
	Audit struct {
		Id int
	}
)

// entry tracks entity in state on a fresh state manager.
func entry(t *testing.T, entity any, state orbit.EntityState) *tracking.Entry {
	t.Helper()
	mb := builder.New()
	builder.Entity[Document](mb)
	builder.Entity[Audit](mb)
	m, err := mb.Build()
	require.NoError(t, err)
	sm := tracking.NewStateManager(m)
	e, err := sm.GetOrCreateEntry(entity)
	require.NoError(t, err)
	require.NoError(t, sm.SetState(e, state))
	return e
}

func viewer(roles ...string) context.Context {
	return privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1", Roles: roles, TenantID: "7"})
}

func TestDecisions(t *testing.T) {
	t.Parallel()
	err := privacy.Denyf("no %s", "way")
	assert.ErrorIs(t, err, privacy.Deny)
	assert.EqualError(t, err, "no way: orbit/privacy: deny rule")
	assert.ErrorIs(t, privacy.Allowf("ok"), privacy.Allow)
	assert.ErrorIs(t, privacy.Skipf("later"), privacy.Skip)
}

func TestPolicy(t *testing.T) {
	t.Parallel()
	e := entry(t, &Document{Id: 1, OwnerId: "u1"}, orbit.Modified)
	boom := errors.New("boom")
	tests := []struct {
		name   string
		policy privacy.Policy
		ctx    context.Context
		want   error
	}{
		{name: "Empty", policy: nil, ctx: context.Background()},
		{name: "Allow", policy: privacy.Policy{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}, ctx: context.Background()},
		{name: "Deny", policy: privacy.Policy{privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}, ctx: context.Background(), want: privacy.Deny},
		{name: "SkipThenDeny", policy: privacy.Policy{privacy.ContextRule(func(context.Context) error { return nil }), privacy.AlwaysDenyRule()}, ctx: context.Background(), want: privacy.Deny},
		{name: "Error", policy: privacy.Policy{privacy.ContextRule(func(context.Context) error { return boom })}, ctx: context.Background(), want: boom},
		{name: "NoViewer", policy: privacy.Policy{privacy.DenyIfNoViewer()}, ctx: context.Background(), want: privacy.Deny},
		{name: "Role", policy: privacy.Policy{privacy.HasRole("admin"), privacy.AlwaysDenyRule()}, ctx: viewer("admin")},
		{name: "MissingRole", policy: privacy.Policy{privacy.HasAnyRole("admin", "editor"), privacy.AlwaysDenyRule()}, ctx: viewer("reader"), want: privacy.Deny},
		{name: "DecisionContext", policy: privacy.Policy{privacy.AlwaysDenyRule()}, ctx: privacy.DecisionContext(context.Background(), privacy.Allow)},
		{name: "DeniedContext", policy: privacy.Policy{privacy.AlwaysAllowRule()}, ctx: privacy.DecisionContext(context.Background(), privacy.Deny), want: privacy.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.policy.EvalEntry(tt.ctx, e)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOnState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rule := privacy.DenyStateRule(orbit.Deleted)
	assert.ErrorIs(t, rule.EvalEntry(ctx, entry(t, &Audit{Id: 1}, orbit.Added)), privacy.Skip)
	err := rule.EvalEntry(ctx, entry(t, &Audit{Id: 2}, orbit.Deleted))
	assert.ErrorIs(t, err, privacy.Deny)
	assert.ErrorContains(t, err, "Deleted entities are not allowed")

	onAudit := privacy.OnEntityType(privacy.AlwaysDenyRule(), "Audit")
	assert.ErrorIs(t, onAudit.EvalEntry(ctx, entry(t, &Audit{Id: 3}, orbit.Added)), privacy.Deny)
	assert.ErrorIs(t, onAudit.EvalEntry(ctx, entry(t, &Document{Id: 3}, orbit.Added)), privacy.Skip)
}

func TestIsOwner(t *testing.T) {
	t.Parallel()
	rule := privacy.IsOwner("OwnerId")
	assert.ErrorIs(t, rule.EvalEntry(viewer(), entry(t, &Document{Id: 1, OwnerId: "u1"}, orbit.Added)), privacy.Allow)
	assert.ErrorIs(t, rule.EvalEntry(viewer(), entry(t, &Document{Id: 2, OwnerId: "u2"}, orbit.Added)), privacy.Deny)
	assert.ErrorIs(t, rule.EvalEntry(context.Background(), entry(t, &Document{Id: 3}, orbit.Added)), privacy.Skip)
	assert.ErrorIs(t, rule.EvalEntry(viewer(), entry(t, &Audit{Id: 4}, orbit.Added)), privacy.Skip)
}

func TestTenantRule(t *testing.T) {
	t.Parallel()
	seven, eight := 7, 8
	rule := privacy.TenantRule("TenantId")
	assert.ErrorIs(t, rule.EvalEntry(viewer(), entry(t, &Document{Id: 1, TenantId: &seven}, orbit.Added)), privacy.Allow)
	assert.ErrorIs(t, rule.EvalEntry(viewer(), entry(t, &Document{Id: 2, TenantId: &eight}, orbit.Added)), privacy.Deny)
	err := rule.EvalEntry(viewer(), entry(t, &Document{Id: 3}, orbit.Added))
	assert.ErrorIs(t, err, privacy.Deny)
	assert.ErrorContains(t, err, "not set")
}

func TestEval(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	entries := []*tracking.Entry{
		entry(t, &Audit{Id: 1}, orbit.Added),
		entry(t, &Audit{Id: 2}, orbit.Deleted),
	}
	req.NoError(privacy.Eval(context.Background(), privacy.AlwaysAllowRule(), entries))
	err := privacy.Eval(context.Background(), privacy.DenyStateRule(orbit.Deleted), entries)
	req.ErrorIs(err, privacy.Deny)
	req.ErrorContains(err, "Audit[2] Deleted")
}
