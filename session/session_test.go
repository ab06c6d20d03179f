package session_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/config"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
	"github.com/syssam/orbit/privacy"
	"github.com/syssam/orbit/session"
	"github.com/syssam/orbit/tracking"
)

type (
	Customer struct {
		Id     int
		Name   string
		Orders []*Order
	}
	Order struct {
		Id         int
		Total      float64
		CustomerId int
		Customer   *Customer
	}
)

// recorder is a persister that keeps what it was asked to save.
type recorder struct {
	calls   int
	entries []*tracking.Entry
	states  []orbit.EntityState
	err     error
}

func (r *recorder) Save(_ context.Context, entries []*tracking.Entry) (int, error) {
	r.calls++
	r.entries = entries
	r.states = r.states[:0]
	for _, e := range entries {
		r.states = append(r.states, e.State())
	}
	if r.err != nil {
		return 0, r.err
	}
	return len(entries), nil
}

func configure(_ context.Context, mb *builder.ModelBuilder) error {
	builder.Entity[Order](mb)
	return mb.Err()
}

func buildModel(t *testing.T) *metadata.Model {
	t.Helper()
	mb := builder.New()
	builder.Entity[Order](mb)
	m, err := mb.Build()
	require.NoError(t, err)
	return m
}

func newSession(t *testing.T, opts ...session.Option) *session.Session {
	t.Helper()
	s, err := session.New(append([]session.Option{session.WithModel(buildModel(t))}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestSession_SaveChangesWithoutChanges(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	rec := &recorder{}
	s := newSession(t, session.WithPersister(rec))

	entries, err := s.Attach(&Customer{Id: 1}, &Customer{Id: 2})
	req.NoError(err)
	req.Len(entries, 2)
	for _, e := range entries {
		req.Equal(orbit.Unchanged, e.State())
	}

	n, err := s.SaveChanges(context.Background())
	req.NoError(err)
	req.Zero(n)
	req.Zero(rec.calls)
}

func TestSession_SaveChangesDirtyEntries(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	rec := &recorder{}
	s := newSession(t, session.WithPersister(rec))

	unchanged, modified := &Customer{Id: 1}, &Customer{Id: 2}
	added, deleted := &Customer{Id: 3}, &Customer{Id: 4}
	for entity, state := range map[*Customer]orbit.EntityState{
		unchanged: orbit.Unchanged,
		modified:  orbit.Modified,
		added:     orbit.Added,
		deleted:   orbit.Deleted,
	} {
		e, err := s.Entry(entity)
		req.NoError(err)
		req.NoError(e.SetState(state))
	}

	n, err := s.SaveChanges(context.Background())
	req.NoError(err)
	req.Equal(3, n)
	req.Equal(1, rec.calls)
	req.Len(rec.entries, 3)
	var saved []any
	for _, e := range rec.entries {
		saved = append(saved, e.Entity())
	}
	req.ElementsMatch([]any{modified, added, deleted}, saved)
	req.ElementsMatch([]orbit.EntityState{orbit.Modified, orbit.Added, orbit.Deleted}, rec.states)

	entries, err := s.Entries()
	req.NoError(err)
	req.Len(entries, 3)
	for _, e := range entries {
		req.Equal(orbit.Unchanged, e.State())
	}
	_, err = s.SaveChanges(context.Background())
	req.NoError(err)
	req.Equal(1, rec.calls)
}

func TestSession_SaveChangesErrors(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	s := newSession(t)
	_, err := s.Add(&Customer{})
	req.NoError(err)
	_, err = s.SaveChanges(context.Background())
	req.ErrorIs(err, session.ErrNoPersister)

	boom := errors.New("boom")
	s = newSession(t, session.WithPersister(&recorder{err: boom}))
	entries, err := s.Add(&Customer{})
	req.NoError(err)
	_, err = s.SaveChanges(context.Background())
	req.ErrorIs(err, boom)
	req.Equal(orbit.Added, entries[0].State())
}

func TestSession_AutoDetectChanges(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		detect bool
		calls  int
	}{
		{name: "on", detect: true, calls: 1},
		{name: "off", detect: false, calls: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := require.New(t)
			rec := &recorder{}
			s := newSession(t, session.WithPersister(rec), session.WithAutoDetectChanges(tt.detect))
			customer := &Customer{Id: 1}
			_, err := s.Attach(customer)
			req.NoError(err)
			customer.Name = "Ada"
			_, err = s.SaveChanges(context.Background())
			req.NoError(err)
			req.Equal(tt.calls, rec.calls)
		})
	}
}

func TestSession_Update(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newSession(t)

	fresh, existing := &Customer{Name: "new"}, &Customer{Id: 9, Name: "old"}
	entries, err := session.Update(s, fresh, existing)
	req.NoError(err)
	req.Equal(orbit.Added, entries[0].State())
	req.Equal(-1, fresh.Id)
	req.Equal(orbit.Modified, entries[1].State())
	req.Same(existing, entries[1].Entity())

	name, err := entries[1].Property("Name")
	req.NoError(err)
	req.True(name.IsModified())
	id, err := entries[1].Property("Id")
	req.NoError(err)
	req.False(id.IsModified())
}

func TestSession_Remove(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newSession(t)

	added := &Customer{}
	_, err := s.Add(added)
	req.NoError(err)
	removed, err := session.Remove(s, added, &Customer{Id: 5})
	req.NoError(err)
	req.Equal(orbit.Unknown, removed[0].State())
	req.Equal(orbit.Deleted, removed[1].State())

	entries, err := s.Entries(orbit.Deleted)
	req.NoError(err)
	req.Len(entries, 1)
}

func TestSession_Graph(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newSession(t)

	customer := &Customer{Id: 1}
	order := &Order{Id: 10, CustomerId: 1}
	_, err := session.Attach(s, customer)
	req.NoError(err)
	entries, err := session.Attach(s, order)
	req.NoError(err)
	req.Same(customer, order.Customer)
	req.Equal([]*Order{order}, customer.Orders)
	req.Same(order, entries[0].Entity())

	other := &Customer{Id: 2}
	_, err = s.Attach(other)
	req.NoError(err)
	order.Customer = other
	entry, err := session.EntryOf(s, order)
	req.NoError(err)
	req.Equal(orbit.Modified, entry.State())
	req.Equal(2, order.CustomerId)
	req.Empty(customer.Orders)
}

func TestSession_InvalidEntities(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newSession(t)

	_, err := s.Add(Customer{})
	req.ErrorIs(err, orbit.ErrInvalidEntity)
	_, err = session.Add[Customer](s, nil)
	req.ErrorIs(err, orbit.ErrInvalidEntity)
	_, err = s.Attach(&struct{ Id int }{})
	req.True(orbit.IsNotFound(err))
}

func TestSession_ModelBuilder(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	src := session.NewModelSource(nil)

	s1, err := session.New(session.WithModelSource(src), session.WithModelBuilder("shop", configure))
	req.NoError(err)
	s2, err := session.New(session.WithModelSource(src), session.WithModelBuilder("shop", configure))
	req.NoError(err)

	m1, err := s1.Model()
	req.NoError(err)
	m2, err := s2.Model()
	req.NoError(err)
	req.Same(m1, m2)
	req.NotNil(m1.FindEntityType("Customer"))

	sm, err := s1.ChangeTracker()
	req.NoError(err)
	req.Same(m1, sm.Model())
}

func TestSession_Reentrancy(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var s *session.Session
	var inner error
	s, err := session.New(
		session.WithModelSource(session.NewModelSource(nil)),
		session.WithModelBuilder("loop", func(ctx context.Context, mb *builder.ModelBuilder) error {
			_, inner = s.Model()
			return configure(ctx, mb)
		}),
	)
	req.NoError(err)
	_, err = s.Model()
	req.NoError(err)
	req.True(orbit.IsReentrancy(inner))

	src := session.NewModelSource(nil)
	var nested func(ctx context.Context, mb *builder.ModelBuilder) error
	nested = func(ctx context.Context, mb *builder.ModelBuilder) error {
		_, err := src.Model(ctx, "self", nested)
		return err
	}
	_, err = src.Model(context.Background(), "self", nested)
	req.True(orbit.IsReentrancy(err))
	req.ErrorIs(err, orbit.ErrReentrancy)
}

func TestSession_NestedReentrancy(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	src := session.NewModelSource(nil)

	var inner error
	var build session.ConfigureFunc
	build = func(ctx context.Context, mb *builder.ModelBuilder) error {
		nested, err := session.New(
			session.WithModelSource(src),
			session.WithModelBuilder("nested", build),
			session.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		_, inner = nested.Model()
		return configure(ctx, mb)
	}
	s, err := session.New(session.WithModelSource(src), session.WithModelBuilder("nested", build))
	req.NoError(err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Model()
		done <- err
	}()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("nested model lookup did not return")
	}
	req.True(orbit.IsReentrancy(inner))

	_, err = session.New(session.WithContext(nil))
	req.True(orbit.IsConfigurationConflict(err))
}

func TestModelSource_WaitCanceled(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	src := session.NewModelSource(nil)

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	go func() {
		_, _ = src.Model(context.Background(), "slow", func(ctx context.Context, mb *builder.ModelBuilder) error {
			close(started)
			<-release
			return configure(ctx, mb)
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Model(ctx, "slow", configure)
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestModelSource_SharedBuild(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	src := session.NewModelSource(nil)

	var builds atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context, mb *builder.ModelBuilder) error {
		builds.Add(1)
		<-release
		return configure(ctx, mb)
	}

	const n = 8
	models := make([]*metadata.Model, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := src.Model(context.Background(), "shared", slow)
			assert.NoError(t, err)
			models[i] = m
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	req.Equal(int32(1), builds.Load())
	for _, m := range models {
		req.Same(models[0], m)
	}

	src.Forget("shared")
	_, err := src.Model(context.Background(), "shared", configure)
	req.NoError(err)
}

func TestModelSource_BuildError(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	src := session.NewModelSource(nil)

	_, err := src.Model(context.Background(), "bad", func(_ context.Context, mb *builder.ModelBuilder) error {
		builder.Entity[Order](mb).Key("Missing")
		return nil
	})
	req.True(orbit.IsNotFound(err))

	_, err = src.Model(context.Background(), "bad", configure)
	req.NoError(err)
}

func TestOptions(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	_, err := session.New()
	req.True(orbit.IsConfigurationConflict(err))
	_, err = session.New(session.WithModel(metadata.NewModel()))
	req.True(orbit.IsConfigurationConflict(err))

	var o session.Options
	err = o.ApplyAll(
		session.WithLogger(nil),
		session.WithPersister(nil),
		session.WithModelBuilder("", configure),
		session.WithAutoDetectChanges(true),
	)
	req.Error(err)
	req.True(o.AutoDetectChanges)
	var joined interface{ Unwrap() []error }
	req.ErrorAs(err, &joined)
	req.Len(joined.Unwrap(), 3)

	err = o.Apply(session.WithValueGenerator(nil), session.WithModelSource(nil))
	req.True(orbit.IsConfigurationConflict(err))
	req.ErrorContains(err, "Generator")
}

func TestSession_Logger(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s, err := session.New(
		session.WithLogger(logger),
		session.WithModelSource(session.NewModelSource(nil)),
		session.WithModelBuilder("logged", configure),
		session.WithPersister(session.Discard),
	)
	req.NoError(err)
	_, err = s.Add(&Customer{})
	req.NoError(err)
	n, err := s.SaveChanges(context.Background())
	req.NoError(err)
	req.Equal(1, n)

	out := buf.String()
	req.Contains(out, "model built")
	req.Contains(out, "entity tracked")
	req.Contains(out, "saving changes")
}

func TestStatsPersister(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var slow []int
	sp := session.NewStatsPersister(
		session.PersisterFunc(func(_ context.Context, entries []*tracking.Entry) (int, error) {
			time.Sleep(5 * time.Millisecond)
			if len(entries) > 1 {
				return 0, errors.New("too many")
			}
			return len(entries), nil
		}),
		session.WithSlowThreshold(time.Millisecond),
		session.WithSlowSaveHook(func(_ context.Context, entries int, _ time.Duration) {
			slow = append(slow, entries)
		}),
	)
	req.Equal(time.Millisecond, sp.SlowThreshold())

	s := newSession(t, session.WithPersister(sp))
	_, err := s.Add(&Customer{})
	req.NoError(err)
	_, err = s.SaveChanges(context.Background())
	req.NoError(err)
	_, err = s.Add(&Customer{}, &Customer{})
	req.NoError(err)
	_, err = s.SaveChanges(context.Background())
	req.Error(err)

	stats := sp.SaveStats().Stats()
	req.Equal(int64(2), stats.Saves)
	req.Equal(int64(3), stats.Entries)
	req.Equal(int64(1), stats.Errors)
	req.Equal(int64(2), stats.SlowSaves)
	req.Equal([]int{1, 2}, slow)
	req.GreaterOrEqual(stats.AvgSaveDuration(), 5*time.Millisecond)
	req.Contains(stats.String(), "saves=2 entries=3")

	sp.SetSlowThreshold(time.Hour)
	req.Equal(time.Hour, sp.SlowThreshold())
	sp.SaveStats().Reset()
	req.Zero(sp.SaveStats().Stats().Saves)
	req.Zero(session.StatsSnapshot{}.AvgSaveDuration())
}

func TestDebugPersister(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	var lines []string
	dp := session.NewDebugPersister(session.Discard, session.DebugWithLog(func(_ context.Context, v ...any) {
		lines = append(lines, v[0].(string))
	}))
	s := newSession(t, session.WithPersister(dp))
	_, err := s.Attach(&Customer{Id: 7})
	req.NoError(err)
	_, err = s.Remove(&Customer{Id: 8})
	req.NoError(err)
	n, err := s.SaveChanges(context.Background())
	req.NoError(err)
	req.Equal(1, n)
	req.Equal([]string{"Customer[8] Deleted"}, lines)
}

func TestSession_Profile(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	path := filepath.Join(t.TempDir(), config.FileName)
	req.NoError(os.WriteFile(path, []byte(`
profiles:
  manual:
    auto_detect_changes: false
    target: name=sink
  audited:
    target: audit
    slow_save: 1h
  odd:
    target: strange
targets:
  sink:
    kind: discard
  audit:
    kind: log
  strange:
    kind: carrier-pigeon
`), 0o644))
	cfg, err := config.Load(path)
	req.NoError(err)

	s := newSession(t, session.WithProfile(cfg, "manual"))
	customer := &Customer{Id: 1}
	_, err = s.Attach(customer)
	req.NoError(err)
	customer.Name = "changed"
	n, err := s.SaveChanges(context.Background())
	req.NoError(err)
	req.Zero(n)
	_, err = s.Add(&Customer{})
	req.NoError(err)
	n, err = s.SaveChanges(context.Background())
	req.NoError(err)
	req.Equal(1, n)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s = newSession(t, session.WithLogger(logger), session.WithProfile(cfg, "audited"))
	_, err = s.Remove(&Customer{Id: 3})
	req.NoError(err)
	n, err = s.SaveChanges(context.Background())
	req.NoError(err)
	req.Equal(1, n)
	req.Contains(buf.String(), "target=audit")
	req.Contains(buf.String(), "Customer[3] Deleted")

	_, err = session.New(session.WithModel(buildModel(t)), session.WithProfile(cfg, "odd"))
	req.True(orbit.IsConfigurationConflict(err))
	_, err = session.New(session.WithModel(buildModel(t)), session.WithProfile(cfg, "missing"))
	req.True(orbit.IsNotFound(err))
}

func TestSession_Policy(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	rec := &recorder{}
	s := newSession(t,
		session.WithPersister(rec),
		session.WithPolicy(privacy.Policy{
			privacy.HasRole("admin"),
			privacy.DenyStateRule(orbit.Deleted),
		}),
	)
	ctx := context.Background()

	_, err := s.Add(&Customer{Name: "new"})
	req.NoError(err)
	gone, err := s.Remove(&Customer{Id: 9})
	req.NoError(err)

	_, err = s.SaveChanges(ctx)
	req.ErrorIs(err, privacy.Deny)
	req.ErrorContains(err, "Customer[9] Deleted")
	req.Zero(rec.calls)
	req.Equal(orbit.Deleted, gone[0].State())

	admin := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "1", Roles: []string{"admin"}})
	n, err := s.SaveChanges(admin)
	req.NoError(err)
	req.Equal(2, n)

	_, err = session.New(session.WithModel(buildModel(t)), session.WithPolicy(nil))
	req.True(orbit.IsConfigurationConflict(err))
}
