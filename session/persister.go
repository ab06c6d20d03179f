package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/orbit/tracking"
)

// Persister writes the dirty entries of a session. It returns the number
// of entries written.
type Persister interface {
	Save(ctx context.Context, entries []*tracking.Entry) (int, error)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, entries []*tracking.Entry) (int, error)

// Save implements Persister.
func (f PersisterFunc) Save(ctx context.Context, entries []*tracking.Entry) (int, error) {
	return f(ctx, entries)
}

// Discard writes nothing and reports every entry as written.
var Discard Persister = PersisterFunc(func(ctx context.Context, entries []*tracking.Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(entries), nil
})

// SaveStats holds save statistics.
type SaveStats struct {
	// Saves is the number of Save calls.
	Saves atomic.Int64
	// Entries is the number of entries passed to Save.
	Entries atomic.Int64
	// TotalDuration is the total time spent saving.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowSaves is the count of saves exceeding the slow threshold.
	SlowSaves atomic.Int64
	// Errors is the count of failed saves.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *SaveStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		Saves:         s.Saves.Load(),
		Entries:       s.Entries.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowSaves:     s.SlowSaves.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *SaveStats) Reset() {
	s.Saves.Store(0)
	s.Entries.Store(0)
	s.TotalDuration.Store(0)
	s.SlowSaves.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of save statistics.
type StatsSnapshot struct {
	Saves         int64
	Entries       int64
	TotalDuration time.Duration
	SlowSaves     int64
	Errors        int64
}

// AvgSaveDuration returns the average save duration.
func (s StatsSnapshot) AvgSaveDuration() time.Duration {
	if s.Saves == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Saves)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"saves=%d entries=%d duration=%s avg=%s slow=%d errors=%d",
		s.Saves, s.Entries, s.TotalDuration, s.AvgSaveDuration(),
		s.SlowSaves, s.Errors,
	)
}

// SlowSaveHook is called when a slow save is detected.
type SlowSaveHook func(ctx context.Context, entries int, duration time.Duration)

// StatsPersister wraps a Persister with save statistics collection.
type StatsPersister struct {
	Persister
	stats         *SaveStats
	slowThreshold time.Duration
	slowHook      SlowSaveHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsPersister.
type StatsOption func(*StatsPersister)

// WithSlowThreshold sets the threshold for slow save detection.
// Default is 500ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsPersister) {
		s.slowThreshold = d
	}
}

// WithSlowSaveHook sets a callback for slow saves.
func WithSlowSaveHook(hook SlowSaveHook) StatsOption {
	return func(s *StatsPersister) {
		s.slowHook = hook
	}
}

// WithSlowSaveLog logs slow saves to the default logger.
func WithSlowSaveLog() StatsOption {
	return WithSlowSaveHook(func(_ context.Context, entries int, duration time.Duration) {
		slog.Warn("slow save detected", "duration", duration, "entries", entries)
	})
}

// NewStatsPersister wraps p with statistics collection.
//
// Example:
//
//	sp := session.NewStatsPersister(p,
//	    session.WithSlowThreshold(time.Second),
//	    session.WithSlowSaveLog(),
//	)
//	s, _ := session.New(session.WithModel(m), session.WithPersister(sp))
//
//	// Later, check statistics:
//	fmt.Println(sp.SaveStats().Stats())
func NewStatsPersister(p Persister, opts ...StatsOption) *StatsPersister {
	s := &StatsPersister{
		Persister:     p,
		stats:         &SaveStats{},
		slowThreshold: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveStats returns the underlying statistics.
func (s *StatsPersister) SaveStats() *SaveStats {
	return s.stats
}

// SlowThreshold returns the current slow save threshold.
func (s *StatsPersister) SlowThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slowThreshold
}

// SetSlowThreshold updates the slow save threshold.
func (s *StatsPersister) SetSlowThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowThreshold = threshold
}

// Save saves entries and records statistics.
func (s *StatsPersister) Save(ctx context.Context, entries []*tracking.Entry) (int, error) {
	start := time.Now()
	n, err := s.Persister.Save(ctx, entries)
	duration := time.Since(start)
	s.stats.Saves.Add(1)
	s.stats.Entries.Add(int64(len(entries)))
	s.stats.TotalDuration.Add(int64(duration))
	if err != nil {
		s.stats.Errors.Add(1)
	}

	s.mu.RLock()
	threshold := s.slowThreshold
	hook := s.slowHook
	s.mu.RUnlock()

	if duration > threshold {
		s.stats.SlowSaves.Add(1)
		if hook != nil {
			hook(ctx, len(entries), duration)
		}
	}
	return n, err
}

// DebugPersister wraps a Persister with debug logging of every entry it
// saves.
type DebugPersister struct {
	Persister
	log func(context.Context, ...any)
}

// DebugOption configures the DebugPersister.
type DebugOption func(*DebugPersister)

// DebugWithLog sets a custom log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugPersister) {
		d.log = logFunc
	}
}

// NewDebugPersister wraps p with debug logging.
func NewDebugPersister(p Persister, opts ...DebugOption) *DebugPersister {
	d := &DebugPersister{
		Persister: p,
		log: func(_ context.Context, v ...any) {
			slog.Info(fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Save logs entries and saves them.
func (d *DebugPersister) Save(ctx context.Context, entries []*tracking.Entry) (int, error) {
	for _, e := range entries {
		d.log(ctx, e.String())
	}
	return d.Persister.Save(ctx, entries)
}

// Ensure interfaces are implemented.
var (
	_ Persister = (*StatsPersister)(nil)
	_ Persister = (*DebugPersister)(nil)
	_ Persister = PersisterFunc(nil)
)
