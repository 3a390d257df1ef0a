// Package sched provides a timezone-anchored in-process job scheduler. Cron
// expressions are evaluated against the configured location so entries like
// "0 4 * * *" fire at local wall-clock time across DST transitions.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ibb-transit/crowdcast/internal/observability/metrics"
	"github.com/ibb-transit/crowdcast/internal/observability/statsd"
)

// JobFunc is the unit of work attached to a scheduler entry.
type JobFunc func(ctx context.Context) error

// Last run outcomes reported by Status.
const (
	LastStatusOK    = "ok"
	LastStatusError = "error"
)

// ErrEntryExists is returned when adding a cron entry under an id already in use.
var ErrEntryExists = errors.New("scheduler entry already exists")

// EntryStatus is the introspection view of one scheduler entry.
type EntryStatus struct {
	ID         string     `json:"id"`
	Expr       string     `json:"expr,omitempty"`
	OneShot    bool       `json:"one_shot,omitempty"`
	Paused     bool       `json:"paused"`
	Running    bool       `json:"running"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
}

type entry struct {
	id      string
	expr    string
	fn      JobFunc
	oneShot bool
	paused  bool
	running bool

	nextRun    time.Time
	lastRun    *time.Time
	lastStatus string
	lastError  string
	runCount   int64
	errorCount int64
}

// Options holds the dependencies for creating a Scheduler.
type Options struct {
	Location *time.Location
	// MisfireGrace bounds how late a due entry may still fire. A tick that is
	// missed by more than the grace (process froze, clock jumped) is coalesced
	// into a single skip and the entry is rescheduled to its next tick.
	MisfireGrace time.Duration
	Logger       *slog.Logger
	Metrics      statsd.Sink
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Scheduler runs cron entries and one-shot timers inside the configured
// location. Safe for concurrent use; each entry runs at most once at a time.
type Scheduler struct {
	loc     *time.Location
	grace   time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		loc:     opts.Location,
		grace:   opts.MisfireGrace,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// AddCron registers a recurring entry under a unique id.
func (s *Scheduler) AddCron(id, expr string, fn JobFunc) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q for %s", expr, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrEntryExists, id)
	}

	next, err := s.nextTick(expr, s.now())
	if err != nil {
		return err
	}
	s.entries[id] = &entry{id: id, expr: expr, fn: fn, nextRun: next}
	s.poke()
	return nil
}

// AddOneShot schedules fn to run once after delay. An existing entry with the
// same id is replaced, which is how retry backoffs reschedule themselves.
func (s *Scheduler) AddOneShot(id string, delay time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runAt := s.now().Add(delay)
	if existing, ok := s.entries[id]; ok && existing.running {
		// Keep counters from the running entry so Status stays coherent.
		existing.oneShot = true
		existing.expr = ""
		existing.fn = fn
		existing.nextRun = runAt
		existing.paused = false
	} else {
		s.entries[id] = &entry{id: id, fn: fn, oneShot: true, nextRun: runAt}
	}
	s.poke()
}

// Remove deletes an entry. Returns false when the id is unknown.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Pause stops an entry from firing without removing it.
func (s *Scheduler) Pause(id string) bool {
	return s.setPaused(id, true)
}

// Resume re-enables a paused entry. The next run is recomputed from now so a
// long pause does not cause a misfire burst.
func (s *Scheduler) Resume(id string) bool {
	return s.setPaused(id, false)
}

// PauseAll pauses every entry and returns how many were affected.
func (s *Scheduler) PauseAll() int {
	return s.setAllPaused(true)
}

// ResumeAll re-enables every paused entry; cron entries get a fresh next run
// so a long pause does not cause a misfire burst.
func (s *Scheduler) ResumeAll() int {
	return s.setAllPaused(false)
}

func (s *Scheduler) setAllPaused(paused bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.paused == paused {
			continue
		}
		e.paused = paused
		if !paused && !e.oneShot {
			if next, err := s.nextTick(e.expr, s.now()); err == nil {
				e.nextRun = next
			}
		}
		n++
	}
	s.poke()
	return n
}

func (s *Scheduler) setPaused(id string, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.paused = paused
	if !paused && !e.oneShot {
		if next, err := s.nextTick(e.expr, s.now()); err == nil {
			e.nextRun = next
		}
	}
	s.poke()
	return true
}

// Status returns a snapshot of every entry, sorted is left to the caller.
func (s *Scheduler) Status() []EntryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryStatus, 0, len(s.entries))
	for _, e := range s.entries {
		st := EntryStatus{
			ID:         e.id,
			Expr:       e.expr,
			OneShot:    e.oneShot,
			Paused:     e.paused,
			Running:    e.running,
			LastRun:    e.lastRun,
			LastStatus: e.lastStatus,
			LastError:  e.lastError,
			RunCount:   e.runCount,
			ErrorCount: e.errorCount,
		}
		if !e.paused {
			next := e.nextRun
			st.NextRun = &next
		}
		out = append(out, st)
	}
	return out
}

// Run drives the scheduler until the context is cancelled. It sleeps until
// the earliest due entry rather than polling on a fixed tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting", "location", s.loc.String())

	for {
		wait := s.untilNext()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.wg.Wait()
			s.logger.InfoContext(ctx, "scheduler stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		s.fireDue(ctx)
	}
}

// untilNext computes the sleep until the earliest runnable entry.
func (s *Scheduler) untilNext() time.Duration {
	const idleWait = time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	wait := idleWait
	for _, e := range s.entries {
		if e.paused || e.running {
			continue
		}
		if d := e.nextRun.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireDue launches every due entry. Late entries inside the misfire grace
// still fire once; later than that they are coalesced to the next tick.
func (s *Scheduler) fireDue(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, e := range s.entries {
		if e.paused || e.running || e.nextRun.After(now) {
			continue
		}

		lateness := now.Sub(e.nextRun)
		if lateness > s.grace && !e.oneShot {
			next, err := s.nextTick(e.expr, now)
			if err != nil {
				s.logger.Warn("reschedule after misfire failed", "id", e.id, "error", err)
				continue
			}
			s.logger.Warn("misfired entry skipped",
				"id", e.id, "late_by", lateness, "next_run", next)
			e.nextRun = next
			continue
		}

		e.running = true
		s.wg.Add(1)
		go s.invoke(ctx, e)
	}
}

// invoke runs one entry and records the outcome. Called with e.running held.
func (s *Scheduler) invoke(ctx context.Context, e *entry) {
	defer s.wg.Done()

	start := s.now()
	err := s.runGuarded(ctx, e)
	elapsed := s.now().Sub(start)

	metrics.EmitJobRun(s.metrics, metrics.JobRun{
		JobID:    e.id,
		Duration: elapsed,
		Err:      err,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	e.running = false
	started := start
	e.lastRun = &started
	e.runCount++
	if err != nil {
		e.errorCount++
		e.lastStatus = LastStatusError
		e.lastError = err.Error()
		s.logger.ErrorContext(ctx, "scheduled job failed",
			"id", e.id, "duration", elapsed, "error", err)
	} else {
		e.lastStatus = LastStatusOK
		e.lastError = ""
		s.logger.InfoContext(ctx, "scheduled job finished",
			"id", e.id, "duration", elapsed)
	}

	if e.oneShot {
		// A retry may have replaced the schedule while we ran; only reap the
		// entry if nothing moved its nextRun into the future.
		if current, ok := s.entries[e.id]; ok && current == e && !e.nextRun.After(s.now()) {
			delete(s.entries, e.id)
		}
		s.poke()
		return
	}

	next, nextErr := s.nextTick(e.expr, s.now())
	if nextErr != nil {
		s.logger.Error("compute next run failed; pausing entry", "id", e.id, "error", nextErr)
		e.paused = true
		return
	}
	e.nextRun = next
	s.poke()
}

func (s *Scheduler) runGuarded(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", e.id, r)
		}
	}()
	return e.fn(ctx)
}

// nextTick evaluates expr in the scheduler location and returns the next fire time.
func (s *Scheduler) nextTick(expr string, after time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(expr, after.In(s.loc), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next tick for %q: %w", expr, err)
	}
	return next, nil
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
