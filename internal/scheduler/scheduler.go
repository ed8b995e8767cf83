// Package scheduler is the durable registry of weekly booking triggers: one
// cron entry per active reservation, backed by the scheduled_jobs table so
// triggers survive restarts.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one weekly trigger, keyed 1:1 by reservation id. Weekday/Hour/Minute
// are the booking-attempt instant (one day before the class); ClassTime,
// Center and ClassName are the fixed execution args.
type Job struct {
	ReservationID int64
	Weekday       time.Weekday
	Hour          int
	Minute        int

	ClassTime string
	Center    string
	ClassName string
}

// PersistedJob is a Job as reloaded from durable storage.
type PersistedJob struct {
	Job
	NextRunAt *time.Time
}

type Store interface {
	Upsert(ctx context.Context, j Job, nextRun time.Time) error
	Delete(ctx context.Context, reservationID int64) (bool, error)
	List(ctx context.Context) ([]PersistedJob, error)
	SetNextRun(ctx context.Context, reservationID int64, next time.Time) error
}

// Runner receives fires. firedAt is the wall-clock dispatch instant.
type Runner interface {
	Run(ctx context.Context, j Job, firedAt time.Time)
}

type RunnerFunc func(ctx context.Context, j Job, firedAt time.Time)

func (f RunnerFunc) Run(ctx context.Context, j Job, firedAt time.Time) { f(ctx, j, firedAt) }

type Scheduler struct {
	store  Store
	runner Runner

	// grace bounds catch-up at startup: a persisted next_run_at missed by
	// less than this is dispatched once, anything older is skipped.
	grace time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[int64]cron.EntryID
	wg      sync.WaitGroup

	ctx context.Context
	now func() time.Time
}

func New(store Store, runner Runner, grace time.Duration) *Scheduler {
	return &Scheduler{
		store:   store,
		runner:  runner,
		grace:   grace,
		cron:    cron.New(),
		entries: make(map[int64]cron.EntryID),
		ctx:     context.Background(),
		now:     time.Now,
	}
}

func cronSpec(j Job) string {
	return fmt.Sprintf("%d %d * * %d", j.Minute, j.Hour, int(j.Weekday))
}

// Schedule registers (or replaces) the weekly trigger for a reservation. At
// most one entry exists per reservation id at any time.
func (s *Scheduler) Schedule(ctx context.Context, j Job) error {
	spec := cronSpec(j)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: bad spec %q: %w", spec, err)
	}

	if err := s.store.Upsert(ctx, j, sched.Next(s.now())); err != nil {
		return fmt.Errorf("scheduler: persist job %d: %w", j.ReservationID, err)
	}

	s.register(j)
	log.Printf("scheduler: registered job %d (%s)", j.ReservationID, spec)
	return nil
}

// Cancel removes a reservation's trigger. Cancelling a job that was never
// scheduled is a logged no-op, not an error.
func (s *Scheduler) Cancel(ctx context.Context, reservationID int64) error {
	s.mu.Lock()
	if entryID, ok := s.entries[reservationID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, reservationID)
	}
	s.mu.Unlock()

	found, err := s.store.Delete(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("scheduler: delete job %d: %w", reservationID, err)
	}
	if !found {
		log.Printf("scheduler: cancel job %d: was not scheduled", reservationID)
		return nil
	}
	log.Printf("scheduler: cancelled job %d", reservationID)
	return nil
}

// Start reloads persisted jobs, replays any fire missed by less than the grace
// window, and starts the cron runtime. Fires run on their own goroutines, so a
// slow or retrying reservation never delays another's trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	jobs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load jobs: %w", err)
	}

	now := s.now()
	for _, pj := range jobs {
		s.register(pj.Job)
		if pj.NextRunAt != nil && pj.NextRunAt.Before(now) {
			missed := now.Sub(*pj.NextRunAt)
			if missed <= s.grace {
				log.Printf("scheduler: job %d missed its fire by %s, dispatching now", pj.ReservationID, missed.Round(time.Second))
				j := pj.Job
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.dispatch(j)
				}()
			} else {
				log.Printf("scheduler: job %d missed its fire by %s, skipping this occurrence", pj.ReservationID, missed.Round(time.Second))
				s.refreshNextRun(pj.Job)
			}
		}
	}

	s.cron.Start()
	log.Printf("scheduler: started with %d jobs", len(jobs))
	return nil
}

// Stop halts the cron runtime and waits for in-flight dispatches.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	log.Printf("scheduler: stopped")
}

// Jobs returns the reservation ids with a live cron entry, for inspection.
func (s *Scheduler) Jobs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

func (s *Scheduler) register(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[j.ReservationID]; ok {
		s.cron.Remove(entryID)
	}

	// cron runs each invocation on its own goroutine
	entryID, err := s.cron.AddFunc(cronSpec(j), func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.dispatch(j)
	})
	if err != nil {
		// spec is validated in Schedule; reload of a persisted row is the
		// only other path and those rows were validated on the way in
		log.Printf("scheduler: register job %d: %v", j.ReservationID, err)
		return
	}
	s.entries[j.ReservationID] = entryID
}

func (s *Scheduler) dispatch(j Job) {
	firedAt := s.now()
	s.runner.Run(s.ctx, j, firedAt)
	s.refreshNextRun(j)
}

func (s *Scheduler) refreshNextRun(j Job) {
	sched, err := cron.ParseStandard(cronSpec(j))
	if err != nil {
		return
	}
	if err := s.store.SetNextRun(s.ctx, j.ReservationID, sched.Next(s.now())); err != nil {
		log.Printf("scheduler: refresh next run for job %d: %v", j.ReservationID, err)
	}
}
