package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows map[int64]PersistedJob
}

func newMemStore() *memStore { return &memStore{rows: make(map[int64]PersistedJob)} }

func (s *memStore) Upsert(ctx context.Context, j Job, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[j.ReservationID] = PersistedJob{Job: j, NextRunAt: &nextRun}
	return nil
}

func (s *memStore) Delete(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	delete(s.rows, id)
	return ok, nil
}

func (s *memStore) List(ctx context.Context) ([]PersistedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PersistedJob, 0, len(s.rows))
	for _, pj := range s.rows {
		out = append(out, pj)
	}
	return out, nil
}

func (s *memStore) SetNextRun(ctx context.Context, id int64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pj, ok := s.rows[id]; ok {
		pj.NextRunAt = &next
		s.rows[id] = pj
	}
	return nil
}

type recordingRunner struct {
	mu    sync.Mutex
	fires []Job
	done  chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, j Job, firedAt time.Time) {
	r.mu.Lock()
	r.fires = append(r.fires, j)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
}

func sundayJob(id int64) Job {
	return Job{
		ReservationID: id,
		Weekday:       time.Sunday,
		Hour:          10,
		Minute:        0,
		ClassTime:     "10:00",
		Center:        "134",
		ClassName:     "Body Pump",
	}
}

func TestCronSpec(t *testing.T) {
	assert.Equal(t, "0 10 * * 0", cronSpec(sundayJob(1)))

	j := sundayJob(1)
	j.Weekday = time.Saturday
	j.Hour = 18
	j.Minute = 45
	assert.Equal(t, "45 18 * * 6", cronSpec(j))

	// every spec we generate must parse as standard cron
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		j.Weekday = wd
		_, err := cron.ParseStandard(cronSpec(j))
		require.NoError(t, err)
	}
}

func TestSchedule_IdempotentReRegistration(t *testing.T) {
	store := newMemStore()
	s := New(store, &recordingRunner{}, time.Minute)

	require.NoError(t, s.Schedule(context.Background(), sundayJob(1)))
	require.NoError(t, s.Schedule(context.Background(), sundayJob(1)))
	require.NoError(t, s.Schedule(context.Background(), sundayJob(2)))

	assert.Len(t, s.Jobs(), 2)
	assert.Len(t, store.rows, 2)
	// exactly one live cron entry per reservation id
	assert.Len(t, s.cron.Entries(), 2)
}

func TestCancel_UnknownJobIsNoOp(t *testing.T) {
	store := newMemStore()
	s := New(store, &recordingRunner{}, time.Minute)

	require.NoError(t, s.Schedule(context.Background(), sundayJob(1)))
	require.NoError(t, s.Cancel(context.Background(), 999))

	assert.Len(t, s.Jobs(), 1)
	assert.Len(t, store.rows, 1)
}

func TestCancel_RemovesEntryAndRow(t *testing.T) {
	store := newMemStore()
	s := New(store, &recordingRunner{}, time.Minute)

	require.NoError(t, s.Schedule(context.Background(), sundayJob(1)))
	require.NoError(t, s.Cancel(context.Background(), 1))

	assert.Empty(t, s.Jobs())
	assert.Empty(t, store.rows)
	assert.Empty(t, s.cron.Entries())
}

func TestScheduleCancelScheduleRoundTrip(t *testing.T) {
	// Re-deriving the trigger after cancel+reschedule must not drift.
	store := newMemStore()
	s := New(store, &recordingRunner{}, time.Minute)
	ctx := context.Background()

	j := sundayJob(1)
	require.NoError(t, s.Schedule(ctx, j))
	first := store.rows[1]

	require.NoError(t, s.Cancel(ctx, 1))
	require.NoError(t, s.Schedule(ctx, j))
	second := store.rows[1]

	assert.Equal(t, first.Job, second.Job)
	assert.Equal(t, cronSpec(first.Job), cronSpec(second.Job))
}

func TestStart_ReloadsPersistedJobs(t *testing.T) {
	store := newMemStore()
	next := time.Now().Add(time.Hour)
	store.rows[1] = PersistedJob{Job: sundayJob(1), NextRunAt: &next}
	store.rows[2] = PersistedJob{Job: sundayJob(2), NextRunAt: &next}

	s := New(store, &recordingRunner{}, time.Minute)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Len(t, s.Jobs(), 2)
}

func TestStart_MissedFireWithinGraceDispatchesOnce(t *testing.T) {
	store := newMemStore()
	missed := time.Now().Add(-30 * time.Second)
	store.rows[1] = PersistedJob{Job: sundayJob(1), NextRunAt: &missed}

	runner := &recordingRunner{done: make(chan struct{}, 1)}
	s := New(store, runner, time.Minute)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("missed fire was not dispatched")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.fires, 1)
	assert.Equal(t, int64(1), runner.fires[0].ReservationID)
}

func TestStart_MissedFireBeyondGraceIsSkipped(t *testing.T) {
	store := newMemStore()
	missed := time.Now().Add(-10 * time.Minute)
	store.rows[1] = PersistedJob{Job: sundayJob(1), NextRunAt: &missed}

	runner := &recordingRunner{}
	s := New(store, runner, time.Minute)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Empty(t, runner.fires)

	// the occurrence is skipped, not queued: next_run_at moved forward
	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotNil(t, store.rows[1].NextRunAt)
	assert.True(t, store.rows[1].NextRunAt.After(time.Now()))
}

func TestDispatchRefreshesNextRun(t *testing.T) {
	store := newMemStore()
	s := New(store, &recordingRunner{}, time.Minute)
	ctx := context.Background()

	j := sundayJob(1)
	require.NoError(t, s.Schedule(ctx, j))

	before := *store.rows[1].NextRunAt
	s.dispatch(j)

	after := *store.rows[1].NextRunAt
	assert.False(t, after.Before(before))
}
