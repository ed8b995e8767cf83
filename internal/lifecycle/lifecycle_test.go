package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/gym-scheduler/internal/engine"
	"github.com/example/gym-scheduler/internal/reservations"
	"github.com/example/gym-scheduler/internal/scheduler"
)

type fakeSched struct {
	scheduled []scheduler.Job
	cancelled []int64
	err       error
}

func (s *fakeSched) Schedule(ctx context.Context, j scheduler.Job) error {
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, j)
	return nil
}

func (s *fakeSched) Cancel(ctx context.Context, id int64) error {
	s.cancelled = append(s.cancelled, id)
	return nil
}

type fakeRunner struct {
	tasks []engine.Task
	err   error
}

func (r *fakeRunner) Execute(ctx context.Context, t engine.Task) error {
	r.tasks = append(r.tasks, t)
	return r.err
}

type fakeStore struct {
	user      reservations.User
	deleted   []int64
	setActive map[int64]bool
	logs      []string
}

func (s *fakeStore) UserByReservation(ctx context.Context, id int64) (reservations.User, error) {
	return s.user, nil
}

func (s *fakeStore) SetActive(ctx context.Context, id int64, active bool) error {
	if s.setActive == nil {
		s.setActive = make(map[int64]bool)
	}
	s.setActive[id] = active
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) AppendLog(ctx context.Context, userID int64, reservationID *int64, message string) error {
	s.logs = append(s.logs, message)
	return nil
}

type fakeSession struct{ cancelled []int64 }

func (s *fakeSession) CreateBooking(ctx context.Context, center string, classDate time.Time, classTime, className string) (int64, error) {
	return 0, errors.New("not used")
}

func (s *fakeSession) CancelBooking(ctx context.Context, center string, participationID int64) error {
	s.cancelled = append(s.cancelled, participationID)
	return nil
}

type fakeProvider struct{ sess *fakeSession }

func (p *fakeProvider) Authenticate(ctx context.Context, email, password string) (engine.ProviderSession, error) {
	return p.sess, nil
}

type fakeVault struct{}

func (fakeVault) DecryptString(ct string) (string, error) { return "pw", nil }

func mondayReservation() reservations.Reservation {
	return reservations.Reservation{
		ID: 1, UserID: 7, Weekday: "monday", ClassTime: "10:00",
		Center: "134", ClassName: "Body Pump", Active: true,
	}
}

func newManager(sched *fakeSched, runner *fakeRunner, store *fakeStore, now time.Time) *Manager {
	m := New(sched, runner, store, fakeVault{}, &fakeProvider{sess: &fakeSession{}}, 24*time.Hour)
	m.Now = func() time.Time { return now }
	return m
}

func TestOnCreate_WithinWindowRunsImmediatelyAndSchedules(t *testing.T) {
	now := time.Date(2025, time.March, 16, 11, 0, 0, 0, time.UTC) // Sunday
	sched := &fakeSched{}
	runner := &fakeRunner{}
	store := &fakeStore{}
	m := newManager(sched, runner, store, now)

	require.NoError(t, m.OnCreate(context.Background(), mondayReservation()))

	// immediate attempt: Monday 10:00 is 23h away, inside the window
	require.Len(t, runner.tasks, 1)
	task := runner.tasks[0]
	assert.False(t, task.Deferred)
	assert.Equal(t, time.Date(2025, time.March, 17, 10, 0, 0, 0, time.UTC), task.FiredAt)

	// recurring trigger anchored the day before the class
	require.Len(t, sched.scheduled, 1)
	j := sched.scheduled[0]
	assert.Equal(t, int64(1), j.ReservationID)
	assert.Equal(t, time.Sunday, j.Weekday)
	assert.Equal(t, 10, j.Hour)
	assert.Equal(t, 0, j.Minute)
}

func TestOnCreate_OutsideWindowOnlySchedules(t *testing.T) {
	// Tuesday 09:00 -> next Monday 10:00 is ~6 days away.
	now := time.Date(2025, time.March, 18, 9, 0, 0, 0, time.UTC)
	sched := &fakeSched{}
	runner := &fakeRunner{}
	store := &fakeStore{}
	m := newManager(sched, runner, store, now)

	require.NoError(t, m.OnCreate(context.Background(), mondayReservation()))

	assert.Empty(t, runner.tasks)
	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, time.Sunday, sched.scheduled[0].Weekday)
}

func TestOnCreate_PastOccurrenceTodayNotImmediate(t *testing.T) {
	// Monday 11:00 with a Monday 10:00 class: the naive calculator yields
	// today 10:00 (in the past), which must not trigger an immediate run.
	now := time.Date(2025, time.March, 17, 11, 0, 0, 0, time.UTC) // Monday
	sched := &fakeSched{}
	runner := &fakeRunner{}
	store := &fakeStore{}
	m := newManager(sched, runner, store, now)

	require.NoError(t, m.OnCreate(context.Background(), mondayReservation()))
	assert.Empty(t, runner.tasks)
	assert.Len(t, sched.scheduled, 1)
}

func TestOnCreate_ImmediateFailureStillSchedulesAndPropagates(t *testing.T) {
	now := time.Date(2025, time.March, 16, 11, 0, 0, 0, time.UTC) // Sunday
	sched := &fakeSched{}
	runner := &fakeRunner{err: errors.New("provider down")}
	store := &fakeStore{}
	m := newManager(sched, runner, store, now)

	err := m.OnCreate(context.Background(), mondayReservation())
	require.Error(t, err)
	assert.Len(t, sched.scheduled, 1)
}

func TestOnCreate_BadWeekdayRejected(t *testing.T) {
	res := mondayReservation()
	res.Weekday = "someday"
	m := newManager(&fakeSched{}, &fakeRunner{}, &fakeStore{}, time.Now())
	assert.Error(t, m.OnCreate(context.Background(), res))
}

func TestOnDelete_CancelsJobBeforeRow(t *testing.T) {
	sched := &fakeSched{}
	store := &fakeStore{}
	m := newManager(sched, &fakeRunner{}, store, time.Now())

	require.NoError(t, m.OnDelete(context.Background(), mondayReservation()))
	assert.Equal(t, []int64{1}, sched.cancelled)
	assert.Equal(t, []int64{1}, store.deleted)
}

func TestOnDelete_CancelsUpcomingProviderBooking(t *testing.T) {
	now := time.Date(2025, time.March, 16, 11, 0, 0, 0, time.UTC)
	provider := &fakeProvider{sess: &fakeSession{}}
	sched := &fakeSched{}
	store := &fakeStore{user: reservations.User{ID: 7, Email: "u@example.com", PasswordEnc: "ct"}}
	m := New(sched, &fakeRunner{}, store, fakeVault{}, provider, 24*time.Hour)
	m.Now = func() time.Time { return now }

	res := mondayReservation()
	bookingID := int64(626548)
	classAt := now.Add(20 * time.Hour)
	res.ProviderBookingID = &bookingID
	res.ConfirmedAt = &classAt

	require.NoError(t, m.OnDelete(context.Background(), res))
	assert.Equal(t, []int64{626548}, provider.sess.cancelled)
}

func TestOnDelete_PastBookingNotCancelled(t *testing.T) {
	now := time.Date(2025, time.March, 16, 11, 0, 0, 0, time.UTC)
	provider := &fakeProvider{sess: &fakeSession{}}
	store := &fakeStore{}
	m := New(&fakeSched{}, &fakeRunner{}, store, fakeVault{}, provider, 24*time.Hour)
	m.Now = func() time.Time { return now }

	res := mondayReservation()
	bookingID := int64(626548)
	classAt := now.Add(-2 * time.Hour)
	res.ProviderBookingID = &bookingID
	res.ConfirmedAt = &classAt

	require.NoError(t, m.OnDelete(context.Background(), res))
	assert.Empty(t, provider.sess.cancelled)
}

func TestSetActive_DoesNotTouchScheduler(t *testing.T) {
	sched := &fakeSched{}
	store := &fakeStore{}
	m := newManager(sched, &fakeRunner{}, store, time.Now())

	require.NoError(t, m.SetActive(context.Background(), mondayReservation(), false))
	assert.Empty(t, sched.cancelled)
	assert.Empty(t, sched.scheduled)
	assert.Equal(t, map[int64]bool{1: false}, store.setActive)
}
