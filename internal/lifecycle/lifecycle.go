// Package lifecycle glues reservation CRUD to the scheduler and the execution
// engine: creation computes whether an immediate booking is due and registers
// the standing weekly trigger; deletion tears both down in the right order.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/gym-scheduler/internal/engine"
	"github.com/example/gym-scheduler/internal/occurrence"
	"github.com/example/gym-scheduler/internal/reservations"
	"github.com/example/gym-scheduler/internal/scheduler"
)

type Scheduler interface {
	Schedule(ctx context.Context, j scheduler.Job) error
	Cancel(ctx context.Context, reservationID int64) error
}

type Runner interface {
	Execute(ctx context.Context, t engine.Task) error
}

type Store interface {
	UserByReservation(ctx context.Context, id int64) (reservations.User, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
	AppendLog(ctx context.Context, userID int64, reservationID *int64, message string) error
}

type Manager struct {
	Sched    Scheduler
	Runner   Runner
	Store    Store
	Vault    engine.Vault
	Provider engine.Provider

	// Window is the provider's booking lead time; occurrences inside it are
	// booked immediately at creation. 24h for this chain.
	Window time.Duration

	Now func() time.Time
}

func New(sched Scheduler, runner Runner, store Store, vault engine.Vault, provider engine.Provider, window time.Duration) *Manager {
	return &Manager{
		Sched:    sched,
		Runner:   runner,
		Store:    store,
		Vault:    vault,
		Provider: provider,
		Window:   window,
		Now:      time.Now,
	}
}

// OnCreate wires a freshly persisted reservation into the system. The weekly
// trigger is always registered; additionally, when the next occurrence already
// falls inside the booking window, one synchronous booking attempt runs first.
// Only the immediate attempt's error is returned; the standing trigger is
// registered either way so next week proceeds normally.
func (m *Manager) OnCreate(ctx context.Context, res reservations.Reservation) error {
	wd, err := occurrence.ParseWeekday(res.Weekday)
	if err != nil {
		return fmt.Errorf("reservation %d: %w", res.ID, err)
	}
	hour, minute, err := occurrence.ParseClock(res.ClassTime)
	if err != nil {
		return fmt.Errorf("reservation %d: %w", res.ID, err)
	}

	now := m.Now()
	next := occurrence.Next(now, wd, hour, minute)

	var immediateErr error
	if next.After(now) && next.Sub(now) <= m.Window {
		log.Printf("lifecycle: reservation %d occurrence %s is inside the booking window, attempting now",
			res.ID, next.Format(time.RFC3339))
		immediateErr = m.Runner.Execute(ctx, engine.Task{
			ReservationID: res.ID,
			ClassTime:     res.ClassTime,
			Center:        res.Center,
			ClassName:     res.ClassName,
			FiredAt:       next,
			Deferred:      false,
		})
	}

	// The recurring trigger fires the day before the class, when the
	// provider's window opens. This registration is the only standing job;
	// the immediate attempt above never touches the job store.
	if err := m.Sched.Schedule(ctx, scheduler.Job{
		ReservationID: res.ID,
		Weekday:       occurrence.DayBefore(wd),
		Hour:          hour,
		Minute:        minute,
		ClassTime:     res.ClassTime,
		Center:        res.Center,
		ClassName:     res.ClassName,
	}); err != nil {
		return err
	}

	_ = m.Store.AppendLog(ctx, res.UserID, &res.ID,
		fmt.Sprintf("weekly booking registered: %s %s, %s at center %s", res.Weekday, res.ClassTime, res.ClassName, res.Center))

	if immediateErr != nil {
		return fmt.Errorf("immediate booking attempt: %w", immediateErr)
	}
	return nil
}

// OnDelete removes a reservation: best-effort provider cancellation of an
// upcoming booked class, then the trigger, then the row. The trigger goes
// before the row so it can never fire against a deleted reservation.
func (m *Manager) OnDelete(ctx context.Context, res reservations.Reservation) error {
	if res.ProviderBookingID != nil && res.ConfirmedAt != nil && res.ConfirmedAt.After(m.Now()) {
		m.cancelProviderBooking(ctx, res)
	}

	if err := m.Sched.Cancel(ctx, res.ID); err != nil {
		return err
	}

	if err := m.Store.Delete(ctx, res.ID); err != nil {
		return err
	}
	_ = m.Store.AppendLog(ctx, res.UserID, nil,
		fmt.Sprintf("reservation %d deleted (%s %s, %s)", res.ID, res.Weekday, res.ClassTime, res.ClassName))
	return nil
}

// SetActive pauses or resumes a reservation. The trigger stays registered
// either way; the engine re-reads the flag at fire time, so resuming never
// needs to re-derive trigger phase.
func (m *Manager) SetActive(ctx context.Context, res reservations.Reservation, active bool) error {
	if err := m.Store.SetActive(ctx, res.ID, active); err != nil {
		return err
	}
	state := "paused"
	if active {
		state = "resumed"
	}
	_ = m.Store.AppendLog(ctx, res.UserID, &res.ID, fmt.Sprintf("reservation %s", state))
	return nil
}

func (m *Manager) cancelProviderBooking(ctx context.Context, res reservations.Reservation) {
	user, err := m.Store.UserByReservation(ctx, res.ID)
	if err != nil {
		log.Printf("lifecycle: cancel booking for reservation %d: load owner: %v", res.ID, err)
		return
	}
	password, err := m.Vault.DecryptString(user.PasswordEnc)
	if err != nil {
		log.Printf("lifecycle: cancel booking for reservation %d: decrypt: %v", res.ID, err)
		return
	}
	sess, err := m.Provider.Authenticate(ctx, user.Email, password)
	if err != nil {
		log.Printf("lifecycle: cancel booking for reservation %d: authenticate: %v", res.ID, err)
		return
	}
	if err := sess.CancelBooking(ctx, res.Center, *res.ProviderBookingID); err != nil {
		log.Printf("lifecycle: cancel booking for reservation %d: %v", res.ID, err)
		return
	}
	_ = m.Store.AppendLog(ctx, res.UserID, &res.ID,
		fmt.Sprintf("provider booking %d cancelled", *res.ProviderBookingID))
}
