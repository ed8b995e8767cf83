// Package engine runs one booking attempt against the provider: decrypt the
// owner's credential, authenticate, try to book with a small retry budget, and
// record the outcome.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/gym-scheduler/internal/occurrence"
	"github.com/example/gym-scheduler/internal/reservations"
)

// Task is one booking attempt. FiredAt is the wall-clock instant the trigger
// fired; when Deferred, the class itself is one day later (the attempt runs
// when the provider's 24h booking window opens).
type Task struct {
	ReservationID int64
	ClassTime     string // "HH:MM"
	Center        string
	ClassName     string
	FiredAt       time.Time
	Deferred      bool
}

type Store interface {
	GetByID(ctx context.Context, id int64) (reservations.Reservation, error)
	UserByReservation(ctx context.Context, id int64) (reservations.User, error)
	Confirm(ctx context.Context, id int64, classAt time.Time, bookingID int64) error
	AppendLog(ctx context.Context, userID int64, reservationID *int64, message string) error
}

type Vault interface {
	DecryptString(ciphertext string) (string, error)
}

type Provider interface {
	Authenticate(ctx context.Context, email, password string) (ProviderSession, error)
}

type ProviderSession interface {
	CreateBooking(ctx context.Context, center string, classDate time.Time, classTime, className string) (int64, error)
	CancelBooking(ctx context.Context, center string, participationID int64) error
}

type Notifier interface {
	Notify(userEmail, center string, classDate time.Time, className, classTime string)
}

type Engine struct {
	Store    Store
	Vault    Vault
	Provider Provider
	Notifier Notifier

	// Attempts is the total booking-call budget per execution (not per week);
	// RetryDelay separates consecutive attempts.
	Attempts   int
	RetryDelay time.Duration

	sleep func(time.Duration)
}

func New(store Store, vault Vault, provider Provider, notifier Notifier, attempts int, retryDelay time.Duration) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	return &Engine{
		Store:      store,
		Vault:      vault,
		Provider:   provider,
		Notifier:   notifier,
		Attempts:   attempts,
		RetryDelay: retryDelay,
		sleep:      time.Sleep,
	}
}

// Execute performs one booking attempt. A nil return means either success or a
// deliberate skip (inactive reservation); errors are returned for the caller to
// propagate (synchronous create path) or log (scheduler path). Failures never
// disturb the standing weekly trigger.
func (e *Engine) Execute(ctx context.Context, t Task) error {
	classAt, err := classInstant(t)
	if err != nil {
		return err
	}

	res, err := e.Store.GetByID(ctx, t.ReservationID)
	if err != nil {
		return fmt.Errorf("load reservation %d: %w", t.ReservationID, err)
	}
	user, err := e.Store.UserByReservation(ctx, t.ReservationID)
	if err != nil {
		return fmt.Errorf("load owner of reservation %d: %w", t.ReservationID, err)
	}

	execID := uuid.New().String()[:8]
	logf := func(format string, args ...any) {
		msg := fmt.Sprintf("[%s] %s", execID, fmt.Sprintf(format, args...))
		_ = e.Store.AppendLog(ctx, user.ID, &t.ReservationID, msg)
	}

	// The active flag read here is the authoritative cutoff for the
	// cancel-vs-fire race: a pause or cancellation landing before this read
	// wins, one landing after lets the in-flight attempt finish.
	if !res.Active {
		logf("skipped: reservation inactive (%s %s at center %s)", t.ClassName, t.ClassTime, t.Center)
		return nil
	}

	logf("booking attempt started: %s on %s at %s (center %s)",
		t.ClassName, classAt.Format("2006-01-02"), t.ClassTime, t.Center)

	password, err := e.Vault.DecryptString(user.PasswordEnc)
	if err != nil {
		logf("credential decrypt failed: %v", err)
		return fmt.Errorf("decrypt credential for user %d: %w", user.ID, err)
	}

	sess, err := e.Provider.Authenticate(ctx, user.Email, password)
	if err != nil {
		logf("provider authentication failed: %v", err)
		return fmt.Errorf("authenticate user %d: %w", user.ID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.Attempts; attempt++ {
		bookingID, err := sess.CreateBooking(ctx, t.Center, classAt, t.ClassTime, t.ClassName)
		if err == nil {
			if err := e.Store.Confirm(ctx, t.ReservationID, classAt, bookingID); err != nil {
				logf("booked (provider id %d) but persisting confirmation failed: %v", bookingID, err)
				return fmt.Errorf("confirm reservation %d: %w", t.ReservationID, err)
			}
			logf("booked: %s on %s at %s (provider id %d, attempt %d/%d)",
				t.ClassName, classAt.Format("2006-01-02"), t.ClassTime, bookingID, attempt, e.Attempts)
			e.Notifier.Notify(user.Email, t.Center, classAt, t.ClassName, t.ClassTime)
			return nil
		}

		lastErr = err
		logf("attempt %d/%d failed: %v", attempt, e.Attempts, err)
		if attempt < e.Attempts {
			e.sleep(e.RetryDelay)
		}
	}

	logf("booking failed after %d attempts, giving up until next week", e.Attempts)
	return fmt.Errorf("booking reservation %d failed after %d attempts: %w", t.ReservationID, e.Attempts, lastErr)
}

// classInstant resolves the class date/time a task targets: the fire instant
// itself, or the following day under deferred scheduling, with the time-of-day
// overwritten to the reservation's class time.
func classInstant(t Task) (time.Time, error) {
	hour, minute, err := occurrence.ParseClock(t.ClassTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("reservation %d: %w", t.ReservationID, err)
	}
	d := t.FiredAt
	if t.Deferred {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location()), nil
}
