package reservations

import (
	"context"
	"time"

	"github.com/example/gym-scheduler/internal/db"
)

// Reservation is a user's standing request for one weekly class slot.
type Reservation struct {
	ID        int64
	UserID    int64
	Weekday   string // "monday".."sunday"
	ClassTime string // "HH:MM"
	Center    string // provider center code, e.g. "134"
	ClassName string

	Active bool
	// ConfirmedAt is the class instant last successfully booked, not the
	// instant the booking attempt ran (the two differ by a day under
	// deferred scheduling).
	ConfirmedAt       *time.Time
	ProviderBookingID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID          int64
	Email       string
	PasswordEnc string // provider password, vault-encrypted
	CreatedAt   time.Time
}

// LogEntry rows are append-only and survive reservation deletion (the foreign
// key is set to null).
type LogEntry struct {
	ID            int64
	UserID        int64
	ReservationID *int64
	Message       string
	CreatedAt     time.Time
}

// Confirmed reports whether a reservation should be shown as confirmed: the
// booked class is within the next 24 hours, or started less than an hour ago.
func Confirmed(r Reservation, now time.Time) bool {
	if r.ConfirmedAt == nil {
		return false
	}
	until := r.ConfirmedAt.Sub(now)
	since := now.Sub(*r.ConfirmedAt)
	return (until >= 0 && until <= 24*time.Hour) || (since > 0 && since < time.Hour)
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

func (r *Repo) UpsertUser(ctx context.Context, email, passwordEnc string) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, `
INSERT INTO users(email, provider_password_enc)
VALUES ($1,$2)
ON CONFLICT (email) DO UPDATE SET provider_password_enc=EXCLUDED.provider_password_enc, updated_at=now()
RETURNING id, email, provider_password_enc, created_at`,
		email, passwordEnc,
	).Scan(&u.ID, &u.Email, &u.PasswordEnc, &u.CreatedAt)
	return u, db.WrapNotFound(err)
}

func (r *Repo) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, `
SELECT id, email, provider_password_enc, created_at FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordEnc, &u.CreatedAt)
	if err != nil {
		return User{}, db.WrapNotFound(err)
	}
	return u, nil
}

func (r *Repo) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, `
SELECT id, email, provider_password_enc, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordEnc, &u.CreatedAt)
	if err != nil {
		return User{}, db.WrapNotFound(err)
	}
	return u, nil
}

// UserByReservation resolves the owning user of a reservation in one lookup.
func (r *Repo) UserByReservation(ctx context.Context, reservationID int64) (User, error) {
	var u User
	err := r.db.QueryRow(ctx, `
SELECT u.id, u.email, u.provider_password_enc, u.created_at
FROM users u JOIN reservations res ON res.user_id=u.id
WHERE res.id=$1`, reservationID).
		Scan(&u.ID, &u.Email, &u.PasswordEnc, &u.CreatedAt)
	if err != nil {
		return User{}, db.WrapNotFound(err)
	}
	return u, nil
}

func (r *Repo) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, email, provider_password_enc, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordEnc, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) Create(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO reservations(user_id, weekday, class_time, center, class_name)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`,
		res.UserID, res.Weekday, res.ClassTime, res.Center, res.ClassName,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) GetByID(ctx context.Context, id int64) (Reservation, error) {
	var res Reservation
	err := r.db.QueryRow(ctx, `
SELECT id, user_id, weekday, class_time, center, class_name, active, confirmed_at, provider_booking_id, created_at, updated_at
FROM reservations WHERE id=$1`, id).
		Scan(&res.ID, &res.UserID, &res.Weekday, &res.ClassTime, &res.Center, &res.ClassName,
			&res.Active, &res.ConfirmedAt, &res.ProviderBookingID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return Reservation{}, db.WrapNotFound(err)
	}
	return res, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID int64) ([]Reservation, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, user_id, weekday, class_time, center, class_name, active, confirmed_at, provider_booking_id, created_at, updated_at
FROM reservations
WHERE user_id=$1
ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.UserID, &res.Weekday, &res.ClassTime, &res.Center, &res.ClassName,
			&res.Active, &res.ConfirmedAt, &res.ProviderBookingID, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repo) SetActive(ctx context.Context, id int64, active bool) error {
	n, err := r.db.ExecAffected(ctx, `UPDATE reservations SET active=$2, updated_at=now() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Confirm records a successful booking: the class instant and the provider's
// booking id, in a single statement so a concurrent active-flag write is never
// lost.
func (r *Repo) Confirm(ctx context.Context, id int64, classAt time.Time, bookingID int64) error {
	n, err := r.db.ExecAffected(ctx, `
UPDATE reservations SET confirmed_at=$2, provider_booking_id=$3, updated_at=now() WHERE id=$1`,
		id, classAt, bookingID)
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id int64) error {
	n, err := r.db.ExecAffected(ctx, `DELETE FROM reservations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *Repo) AppendLog(ctx context.Context, userID int64, reservationID *int64, message string) error {
	return r.db.Exec(ctx, `
INSERT INTO reservation_logs(user_id, reservation_id, message) VALUES ($1,$2,$3)`,
		userID, reservationID, message)
}

func (r *Repo) LogsByReservation(ctx context.Context, reservationID int64, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
SELECT id, user_id, reservation_id, message, created_at
FROM reservation_logs
WHERE reservation_id=$1
ORDER BY created_at DESC
LIMIT $2`, reservationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ReservationID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
