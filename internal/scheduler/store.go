package scheduler

import (
	"context"
	"time"

	"github.com/example/gym-scheduler/internal/db"
)

// PGStore persists triggers in the scheduled_jobs table. The scheduler owns
// this table; nothing else reads or writes it.
type PGStore struct{ db *db.DB }

func NewPGStore(d *db.DB) *PGStore { return &PGStore{db: d} }

func (s *PGStore) Upsert(ctx context.Context, j Job, nextRun time.Time) error {
	return s.db.Exec(ctx, `
INSERT INTO scheduled_jobs(reservation_id, weekday, hour, minute, class_time, center, class_name, next_run_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (reservation_id) DO UPDATE SET
  weekday=EXCLUDED.weekday, hour=EXCLUDED.hour, minute=EXCLUDED.minute,
  class_time=EXCLUDED.class_time, center=EXCLUDED.center, class_name=EXCLUDED.class_name,
  next_run_at=EXCLUDED.next_run_at, updated_at=now()`,
		j.ReservationID, int(j.Weekday), j.Hour, j.Minute, j.ClassTime, j.Center, j.ClassName, nextRun)
}

func (s *PGStore) Delete(ctx context.Context, reservationID int64) (bool, error) {
	n, err := s.db.ExecAffected(ctx, `DELETE FROM scheduled_jobs WHERE reservation_id=$1`, reservationID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGStore) List(ctx context.Context) ([]PersistedJob, error) {
	rows, err := s.db.Query(ctx, `
SELECT reservation_id, weekday, hour, minute, class_time, center, class_name, next_run_at
FROM scheduled_jobs
ORDER BY reservation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersistedJob
	for rows.Next() {
		var pj PersistedJob
		var weekday int
		if err := rows.Scan(&pj.ReservationID, &weekday, &pj.Hour, &pj.Minute,
			&pj.ClassTime, &pj.Center, &pj.ClassName, &pj.NextRunAt); err != nil {
			return nil, err
		}
		pj.Weekday = time.Weekday(weekday)
		out = append(out, pj)
	}
	return out, rows.Err()
}

func (s *PGStore) SetNextRun(ctx context.Context, reservationID int64, next time.Time) error {
	return s.db.Exec(ctx, `
UPDATE scheduled_jobs SET next_run_at=$2, updated_at=now() WHERE reservation_id=$1`,
		reservationID, next)
}
