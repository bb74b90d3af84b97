package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
)

// PgStore keeps reservations in Postgres. The app clock is bound as $now so
// every instance and every test judges expiry against the same time source.
type PgStore struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewPgStore(pool *pgxpool.Pool, clk clock.Clock) *PgStore {
	return &PgStore{pool: pool, clock: clk}
}

const reservationColumns = `
	id, doctor_id, slot_date, start_minute, end_minute, mode, status,
	lock_id::text, lock_owner, lock_expires_at, patient_id, fee, booked_at,
	created_at, updated_at`

// scanReservation reads one row and applies lazy expiry relative to now.
func scanReservation(row pgx.Row, now time.Time) (*Reservation, error) {
	var (
		r          Reservation
		date       time.Time
		start, end int16
		mode       string
		lockID     *string
		lockOwner  *string
		patientID  *string
	)

	err := row.Scan(
		&r.ID,
		&r.Key.DoctorID,
		&date,
		&start,
		&end,
		&mode,
		&r.Status,
		&lockID,
		&lockOwner,
		&r.LockExpiresAt,
		&patientID,
		&r.Fee,
		&r.BookedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Key.Date = catalog.DateOf(date)
	r.Key.Start = catalog.TimeOfDay(start)
	r.Key.End = catalog.TimeOfDay(end)
	r.Mode = catalog.Mode(mode)
	if lockID != nil {
		r.LockID = *lockID
	}
	if lockOwner != nil {
		r.LockOwner = *lockOwner
	}
	if patientID != nil {
		r.PatientID = *patientID
	}

	if r.lockExpired(now) {
		r.free(r.UpdatedAt)
	}
	return &r, nil
}

func keyArgs(key Key) []any {
	return []any{key.DoctorID, key.Date.In(time.UTC), int16(key.Start), int16(key.End)}
}

func (s *PgStore) Get(ctx context.Context, key Key) (*Reservation, error) {
	now := s.clock.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE doctor_id = $1 AND slot_date = $2 AND start_minute = $3 AND end_minute = $4
		  AND status <> 'cancelled'
	`, keyArgs(key)...)

	r, err := scanReservation(row, now)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Reservation{Key: key, Status: StatusFree}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (s *PgStore) GetByLockID(ctx context.Context, lockID string) (*Reservation, error) {
	if _, err := uuid.Parse(lockID); err != nil {
		return nil, ErrNotLocked
	}

	now := s.clock.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE lock_id = $1::uuid AND status = 'locked' AND lock_expires_at > $2
	`, lockID, now)

	r, err := scanReservation(row, now)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation by lock id: %w", err)
	}
	return r, nil
}

// TryLock is one INSERT ... ON CONFLICT DO UPDATE guarded by the free-or-expired
// predicate. When the predicate fails Postgres writes nothing and returns no row.
func (s *PgStore) TryLock(ctx context.Context, key Key, mode catalog.Mode, owner string, ttl time.Duration) (*Reservation, error) {
	now := s.clock.Now()
	args := append(keyArgs(key), uuid.New(), string(mode), uuid.NewString(), owner, now.Add(ttl), now)

	row := s.pool.QueryRow(ctx, `
		INSERT INTO reservations (
			doctor_id, slot_date, start_minute, end_minute, id, mode, status,
			lock_id, lock_owner, lock_expires_at, fee, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'locked', $7::uuid, $8, $9, 0, $10, $10)
		ON CONFLICT (doctor_id, slot_date, start_minute, end_minute) WHERE status <> 'cancelled'
		DO UPDATE SET
			mode            = EXCLUDED.mode,
			status          = 'locked',
			lock_id         = EXCLUDED.lock_id,
			lock_owner      = EXCLUDED.lock_owner,
			lock_expires_at = EXCLUDED.lock_expires_at,
			updated_at      = EXCLUDED.updated_at
		WHERE reservations.status = 'free'
		   OR (reservations.status = 'locked' AND reservations.lock_expires_at <= EXCLUDED.updated_at)
		RETURNING `+reservationColumns, args...)

	r, err := scanReservation(row, now)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotConflict
	}
	if err != nil {
		return nil, fmt.Errorf("try lock: %w", err)
	}
	return r, nil
}

func (s *PgStore) Unlock(ctx context.Context, key Key, owner, lockID string) error {
	now := s.clock.Now()
	args := append(keyArgs(key), owner, now, lockID)

	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations
		SET status = 'free',
		    lock_id = NULL,
		    lock_owner = NULL,
		    lock_expires_at = NULL,
		    updated_at = $6
		WHERE doctor_id = $1 AND slot_date = $2 AND start_minute = $3 AND end_minute = $4
		  AND status = 'locked'
		  AND lock_owner = $5
		  AND lock_expires_at > $6
		  AND ($7::text = '' OR lock_id::text = $7)
	`, args...)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	cur, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if cur.Status == StatusLocked && cur.LockOwner != owner {
		return ErrNotOwner
	}
	return ErrNotLocked
}

func (s *PgStore) Confirm(ctx context.Context, key Key, owner, lockID, patientID string, fee int64) (*Reservation, error) {
	now := s.clock.Now()
	args := append(keyArgs(key), owner, now, patientID, fee, lockID)

	row := s.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'booked',
		    patient_id = $7,
		    fee = $8,
		    lock_id = NULL,
		    lock_owner = NULL,
		    lock_expires_at = NULL,
		    booked_at = $6,
		    updated_at = $6
		WHERE doctor_id = $1 AND slot_date = $2 AND start_minute = $3 AND end_minute = $4
		  AND status = 'locked'
		  AND lock_owner = $5
		  AND lock_expires_at > $6
		  AND ($9::text = '' OR lock_id::text = $9)
		RETURNING `+reservationColumns, args...)

	r, err := scanReservation(row, now)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("confirm: %w", err)
	}

	cur, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return nil, classifyFailure(cur, owner)
}

func (s *PgStore) SweepExpired(ctx context.Context) ([]Reservation, error) {
	now := s.clock.Now()

	rows, err := s.pool.Query(ctx, `
		WITH expired AS (
			SELECT id, lock_id, lock_owner, lock_expires_at
			FROM reservations
			WHERE status = 'locked' AND lock_expires_at <= $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reservations r
		SET status = 'free',
		    lock_id = NULL,
		    lock_owner = NULL,
		    lock_expires_at = NULL,
		    updated_at = $1
		FROM expired e
		WHERE r.id = e.id AND r.status = 'locked'
		RETURNING r.id, r.doctor_id, r.slot_date, r.start_minute, r.end_minute, r.mode,
		          e.lock_id::text, e.lock_owner, e.lock_expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("sweep expired locks: %w", err)
	}
	defer rows.Close()

	var released []Reservation
	for rows.Next() {
		var (
			r          Reservation
			date       time.Time
			start, end int16
			mode       string
		)
		if err := rows.Scan(&r.ID, &r.Key.DoctorID, &date, &start, &end, &mode,
			&r.LockID, &r.LockOwner, &r.LockExpiresAt); err != nil {
			return nil, err
		}
		r.Key.Date = catalog.DateOf(date)
		r.Key.Start = catalog.TimeOfDay(start)
		r.Key.End = catalog.TimeOfDay(end)
		r.Mode = catalog.Mode(mode)
		r.Status = StatusLocked
		r.UpdatedAt = now
		released = append(released, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return released, nil
}

func (s *PgStore) ListByDoctorDate(ctx context.Context, doctorID string, date catalog.Date) ([]Reservation, error) {
	return s.query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE doctor_id = $1 AND slot_date = $2 AND status <> 'cancelled'
		ORDER BY start_minute
	`, doctorID, date.In(time.UTC))
}

func (s *PgStore) ListByPatient(ctx context.Context, patientID string) ([]Reservation, error) {
	return s.query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE patient_id = $1 AND status IN ('booked', 'cancelled', 'completed')
		ORDER BY slot_date, start_minute, doctor_id
	`, patientID)
}

func (s *PgStore) ListByDoctor(ctx context.Context, doctorID string, from, to catalog.Date) ([]Reservation, error) {
	return s.query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE doctor_id = $1 AND slot_date BETWEEN $2 AND $3
		  AND status IN ('booked', 'cancelled', 'completed')
		ORDER BY slot_date, start_minute
	`, doctorID, from.In(time.UTC), to.In(time.UTC))
}

func (s *PgStore) query(ctx context.Context, sql string, args ...any) ([]Reservation, error) {
	now := s.clock.Now()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows, now)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Record writes ev to the event_logs table.
func (s *PgStore) Record(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
