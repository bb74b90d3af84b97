package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var modes []string

	err := row.Scan(&d.ID, &d.Name, &d.Specializations, &modes, &d.Fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	for _, m := range modes {
		d.Modes = append(d.Modes, Mode(m))
	}
	d.Availability = WeeklyTemplate{}
	return &d, nil
}

func (r *PgDirectory) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specializations, modes, fee
		FROM doctors
		WHERE id = $1
	`, id)
	doc, err := scanDoctor(row)
	if err != nil {
		return nil, err
	}

	tmpls, err := r.loadAvailability(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if t, ok := tmpls[id]; ok {
		doc.Availability = t
	}
	return doc, nil
}

func (r *PgDirectory) GetDoctors(ctx context.Context, ids []string) (map[string]*Doctor, error) {
	out := make(map[string]*Doctor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specializations, modes, fee
		FROM doctors
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgDirectory) loadAvailability(ctx context.Context, ids []string) (map[string]WeeklyTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, weekday, start_minute, end_minute
		FROM doctor_availability
		WHERE doctor_id = ANY($1)
		ORDER BY doctor_id, weekday, start_minute
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer rows.Close()

	out := make(map[string]WeeklyTemplate)
	for rows.Next() {
		var (
			doctorID   string
			weekday    int16
			start, end int16
		)
		if err := rows.Scan(&doctorID, &weekday, &start, &end); err != nil {
			return nil, err
		}
		t, ok := out[doctorID]
		if !ok {
			t = WeeklyTemplate{}
			out[doctorID] = t
		}
		day := time.Weekday(weekday)
		t[day] = append(t[day], Window{Start: TimeOfDay(start), End: TimeOfDay(end)})
	}
	return out, rows.Err()
}

// SaveAvailability replaces the doctor's whole template in one transaction.
func (r *PgDirectory) SaveAvailability(ctx context.Context, doctorID string, tmpl WeeklyTemplate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_availability WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for day, windows := range tmpl {
		for _, w := range windows {
			batch.Queue(`
				INSERT INTO doctor_availability (doctor_id, weekday, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (doctor_id, weekday, start_minute) DO UPDATE SET end_minute = EXCLUDED.end_minute
			`, doctorID, int16(day), int16(w.Start), int16(w.End))
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE doctors SET updated_at = now() WHERE id = $1`, doctorID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
