package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
)

var (
	ErrSlotConflict = errors.New("slot is locked or booked by another booking attempt")
	ErrLockExpired  = errors.New("slot lock has expired")
	ErrNotOwner     = errors.New("slot lock is held by another owner")
	ErrNotLocked    = errors.New("slot is not locked")
)

// Store owns every reservation record. All mutations are single atomic
// conditional writes on one key; expired locks are never reported as locked.
type Store interface {
	// Get returns the effective state of key. A missing record is free.
	Get(ctx context.Context, key Key) (*Reservation, error)

	// GetByLockID returns the reservation currently locked under lockID, or ErrNotLocked.
	GetByLockID(ctx context.Context, lockID string) (*Reservation, error)

	// TryLock locks a free or expired slot for owner. Any other state yields
	// ErrSlotConflict without writing.
	TryLock(ctx context.Context, key Key, mode catalog.Mode, owner string, ttl time.Duration) (*Reservation, error)

	// Unlock frees a slot held by owner. A non-empty lockID must also name the
	// current lock, so a stale handle never frees a newer hold. Returns
	// ErrNotOwner or ErrNotLocked otherwise.
	Unlock(ctx context.Context, key Key, owner, lockID string) error

	// Confirm books a slot held by owner whose lock is still live. A non-empty
	// lockID must name the current lock.
	Confirm(ctx context.Context, key Key, owner, lockID, patientID string, fee int64) (*Reservation, error)

	// SweepExpired frees every lock past its expiry and returns the released records.
	SweepExpired(ctx context.Context) ([]Reservation, error)

	ListByDoctorDate(ctx context.Context, doctorID string, date catalog.Date) ([]Reservation, error)

	// ListByPatient and ListByDoctor return booked, cancelled and completed records ordered by date and start.
	ListByPatient(ctx context.Context, patientID string) ([]Reservation, error)
	ListByDoctor(ctx context.Context, doctorID string, from, to catalog.Date) ([]Reservation, error)
}

// classifyFailure maps the effective state seen after a failed conditional
// confirm to the error the caller should see. The owner's own lock under a
// different lock id counts as expired.
func classifyFailure(cur *Reservation, owner string) error {
	switch cur.Status {
	case StatusLocked:
		if cur.LockOwner != owner {
			return ErrNotOwner
		}
		return ErrLockExpired
	case StatusBooked, StatusCompleted:
		return ErrSlotConflict
	default:
		return ErrLockExpired
	}
}
