package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
)

type Status string

const (
	StatusFree      Status = "free"
	StatusLocked    Status = "locked"
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Key identifies one slot instance on one calendar date.
type Key = catalog.Slot

// Reservation is the persisted lifecycle record of one slot.
type Reservation struct {
	ID            uuid.UUID
	Key           Key
	Mode          catalog.Mode
	Status        Status
	LockID        string
	LockOwner     string
	LockExpiresAt *time.Time
	PatientID     string
	Fee           int64
	BookedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Holds reports whether the record is locked by owner and the lock is still live at now.
func (r *Reservation) Holds(owner string, now time.Time) bool {
	return r.Status == StatusLocked && r.LockOwner == owner && r.LockExpiresAt != nil && now.Before(*r.LockExpiresAt)
}

func (r *Reservation) lockExpired(now time.Time) bool {
	return r.Status == StatusLocked && (r.LockExpiresAt == nil || !now.Before(*r.LockExpiresAt))
}

// Occupied reports whether the slot is unavailable to new lock attempts.
func (r *Reservation) Occupied() bool {
	switch r.Status {
	case StatusLocked, StatusBooked, StatusCompleted:
		return true
	}
	return false
}

// free resets r to the free state, clearing lock fields.
func (r *Reservation) free(now time.Time) {
	r.Status = StatusFree
	r.LockID = ""
	r.LockOwner = ""
	r.LockExpiresAt = nil
	r.UpdatedAt = now
}

// Event types written to the event log.
const (
	EventSlotLocked      = "SLOT_LOCKED"
	EventSlotUnlocked    = "SLOT_UNLOCKED"
	EventSlotLockExpired = "SLOT_LOCK_EXPIRED"
	EventSlotBooked      = "SLOT_BOOKED"
	EventOTPIssued       = "OTP_ISSUED"
)

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
