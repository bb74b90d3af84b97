package booking

import (
	"errors"

	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

var (
	ErrSlotNotFound       = errors.New("slot is not offered by the doctor on that date")
	ErrModeNotOffered     = errors.New("doctor does not offer that consultation mode")
	ErrVerificationFailed = errors.New("identity verification failed")
	ErrOwnerRequired      = errors.New("owner id is required")
)

// Store-level outcomes, re-exported so callers of this package need only one import.
var (
	ErrSlotConflict = reservation.ErrSlotConflict
	ErrLockExpired  = reservation.ErrLockExpired
	ErrNotOwner     = reservation.ErrNotOwner
	ErrNotLocked    = reservation.ErrNotLocked
)
