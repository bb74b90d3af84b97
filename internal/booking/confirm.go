package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
	"github.com/hackgods/telehealth-slot-reservation/internal/verification"
)

// Verifier issues and checks the identity proof bound to one hold.
type Verifier interface {
	Issue(ctx context.Context, lockID, ownerID string, ttl time.Duration) error
	Verify(ctx context.Context, lockID, ownerID, proof string) error
}

// Service turns a held lock into a booking once the patient proves identity.
type Service struct {
	store    reservation.Store
	verifier Verifier
	clock    clock.Clock
	events   *Events
	log      *zap.Logger
}

func NewService(store reservation.Store, verifier Verifier, clk clock.Clock, events *Events, log *zap.Logger) *Service {
	return &Service{store: store, verifier: verifier, clock: clk, events: events, log: log}
}

// RequestVerification sends a proof challenge for h, valid for the hold's
// remaining lifetime. It returns that lifetime.
func (s *Service) RequestVerification(ctx context.Context, h LockHandle) (time.Duration, error) {
	cur, err := s.store.Get(ctx, h.Key)
	if err != nil {
		return 0, fmt.Errorf("load reservation: %w", err)
	}
	if err := checkHold(cur, h); err != nil {
		return 0, err
	}

	remaining := handleFrom(cur).ExpiresIn(s.clock.Now())
	if remaining <= 0 {
		return 0, ErrLockExpired
	}
	if err := s.verifier.Issue(ctx, cur.LockID, h.OwnerID, remaining); err != nil {
		return 0, err
	}

	s.events.Emit(ctx, reservation.EventOTPIssued, cur, map[string]any{
		"lock_id": cur.LockID,
		"owner":   h.OwnerID,
	})
	return remaining, nil
}

// Confirm books the slot held by h for patientID. The proof is checked only
// after the hold is known to be live and owned; the final transition is the
// store's atomic confirm, which re-checks both.
func (s *Service) Confirm(ctx context.Context, h LockHandle, proof, patientID string, fee int64) (*reservation.Reservation, error) {
	if h.OwnerID == "" {
		return nil, ErrOwnerRequired
	}

	cur, err := s.store.Get(ctx, h.Key)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if err := checkHold(cur, h); err != nil {
		s.log.Info("confirm rejected", zap.Stringer("slot", h.Key), zap.String("owner", h.OwnerID), zap.Error(err))
		return nil, err
	}

	if err := s.verifier.Verify(ctx, cur.LockID, h.OwnerID, proof); err != nil {
		if verification.IsRejection(err) {
			s.log.Info("verification failed", zap.Stringer("slot", h.Key), zap.String("owner", h.OwnerID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		}
		return nil, fmt.Errorf("verify proof: %w", err)
	}

	booked, err := s.store.Confirm(ctx, h.Key, h.OwnerID, h.LockID, patientID, fee)
	if err != nil {
		if errors.Is(err, reservation.ErrNotOwner) && h.LockID != "" {
			return nil, ErrLockExpired
		}
		if errors.Is(err, reservation.ErrLockExpired) ||
			errors.Is(err, reservation.ErrNotOwner) ||
			errors.Is(err, reservation.ErrSlotConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("confirm reservation: %w", err)
	}

	s.log.Info("slot booked",
		zap.Stringer("slot", h.Key),
		zap.String("patient_id", patientID),
		zap.Int64("fee", fee),
	)
	s.events.Emit(ctx, reservation.EventSlotBooked, booked, map[string]any{
		"patient_id": patientID,
		"fee":        fee,
		"mode":       string(booked.Mode),
	})
	return booked, nil
}

// checkHold maps the effective state of the slot to the caller's standing.
// A handle whose lock id is no longer the current holder has expired.
func checkHold(cur *reservation.Reservation, h LockHandle) error {
	switch {
	case cur.Status == reservation.StatusBooked || cur.Status == reservation.StatusCompleted:
		return ErrSlotConflict
	case cur.Status != reservation.StatusLocked:
		return ErrLockExpired
	case h.LockID != "" && cur.LockID != h.LockID:
		return ErrLockExpired
	case cur.LockOwner != h.OwnerID:
		return ErrNotOwner
	}
	return nil
}
