package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

const DefaultLockTTL = 300 * time.Second

// LockHandle is the caller's reference to one hold.
type LockHandle struct {
	LockID    string
	Key       reservation.Key
	Mode      catalog.Mode
	OwnerID   string
	ExpiresAt time.Time
}

// ExpiresIn is the remaining hold time at now, rounded down to whole seconds.
func (h LockHandle) ExpiresIn(now time.Time) time.Duration {
	d := h.ExpiresAt.Sub(now).Truncate(time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func handleFrom(r *reservation.Reservation) *LockHandle {
	h := &LockHandle{LockID: r.LockID, Key: r.Key, Mode: r.Mode, OwnerID: r.LockOwner}
	if r.LockExpiresAt != nil {
		h.ExpiresAt = *r.LockExpiresAt
	}
	return h
}

type AcquireRequest struct {
	Slot    catalog.Slot
	Mode    catalog.Mode
	OwnerID string
}

// LockManager grants time-bounded exclusive holds on catalog slots.
type LockManager struct {
	catalog *catalog.Catalog
	store   reservation.Store
	ttl     time.Duration
	clock   clock.Clock
	events  *Events
	log     *zap.Logger
}

func NewLockManager(cat *catalog.Catalog, store reservation.Store, ttl time.Duration, clk clock.Clock, events *Events, log *zap.Logger) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{catalog: cat, store: store, ttl: ttl, clock: clk, events: events, log: log}
}

func (m *LockManager) TTL() time.Duration { return m.ttl }

// Acquire validates the slot against the catalog and takes the hold.
func (m *LockManager) Acquire(ctx context.Context, req AcquireRequest) (*LockHandle, error) {
	if req.OwnerID == "" {
		return nil, ErrOwnerRequired
	}

	doc, err := m.catalog.Doctor(ctx, req.Slot.DoctorID)
	if err != nil {
		if errors.Is(err, catalog.ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doc.Offers(req.Mode) {
		return nil, ErrModeNotOffered
	}
	if !m.catalog.Member(doc, req.Slot) {
		return nil, ErrSlotNotFound
	}

	r, err := m.store.TryLock(ctx, req.Slot, req.Mode, req.OwnerID, m.ttl)
	if err != nil {
		if errors.Is(err, reservation.ErrSlotConflict) {
			m.log.Debug("slot lock conflict", zap.Stringer("slot", req.Slot), zap.String("owner", req.OwnerID))
			return nil, err
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}

	h := handleFrom(r)
	m.log.Info("slot locked",
		zap.Stringer("slot", req.Slot),
		zap.String("lock_id", h.LockID),
		zap.String("owner", h.OwnerID),
		zap.Time("expires_at", h.ExpiresAt),
	)
	m.events.Emit(ctx, reservation.EventSlotLocked, r, map[string]any{
		"lock_id":    h.LockID,
		"owner":      h.OwnerID,
		"mode":       string(h.Mode),
		"expires_at": h.ExpiresAt,
	})
	return h, nil
}

// Release gives up a hold. Expired, confirmed or taken-over holds are a no-op.
func (m *LockManager) Release(ctx context.Context, h LockHandle) error {
	_, err := m.release(ctx, h)
	return err
}

func (m *LockManager) release(ctx context.Context, h LockHandle) (bool, error) {
	err := m.store.Unlock(ctx, h.Key, h.OwnerID, h.LockID)
	switch {
	case err == nil:
	case errors.Is(err, reservation.ErrNotLocked), errors.Is(err, reservation.ErrNotOwner):
		return false, nil
	default:
		return false, fmt.Errorf("unlock slot: %w", err)
	}

	m.log.Info("slot unlocked", zap.Stringer("slot", h.Key), zap.String("lock_id", h.LockID))
	m.events.Emit(ctx, reservation.EventSlotUnlocked, &reservation.Reservation{Key: h.Key}, map[string]any{
		"lock_id": h.LockID,
		"owner":   h.OwnerID,
	})
	return true, nil
}

// Lookup resolves a lock id to the caller's live hold.
func (m *LockManager) Lookup(ctx context.Context, lockID, ownerID string) (*LockHandle, error) {
	r, err := m.store.GetByLockID(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if r.LockOwner != ownerID {
		return nil, reservation.ErrNotOwner
	}
	return handleFrom(r), nil
}

// ReleaseByID releases the hold named by lockID. It reports false when there
// was nothing to release.
func (m *LockManager) ReleaseByID(ctx context.Context, lockID, ownerID string) (bool, error) {
	h, err := m.Lookup(ctx, lockID, ownerID)
	if err != nil {
		if errors.Is(err, reservation.ErrNotLocked) {
			return false, nil
		}
		return false, err
	}
	return m.release(ctx, *h)
}

// Available lists the doctor's catalog slots on date that are neither locked nor booked.
func (m *LockManager) Available(ctx context.Context, doctorID string, date catalog.Date) ([]catalog.Slot, error) {
	slots, err := m.catalog.ListSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return slots, nil
	}

	taken, err := m.store.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	occupied := make(map[reservation.Key]bool, len(taken))
	for _, r := range taken {
		if r.Occupied() {
			occupied[r.Key] = true
		}
	}

	free := make([]catalog.Slot, 0, len(slots))
	for _, s := range slots {
		if !occupied[s] {
			free = append(free, s)
		}
	}
	return free, nil
}

// SweepExpired releases every lapsed hold and records an expiry event for each.
func (m *LockManager) SweepExpired(ctx context.Context) (int, error) {
	released, err := m.store.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	for i := range released {
		r := &released[i]
		m.events.Emit(ctx, reservation.EventSlotLockExpired, r, map[string]any{
			"lock_id": r.LockID,
			"owner":   r.LockOwner,
		})
	}
	return len(released), nil
}
