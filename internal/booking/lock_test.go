package booking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

var monday = catalog.Date{Year: 2025, Month: time.March, Day: 10}

type fixture struct {
	clock   *clock.Fake
	store   *reservation.MemoryStore
	catalog *catalog.Catalog
	locks   *LockManager
	booking *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, time.March, 9, 8, 0, 0, 0, time.UTC))
	dir := catalog.NewMemoryDirectory(&catalog.Doctor{
		ID:    "D1",
		Name:  "Dr. Vaidya",
		Modes: []catalog.Mode{catalog.ModeOnline},
		Fee:   500,
		Availability: catalog.WeeklyTemplate{
			time.Monday: {{Start: catalog.MustTimeOfDay("09:00"), End: catalog.MustTimeOfDay("12:00")}},
		},
	})
	store := reservation.NewMemoryStore(clk)
	cat := catalog.New(dir, 30*time.Minute, clk, time.UTC)
	events := NewEvents(clk, zap.NewNop(), store)

	return &fixture{
		clock:   clk,
		store:   store,
		catalog: cat,
		locks:   NewLockManager(cat, store, DefaultLockTTL, clk, events, zap.NewNop()),
		booking: NewService(store, fixedVerifier{code: "1234"}, clk, events, zap.NewNop()),
	}
}

func slotAt(start string) catalog.Slot {
	s := catalog.MustTimeOfDay(start)
	return catalog.Slot{DoctorID: "D1", Date: monday, Start: s, End: s + 30}
}

func (f *fixture) acquire(t *testing.T, start, owner string) *LockHandle {
	t.Helper()
	h, err := f.locks.Acquire(context.Background(), AcquireRequest{
		Slot: slotAt(start), Mode: catalog.ModeOnline, OwnerID: owner,
	})
	require.NoError(t, err)
	return h
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, ev := range f.store.Events() {
		out = append(out, ev.EventType)
	}
	return out
}

func TestAcquire_ReturnsHandleWithTTL(t *testing.T) {
	f := newFixture(t)

	h := f.acquire(t, "09:00", "P1")

	assert.NotEmpty(t, h.LockID)
	assert.Equal(t, "P1", h.OwnerID)
	assert.Equal(t, catalog.ModeOnline, h.Mode)
	assert.Equal(t, 300*time.Second, h.ExpiresIn(f.clock.Now()))

	cur, err := f.store.Get(context.Background(), slotAt("09:00"))
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusLocked, cur.Status)
	assert.Equal(t, []string{reservation.EventSlotLocked}, f.eventTypes())
}

func TestAcquire_SecondCallerConflicts(t *testing.T) {
	f := newFixture(t)
	f.acquire(t, "09:00", "P1")

	_, err := f.locks.Acquire(context.Background(), AcquireRequest{
		Slot: slotAt("09:00"), Mode: catalog.ModeOnline, OwnerID: "P2",
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	// Same owner does not get a second hold either.
	_, err = f.locks.Acquire(context.Background(), AcquireRequest{
		Slot: slotAt("09:00"), Mode: catalog.ModeOnline, OwnerID: "P1",
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestAcquire_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const callers = 50
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.locks.Acquire(context.Background(), AcquireRequest{
				Slot: slotAt("10:00"), Mode: catalog.ModeOnline, OwnerID: fmt.Sprintf("P%d", i),
			})
			if err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, ErrSlotConflict) {
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, callers-1, conflicts.Load())
}

func TestAcquire_Validation(t *testing.T) {
	f := newFixture(t)
	tuesday := catalog.Date{Year: 2025, Month: time.March, Day: 11}

	tests := []struct {
		name string
		req  AcquireRequest
		want error
	}{
		{
			name: "misaligned start",
			req: AcquireRequest{
				Slot: catalog.Slot{DoctorID: "D1", Date: monday,
					Start: catalog.MustTimeOfDay("09:15"), End: catalog.MustTimeOfDay("09:45")},
				Mode: catalog.ModeOnline, OwnerID: "P1",
			},
			want: ErrSlotNotFound,
		},
		{
			name: "day without availability",
			req: AcquireRequest{
				Slot: catalog.Slot{DoctorID: "D1", Date: tuesday,
					Start: catalog.MustTimeOfDay("09:00"), End: catalog.MustTimeOfDay("09:30")},
				Mode: catalog.ModeOnline, OwnerID: "P1",
			},
			want: ErrSlotNotFound,
		},
		{
			name: "mode not offered",
			req:  AcquireRequest{Slot: slotAt("09:00"), Mode: catalog.ModeInPerson, OwnerID: "P1"},
			want: ErrModeNotOffered,
		},
		{
			name: "unknown doctor",
			req: AcquireRequest{
				Slot: catalog.Slot{DoctorID: "D404", Date: monday,
					Start: catalog.MustTimeOfDay("09:00"), End: catalog.MustTimeOfDay("09:30")},
				Mode: catalog.ModeOnline, OwnerID: "P1",
			},
			want: catalog.ErrDoctorNotFound,
		},
		{
			name: "missing owner",
			req:  AcquireRequest{Slot: slotAt("09:00"), Mode: catalog.ModeOnline},
			want: ErrOwnerRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.locks.Acquire(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.store.Events())
}

func TestAcquire_PastSlotRejected(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2025, time.March, 10, 9, 45, 0, 0, time.UTC))

	_, err := f.locks.Acquire(context.Background(), AcquireRequest{
		Slot: slotAt("09:00"), Mode: catalog.ModeOnline, OwnerID: "P1",
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)

	f.acquire(t, "10:00", "P1")
}

func TestRelease_ThenRelockByAnotherOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	require.NoError(t, f.locks.Release(ctx, *h))

	cur, err := f.store.Get(ctx, h.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFree, cur.Status)

	h2 := f.acquire(t, "09:00", "P2")
	assert.NotEqual(t, h.LockID, h2.LockID)
}

func TestRelease_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	require.NoError(t, f.locks.Release(ctx, *h))
	require.NoError(t, f.locks.Release(ctx, *h))

	// The store itself reports the second unlock.
	assert.ErrorIs(t, f.store.Unlock(ctx, h.Key, "P1", h.LockID), reservation.ErrNotLocked)
	assert.Equal(t, []string{reservation.EventSlotLocked, reservation.EventSlotUnlocked}, f.eventTypes())
}

func TestRelease_StaleHandleKeepsNewerHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.acquire(t, "09:00", "P1")

	f.clock.Advance(DefaultLockTTL + time.Second)
	fresh := f.acquire(t, "09:00", "P1")
	require.NotEqual(t, old.LockID, fresh.LockID)

	require.NoError(t, f.locks.Release(ctx, *old))

	cur, err := f.store.Get(ctx, fresh.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusLocked, cur.Status)
	assert.Equal(t, fresh.LockID, cur.LockID)
	assert.NotContains(t, f.eventTypes(), reservation.EventSlotUnlocked)

	require.NoError(t, f.locks.Release(ctx, *fresh))
	cur, err = f.store.Get(ctx, fresh.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFree, cur.Status)
}

func TestRelease_DoesNotFreeAnotherOwnersLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	other := *h
	other.OwnerID = "P2"
	require.NoError(t, f.locks.Release(ctx, other))

	cur, err := f.store.Get(ctx, h.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusLocked, cur.Status)
	assert.Equal(t, "P1", cur.LockOwner)
}

func TestReleaseByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	_, err := f.locks.ReleaseByID(ctx, h.LockID, "P2")
	assert.ErrorIs(t, err, ErrNotOwner)

	released, err := f.locks.ReleaseByID(ctx, h.LockID, "P1")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = f.locks.ReleaseByID(ctx, h.LockID, "P1")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	f.clock.Advance(299 * time.Second)
	_, err := f.locks.Acquire(ctx, AcquireRequest{Slot: h.Key, Mode: catalog.ModeOnline, OwnerID: "P2"})
	assert.ErrorIs(t, err, ErrSlotConflict)

	f.clock.Advance(2 * time.Second)
	cur, err := f.store.Get(ctx, h.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFree, cur.Status)

	h2 := f.acquire(t, "09:00", "P2")
	assert.Equal(t, "P2", h2.OwnerID)
}

func TestAvailable_ExcludesLockedAndBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.locks.Available(ctx, "D1", monday)
	require.NoError(t, err)
	require.Len(t, all, 6)

	f.acquire(t, "09:00", "P1")
	h := f.acquire(t, "10:00", "P2")
	_, err = f.booking.Confirm(ctx, *h, "1234", "P2", 500)
	require.NoError(t, err)

	free, err := f.locks.Available(ctx, "D1", monday)
	require.NoError(t, err)
	assert.Len(t, free, 4)
	assert.NotContains(t, free, slotAt("09:00"))
	assert.NotContains(t, free, slotAt("10:00"))

	// Expired holds come back.
	f.clock.Advance(DefaultLockTTL)
	free, err = f.locks.Available(ctx, "D1", monday)
	require.NoError(t, err)
	assert.Len(t, free, 5)
	assert.Contains(t, free, slotAt("09:00"))
}

func TestSweepExpired_EmitsExpiryEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acquire(t, "09:00", "P1")
	f.acquire(t, "09:30", "P2")

	n, err := f.locks.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(DefaultLockTTL + time.Second)
	n, err = f.locks.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var expired int
	for _, ev := range f.store.Events() {
		if ev.EventType == reservation.EventSlotLockExpired {
			expired++
			assert.NotNil(t, ev.ReservationID)
		}
	}
	assert.Equal(t, 2, expired)
}
