package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
	"github.com/hackgods/telehealth-slot-reservation/internal/verification"
)

type fixedVerifier struct {
	code string
}

func (fixedVerifier) Issue(context.Context, string, string, time.Duration) error { return nil }

func (v fixedVerifier) Verify(_ context.Context, _, _ string, proof string) error {
	if proof != v.code {
		return verification.ErrInvalidCode
	}
	return nil
}

type recordingVerifier struct {
	fixedVerifier
	lockID string
	ttl    time.Duration
	err    error
}

func (v *recordingVerifier) Issue(_ context.Context, lockID, _ string, ttl time.Duration) error {
	v.lockID, v.ttl = lockID, ttl
	return nil
}

func (v *recordingVerifier) Verify(ctx context.Context, lockID, owner, proof string) error {
	if v.err != nil {
		return v.err
	}
	return v.fixedVerifier.Verify(ctx, lockID, owner, proof)
}

func TestConfirm_BooksHeldSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	booked, err := f.booking.Confirm(ctx, *h, "1234", "P1", 500)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusBooked, booked.Status)
	assert.Equal(t, "P1", booked.PatientID)
	assert.EqualValues(t, 500, booked.Fee)
	assert.Empty(t, booked.LockID)
	require.NotNil(t, booked.BookedAt)

	list, err := f.store.ListByPatient(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, h.Key, list[0].Key)

	_, err = f.booking.Confirm(ctx, *h, "1234", "P1", 500)
	assert.ErrorIs(t, err, ErrSlotConflict)

	evs := f.store.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, reservation.EventSlotBooked, evs[1].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(evs[1].Payload, &payload))
	assert.Equal(t, "P1", payload["patient_id"])
	assert.Equal(t, "09:00", payload["start"])
	assert.Equal(t, "2025-03-10", payload["date"])
}

func TestConfirm_AfterTTLIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	f.clock.Advance(301 * time.Second)

	_, err := f.booking.Confirm(ctx, *h, "1234", "P1", 500)
	assert.ErrorIs(t, err, ErrLockExpired)

	cur, err := f.store.Get(ctx, h.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusFree, cur.Status)

	list, err := f.store.ListByPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConfirm_StaleHandleAfterRelockIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	f.clock.Advance(DefaultLockTTL)
	f.acquire(t, "09:00", "P2")

	_, err := f.booking.Confirm(ctx, *h, "1234", "P1", 500)
	assert.ErrorIs(t, err, ErrLockExpired)

	cur, err := f.store.Get(ctx, h.Key)
	require.NoError(t, err)
	assert.Equal(t, "P2", cur.LockOwner)
}

func TestConfirm_OwnStaleHandleAfterRelockIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.acquire(t, "09:00", "P1")

	f.clock.Advance(DefaultLockTTL)
	fresh := f.acquire(t, "09:00", "P1")

	_, err := f.booking.Confirm(ctx, *old, "1234", "P1", 500)
	assert.ErrorIs(t, err, ErrLockExpired)

	_, err = f.booking.Confirm(ctx, *fresh, "1234", "P1", 500)
	require.NoError(t, err)
}

func TestConfirm_ByNonOwner(t *testing.T) {
	f := newFixture(t)
	h := f.acquire(t, "09:00", "P1")

	_, err := f.booking.Confirm(context.Background(), LockHandle{Key: h.Key, OwnerID: "P2"}, "1234", "P2", 500)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestConfirm_WithoutLock(t *testing.T) {
	f := newFixture(t)

	_, err := f.booking.Confirm(context.Background(), LockHandle{Key: slotAt("09:00"), OwnerID: "P1"}, "1234", "P1", 500)
	assert.ErrorIs(t, err, ErrLockExpired)
}

func TestConfirm_WrongProofKeepsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := f.acquire(t, "09:00", "P1")

	_, err := f.booking.Confirm(ctx, *h, "0000", "P1", 500)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorIs(t, err, verification.ErrInvalidCode)

	cur, err := f.store.Get(ctx, h.Key)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusLocked, cur.Status)

	_, err = f.booking.Confirm(ctx, *h, "1234", "P1", 500)
	require.NoError(t, err)
}

func TestConfirm_VerifierOutageIsNotARejection(t *testing.T) {
	f := newFixture(t)
	v := &recordingVerifier{fixedVerifier: fixedVerifier{code: "1234"}, err: errors.New("redis: connection refused")}
	f.booking = NewService(f.store, v, f.clock, nil, zap.NewNop())
	h := f.acquire(t, "09:00", "P1")

	_, err := f.booking.Confirm(context.Background(), *h, "1234", "P1", 500)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVerificationFailed)
}

func TestRequestVerification_UsesRemainingTTL(t *testing.T) {
	f := newFixture(t)
	v := &recordingVerifier{fixedVerifier: fixedVerifier{code: "1234"}}
	f.booking = NewService(f.store, v, f.clock, NewEvents(f.clock, zap.NewNop(), f.store), zap.NewNop())
	h := f.acquire(t, "09:00", "P1")

	f.clock.Advance(100 * time.Second)
	ttl, err := f.booking.RequestVerification(context.Background(), *h)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Second, ttl)
	assert.Equal(t, h.LockID, v.lockID)
	assert.Equal(t, 200*time.Second, v.ttl)
	assert.Contains(t, f.eventTypes(), reservation.EventOTPIssued)

	f.clock.Advance(200 * time.Second)
	_, err = f.booking.RequestVerification(context.Background(), *h)
	assert.ErrorIs(t, err, ErrLockExpired)
}
