package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

type failingSink struct {
	calls int
}

func (f *failingSink) Record(context.Context, reservation.EventLog) error {
	f.calls++
	return errors.New("broker unavailable")
}

func TestEvents_FailingSinkDoesNotBlockOthers(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, time.March, 9, 8, 0, 0, 0, time.UTC))
	core, logs := observer.New(zapcore.WarnLevel)
	store := reservation.NewMemoryStore(clk)
	broken := &failingSink{}
	events := NewEvents(clk, zap.New(core), broken, store)

	r := &reservation.Reservation{ID: uuid.New(), Key: slotAt("09:00")}
	events.Emit(context.Background(), reservation.EventSlotBooked, r, map[string]any{"patient_id": "P1"})

	assert.Equal(t, 1, broken.calls)

	recorded := store.Events()
	require.Len(t, recorded, 1)
	ev := recorded[0]
	assert.Equal(t, reservation.EventSlotBooked, ev.EventType)
	require.NotNil(t, ev.ReservationID)
	assert.Equal(t, r.ID, *ev.ReservationID)
	assert.Equal(t, clk.Now(), ev.CreatedAt)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, map[string]string{
		"patient_id": "P1",
		"doctor_id":  "D1",
		"date":       "2025-03-10",
		"start":      "09:00",
		"end":        "09:30",
	}, payload)

	warned := logs.FilterMessage("record event").All()
	require.Len(t, warned, 1)
	assert.Equal(t, reservation.EventSlotBooked, warned[0].ContextMap()["event"])
}

func TestEvents_NilIsNoop(t *testing.T) {
	var events *Events
	assert.NotPanics(t, func() {
		events.Emit(context.Background(), reservation.EventSlotLocked, &reservation.Reservation{}, nil)
	})
}
