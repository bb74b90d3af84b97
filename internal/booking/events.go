package booking

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

// EventSink receives booking lifecycle events (event log table, message broker).
type EventSink interface {
	Record(ctx context.Context, ev reservation.EventLog) error
}

// Events fans one event out to every sink. Sink failures are logged and dropped.
type Events struct {
	sinks []EventSink
	clock clock.Clock
	log   *zap.Logger
}

func NewEvents(clk clock.Clock, log *zap.Logger, sinks ...EventSink) *Events {
	return &Events{sinks: sinks, clock: clk, log: log}
}

func (e *Events) Emit(ctx context.Context, eventType string, r *reservation.Reservation, payload map[string]any) {
	if e == nil {
		return
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["doctor_id"] = r.Key.DoctorID
	payload["date"] = r.Key.Date.String()
	payload["start"] = r.Key.Start.String()
	payload["end"] = r.Key.End.String()

	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	var id *uuid.UUID
	if r.ID != uuid.Nil {
		rid := r.ID
		id = &rid
	}

	ev := reservation.EventLog{
		EventType:     eventType,
		ReservationID: id,
		Payload:       data,
		CreatedAt:     e.clock.Now(),
	}
	for _, sink := range e.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			e.log.Warn("record event",
				zap.String("event", eventType),
				zap.Stringer("slot", r.Key),
				zap.Error(err),
			)
		}
	}
}
