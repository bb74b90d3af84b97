package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/appointment"
	"github.com/hackgods/telehealth-slot-reservation/internal/auth"
	"github.com/hackgods/telehealth-slot-reservation/internal/booking"
	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
)

// Handlers holds the services behind the booking endpoints.
type Handlers struct {
	Catalog      *catalog.Catalog
	Locks        *booking.LockManager
	Booking      *booking.Service
	Appointments *appointment.Service
	Clock        clock.Clock
	Log          *zap.Logger
}

func (s SlotRequest) slot() (catalog.Slot, catalog.Mode, error) {
	date, err := catalog.ParseDate(s.Date)
	if err != nil {
		return catalog.Slot{}, "", err
	}
	start, err := catalog.ParseTimeOfDay(s.Start)
	if err != nil {
		return catalog.Slot{}, "", err
	}
	end, err := catalog.ParseTimeOfDay(s.End)
	if err != nil {
		return catalog.Slot{}, "", err
	}
	mode, err := catalog.ParseMode(s.Mode)
	if err != nil {
		return catalog.Slot{}, "", err
	}
	return catalog.Slot{DoctorID: s.DoctorID, Date: date, Start: start, End: end}, mode, nil
}

func (h *Handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID := q.Get("doctorId")
	if doctorID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctorId is required")
		return
	}
	date, err := catalog.ParseDate(q.Get("date"))
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	slots, err := h.Locks.Available(r.Context(), doctorID, date)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{Start: s.Start, End: s.End})
	}
	writeSuccess(w, http.StatusOK, "", out)
}

func (h *Handlers) lockSlot(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slot, mode, err := req.slot()
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	handle, err := h.Locks.Acquire(r.Context(), booking.AcquireRequest{
		Slot:    slot,
		Mode:    mode,
		OwnerID: principal(r).Subject,
	})
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "slot locked", LockResponse{
		LockID:           handle.LockID,
		ExpiresInSeconds: int(handle.ExpiresIn(h.Clock.Now()).Seconds()),
		ExpiresAt:        handle.ExpiresAt,
	})
}

func (h *Handlers) unlockSlot(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	released, err := h.Locks.ReleaseByID(r.Context(), req.SlotID, principal(r).Subject)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	msg := "slot released"
	if !released {
		msg = "slot was not locked"
	}
	writeSuccess(w, http.StatusOK, msg, nil)
}

func (h *Handlers) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Lock ids are only handed out by /lock, so an unknown one has lapsed.
	handle, err := h.Locks.Lookup(r.Context(), req.LockID, principal(r).Subject)
	if errors.Is(err, booking.ErrNotLocked) {
		err = booking.ErrLockExpired
	}
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}
	ttl, err := h.Booking.RequestVerification(r.Context(), *handle)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, "verification code sent", OTPResponse{ExpiresInSeconds: int(ttl.Seconds())})
}

func (h *Handlers) confirmBooking(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slot, mode, err := req.slot()
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	doc, err := h.Catalog.Doctor(r.Context(), slot.DoctorID)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	p := principal(r)
	booked, err := h.Booking.Confirm(r.Context(), booking.LockHandle{
		LockID:  req.LockID,
		Key:     slot,
		Mode:    mode,
		OwnerID: p.Subject,
	}, req.VerificationProof, p.Subject, doc.Fee)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}

	bucket, _ := appointment.Classify(booked.Status, booked.Key.Date, h.Catalog.Today())
	writeSuccess(w, http.StatusCreated, "appointment booked", toAppointmentResponse(appointment.Appointment{
		ID:              booked.ID,
		DoctorID:        doc.ID,
		DoctorName:      doc.Name,
		Specializations: doc.Specializations,
		Date:            booked.Key.Date,
		Start:           booked.Key.Start,
		End:             booked.Key.End,
		Mode:            booked.Mode,
		Status:          booked.Status,
		Bucket:          bucket,
		PatientID:       booked.PatientID,
		Fee:             booked.Fee,
		BookedAt:        booked.BookedAt,
	}))
}

func (h *Handlers) myAppointments(w http.ResponseWriter, r *http.Request) {
	var bucket appointment.Bucket
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		b, err := appointment.ParseBucket(raw)
		if err != nil {
			writeDomainError(h.Log, w, r, err)
			return
		}
		bucket = b
	}

	list, err := h.Appointments.ListForPatient(r.Context(), principal(r).Subject, bucket)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}
	writeAppointments(w, list)
}

// doctorAppointments lists the calling doctor's schedule. Admins name the
// doctor with doctorId. The range defaults to today plus 30 days.
func (h *Handlers) doctorAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := principal(r)

	doctorID := p.Subject
	if p.Role == auth.RoleAdmin {
		doctorID = q.Get("doctorId")
		if doctorID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "doctorId is required")
			return
		}
	}

	from := h.Catalog.Today()
	if raw := q.Get("from"); raw != "" {
		d, err := catalog.ParseDate(raw)
		if err != nil {
			writeDomainError(h.Log, w, r, err)
			return
		}
		from = d
	}
	to := from.AddDays(30)
	if raw := q.Get("to"); raw != "" {
		d, err := catalog.ParseDate(raw)
		if err != nil {
			writeDomainError(h.Log, w, r, err)
			return
		}
		to = d
	}

	list, err := h.Appointments.ListForDoctor(r.Context(), doctorID, from, to)
	if err != nil {
		writeDomainError(h.Log, w, r, err)
		return
	}
	writeAppointments(w, list)
}

func writeAppointments(w http.ResponseWriter, list []appointment.Appointment) {
	out := make([]AppointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a))
	}
	writeSuccess(w, http.StatusOK, "", out)
}
