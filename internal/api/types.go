package api

import (
	"time"

	"github.com/hackgods/telehealth-slot-reservation/internal/appointment"
	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
)

// Envelope wraps every non-health response.
type Envelope struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Result   any    `json:"result"`
	ErrorKey string `json:"error_key,omitempty"`
}

// SlotRequest names one slot the way the booking page sends it.
type SlotRequest struct {
	DoctorID string `json:"doctorId" validate:"required"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Start    string `json:"start" validate:"required"`
	End      string `json:"end" validate:"required"`
	Mode     string `json:"mode" validate:"required,oneof=online in-person"`
}

type LockRequest struct {
	SlotRequest
}

type LockResponse struct {
	LockID           string    `json:"lockId"`
	ExpiresInSeconds int       `json:"expiresInSeconds"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// UnlockRequest carries the lock id under the field name the client uses.
type UnlockRequest struct {
	SlotID string `json:"slotId" validate:"required"`
}

type OTPRequest struct {
	LockID string `json:"lockId" validate:"required"`
}

type OTPResponse struct {
	ExpiresInSeconds int `json:"expiresInSeconds"`
}

type ConfirmRequest struct {
	SlotRequest
	VerificationProof string `json:"verificationProof" validate:"required"`
	LockID            string `json:"lockId,omitempty"`
}

type SlotResponse struct {
	Start catalog.TimeOfDay `json:"start"`
	End   catalog.TimeOfDay `json:"end"`
}

type AppointmentResponse struct {
	ID              string            `json:"id"`
	DoctorID        string            `json:"doctorId"`
	DoctorName      string            `json:"doctorName,omitempty"`
	Specializations []string          `json:"specializations,omitempty"`
	Date            catalog.Date      `json:"date"`
	Start           catalog.TimeOfDay `json:"start"`
	End             catalog.TimeOfDay `json:"end"`
	Mode            catalog.Mode      `json:"mode"`
	Status          string            `json:"status"`
	Bucket          string            `json:"bucket,omitempty"`
	PatientID       string            `json:"patientId"`
	Fee             int64             `json:"fee"`
	BookedAt        *time.Time        `json:"bookedAt,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID.String(),
		DoctorID:        a.DoctorID,
		DoctorName:      a.DoctorName,
		Specializations: a.Specializations,
		Date:            a.Date,
		Start:           a.Start,
		End:             a.End,
		Mode:            a.Mode,
		Status:          string(a.Status),
		Bucket:          string(a.Bucket),
		PatientID:       a.PatientID,
		Fee:             a.Fee,
		BookedAt:        a.BookedAt,
	}
}

type DoctorResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Specializations []string       `json:"specializations"`
	Modes           []catalog.Mode `json:"modes"`
	Fee             int64          `json:"fee"`
}

// AvailabilityBody is the weekly template keyed by lowercase weekday name.
type AvailabilityBody struct {
	Availability map[string][]catalog.Window `json:"availability" validate:"required"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func templateFromBody(b AvailabilityBody) (catalog.WeeklyTemplate, error) {
	tmpl := make(catalog.WeeklyTemplate, len(b.Availability))
	for name, windows := range b.Availability {
		day, ok := weekdays[name]
		if !ok {
			return nil, errInvalidWeekday
		}
		tmpl[day] = windows
	}
	return tmpl, nil
}

func bodyFromTemplate(tmpl catalog.WeeklyTemplate) AvailabilityBody {
	out := AvailabilityBody{Availability: make(map[string][]catalog.Window, len(weekdays))}
	for name, day := range weekdays {
		windows := tmpl[day]
		if windows == nil {
			windows = []catalog.Window{}
		}
		out.Availability[name] = windows
	}
	return out
}
