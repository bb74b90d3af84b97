package appointment

import (
	"context"
	"fmt"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

// MaxRange bounds ListForDoctor queries.
const MaxRange = 92

type Service struct {
	repo    Repository
	doctors Doctors
	today   func() catalog.Date
}

// NewService wires the query service. today supplies the calendar day used
// for bucketing, normally (*catalog.Catalog).Today.
func NewService(repo Repository, doctors Doctors, today func() catalog.Date) *Service {
	return &Service{repo: repo, doctors: doctors, today: today}
}

// ListForPatient returns the patient's appointments in bucket, ordered by
// date and start time. An empty bucket returns all of them.
func (s *Service) ListForPatient(ctx context.Context, patientID string, bucket Bucket) ([]Appointment, error) {
	rs, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return s.enrich(ctx, rs, bucket)
}

// ListForDoctor returns every appointment with doctorID between from and to inclusive.
func (s *Service) ListForDoctor(ctx context.Context, doctorID string, from, to catalog.Date) ([]Appointment, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	if from.AddDays(MaxRange).Before(to) {
		return nil, fmt.Errorf("%w: at most %d days", ErrInvalidRange, MaxRange)
	}

	rs, err := s.repo.ListByDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return s.enrich(ctx, rs, "")
}

func (s *Service) enrich(ctx context.Context, rs []reservation.Reservation, bucket Bucket) ([]Appointment, error) {
	today := s.today()

	out := make([]Appointment, 0, len(rs))
	seen := make(map[string]bool)
	var ids []string
	for _, r := range rs {
		b, ok := Classify(r.Status, r.Key.Date, today)
		if !ok || (bucket != "" && b != bucket) {
			continue
		}
		out = append(out, Appointment{
			ID:        r.ID,
			DoctorID:  r.Key.DoctorID,
			Date:      r.Key.Date,
			Start:     r.Key.Start,
			End:       r.Key.End,
			Mode:      r.Mode,
			Status:    r.Status,
			Bucket:    b,
			PatientID: r.PatientID,
			Fee:       r.Fee,
			BookedAt:  r.BookedAt,
		})
		if !seen[r.Key.DoctorID] {
			seen[r.Key.DoctorID] = true
			ids = append(ids, r.Key.DoctorID)
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	docs, err := s.doctors.Doctors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for i := range out {
		if d, ok := docs[out[i].DoctorID]; ok {
			out[i].DoctorName = d.Name
			out[i].Specializations = d.Specializations
		}
	}
	return out, nil
}
