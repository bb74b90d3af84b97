package appointment

import (
	"context"
	"errors"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

var (
	ErrInvalidBucket = errors.New("bucket must be upcoming, past or cancelled")
	ErrInvalidRange  = errors.New("from must not be after to")
)

// Repository is the read surface the query service needs. reservation.Store
// satisfies it.
type Repository interface {
	ListByPatient(ctx context.Context, patientID string) ([]reservation.Reservation, error)
	ListByDoctor(ctx context.Context, doctorID string, from, to catalog.Date) ([]reservation.Reservation, error)
}

// Doctors resolves display fields for a set of doctor ids. *catalog.Catalog satisfies it.
type Doctors interface {
	Doctors(ctx context.Context, ids []string) (map[string]*catalog.Doctor, error)
}
