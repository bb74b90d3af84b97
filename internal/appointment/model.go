package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

// Bucket groups appointments on the patient dashboard.
type Bucket string

const (
	BucketUpcoming  Bucket = "upcoming"
	BucketPast      Bucket = "past"
	BucketCancelled Bucket = "cancelled"
)

func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(s); b {
	case BucketUpcoming, BucketPast, BucketCancelled:
		return b, nil
	}
	return "", ErrInvalidBucket
}

// Appointment is the read view of a booked, cancelled or completed reservation.
type Appointment struct {
	ID              uuid.UUID
	DoctorID        string
	DoctorName      string
	Specializations []string
	Date            catalog.Date
	Start           catalog.TimeOfDay
	End             catalog.TimeOfDay
	Mode            catalog.Mode
	Status          reservation.Status
	Bucket          Bucket
	PatientID       string
	Fee             int64
	BookedAt        *time.Time
}

// Classify places a reservation in a dashboard bucket as of today.
// Locked and free records belong to no bucket.
func Classify(status reservation.Status, date, today catalog.Date) (Bucket, bool) {
	switch status {
	case reservation.StatusCancelled:
		return BucketCancelled, true
	case reservation.StatusCompleted:
		return BucketPast, true
	case reservation.StatusBooked:
		if date.Before(today) {
			return BucketPast, true
		}
		return BucketUpcoming, true
	}
	return "", false
}
