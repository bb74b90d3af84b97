package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
)

// MemoryStore is a process-local Store. The mutex is held only for map
// operations, never across I/O. Cancelled records leave the live map so the
// key is free again, and are kept only for appointment listings.
type MemoryStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	records   map[Key]*Reservation
	cancelled []*Reservation
	events    []EventLog
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk, records: make(map[Key]*Reservation)}
}

// current applies lazy expiry to the record at key. Callers hold s.mu.
func (s *MemoryStore) current(key Key, now time.Time) *Reservation {
	r, ok := s.records[key]
	if !ok {
		return nil
	}
	if r.Status == StatusCancelled {
		s.cancelled = append(s.cancelled, r)
		delete(s.records, key)
		return nil
	}
	if r.lockExpired(now) {
		r.free(now)
	}
	return r
}

func copyOf(r *Reservation) *Reservation {
	c := *r
	if r.LockExpiresAt != nil {
		t := *r.LockExpiresAt
		c.LockExpiresAt = &t
	}
	if r.BookedAt != nil {
		t := *r.BookedAt
		c.BookedAt = &t
	}
	return &c
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.current(key, s.clock.Now()); r != nil {
		return copyOf(r), nil
	}
	return &Reservation{Key: key, Status: StatusFree}, nil
}

func (s *MemoryStore) GetByLockID(_ context.Context, lockID string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, r := range s.records {
		if r.LockID != lockID {
			continue
		}
		if r = s.current(key, now); r != nil && r.Status == StatusLocked {
			return copyOf(r), nil
		}
	}
	return nil, ErrNotLocked
}

func (s *MemoryStore) TryLock(_ context.Context, key Key, mode catalog.Mode, owner string, ttl time.Duration) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	r := s.current(key, now)
	if r != nil && r.Status != StatusFree {
		return nil, ErrSlotConflict
	}
	if r == nil {
		r = &Reservation{ID: uuid.New(), Key: key, CreatedAt: now}
		s.records[key] = r
	}

	expires := now.Add(ttl)
	r.Mode = mode
	r.Status = StatusLocked
	r.LockID = uuid.NewString()
	r.LockOwner = owner
	r.LockExpiresAt = &expires
	r.UpdatedAt = now
	return copyOf(r), nil
}

func (s *MemoryStore) Unlock(_ context.Context, key Key, owner, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	r := s.current(key, now)
	if r == nil || r.Status != StatusLocked {
		return ErrNotLocked
	}
	if r.LockOwner != owner {
		return ErrNotOwner
	}
	if lockID != "" && r.LockID != lockID {
		return ErrNotLocked
	}
	r.free(now)
	return nil
}

func (s *MemoryStore) Confirm(_ context.Context, key Key, owner, lockID, patientID string, fee int64) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	r := s.current(key, now)
	if r == nil {
		return nil, ErrLockExpired
	}
	if !r.Holds(owner, now) || (lockID != "" && r.LockID != lockID) {
		return nil, classifyFailure(r, owner)
	}

	r.Status = StatusBooked
	r.PatientID = patientID
	r.Fee = fee
	r.LockID = ""
	r.LockOwner = ""
	r.LockExpiresAt = nil
	r.BookedAt = &now
	r.UpdatedAt = now
	return copyOf(r), nil
}

func (s *MemoryStore) SweepExpired(_ context.Context) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var released []Reservation
	for _, r := range s.records {
		if r.lockExpired(now) {
			snapshot := *copyOf(r)
			r.free(now)
			released = append(released, snapshot)
		}
	}
	return released, nil
}

func (s *MemoryStore) ListByDoctorDate(_ context.Context, doctorID string, date catalog.Date) ([]Reservation, error) {
	return s.list(func(r *Reservation) bool {
		return r.Key.DoctorID == doctorID && r.Key.Date == date && r.Status != StatusCancelled
	}), nil
}

func (s *MemoryStore) ListByPatient(_ context.Context, patientID string) ([]Reservation, error) {
	return s.list(func(r *Reservation) bool {
		return r.PatientID == patientID && isAppointment(r.Status)
	}), nil
}

func (s *MemoryStore) ListByDoctor(_ context.Context, doctorID string, from, to catalog.Date) ([]Reservation, error) {
	return s.list(func(r *Reservation) bool {
		return r.Key.DoctorID == doctorID && isAppointment(r.Status) &&
			!r.Key.Date.Before(from) && !r.Key.Date.After(to)
	}), nil
}

func (s *MemoryStore) list(match func(*Reservation) bool) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []Reservation
	for key := range s.records {
		if r := s.current(key, now); r != nil && match(r) {
			out = append(out, *copyOf(r))
		}
	}
	for _, r := range s.cancelled {
		if match(r) {
			out = append(out, *copyOf(r))
		}
	}
	sortByTime(out)
	return out
}

// Record appends ev to the in-memory event log.
func (s *MemoryStore) Record(_ context.Context, ev EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) Events() []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventLog(nil), s.events...)
}

func isAppointment(st Status) bool {
	return st == StatusBooked || st == StatusCancelled || st == StatusCompleted
}

func sortByTime(rs []Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i].Key, rs[j].Key
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.DoctorID < b.DoctorID
	})
}
