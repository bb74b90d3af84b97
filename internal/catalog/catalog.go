package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
)

var ErrDoctorNotFound = errors.New("doctor not found")

// Directory is the read/write surface over doctor profiles and their weekly templates.
type Directory interface {
	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	GetDoctors(ctx context.Context, ids []string) (map[string]*Doctor, error)
	SaveAvailability(ctx context.Context, doctorID string, tmpl WeeklyTemplate) error
}

// Catalog derives bookable slots from a doctor's weekly availability.
type Catalog struct {
	dir      Directory
	duration time.Duration
	clock    clock.Clock
	loc      *time.Location
}

func New(dir Directory, slotDuration time.Duration, clk clock.Clock, loc *time.Location) *Catalog {
	if loc == nil {
		loc = time.UTC
	}
	return &Catalog{dir: dir, duration: slotDuration, clock: clk, loc: loc}
}

func (c *Catalog) SlotDuration() time.Duration { return c.duration }

// Today is the current calendar day in the catalog's location.
func (c *Catalog) Today() Date {
	return DateOf(c.clock.Now().In(c.loc))
}

// ListSlots returns the ordered slots for doctorID on date. Past dates, and
// slots on today that have already started, are never returned.
func (c *Catalog) ListSlots(ctx context.Context, doctorID string, date Date) ([]Slot, error) {
	doc, err := c.dir.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return c.SlotsFor(doc, date), nil
}

// SlotsFor is ListSlots for an already loaded doctor.
func (c *Catalog) SlotsFor(doc *Doctor, date Date) []Slot {
	now := c.clock.Now().In(c.loc)
	today := DateOf(now)
	if date.Before(today) {
		return nil
	}

	slots := Partition(doc.ID, doc.Availability, date, c.duration)
	if date != today {
		return slots
	}

	cutoff := TimeOfDayOf(now)
	upcoming := slots[:0]
	for _, s := range slots {
		if s.Start > cutoff {
			upcoming = append(upcoming, s)
		}
	}
	return upcoming
}

// Contains reports whether slot is one of the doctor's catalog slots for its date.
func (c *Catalog) Contains(ctx context.Context, slot Slot) (bool, error) {
	slots, err := c.ListSlots(ctx, slot.DoctorID, slot.Date)
	if err != nil {
		return false, err
	}
	return containsSlot(slots, slot), nil
}

func containsSlot(slots []Slot, slot Slot) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}

// Member reports whether slot belongs to doc's catalog.
func (c *Catalog) Member(doc *Doctor, slot Slot) bool {
	return slot.DoctorID == doc.ID && containsSlot(c.SlotsFor(doc, slot.Date), slot)
}

// Partition splits the windows configured for date's weekday into
// consecutive intervals of length d. Overlapping windows are merged first;
// a remainder shorter than d is dropped.
func Partition(doctorID string, tmpl WeeklyTemplate, date Date, d time.Duration) []Slot {
	step := TimeOfDay(d / time.Minute)
	if step <= 0 {
		return nil
	}

	var out []Slot
	for _, w := range mergeWindows(tmpl[date.Weekday()]) {
		for start := w.Start; start+step <= w.End; start += step {
			out = append(out, Slot{DoctorID: doctorID, Date: date, Start: start, End: start + step})
		}
	}
	return out
}

func mergeWindows(in []Window) []Window {
	windows := make([]Window, 0, len(in))
	for _, w := range in {
		if w.Validate() == nil {
			windows = append(windows, w)
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })

	merged := windows[:0]
	for _, w := range windows {
		if n := len(merged); n > 0 && w.Start <= merged[n-1].End {
			if w.End > merged[n-1].End {
				merged[n-1].End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// SaveAvailability validates and persists a doctor's weekly template.
func (c *Catalog) SaveAvailability(ctx context.Context, doctorID string, tmpl WeeklyTemplate) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	if _, err := c.dir.GetDoctor(ctx, doctorID); err != nil {
		return err
	}
	if err := c.dir.SaveAvailability(ctx, doctorID, tmpl); err != nil {
		return fmt.Errorf("save availability: %w", err)
	}
	return nil
}

func (c *Catalog) Doctor(ctx context.Context, id string) (*Doctor, error) {
	return c.dir.GetDoctor(ctx, id)
}

func (c *Catalog) Doctors(ctx context.Context, ids []string) (map[string]*Doctor, error) {
	return c.dir.GetDoctors(ctx, ids)
}
