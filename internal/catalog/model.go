package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDate      = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidTimeOfDay = errors.New("time must be formatted as HH:MM")
	ErrInvalidMode      = errors.New("mode must be online or in-person")
	ErrInvalidWindow    = errors.New("availability window must end after it starts")
)

const dateLayout = "2006-01-02"

// Date is a calendar day with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool { return o.Before(d) }

func (d Date) AddDays(n int) Date { return DateOf(d.In(time.UTC).AddDate(0, 0, n)) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	p, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// TimeOfDay is minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, ErrInvalidTimeOfDay
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, ErrInvalidTimeOfDay
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, ErrInvalidTimeOfDay
	}
	t := TimeOfDay(h*60 + m)
	if t > minutesPerDay {
		return 0, ErrInvalidTimeOfDay
	}
	return t, nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(fmt.Sprintf("catalog: %q: %v", s, err))
	}
	return t
}

// TimeOfDayOf returns the minute of the day of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	p, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

type Mode string

const (
	ModeOnline   Mode = "online"
	ModeInPerson Mode = "in-person"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOnline, ModeInPerson:
		return Mode(s), nil
	}
	return "", ErrInvalidMode
}

// Slot identifies one bookable interval. It doubles as the reservation key.
type Slot struct {
	DoctorID string
	Date     Date
	Start    TimeOfDay
	End      TimeOfDay
}

func (s Slot) String() string {
	return fmt.Sprintf("%s/%s/%s-%s", s.DoctorID, s.Date, s.Start, s.End)
}

// Overlaps reports whether two slots of the same doctor and day share any minute.
func (s Slot) Overlaps(o Slot) bool {
	return s.DoctorID == o.DoctorID && s.Date == o.Date && s.Start < o.End && o.Start < s.End
}

// Window is one availability range inside a weekday.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (w Window) Validate() error {
	if w.Start < 0 || w.End > minutesPerDay || w.End <= w.Start {
		return ErrInvalidWindow
	}
	return nil
}

// WeeklyTemplate maps a weekday to its availability windows.
type WeeklyTemplate map[time.Weekday][]Window

func (t WeeklyTemplate) Validate() error {
	for day, windows := range t {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("weekday %d out of range", int(day))
		}
		for _, w := range windows {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("%s %s-%s: %w", day, w.Start, w.End, err)
			}
		}
	}
	return nil
}

type Doctor struct {
	ID              string
	Name            string
	Specializations []string
	Modes           []Mode
	Fee             int64
	Availability    WeeklyTemplate
}

func (d *Doctor) Offers(m Mode) bool {
	// An empty list means the doctor has not restricted modes.
	if len(d.Modes) == 0 {
		return true
	}
	for _, have := range d.Modes {
		if have == m {
			return true
		}
	}
	return false
}
