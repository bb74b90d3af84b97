package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 10}, d)
	assert.Equal(t, "2025-03-10", d.String())
	assert.Equal(t, time.Monday, d.Weekday())

	_, err = ParseDate("10/03/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestDateOrdering(t *testing.T) {
	a := Date{Year: 2025, Month: time.March, Day: 10}
	b := Date{Year: 2025, Month: time.April, Day: 1}

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Before(a))
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in   string
		want TimeOfDay
		ok   bool
	}{
		{"09:00", 540, true},
		{"23:59", 1439, true},
		{"24:00", 1440, true},
		{"24:01", 0, false},
		{"9:00", 0, false},
		{"09:60", 0, false},
		{"ab:cd", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseTimeOfDay(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidTimeOfDay, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.in, got.String())
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("in-person")
	require.NoError(t, err)
	assert.Equal(t, ModeInPerson, m)

	_, err = ParseMode("phone")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestDoctorOffers(t *testing.T) {
	d := &Doctor{Modes: []Mode{ModeOnline}}
	assert.True(t, d.Offers(ModeOnline))
	assert.False(t, d.Offers(ModeInPerson))

	open := &Doctor{}
	assert.True(t, open.Offers(ModeInPerson))
}
