package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWithinWorkWindow(t *testing.T) {
	w := DefaultWorkWindow()
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 3, day, hour, minute, 0, 0, saoPaulo)
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"morning start", at(2, 9, 0), true},
		{"morning end inclusive", at(2, 11, 20), true},
		{"after morning", at(2, 11, 21), false},
		{"before morning", at(2, 8, 59), false},
		{"lunch", at(2, 12, 30), false},
		{"afternoon start", at(2, 14, 0), true},
		{"afternoon end inclusive", at(6, 17, 20), true},
		{"evening", at(6, 17, 21), false},
		{"saturday", at(7, 10, 0), false},
		{"sunday", at(8, 15, 0), false},
		{"utc instant inside", time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), true},
		{"utc instant outside", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.IsWithinWorkWindow(tt.now))
		})
	}
}

func TestWorkWindowDay(t *testing.T) {
	w := DefaultWorkWindow()
	// 01:30 UTC on the 3rd is still the 2nd in São Paulo.
	assert.Equal(t, "2026-03-02", w.Day(time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC)))
}

func TestParseTimeRange(t *testing.T) {
	r, err := ParseTimeRange("09:00", "11:20")
	require.NoError(t, err)
	assert.Equal(t, "09:00", r.Start.String())
	assert.Equal(t, "11:20", r.End.String())

	_, err = ParseTimeRange("12:00", "11:00")
	assert.Error(t, err)
	_, err = ParseTimeRange("9h", "11:00")
	assert.Error(t, err)
	_, err = ParseTimeRange("09:00", "24:00")
	assert.Error(t, err)
}

func TestNewWorkWindow(t *testing.T) {
	w, err := NewWorkWindow([]string{"09:00-11:20", " 14:00-17:20"}, []string{"Saturday", "domingo"}, saoPaulo)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkWindow().Ranges, w.Ranges)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, w.ExcludedDays)
	assert.True(t, w.IsWithinWorkWindow(monday10))

	_, err = NewWorkWindow(nil, nil, saoPaulo)
	assert.Error(t, err)
	_, err = NewWorkWindow([]string{"09:00"}, nil, saoPaulo)
	assert.Error(t, err)
	_, err = NewWorkWindow([]string{"09:00-10:00"}, []string{"feriado"}, saoPaulo)
	assert.Error(t, err)
}
