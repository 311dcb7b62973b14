package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// ClockTime is a time of day at minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// TimeRange is an inclusive interval within one day.
type TimeRange struct {
	Start ClockTime
	End   ClockTime
}

func ParseTimeRange(start, end string) (TimeRange, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return TimeRange{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return TimeRange{}, err
	}
	if e.minutes() < s.minutes() {
		return TimeRange{}, fmt.Errorf("time range %s-%s ends before it starts", start, end)
	}
	return TimeRange{Start: s, End: e}, nil
}

func (r TimeRange) contains(minute int) bool {
	return minute >= r.Start.minutes() && minute <= r.End.minutes()
}

// WorkWindow decides whether outreach may happen at a given instant. It is
// evaluated in its own location, never the host's local zone.
type WorkWindow struct {
	Ranges       []TimeRange
	ExcludedDays []time.Weekday
	Location     *time.Location
}

// DefaultWorkWindow is 09:00-11:20 and 14:00-17:20, Monday to Friday, São Paulo time.
func DefaultWorkWindow() *WorkWindow {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.UTC
	}
	return &WorkWindow{
		Ranges: []TimeRange{
			{Start: ClockTime{9, 0}, End: ClockTime{11, 20}},
			{Start: ClockTime{14, 0}, End: ClockTime{17, 20}},
		},
		ExcludedDays: []time.Weekday{time.Saturday, time.Sunday},
		Location:     loc,
	}
}

func (w *WorkWindow) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w *WorkWindow) IsWithinWorkWindow(now time.Time) bool {
	local := now.In(w.location())
	for _, day := range w.ExcludedDays {
		if local.Weekday() == day {
			return false
		}
	}
	minute := local.Hour()*60 + local.Minute()
	for _, r := range w.Ranges {
		if r.contains(minute) {
			return true
		}
	}
	return false
}

// Day returns the calendar date of now in the window's location as YYYY-MM-DD.
func (w *WorkWindow) Day(now time.Time) string {
	return now.In(w.location()).Format("2006-01-02")
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
	"domingo": time.Sunday, "segunda": time.Monday, "terca": time.Tuesday, "terça": time.Tuesday,
	"quarta": time.Wednesday, "quinta": time.Thursday, "sexta": time.Friday, "sabado": time.Saturday, "sábado": time.Saturday,
}

func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// NewWorkWindow builds a window from "HH:MM-HH:MM" ranges and weekday names.
func NewWorkWindow(ranges, excludedDays []string, loc *time.Location) (*WorkWindow, error) {
	w := &WorkWindow{Location: loc}
	for _, raw := range ranges {
		start, end, ok := strings.Cut(raw, "-")
		if !ok {
			return nil, fmt.Errorf("invalid work range %q, expected HH:MM-HH:MM", raw)
		}
		r, err := ParseTimeRange(start, end)
		if err != nil {
			return nil, err
		}
		w.Ranges = append(w.Ranges, r)
	}
	if len(w.Ranges) == 0 {
		return nil, fmt.Errorf("work window needs at least one range")
	}
	for _, raw := range excludedDays {
		d, err := ParseWeekday(raw)
		if err != nil {
			return nil, err
		}
		w.ExcludedDays = append(w.ExcludedDays, d)
	}
	return w, nil
}
