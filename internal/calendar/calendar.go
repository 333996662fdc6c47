package calendar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"attendanceportal/internal/model"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// InvalidDateError reports a date string that is not YYYY-MM-DD.
type InvalidDateError struct {
	Value string
	Err   error
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: %v", e.Value, e.Err)
}

func (e *InvalidDateError) Unwrap() error { return e.Err }

// ParseDate parses a YYYY-MM-DD string at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, &InvalidDateError{Value: s, Err: err}
	}
	return t, nil
}

// IsoWeekday returns the weekday of t encoded 1=Monday through 7=Sunday.
func IsoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

// GenerateSemesterDates lists every date between start and end (inclusive)
// whose ISO weekday is in daysOfWeek. A start after end yields no dates.
func GenerateSemesterDates(start, end string, daysOfWeek []int) ([]string, error) {
	from, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int]bool, len(daysOfWeek))
	for _, d := range daysOfWeek {
		wanted[d] = true
	}

	dates := []string{}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if wanted[IsoWeekday(day)] {
			dates = append(dates, day.Format(DateLayout))
		}
	}
	return dates, nil
}

// DistinctDays returns the sorted distinct weekdays covered by schedules.
func DistinctDays(schedules []model.Schedule) []int {
	seen := make(map[int]bool, len(schedules))
	days := make([]int, 0, len(schedules))
	for _, s := range schedules {
		if !seen[s.DayOfWeek] {
			seen[s.DayOfWeek] = true
			days = append(days, s.DayOfWeek)
		}
	}
	sort.Ints(days)
	return days
}

// CourseDates generates the session dates of a course inside a semester window.
// A course without schedules has no dates.
func CourseDates(course model.Course, start, end string) ([]string, error) {
	if len(course.Schedules) == 0 {
		return []string{}, nil
	}
	return GenerateSemesterDates(start, end, DistinctDays(course.Schedules))
}

// IsScheduleActive reports whether now falls inside the schedule's weekly
// window, start and end inclusive. Windows that cross midnight (end <= start)
// are never active.
func IsScheduleActive(s model.Schedule, now time.Time) bool {
	if IsoWeekday(now) != s.DayOfWeek {
		return false
	}
	start, ok := clockOn(now, s.StartTime)
	if !ok {
		return false
	}
	end, ok := clockOn(now, s.EndTime)
	if !ok || !end.After(start) {
		return false
	}
	return !now.Before(start) && !now.After(end)
}

// ActiveSchedule returns the first schedule of course active at now.
func ActiveSchedule(course model.Course, now time.Time) (model.Schedule, bool) {
	for _, s := range course.Schedules {
		if IsScheduleActive(s, now) {
			return s, true
		}
	}
	return model.Schedule{}, false
}

// clockOn places an "HH:MM" or "HH:MM:SS" wall-clock time on now's date.
func clockOn(now time.Time, clock string) (time.Time, bool) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return time.Time{}, false
	}
	fields := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		fields[i] = n
	}
	h, m, sec := fields[0], fields[1], fields[2]
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return time.Time{}, false
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, h, m, sec, 0, now.Location()), true
}

var monthAbbr = [...]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sep", "oct", "nov", "dic"}

// FormatHeader renders a YYYY-MM-DD date as "dd/mmm" with Spanish month names.
func FormatHeader(date string) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%02d/%s", t.Day(), monthAbbr[t.Month()-1])
}

// MonthDates is the set of session dates falling in one month.
type MonthDates struct {
	Month string   `json:"month"` // YYYY-MM
	Dates []string `json:"dates"`
}

// GroupByMonth buckets ascending dates by their YYYY-MM prefix, keeping order.
func GroupByMonth(dates []string) []MonthDates {
	var out []MonthDates
	for _, d := range dates {
		if len(d) < 7 {
			continue
		}
		key := d[:7]
		if n := len(out); n > 0 && out[n-1].Month == key {
			out[n-1].Dates = append(out[n-1].Dates, d)
			continue
		}
		out = append(out, MonthDates{Month: key, Dates: []string{d}})
	}
	return out
}
