package grid

import (
	"fmt"
	"sort"
	"strings"

	"attendanceportal/internal/model"
)

// Order selects how the enrolled roster is sorted.
type Order int

const (
	// OrderRoster keeps the order the API returned the roster in.
	OrderRoster Order = iota
	// OrderLastName sorts students by last name, then first name.
	OrderLastName
)

// ParseOrder maps a query value onto an Order; unknown values keep roster order.
func ParseOrder(s string) Order {
	if strings.EqualFold(s, "last_name") {
		return OrderLastName
	}
	return OrderRoster
}

// Grid maps student id -> date -> status. A missing cell is unrecorded.
type Grid map[string]map[string]string

// Status returns the recorded status, or model.StatusUnrecorded.
func (g Grid) Status(studentID, date string) string {
	return g[studentID][date]
}

// Lookup reports the status and whether one was recorded.
func (g Grid) Lookup(studentID, date string) (string, bool) {
	status, ok := g[studentID][date]
	return status, ok
}

// Clone deep-copies the grid.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for student, row := range g {
		cp := make(map[string]string, len(row))
		for date, status := range row {
			cp[date] = status
		}
		out[student] = cp
	}
	return out
}

// Set writes one cell. An empty status clears it.
func (g Grid) Set(studentID, date, status string) error {
	switch status {
	case model.StatusPresent, model.StatusLate, model.StatusAbsent:
	case model.StatusUnrecorded:
		delete(g[studentID], date)
		return nil
	default:
		return fmt.Errorf("unknown attendance status %q", status)
	}
	if g[studentID] == nil {
		g[studentID] = make(map[string]string)
	}
	g[studentID][date] = status
	return nil
}

// Result is an assembled attendance view of one course.
type Result struct {
	Students   []model.Student
	Grid       Grid
	Duplicates int
}

// Assemble keeps the roster members enrolled in courseID and builds their
// status grid from records. Duplicate (student, date) records are last-write-wins
// and counted in Duplicates.
func Assemble(courseID string, roster []model.Student, enrollments []model.Enrollment, records []model.AttendanceRecord, order Order) Result {
	enrolled := make(map[string]bool)
	for _, e := range enrollments {
		if e.CourseID == courseID {
			enrolled[e.StudentID] = true
		}
	}

	students := make([]model.Student, 0, len(enrolled))
	for _, s := range roster {
		if enrolled[s.ID] {
			students = append(students, s)
		}
	}
	if order == OrderLastName {
		sort.SliceStable(students, func(i, j int) bool {
			if students[i].LastName != students[j].LastName {
				return students[i].LastName < students[j].LastName
			}
			return students[i].FirstName < students[j].FirstName
		})
	}

	g := make(Grid, len(students))
	for _, s := range students {
		g[s.ID] = make(map[string]string)
	}
	dups := 0
	for _, r := range records {
		if r.CourseID != "" && r.CourseID != courseID {
			continue
		}
		row := g[r.StudentID]
		if row == nil {
			row = make(map[string]string)
			g[r.StudentID] = row
		}
		if _, seen := row[r.Date]; seen {
			dups++
		}
		row[r.Date] = r.Status
	}
	return Result{Students: students, Grid: g, Duplicates: dups}
}

// Summary counts cells by status over the given students and dates.
type Summary struct {
	Present    int `json:"present"`
	Late       int `json:"late"`
	Absent     int `json:"absent"`
	Unrecorded int `json:"unrecorded"`
}

// Summarize tallies the grid over students × dates.
func Summarize(students []model.Student, dates []string, g Grid) Summary {
	var s Summary
	for _, st := range students {
		for _, d := range dates {
			switch g.Status(st.ID, d) {
			case model.StatusPresent:
				s.Present++
			case model.StatusLate:
				s.Late++
			case model.StatusAbsent:
				s.Absent++
			default:
				s.Unrecorded++
			}
		}
	}
	return s
}

// BatchRecords flattens the recorded cells of students × dates into records
// for a bulk upsert. Unrecorded cells are skipped.
func BatchRecords(courseID string, students []model.Student, dates []string, g Grid) []model.AttendanceRecord {
	var out []model.AttendanceRecord
	for _, st := range students {
		for _, d := range dates {
			status, ok := g.Lookup(st.ID, d)
			if !ok || status == model.StatusUnrecorded {
				continue
			}
			out = append(out, model.AttendanceRecord{
				StudentID: st.ID,
				CourseID:  courseID,
				Date:      d,
				Status:    status,
			})
		}
	}
	return out
}
