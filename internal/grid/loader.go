package grid

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendanceportal/internal/calendar"
	"attendanceportal/internal/model"
)

// ErrStudentNotFound is returned when no roster entry carries the requested CUI.
var ErrStudentNotFound = errors.New("student profile not found")

// API is the subset of the attendance API the loader reads from.
type API interface {
	Course(ctx context.Context, code string) (model.Course, error)
	Students(ctx context.Context) ([]model.Student, error)
	Enrollments(ctx context.Context) ([]model.Enrollment, error)
	SearchAttendance(ctx context.Context, courseID string) ([]model.AttendanceRecord, error)
}

// View is the teacher-side attendance sheet of one course.
type View struct {
	Course     model.Course    `json:"course"`
	Dates      []string        `json:"dates"`
	Students   []model.Student `json:"students"`
	Grid       Grid            `json:"grid"`
	Duplicates int             `json:"duplicates"`
}

// StudentView is one student's attendance in one course.
type StudentView struct {
	Course     model.Course          `json:"course"`
	Student    model.Student         `json:"student"`
	Attendance map[string]string     `json:"attendance"`
	Months     []calendar.MonthDates `json:"months"`
}

// Loader fetches and assembles attendance views for a semester window.
type Loader struct {
	semesterStart string
	semesterEnd   string
	log           *zap.Logger
}

// NewLoader creates a loader for the semester [start, end].
func NewLoader(start, end string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{semesterStart: start, semesterEnd: end, log: log}
}

// Load fetches the course, then roster, enrollments and records concurrently,
// and assembles the grid once all three have arrived.
func (l *Loader) Load(ctx context.Context, api API, code string, order Order) (View, error) {
	course, err := api.Course(ctx, code)
	if err != nil {
		return View{}, fmt.Errorf("load course %s: %w", code, err)
	}

	var (
		roster      []model.Student
		enrollments []model.Enrollment
		records     []model.AttendanceRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		roster, err = api.Students(gctx)
		return err
	})
	g.Go(func() (err error) {
		enrollments, err = api.Enrollments(gctx)
		return err
	})
	g.Go(func() (err error) {
		records, err = api.SearchAttendance(gctx, course.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, fmt.Errorf("load attendance for %s: %w", code, err)
	}

	dates, err := calendar.CourseDates(course, l.semesterStart, l.semesterEnd)
	if err != nil {
		return View{}, err
	}

	res := Assemble(course.ID, roster, enrollments, records, order)
	if res.Duplicates > 0 {
		l.log.Warn("duplicate attendance records",
			zap.String("course", course.Code), zap.Int("duplicates", res.Duplicates))
	}
	return View{
		Course:     course,
		Dates:      dates,
		Students:   res.Students,
		Grid:       res.Grid,
		Duplicates: res.Duplicates,
	}, nil
}

// LoadStudentView returns the attendance of the student identified by cui.
func (l *Loader) LoadStudentView(ctx context.Context, api API, code, cui string) (StudentView, error) {
	course, err := api.Course(ctx, code)
	if err != nil {
		return StudentView{}, fmt.Errorf("load course %s: %w", code, err)
	}

	var (
		roster  []model.Student
		records []model.AttendanceRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		roster, err = api.Students(gctx)
		return err
	})
	g.Go(func() (err error) {
		records, err = api.SearchAttendance(gctx, course.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return StudentView{}, fmt.Errorf("load attendance for %s: %w", code, err)
	}

	var me *model.Student
	for i := range roster {
		if roster[i].CUI == cui {
			me = &roster[i]
			break
		}
	}
	if me == nil {
		return StudentView{}, ErrStudentNotFound
	}

	attendance := make(map[string]string)
	for _, r := range records {
		if r.StudentID == me.ID {
			attendance[r.Date] = r.Status
		}
	}

	dates, err := calendar.CourseDates(course, l.semesterStart, l.semesterEnd)
	if err != nil {
		return StudentView{}, err
	}
	return StudentView{
		Course:     course,
		Student:    *me,
		Attendance: attendance,
		Months:     calendar.GroupByMonth(dates),
	}, nil
}
