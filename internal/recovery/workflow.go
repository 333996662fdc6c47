package recovery

import (
	"errors"
	"fmt"

	"attendanceportal/internal/model"
)

// State is a step of the recovery workflow.
type State string

const (
	StateCoursesLoading  State = "courses_loading"
	StateCourseSelection State = "course_selection"
	StateIdentification  State = "identification"
	StateSubmitting      State = "submitting"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

var (
	ErrNoCourseSelected = errors.New("select at least one course")
	ErrNoMatchSelected  = errors.New("select at least one face")
	ErrUnknownMatch     = errors.New("unknown face match")
	ErrUnknownCourse    = errors.New("unknown course")
)

// WrongStateError is returned when an action is not allowed in the current state.
type WrongStateError struct {
	Action string
	State  State
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.State)
}

// Group is one physical class session: the candidate faces detected for a
// schedule on one calendar date.
type Group struct {
	ScheduleID string            `json:"schedule_id"`
	Date       string            `json:"date"`
	CourseID   string            `json:"course_id"`
	CourseName string            `json:"course_name"`
	Matches    []model.FaceMatch `json:"matches"`
}

type groupKey struct{ schedule, date string }

func keyOf(m model.FaceMatch) groupKey {
	return groupKey{schedule: m.ScheduleID, date: m.DetectedDate()}
}

// Workflow holds the state of one student's recovery session. It performs no
// I/O and is not safe for concurrent use.
type Workflow struct {
	state     State
	studentID string
	threshold float64
	courses   []model.DetectedCourse
	matches   []model.FaceMatch
	loadErr   error
	report    *Report

	selectedCourses map[string]bool
	selectedMatches map[int64]bool
}

// NewWorkflow returns a workflow waiting for its candidate data.
func NewWorkflow() *Workflow {
	return &Workflow{
		state:           StateCoursesLoading,
		selectedCourses: make(map[string]bool),
		selectedMatches: make(map[int64]bool),
	}
}

func (w *Workflow) State() State       { return w.state }
func (w *Workflow) StudentID() string  { return w.studentID }
func (w *Workflow) Report() *Report    { return w.report }
func (w *Workflow) LoadError() error   { return w.loadErr }
func (w *Workflow) Threshold() float64 { return w.threshold }

func (w *Workflow) require(action string, s State) error {
	if w.state != s {
		return &WrongStateError{Action: action, State: w.state}
	}
	return nil
}

// Loaded stores the candidates returned by the backend and moves to course selection.
func (w *Workflow) Loaded(data model.RecoveryData) error {
	if err := w.require("load", StateCoursesLoading); err != nil {
		return err
	}
	w.studentID = data.StudentID
	w.threshold = data.Threshold
	w.courses = data.DetectedCourses
	w.matches = data.Matches
	w.state = StateCourseSelection
	return nil
}

// LoadFailed ends the workflow. A failed workflow cannot be retried.
func (w *Workflow) LoadFailed(err error) {
	w.loadErr = err
	w.state = StateFailed
}

// ToggleCourse adds or removes a course from the selection.
func (w *Workflow) ToggleCourse(courseID string) error {
	if err := w.require("select a course", StateCourseSelection); err != nil {
		return err
	}
	if !w.hasCourse(courseID) {
		return ErrUnknownCourse
	}
	if w.selectedCourses[courseID] {
		delete(w.selectedCourses, courseID)
	} else {
		w.selectedCourses[courseID] = true
	}
	return nil
}

func (w *Workflow) hasCourse(id string) bool {
	for _, c := range w.courses {
		if c.ID == id {
			return true
		}
	}
	for _, m := range w.matches {
		if m.CourseID == id {
			return true
		}
	}
	return false
}

// Continue moves to identification once at least one course is selected.
func (w *Workflow) Continue() error {
	if err := w.require("continue", StateCourseSelection); err != nil {
		return err
	}
	if len(w.selectedCourses) == 0 {
		return ErrNoCourseSelected
	}
	w.state = StateIdentification
	return nil
}

// Back returns to course selection. Both selection sets are kept.
func (w *Workflow) Back() error {
	if err := w.require("go back", StateIdentification); err != nil {
		return err
	}
	w.state = StateCourseSelection
	return nil
}

// Groups returns the matches of the selected courses grouped by schedule and
// detection date. Groups appear in order of their first match; matches keep
// input order.
func (w *Workflow) Groups() []Group {
	var groups []Group
	index := make(map[groupKey]int)
	for _, m := range w.matches {
		if !w.selectedCourses[m.CourseID] {
			continue
		}
		k := keyOf(m)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{
				ScheduleID: k.schedule,
				Date:       k.date,
				CourseID:   m.CourseID,
				CourseName: m.CourseName,
			})
		}
		groups[i].Matches = append(groups[i].Matches, m)
	}
	return groups
}

// ToggleMatch deselects a selected match, or selects it after clearing any
// other selected match of the same session.
func (w *Workflow) ToggleMatch(id int64) error {
	if err := w.require("select a face", StateIdentification); err != nil {
		return err
	}
	target, ok := w.visibleMatch(id)
	if !ok {
		return ErrUnknownMatch
	}
	if w.selectedMatches[id] {
		delete(w.selectedMatches, id)
		return nil
	}
	k := keyOf(target)
	for _, m := range w.matches {
		if w.selectedMatches[m.ID] && keyOf(m) == k {
			delete(w.selectedMatches, m.ID)
		}
	}
	w.selectedMatches[id] = true
	return nil
}

func (w *Workflow) visibleMatch(id int64) (model.FaceMatch, bool) {
	for _, m := range w.matches {
		if m.ID == id && w.selectedCourses[m.CourseID] {
			return m, true
		}
	}
	return model.FaceMatch{}, false
}

// Selected returns the selected matches that belong to selected courses, in input order.
func (w *Workflow) Selected() []model.FaceMatch {
	var out []model.FaceMatch
	for _, m := range w.matches {
		if w.selectedMatches[m.ID] && w.selectedCourses[m.CourseID] {
			out = append(out, m)
		}
	}
	return out
}

// BeginSubmit moves to submitting and returns the matches to record.
// Selections left behind in deselected courses are discarded.
func (w *Workflow) BeginSubmit() ([]model.FaceMatch, error) {
	if err := w.require("submit", StateIdentification); err != nil {
		return nil, err
	}
	selected := w.Selected()
	if len(selected) == 0 {
		return nil, ErrNoMatchSelected
	}
	w.selectedMatches = make(map[int64]bool, len(selected))
	for _, m := range selected {
		w.selectedMatches[m.ID] = true
	}
	w.state = StateSubmitting
	return selected, nil
}

// Finish records the submission report and ends the workflow.
func (w *Workflow) Finish(r Report) error {
	if err := w.require("finish", StateSubmitting); err != nil {
		return err
	}
	w.report = &r
	w.state = StateDone
	return nil
}

// Snapshot is the serializable view of a workflow.
type Snapshot struct {
	ID              string                 `json:"id,omitempty"`
	State           State                  `json:"state"`
	StudentID       string                 `json:"student_id,omitempty"`
	Courses         []model.DetectedCourse `json:"courses"`
	SelectedCourses []string               `json:"selected_courses"`
	Groups          []Group                `json:"groups,omitempty"`
	SelectedMatches []int64                `json:"selected_matches"`
	Error           string                 `json:"error,omitempty"`
	Report          *Report                `json:"report,omitempty"`
}

// Snapshot captures the current state. Groups are included while identifying.
func (w *Workflow) Snapshot() Snapshot {
	s := Snapshot{
		State:           w.state,
		StudentID:       w.studentID,
		Courses:         w.courses,
		SelectedCourses: []string{},
		SelectedMatches: []int64{},
		Report:          w.report,
	}
	for _, c := range w.courses {
		if w.selectedCourses[c.ID] {
			s.SelectedCourses = append(s.SelectedCourses, c.ID)
		}
	}
	for _, m := range w.matches {
		if w.selectedMatches[m.ID] {
			s.SelectedMatches = append(s.SelectedMatches, m.ID)
		}
	}
	if w.state == StateIdentification {
		s.Groups = w.Groups()
	}
	if w.loadErr != nil {
		s.Error = w.loadErr.Error()
	}
	return s
}
