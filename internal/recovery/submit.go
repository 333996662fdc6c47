package recovery

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/metrics"
	"attendanceportal/internal/model"
)

// Step outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// API is the set of write calls a submission issues.
type API interface {
	Enroll(ctx context.Context, studentID, courseID string) error
	MarkManualAttendance(ctx context.Context, in apiclient.ManualAttendance) error
	FinishResolve(ctx context.Context, matchID int64) error
}

// ItemOutcome is the result of recording one selected match.
type ItemOutcome struct {
	MatchID    int64  `json:"match_id"`
	CourseID   string `json:"course_id"`
	Date       string `json:"date"`
	Enrollment string `json:"enrollment"`
	Attendance string `json:"attendance"`
	Resolve    string `json:"resolve"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the match ended up recorded and resolved.
func (o ItemOutcome) OK() bool {
	return o.Enrollment != OutcomeError &&
		(o.Attendance == OutcomeOK || o.Attendance == OutcomeConflict) &&
		(o.Resolve == OutcomeOK || o.Resolve == OutcomeConflict)
}

// Report summarizes a submission. Processed counts attempted matches.
type Report struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Items     []ItemOutcome `json:"items"`
}

// Submitter records selected matches as attendance.
type Submitter struct {
	api     API
	log     *zap.Logger
	metrics *metrics.Recorder
	limit   int
}

// NewSubmitter returns a submitter issuing at most limit concurrent requests
// per stage. limit <= 0 means unbounded.
func NewSubmitter(api API, log *zap.Logger, rec *metrics.Recorder, limit int) *Submitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Submitter{api: api, log: log, metrics: rec, limit: limit}
}

// Submit enrolls the student in every distinct course, then records
// attendance and resolves each match. No item's failure stops another.
func (s *Submitter) Submit(ctx context.Context, studentID string, matches []model.FaceMatch) Report {
	enrollment := s.enroll(ctx, studentID, matches)

	items := make([]ItemOutcome, len(matches))
	g := s.group()
	for i, m := range matches {
		i, m := i, m
		g.Go(func() error {
			items[i] = s.record(ctx, studentID, m, enrollment[m.CourseID])
			return nil
		})
	}
	_ = g.Wait()

	r := Report{Processed: len(matches), Items: items}
	for _, it := range items {
		if it.OK() {
			r.Succeeded++
		}
	}
	s.log.Info("recovery submitted",
		zap.String("student_id", studentID),
		zap.Int("processed", r.Processed),
		zap.Int("succeeded", r.Succeeded))
	return r
}

func (s *Submitter) group() *errgroup.Group {
	g := new(errgroup.Group)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	return g
}

func (s *Submitter) enroll(ctx context.Context, studentID string, matches []model.FaceMatch) map[string]string {
	var courses []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.CourseID] {
			seen[m.CourseID] = true
			courses = append(courses, m.CourseID)
		}
	}

	outcomes := make([]string, len(courses))
	g := s.group()
	for i, courseID := range courses {
		i, courseID := i, courseID
		g.Go(func() error {
			err := s.api.Enroll(ctx, studentID, courseID)
			outcomes[i] = s.classify("enroll", err)
			if outcomes[i] == OutcomeError {
				s.log.Warn("recovery enrollment failed",
					zap.String("course_id", courseID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(courses))
	for i, c := range courses {
		out[c] = outcomes[i]
	}
	return out
}

func (s *Submitter) record(ctx context.Context, studentID string, m model.FaceMatch, enrollment string) ItemOutcome {
	it := ItemOutcome{
		MatchID:    m.ID,
		CourseID:   m.CourseID,
		Date:       m.DetectedDate(),
		Enrollment: enrollment,
	}

	err := s.api.MarkManualAttendance(ctx, apiclient.ManualAttendance{
		StudentID:  studentID,
		ScheduleID: m.ScheduleID,
		Date:       m.DetectedDate(),
		Time:       m.DetectedTime(),
	})
	it.Attendance = s.classify("attendance", err)
	if it.Attendance == OutcomeError {
		it.Error = err.Error()
		s.log.Warn("recovery attendance failed",
			zap.Int64("match_id", m.ID), zap.String("schedule_id", m.ScheduleID), zap.Error(err))
	}

	err = s.api.FinishResolve(ctx, m.ID)
	it.Resolve = s.classify("resolve", err)
	if it.Resolve == OutcomeError {
		if it.Error == "" {
			it.Error = err.Error()
		}
		s.log.Warn("recovery resolve failed", zap.Int64("match_id", m.ID), zap.Error(err))
	}
	return it
}

func (s *Submitter) classify(step string, err error) string {
	outcome := OutcomeOK
	switch {
	case err == nil:
	case apiclient.IsConflict(err):
		outcome = OutcomeConflict
	default:
		outcome = OutcomeError
	}
	s.metrics.RecoveryStep(step, outcome)
	return outcome
}
