package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"attendanceportal/internal/model"
)

// ManualAttendance records a student present at a schedule on a given date and time.
type ManualAttendance struct {
	StudentID  string `json:"student_id"`
	ScheduleID string `json:"schedule_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// Course fetches a course and its schedules by human-readable code.
func (c *Client) Course(ctx context.Context, code string) (model.Course, error) {
	var course model.Course
	if err := c.doJSON(ctx, http.MethodGet, "/courses/"+url.PathEscape(code), "courses.get", nil, &course); err != nil {
		return model.Course{}, err
	}
	return course, model.Validate(course)
}

// Students returns the full student roster.
func (c *Client) Students(ctx context.Context) ([]model.Student, error) {
	var students []model.Student
	if err := c.doJSON(ctx, http.MethodGet, "/students", "students.list", nil, &students); err != nil {
		return nil, err
	}
	return students, model.ValidateAll(students)
}

// Enrollments returns every enrollment across courses.
func (c *Client) Enrollments(ctx context.Context) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	if err := c.doJSON(ctx, http.MethodGet, "/enrollments", "enrollments.list", nil, &enrollments); err != nil {
		return nil, err
	}
	return enrollments, model.ValidateAll(enrollments)
}

// Enroll enrolls a student in a course. The API answers 409 when already enrolled.
func (c *Client) Enroll(ctx context.Context, studentID, courseID string) error {
	in := model.Enrollment{StudentID: studentID, CourseID: courseID}
	return c.doJSON(ctx, http.MethodPost, "/enrollments", "enrollments.create", in, nil)
}

// SearchAttendance returns the attendance records of a course.
func (c *Client) SearchAttendance(ctx context.Context, courseID string) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	in := map[string]string{"course_id": courseID}
	if err := c.doJSON(ctx, http.MethodPost, "/attendance/search", "attendance.search", in, &records); err != nil {
		return nil, err
	}
	return records, model.ValidateAll(records)
}

// MarkManualAttendance records one attendance. The API answers 409 on duplicates.
func (c *Client) MarkManualAttendance(ctx context.Context, in ManualAttendance) error {
	return c.doJSON(ctx, http.MethodPost, "/attendance/manual", "attendance.manual", in, nil)
}

// BatchAttendance upserts many records at once.
func (c *Client) BatchAttendance(ctx context.Context, records []model.AttendanceRecord) error {
	in := map[string][]model.AttendanceRecord{"records": records}
	return c.doJSON(ctx, http.MethodPost, "/attendance/batch", "attendance.batch", in, nil)
}

// StartAttendance triggers a live capture session for a schedule.
func (c *Client) StartAttendance(ctx context.Context, scheduleID string) error {
	path := "/schedules/" + url.PathEscape(scheduleID) + "/start-attendance"
	return c.doJSON(ctx, http.MethodPost, path, "schedules.start_attendance", nil, nil)
}
