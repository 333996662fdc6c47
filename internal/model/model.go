package model

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Attendance status values as stored by the attendance API.
const (
	StatusPresent    = "presente"
	StatusLate       = "tarde"
	StatusAbsent     = "ausente"
	StatusUnrecorded = ""
)

// Roles carried by a user profile.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
)

// Schedule is one weekly recurring time slot of a course.
type Schedule struct {
	ID        string `json:"id" validate:"required"`
	CourseID  string `json:"course_id,omitempty"`
	DayOfWeek int    `json:"day_of_week" validate:"min=1,max=7"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Location  string `json:"location,omitempty"`
}

// Course is a course with its value-owned schedules.
type Course struct {
	ID        string     `json:"id" validate:"required"`
	Title     string     `json:"course_name"`
	Code      string     `json:"course_code" validate:"required"`
	Semester  string     `json:"semester,omitempty"`
	Schedules []Schedule `json:"schedules" validate:"dive"`
}

// Student is a registered student as exposed by the API.
type Student struct {
	ID                 string `json:"id" validate:"required"`
	CUI                string `json:"cui"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	FilepathEmbeddings string `json:"filepath_embeddings,omitempty"`
}

// FullName renders "Last, First" the way rosters list students.
func (s Student) FullName() string {
	switch {
	case s.LastName == "":
		return s.FirstName
	case s.FirstName == "":
		return s.LastName
	}
	return s.LastName + ", " + s.FirstName
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID        string `json:"id,omitempty"`
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// AttendanceRecord is one recorded status for a student on a date.
type AttendanceRecord struct {
	ID          string `json:"id,omitempty"`
	StudentID   string `json:"student_id" validate:"required"`
	CourseID    string `json:"course_id" validate:"required"`
	Date        string `json:"attendance_date" validate:"required"`
	Status      string `json:"status" validate:"required,oneof=presente tarde ausente"`
	CheckInTime string `json:"check_in_time,omitempty"`
}

// Profile is the authenticated user's identity.
type Profile struct {
	ID        string `json:"id" validate:"required"`
	Email     string `json:"email"`
	Role      string `json:"role" validate:"oneof=student teacher"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CUI       string `json:"cui,omitempty"`
}

// IsStudent reports whether the profile belongs to a student.
func (p Profile) IsStudent() bool { return p.Role == RoleStudent }

// DetectedCourse is a course with pending unresolved face detections.
type DetectedCourse struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"course_name"`
	Code     string `json:"course_code"`
	Semester string `json:"semester"`
}

// FaceMatch is a candidate correspondence between the student and a face
// captured during a class session.
type FaceMatch struct {
	ID         int64   `json:"id"`
	CourseID   string  `json:"course_id" validate:"required"`
	CourseName string  `json:"course_name"`
	ScheduleID string  `json:"schedule_id" validate:"required"`
	DetectedAt string  `json:"detected_at" validate:"required"`
	ImagePath  string  `json:"image_path"`
	Similarity float64 `json:"similarity" validate:"min=0,max=1"`
	Resolved   bool    `json:"resolved"`
	StudentID  *string `json:"student_id"`
}

// DetectedDate returns the calendar date part of DetectedAt.
func (m FaceMatch) DetectedDate() string {
	date, _ := m.splitDetectedAt()
	return date
}

// DetectedTime returns the time-of-day part of DetectedAt without
// fractional seconds.
func (m FaceMatch) DetectedTime() string {
	_, clock := m.splitDetectedAt()
	return clock
}

func (m FaceMatch) splitDetectedAt() (string, string) {
	date, rest, found := strings.Cut(m.DetectedAt, "T")
	if !found {
		date, rest, _ = strings.Cut(m.DetectedAt, " ")
	}
	if i := strings.IndexAny(rest, ".Z+-"); i >= 0 {
		rest = rest[:i]
	}
	return date, rest
}

// RecoveryData is the payload returned when resolving unknown faces for a student.
type RecoveryData struct {
	Status               string           `json:"status"`
	StudentID            string           `json:"student_id" validate:"required"`
	Threshold            float64          `json:"threshold"`
	DetectedCourses      []DetectedCourse `json:"detected_courses" validate:"dive"`
	DetectedCoursesCount int              `json:"detected_courses_count"`
	MatchedCount         int              `json:"matched_count"`
	Matches              []FaceMatch      `json:"matches" validate:"dive"`
}

var validate = validator.New()

// Validate checks a decoded API payload against its struct tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// ValidateAll checks every element of a decoded slice.
func ValidateAll[T any](items []T) error {
	for i := range items {
		if err := validate.Struct(items[i]); err != nil {
			return fmt.Errorf("invalid payload at index %d: %w", i, err)
		}
	}
	return nil
}
