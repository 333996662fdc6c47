package recovery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/metrics"
	"attendanceportal/internal/model"
)

type call struct {
	kind string
	key  string
}

type fakeWriter struct {
	mu         sync.Mutex
	calls      []call
	enrollErr  map[string]error
	attendErr  map[string]error
	resolveErr map[int64]error
}

func (f *fakeWriter) log(kind, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind, key})
}

func (f *fakeWriter) Enroll(_ context.Context, studentID, courseID string) error {
	f.log("enroll", studentID+"/"+courseID)
	return f.enrollErr[courseID]
}

func (f *fakeWriter) MarkManualAttendance(_ context.Context, in apiclient.ManualAttendance) error {
	f.log("attendance", in.ScheduleID+"@"+in.Date+" "+in.Time)
	return f.attendErr[in.ScheduleID]
}

func (f *fakeWriter) FinishResolve(_ context.Context, id int64) error {
	f.log("resolve", "")
	return f.resolveErr[id]
}

func (f *fakeWriter) count(kind string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func conflict() error { return &apiclient.APIError{Endpoint: "x", Status: http.StatusConflict} }

var submitted = []model.FaceMatch{
	{ID: 1, CourseID: "c1", ScheduleID: "s1", DetectedAt: "2025-11-30T05:12:25.617364"},
	{ID: 3, CourseID: "c1", ScheduleID: "s1b", DetectedAt: "2025-12-01T05:10:00"},
	{ID: 4, CourseID: "c2", ScheduleID: "s9", DetectedAt: "2025-11-30T09:00:00"},
}

func TestSubmitHappyPath(t *testing.T) {
	api := &fakeWriter{}
	r := NewSubmitter(api, zap.NewNop(), nil, 0).Submit(context.Background(), "stu-1", submitted)

	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 3, r.Succeeded)
	assert.Equal(t, 2, api.count("enroll"), "one enrollment per distinct course")
	assert.Equal(t, 3, api.count("attendance"))
	assert.Equal(t, 3, api.count("resolve"))
	assert.Contains(t, api.calls, call{"attendance", "s1@2025-11-30 05:12:25"})

	// every enrollment precedes every attendance call
	lastEnroll, firstAttend := -1, len(api.calls)
	for i, c := range api.calls {
		if c.kind == "enroll" {
			lastEnroll = i
		}
		if c.kind == "attendance" && i < firstAttend {
			firstAttend = i
		}
	}
	assert.Less(t, lastEnroll, firstAttend)
}

func TestSubmitConflictsAreBenign(t *testing.T) {
	api := &fakeWriter{
		enrollErr: map[string]error{"c1": conflict()},
		attendErr: map[string]error{"s1": conflict()},
	}
	r := NewSubmitter(api, zap.NewNop(), nil, 0).Submit(context.Background(), "stu-1", submitted)

	assert.Equal(t, 3, r.Succeeded)
	assert.Equal(t, OutcomeConflict, r.Items[0].Enrollment)
	assert.Equal(t, OutcomeConflict, r.Items[0].Attendance)
	assert.Empty(t, r.Items[0].Error)
}

func TestSubmitIsolatesFailures(t *testing.T) {
	api := &fakeWriter{
		enrollErr:  map[string]error{"c2": errors.New("enroll down")},
		attendErr:  map[string]error{"s1b": &apiclient.APIError{Endpoint: "attendance.manual", Status: 500}},
		resolveErr: map[int64]error{1: errors.New("resolve down")},
	}
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	r := NewSubmitter(api, zap.NewNop(), rec, 2).Submit(context.Background(), "stu-1", submitted)

	require.Len(t, r.Items, 3)
	assert.Equal(t, 3, r.Processed)
	assert.Equal(t, 0, r.Succeeded)

	assert.Equal(t, OutcomeOK, r.Items[0].Attendance)
	assert.Equal(t, OutcomeError, r.Items[0].Resolve)

	assert.Equal(t, OutcomeError, r.Items[1].Attendance)
	assert.Equal(t, OutcomeOK, r.Items[1].Resolve, "resolve runs even when attendance fails")

	assert.Equal(t, OutcomeError, r.Items[2].Enrollment)
	assert.Equal(t, OutcomeOK, r.Items[2].Attendance, "later stages still run for a failed enrollment")

	assert.Equal(t, 3, api.count("attendance"))
	assert.Equal(t, 3, api.count("resolve"))
	series, err := testutil.GatherAndCount(reg, "portal_recovery_items_total")
	require.NoError(t, err)
	assert.Equal(t, 6, series, "step x outcome label pairs")
}

func TestSubmitEmpty(t *testing.T) {
	r := NewSubmitter(&fakeWriter{}, nil, nil, 0).Submit(context.Background(), "stu-1", nil)
	assert.Equal(t, Report{Items: []ItemOutcome{}}, r)
}
