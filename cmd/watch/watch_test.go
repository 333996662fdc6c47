package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attendanceportal/internal/config"
	"attendanceportal/internal/model"
)

type fakeBackend struct {
	mu       sync.Mutex
	searches int
	started  []string
	password string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) { _ = json.NewEncoder(w).Encode(v) }
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Password string }
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.password = in.Password
		f.mu.Unlock()
		reply(w, map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /auth/profile", func(w http.ResponseWriter, r *http.Request) {
		reply(w, model.Profile{ID: "u1", Role: model.RoleTeacher})
	})
	mux.HandleFunc("GET /courses/CS101", func(w http.ResponseWriter, r *http.Request) {
		reply(w, model.Course{ID: "c1", Code: "CS101", Schedules: []model.Schedule{
			{ID: "mon", DayOfWeek: 1, StartTime: "08:00", EndTime: "10:00"},
		}})
	})
	mux.HandleFunc("GET /students", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []model.Student{{ID: "s1", CUI: "1", LastName: "Quispe"}})
	})
	mux.HandleFunc("GET /enrollments", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []model.Enrollment{{StudentID: "s1", CourseID: "c1"}})
	})
	mux.HandleFunc("POST /attendance/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.searches++
		f.mu.Unlock()
		reply(w, []model.AttendanceRecord{})
	})
	mux.HandleFunc("POST /schedules/{id}/start-attendance", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.started = append(f.started, r.PathValue("id"))
		f.mu.Unlock()
		reply(w, map[string]string{"status": "started"})
	})
	return mux
}

func newWatcher(t *testing.T, backend *fakeBackend) (*watcher, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	out := &bytes.Buffer{}
	return &watcher{
		cfg: config.App{
			BackendURL:    srv.URL,
			HTTPTimeout:   time.Second,
			SessionTTL:    time.Hour,
			PollInterval:  10 * time.Millisecond,
			SemesterStart: "2025-09-01",
			SemesterEnd:   "2025-09-30",
		},
		log: zap.NewNop(),
		out: out,
		now: func() time.Time { return time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC) },
	}, out
}

func TestWatchUsage(t *testing.T) {
	w, _ := newWatcher(t, &fakeBackend{})
	cases := []struct {
		name string
		args []string
	}{
		{"no flags", nil},
		{"missing course", []string{"-email", "t@uni.pe"}},
		{"unknown flag", []string{"-lol"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, w.run(context.Background(), tc.args), errHelp)
		})
	}
}

func TestWatchPollsAndStartsOnce(t *testing.T) {
	backend := &fakeBackend{}
	w, out := newWatcher(t, backend)
	readPasswordFunc = func(int) ([]byte, error) { return []byte("secret"), nil }
	t.Setenv("WATCH_PASSWORD", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx, []string{"-email", "t@uni.pe", "-course", "CS101", "-start"}) }()

	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.searches >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "secret", backend.password)
	assert.Equal(t, []string{"mon"}, backend.started, "one capture per schedule and day")
	assert.Contains(t, out.String(), "Enter password:")
}
