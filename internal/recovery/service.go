package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/model"
)

// ErrWorkflowNotFound is returned for unknown or foreign workflow ids.
var ErrWorkflowNotFound = errors.New("recovery workflow not found")

// SourceAPI loads recovery candidates.
type SourceAPI interface {
	StudentIDForUser(ctx context.Context, userID string) (string, error)
	ResolveUnknownFaces(ctx context.Context, studentID string, threshold float64) (model.RecoveryData, error)
}

// MatchAPI matches a freshly captured photo.
type MatchAPI interface {
	MatchFace(ctx context.Context, photo apiclient.FormFile) ([]model.FaceMatch, error)
}

// Service starts recovery workflows for authenticated students.
type Service struct {
	threshold float64
	log       *zap.Logger
}

func NewService(threshold float64, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{threshold: threshold, log: log}
}

// Start resolves the user's student id and loads the candidate matches. The
// returned workflow is in CourseSelection, or Failed together with the error.
func (s *Service) Start(ctx context.Context, api SourceAPI, userID string) (*Workflow, error) {
	wf := NewWorkflow()
	data, err := s.load(ctx, api, userID)
	if err != nil {
		s.log.Error("recovery load failed", zap.String("user_id", userID), zap.Error(err))
		wf.LoadFailed(err)
		return wf, err
	}
	if err := wf.Loaded(data); err != nil {
		return wf, err
	}
	s.log.Info("recovery started",
		zap.String("student_id", data.StudentID),
		zap.Int("courses", len(data.DetectedCourses)),
		zap.Int("matches", len(data.Matches)))
	return wf, nil
}

func (s *Service) load(ctx context.Context, api SourceAPI, userID string) (model.RecoveryData, error) {
	studentID, err := api.StudentIDForUser(ctx, userID)
	if err != nil {
		return model.RecoveryData{}, fmt.Errorf("resolve student id: %w", err)
	}
	data, err := api.ResolveUnknownFaces(ctx, studentID, s.threshold)
	if err != nil {
		return model.RecoveryData{}, fmt.Errorf("load unknown faces: %w", err)
	}
	if data.StudentID == "" {
		data.StudentID = studentID
	}
	return data, nil
}

// MatchPhoto returns the candidates matching one photo.
func (s *Service) MatchPhoto(ctx context.Context, api MatchAPI, photo apiclient.FormFile) ([]model.FaceMatch, error) {
	matches, err := api.MatchFace(ctx, photo)
	if err != nil {
		return nil, fmt.Errorf("match photo: %w", err)
	}
	return matches, nil
}

// ImageURL maps a backend capture path onto the public captures route.
// Absolute URLs and paths outside the captures tree are returned unchanged.
func ImageURL(base, path string) string {
	if path == "" || strings.HasPrefix(path, "http") {
		return path
	}
	normalized := strings.ReplaceAll(path, `\`, "/")
	i := strings.LastIndex(normalized, "captures")
	if i < 0 {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + normalized[i:]
}

// WithImageURLs rewrites every match's image path through ImageURL.
func WithImageURLs(base string, groups []Group) []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		matches := make([]model.FaceMatch, len(g.Matches))
		for j, m := range g.Matches {
			m.ImagePath = ImageURL(base, m.ImagePath)
			matches[j] = m
		}
		g.Matches = matches
		out[i] = g
	}
	return out
}

type entry struct {
	mu      sync.Mutex
	owner   string
	wf      *Workflow
	touched time.Time
}

// Registry holds the live workflows of the portal, each owned by one session.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxIdle time.Duration
	now     func() time.Time
}

// NewRegistry drops workflows left idle longer than maxIdle.
func NewRegistry(maxIdle time.Duration) *Registry {
	return &Registry{entries: make(map[string]*entry), maxIdle: maxIdle, now: time.Now}
}

// Add stores wf for owner and returns its id.
func (r *Registry) Add(owner string, wf *Workflow) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.entries[id] = &entry{owner: owner, wf: wf, touched: r.now()}
	return id
}

// With runs fn on the workflow while holding its lock. Only the owner
// sees the workflow.
func (r *Registry) With(id, owner string, fn func(*Workflow) error) error {
	r.mu.Lock()
	r.pruneLocked()
	e, ok := r.entries[id]
	if ok {
		e.touched = r.now()
	}
	r.mu.Unlock()
	if !ok || e.owner != owner {
		return ErrWorkflowNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.wf)
}

// Remove discards a workflow.
func (r *Registry) Remove(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	e, ok := r.entries[id]
	if !ok || e.owner != owner {
		return ErrWorkflowNotFound
	}
	delete(r.entries, id)
	return nil
}

// Prune drops idle workflows. It runs as a periodic job next to the
// pruning Add, With and Remove already do.
func (r *Registry) Prune(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return nil
}

// Len returns the number of live workflows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// pruneLocked skips workflows that are in use or submitting; a batch may
// outlive maxIdle.
func (r *Registry) pruneLocked() {
	if r.maxIdle <= 0 {
		return
	}
	cutoff := r.now().Add(-r.maxIdle)
	for id, e := range r.entries {
		if !e.touched.Before(cutoff) || !e.mu.TryLock() {
			continue
		}
		if e.wf.State() != StateSubmitting {
			delete(r.entries, id)
		}
		e.mu.Unlock()
	}
}
