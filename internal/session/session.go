package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/model"
)

// ErrExpired is returned when the stored API token is past its expiry.
var ErrExpired = errors.New("session expired")

// Session is the authenticated identity handed to every component that
// needs to talk to the attendance API.
type Session struct {
	ID        string
	Token     string
	Profile   model.Profile
	ExpiresAt time.Time
	api       *apiclient.Client
}

// Client returns an API client authenticated as this session.
func (s *Session) Client() *apiclient.Client {
	return s.api.WithToken(s.Token)
}

// Manager creates, restores and ends sessions.
type Manager struct {
	api   *apiclient.Client
	store Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewManager wires a manager to the attendance API and a session store.
func NewManager(api *apiclient.Client, store Store, ttl time.Duration, log *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{api: api, store: store, ttl: ttl, log: log, now: time.Now}
}

// Login authenticates against the API, loads the profile and persists a new session.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	token, err := m.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	profile, err := m.api.WithToken(token).Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	rec := Record{Token: token, Profile: profile, ExpiresAt: m.expiry(token)}
	id := uuid.NewString()
	if err := m.store.Save(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.log.Info("session started", zap.String("user_id", profile.ID), zap.String("role", profile.Role))
	return m.session(id, rec), nil
}

// Register creates an account; the caller logs in afterwards.
func (m *Manager) Register(ctx context.Context, req apiclient.RegisterRequest) error {
	return m.api.Register(ctx, req)
}

// Restore returns the session stored under id. It only reads the store;
// Refresh is the call that checks the token with the API.
func (m *Manager) Restore(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.IsZero() && m.now().After(rec.ExpiresAt) {
		_ = m.store.Delete(ctx, id)
		return nil, ErrExpired
	}
	return m.session(id, rec), nil
}

// Refresh re-fetches the profile behind a session. A token the API no longer
// accepts ends the session.
func (m *Manager) Refresh(ctx context.Context, id string) (*Session, error) {
	s, err := m.Restore(ctx, id)
	if err != nil {
		return nil, err
	}
	profile, err := s.Client().Profile(ctx)
	if err != nil {
		if apiclient.IsUnauthorized(err) {
			m.log.Warn("token rejected, ending session", zap.String("user_id", s.Profile.ID))
			_ = m.store.Delete(ctx, id)
			return nil, ErrExpired
		}
		return nil, err
	}
	s.Profile = profile
	rec := Record{Token: s.Token, Profile: profile, ExpiresAt: s.ExpiresAt}
	if err := m.store.Save(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// Logout ends the session stored under id.
func (m *Manager) Logout(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) session(id string, rec Record) *Session {
	return &Session{ID: id, Token: rec.Token, Profile: rec.Profile, ExpiresAt: rec.ExpiresAt, api: m.api}
}

// expiry is the earlier of the session TTL and the token's own exp claim.
func (m *Manager) expiry(token string) time.Time {
	exp := m.now().Add(m.ttl)
	if tokenExp, ok := TokenExpiry(token); ok && tokenExp.Before(exp) {
		return tokenExp
	}
	return exp
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature;
// the API remains the authority on validity. Opaque tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
