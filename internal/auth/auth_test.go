package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendanceportal/internal/model"
	"attendanceportal/internal/session"
)

const (
	testKey    = "test-key"
	testIssuer = "attendance-portal"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("sess-1", model.RoleStudent, testIssuer, testKey, time.Minute, time.Hour, time.Time{})
	require.NoError(t, err)

	claims, err := Parse(pair.AccessToken, testKey, testIssuer, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.Subject)
	assert.Equal(t, model.RoleStudent, claims.Role)

	_, err = Parse(pair.RefreshToken, testKey, testIssuer, KindAccess)
	assert.Error(t, err, "refresh token is not an access token")
	_, err = Parse(pair.RefreshToken, testKey, testIssuer, KindRefresh)
	assert.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer, KindAccess)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else", KindAccess)
	assert.Error(t, err)
}

func TestIssueCapsAtSessionExpiry(t *testing.T) {
	limit := time.Now().Add(10 * time.Minute)
	pair, err := Issue("sess-1", model.RoleTeacher, testIssuer, testKey, time.Hour, 24*time.Hour, limit)
	require.NoError(t, err)
	assert.Equal(t, limit, pair.AccessExp)
	assert.Equal(t, limit, pair.RefreshExp)
}

type fakeRestorer map[string]*session.Session

func (f fakeRestorer) Restore(_ context.Context, id string) (*session.Session, error) {
	if id == "broken" {
		return nil, errors.New("redis down")
	}
	s, ok := f[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s, nil
}

func router(sessions Restorer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionAuth(testKey, testIssuer, sessions))
	r.GET("/me", func(c *gin.Context) {
		c.Header("X-Session", c.GetString(SessionIDKey))
		c.String(http.StatusOK, CurrentSession(c).Profile.ID)
	})
	r.GET("/teachers", RequireRole(model.RoleTeacher), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(t *testing.T, r http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func access(t *testing.T, sessionID string) string {
	t.Helper()
	pair, err := Issue(sessionID, "", testIssuer, testKey, time.Minute, time.Minute, time.Time{})
	require.NoError(t, err)
	return pair.AccessToken
}

func TestSessionAuth(t *testing.T) {
	r := router(fakeRestorer{
		"s-student": {ID: "s-student", Profile: model.Profile{ID: "u1", Role: model.RoleStudent}},
		"s-teacher": {ID: "s-teacher", Profile: model.Profile{ID: "u2", Role: model.RoleTeacher}},
	})

	cases := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"no token", "/me", "", http.StatusUnauthorized},
		{"garbage token", "/me", "abc", http.StatusUnauthorized},
		{"unknown session", "/me", access(t, "gone"), http.StatusUnauthorized},
		{"store failure", "/me", access(t, "broken"), http.StatusServiceUnavailable},
		{"student", "/me", access(t, "s-student"), http.StatusOK},
		{"student on teacher route", "/teachers", access(t, "s-student"), http.StatusForbidden},
		{"teacher on teacher route", "/teachers", access(t, "s-teacher"), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(t, r, tc.path, tc.token)
			assert.Equal(t, tc.status, w.Code)
		})
	}

	w := get(t, r, "/me", access(t, "s-student"))
	assert.Equal(t, "u1", w.Body.String())
	assert.Equal(t, "s-student", w.Header().Get("X-Session"))
}
