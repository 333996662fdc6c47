package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return tok
}

type fakeAPI struct {
	token        string
	profileCode  atomic.Int32
	profileCalls atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		_, _ = w.Write([]byte(`{"token":"` + f.token + `"}`))
	case "/auth/profile":
		f.profileCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if code := f.profileCode.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"t@unsa.edu.pe","role":"teacher","first_name":"Rosa","last_name":"Diaz"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setup(t *testing.T, api *fakeAPI) (*Manager, *MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	store := NewMemoryStore()
	return NewManager(apiclient.New(srv.URL, 5*time.Second), store, time.Hour, zap.NewNop()), store
}

func TestLoginRestoreLogout(t *testing.T) {
	api := &fakeAPI{token: "opaque-token"}
	m, _ := setup(t, api)
	ctx := context.Background()

	s, err := m.Login(ctx, "t@unsa.edu.pe", "pw")
	require.NoError(t, err)
	assert.Equal(t, "teacher", s.Profile.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)

	restored, err := m.Restore(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Token, restored.Token)
	assert.Equal(t, "opaque-token", restored.Client().Token)

	require.NoError(t, m.Logout(ctx, s.ID))
	_, err = m.Restore(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoginUsesTokenExpiry(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	api := &fakeAPI{token: signedToken(t, exp)}
	m, _ := setup(t, api)

	s, err := m.Login(context.Background(), "t@unsa.edu.pe", "pw")
	require.NoError(t, err)
	assert.True(t, s.ExpiresAt.Equal(exp), "expiry %v should follow token exp %v", s.ExpiresAt, exp)
}

func TestRestoreExpired(t *testing.T) {
	api := &fakeAPI{token: "opaque-token"}
	m, _ := setup(t, api)
	ctx := context.Background()

	s, err := m.Login(ctx, "t@unsa.edu.pe", "pw")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Restore(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRefreshEndsRejectedSession(t *testing.T) {
	api := &fakeAPI{token: "opaque-token"}
	m, store := setup(t, api)
	ctx := context.Background()

	s, err := m.Login(ctx, "t@unsa.edu.pe", "pw")
	require.NoError(t, err)

	refreshed, err := m.Refresh(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rosa", refreshed.Profile.FirstName)

	api.profileCode.Store(http.StatusUnauthorized)
	_, err = m.Refresh(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = store.Load(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreStaysLocal(t *testing.T) {
	api := &fakeAPI{token: "opaque-token"}
	m, store := setup(t, api)
	ctx := context.Background()

	s, err := m.Login(ctx, "t@unsa.edu.pe", "pw")
	require.NoError(t, err)
	calls := api.profileCalls.Load()

	api.profileCode.Store(http.StatusUnauthorized)
	restored, err := m.Restore(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rosa", restored.Profile.FirstName)
	assert.Equal(t, calls, api.profileCalls.Load(), "restore reads the store only")

	api.profileCode.Store(http.StatusBadGateway)
	_, err = m.Refresh(ctx, s.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired)
	_, err = store.Load(ctx, s.ID)
	assert.NoError(t, err, "only a rejected token ends the session")
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "a", Record{Token: "t", ExpiresAt: time.Now().Add(time.Minute)}))

	_, err := store.Load(ctx, "a")
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
