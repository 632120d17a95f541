package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

type fakeAuth struct {
	mu         sync.Mutex
	userErr    error
	refreshErr error
	refreshed  *model.Session
	current    *model.Session
	listeners  []model.AuthListener
	userCalls  int
	refreshes  int
}

func (f *fakeAuth) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	f.userCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &model.User{ID: "u1", Email: "desk@example.com"}, nil
}

func (f *fakeAuth) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.current = f.refreshed
	return f.refreshed, nil
}

func (f *fakeAuth) SetSession(s *model.Session) { f.current = s }

func (f *fakeAuth) OnAuthStateChange(l model.AuthListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakeAuth) fire(event model.AuthEvent, s *model.Session) {
	f.mu.Lock()
	ls := append([]model.AuthListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		l(event, s)
	}
}

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func accessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func newManager(t *testing.T, auth Auth) (*Manager, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), utils.SessionFile)
	return NewManager(path, auth, logger, WithClock(func() time.Time { return now })), path
}

func TestRestoreMissingFile(t *testing.T) {
	auth := &fakeAuth{}
	m, _ := newManager(t, auth)

	assert.Nil(t, m.Restore(context.Background()))
	assert.Zero(t, auth.userCalls+auth.refreshes)
}

func TestRestoreUnparsableFile(t *testing.T) {
	auth := &fakeAuth{}
	m, path := newManager(t, auth)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))

	assert.Nil(t, m.Restore(context.Background()))
}

func TestRestoreValidAccessToken(t *testing.T) {
	auth := &fakeAuth{}
	m, path := newManager(t, auth)
	require.NoError(t, utils.WriteJSONAtomic(path, model.Session{
		AccessToken:  accessToken(t, now.Add(time.Hour)),
		RefreshToken: "rt",
	}))

	s := m.Restore(context.Background())
	require.NotNil(t, s)
	assert.Equal(t, "desk@example.com", s.User.Email)
	assert.Equal(t, 1, auth.userCalls)
	assert.Zero(t, auth.refreshes)
	assert.Same(t, s, auth.current)
	assert.Len(t, auth.listeners, 1, "restore registers the change listener")
}

func TestRestoreExpiredTokenRefreshes(t *testing.T) {
	fresh := &model.Session{AccessToken: "new-at", RefreshToken: "new-rt"}
	auth := &fakeAuth{refreshed: fresh}
	m, path := newManager(t, auth)
	require.NoError(t, utils.WriteJSONAtomic(path, model.Session{
		AccessToken:  accessToken(t, now.Add(-time.Hour)),
		RefreshToken: "rt",
	}))

	s := m.Restore(context.Background())
	require.NotNil(t, s)
	assert.Equal(t, "new-rt", s.RefreshToken)
	assert.Zero(t, auth.userCalls)

	var stored model.Session
	require.NoError(t, utils.ReadJSON(path, &stored))
	assert.Equal(t, "new-rt", stored.RefreshToken)
}

func TestRestoreInvalidRefreshTokenDeletesFile(t *testing.T) {
	auth := &fakeAuth{refreshErr: model.NewError(model.ErrAuth, "Invalid Refresh Token: Already Used")}
	m, path := newManager(t, auth)
	require.NoError(t, utils.WriteJSONAtomic(path, model.Session{
		AccessToken:  accessToken(t, now.Add(-time.Hour)),
		RefreshToken: "used",
	}))

	assert.Nil(t, m.Restore(context.Background()))
	assert.NoFileExists(t, path)
	assert.Empty(t, auth.listeners)
}

func TestRestoreNetworkFailureKeepsFile(t *testing.T) {
	auth := &fakeAuth{refreshErr: errors.New("dial tcp: connection refused")}
	m, path := newManager(t, auth)
	require.NoError(t, utils.WriteJSONAtomic(path, model.Session{RefreshToken: "rt"}))

	assert.Nil(t, m.Restore(context.Background()))
	assert.FileExists(t, path)
}

func TestSaveNilTwice(t *testing.T) {
	m, path := newManager(t, &fakeAuth{})
	require.NoError(t, m.Save(&model.Session{AccessToken: "at", RefreshToken: "rt"}))
	require.FileExists(t, path)

	assert.NoError(t, m.Save(nil))
	assert.NoError(t, m.Save(nil))
	assert.NoFileExists(t, path)
}

func TestListenerMirrorsAuthEvents(t *testing.T) {
	auth := &fakeAuth{}
	m, path := newManager(t, auth)
	m.Listen()
	m.Listen()
	require.Len(t, auth.listeners, 1)

	auth.fire(model.AuthEventSignedIn, &model.Session{AccessToken: "a1", RefreshToken: "r1"})
	var stored model.Session
	require.NoError(t, utils.ReadJSON(path, &stored))
	assert.Equal(t, "r1", stored.RefreshToken)

	auth.fire(model.AuthEventTokenRefreshed, &model.Session{AccessToken: "a2", RefreshToken: "r2"})
	require.NoError(t, utils.ReadJSON(path, &stored))
	assert.Equal(t, "r2", stored.RefreshToken)

	auth.fire(model.AuthEventSignedOut, nil)
	assert.NoFileExists(t, path)

	m.Close()
	assert.Empty(t, auth.listeners)
}
