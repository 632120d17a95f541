// Package session keeps the on-disk copy of the auth session in step with
// the live credential held by the backend client.
package session

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
	"github.com/Riboost-Studio/order-print-desk/internal/utils"
)

// Auth is the part of the backend auth client the manager relies on.
type Auth interface {
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)
	SetSession(session *model.Session)
	OnAuthStateChange(l model.AuthListener) func()
}

type Manager struct {
	path   string
	auth   Auth
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	unlisten func()
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(path string, auth Auth, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		path:   path,
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads the stored session and validates it with the backend. It
// returns nil when there is nothing usable; a session the backend rejects is
// deleted from disk. Network failures keep the file for the next start.
func (m *Manager) Restore(ctx context.Context) *model.Session {
	var stored model.Session
	if err := utils.ReadJSON(m.path, &stored); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.WithError(err).WithField("path", m.path).Warn("Stored session unreadable")
		}
		return nil
	}
	if stored.RefreshToken == "" {
		m.logger.Warn("Stored session has no refresh token, discarding")
		m.discard()
		return nil
	}

	session, err := m.validate(ctx, &stored)
	if err != nil {
		if errors.Is(err, model.ErrAuth) {
			m.logger.WithError(err).Info("Stored session rejected, login required")
			m.discard()
		} else {
			m.logger.WithError(err).Warn("Could not validate stored session, login required")
		}
		return nil
	}

	m.Listen()
	if err := m.Save(session); err != nil {
		m.logger.WithError(err).Warn("Failed to persist restored session")
	}
	m.logger.WithField("user", email(session)).Info("Session restored")
	return session
}

func (m *Manager) validate(ctx context.Context, stored *model.Session) (*model.Session, error) {
	if !m.expired(stored) {
		user, err := m.auth.GetUser(ctx, stored.AccessToken)
		if err == nil {
			stored.User = user
			m.auth.SetSession(stored)
			return stored, nil
		}
		if !errors.Is(err, model.ErrAuth) {
			return nil, err
		}
	}
	return m.auth.RefreshSession(ctx, stored.RefreshToken)
}

// expired reports whether the access token is past (or within a minute of)
// its expiry. The token's own exp claim wins over the stored expires_at.
func (m *Manager) expired(s *model.Session) bool {
	expiry := s.Expiry()

	if s.AccessToken != "" {
		var claims jwt.RegisteredClaims
		if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
			expiry = claims.ExpiresAt.Time
		}
	}
	if expiry.IsZero() {
		return true
	}
	return !m.now().Add(time.Minute).Before(expiry)
}

// Save writes session to disk, or deletes the file when session is nil.
func (m *Manager) Save(session *model.Session) error {
	if session == nil {
		if err := utils.RemoveFile(m.path); err != nil {
			m.logger.WithError(err).WithField("path", m.path).Error("Failed to delete session file")
			return err
		}
		return nil
	}
	if err := utils.WriteJSONAtomic(m.path, session); err != nil {
		m.logger.WithError(err).WithField("path", m.path).Error("Failed to save session file")
		return err
	}
	return nil
}

// Listen subscribes to auth state changes so every sign-in, refresh and
// sign-out is mirrored to disk. Calling it again is a no-op.
func (m *Manager) Listen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlisten != nil {
		return
	}
	m.unlisten = m.auth.OnAuthStateChange(m.onChange)
}

func (m *Manager) onChange(event model.AuthEvent, session *model.Session) {
	m.logger.WithField("event", event).Debug("Auth state changed")
	switch event {
	case model.AuthEventSignedOut:
		_ = m.Save(nil)
	default:
		_ = m.Save(session)
	}
}

// Close stops listening for auth changes.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlisten != nil {
		m.unlisten()
		m.unlisten = nil
	}
}

func (m *Manager) discard() {
	_ = m.Save(nil)
}

func email(s *model.Session) string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.Email
}
