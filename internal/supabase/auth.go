package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

// --- Auth (GoTrue) ---

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", nil, body, &session); err != nil {
		return nil, authErr(err)
	}
	c.stampExpiry(&session)
	c.install(&session)

	c.logger.WithField("user", userEmail(&session)).Info("Signed in")
	c.emit(model.AuthEventSignedIn, &session)
	return &session, nil
}

// RefreshSession exchanges a refresh token for a new session and makes it
// current.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, model.NewError(model.ErrAuth, "missing refresh token")
	}
	body := map[string]string{"refresh_token": refreshToken}

	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", nil, body, &session); err != nil {
		return nil, authErr(err)
	}
	c.stampExpiry(&session)
	c.install(&session)

	c.logger.WithField("expires_at", session.Expiry().Format(time.RFC3339)).Info("Session refreshed")
	c.emit(model.AuthEventTokenRefreshed, &session)
	return &session, nil
}

// GetUser validates an access token and returns its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", bearer(accessToken), nil, &user); err != nil {
		return nil, authErr(err)
	}
	return &user, nil
}

// SetSession makes an already validated session current without emitting an
// event.
func (c *Client) SetSession(session *model.Session) {
	c.install(session)
}

// SignOut revokes the session remotely and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	var remoteErr error
	if session != nil {
		err := c.do(ctx, http.MethodPost, "/auth/v1/logout", bearer(session.AccessToken), nil, nil)
		var statusErr *StatusError
		if err != nil && !(errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusNotFound)) {
			remoteErr = authErr(err)
		}
	}

	c.install(nil)
	c.logger.Info("Signed out")
	c.emit(model.AuthEventSignedOut, nil)
	return remoteErr
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// OnAuthStateChange registers l and returns a function that removes it.
func (c *Client) OnAuthStateChange(l model.AuthListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// StartAutoRefresh refreshes the current session shortly before it expires
// until ctx is done. A rejected refresh signs the session out.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refreshIfDue(ctx)
			}
		}
	}()
}

func (c *Client) refreshIfDue(ctx context.Context) {
	session := c.Session()
	if session == nil || session.ExpiresAt == 0 {
		return
	}
	if session.Expiry().Sub(c.now()) > c.refreshMargin {
		return
	}

	_, err := c.RefreshSession(ctx, session.RefreshToken)
	if err == nil {
		return
	}
	if errors.Is(err, model.ErrAuth) {
		c.logger.WithError(err).Warn("Session refresh rejected, signing out")
		c.install(nil)
		c.emit(model.AuthEventSignedOut, nil)
		return
	}
	c.logger.WithError(err).Warn("Session refresh failed, will retry")
}

func (c *Client) install(session *model.Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

func (c *Client) emit(event model.AuthEvent, session *model.Session) {
	c.mu.RLock()
	listeners := make([]model.AuthListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()

	for _, l := range listeners {
		l(event, session)
	}
}

func (c *Client) stampExpiry(session *model.Session) {
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = c.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
	}
}

// authErr classifies err: backend rejections become ErrAuth with the
// backend's message, everything else stays a transport error.
func authErr(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %s", model.ErrTransport, statusErr.Message)
		}
		return model.NewError(model.ErrAuth, statusErr.Message)
	}
	return err
}

func userEmail(s *model.Session) string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.Email
}
