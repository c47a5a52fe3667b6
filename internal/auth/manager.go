// Package auth owns the login session: it builds the login request,
// persists the result and decides whether a stored session is usable.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pders01/cspfeed/internal/api"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/storage"
)

var (
	ErrMissingAccount  = errors.New("please enter your account")
	ErrMissingPassword = errors.New("please enter your password")
	ErrNoToken         = errors.New("login response did not include a token")
	ErrSessionExpired  = errors.New("session token has expired")
	ErrNotLoggedIn     = errors.New("not logged in")
)

// Backend is the part of the API client the manager uses.
type Backend interface {
	Login(ctx context.Context, req api.LoginRequest) (*api.LoginResult, error)
}

// SessionStore persists the current session.
type SessionStore interface {
	SaveSession(*storage.Session) error
	GetSession() (*storage.Session, error)
	ClearSession() error
}

type Manager struct {
	backend Backend
	store   SessionStore
	now     func() time.Time

	mu      sync.RWMutex
	session *storage.Session
}

func NewManager(backend Backend, store SessionStore) *Manager {
	return &Manager{
		backend: backend,
		store:   store,
		now:     time.Now,
	}
}

// Login authenticates and stores the new session.
func (m *Manager) Login(ctx context.Context, account, password string) (*storage.Session, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, ErrMissingAccount
	}
	if strings.TrimSpace(password) == "" {
		return nil, ErrMissingPassword
	}

	encrypted, err := EncryptPassword(password)
	if err != nil {
		return nil, fmt.Errorf("encrypting password: %w", err)
	}

	result, err := m.backend.Login(ctx, api.LoginRequest{
		Account:   account,
		Password:  HashPassword(password),
		Password2: encrypted,
	})
	if err != nil {
		return nil, err
	}
	if result == nil || result.Token == "" {
		return nil, ErrNoToken
	}

	user := make(map[string]interface{}, len(result.User)+1)
	for k, v := range result.User {
		user[k] = v
	}
	user["token"] = result.Token

	session := &storage.Session{
		Token:     result.Token,
		Account:   account,
		User:      user,
		CreatedAt: m.now(),
	}
	if err := m.store.SaveSession(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	debuglog.WithFields(map[string]interface{}{"account": account}).Infof("login succeeded")
	return session, nil
}

// Restore loads the stored session. A session needs both a token and a
// user record; a user record without a token is repaired. Anything else,
// including a token whose JWT exp has passed, clears the store and
// returns false.
func (m *Manager) Restore() (*storage.Session, bool) {
	session, err := m.store.GetSession()
	if err != nil {
		if !errors.Is(err, storage.ErrNoSession) {
			debuglog.Warnf("reading stored session: %v", err)
		}
		m.clear()
		return nil, false
	}

	token := session.Token
	if token == "" {
		token = session.UserToken()
	}
	if token == "" || session.User == nil {
		debuglog.Infof("stored session incomplete, clearing")
		m.clear()
		return nil, false
	}

	if expired(token, m.now()) {
		debuglog.Infof("stored session token expired, clearing")
		m.clear()
		return nil, false
	}

	repaired := false
	if session.Token == "" {
		session.Token = token
		repaired = true
	}
	if session.UserToken() == "" {
		session.User["token"] = token
		repaired = true
	}
	if repaired {
		if err := m.store.SaveSession(session); err != nil {
			debuglog.Warnf("repairing session: %v", err)
		}
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	return session, true
}

// Logout forgets the session.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	if err := m.store.ClearSession(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Token returns the session token, falling back to the token stored on
// the user record.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	if m.session.Token != "" {
		return m.session.Token
	}
	return m.session.UserToken()
}

// Session returns the active session, or nil.
func (m *Manager) Session() *storage.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// UpdateUser merges fields into the session's user record and persists it.
// The token entry is never overwritten.
func (m *Manager) UpdateUser(fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNotLoggedIn
	}
	updated := *m.session
	updated.User = make(map[string]interface{}, len(m.session.User)+len(fields))
	for k, v := range m.session.User {
		updated.User[k] = v
	}
	for k, v := range fields {
		if k == "token" {
			continue
		}
		updated.User[k] = v
	}
	if err := m.store.SaveSession(&updated); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	m.session = &updated
	return nil
}

// HandleError clears the session when err means the backend no longer
// accepts it, and reports whether it did.
func (m *Manager) HandleError(err error) bool {
	if !errors.Is(err, api.ErrUnauthorized) {
		return false
	}
	debuglog.Warnf("backend rejected session: %v", err)
	if logoutErr := m.Logout(); logoutErr != nil {
		debuglog.Errorf("%v", logoutErr)
	}
	return true
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	if err := m.store.ClearSession(); err != nil {
		debuglog.Warnf("clearing session: %v", err)
	}
}

// expired reports whether token is a JWT with an exp claim in the past.
// Opaque tokens are never considered expired; the backend decides.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
