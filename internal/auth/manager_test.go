package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pders01/cspfeed/internal/api"
	"github.com/pders01/cspfeed/internal/storage"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Login(ctx context.Context, req api.LoginRequest) (*api.LoginResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*api.LoginResult)
	return result, args.Error(1)
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "system",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestManager_LoginValidatesInput(t *testing.T) {
	backend := new(MockBackend)
	m := NewManager(backend, newStore(t))

	_, err := m.Login(context.Background(), "  ", "pw")
	assert.ErrorIs(t, err, ErrMissingAccount)

	_, err = m.Login(context.Background(), "system", "   ")
	assert.ErrorIs(t, err, ErrMissingPassword)

	backend.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestManager_Login(t *testing.T) {
	backend := new(MockBackend)
	store := newStore(t)
	m := NewManager(backend, store)

	backend.On("Login", mock.Anything, api.LoginRequest{
		Account:   "system",
		Password:  "0192023a7bbd73250516f069df18b500",
		Password2: "djZk2UvGxBM6czf42+Dzgg==",
	}).Return(&api.LoginResult{
		Token: "tok-1",
		User:  map[string]interface{}{"f_RealName": "Admin"},
	}, nil).Once()

	session, err := m.Login(context.Background(), " system ", "admin123")
	require.NoError(t, err)
	backend.AssertExpectations(t)

	assert.Equal(t, "tok-1", session.Token)
	assert.Equal(t, "system", session.Account)
	assert.Equal(t, "tok-1", session.User["token"])
	assert.Equal(t, "Admin", session.User["f_RealName"])
	assert.Equal(t, "tok-1", m.Token())

	stored, err := store.GetSession()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored.UserToken())
}

func TestManager_LoginWithoutToken(t *testing.T) {
	backend := new(MockBackend)
	store := newStore(t)
	m := NewManager(backend, store)

	backend.On("Login", mock.Anything, mock.Anything).Return(&api.LoginResult{}, nil)

	_, err := m.Login(context.Background(), "system", "pw")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = store.GetSession()
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

func TestManager_LoginBackendError(t *testing.T) {
	backend := new(MockBackend)
	m := NewManager(backend, newStore(t))

	backendErr := &api.APIError{Status: 200, Code: 500, Info: "账号或密码错误"}
	backend.On("Login", mock.Anything, mock.Anything).Return(nil, backendErr)

	_, err := m.Login(context.Background(), "system", "wrong")
	assert.ErrorIs(t, err, backendErr)
	assert.Empty(t, m.Token())
}

func TestManager_Restore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		session   *storage.Session
		wantOK    bool
		wantToken string
	}{
		{
			name:   "nothing stored",
			wantOK: false,
		},
		{
			name:      "opaque token with user",
			session:   &storage.Session{Token: "opaque", User: map[string]interface{}{"token": "opaque"}},
			wantOK:    true,
			wantToken: "opaque",
		},
		{
			name:      "user missing token is repaired",
			session:   &storage.Session{Token: "opaque", User: map[string]interface{}{"f_RealName": "A"}},
			wantOK:    true,
			wantToken: "opaque",
		},
		{
			name:      "token only on user record",
			session:   &storage.Session{User: map[string]interface{}{"token": "from-user"}},
			wantOK:    true,
			wantToken: "from-user",
		},
		{
			name:    "token without user",
			session: &storage.Session{Token: "opaque"},
			wantOK:  false,
		},
		{
			name:    "expired jwt",
			session: &storage.Session{Token: signedToken(t, now.Add(-time.Hour)), User: map[string]interface{}{}},
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			if tt.session != nil {
				require.NoError(t, store.SaveSession(tt.session))
			}
			m := NewManager(new(MockBackend), store)
			m.now = func() time.Time { return now }

			session, ok := m.Restore()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantToken, m.Token())

			stored, err := store.GetSession()
			if !tt.wantOK {
				assert.Nil(t, session)
				assert.ErrorIs(t, err, storage.ErrNoSession)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, stored.Token)
			assert.Equal(t, tt.wantToken, stored.UserToken())
		})
	}
}

func TestManager_RestoreValidJWT(t *testing.T) {
	store := newStore(t)
	token := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, store.SaveSession(&storage.Session{Token: token, User: map[string]interface{}{"token": token}}))

	m := NewManager(new(MockBackend), store)
	_, ok := m.Restore()
	assert.True(t, ok)
	assert.Equal(t, token, m.Token())
}

func TestManager_HandleError(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SaveSession(&storage.Session{Token: "t", User: map[string]interface{}{"token": "t"}}))
	m := NewManager(new(MockBackend), store)
	_, ok := m.Restore()
	require.True(t, ok)

	assert.False(t, m.HandleError(errors.New("network down")))
	assert.Equal(t, "t", m.Token())

	assert.True(t, m.HandleError(&api.APIError{Status: 410}))
	assert.Empty(t, m.Token())
	assert.Nil(t, m.Session())

	_, err := store.GetSession()
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

func TestManager_Logout(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.SaveSession(&storage.Session{Token: "t", User: map[string]interface{}{}}))
	m := NewManager(new(MockBackend), store)
	m.Restore()

	require.NoError(t, m.Logout())
	assert.Empty(t, m.Token())
	_, err := store.GetSession()
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

func TestManager_UpdateUser(t *testing.T) {
	store := newStore(t)
	m := NewManager(new(MockBackend), store)

	assert.ErrorIs(t, m.UpdateUser(map[string]interface{}{"f_Email": "x"}), ErrNotLoggedIn)

	require.NoError(t, store.SaveSession(&storage.Session{
		Token: "tok-1",
		User:  map[string]interface{}{"token": "tok-1", "f_RealName": "Admin"},
	}))
	_, ok := m.Restore()
	require.True(t, ok)
	before := m.Session()

	require.NoError(t, m.UpdateUser(map[string]interface{}{
		"f_CompanyName": "Crystal Co",
		"token":         "forged",
	}))

	session := m.Session()
	assert.Equal(t, "Crystal Co", session.User["f_CompanyName"])
	assert.Equal(t, "Admin", session.User["f_RealName"])
	assert.Equal(t, "tok-1", session.UserToken())
	assert.NotContains(t, before.User, "f_CompanyName", "earlier snapshot is not mutated")

	stored, err := store.GetSession()
	require.NoError(t, err)
	assert.Equal(t, "Crystal Co", stored.User["f_CompanyName"])
}
