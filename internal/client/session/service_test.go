package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/taskgraph/internal/client/storage"
	pkgapi "github.com/iudanet/taskgraph/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// fakeAPIClient записывает вызовы API сервера
type fakeAPIClient struct {
	registerResp *pkgapi.RegisterResponse
	loginResp    *pkgapi.TokenResponse
	err          error
	token        string
	registered   []pkgapi.RegisterRequest
}

func (c *fakeAPIClient) Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.RegisterResponse, error) {
	c.registered = append(c.registered, req)
	if c.err != nil {
		return nil, c.err
	}
	return c.registerResp, nil
}

func (c *fakeAPIClient) Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.loginResp, nil
}

func (c *fakeAPIClient) SetToken(token string) {
	c.token = token
}

// memSessions in-memory SessionStorage
type memSessions struct {
	session *storage.SessionData
}

func (m *memSessions) SaveSession(ctx context.Context, session *storage.SessionData) error {
	m.session = session
	return nil
}

func (m *memSessions) GetSession(ctx context.Context) (*storage.SessionData, error) {
	if m.session == nil {
		return nil, storage.ErrSessionNotFound
	}
	return m.session, nil
}

func (m *memSessions) DeleteSession(ctx context.Context) error {
	if m.session == nil {
		return storage.ErrSessionNotFound
	}
	m.session = nil
	return nil
}

func TestService_LoginStoresSessionAndToken(t *testing.T) {
	token := signedToken(t, "user-42")
	client := &fakeAPIClient{loginResp: &pkgapi.TokenResponse{AccessToken: token, ExpiresIn: 3600}}
	store := &memSessions{}
	svc := NewService(client, store, "http://localhost:8080", testLogger())

	session, err := svc.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)

	assert.Equal(t, "user-42", session.UserID)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, token, client.token)
	assert.True(t, session.Valid())
	require.NotNil(t, store.session)
	assert.Equal(t, "http://localhost:8080", store.session.ServerURL)
}

func TestService_LoginRejectsInvalidUsername(t *testing.T) {
	client := &fakeAPIClient{}
	svc := NewService(client, &memSessions{}, "http://localhost:8080", testLogger())

	_, err := svc.Login(context.Background(), "a", "password123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid username")
}

func TestService_LoginPropagatesServerError(t *testing.T) {
	client := &fakeAPIClient{err: errors.New("invalid credentials")}
	svc := NewService(client, &memSessions{}, "http://localhost:8080", testLogger())

	_, err := svc.Login(context.Background(), "alice", "wrong-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestService_RegisterValidatesInput(t *testing.T) {
	client := &fakeAPIClient{registerResp: &pkgapi.RegisterResponse{UserID: "user-1"}}
	svc := NewService(client, &memSessions{}, "http://localhost:8080", testLogger())

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "valid", username: "alice", password: "password123", wantErr: false},
		{name: "short username", username: "ab", password: "password123", wantErr: true},
		{name: "short password", username: "alice", password: "short", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Register(context.Background(), tt.username, tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_RestoreValidSession(t *testing.T) {
	client := &fakeAPIClient{}
	store := &memSessions{session: &storage.SessionData{
		UserID:      "user-1",
		Username:    "alice",
		AccessToken: "stored-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	svc := NewService(client, store, "http://localhost:8080", testLogger())

	session, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "stored-token", client.token)
}

func TestService_RestoreExpiredSession(t *testing.T) {
	store := &memSessions{session: &storage.SessionData{
		AccessToken: "stale-token",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}}
	svc := NewService(&fakeAPIClient{}, store, "http://localhost:8080", testLogger())

	_, err := svc.Restore(context.Background())
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestService_RestoreWithoutSession(t *testing.T) {
	svc := NewService(&fakeAPIClient{}, &memSessions{}, "http://localhost:8080", testLogger())

	_, err := svc.Restore(context.Background())
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestService_LogoutClearsSessionAndToken(t *testing.T) {
	client := &fakeAPIClient{token: "live-token"}
	store := &memSessions{session: &storage.SessionData{AccessToken: "live-token"}}
	svc := NewService(client, store, "http://localhost:8080", testLogger())

	require.NoError(t, svc.Logout(context.Background()))
	assert.Empty(t, client.token)
	assert.Nil(t, store.session)

	// Повторный logout без сессии не является ошибкой
	require.NoError(t, svc.Logout(context.Background()))
}

func TestSubjectOf(t *testing.T) {
	token := signedToken(t, "user-7")
	assert.Equal(t, "user-7", subjectOf(token))
	assert.Empty(t, subjectOf("not-a-jwt"))
}
