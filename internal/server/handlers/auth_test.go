package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/taskgraph/internal/server/jwt"
	"github.com/iudanet/taskgraph/internal/server/storage/sqlite"
	"github.com/iudanet/taskgraph/pkg/api"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	s, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func newAuthHandler(t *testing.T) (*AuthHandler, *sqlite.Storage) {
	t.Helper()
	store := setupTestStorage(t)
	jwtService := jwt.NewService("test-secret", time.Hour)
	return NewAuthHandler(setupTestLogger(), store, jwtService), store
}

func doRegister(t *testing.T, h *AuthHandler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(api.RegisterRequest{Username: username, Password: password})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Register(w, req)
	return w
}

func doLogin(t *testing.T, h *AuthHandler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(api.LoginRequest{Username: username, Password: password})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Login(w, req)
	return w
}

func TestAuthHandler_Register(t *testing.T) {
	h, _ := newAuthHandler(t)

	w := doRegister(t, h, "alice", "password123")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp api.RegisterResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.UserID)
}

func TestAuthHandler_Register_DuplicateUsername(t *testing.T) {
	h, _ := newAuthHandler(t)

	w := doRegister(t, h, "alice", "password123")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRegister(t, h, "alice", "otherpassword")
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Message, "already taken")
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "short username", username: "ab", password: "password123"},
		{name: "invalid characters", username: "bad user!", password: "password123"},
		{name: "short password", username: "alice", password: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newAuthHandler(t)
			w := doRegister(t, h, tt.username, tt.password)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAuthHandler_Register_InvalidBody(t *testing.T) {
	h, _ := newAuthHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.Register(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_Login(t *testing.T) {
	h, _ := newAuthHandler(t)

	w := doRegister(t, h, "alice", "password123")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doLogin(t, h, "alice", "password123")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.TokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
}

func TestAuthHandler_Login_WrongPassword(t *testing.T) {
	h, _ := newAuthHandler(t)

	w := doRegister(t, h, "alice", "password123")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doLogin(t, h, "alice", "wrongpassword")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "invalid credentials", resp.Message)
}

func TestAuthHandler_Login_UnknownUser(t *testing.T) {
	h, _ := newAuthHandler(t)

	w := doLogin(t, h, "nobody", "password123")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
