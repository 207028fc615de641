package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/models"
	"github.com/iudanet/taskgraph/pkg/api"
)

func testProject(version int64) *models.Project {
	return &models.Project{
		ID:      "proj-1",
		Name:    "Roadmap",
		Version: version,
		Tasks: []models.Task{
			{ID: "task-1", Title: "Root", Status: models.StatusTodo},
		},
	}
}

func TestClient_ReadProject(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/projects/proj-1", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(api.ProjectResponse{
			Project: testProject(0),
			Version: 7,
		})
		assert.NoError(t, err)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.SetToken("test-token")

	project, err := client.ReadProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", project.ID)
	assert.Equal(t, int64(7), project.Version)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestClient_ReadProject_StatusErrors(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		status  int
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: backend.ErrProjectNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: backend.ErrSessionExpired},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: backend.ErrUnavailable},
		{name: "service unavailable", status: http.StatusServiceUnavailable, wantErr: backend.ErrUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: backend.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(server.URL)
			_, err := client.ReadProject(context.Background(), "proj-1")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_ReadProject_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := NewClient(server.URL)
	_, err := client.ReadProject(context.Background(), "proj-1")
	require.ErrorIs(t, err, backend.ErrUnavailable)
}

func TestClient_CompareAndSetProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/projects/proj-1", r.URL.Path)

		var req api.SaveProjectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(2), req.ExpectedVersion)

		err := json.NewEncoder(w).Encode(api.SaveProjectResponse{
			NewVersion:   3,
			RowsAffected: 1,
		})
		assert.NoError(t, err)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	project := testProject(2)

	rows, race, err := client.CompareAndSetProject(context.Background(), project, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.Nil(t, race)
	assert.Equal(t, int64(3), project.Version)
}

func TestClient_CompareAndSetProject_VersionRaceIsNotAnError(t *testing.T) {
	remote := testProject(5)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		err := json.NewEncoder(w).Encode(api.SaveProjectResponse{
			RemoteProject: remote,
			NewVersion:    5,
			RowsAffected:  0,
		})
		assert.NoError(t, err)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	project := testProject(2)

	rows, race, err := client.CompareAndSetProject(context.Background(), project, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
	// Локальная версия не трогается: запись не произошла
	assert.Equal(t, int64(2), project.Version)

	// Тело 409 доставляет актуальный снимок - rebase обходится без
	// отдельного чтения
	require.NotNil(t, race)
	assert.Equal(t, int64(5), race.Version)
	assert.Equal(t, remote.Name, race.Name)
}

func TestClient_WriteEntities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/entities", r.URL.Path)

		var req api.WriteEntitiesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Tasks, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.WriteEntities(context.Background(), "proj-1",
		[]models.Task{{ID: "task-1", Title: "Root"}}, nil)
	require.NoError(t, err)
}

func TestClient_DeleteEntities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/entities/delete", r.URL.Path)

		var req api.DeleteEntitiesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"task-1", "conn-1"}, req.IDs)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.DeleteEntities(context.Background(), "proj-1", []string{"task-1", "conn-1"})
	require.NoError(t, err)
}

func TestClient_Login(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		err := json.NewEncoder(w).Encode(api.TokenResponse{
			AccessToken: "jwt-token",
			ExpiresIn:   3600,
		})
		assert.NoError(t, err)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Login(context.Background(), api.LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", resp.AccessToken)
}

func TestClient_Subscribe(t *testing.T) {
	event := models.ChangeEvent{
		ProjectID: "proj-1",
		EntityID:  "task-1",
		EventType: models.EventUpdate,
		Version:   4,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/subscribe", r.URL.Path)
		assert.Equal(t, "proj-1", r.URL.Query().Get("project_id"))

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		require.NoError(t, wsjson.Write(r.Context(), conn, event))
		// Блокируемся до отключения клиента
		_, _, _ = conn.Read(r.Context())
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(server.URL)
	events, err := client.Subscribe(ctx, backend.SubscribeFilter{ProjectID: "proj-1"})
	require.NoError(t, err)

	select {
	case got := <-events:
		assert.Equal(t, event.ProjectID, got.ProjectID)
		assert.Equal(t, event.EntityID, got.EntityID)
		assert.Equal(t, event.Version, got.Version)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("events channel was not closed after cancel")
	}
}

func TestClient_Subscribe_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Subscribe(context.Background(), backend.SubscribeFilter{})
	require.ErrorIs(t, err, backend.ErrSessionExpired)
}

func TestClient_WebsocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "http://localhost:8080", want: "ws://localhost:8080/api/v1/subscribe"},
		{base: "https://sync.example.com", want: "wss://sync.example.com/api/v1/subscribe"},
	}

	for _, tt := range tests {
		client := NewClient(tt.base)
		assert.Equal(t, tt.want, client.websocketURL("/api/v1/subscribe"))
	}
}
