package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/taskgraph/internal/models"
	"github.com/iudanet/taskgraph/internal/server/notify"
	"github.com/iudanet/taskgraph/internal/server/storage"
	"github.com/iudanet/taskgraph/pkg/api"
)

// ProjectsHandler обрабатывает запросы чтения и записи проектов
type ProjectsHandler struct {
	logger  *slog.Logger
	storage storage.ProjectStorage
	hub     *notify.Hub
}

// NewProjectsHandler создает новый handler для проектов
func NewProjectsHandler(logger *slog.Logger, projectStorage storage.ProjectStorage, hub *notify.Hub) *ProjectsHandler {
	return &ProjectsHandler{
		logger:  logger,
		storage: projectStorage,
		hub:     hub,
	}
}

// List обрабатывает GET /api/v1/projects
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projects, err := h.storage.ListProjects(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list projects", slog.Any("error", err))
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, projects, http.StatusOK)
}

// Get обрабатывает GET /api/v1/projects/{id}
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.PathValue("id")
	if projectID == "" {
		h.sendError(w, "project id is required", http.StatusBadRequest)
		return
	}

	project, err := h.storage.GetProject(ctx, userID, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			h.sendError(w, "project not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get project", slog.Any("error", err))
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ProjectResponse{
		Project: project,
		Version: project.Version,
	}
	h.sendJSON(w, resp, http.StatusOK)
}

// Save обрабатывает PUT /api/v1/projects/{id}
// Compare-and-set запись всего проекта. Провал предиката версии
// возвращает 409 со свежим удаленным снимком в теле.
func (h *ProjectsHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.PathValue("id")

	var req api.SaveProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Project == nil || req.Project.ID != projectID {
		h.sendError(w, "project id mismatch", http.StatusBadRequest)
		return
	}
	if req.ExpectedVersion < 0 {
		h.sendError(w, "expected_version must not be negative", http.StatusBadRequest)
		return
	}

	rows, newVersion, err := h.storage.SaveProject(ctx, userID, req.Project, req.ExpectedVersion)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save project",
			slog.String("project_id", projectID),
			slog.Any("error", err))
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if rows == 0 {
		// Гонка версий: отдаем свежий снимок, клиент попробует rebase
		remote, err := h.storage.GetProject(ctx, userID, projectID)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to read project after version race",
				slog.String("project_id", projectID),
				slog.Any("error", err))
			h.sendError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		h.logger.InfoContext(ctx, "save rejected: version mismatch",
			slog.String("project_id", projectID),
			slog.Int64("expected_version", req.ExpectedVersion),
			slog.Int64("remote_version", remote.Version))

		resp := api.SaveProjectResponse{
			RemoteProject: remote,
			NewVersion:    remote.Version,
			RowsAffected:  0,
		}
		h.sendJSON(w, resp, http.StatusConflict)
		return
	}

	h.logger.InfoContext(ctx, "project saved",
		slog.String("project_id", projectID),
		slog.Int64("version", newVersion))

	h.hub.Broadcast(userID, models.ChangeEvent{
		ProjectID:  projectID,
		EventType:  models.EventUpdate,
		Version:    newVersion,
		OccurredAt: time.Now(),
	})

	resp := api.SaveProjectResponse{
		NewVersion:   newVersion,
		RowsAffected: rows,
	}
	h.sendJSON(w, resp, http.StatusOK)
}

// WriteEntities обрабатывает POST /api/v1/projects/{id}/entities
// Запись отдельных сущностей с событием на каждую строку
func (h *ProjectsHandler) WriteEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.PathValue("id")

	var req api.WriteEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newVersion, err := h.storage.WriteEntities(ctx, userID, projectID, req.Tasks, req.Connections)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			h.sendError(w, "project not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to write entities", slog.Any("error", err))
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	for i := range req.Tasks {
		h.hub.Broadcast(userID, models.ChangeEvent{
			ProjectID:  projectID,
			EntityID:   req.Tasks[i].ID,
			EntityType: models.EntityTask,
			EventType:  models.EventUpdate,
			Version:    newVersion,
			OccurredAt: now,
		})
	}
	for i := range req.Connections {
		h.hub.Broadcast(userID, models.ChangeEvent{
			ProjectID:  projectID,
			EntityID:   req.Connections[i].ID,
			EntityType: models.EntityConnection,
			EventType:  models.EventUpdate,
			Version:    newVersion,
			OccurredAt: now,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteEntities обрабатывает POST /api/v1/projects/{id}/entities/delete
// Мягкое удаление сущностей (tombstone)
func (h *ProjectsHandler) DeleteEntities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.PathValue("id")

	var req api.DeleteEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newVersion, err := h.storage.DeleteEntities(ctx, userID, projectID, req.IDs)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			h.sendError(w, "project not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to delete entities", slog.Any("error", err))
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	for _, id := range req.IDs {
		h.hub.Broadcast(userID, models.ChangeEvent{
			ProjectID:  projectID,
			EntityID:   id,
			EventType:  models.EventDelete,
			Version:    newVersion,
			OccurredAt: now,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectsHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

func (h *ProjectsHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	h.sendJSON(w, resp, statusCode)
}
