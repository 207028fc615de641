package fallback

import (
	"context"
	"log/slog"

	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/models"
)

// ConflictStore оборачивает durable карантин зеркалом метаданных.
// Записи идут в оба хранилища; при отказе durable-слоя чтения сводок
// обслуживаются зеркалом, а отказ обоих слоев логируется, но не
// валит работающую сессию (in-memory состояние не трогается).
type ConflictStore struct {
	primary storage.ConflictStorage
	mirror  *Mirror
	logger  *slog.Logger
}

// Compile-time check that ConflictStore implements ConflictStorage
var _ storage.ConflictStorage = (*ConflictStore)(nil)

// NewConflictStore создает карантин с fallback-зеркалом
func NewConflictStore(primary storage.ConflictStorage, mirror *Mirror, logger *slog.Logger) *ConflictStore {
	return &ConflictStore{
		primary: primary,
		mirror:  mirror,
		logger:  logger,
	}
}

// SaveConflict пишет запись в durable хранилище и метаданные в зеркало.
// Отказ durable-слоя деградирует до записи только метаданных.
func (s *ConflictStore) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	primaryErr := s.primary.SaveConflict(ctx, record)
	if primaryErr != nil {
		s.logger.Error("durable conflict store write failed, degrading to metadata mirror",
			"project_id", record.ProjectID,
			"error", primaryErr)
	}

	if mirrorErr := s.mirror.PutMeta(record.Meta()); mirrorErr != nil {
		if primaryErr != nil {
			// Двойной отказ: конфликт остается только в памяти вызывающего
			s.logger.Error("conflict mirror write also failed, conflict kept in memory only",
				"project_id", record.ProjectID,
				"error", mirrorErr)
			return primaryErr
		}
		s.logger.Warn("conflict mirror write failed",
			"project_id", record.ProjectID,
			"error", mirrorErr)
	}

	// Метаданные зеркалированы - сессия продолжает работать
	return nil
}

// GetConflict читает полную запись; полные снимки есть только в durable слое
func (s *ConflictStore) GetConflict(ctx context.Context, projectID string) (*models.ConflictRecord, error) {
	return s.primary.GetConflict(ctx, projectID)
}

// ListConflicts возвращает сводки, падая обратно на зеркало при отказе durable-слоя
func (s *ConflictStore) ListConflicts(ctx context.Context) ([]models.ConflictMeta, error) {
	metas, err := s.primary.ListConflicts(ctx)
	if err != nil {
		s.logger.Warn("durable conflict store list failed, serving from mirror", "error", err)
		return s.mirror.Metas(), nil
	}
	return metas, nil
}

// HasConflicts проверяет наличие конфликтов, падая обратно на зеркало
func (s *ConflictStore) HasConflicts(ctx context.Context) (bool, error) {
	exists, err := s.primary.HasConflicts(ctx)
	if err != nil {
		s.logger.Warn("durable conflict store check failed, serving from mirror", "error", err)
		return s.mirror.HasConflicts(), nil
	}
	return exists, nil
}

// DeleteConflict удаляет запись из обоих слоев
func (s *ConflictStore) DeleteConflict(ctx context.Context, projectID string) error {
	if err := s.mirror.DeleteMeta(projectID); err != nil {
		s.logger.Warn("conflict mirror delete failed", "project_id", projectID, "error", err)
	}
	return s.primary.DeleteConflict(ctx, projectID)
}

// MarkAcknowledged отмечает конфликт увиденным в durable слое
func (s *ConflictStore) MarkAcknowledged(ctx context.Context, projectID string) error {
	return s.primary.MarkAcknowledged(ctx, projectID)
}
