package storage

import (
	"context"

	"github.com/iudanet/taskgraph/internal/models"
)

//go:generate moq -out conflicts_mock.go . ConflictStorage

// ConflictStorage определяет интерфейс карантина конфликтов: durable
// хранение конфликтующего локального снимка вместе с удаленным, отдельно
// от основного потока данных, чтобы неразрешенный конфликт нельзя было
// молча потерять или перезаписать.
type ConflictStorage interface {
	// SaveConflict сохраняет или заменяет запись конфликта.
	// На проект существует не более одной записи (ключ = ProjectID).
	SaveConflict(ctx context.Context, record *models.ConflictRecord) error

	// GetConflict возвращает запись конфликта проекта.
	// Возвращает ErrConflictNotFound, если записи нет.
	GetConflict(ctx context.Context, projectID string) (*models.ConflictRecord, error)

	// ListConflicts возвращает облегченные записи всех конфликтов.
	// Читает только вторичный индекс - полные снимки не десериализуются.
	ListConflicts(ctx context.Context) ([]models.ConflictMeta, error)

	// HasConflicts быстрая проверка "есть ли конфликты" по вторичному индексу
	HasConflicts(ctx context.Context) (bool, error)

	// DeleteConflict удаляет запись конфликта после разрешения
	DeleteConflict(ctx context.Context, projectID string) error

	// MarkAcknowledged отмечает, что пользователь видел конфликт
	MarkAcknowledged(ctx context.Context, projectID string) error
}
