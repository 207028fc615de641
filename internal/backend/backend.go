// Package backend определяет абстрактную поверхность удаленного хранилища.
// Ядро синхронизации потребляет только эти операции; конкретные реализации -
// HTTP/WebSocket клиент (internal/client/api) и SQLite хранилище
// референсного сервера (internal/server/storage/sqlite).
package backend

import (
	"context"

	"github.com/iudanet/taskgraph/internal/models"
)

//go:generate moq -out backend_mock.go . Store

// Store определяет операции удаленного хранилища проектов
type Store interface {
	// ReadProject возвращает проект с текущей версией.
	// Возвращает ErrProjectNotFound, если строки проекта нет.
	ReadProject(ctx context.Context, id string) (*models.Project, error)

	// CompareAndSetProject записывает проект с предикатом version = expectedVersion.
	// Возвращает количество затронутых строк: 0 означает, что другой писатель
	// успел увеличить версию (гонка), и запись не произошла. При гонке второй
	// результат несет свежий удаленный снимок, если транспорт его доставил
	// (HTTP 409 отдает его в теле); nil обязывает вызывающего читать отдельно.
	// При expectedVersion = 0 строка вставляется с версией 1.
	CompareAndSetProject(ctx context.Context, project *models.Project, expectedVersion int64) (int64, *models.Project, error)

	// WriteEntities записывает отдельные сущности проекта
	WriteEntities(ctx context.Context, projectID string, tasks []models.Task, connections []models.Connection) error

	// DeleteEntities помечает сущности tombstone (мягкое удаление)
	DeleteEntities(ctx context.Context, projectID string, ids []string) error

	// Subscribe открывает поток уведомлений об изменениях строк.
	// Канал закрывается при обрыве соединения или отмене контекста;
	// переподключением занимается subscriber.
	Subscribe(ctx context.Context, filter SubscribeFilter) (<-chan models.ChangeEvent, error)
}

// SubscribeFilter ограничивает поток событий
type SubscribeFilter struct {
	ProjectID string // пустой = все проекты идентичности
}
