package storage

import (
	"context"

	"github.com/iudanet/taskgraph/internal/models"
)

//go:generate moq -out snapshot_mock.go . SnapshotStorage

// SnapshotStorage определяет интерфейс offline-снимка: версионированный
// blob со всеми проектами под well-known локальным ключом. Пишется как
// страховка при каждой ошибке сохранения и при завершении работы,
// загружается и мигрируется при старте.
type SnapshotStorage interface {
	// SaveSnapshot сохраняет offline-снимок
	SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error

	// LoadSnapshot загружает offline-снимок, мигрируя его к текущей
	// версии схемы (недостающие поля дозаполняются значениями по
	// умолчанию, данные никогда не удаляются).
	// Возвращает ErrSnapshotNotFound, если снимок еще не сохранялся.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
}

//go:generate moq -out pending_mock.go . PendingChangeStorage

// PendingChangeStorage определяет интерфейс персистентности change ledger
// между перезапусками (crash recovery: экспорт при изменениях,
// импорт при старте).
type PendingChangeStorage interface {
	// SavePendingChanges сохраняет накопленные записи ledger
	SavePendingChanges(ctx context.Context, records []*models.ChangeRecord) error

	// LoadPendingChanges возвращает сохраненные записи ledger.
	// Возвращает пустой список, если записей нет.
	LoadPendingChanges(ctx context.Context) ([]*models.ChangeRecord, error)
}
