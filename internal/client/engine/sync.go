package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/client/ledger"
	"github.com/iudanet/taskgraph/internal/client/merge"
	"github.com/iudanet/taskgraph/internal/client/pipeline"
	"github.com/iudanet/taskgraph/internal/models"
)

// ErrAuditFailed аудит ledger нашел ошибки; синхронизация прервана
var ErrAuditFailed = errors.New("ledger audit found errors, sync aborted")

// Save ставит сохранение проекта в очередь save pipeline и возвращает
// канал результата. Успех продвигает базовый снимок; любая ошибка
// оставляет данные в локальном состоянии и пишет offline-снимок.
func (e *Engine) Save(ctx context.Context, projectID string) (<-chan pipeline.SaveResult, error) {
	e.mu.RLock()
	project, ok := e.projects[projectID]
	var snapshot, base *models.Project
	if ok {
		snapshot = project.Clone()
		if b := e.bases[projectID]; b != nil {
			base = b.Clone()
		}
	}
	e.mu.RUnlock()

	if !ok {
		return nil, ErrProjectNotLoaded
	}

	e.notify(StateChange{ProjectID: projectID, State: SyncStateSaving})

	inner := e.pipeline.EnqueueSave(snapshot, base)
	out := make(chan pipeline.SaveResult, 1)

	go func() {
		result := <-inner
		e.handleSaveResult(ctx, projectID, snapshot, result)
		out <- result
	}()

	return out, nil
}

// handleSaveResult применяет последствия сохранения к локальному состоянию
func (e *Engine) handleSaveResult(ctx context.Context, projectID string, saved *models.Project, result pipeline.SaveResult) {
	switch {
	case result.Conflict:
		e.notify(StateChange{ProjectID: projectID, State: SyncStateConflict, Err: result.Err})

	case result.Err != nil:
		state := SyncStateError
		if errors.Is(result.Err, backend.ErrUnavailable) {
			state = SyncStateOffline
		}
		e.notify(StateChange{ProjectID: projectID, State: state, Err: result.Err})

	case result.Optimistic:
		// Записи не было: данные целы локально, очередь унесет их позже
		e.notify(StateChange{ProjectID: projectID, State: SyncStatePending})

	default:
		e.advanceBase(projectID, saved, result)
		e.notify(StateChange{ProjectID: projectID, State: SyncStateSynced})
	}

	// Страховка: локальное состояние переживает любой исход
	if err := e.persistLocal(ctx); err != nil {
		e.logger.Error("failed to persist local state after save",
			"project_id", projectID,
			"error", err)
	}
}

// advanceBase продвигает базовый снимок после подтвержденной записи
func (e *Engine) advanceBase(projectID string, saved *models.Project, result pipeline.SaveResult) {
	next := saved
	if result.RemoteSnapshot != nil {
		// Запись прошла через auto-rebase - базой становится слитый снимок
		next = result.RemoteSnapshot
	}
	next = next.Clone()
	next.Version = result.NewVersion

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bases[projectID] = next
	project, ok := e.projects[projectID]
	if !ok {
		return
	}
	project.Version = result.NewVersion
	if result.RemoteSnapshot == nil {
		return
	}
	// Локальная копия принимает результат rebase, но правки, сделанные
	// пока сохранение было в полете, этим снимком не покрыты: их грязные
	// поля переносятся поверх, иначе следующая запись затерла бы их
	e.projects[projectID] = e.reapplyDirty(project, next.Clone())
}

// reapplyDirty переносит локально грязные поля и локально созданные
// сущности из live поверх снимка rebase. Защита полей повторяет правила
// маршрутизатора входящих изменений: локальный tombstone не воскресает.
func (e *Engine) reapplyDirty(live, snapshot *models.Project) *models.Project {
	for i := range live.Tasks {
		task := &live.Tasks[i]
		dirty := e.ledger.DirtyFields(live.ID, task.ID)
		if dirty == nil {
			continue
		}
		if task.DeletedAt != nil {
			dirty.Union(models.NewFieldSet(models.FieldDeletedAt))
		}
		if target := snapshot.FindTask(task.ID); target != nil {
			*target = *merge.MergeRemoteTask(task, target, dirty)
		} else {
			snapshot.Tasks = append(snapshot.Tasks, *task.Clone())
		}
	}
	for i := range live.Connections {
		conn := &live.Connections[i]
		dirty := e.ledger.DirtyFields(live.ID, conn.ID)
		if dirty == nil {
			continue
		}
		if conn.DeletedAt != nil {
			dirty.Union(models.NewFieldSet(models.FieldDeletedAt))
		}
		if target := snapshot.FindConnection(conn.ID); target != nil {
			*target = *merge.MergeRemoteConnection(conn, target, dirty)
		} else {
			snapshot.Connections = append(snapshot.Connections, *conn.Clone())
		}
	}
	return snapshot
}

// SyncProject выполняет полную синхронизацию проекта: аудит ledger,
// fetch удаленного состояния и сохранение накопленных изменений.
// Возвращает отчет аудита; при находках уровня error синхронизация
// прерывается с ErrAuditFailed.
func (e *Engine) SyncProject(ctx context.Context, projectID string) (*ledger.AuditReport, error) {
	local := e.Project(projectID)
	if local == nil {
		return nil, ErrProjectNotLoaded
	}

	report := e.ledger.Audit(projectID, local)
	if report.HasErrors() {
		return report, ErrAuditFailed
	}

	if report.RecommendFullResync {
		if err := e.fullResync(ctx, projectID); err != nil {
			return report, err
		}
		return report, nil
	}

	if _, err := e.Save(ctx, projectID); err != nil {
		return report, err
	}
	return report, nil
}

// fullResync замещает локальную копию свежим удаленным состоянием,
// переигрывая поверх него накопленные локальные изменения
func (e *Engine) fullResync(ctx context.Context, projectID string) error {
	remote, err := e.store.ReadProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, backend.ErrProjectNotFound) {
			// Удаленной строки нет - первое сохранение вставит ее
			_, saveErr := e.Save(ctx, projectID)
			return saveErr
		}
		return fmt.Errorf("full resync failed: %w", err)
	}

	e.mu.RLock()
	base := e.bases[projectID]
	if base != nil {
		base = base.Clone()
	}
	e.mu.RUnlock()

	rebased, err := merge.Rebase(remote, base, e.ledger.PendingRecords(projectID))
	if err != nil {
		return fmt.Errorf("full resync failed: %w", err)
	}
	if rebased.Failed() {
		// Конфликт при resync проходит тот же карантинный путь,
		// что и конфликт при сохранении
		result, saveErr := e.Save(ctx, projectID)
		if saveErr != nil {
			return saveErr
		}
		<-result
		return nil
	}

	e.mu.Lock()
	e.projects[projectID] = rebased.Project.Clone()
	e.bases[projectID] = remote.Clone()
	e.mu.Unlock()

	e.logger.Info("full resync applied",
		"project_id", projectID,
		"remote_version", remote.Version)

	_, err = e.Save(ctx, projectID)
	return err
}

// HasPendingChanges проверяет наличие несинхронизированных изменений
func (e *Engine) HasPendingChanges(projectID string) bool {
	return e.ledger.HasPendingChanges(projectID)
}

// PendingChanges возвращает агрегированную сводку изменений проекта
func (e *Engine) PendingChanges(projectID string) models.ProjectChangeSummary {
	return e.ledger.ProjectChanges(projectID)
}

// HasConflicts быстрая проверка наличия неразрешенных конфликтов
func (e *Engine) HasConflicts(ctx context.Context) (bool, error) {
	return e.storage.HasConflicts(ctx)
}

// ListConflicts возвращает облегченные записи всех конфликтов
func (e *Engine) ListConflicts(ctx context.Context) ([]models.ConflictMeta, error) {
	return e.storage.ListConflicts(ctx)
}

// GetConflict возвращает полную запись конфликта проекта
func (e *Engine) GetConflict(ctx context.Context, projectID string) (*models.ConflictRecord, error) {
	return e.storage.GetConflict(ctx, projectID)
}

// AcknowledgeConflict отмечает, что пользователь видел конфликт
func (e *Engine) AcknowledgeConflict(ctx context.Context, projectID string) error {
	return e.storage.MarkAcknowledged(ctx, projectID)
}

// ResolveKeepLocal разрешает конфликт в пользу локального снимка:
// локальная версия перезаписывает удаленную поверх ее текущей версии
func (e *Engine) ResolveKeepLocal(ctx context.Context, projectID string) error {
	record, err := e.storage.GetConflict(ctx, projectID)
	if err != nil {
		return err
	}

	local := record.LocalProject.Clone()
	local.Version = record.RemoteVersion

	e.mu.Lock()
	e.projects[projectID] = local.Clone()
	e.bases[projectID] = cloneOrNil(record.RemoteProject)
	e.mu.Unlock()

	if err := e.storage.DeleteConflict(ctx, projectID); err != nil {
		return fmt.Errorf("failed to delete conflict record: %w", err)
	}
	e.pipeline.UnblockProject(projectID)

	e.logger.Info("conflict resolved: keeping local",
		"project_id", projectID,
		"against_version", record.RemoteVersion)

	_, err = e.Save(ctx, projectID)
	return err
}

// ResolveKeepRemote разрешает конфликт в пользу удаленного снимка:
// локальные накопленные изменения проекта отбрасываются
func (e *Engine) ResolveKeepRemote(ctx context.Context, projectID string) error {
	record, err := e.storage.GetConflict(ctx, projectID)
	if err != nil {
		return err
	}
	if record.RemoteProject == nil {
		return fmt.Errorf("conflict record has no remote snapshot")
	}

	e.mu.Lock()
	e.projects[projectID] = record.RemoteProject.Clone()
	e.bases[projectID] = record.RemoteProject.Clone()
	e.mu.Unlock()

	e.ledger.ClearProjectChanges(projectID)

	if err := e.storage.DeleteConflict(ctx, projectID); err != nil {
		return fmt.Errorf("failed to delete conflict record: %w", err)
	}
	e.pipeline.UnblockProject(projectID)

	e.logger.Info("conflict resolved: keeping remote",
		"project_id", projectID,
		"remote_version", record.RemoteVersion)

	return e.persistLocal(ctx)
}

// LoadProject загружает проект из удаленного хранилища в локальное состояние
func (e *Engine) LoadProject(ctx context.Context, projectID string) (*models.Project, error) {
	remote, err := e.store.ReadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.projects[projectID] = remote.Clone()
	e.bases[projectID] = remote.Clone()
	e.mu.Unlock()

	return remote, nil
}

func cloneOrNil(project *models.Project) *models.Project {
	if project == nil {
		return nil
	}
	return project.Clone()
}
