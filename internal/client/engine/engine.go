// Package engine собирает ядро синхронизации в единый сервис: локальное
// состояние графа задач, change ledger, save pipeline, маршрутизатор
// удаленных изменений и переподключающуюся подписку. Все мутации графа
// проходят через engine, который помечает их в ledger и поддерживает
// offline-снимок как страховку от потери данных.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/client/ledger"
	"github.com/iudanet/taskgraph/internal/client/pipeline"
	"github.com/iudanet/taskgraph/internal/client/router"
	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/client/subscriber"
	"github.com/iudanet/taskgraph/internal/models"
)

// SyncState агрегированное состояние синхронизации проекта
type SyncState string

// Состояния синхронизации, видимые пользователю
const (
	SyncStateSynced   SyncState = "synced"
	SyncStatePending  SyncState = "pending"
	SyncStateSaving   SyncState = "saving"
	SyncStateOffline  SyncState = "offline"
	SyncStateConflict SyncState = "conflict"
	SyncStateError    SyncState = "error"
)

// StateChange уведомление об изменении состояния синхронизации
type StateChange struct {
	Err       error
	ProjectID string
	State     SyncState
}

// Storage объединяет локальную персистентность, нужную engine
type Storage interface {
	storage.SnapshotStorage
	storage.PendingChangeStorage
	storage.ConflictStorage
}

// Engine ядро синхронизации клиента
type Engine struct {
	store     backend.Store
	ledger    ledger.Ledger
	pipeline  *pipeline.Pipeline
	router    *router.Router
	sub       *subscriber.Subscriber
	storage   Storage
	logger    *slog.Logger
	clock     func() time.Time

	states chan StateChange

	mu       sync.RWMutex
	projects map[string]*models.Project // локальные копии проектов
	bases    map[string]*models.Project // снимки на момент последней успешной синхронизации
	editing  map[string]string          // projectID -> entityID редактируемой сущности
	activeID string
	closed   bool
}

// Options настройки engine
type Options struct {
	Pipeline   pipeline.Options
	Router     router.Options
	Subscriber subscriber.Options
}

// New создает engine. Online-сигнал подписки берется из onlineFn
// (nil = всегда онлайн).
func New(store backend.Store, locals Storage, logger *slog.Logger, onlineFn subscriber.OnlineFunc, opts Options) *Engine {
	e := &Engine{
		store:    store,
		storage:  locals,
		logger:   logger,
		clock:    time.Now,
		states:   make(chan StateChange, 16),
		projects: make(map[string]*models.Project),
		bases:    make(map[string]*models.Project),
		editing:  make(map[string]string),
	}

	e.ledger = ledger.New(logger)
	e.pipeline = pipeline.New(store, e.ledger, locals, logger, opts.Pipeline)
	e.sub = subscriber.New(store, logger, onlineFn, opts.Subscriber)
	e.router = router.New(store, e.ledger, e, e, e.pipeline, e.ActiveProject, logger, opts.Router)

	return e
}

// States возвращает канал уведомлений о состоянии синхронизации.
// Доставка best-effort: медленный потребитель пропускает промежуточные
// состояния, но не блокирует синхронизацию.
func (e *Engine) States() <-chan StateChange {
	return e.states
}

// Start загружает offline-снимок и сохраненный ledger, затем запускает
// подписку на удаленные изменения под идентичностью identity
func (e *Engine) Start(ctx context.Context, identity string) error {
	if err := e.restore(ctx); err != nil {
		return err
	}

	e.sub.Start(ctx, identity, backend.SubscribeFilter{})
	go e.router.Run(ctx, e.sub.Events())
	go e.watchSubscriber(ctx)

	return nil
}

// Close останавливает синхронизацию и сохраняет offline-снимок
// вместе с несинхронизированными изменениями
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.sub.Stop()
	e.router.Close()
	e.pipeline.Close()

	return e.persistLocal(ctx)
}

// restore загружает состояние, сохраненное прошлой сессией
func (e *Engine) restore(ctx context.Context) error {
	snapshot, err := e.storage.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load offline snapshot: %w", err)
	}

	e.mu.Lock()
	for i := range snapshot.Projects {
		project := snapshot.Projects[i].Clone()
		e.projects[project.ID] = project
		e.bases[project.ID] = project.Clone()
	}
	e.mu.Unlock()

	pending, err := e.storage.LoadPendingChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending changes: %w", err)
	}
	e.ledger.ImportPendingChanges(pending)

	e.logger.Info("local state restored",
		"projects", len(snapshot.Projects),
		"pending_changes", len(pending))
	return nil
}

// persistLocal пишет offline-снимок и экспорт ledger.
// Вызывается при завершении и как страховка после каждой ошибки
// сохранения: что бы ни происходило с сетью, локально данные целы.
func (e *Engine) persistLocal(ctx context.Context) error {
	e.mu.RLock()
	snapshot := &models.Snapshot{
		SchemaVersion: models.SnapshotSchemaVersion,
		SavedAt:       e.clock(),
		Projects:      make([]models.Project, 0, len(e.projects)),
	}
	for _, project := range e.projects {
		snapshot.Projects = append(snapshot.Projects, *project.Clone())
	}
	e.mu.RUnlock()

	if err := e.storage.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save offline snapshot: %w", err)
	}
	if err := e.storage.SavePendingChanges(ctx, e.ledger.ExportPendingChanges()); err != nil {
		return fmt.Errorf("failed to save pending changes: %w", err)
	}
	return nil
}

// watchSubscriber транслирует состояния подписки в состояния синхронизации
func (e *Engine) watchSubscriber(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-e.sub.States():
			if !ok {
				return
			}
			switch state {
			case subscriber.StateOffline, subscriber.StateBackoff:
				e.notify(StateChange{State: SyncStateOffline})
			case subscriber.StateSubscribed:
				e.notify(StateChange{State: SyncStateSynced})
			}
		case err, ok := <-e.router.SyncErrors():
			if !ok {
				return
			}
			e.notify(StateChange{State: SyncStateError, Err: err})
		}
	}
}

// SetActiveProject отмечает проект, открытый пользователем.
// Ответы fetch для других проектов будут отброшены маршрутизатором.
func (e *Engine) SetActiveProject(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeID = projectID
}

// ActiveProject возвращает идентификатор открытого проекта
func (e *Engine) ActiveProject() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeID
}

// StartEditing отмечает сущность как редактируемую: все ее поля
// защищаются от затирания входящими удаленными изменениями
// (кроме tombstone, который применяется всегда)
func (e *Engine) StartEditing(projectID, entityID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editing[projectID] = entityID
}

// StopEditing снимает отметку редактирования
func (e *Engine) StopEditing(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.editing, projectID)
}

// IsEditing реализует router.EditGuard
func (e *Engine) IsEditing(projectID, entityID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.editing[projectID] == entityID
}

// Project реализует router.LocalState: текущая локальная копия проекта
func (e *Engine) Project(projectID string) *models.Project {
	e.mu.RLock()
	defer e.mu.RUnlock()
	project, ok := e.projects[projectID]
	if !ok {
		return nil
	}
	return project.Clone()
}

// Projects возвращает локальные копии всех проектов
func (e *Engine) Projects() []*models.Project {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]*models.Project, 0, len(e.projects))
	for _, project := range e.projects {
		result = append(result, project.Clone())
	}
	return result
}

// ReplaceProject реализует router.LocalState: замещает локальную копию
// слитым удаленным состоянием и продвигает базовый снимок
func (e *Engine) ReplaceProject(project *models.Project) {
	e.mu.Lock()
	e.projects[project.ID] = project.Clone()
	e.bases[project.ID] = project.Clone()
	e.mu.Unlock()

	e.notify(StateChange{ProjectID: project.ID, State: SyncStateSynced})
}

// UpsertTask реализует router.LocalState: применяет слитую задачу
func (e *Engine) UpsertTask(projectID string, task *models.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	project, ok := e.projects[projectID]
	if !ok {
		return
	}
	if existing := project.FindTask(task.ID); existing != nil {
		*existing = *task.Clone()
		return
	}
	project.Tasks = append(project.Tasks, *task.Clone())
}

// UpsertConnection реализует router.LocalState: применяет слитую связь
func (e *Engine) UpsertConnection(projectID string, conn *models.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	project, ok := e.projects[projectID]
	if !ok {
		return
	}
	if existing := project.FindConnection(conn.ID); existing != nil {
		*existing = *conn.Clone()
		return
	}
	project.Connections = append(project.Connections, *conn.Clone())
}

// notify публикует уведомление о состоянии, не блокируясь
func (e *Engine) notify(change StateChange) {
	select {
	case e.states <- change:
	default:
	}
}
