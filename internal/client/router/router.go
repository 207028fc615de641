// Package router маршрутизирует входящие уведомления об удаленных
// изменениях: коалесцирует всплески (debounce), подавляет эхо собственных
// сохранений, защищает локально редактируемые поля (edit guard с
// приоритетом tombstone) и отбрасывает устаревшие ответы перекрывающихся
// запросов по монотонным request-тикетам.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/client/ledger"
	"github.com/iudanet/taskgraph/internal/client/merge"
	"github.com/iudanet/taskgraph/internal/models"
)

// Параметры по умолчанию
const (
	// DefaultDebounceDelay задержка коалесцирования уведомлений уровня
	// проекта: всплеск удаленных записей дает один fetch, а не N
	DefaultDebounceDelay = 250 * time.Millisecond

	// DefaultEchoWindow окно после собственной успешной записи, в котором
	// входящие уведомления о том же проекте игнорируются как эхо
	DefaultEchoWindow = 2 * time.Second
)

// EditGuard сообщает, редактирует ли пользователь сущность прямо сейчас
type EditGuard interface {
	IsEditing(projectID, entityID string) bool
}

// PersistMarker сообщает момент последней собственной успешной записи
// проекта (echo suppression)
type PersistMarker interface {
	LastPersistedAt(projectID string) time.Time
}

// LocalState локальное состояние, в которое применяются слитые
// удаленные изменения. Реализуется composition root.
type LocalState interface {
	// Project возвращает текущую локальную копию проекта (nil - не загружен)
	Project(projectID string) *models.Project

	// ReplaceProject замещает локальную копию слитым проектом
	ReplaceProject(project *models.Project)

	// UpsertTask применяет слитую задачу
	UpsertTask(projectID string, task *models.Task)

	// UpsertConnection применяет слитую связь
	UpsertConnection(projectID string, conn *models.Connection)
}

// Options настройки маршрутизатора
type Options struct {
	DebounceDelay time.Duration
	EchoWindow    time.Duration
}

// Router маршрутизатор входящих удаленных изменений
type Router struct {
	store   backend.Store
	ledger  ledger.Ledger
	local   LocalState
	guard   EditGuard
	marker  PersistMarker
	logger  *slog.Logger
	clock   func() time.Time
	active  func() string // идентификатор активного проекта

	syncErrors chan error

	mu        sync.Mutex
	tickets   map[string]uint64      // наивысший выданный тикет по ключу запроса
	debounce  map[string]*time.Timer // отложенные fetch уровня проекта
	closed    bool

	opts Options
}

// New создает маршрутизатор. activeProject возвращает идентификатор
// проекта, открытого в данный момент: ответы для проектов, с которых
// пользователь успел уйти, отбрасываются.
func New(
	store backend.Store,
	ldg ledger.Ledger,
	local LocalState,
	guard EditGuard,
	marker PersistMarker,
	activeProject func() string,
	logger *slog.Logger,
	opts Options,
) *Router {
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = DefaultDebounceDelay
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = DefaultEchoWindow
	}

	return &Router{
		store:      store,
		ledger:     ldg,
		local:      local,
		guard:      guard,
		marker:     marker,
		active:     activeProject,
		logger:     logger,
		clock:      time.Now,
		syncErrors: make(chan error, 8),
		tickets:    make(map[string]uint64),
		debounce:   make(map[string]*time.Timer),
		opts:       opts,
	}
}

// SyncErrors возвращает канал транзиентных ошибок синхронизации.
// Ошибки fetch не трогают ни ledger, ни локальные данные: безопасное
// поведение при любой неоднозначности - оставить локальную копию.
func (r *Router) SyncErrors() <-chan error {
	return r.syncErrors
}

// Run потребляет события подписки до закрытия канала или отмены контекста
func (r *Router) Run(ctx context.Context, events <-chan models.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.Route(ctx, event)
		}
	}
}

// Route обрабатывает одно уведомление
func (r *Router) Route(ctx context.Context, event models.ChangeEvent) {
	if r.isClosed() {
		return
	}

	// Echo suppression: собственная запись не должна немедленно
	// провоцировать реакцию "удаленные данные изменились"
	lastPersisted := r.marker.LastPersistedAt(event.ProjectID)
	if !lastPersisted.IsZero() && r.clock().Sub(lastPersisted) < r.opts.EchoWindow {
		r.logger.Debug("suppressing echo of own save",
			"project_id", event.ProjectID,
			"since_save", r.clock().Sub(lastPersisted))
		return
	}

	if event.IsProjectLevel() {
		r.debounceProjectFetch(ctx, event.ProjectID)
		return
	}

	r.fetchEntity(ctx, event.ProjectID, event.EntityType, event.EntityID)
}

// Close останавливает маршрутизатор: отложенные fetch отменяются,
// ответы уже выданных запросов будут отброшены
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for key, timer := range r.debounce {
		timer.Stop()
		delete(r.debounce, key)
	}
}

// debounceProjectFetch откладывает fetch уровня проекта, сбрасывая
// таймер по каждому следующему уведомлению всплеска
func (r *Router) debounceProjectFetch(ctx context.Context, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if timer, ok := r.debounce[projectID]; ok {
		timer.Reset(r.opts.DebounceDelay)
		return
	}

	r.debounce[projectID] = time.AfterFunc(r.opts.DebounceDelay, func() {
		r.mu.Lock()
		delete(r.debounce, projectID)
		r.mu.Unlock()
		r.fetchProject(ctx, projectID)
	})
}

// fetchProject выполняет fetch всего проекта и применяет его с защитой
// локально грязных полей
func (r *Router) fetchProject(ctx context.Context, projectID string) {
	ticket := r.mintTicket("project/" + projectID)

	remote, err := r.store.ReadProject(ctx, projectID)
	if err != nil {
		r.reportError(projectID, err)
		return
	}

	if !r.applicable(ticket, "project/"+projectID, projectID) {
		return
	}

	local := r.local.Project(projectID)
	if local == nil {
		r.local.ReplaceProject(remote)
		return
	}

	r.local.ReplaceProject(r.mergeProject(local, remote))
	r.logger.Debug("applied remote project state",
		"project_id", projectID,
		"remote_version", remote.Version)
}

// fetchEntity выполняет fetch по уведомлению уровня сущности
func (r *Router) fetchEntity(ctx context.Context, projectID string, entityType models.EntityType, entityID string) {
	key := "entity/" + entityID
	ticket := r.mintTicket(key)

	// Поверхность хранилища читается проектом; из ответа берется
	// только затронутая сущность
	remote, err := r.store.ReadProject(ctx, projectID)
	if err != nil {
		r.reportError(projectID, err)
		return
	}

	if !r.applicable(ticket, key, projectID) {
		return
	}

	local := r.local.Project(projectID)
	if local == nil {
		r.local.ReplaceProject(remote)
		return
	}

	switch entityType {
	case models.EntityTask:
		remoteTask := remote.FindTask(entityID)
		if remoteTask == nil {
			// Сущности нет в удаленном снимке - локальную копию не трогаем
			return
		}
		r.local.UpsertTask(projectID, r.mergeTask(projectID, local, remoteTask))

	case models.EntityConnection:
		remoteConn := remote.FindConnection(entityID)
		if remoteConn == nil {
			return
		}
		r.local.UpsertConnection(projectID, r.mergeConnection(projectID, local, remoteConn))
	}
}

// mergeProject сливает удаленный проект в локальный посущностно
func (r *Router) mergeProject(local, remote *models.Project) *models.Project {
	result := remote.Clone()
	result.Tasks = result.Tasks[:0]
	result.Connections = result.Connections[:0]

	seen := make(map[string]bool)

	for i := range remote.Tasks {
		remoteTask := &remote.Tasks[i]
		seen[remoteTask.ID] = true
		result.Tasks = append(result.Tasks, *r.mergeTask(local.ID, local, remoteTask))
	}
	for i := range remote.Connections {
		remoteConn := &remote.Connections[i]
		seen[remoteConn.ID] = true
		result.Connections = append(result.Connections, *r.mergeConnection(local.ID, local, remoteConn))
	}

	// Сущности, которых удаленная сторона еще не видела (локальные
	// create), сохраняются: неоднозначность решается в пользу локальной копии
	for i := range local.Tasks {
		if !seen[local.Tasks[i].ID] && r.ledger.DirtyFields(local.ID, local.Tasks[i].ID) != nil {
			result.Tasks = append(result.Tasks, *local.Tasks[i].Clone())
		}
	}
	for i := range local.Connections {
		if !seen[local.Connections[i].ID] && r.ledger.DirtyFields(local.ID, local.Connections[i].ID) != nil {
			result.Connections = append(result.Connections, *local.Connections[i].Clone())
		}
	}

	return result
}

// mergeTask применяет удаленную задачу с учетом edit guard
func (r *Router) mergeTask(projectID string, local *models.Project, remoteTask *models.Task) *models.Task {
	localTask := local.FindTask(remoteTask.ID)
	if localTask == nil {
		return remoteTask.Clone()
	}

	protected := r.protectedFields(projectID, remoteTask.ID)
	if len(protected) == 0 {
		return remoteTask.Clone()
	}

	return merge.MergeRemoteTask(localTask, remoteTask, protected)
}

// mergeConnection применяет удаленную связь с учетом edit guard
func (r *Router) mergeConnection(projectID string, local *models.Project, remoteConn *models.Connection) *models.Connection {
	localConn := local.FindConnection(remoteConn.ID)
	if localConn == nil {
		return remoteConn.Clone()
	}

	protected := r.protectedFields(projectID, remoteConn.ID)
	if len(protected) == 0 {
		return remoteConn.Clone()
	}

	return merge.MergeRemoteConnection(localConn, remoteConn, protected)
}

// protectedFields возвращает поля, защищенные от затирания удаленным
// обновлением: локально грязные по ledger плюс все поля сущности,
// которую пользователь редактирует прямо сейчас. Tombstone в эти
// границы не входит - он применяется всегда (merge.MergeRemote*).
func (r *Router) protectedFields(projectID, entityID string) models.FieldSet {
	protected := models.NewFieldSet()

	if dirty := r.ledger.DirtyFields(projectID, entityID); dirty != nil {
		protected.Union(dirty)
	}

	if r.guard.IsEditing(projectID, entityID) {
		protected.Union(models.TaskFields()).Union(models.ConnectionFields())
	}

	return protected
}

// mintTicket выдает следующий монотонный тикет для ключа запроса
func (r *Router) mintTicket(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[key]++
	return r.tickets[key]
}

// applicable проверяет, можно ли применять ответ: тикет все еще
// наивысший, сервис не закрыт, активный проект не сменился
func (r *Router) applicable(ticket uint64, key, projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if r.tickets[key] != ticket {
		// Ответ перегнал более свежий запрос - устаревший результат
		// отбрасывается даже если он пришел позже
		r.logger.Debug("dropping stale fetch response",
			"key", key,
			"ticket", ticket,
			"latest", r.tickets[key])
		return false
	}
	if r.active != nil && r.active() != projectID {
		r.logger.Debug("dropping response for inactive project",
			"project_id", projectID)
		return false
	}
	return true
}

// reportError фиксирует транзиентную ошибку синхронизации
func (r *Router) reportError(projectID string, err error) {
	r.logger.Warn("remote fetch failed, keeping local state",
		"project_id", projectID,
		"error", err)
	select {
	case r.syncErrors <- err:
	default:
	}
}

func (r *Router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
