// Package pipeline реализует save pipeline: сериализованную очередь
// с единственным потребителем, выполняющую не более одной optimistic-
// concurrency записи одновременно. Гонка версий разрешается auto-rebase;
// при провале rebase конфликт уходит в карантин, и автоматическая
// синхронизация проекта останавливается до разрешения пользователем.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/client/ledger"
	"github.com/iudanet/taskgraph/internal/client/merge"
	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/models"
)

// Параметры очереди по умолчанию
const (
	// DefaultQueueCapacity глубина очереди; сверх нее запросы не
	// ставятся в очередь, а немедленно разрешаются оптимистично
	// ("принято, данные уже в безопасности локально")
	DefaultQueueCapacity = 50

	// DefaultQueueWaitTimeout предельное время ожидания в очереди;
	// состарившийся запрос разрешается оптимистично без записи -
	// актуальный payload унесет следующее сохранение
	DefaultQueueWaitTimeout = 30 * time.Second

	// DefaultWriteTimeout жесткий таймаут одной сетевой записи;
	// зависший вызов обрывается и превращается в retryable failure,
	// а не блокирует очередь
	DefaultWriteTimeout = 15 * time.Second
)

// ErrConflictPending проект заблокирован неразрешенным конфликтом
var ErrConflictPending = errors.New("project has unresolved conflict, sync paused")

// SaveResult результат одной попытки сохранения
type SaveResult struct {
	// RemoteSnapshot свежий удаленный снимок; заполнен при конфликте
	// и при успешном rebase
	RemoteSnapshot *models.Project
	// Err причина неуспеха (транзиентная ошибка, истекшая сессия)
	Err error
	// NewVersion версия проекта после успешной записи
	NewVersion int64
	// Success запись подтверждена (или принята оптимистично)
	Success bool
	// Conflict гонка версий, которую rebase не примирил; создана
	// запись карантина
	Conflict bool
	// Optimistic запрос разрешен без записи (переполнение или
	// устаревание очереди): данные в безопасности локально
	Optimistic bool
}

// Options настройки pipeline
type Options struct {
	QueueCapacity    int
	QueueWaitTimeout time.Duration
	WriteTimeout     time.Duration
}

// saveRequest один элемент очереди
type saveRequest struct {
	enqueuedAt time.Time
	project    *models.Project
	base       *models.Project
	pending    []*models.ChangeRecord
	result     chan SaveResult
	baseVersion int64
}

// Pipeline сериализованная очередь сохранений
type Pipeline struct {
	store     backend.Store
	ledger    ledger.Ledger
	conflicts storage.ConflictStorage
	logger    *slog.Logger
	clock     func() time.Time

	requests chan *saveRequest
	done     chan struct{}
	stopped  sync.WaitGroup

	mu            sync.Mutex
	blocked       map[string]bool      // проекты с неразрешенным конфликтом
	lastPersisted map[string]time.Time // момент последней успешной записи (echo suppression)

	opts      Options
	closeOnce sync.Once
}

// New создает pipeline и запускает единственный worker
func New(store backend.Store, ldg ledger.Ledger, conflicts storage.ConflictStorage, logger *slog.Logger, opts Options) *Pipeline {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.QueueWaitTimeout <= 0 {
		opts.QueueWaitTimeout = DefaultQueueWaitTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	p := &Pipeline{
		store:         store,
		ledger:        ldg,
		conflicts:     conflicts,
		logger:        logger,
		clock:         time.Now,
		requests:      make(chan *saveRequest, opts.QueueCapacity),
		done:          make(chan struct{}),
		blocked:       make(map[string]bool),
		lastPersisted: make(map[string]time.Time),
		opts:          opts,
	}

	p.stopped.Add(1)
	go p.worker()

	return p
}

// EnqueueSave ставит сохранение проекта в очередь.
// project - снимок для записи, base - снимок на момент последней успешной
// синхронизации (nil, если ее не было). Результат приходит в возвращаемый
// канал ровно один раз.
// Запросы для проекта с неразрешенным конфликтом отклоняются сразу.
func (p *Pipeline) EnqueueSave(project *models.Project, base *models.Project) <-chan SaveResult {
	result := make(chan SaveResult, 1)

	if p.isBlocked(project.ID) {
		result <- SaveResult{Conflict: true, Err: ErrConflictPending}
		return result
	}

	req := &saveRequest{
		project:     project.Clone(),
		base:        cloneOrNil(base),
		baseVersion: project.Version,
		pending:     p.ledger.PendingRecords(project.ID),
		enqueuedAt:  p.clock(),
		result:      result,
	}

	select {
	case p.requests <- req:
	case <-p.done:
		result <- SaveResult{Success: true, Optimistic: true}
	default:
		// Очередь полна: не копим память, данные уже в безопасности
		// в локальном состоянии - их унесет следующее сохранение
		p.logger.Warn("save queue full, resolving optimistically",
			"project_id", project.ID,
			"capacity", p.opts.QueueCapacity)
		result <- SaveResult{Success: true, Optimistic: true}
	}

	return result
}

// Close останавливает worker. Оставшиеся в очереди запросы разрешаются
// оптимистично: их данные остаются в локальном состоянии.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.stopped.Wait()
}

// LastPersistedAt возвращает момент последней успешной записи проекта.
// Используется маршрутизатором входящих изменений для echo suppression.
func (p *Pipeline) LastPersistedAt(projectID string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPersisted[projectID]
}

// HasBlockedProject возвращает true, если проект ждет разрешения конфликта
func (p *Pipeline) HasBlockedProject(projectID string) bool {
	return p.isBlocked(projectID)
}

// UnblockProject снимает блокировку после разрешения конфликта пользователем
func (p *Pipeline) UnblockProject(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blocked, projectID)
}

// worker последовательно выполняет запросы очереди
func (p *Pipeline) worker() {
	defer p.stopped.Done()

	for {
		select {
		case <-p.done:
			p.drain()
			return
		case req := <-p.requests:
			req.result <- p.execute(req)
		}
	}
}

// drain оптимистично разрешает запросы, оставшиеся после Close
func (p *Pipeline) drain() {
	for {
		select {
		case req := <-p.requests:
			req.result <- SaveResult{Success: true, Optimistic: true}
		default:
			return
		}
	}
}

// execute выполняет одну попытку сохранения
func (p *Pipeline) execute(req *saveRequest) SaveResult {
	projectID := req.project.ID

	// Конфликт мог появиться, пока запрос стоял в очереди
	if p.isBlocked(projectID) {
		return SaveResult{Conflict: true, Err: ErrConflictPending}
	}

	// Запрос, состарившийся в очереди, разрешается без записи
	if p.clock().Sub(req.enqueuedAt) > p.opts.QueueWaitTimeout {
		p.logger.Info("save request aged out in queue, resolving optimistically",
			"project_id", projectID,
			"waited", p.clock().Sub(req.enqueuedAt))
		return SaveResult{Success: true, Optimistic: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.WriteTimeout)
	defer cancel()

	result, err := p.attemptWrite(ctx, req)
	if err != nil {
		if errors.Is(err, backend.ErrSessionExpired) {
			p.logger.Warn("session expired, sync paused, local data is safe",
				"project_id", projectID)
			return SaveResult{Err: err}
		}
		// Транзиентная ошибка: данные остаются локально, ledger не тронут
		p.logger.Warn("save attempt failed, will retry on next save",
			"project_id", projectID,
			"error", err)
		return SaveResult{Err: err}
	}

	return result
}

// attemptWrite выполняет optimistic-concurrency запись:
//  1. читает удаленную версию;
//  2. при отсутствии строки вставляет проект с версией 1;
//  3. при совпадении версий пишет compare-and-set предикатом
//     version = baseVersion;
//  4. ноль затронутых строк или расхождение версий - гонка: свежий
//     снимок, auto-rebase, одна повторная попытка, затем карантин.
func (p *Pipeline) attemptWrite(ctx context.Context, req *saveRequest) (SaveResult, error) {
	projectID := req.project.ID

	remote, err := p.readRemote(ctx, projectID)
	if err != nil && !errors.Is(err, backend.ErrProjectNotFound) {
		return SaveResult{}, err
	}

	if remote == nil {
		// Строки нет - вставка с версией 1
		rows, race, err := p.casWrite(ctx, req.project, 0)
		if err != nil {
			return SaveResult{}, err
		}
		if rows > 0 {
			p.markPersisted(projectID, 1, req)
			return SaveResult{Success: true, NewVersion: 1}, nil
		}
		// Кто-то вставил строку между чтением и записью
		return p.rebaseAndRetry(ctx, req, race)
	}

	if remote.Version != req.baseVersion {
		return p.rebaseAndRetry(ctx, req, remote)
	}

	rows, race, err := p.casWrite(ctx, req.project, req.baseVersion)
	if err != nil {
		return SaveResult{}, err
	}
	if rows == 0 {
		// Другой писатель успел увеличить версию между чтением и записью
		return p.rebaseAndRetry(ctx, req, race)
	}

	newVersion := req.baseVersion + 1
	p.markPersisted(projectID, newVersion, req)
	return SaveResult{Success: true, NewVersion: newVersion}, nil
}

// rebaseAndRetry переигрывает накопленные локальные изменения поверх
// свежего удаленного снимка и повторяет запись один раз.
// fresh - снимок, уже доставленный отказом предиката (тело 409) или
// предшествующим чтением; nil вынуждает отдельное чтение.
func (p *Pipeline) rebaseAndRetry(ctx context.Context, req *saveRequest, fresh *models.Project) (SaveResult, error) {
	projectID := req.project.ID

	if fresh == nil {
		var err error
		fresh, err = p.readRemote(ctx, projectID)
		if err != nil {
			return SaveResult{}, err
		}
	}

	p.logger.Info("version race detected, attempting auto-rebase",
		"project_id", projectID,
		"local_version", req.baseVersion,
		"remote_version", fresh.Version)

	rebased, err := merge.Rebase(fresh, req.base, req.pending)
	if err != nil {
		return SaveResult{}, fmt.Errorf("rebase failed: %w", err)
	}

	if rebased.Failed() {
		return p.quarantine(ctx, req, fresh, rebased.ConflictedFields)
	}

	rows, _, err := p.casWrite(ctx, rebased.Project, fresh.Version)
	if err != nil {
		return SaveResult{}, err
	}
	if rows == 0 {
		// Версия ушла вперед второй раз подряд - дальше не гонимся
		return p.quarantine(ctx, req, fresh, nil)
	}

	newVersion := fresh.Version + 1
	p.markPersisted(projectID, newVersion, req)

	p.logger.Info("auto-rebase succeeded",
		"project_id", projectID,
		"new_version", newVersion)

	snapshot := rebased.Project.Clone()
	snapshot.Version = newVersion
	return SaveResult{Success: true, NewVersion: newVersion, RemoteSnapshot: snapshot}, nil
}

// quarantine помещает конфликт в durable карантин и блокирует
// автоматическую синхронизацию проекта
func (p *Pipeline) quarantine(ctx context.Context, req *saveRequest, fresh *models.Project, conflictedFields []string) (SaveResult, error) {
	projectID := req.project.ID

	reason := models.ReasonVersionMismatch
	if len(conflictedFields) > 0 {
		reason = models.ReasonConcurrentEdit
	}

	record := &models.ConflictRecord{
		ProjectID:        projectID,
		LocalProject:     req.project,
		RemoteProject:    fresh,
		ConflictedAt:     p.clock(),
		LocalVersion:     req.baseVersion,
		Reason:           reason,
		ConflictedFields: conflictedFields,
	}
	if fresh != nil {
		record.RemoteVersion = fresh.Version
	}

	if err := p.conflicts.SaveConflict(ctx, record); err != nil {
		// Карантин деградировал, но конфликтное состояние все равно
		// блокирует проект - ledger остается нетронутым
		p.logger.Error("failed to persist conflict record",
			"project_id", projectID,
			"error", err)
	}

	p.mu.Lock()
	p.blocked[projectID] = true
	p.mu.Unlock()

	p.logger.Warn("save conflict quarantined",
		"project_id", projectID,
		"reason", reason,
		"conflicted_fields", conflictedFields)

	return SaveResult{Conflict: true, RemoteSnapshot: fresh}, nil
}

// readRemote читает удаленный проект с повтором транзиентных ошибок
func (p *Pipeline) readRemote(ctx context.Context, projectID string) (*models.Project, error) {
	var remote *models.Project

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		project, err := p.store.ReadProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, backend.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		remote = project
		return nil
	})
	if err != nil {
		return nil, err
	}

	return remote, nil
}

// casWrite выполняет compare-and-set запись с повтором транзиентных ошибок.
// При отказе предиката возвращает ноль строк и снимок гонки, если
// транспорт его доставил.
func (p *Pipeline) casWrite(ctx context.Context, project *models.Project, expectedVersion int64) (int64, *models.Project, error) {
	var rows int64
	var race *models.Project

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, snapshot, err := p.store.CompareAndSetProject(ctx, project, expectedVersion)
		if err != nil {
			if errors.Is(err, backend.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			if errors.Is(err, backend.ErrVersionMismatch) {
				// Явный отказ предиката эквивалентен нулю затронутых строк
				rows = 0
				return nil
			}
			return err
		}
		rows, race = n, snapshot
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return rows, race, nil
}

// markPersisted фиксирует успешную запись: очищает покрытые записи ledger
// и запоминает момент для echo suppression
func (p *Pipeline) markPersisted(projectID string, newVersion int64, req *saveRequest) {
	p.ledger.ClearSubsumed(projectID, req.pending)

	p.mu.Lock()
	p.lastPersisted[projectID] = p.clock()
	p.mu.Unlock()

	p.logger.Info("project saved",
		"project_id", projectID,
		"version", newVersion,
		"cleared_records", len(req.pending))
}

func (p *Pipeline) isBlocked(projectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked[projectID]
}

func cloneOrNil(project *models.Project) *models.Project {
	if project == nil {
		return nil
	}
	return project.Clone()
}
