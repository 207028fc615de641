// Package ledger реализует change ledger - учет локальных изменений,
// ожидающих синхронизации. На каждую сущность (project, entity-type,
// entity-id) существует не более одной записи: новые намерения схлопываются
// в существующую по таблице переходов (например, create+delete взаимно
// уничтожаются).
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/taskgraph/internal/models"
)

//go:generate moq -out ledger_mock.go . Ledger

// Ledger определяет интерфейс учета несинхронизированных изменений
type Ledger interface {
	// TrackCreate регистрирует намерение создать сущность
	TrackCreate(projectID string, entity models.Entity) error

	// TrackUpdate регистрирует намерение изменить сущность.
	// changedFields объединяются с уже накопленными (монотонный union).
	TrackUpdate(projectID string, entity models.Entity, changedFields models.FieldSet) error

	// TrackDelete регистрирует намерение удалить сущность
	TrackDelete(projectID string, entityType models.EntityType, entityID string)

	// ProjectChanges возвращает агрегированную сводку изменений проекта
	ProjectChanges(projectID string) models.ProjectChangeSummary

	// PendingRecords возвращает копии всех записей проекта
	// в детерминированном порядке (creates, updates, deletes; внутри - по ключу)
	PendingRecords(projectID string) []*models.ChangeRecord

	// DirtyFields возвращает накопленные измененные поля сущности.
	// Возвращает nil, если по сущности нет записи.
	// Используется маршрутизатором входящих изменений для edit guard.
	DirtyFields(projectID, entityID string) models.FieldSet

	// HasPendingChanges проверяет наличие несинхронизированных изменений
	HasPendingChanges(projectID string) bool

	// ClearProjectChanges удаляет все записи проекта
	ClearProjectChanges(projectID string)

	// ClearEntityChange удаляет запись одной сущности
	ClearEntityChange(projectID, entityID string)

	// ClearSubsumed удаляет записи, покрытые успешным сохранением.
	// Запись удаляется только если она не была изменена после снятия
	// снимка (сравнение по Timestamp) - более поздние правки остаются.
	ClearSubsumed(projectID string, saved []*models.ChangeRecord)

	// ExportPendingChanges возвращает копии всех записей (для crash recovery)
	ExportPendingChanges() []*models.ChangeRecord

	// ImportPendingChanges загружает записи (восстановление после рестарта)
	ImportPendingChanges(records []*models.ChangeRecord)

	// Audit проверяет накопленные изменения проекта против текущего
	// локального состояния перед полной синхронизацией
	Audit(projectID string, current *models.Project) *AuditReport
}

// entityKey уникальный ключ записи
type entityKey struct {
	projectID  string
	entityID   string
	entityType models.EntityType
}

// tracker реализует Ledger поверх in-memory map с мьютексом
type tracker struct {
	records map[entityKey]*models.ChangeRecord
	logger  *slog.Logger
	clock   func() time.Time
	policy  AuditPolicy
	mu      sync.Mutex
}

// New создает новый change ledger с порогами аудита по умолчанию
func New(logger *slog.Logger) Ledger {
	return NewWithPolicy(logger, DefaultAuditPolicy())
}

// NewWithPolicy создает change ledger с настраиваемыми порогами аудита
func NewWithPolicy(logger *slog.Logger, policy AuditPolicy) Ledger {
	return &tracker{
		records: make(map[entityKey]*models.ChangeRecord),
		logger:  logger,
		clock:   time.Now,
		policy:  policy,
	}
}

// TrackCreate регистрирует намерение создать сущность.
// Переходы: none->create; delete->update (воскрешение считается обновлением,
// а не новым созданием); create/update->предупреждение, payload обновляется.
func (t *tracker) TrackCreate(projectID string, entity models.Entity) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity payload: %w", err)
	}

	key := entityKey{projectID: projectID, entityType: entity.EntityKind(), entityID: entity.EntityID()}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.records[key]
	if !ok {
		t.records[key] = &models.ChangeRecord{
			ProjectID:     projectID,
			EntityType:    entity.EntityKind(),
			EntityID:      entity.EntityID(),
			ChangeType:    models.ChangeCreate,
			ChangedFields: models.NewFieldSet(),
			Payload:       payload,
			Timestamp:     t.clock(),
		}
		return nil
	}

	switch existing.ChangeType {
	case models.ChangeDelete:
		// Воскрешение удаленной сущности - это update, не свежий create:
		// удаленная сторона могла уже видеть запись.
		existing.ChangeType = models.ChangeUpdate
		existing.ChangedFields = allFields(entity.EntityKind())
	default:
		// Повторный create по существующему ключу - аномалия вызывающего кода
		t.logger.Warn("create tracked for already tracked entity",
			"project_id", projectID,
			"entity_id", entity.EntityID(),
			"existing", existing.ChangeType)
	}

	existing.Payload = payload
	existing.Timestamp = t.clock()
	return nil
}

// TrackUpdate регистрирует намерение изменить сущность.
// Переходы: none->update; create->create (union полей, свежий payload);
// update->update (union полей).
func (t *tracker) TrackUpdate(projectID string, entity models.Entity, changedFields models.FieldSet) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity payload: %w", err)
	}

	key := entityKey{projectID: projectID, entityType: entity.EntityKind(), entityID: entity.EntityID()}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.records[key]
	if !ok {
		t.records[key] = &models.ChangeRecord{
			ProjectID:     projectID,
			EntityType:    entity.EntityKind(),
			EntityID:      entity.EntityID(),
			ChangeType:    models.ChangeUpdate,
			ChangedFields: changedFields.Clone(),
			Payload:       payload,
			Timestamp:     t.clock(),
		}
		return nil
	}

	switch existing.ChangeType {
	case models.ChangeCreate:
		// Сущность еще не существует удаленно: остаемся create,
		// но запоминаем измененные поля и берем свежий payload
		existing.ChangedFields.Union(changedFields)
	case models.ChangeUpdate:
		existing.ChangedFields.Union(changedFields)
	case models.ChangeDelete:
		// Update после delete - аномалия: сущность уже помечена на удаление
		t.logger.Warn("update tracked for entity pending delete, keeping delete",
			"project_id", projectID,
			"entity_id", entity.EntityID())
		return nil
	}

	existing.Payload = payload
	existing.Timestamp = t.clock()
	return nil
}

// TrackDelete регистрирует намерение удалить сущность.
// Переходы: none->delete; create->запись снимается (сущность "никогда
// не существовала"); update->delete.
func (t *tracker) TrackDelete(projectID string, entityType models.EntityType, entityID string) {
	key := entityKey{projectID: projectID, entityType: entityType, entityID: entityID}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.records[key]
	if !ok {
		t.records[key] = &models.ChangeRecord{
			ProjectID:     projectID,
			EntityType:    entityType,
			EntityID:      entityID,
			ChangeType:    models.ChangeDelete,
			ChangedFields: models.NewFieldSet(),
			Timestamp:     t.clock(),
		}
		return
	}

	if existing.ChangeType == models.ChangeCreate {
		// create+delete взаимно уничтожаются: удаленная сторона
		// никогда не видела эту сущность
		delete(t.records, key)
		return
	}

	existing.ChangeType = models.ChangeDelete
	existing.Payload = nil
	existing.Timestamp = t.clock()
}

// ProjectChanges возвращает сводку изменений проекта
func (t *tracker) ProjectChanges(projectID string) models.ProjectChangeSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := models.ProjectChangeSummary{ProjectID: projectID}
	for key, record := range t.records {
		if key.projectID != projectID {
			continue
		}
		summary.Total++
		switch {
		case key.entityType == models.EntityTask && record.ChangeType == models.ChangeCreate:
			summary.CreatedTasks++
		case key.entityType == models.EntityTask && record.ChangeType == models.ChangeUpdate:
			summary.UpdatedTasks++
		case key.entityType == models.EntityTask && record.ChangeType == models.ChangeDelete:
			summary.DeletedTasks++
		case key.entityType == models.EntityConnection && record.ChangeType == models.ChangeCreate:
			summary.CreatedConnections++
		case key.entityType == models.EntityConnection && record.ChangeType == models.ChangeUpdate:
			summary.UpdatedConnections++
		case key.entityType == models.EntityConnection && record.ChangeType == models.ChangeDelete:
			summary.DeletedConnections++
		}
	}
	return summary
}

// changeOrder порядок применения изменений при replay: сначала creates
// (сущности должны существовать до ссылок на них), затем updates, затем deletes
var changeOrder = map[models.ChangeType]int{
	models.ChangeCreate: 0,
	models.ChangeUpdate: 1,
	models.ChangeDelete: 2,
}

// PendingRecords возвращает копии записей проекта в детерминированном порядке
func (t *tracker) PendingRecords(projectID string) []*models.ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var records []*models.ChangeRecord
	for key, record := range t.records {
		if key.projectID == projectID {
			records = append(records, record.Clone())
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if changeOrder[records[i].ChangeType] != changeOrder[records[j].ChangeType] {
			return changeOrder[records[i].ChangeType] < changeOrder[records[j].ChangeType]
		}
		if records[i].EntityType != records[j].EntityType {
			return records[i].EntityType < records[j].EntityType
		}
		return records[i].EntityID < records[j].EntityID
	})

	return records
}

// DirtyFields возвращает накопленные измененные поля сущности
func (t *tracker) DirtyFields(projectID, entityID string) models.FieldSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, record := range t.records {
		if key.projectID == projectID && key.entityID == entityID {
			if record.ChangeType == models.ChangeCreate {
				// Сущность целиком локальная - защищены все поля
				return allFields(key.entityType)
			}
			return record.ChangedFields.Clone()
		}
	}
	return nil
}

// HasPendingChanges проверяет наличие несинхронизированных изменений проекта
func (t *tracker) HasPendingChanges(projectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.records {
		if key.projectID == projectID {
			return true
		}
	}
	return false
}

// ClearProjectChanges удаляет все записи проекта
func (t *tracker) ClearProjectChanges(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.records {
		if key.projectID == projectID {
			delete(t.records, key)
		}
	}
}

// ClearEntityChange удаляет запись одной сущности
func (t *tracker) ClearEntityChange(projectID, entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.records {
		if key.projectID == projectID && key.entityID == entityID {
			delete(t.records, key)
		}
	}
}

// ClearSubsumed удаляет записи, покрытые успешным сохранением
func (t *tracker) ClearSubsumed(projectID string, saved []*models.ChangeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, savedRecord := range saved {
		key := entityKey{
			projectID:  projectID,
			entityType: savedRecord.EntityType,
			entityID:   savedRecord.EntityID,
		}
		current, ok := t.records[key]
		if !ok {
			continue
		}
		// Запись, измененная после снятия снимка, не покрыта этим
		// сохранением - ее заберет следующее
		if current.Timestamp.After(savedRecord.Timestamp) {
			t.logger.Debug("keeping change record modified after save snapshot",
				"project_id", projectID,
				"entity_id", savedRecord.EntityID)
			continue
		}
		delete(t.records, key)
	}
}

// ExportPendingChanges возвращает копии всех записей
func (t *tracker) ExportPendingChanges() []*models.ChangeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := make([]*models.ChangeRecord, 0, len(t.records))
	for _, record := range t.records {
		records = append(records, record.Clone())
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].ProjectID != records[j].ProjectID {
			return records[i].ProjectID < records[j].ProjectID
		}
		return records[i].EntityID < records[j].EntityID
	})

	return records
}

// ImportPendingChanges загружает записи после рестарта.
// Записи с дублирующимся ключом перезаписывают более ранние.
func (t *tracker) ImportPendingChanges(records []*models.ChangeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, record := range records {
		if record == nil {
			continue
		}
		key := entityKey{
			projectID:  record.ProjectID,
			entityType: record.EntityType,
			entityID:   record.EntityID,
		}
		clone := record.Clone()
		if clone.ChangedFields == nil {
			clone.ChangedFields = models.NewFieldSet()
		}
		t.records[key] = clone
	}
}

// allFields возвращает полный набор полей для типа сущности
func allFields(entityType models.EntityType) models.FieldSet {
	if entityType == models.EntityConnection {
		return models.ConnectionFields()
	}
	return models.TaskFields()
}
