package models

import (
	"sort"
	"time"
)

// ChangeType тип локального изменения, ожидающего синхронизации.
type ChangeType string

// Типы изменений
const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// EntityType тип сущности графа задач.
type EntityType string

// Типы сущностей
const (
	EntityTask       EntityType = "task"
	EntityConnection EntityType = "connection"
)

// FieldSet множество имен измененных полей.
// Растет монотонно: поля только добавляются (union), но не удаляются.
// Используется маршрутизатором входящих изменений для field-level merge -
// никогда для решения, синхронизировать ли запись вообще.
type FieldSet map[string]struct{}

// NewFieldSet создает FieldSet из списка имен полей.
func NewFieldSet(fields ...string) FieldSet {
	fs := make(FieldSet, len(fields))
	for _, f := range fields {
		fs[f] = struct{}{}
	}
	return fs
}

// Union добавляет все поля из other. Возвращает приёмник для чейнинга.
func (fs FieldSet) Union(other FieldSet) FieldSet {
	for f := range other {
		fs[f] = struct{}{}
	}
	return fs
}

// Contains проверяет наличие поля в множестве.
func (fs FieldSet) Contains(field string) bool {
	_, ok := fs[field]
	return ok
}

// List возвращает отсортированный список полей (для логов и сериализации).
func (fs FieldSet) List() []string {
	if len(fs) == 0 {
		return nil
	}
	fields := make([]string, 0, len(fs))
	for f := range fs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Clone создает копию множества.
func (fs FieldSet) Clone() FieldSet {
	c := make(FieldSet, len(fs))
	for f := range fs {
		c[f] = struct{}{}
	}
	return c
}

// ChangeRecord представляет одно накопленное локальное изменение сущности.
// Ключ уникальности - (ProjectID, EntityType, EntityID): на одну сущность
// существует не более одной записи, новые намерения схлопываются в
// существующую по таблице переходов change ledger.
type ChangeRecord struct {
	Timestamp     time.Time  `json:"timestamp"`      // Timestamp время последнего намерения
	ChangedFields FieldSet   `json:"changed_fields"` // ChangedFields измененные поля (для update)
	Payload       []byte     `json:"payload"`        // Payload JSON-снимок сущности (для create/update)
	ProjectID     string     `json:"project_id"`
	EntityID      string     `json:"entity_id"`
	EntityType    EntityType `json:"entity_type"`
	ChangeType    ChangeType `json:"change_type"`
}

// Clone создает глубокую копию записи.
func (r *ChangeRecord) Clone() *ChangeRecord {
	c := *r
	c.ChangedFields = r.ChangedFields.Clone()
	c.Payload = make([]byte, len(r.Payload))
	copy(c.Payload, r.Payload)
	return &c
}

// ProjectChangeSummary агрегирует все ChangeRecord проекта.
// Производное значение: вычисляется по запросу, никогда не хранится.
type ProjectChangeSummary struct {
	ProjectID          string `json:"project_id"`
	CreatedTasks       int    `json:"created_tasks"`
	UpdatedTasks       int    `json:"updated_tasks"`
	DeletedTasks       int    `json:"deleted_tasks"`
	CreatedConnections int    `json:"created_connections"`
	UpdatedConnections int    `json:"updated_connections"`
	DeletedConnections int    `json:"deleted_connections"`
	Total              int    `json:"total"`
}
