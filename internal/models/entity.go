package models

// Entity общий интерфейс сущностей графа задач.
// Дает change ledger и маршрутизатору единый способ получить ключ
// (EntityType, EntityID) без рефлексии по конкретному типу.
type Entity interface {
	EntityID() string
	EntityKind() EntityType
}

// EntityID возвращает идентификатор задачи.
func (t *Task) EntityID() string { return t.ID }

// EntityKind возвращает тип сущности "task".
func (t *Task) EntityKind() EntityType { return EntityTask }

// EntityID возвращает идентификатор связи.
func (c *Connection) EntityID() string { return c.ID }

// EntityKind возвращает тип сущности "connection".
func (c *Connection) EntityKind() EntityType { return EntityConnection }

// Имена синхронизируемых полей сущностей. Используются в FieldSet:
// change ledger записывает их как метаданные изменений, field-level merge
// применяет их как границы защиты локальных правок.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldParentID    = "parent_id"
	FieldPosition    = "position"
	FieldSourceID    = "source_id"
	FieldTargetID    = "target_id"
	FieldKind        = "kind"
	FieldDeletedAt   = "deleted_at"
)

// TaskFields возвращает полный набор синхронизируемых полей задачи.
func TaskFields() FieldSet {
	return NewFieldSet(FieldTitle, FieldDescription, FieldStatus, FieldParentID, FieldPosition, FieldDeletedAt)
}

// ConnectionFields возвращает полный набор синхронизируемых полей связи.
func ConnectionFields() FieldSet {
	return NewFieldSet(FieldSourceID, FieldTargetID, FieldKind, FieldDeletedAt)
}
