package models

import "time"

// EventType тип удаленного изменения строки.
type EventType string

// Типы событий
const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent представляет уведомление об изменении строки в удаленном
// хранилище. Сервер рассылает события по одной строке; клиентский
// маршрутизатор сам коалесцирует всплески в один fetch.
type ChangeEvent struct {
	OccurredAt time.Time  `json:"occurred_at"`
	ProjectID  string     `json:"project_id"`
	EntityID   string     `json:"entity_id"` // EntityID пустой для событий уровня проекта
	EntityType EntityType `json:"entity_type"`
	EventType  EventType  `json:"event_type"`
	Version    int64      `json:"version"` // Version версия проекта после изменения
}

// IsProjectLevel возвращает true для события уровня проекта (без EntityID).
func (e *ChangeEvent) IsProjectLevel() bool {
	return e.EntityID == ""
}
