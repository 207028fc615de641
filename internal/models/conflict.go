package models

import "time"

// ConflictReason причина, по которой сохранение попало в карантин.
type ConflictReason string

// Причины конфликтов
const (
	// ReasonVersionMismatch - удаленная версия ушла вперед, и auto-rebase
	// не смог переиграть локальные изменения поверх свежего снимка.
	ReasonVersionMismatch ConflictReason = "version_mismatch"

	// ReasonConcurrentEdit - одно и то же поле изменено и локально, и удаленно.
	ReasonConcurrentEdit ConflictReason = "concurrent_edit"
)

// ConflictRecord представляет конфликт синхронизации, помещенный в карантин.
// На проект существует не более одной записи (primary key = ProjectID).
// Запись создается, когда save pipeline не смог разрешить гонку версий,
// и удаляется после разрешения пользователем (keep-local / keep-remote).
type ConflictRecord struct {
	ConflictedAt     time.Time      `json:"conflicted_at"`
	LocalProject     *Project       `json:"local_project"`     // LocalProject полный локальный снимок
	RemoteProject    *Project       `json:"remote_project"`    // RemoteProject полный удаленный снимок (может отсутствовать)
	ProjectID        string         `json:"project_id"`
	Reason           ConflictReason `json:"reason"`
	ConflictedFields []string       `json:"conflicted_fields"` // ConflictedFields поля, изменённые с обеих сторон
	LocalVersion     int64          `json:"local_version"`
	RemoteVersion    int64          `json:"remote_version"`
	Acknowledged     bool           `json:"acknowledged"` // Acknowledged пользователь видел конфликт в UI
}

// ConflictMeta облегченное представление конфликта для быстрых проверок
// "есть ли конфликты" и для local-storage fallback (только метаданные,
// без полных снимков проектов).
type ConflictMeta struct {
	ConflictedAt  time.Time      `json:"conflicted_at"`
	ProjectID     string         `json:"project_id"`
	Reason        ConflictReason `json:"reason"`
	LocalVersion  int64          `json:"local_version"`
	RemoteVersion int64          `json:"remote_version"`
}

// Meta возвращает облегченное представление записи.
func (c *ConflictRecord) Meta() ConflictMeta {
	return ConflictMeta{
		ProjectID:     c.ProjectID,
		ConflictedAt:  c.ConflictedAt,
		Reason:        c.Reason,
		LocalVersion:  c.LocalVersion,
		RemoteVersion: c.RemoteVersion,
	}
}
