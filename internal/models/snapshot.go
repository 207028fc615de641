package models

import "time"

// SnapshotSchemaVersion текущая версия схемы offline-снимка.
// Увеличивается при несовместимых изменениях структуры Snapshot;
// миграция дозаполняет недостающие поля значениями по умолчанию
// и никогда не удаляет данные.
const SnapshotSchemaVersion = 2

// Snapshot представляет offline-снимок всех проектов под well-known
// локальным ключом. Загружается при старте и пишется как страховка
// при каждой ошибке сохранения.
type Snapshot struct {
	SavedAt       time.Time `json:"saved_at"`
	Projects      []Project `json:"projects"`
	SchemaVersion int       `json:"schema_version"`
}

// Migrate приводит снимок к текущей версии схемы.
// Возвращает true, если снимок был изменен.
func (s *Snapshot) Migrate() bool {
	if s.SchemaVersion >= SnapshotSchemaVersion {
		return false
	}

	// v1 -> v2: у задач появились Status и ParentID; старые снимки
	// дозаполняются значениями по умолчанию.
	for i := range s.Projects {
		for j := range s.Projects[i].Tasks {
			if s.Projects[i].Tasks[j].Status == "" {
				s.Projects[i].Tasks[j].Status = StatusTodo
			}
		}
		for j := range s.Projects[i].Connections {
			if s.Projects[i].Connections[j].Kind == "" {
				s.Projects[i].Connections[j].Kind = ConnectionDependency
			}
		}
	}

	s.SchemaVersion = SnapshotSchemaVersion
	return true
}
