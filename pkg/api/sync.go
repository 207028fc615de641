package api

import "github.com/iudanet/taskgraph/internal/models"

// ProjectResponse представляет ответ сервера с проектом и его текущей версией
type ProjectResponse struct {
	Project *models.Project `json:"project"`
	Version int64           `json:"version"` // текущая версия строки проекта
}

// SaveProjectRequest представляет запрос на сохранение проекта
// с проверкой версии (compare-and-set)
type SaveProjectRequest struct {
	Project         *models.Project `json:"project"`
	ExpectedVersion int64           `json:"expected_version"` // версия, против которой вычислялось сохранение
}

// SaveProjectResponse представляет ответ сервера на сохранение
type SaveProjectResponse struct {
	// RemoteProject свежий удаленный снимок; заполняется при конфликте версий
	RemoteProject *models.Project `json:"remote_project,omitempty"`
	NewVersion    int64           `json:"new_version"`   // версия после успешной записи
	RowsAffected  int64           `json:"rows_affected"` // 0 = compare-and-set не прошел
}

// WriteEntitiesRequest представляет запрос на запись отдельных сущностей
type WriteEntitiesRequest struct {
	ProjectID   string              `json:"project_id"`
	Tasks       []models.Task       `json:"tasks,omitempty"`
	Connections []models.Connection `json:"connections,omitempty"`
}

// DeleteEntitiesRequest представляет запрос на мягкое удаление сущностей
type DeleteEntitiesRequest struct {
	ProjectID string   `json:"project_id"`
	IDs       []string `json:"ids"`
}

// SubscribeFilter параметры подписки на события изменений
type SubscribeFilter struct {
	ProjectID string `json:"project_id"` // пустой = все проекты пользователя
}
