package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/taskgraph/internal/models"
	"github.com/iudanet/taskgraph/internal/validation"
)

// Ошибки мутаций графа
var (
	ErrProjectNotLoaded = fmt.Errorf("project is not loaded")
	ErrTaskNotFound     = fmt.Errorf("task not found")
	ErrConnNotFound     = fmt.Errorf("connection not found")
)

// CreateProject создает новый локальный проект. Первое сохранение
// вставит его в удаленное хранилище с версией 1.
func (e *Engine) CreateProject(name string) (*models.Project, error) {
	project := &models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		UpdatedAt: e.clock(),
	}

	e.mu.Lock()
	e.projects[project.ID] = project
	e.mu.Unlock()

	e.logger.Info("project created", "project_id", project.ID, "name", name)
	return project.Clone(), nil
}

// CreateTask добавляет задачу в граф и помечает намерение create в ledger
func (e *Engine) CreateTask(projectID string, task *models.Task) (*models.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.StatusTodo
	}
	task.ProjectID = projectID
	task.CreatedAt = e.clock()
	task.UpdatedAt = task.CreatedAt

	if err := validation.ValidateTask(task); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	e.mu.Lock()
	project, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrProjectNotLoaded
	}
	if task.ParentID != "" && project.FindTask(task.ParentID) == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("parent task %s: %w", task.ParentID, ErrTaskNotFound)
	}
	project.Tasks = append(project.Tasks, *task.Clone())
	e.mu.Unlock()

	if err := e.ledger.TrackCreate(projectID, task); err != nil {
		return nil, err
	}

	e.notify(StateChange{ProjectID: projectID, State: SyncStatePending})
	return task.Clone(), nil
}

// TaskPatch частичное обновление задачи: nil-поля не меняются
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	ParentID    *string
	Position    *models.Position
}

// UpdateTask применяет частичное обновление и помечает только реально
// измененные поля в ledger
func (e *Engine) UpdateTask(projectID, taskID string, patch TaskPatch) (*models.Task, error) {
	e.mu.Lock()
	project, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrProjectNotLoaded
	}
	task := project.FindTask(taskID)
	if task == nil {
		e.mu.Unlock()
		return nil, ErrTaskNotFound
	}

	changed := models.NewFieldSet()
	if patch.Title != nil && *patch.Title != task.Title {
		task.Title = *patch.Title
		changed.Union(models.NewFieldSet(models.FieldTitle))
	}
	if patch.Description != nil && *patch.Description != task.Description {
		task.Description = *patch.Description
		changed.Union(models.NewFieldSet(models.FieldDescription))
	}
	if patch.Status != nil && *patch.Status != task.Status {
		task.Status = *patch.Status
		changed.Union(models.NewFieldSet(models.FieldStatus))
	}
	if patch.ParentID != nil && *patch.ParentID != task.ParentID {
		task.ParentID = *patch.ParentID
		changed.Union(models.NewFieldSet(models.FieldParentID))
	}
	if patch.Position != nil && *patch.Position != task.Position {
		task.Position = *patch.Position
		changed.Union(models.NewFieldSet(models.FieldPosition))
	}

	if len(changed) == 0 {
		result := task.Clone()
		e.mu.Unlock()
		return result, nil
	}

	task.UpdatedAt = e.clock()
	result := task.Clone()
	e.mu.Unlock()

	if err := validation.ValidateTask(result); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	if err := e.ledger.TrackUpdate(projectID, result, changed); err != nil {
		return nil, err
	}

	e.notify(StateChange{ProjectID: projectID, State: SyncStatePending})
	return result, nil
}

// DeleteTask помечает задачу tombstone и регистрирует намерение delete.
// Дочерние задачи переподвешиваются к родителю удаляемой.
func (e *Engine) DeleteTask(projectID, taskID string) error {
	now := e.clock()

	e.mu.Lock()
	project, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return ErrProjectNotLoaded
	}
	task := project.FindTask(taskID)
	if task == nil {
		e.mu.Unlock()
		return ErrTaskNotFound
	}
	task.DeletedAt = &now
	task.UpdatedAt = now

	// Дети не остаются сиротами
	reparented := make([]*models.Task, 0)
	for i := range project.Tasks {
		child := &project.Tasks[i]
		if child.ParentID == taskID && !child.IsDeleted() {
			child.ParentID = task.ParentID
			child.UpdatedAt = now
			reparented = append(reparented, child.Clone())
		}
	}
	e.mu.Unlock()

	e.ledger.TrackDelete(projectID, models.EntityTask, taskID)
	for _, child := range reparented {
		if err := e.ledger.TrackUpdate(projectID, child, models.NewFieldSet(models.FieldParentID)); err != nil {
			return err
		}
	}

	e.notify(StateChange{ProjectID: projectID, State: SyncStatePending})
	return nil
}

// Connect создает связь между задачами
func (e *Engine) Connect(projectID, sourceID, targetID, kind string) (*models.Connection, error) {
	conn := &models.Connection{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		SourceID:  sourceID,
		TargetID:  targetID,
		Kind:      kind,
		CreatedAt: e.clock(),
		UpdatedAt: e.clock(),
	}

	e.mu.Lock()
	project, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrProjectNotLoaded
	}
	if err := validation.ValidateConnection(conn, project); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("invalid connection: %w", err)
	}
	project.Connections = append(project.Connections, *conn.Clone())
	e.mu.Unlock()

	if err := e.ledger.TrackCreate(projectID, conn); err != nil {
		return nil, err
	}

	e.notify(StateChange{ProjectID: projectID, State: SyncStatePending})
	return conn.Clone(), nil
}

// Disconnect помечает связь tombstone
func (e *Engine) Disconnect(projectID, connectionID string) error {
	now := e.clock()

	e.mu.Lock()
	project, ok := e.projects[projectID]
	if !ok {
		e.mu.Unlock()
		return ErrProjectNotLoaded
	}
	conn := project.FindConnection(connectionID)
	if conn == nil {
		e.mu.Unlock()
		return ErrConnNotFound
	}
	conn.DeletedAt = &now
	conn.UpdatedAt = now
	e.mu.Unlock()

	e.ledger.TrackDelete(projectID, models.EntityConnection, connectionID)
	e.notify(StateChange{ProjectID: projectID, State: SyncStatePending})
	return nil
}
