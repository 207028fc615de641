package validation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/taskgraph/internal/models"
)

const (
	// MaxTitleLen максимальная длина заголовка задачи
	MaxTitleLen = 200
	// MaxDescriptionLen максимальная длина описания задачи
	MaxDescriptionLen = 10000
)

// ValidateEntityID проверяет, что идентификатор сущности является UUID
func ValidateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("entity id must be a valid UUID: %w", err)
	}
	return nil
}

// ValidateTask проверяет поля задачи перед записью в граф
func ValidateTask(task *models.Task) error {
	if err := ValidateEntityID(task.ID); err != nil {
		return err
	}
	if task.Title == "" {
		return fmt.Errorf("task title cannot be empty")
	}
	if len(task.Title) > MaxTitleLen {
		return fmt.Errorf("task title must not exceed %d characters", MaxTitleLen)
	}
	if len(task.Description) > MaxDescriptionLen {
		return fmt.Errorf("task description must not exceed %d characters", MaxDescriptionLen)
	}
	switch task.Status {
	case models.StatusTodo, models.StatusInProgress, models.StatusDone:
	default:
		return fmt.Errorf("unknown task status: %q", task.Status)
	}
	return nil
}

// ValidateConnection проверяет связь: концы существуют в проекте,
// петли запрещены, вид связи известен
func ValidateConnection(conn *models.Connection, project *models.Project) error {
	if err := ValidateEntityID(conn.ID); err != nil {
		return err
	}
	if conn.SourceID == conn.TargetID {
		return fmt.Errorf("connection cannot link a task to itself")
	}
	switch conn.Kind {
	case models.ConnectionDependency, models.ConnectionReference:
	default:
		return fmt.Errorf("unknown connection kind: %q", conn.Kind)
	}
	if project != nil {
		if project.FindTask(conn.SourceID) == nil {
			return fmt.Errorf("connection source %s not found in project", conn.SourceID)
		}
		if project.FindTask(conn.TargetID) == nil {
			return fmt.Errorf("connection target %s not found in project", conn.TargetID)
		}
	}
	return nil
}
