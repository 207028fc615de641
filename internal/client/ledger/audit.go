package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/iudanet/taskgraph/internal/models"
)

// AuditSeverity серьезность находки аудита
type AuditSeverity string

// Серьезности находок
const (
	SeverityWarning AuditSeverity = "warning"
	SeverityError   AuditSeverity = "error"
)

// Коды находок аудита
const (
	CodeDeleteMissing    = "delete_missing"    // delete несуществующей сущности (безобидный no-op)
	CodeUpdatePhantom    = "update_phantom"    // update несуществующей сущности (жесткая ошибка)
	CodeCreateExists     = "create_exists"     // create сущности с уже занятым id (понижается до update)
	CodeDanglingEndpoint = "dangling_endpoint" // связь ссылается на несуществующую задачу
	CodeOrphanedChild    = "orphaned_child"    // родитель удаляется, потомок остается
	CodeCorruptPayload   = "corrupt_payload"   // payload записи не десериализуется
)

// AuditIssue одна находка аудита
type AuditIssue struct {
	Severity   AuditSeverity     `json:"severity"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	EntityID   string            `json:"entity_id"`
	EntityType models.EntityType `json:"entity_type"`
}

// AuditReport результат проверки накопленных изменений против текущего
// локального состояния перед полной синхронизацией
type AuditReport struct {
	ProjectID           string       `json:"project_id"`
	Issues              []AuditIssue `json:"issues"`
	Recommendations     []string     `json:"recommendations"`
	ChangedEntities     int          `json:"changed_entities"`
	TotalEntities       int          `json:"total_entities"`
	RecommendFullResync bool         `json:"recommend_full_resync"`
}

// HasErrors возвращает true при наличии находок уровня error.
// Синхронизация с такими находками должна быть прервана, а не
// молча продолжена.
func (r *AuditReport) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// AuditPolicy настраиваемые пороги аудита.
// Порог resync - эвристика, а не закон: инкрементальное применение
// перестает окупаться, когда изменена почти вся база сущностей.
type AuditPolicy struct {
	// ResyncRatio доля измененных сущностей, после которой рекомендуется
	// полный resync вместо инкрементального применения
	ResyncRatio float64
	// ResyncMinEntities минимальный размер проекта, при котором порог
	// вообще рассматривается
	ResyncMinEntities int
}

// DefaultAuditPolicy пороги по умолчанию
func DefaultAuditPolicy() AuditPolicy {
	return AuditPolicy{
		ResyncRatio:       0.8,
		ResyncMinEntities: 20,
	}
}

// Audit проверяет накопленные изменения проекта против снимка текущего
// состояния. Правила:
//  1. delete несуществующей сущности - предупреждение (безобидный no-op);
//  2. update несуществующей сущности - ошибка (фантомные обновления
//     отвергаются, а не молча отбрасываются);
//  3. create с уже занятым id - предупреждение, намерение понижается до update;
//  4. связи в create/update должны ссылаться на задачи, существующие в
//     post-change наборе сущностей, иначе ошибка;
//  5. удаление родителя при выживших потомках - предупреждение с
//     рекомендацией (каскадные удаления решает UI, не этот слой).
func (t *tracker) Audit(projectID string, current *models.Project) *AuditReport {
	pending := t.PendingRecords(projectID)

	report := &AuditReport{ProjectID: projectID}
	if current != nil {
		report.TotalEntities = len(current.Tasks) + len(current.Connections)
	}
	report.ChangedEntities = len(pending)

	// post-change набор задач: текущие минус pending deletes плюс pending creates
	taskExists := make(map[string]bool)
	if current != nil {
		for i := range current.Tasks {
			if !current.Tasks[i].IsDeleted() {
				taskExists[current.Tasks[i].ID] = true
			}
		}
	}
	for _, record := range pending {
		if record.EntityType != models.EntityTask {
			continue
		}
		switch record.ChangeType {
		case models.ChangeCreate:
			taskExists[record.EntityID] = true
		case models.ChangeDelete:
			delete(taskExists, record.EntityID)
		}
	}

	deletedTasks := make(map[string]bool)

	for _, record := range pending {
		existsLocally := entityExists(current, record.EntityType, record.EntityID)

		switch record.ChangeType {
		case models.ChangeDelete:
			if record.EntityType == models.EntityTask {
				deletedTasks[record.EntityID] = true
			}
			if !existsLocally {
				report.Issues = append(report.Issues, AuditIssue{
					Severity:   SeverityWarning,
					Code:       CodeDeleteMissing,
					EntityID:   record.EntityID,
					EntityType: record.EntityType,
					Message:    fmt.Sprintf("delete of missing %s %q is a no-op", record.EntityType, record.EntityID),
				})
			}

		case models.ChangeUpdate:
			if !existsLocally {
				report.Issues = append(report.Issues, AuditIssue{
					Severity:   SeverityError,
					Code:       CodeUpdatePhantom,
					EntityID:   record.EntityID,
					EntityType: record.EntityType,
					Message:    fmt.Sprintf("update targets %s %q which does not exist locally", record.EntityType, record.EntityID),
				})
			}

		case models.ChangeCreate:
			if existsLocally {
				report.Issues = append(report.Issues, AuditIssue{
					Severity:   SeverityWarning,
					Code:       CodeCreateExists,
					EntityID:   record.EntityID,
					EntityType: record.EntityType,
					Message:    fmt.Sprintf("create of existing %s %q downgraded to update", record.EntityType, record.EntityID),
				})
				t.downgradeCreate(projectID, record)
			}
		}

		// Правило 4: связи должны ссылаться на существующие задачи
		if record.EntityType == models.EntityConnection && record.ChangeType != models.ChangeDelete {
			var conn models.Connection
			if err := json.Unmarshal(record.Payload, &conn); err != nil {
				report.Issues = append(report.Issues, AuditIssue{
					Severity:   SeverityError,
					Code:       CodeCorruptPayload,
					EntityID:   record.EntityID,
					EntityType: record.EntityType,
					Message:    fmt.Sprintf("connection payload does not deserialize: %v", err),
				})
				continue
			}
			for _, endpoint := range []string{conn.SourceID, conn.TargetID} {
				if !taskExists[endpoint] {
					report.Issues = append(report.Issues, AuditIssue{
						Severity:   SeverityError,
						Code:       CodeDanglingEndpoint,
						EntityID:   record.EntityID,
						EntityType: record.EntityType,
						Message:    fmt.Sprintf("connection %q references task %q which is absent from the post-change set", record.EntityID, endpoint),
					})
				}
			}
		}
	}

	// Правило 5: осиротевшие потомки удаляемых родителей
	if current != nil {
		for i := range current.Tasks {
			task := &current.Tasks[i]
			if task.ParentID == "" || task.IsDeleted() {
				continue
			}
			if deletedTasks[task.ParentID] && !deletedTasks[task.ID] {
				report.Issues = append(report.Issues, AuditIssue{
					Severity:   SeverityWarning,
					Code:       CodeOrphanedChild,
					EntityID:   task.ID,
					EntityType: models.EntityTask,
					Message:    fmt.Sprintf("parent %q is being deleted while child %q survives", task.ParentID, task.ID),
				})
				report.Recommendations = append(report.Recommendations,
					fmt.Sprintf("review child task %q: its parent is marked for deletion; reparent or delete it explicitly", task.ID))
			}
		}
	}

	// Эвристика full resync
	if report.TotalEntities > t.policy.ResyncMinEntities && report.TotalEntities > 0 {
		ratio := float64(report.ChangedEntities) / float64(report.TotalEntities)
		if ratio > t.policy.ResyncRatio {
			report.RecommendFullResync = true
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%.0f%% of %d entities changed: prefer a full resync over incremental application",
					ratio*100, report.TotalEntities))
		}
	}

	for _, issue := range report.Issues {
		switch issue.Severity {
		case SeverityError:
			t.logger.Error("ledger audit error",
				"project_id", projectID,
				"code", issue.Code,
				"entity_id", issue.EntityID,
				"message", issue.Message)
		default:
			t.logger.Warn("ledger audit warning",
				"project_id", projectID,
				"code", issue.Code,
				"entity_id", issue.EntityID,
				"message", issue.Message)
		}
	}

	return report
}

// downgradeCreate понижает create до update прямо в ledger:
// сущность уже существует, поэтому повторная вставка некорректна
func (t *tracker) downgradeCreate(projectID string, record *models.ChangeRecord) {
	key := entityKey{projectID: projectID, entityType: record.EntityType, entityID: record.EntityID}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.records[key]
	if !ok || existing.ChangeType != models.ChangeCreate {
		return
	}
	existing.ChangeType = models.ChangeUpdate
	existing.ChangedFields = allFields(record.EntityType)
}

// entityExists проверяет, существует ли сущность в локальном снимке (без tombstone)
func entityExists(project *models.Project, entityType models.EntityType, entityID string) bool {
	if project == nil {
		return false
	}
	switch entityType {
	case models.EntityTask:
		task := project.FindTask(entityID)
		return task != nil && !task.IsDeleted()
	case models.EntityConnection:
		conn := project.FindConnection(entityID)
		return conn != nil && !conn.IsDeleted()
	}
	return false
}
