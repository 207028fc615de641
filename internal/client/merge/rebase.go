package merge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iudanet/taskgraph/internal/models"
)

// RebaseResult результат переигрывания локальных изменений поверх
// свежего удаленного снимка
type RebaseResult struct {
	// Project кандидат на запись: удаленный снимок с примененными
	// локальными изменениями. Version остается удаленной - compare-and-set
	// выполняется против нее.
	Project *models.Project

	// ConflictedFields поля, измененные с обеих сторон (формат "entityID.field").
	// Непустой список означает провал rebase: кандидат писать нельзя.
	ConflictedFields []string
}

// Failed возвращает true, если rebase не смог примирить изменения
func (r *RebaseResult) Failed() bool {
	return len(r.ConflictedFields) > 0
}

// Rebase переигрывает накопленные локальные изменения поверх свежего
// удаленного снимка (three-way merge):
//
//   - create: сущность вставляется в кандидат; если удаленная сторона
//     уже содержит сущность с тем же id и другим содержимым - конфликт;
//   - update: из payload применяются только поля из ChangedFields;
//     поле конфликтует, если удаленное значение отличается от base
//     (обе стороны изменили одно поле); update сущности, удаленной
//     удаленной стороной, - конфликт целиком;
//   - delete: на сущность ставится tombstone; одновременная удаленная
//     правка не конфликтует - tombstone в этой системе всегда побеждает.
//
// base - снимок проекта на момент последней успешной синхронизации;
// nil означает, что базы нет и попольное сравнение недоступно
// (конфликтом считается только update против удаленного tombstone).
func Rebase(remote, base *models.Project, pending []*models.ChangeRecord) (*RebaseResult, error) {
	result := &RebaseResult{Project: remote.Clone()}
	now := time.Now()

	for _, record := range pending {
		switch record.EntityType {
		case models.EntityTask:
			if err := rebaseTask(result, base, record, now); err != nil {
				return nil, err
			}
		case models.EntityConnection:
			if err := rebaseConnection(result, base, record, now); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

func rebaseTask(result *RebaseResult, base *models.Project, record *models.ChangeRecord, now time.Time) error {
	candidate := result.Project

	switch record.ChangeType {
	case models.ChangeCreate:
		var local models.Task
		if err := json.Unmarshal(record.Payload, &local); err != nil {
			return fmt.Errorf("failed to unmarshal task payload %q: %w", record.EntityID, err)
		}
		if existing := candidate.FindTask(record.EntityID); existing != nil {
			// Обе стороны создали сущность с одним id - примиряем только
			// побайтово одинаковое содержимое
			for field := range DiffTaskFields(existing, &local) {
				result.ConflictedFields = append(result.ConflictedFields, record.EntityID+"."+field)
			}
			return nil
		}
		candidate.Tasks = append(candidate.Tasks, *local.Clone())

	case models.ChangeUpdate:
		var local models.Task
		if err := json.Unmarshal(record.Payload, &local); err != nil {
			return fmt.Errorf("failed to unmarshal task payload %q: %w", record.EntityID, err)
		}
		target := candidate.FindTask(record.EntityID)
		if target == nil || target.IsDeleted() {
			// Локальный update против удаленного удаления - rebase бессилен
			result.ConflictedFields = append(result.ConflictedFields, record.EntityID+"."+models.FieldDeletedAt)
			return nil
		}
		var baseTask *models.Task
		if base != nil {
			baseTask = base.FindTask(record.EntityID)
		}
		for field := range record.ChangedFields {
			if baseTask != nil && !taskFieldEqual(baseTask, target, field) && !taskFieldEqual(baseTask, &local, field) {
				// Поле изменили обе стороны, и по-разному
				if !taskFieldEqual(target, &local, field) {
					result.ConflictedFields = append(result.ConflictedFields, record.EntityID+"."+field)
					continue
				}
			}
			applyTaskField(target, &local, field)
		}
		target.UpdatedAt = now

	case models.ChangeDelete:
		target := candidate.FindTask(record.EntityID)
		if target == nil {
			// Удаленная сторона уже убрала сущность - безобидный no-op
			return nil
		}
		if target.DeletedAt == nil {
			deletedAt := now
			target.DeletedAt = &deletedAt
			target.UpdatedAt = now
		}
	}

	return nil
}

func rebaseConnection(result *RebaseResult, base *models.Project, record *models.ChangeRecord, now time.Time) error {
	candidate := result.Project

	switch record.ChangeType {
	case models.ChangeCreate:
		var local models.Connection
		if err := json.Unmarshal(record.Payload, &local); err != nil {
			return fmt.Errorf("failed to unmarshal connection payload %q: %w", record.EntityID, err)
		}
		if existing := candidate.FindConnection(record.EntityID); existing != nil {
			for field := range DiffConnectionFields(existing, &local) {
				result.ConflictedFields = append(result.ConflictedFields, record.EntityID+"."+field)
			}
			return nil
		}
		candidate.Connections = append(candidate.Connections, *local.Clone())

	case models.ChangeUpdate:
		var local models.Connection
		if err := json.Unmarshal(record.Payload, &local); err != nil {
			return fmt.Errorf("failed to unmarshal connection payload %q: %w", record.EntityID, err)
		}
		target := candidate.FindConnection(record.EntityID)
		if target == nil || target.IsDeleted() {
			result.ConflictedFields = append(result.ConflictedFields, record.EntityID+"."+models.FieldDeletedAt)
			return nil
		}
		var baseConn *models.Connection
		if base != nil {
			baseConn = base.FindConnection(record.EntityID)
		}
		for field := range record.ChangedFields {
			if baseConn != nil && !connectionFieldEqual(baseConn, target, field) && !connectionFieldEqual(baseConn, &local, field) {
				if !connectionFieldEqual(target, &local, field) {
					result.ConflictedFields = append(result.ConflictedFields, record.EntityID+"."+field)
					continue
				}
			}
			applyConnectionField(target, &local, field)
		}
		target.UpdatedAt = now

	case models.ChangeDelete:
		target := candidate.FindConnection(record.EntityID)
		if target == nil {
			return nil
		}
		if target.DeletedAt == nil {
			deletedAt := now
			target.DeletedAt = &deletedAt
			target.UpdatedAt = now
		}
	}

	return nil
}
