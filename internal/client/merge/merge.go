// Package merge реализует слияние состояния графа задач на уровне
// отдельных полей. Используется в двух потоках данных:
//
//   - входящем: удаленное обновление применяется к локальной сущности
//     с защитой локально измененных полей (edit guard), при этом
//     удаленный tombstone всегда побеждает;
//   - исходящем: auto-rebase переигрывает накопленные локальные изменения
//     поверх свежего удаленного снимка при гонке версий.
package merge

import (
	"time"

	"github.com/iudanet/taskgraph/internal/models"
)

// taskFieldEqual сравнивает одно синхронизируемое поле двух задач
func taskFieldEqual(a, b *models.Task, field string) bool {
	switch field {
	case models.FieldTitle:
		return a.Title == b.Title
	case models.FieldDescription:
		return a.Description == b.Description
	case models.FieldStatus:
		return a.Status == b.Status
	case models.FieldParentID:
		return a.ParentID == b.ParentID
	case models.FieldPosition:
		return a.Position == b.Position
	case models.FieldDeletedAt:
		return deletedAtEqual(a.DeletedAt, b.DeletedAt)
	}
	return true
}

// applyTaskField копирует одно поле из src в dst
func applyTaskField(dst, src *models.Task, field string) {
	switch field {
	case models.FieldTitle:
		dst.Title = src.Title
	case models.FieldDescription:
		dst.Description = src.Description
	case models.FieldStatus:
		dst.Status = src.Status
	case models.FieldParentID:
		dst.ParentID = src.ParentID
	case models.FieldPosition:
		dst.Position = src.Position
	case models.FieldDeletedAt:
		if src.DeletedAt != nil {
			deletedAt := *src.DeletedAt
			dst.DeletedAt = &deletedAt
		} else {
			dst.DeletedAt = nil
		}
	}
}

// connectionFieldEqual сравнивает одно синхронизируемое поле двух связей
func connectionFieldEqual(a, b *models.Connection, field string) bool {
	switch field {
	case models.FieldSourceID:
		return a.SourceID == b.SourceID
	case models.FieldTargetID:
		return a.TargetID == b.TargetID
	case models.FieldKind:
		return a.Kind == b.Kind
	case models.FieldDeletedAt:
		return deletedAtEqual(a.DeletedAt, b.DeletedAt)
	}
	return true
}

// applyConnectionField копирует одно поле из src в dst
func applyConnectionField(dst, src *models.Connection, field string) {
	switch field {
	case models.FieldSourceID:
		dst.SourceID = src.SourceID
	case models.FieldTargetID:
		dst.TargetID = src.TargetID
	case models.FieldKind:
		dst.Kind = src.Kind
	case models.FieldDeletedAt:
		if src.DeletedAt != nil {
			deletedAt := *src.DeletedAt
			dst.DeletedAt = &deletedAt
		} else {
			dst.DeletedAt = nil
		}
	}
}

// deletedAtEqual сравнивает два tombstone (nil = запись жива)
func deletedAtEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// DiffTaskFields возвращает поля, различающиеся между двумя задачами
func DiffTaskFields(a, b *models.Task) models.FieldSet {
	diff := models.NewFieldSet()
	for field := range models.TaskFields() {
		if !taskFieldEqual(a, b, field) {
			diff[field] = struct{}{}
		}
	}
	return diff
}

// DiffConnectionFields возвращает поля, различающиеся между двумя связями
func DiffConnectionFields(a, b *models.Connection) models.FieldSet {
	diff := models.NewFieldSet()
	for field := range models.ConnectionFields() {
		if !connectionFieldEqual(a, b, field) {
			diff[field] = struct{}{}
		}
	}
	return diff
}

// MergeRemoteTask применяет удаленную версию задачи к локальной на уровне
// полей. Поля из protected (локально грязные) сохраняют локальное значение.
// Исключение: удаленный tombstone применяется всегда - воскресшая
// "удаленная" запись хуже прерванной правки.
func MergeRemoteTask(local, remote *models.Task, protected models.FieldSet) *models.Task {
	result := local.Clone()
	for field := range models.TaskFields() {
		if field == models.FieldDeletedAt && remote.DeletedAt != nil {
			applyTaskField(result, remote, field)
			continue
		}
		if protected.Contains(field) {
			continue
		}
		applyTaskField(result, remote, field)
	}
	result.UpdatedAt = remote.UpdatedAt
	return result
}

// MergeRemoteConnection применяет удаленную версию связи к локальной
// на уровне полей с теми же правилами, что и MergeRemoteTask.
func MergeRemoteConnection(local, remote *models.Connection, protected models.FieldSet) *models.Connection {
	result := local.Clone()
	for field := range models.ConnectionFields() {
		if field == models.FieldDeletedAt && remote.DeletedAt != nil {
			applyConnectionField(result, remote, field)
			continue
		}
		if protected.Contains(field) {
			continue
		}
		applyConnectionField(result, remote, field)
	}
	result.UpdatedAt = remote.UpdatedAt
	return result
}
