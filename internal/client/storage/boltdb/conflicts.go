package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/models"
)

// SaveConflict сохраняет запись конфликта вместе с записью вторичного
// индекса в одной транзакции: индекс не может разойтись с данными.
func (s *Storage) SaveConflict(ctx context.Context, record *models.ConflictRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict record: %w", err)
	}

	meta := record.Meta()
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict meta: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketConflicts).Put([]byte(record.ProjectID), data); err != nil {
			return fmt.Errorf("failed to save conflict: %w", err)
		}
		if err := tx.Bucket(bucketConflictIndex).Put([]byte(record.ProjectID), metaData); err != nil {
			return fmt.Errorf("failed to save conflict index: %w", err)
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetConflict возвращает полную запись конфликта проекта
func (s *Storage) GetConflict(ctx context.Context, projectID string) (*models.ConflictRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.ConflictRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConflicts).Get([]byte(projectID))
		if data == nil {
			return storage.ErrConflictNotFound
		}

		record = &models.ConflictRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal conflict record: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListConflicts возвращает облегченные записи всех конфликтов.
// Читается только вторичный индекс - полные снимки проектов не трогаются.
func (s *Storage) ListConflicts(ctx context.Context) ([]models.ConflictMeta, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var metas []models.ConflictMeta

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConflictIndex).ForEach(func(k, v []byte) error {
			var meta models.ConflictMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("failed to unmarshal conflict meta: %w", err)
			}
			metas = append(metas, meta)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	return metas, nil
}

// HasConflicts быстрая проверка наличия конфликтов по вторичному индексу
func (s *Storage) HasConflicts(ctx context.Context) (bool, error) {
	if s.db == nil {
		return false, storage.ErrStorageClosed
	}

	var exists bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(bucketConflictIndex).Cursor().First()
		exists = k != nil
		return nil
	})

	if err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}

	return exists, nil
}

// DeleteConflict удаляет запись конфликта и ее индекс после разрешения
func (s *Storage) DeleteConflict(ctx context.Context, projectID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketConflicts).Delete([]byte(projectID)); err != nil {
			return fmt.Errorf("failed to delete conflict: %w", err)
		}
		if err := tx.Bucket(bucketConflictIndex).Delete([]byte(projectID)); err != nil {
			return fmt.Errorf("failed to delete conflict index: %w", err)
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// MarkAcknowledged отмечает, что пользователь видел конфликт
func (s *Storage) MarkAcknowledged(ctx context.Context, projectID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)

		data := bucket.Get([]byte(projectID))
		if data == nil {
			return storage.ErrConflictNotFound
		}

		var record models.ConflictRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal conflict record: %w", err)
		}

		record.Acknowledged = true

		updated, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict record: %w", err)
		}

		return bucket.Put([]byte(projectID), updated)
	})

	if err != nil {
		return err
	}

	return nil
}
