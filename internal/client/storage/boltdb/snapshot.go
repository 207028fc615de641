package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/models"
)

// SaveSnapshot сохраняет offline-снимок под well-known ключом
func (s *Storage) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keySnapshot, data)
	})

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot загружает offline-снимок и мигрирует его к текущей версии
// схемы. Мигрированный снимок сразу пишется обратно.
func (s *Storage) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var snapshot *models.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSnapshot).Get(keySnapshot)
		if data == nil {
			return storage.ErrSnapshotNotFound
		}

		snapshot = &models.Snapshot{}
		if err := json.Unmarshal(data, snapshot); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	if snapshot.Migrate() {
		if err := s.SaveSnapshot(ctx, snapshot); err != nil {
			return nil, fmt.Errorf("failed to persist migrated snapshot: %w", err)
		}
	}

	return snapshot, nil
}

// SavePendingChanges сохраняет экспорт change ledger для crash recovery
func (s *Storage) SavePendingChanges(ctx context.Context, records []*models.ChangeRecord) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal pending changes: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Put(keyPending, data)
	})

	if err != nil {
		return fmt.Errorf("failed to save pending changes: %w", err)
	}

	return nil
}

// LoadPendingChanges возвращает сохраненный экспорт change ledger
func (s *Storage) LoadPendingChanges(ctx context.Context) ([]*models.ChangeRecord, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.ChangeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPending).Get(keyPending)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load pending changes: %w", err)
	}

	for _, record := range records {
		if record.ChangedFields == nil {
			record.ChangedFields = models.NewFieldSet()
		}
	}

	return records, nil
}
