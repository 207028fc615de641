package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	// BoltDB bucket names
	bucketConflicts     = []byte("conflicts")      // полные записи конфликтов по projectID
	bucketConflictIndex = []byte("conflict_index") // облегченный вторичный индекс (ConflictMeta)
	bucketSnapshot      = []byte("snapshot")       // offline-снимок под well-known ключом
	bucketPending       = []byte("pending")        // экспорт change ledger (crash recovery)
	bucketSession       = []byte("session")        // сохраненная сессия
)

// Well-known ключи внутри buckets
var (
	keySnapshot = []byte("offline_snapshot")
	keyPending  = []byte("pending_changes")
	keySession  = []byte("current")
)

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}

	// Инициализируем buckets
	if err := storage.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketConflicts, bucketConflictIndex, bucketSnapshot, bucketPending, bucketSession}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}
