package storage

import "errors"

// Ошибки клиентских локальных хранилищ
var (
	// ErrConflictNotFound конфликт для проекта не найден
	ErrConflictNotFound = errors.New("conflict record not found")

	// ErrSnapshotNotFound offline-снимок еще не сохранялся
	ErrSnapshotNotFound = errors.New("offline snapshot not found")

	// ErrSessionNotFound сохраненная сессия отсутствует
	ErrSessionNotFound = errors.New("session not found")

	// ErrStorageClosed хранилище закрыто
	ErrStorageClosed = errors.New("storage is closed")
)
