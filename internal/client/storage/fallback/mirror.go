// Package fallback реализует local-storage fallback карантина конфликтов:
// JSON-файл, зеркалирующий только метаданные (количество, версии, причины),
// чтобы UI мог показывать индикатор конфликтов, даже когда durable
// хранилище недоступно.
package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iudanet/taskgraph/internal/models"
)

// Mirror хранит метаданные конфликтов в JSON-файле.
// Полные снимки проектов сюда никогда не попадают.
type Mirror struct {
	path  string
	mu    sync.Mutex
	metas map[string]models.ConflictMeta
}

type mirrorState struct {
	Conflicts []models.ConflictMeta `json:"conflicts"`
}

// NewMirror создает зеркало метаданных по указанному пути,
// загружая существующее состояние, если файл есть.
func NewMirror(path string) (*Mirror, error) {
	m := &Mirror{
		path:  path,
		metas: make(map[string]models.ConflictMeta),
	}
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load conflict mirror: %w", err)
	}
	return m, nil
}

// PutMeta записывает метаданные конфликта проекта
func (m *Mirror) PutMeta(meta models.ConflictMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metas[meta.ProjectID] = meta
	return m.saveLocked()
}

// DeleteMeta удаляет метаданные конфликта проекта
func (m *Mirror) DeleteMeta(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.metas, projectID)
	return m.saveLocked()
}

// Metas возвращает метаданные всех конфликтов
func (m *Mirror) Metas() []models.ConflictMeta {
	m.mu.Lock()
	defer m.mu.Unlock()

	metas := make([]models.ConflictMeta, 0, len(m.metas))
	for _, meta := range m.metas {
		metas = append(metas, meta)
	}
	return metas
}

// HasConflicts возвращает true при наличии зеркалированных конфликтов
func (m *Mirror) HasConflicts() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.metas) > 0
}

// load читает состояние из файла
func (m *Mirror) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var state mirrorState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal mirror state: %w", err)
	}

	for _, meta := range state.Conflicts {
		m.metas[meta.ProjectID] = meta
	}
	return nil
}

// saveLocked атомарно пишет состояние: temp-файл + rename
func (m *Mirror) saveLocked() error {
	state := mirrorState{Conflicts: make([]models.ConflictMeta, 0, len(m.metas))}
	for _, meta := range m.metas {
		state.Conflicts = append(state.Conflicts, meta)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mirror state: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("failed to create mirror dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write mirror temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to rename mirror file: %w", err)
	}

	return nil
}
