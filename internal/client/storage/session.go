package storage

import (
	"context"
	"time"
)

// SessionData сохраненная сессия пользователя
type SessionData struct {
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	AccessToken string    `json:"access_token"`
	ServerURL   string    `json:"server_url"`
}

// Valid возвращает true, если токен сессии еще не истек
func (s *SessionData) Valid() bool {
	return s.AccessToken != "" && time.Now().Before(s.ExpiresAt)
}

//go:generate moq -out session_mock.go . SessionStorage

// SessionStorage определяет интерфейс персистентности сессии.
// Идентичность подписки (subscriber) привязана к UserID: смена сессии
// обрывает устаревшие попытки переподключения.
type SessionStorage interface {
	// SaveSession сохраняет сессию после входа
	SaveSession(ctx context.Context, session *SessionData) error

	// GetSession возвращает сохраненную сессию.
	// Возвращает ErrSessionNotFound, если сессии нет.
	GetSession(ctx context.Context) (*SessionData, error)

	// DeleteSession удаляет сессию при выходе
	DeleteSession(ctx context.Context) error
}
