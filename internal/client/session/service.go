// Package session управляет жизненным циклом пользовательской сессии
// клиента: вход, выход, восстановление сохраненной сессии при старте.
// Истечение сессии никогда не трогает локальные данные - синхронизация
// приостанавливается до повторного входа.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/taskgraph/internal/client/storage"
	"github.com/iudanet/taskgraph/internal/validation"
	pkgapi "github.com/iudanet/taskgraph/pkg/api"
)

// APIClient операции сервера, нужные сервису сессии
type APIClient interface {
	Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.RegisterResponse, error)
	Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error)
	SetToken(token string)
}

// Service предоставляет функции управления сессией
type Service struct {
	apiClient APIClient
	store     storage.SessionStorage
	logger    *slog.Logger
	serverURL string
}

// NewService создает новый сервис сессии
func NewService(apiClient APIClient, store storage.SessionStorage, serverURL string, logger *slog.Logger) *Service {
	return &Service{
		apiClient: apiClient,
		store:     store,
		serverURL: serverURL,
		logger:    logger,
	}
}

// Register регистрирует нового пользователя
func (s *Service) Register(ctx context.Context, username, password string) error {
	if err := validation.ValidateUsername(username); err != nil {
		return fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return fmt.Errorf("invalid password: %w", err)
	}

	resp, err := s.apiClient.Register(ctx, pkgapi.RegisterRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("user registered", "username", username, "user_id", resp.UserID)
	return nil
}

// Login выполняет вход и сохраняет сессию
func (s *Service) Login(ctx context.Context, username, password string) (*storage.SessionData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}

	resp, err := s.apiClient.Login(ctx, pkgapi.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := &storage.SessionData{
		UserID:      subjectOf(resp.AccessToken),
		Username:    username,
		AccessToken: resp.AccessToken,
		ServerURL:   s.serverURL,
		ExpiresAt:   time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.apiClient.SetToken(resp.AccessToken)
	s.logger.Info("user logged in", "username", username, "expires_at", session.ExpiresAt)
	return session, nil
}

// Restore восстанавливает сохраненную сессию при старте клиента.
// Возвращает ErrSessionNotFound, если валидной сессии нет.
func (s *Service) Restore(ctx context.Context) (*storage.SessionData, error) {
	session, err := s.store.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	if !session.Valid() {
		return nil, storage.ErrSessionNotFound
	}

	s.apiClient.SetToken(session.AccessToken)
	return session, nil
}

// Logout удаляет сохраненную сессию. Локальные данные не затрагиваются.
func (s *Service) Logout(ctx context.Context) error {
	s.apiClient.SetToken("")
	if err := s.store.DeleteSession(ctx); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Current возвращает текущую сохраненную сессию без побочных эффектов
func (s *Service) Current(ctx context.Context) (*storage.SessionData, error) {
	return s.store.GetSession(ctx)
}

// subjectOf извлекает subject (user id) из JWT без проверки подписи.
// Подпись проверяет сервер; клиенту claim нужен только как идентификатор
// подписки на изменения.
func subjectOf(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return subject
}
