// Package api реализует HTTP/WebSocket клиент референсного сервера
// синхронизации. Клиент удовлетворяет backend.Store и переводит коды
// ответов сервера в ошибки этой поверхности.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/models"
	"github.com/iudanet/taskgraph/pkg/api"
)

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu    sync.RWMutex
	token string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetToken устанавливает bearer token текущей сессии
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register регистрирует нового пользователя
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	return &resp, nil
}

// ReadProject возвращает проект с текущей версией
func (c *Client) ReadProject(ctx context.Context, id string) (*models.Project, error) {
	var resp api.ProjectResponse
	url := fmt.Sprintf("/api/v1/projects/%s", id)
	if err := c.doRequest(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("read project failed: %w", err)
	}
	resp.Project.Version = resp.Version
	return resp.Project, nil
}

// CompareAndSetProject записывает проект с предикатом версии.
// Отказ предиката сервер отдает как 409 с текущим удаленным снимком;
// клиент переводит его в rows=0 со снимком из тела ответа, не в ошибку -
// вызывающий может начать rebase без дополнительного чтения.
func (c *Client) CompareAndSetProject(ctx context.Context, project *models.Project, expectedVersion int64) (int64, *models.Project, error) {
	req := api.SaveProjectRequest{
		Project:         project,
		ExpectedVersion: expectedVersion,
	}

	var resp api.SaveProjectResponse
	url := fmt.Sprintf("/api/v1/projects/%s", project.ID)
	err := c.doRequest(ctx, http.MethodPut, url, req, &resp)
	if err != nil {
		if errors.Is(err, backend.ErrVersionMismatch) {
			return 0, resp.RemoteProject, nil
		}
		return 0, nil, fmt.Errorf("save project failed: %w", err)
	}

	if resp.RowsAffected > 0 {
		project.Version = resp.NewVersion
	}
	return resp.RowsAffected, nil, nil
}

// WriteEntities записывает отдельные сущности проекта
func (c *Client) WriteEntities(ctx context.Context, projectID string, tasks []models.Task, connections []models.Connection) error {
	req := api.WriteEntitiesRequest{
		ProjectID:   projectID,
		Tasks:       tasks,
		Connections: connections,
	}
	url := fmt.Sprintf("/api/v1/projects/%s/entities", projectID)
	if err := c.doRequest(ctx, http.MethodPost, url, req, nil); err != nil {
		return fmt.Errorf("write entities failed: %w", err)
	}
	return nil
}

// DeleteEntities помечает сущности tombstone
func (c *Client) DeleteEntities(ctx context.Context, projectID string, ids []string) error {
	req := api.DeleteEntitiesRequest{
		ProjectID: projectID,
		IDs:       ids,
	}
	url := fmt.Sprintf("/api/v1/projects/%s/entities/delete", projectID)
	if err := c.doRequest(ctx, http.MethodPost, url, req, nil); err != nil {
		return fmt.Errorf("delete entities failed: %w", err)
	}
	return nil
}

// Subscribe открывает WebSocket поток уведомлений об изменениях строк.
// Канал закрывается при обрыве соединения или отмене контекста.
func (c *Client) Subscribe(ctx context.Context, filter backend.SubscribeFilter) (<-chan models.ChangeEvent, error) {
	wsURL := c.websocketURL("/api/v1/subscribe")
	if filter.ProjectID != "" {
		wsURL += "?project_id=" + filter.ProjectID
	}

	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{},
	}
	if token := c.bearer(); token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backend.ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: subscribe dial: %v", backend.ErrUnavailable, err)
	}

	events := make(chan models.ChangeEvent)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			var event models.ChangeEvent
			if err := wsjson.Read(ctx, conn, &event); err != nil {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевой слой недоступен: timeout, connection refused, DNS.
		// Данные не потеряны, вызывающий повторит позже.
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp.StatusCode, respBody, result)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// statusError переводит статус ответа в ошибку поверхности backend
func (c *Client) statusError(statusCode int, respBody []byte, result interface{}) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return backend.ErrSessionExpired
	case http.StatusNotFound:
		return backend.ErrProjectNotFound
	case http.StatusConflict:
		// Тело 409 несет свежий удаленный снимок - декодируем его,
		// чтобы вызывающий мог сразу начать rebase
		if result != nil {
			_ = json.Unmarshal(respBody, result)
		}
		return backend.ErrVersionMismatch
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		// Rate limit и недоступный сервер транзиентны: данные остаются
		// локально и уйдут следующим сохранением
		return fmt.Errorf("%w: status %d", backend.ErrUnavailable, statusCode)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("server error (%d): %s", statusCode, errResp.Error)
	}
	return fmt.Errorf("request failed with status %d: %s", statusCode, string(respBody))
}

// websocketURL переводит базовый http(s) URL в ws(s)
func (c *Client) websocketURL(path string) string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + path
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + path
	default:
		return c.baseURL + path
	}
}
