package handlers

import (
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/iudanet/taskgraph/internal/server/notify"
)

// SubscribeHandler обрабатывает WebSocket подписки на события изменений
type SubscribeHandler struct {
	logger *slog.Logger
	hub    *notify.Hub
}

// NewSubscribeHandler создает новый handler подписки
func NewSubscribeHandler(logger *slog.Logger, hub *notify.Hub) *SubscribeHandler {
	return &SubscribeHandler{
		logger: logger,
		hub:    hub,
	}
}

// Subscribe обрабатывает GET /api/v1/subscribe
// Апгрейдит соединение до WebSocket и транслирует события изменений
// строк до обрыва соединения
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.URL.Query().Get("project_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	events, cancel := h.hub.Subscribe(userID, projectID)
	defer cancel()

	h.logger.InfoContext(ctx, "subscriber connected",
		slog.String("user_id", userID),
		slog.String("project_id", projectID))

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.logger.InfoContext(ctx, "subscriber disconnected",
					slog.String("user_id", userID),
					slog.Any("error", err))
				return
			}
		}
	}
}
