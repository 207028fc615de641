// Package notify реализует hub рассылки уведомлений об изменениях строк
// подписчикам WebSocket. Каждая успешная запись публикует события
// уровня строки; подписчики получают их через буферизованные каналы.
package notify

import (
	"log/slog"
	"sync"

	"github.com/iudanet/taskgraph/internal/models"
)

// subscriberBuffer глубина канала одного подписчика; медленный
// подписчик теряет события, а не блокирует запись
const subscriberBuffer = 64

type subscription struct {
	events    chan models.ChangeEvent
	userID    string
	projectID string // пустой = все проекты пользователя
}

// Hub рассылает события изменений подписчикам
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewHub создает новый hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

// Subscribe регистрирует подписчика. Возвращенный канал закрывается
// функцией cancel; после cancel события в него не приходят.
func (h *Hub) Subscribe(userID, projectID string) (<-chan models.ChangeEvent, func()) {
	sub := &subscription{
		events:    make(chan models.ChangeEvent, subscriberBuffer),
		userID:    userID,
		projectID: projectID,
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.events)
		}
		h.mu.Unlock()
	}

	return sub.events, cancel
}

// Broadcast доставляет событие всем подходящим подписчикам пользователя.
// Доставка best-effort: переполненный канал подписчика пропускает событие.
func (h *Hub) Broadcast(userID string, event models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if sub.userID != userID {
			continue
		}
		if sub.projectID != "" && sub.projectID != event.ProjectID {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("subscriber channel full, dropping event",
				"user_id", userID,
				"project_id", event.ProjectID)
		}
	}
}

// SubscriberCount возвращает число активных подписчиков
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
