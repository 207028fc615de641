// Package subscriber поддерживает живую подписку на уведомления об
// изменениях удаленных строк с переподключением: экспоненциальный
// backoff без джиттера с верхней границей, отказ после предельного
// числа попыток, пауза на время отсутствия сети и привязка попыток
// к идентичности подписчика.
package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/taskgraph/internal/backend"
	"github.com/iudanet/taskgraph/internal/models"
)

// State состояние подписки
type State string

// Состояния машины: disconnected -> connecting -> subscribed ->
// (error|closed) -> backoff -> connecting -> ... ; offline - постоянный
// отказ после исчерпания попыток.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateBackoff      State = "backoff"
	StateOffline      State = "offline"
)

// Параметры переподключения по умолчанию
const (
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 10

	// onlinePollInterval период опроса сигнала наличия сети,
	// пока попытки подключения пропускаются
	onlinePollInterval = time.Second
)

// Options настройки переподключения
type Options struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// OnlineFunc локальный сигнал наличия сети. Пока он false, попытки
// переподключения пропускаются целиком (не тратят счетчик) и
// возобновляются при восстановлении связи.
type OnlineFunc func() bool

// Subscriber переподключающаяся подписка на события изменений
type Subscriber struct {
	store  backend.Store
	logger *slog.Logger
	online OnlineFunc

	events chan models.ChangeEvent
	states chan State

	mu         sync.Mutex
	state      State
	generation int // инкрементируется на каждый Start: устаревшие попытки отбрасываются
	cancel     context.CancelFunc

	opts Options
}

// New создает subscriber. События доставляются в Events(), смены
// состояний - в States() (best-effort: переполненный канал состояний
// не блокирует подписку).
func New(store backend.Store, logger *slog.Logger, online OnlineFunc, opts Options) *Subscriber {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if online == nil {
		online = func() bool { return true }
	}

	return &Subscriber{
		store:  store,
		logger: logger,
		online: online,
		events: make(chan models.ChangeEvent, 64),
		states: make(chan State, 8),
		state:  StateDisconnected,
		opts:   opts,
	}
}

// Events возвращает канал входящих событий изменений
func (s *Subscriber) Events() <-chan models.ChangeEvent {
	return s.events
}

// States возвращает канал уведомлений о смене состояния подписки
func (s *Subscriber) States() <-chan State {
	return s.states
}

// State возвращает текущее состояние подписки
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start запускает цикл подписки для заданной идентичности.
// Повторный Start (например, после смены пользователя) обрывает
// предыдущий цикл: его попытки становятся устаревшими и отбрасываются,
// а не завершаются против чужой идентичности.
func (s *Subscriber) Start(ctx context.Context, identity string, filter backend.SubscribeFilter) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	generation := s.generation
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, generation, identity, filter)
}

// Stop обрывает текущий цикл подписки
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateDisconnected
}

// run цикл переподключения
func (s *Subscriber) run(ctx context.Context, generation int, identity string, filter backend.SubscribeFilter) {
	retryCount := 0

	for {
		if ctx.Err() != nil || s.stale(generation) {
			return
		}

		// Пока сети нет, попытки пропускаются целиком
		if !s.online() {
			s.setState(generation, StateDisconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(onlinePollInterval):
			}
			continue
		}

		s.setState(generation, StateConnecting)

		stream, err := s.store.Subscribe(ctx, filter)
		if err != nil {
			retryCount++
			if retryCount >= s.opts.MaxRetries {
				// Постоянный offline-индикатор: дальше не пытаемся
				s.logger.Error("subscription gave up after max retries",
					"identity", identity,
					"retries", retryCount)
				s.setState(generation, StateOffline)
				return
			}

			delay := s.backoffDelay(retryCount)
			s.logger.Warn("subscription attempt failed, backing off",
				"identity", identity,
				"retry", retryCount,
				"delay", delay,
				"error", err)
			s.setState(generation, StateBackoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		s.setState(generation, StateSubscribed)
		retryCount = 0
		s.logger.Info("subscribed to change events", "identity", identity)

		s.consume(ctx, generation, stream)

		// Поток закрылся (error|closed) - обычный путь к переподключению
		if ctx.Err() != nil || s.stale(generation) {
			return
		}
		retryCount++
		delay := s.backoffDelay(retryCount)
		s.logger.Warn("subscription stream closed, reconnecting",
			"identity", identity,
			"delay", delay)
		s.setState(generation, StateBackoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume пересылает события потока до его закрытия
func (s *Subscriber) consume(ctx context.Context, generation int, stream <-chan models.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if s.stale(generation) {
				// Событие пришло для уже смененной идентичности
				return
			}
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// backoffDelay возвращает задержку min(base * 2^(retry-1), cap) без джиттера
func (s *Subscriber) backoffDelay(retryCount int) time.Duration {
	shift := retryCount - 1
	if shift > 16 {
		return s.opts.MaxDelay
	}
	delay := s.opts.BaseDelay << shift
	if delay > s.opts.MaxDelay || delay <= 0 {
		return s.opts.MaxDelay
	}
	return delay
}

// stale проверяет, не сменилась ли идентичность подписки
func (s *Subscriber) stale(generation int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generation != s.generation
}

// setState обновляет состояние и best-effort уведомляет подписчиков
func (s *Subscriber) setState(generation int, state State) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	select {
	case s.states <- state:
	default:
		// Канал состояний переполнен - индикатор догонит следующим событием
	}
}
