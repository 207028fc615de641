package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limit лимит запросов на клиента за окно
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter token bucket на клиента. Клиент идентифицируется IP
// адресом: сервер однопользовательских графов не знает пользователя
// до аутентификации, а защищать нужно в том числе auth-поверхность.
type RateLimiter struct {
	buckets  map[string]*clientBucket
	logger   *slog.Logger
	cleanupC chan struct{}
	limit    Limit
	mu       sync.Mutex
}

type clientBucket struct {
	lastRefill time.Time
	tokens     int
}

// NewRateLimiter создает rate limiter и запускает фоновую очистку
// неактивных клиентов
func NewRateLimiter(limit Limit, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*clientBucket),
		limit:    limit,
		logger:   logger,
		cleanupC: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.limit.Window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropIdleClients()
		case <-rl.cleanupC:
			return
		}
	}
}

// dropIdleClients удаляет клиентов, молчавших дольше двух окон
func (rl *RateLimiter) dropIdleClients() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) > rl.limit.Window*2 {
			delete(rl.buckets, key)
		}
	}
}

// Stop останавливает cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.cleanupC)
}

// Allow проверяет, разрешен ли запрос для клиента
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &clientBucket{tokens: rl.limit.Requests, lastRefill: now}
		rl.buckets[key] = b
	}

	if now.Sub(b.lastRefill) >= rl.limit.Window {
		b.tokens = rl.limit.Requests
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// RateLimitMiddleware ограничивает частоту запросов. Поток
// синхронизации (чтения проектов, CAS-записи, точечные записи
// сущностей, websocket подписки) идет под общим щедрым лимитом;
// auth-поверхность - под отдельным жестким, от перебора паролей.
// Отказ отвечает 429 с Retry-After: клиент считает его транзиентным
// и унесет данные следующим сохранением.
func RateLimitMiddleware(general, auth Limit, logger *slog.Logger) func(http.Handler) http.Handler {
	syncLimiter := NewRateLimiter(general, logger)
	authLimiter := NewRateLimiter(auth, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := syncLimiter
			if isAuthPath(r.URL.Path) {
				limiter = authLimiter
			}

			key := clientKey(r)
			if !limiter.Allow(key) {
				logger.Warn("rate limit exceeded",
					"client", key,
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.limit.Window/time.Second)))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests, retry later"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAuthPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/auth/")
}

// clientKey извлекает адрес клиента из запроса.
// Заголовки X-Forwarded-For и X-Real-IP учитываются для reverse proxy.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Первый адрес списка - исходный клиент
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
