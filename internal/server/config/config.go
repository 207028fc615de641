// Package config загружает конфигурацию сервера из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config конфигурация референсного сервера синхронизации
type Config struct {
	// Addr адрес, на котором слушает HTTP сервер
	Addr string `env:"TASKGRAPH_ADDR" envDefault:":8080"`

	// DatabasePath путь к файлу SQLite
	DatabasePath string `env:"TASKGRAPH_DB_PATH" envDefault:"taskgraph.db"`

	// JWTSecret секрет подписи access-токенов
	JWTSecret string `env:"TASKGRAPH_JWT_SECRET,required"`

	// LogLevel уровень логирования: debug, info, warn, error
	LogLevel string `env:"TASKGRAPH_LOG_LEVEL" envDefault:"info"`

	// AccessTokenTTL время жизни access-токена
	AccessTokenTTL time.Duration `env:"TASKGRAPH_ACCESS_TOKEN_TTL" envDefault:"24h"`

	// ShutdownTimeout предельное время graceful shutdown
	ShutdownTimeout time.Duration `env:"TASKGRAPH_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// RateLimitWindow окно rate limiter
	RateLimitWindow time.Duration `env:"TASKGRAPH_RATE_LIMIT_WINDOW" envDefault:"1m"`

	// RateLimitRequests лимит запросов на клиента за окно
	RateLimitRequests int `env:"TASKGRAPH_RATE_LIMIT_REQUESTS" envDefault:"600"`

	// AuthRateLimitWindow окно лимита auth-поверхности
	AuthRateLimitWindow time.Duration `env:"TASKGRAPH_AUTH_RATE_LIMIT_WINDOW" envDefault:"5m"`

	// AuthRateLimitRequests лимит попыток login/register за окно;
	// жесткий, от перебора паролей
	AuthRateLimitRequests int `env:"TASKGRAPH_AUTH_RATE_LIMIT_REQUESTS" envDefault:"20"`
}

// Load загружает конфигурацию из окружения
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
