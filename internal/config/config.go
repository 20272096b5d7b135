// Package config содержит логику чтения конфигурации консоли.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress      = "localhost:8080"
	defaultPageSize        = 20
	defaultRefreshInterval = 5 * time.Minute
	defaultRequestTimeout  = 10 * time.Second
	defaultLogLevel        = "info"
	defaultTimeZone        = "UTC"
)

// ErrNoAuthorityAddress возвращается, если адрес сервера заказов не задан.
var ErrNoAuthorityAddress = errors.New("authority address is required")

// Config содержит параметры конфигурации консоли.
type Config struct {
	RunAddress             string        `env:"RUN_ADDRESS"`
	AuthorityAddress       string        `env:"AUTHORITY_ADDRESS"`
	DatabaseURI            string        `env:"DATABASE_URI"`
	SessionSecret          string        `env:"SESSION_SECRET"`
	PageSize               int           `env:"PAGE_SIZE"`
	SessionRefreshInterval time.Duration `env:"SESSION_REFRESH_INTERVAL"`
	RequestTimeout         time.Duration `env:"REQUEST_TIMEOUT"`
	LogLevel               string        `env:"LOG_LEVEL"`
	TimeZone               string        `env:"TIME_ZONE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.AuthorityAddress, "r", "", "order authority address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the transition journal")
	flag.StringVar(&cfg.SessionSecret, "s", "", "secret for console session cookies")
	flag.IntVar(&cfg.PageSize, "p", defaultPageSize, "default order page size")
	flag.DurationVar(&cfg.SessionRefreshInterval, "i", defaultRefreshInterval, "staff session refresh interval")
	flag.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "authority request timeout")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
	flag.StringVar(&cfg.TimeZone, "z", defaultTimeZone, "time zone for order display time")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.AuthorityAddress != "" {
		cfg.AuthorityAddress = fromEnv.AuthorityAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.SessionSecret != "" {
		cfg.SessionSecret = fromEnv.SessionSecret
	}
	if fromEnv.PageSize != 0 {
		cfg.PageSize = fromEnv.PageSize
	}
	if fromEnv.SessionRefreshInterval != 0 {
		cfg.SessionRefreshInterval = fromEnv.SessionRefreshInterval
	}
	if fromEnv.RequestTimeout != 0 {
		cfg.RequestTimeout = fromEnv.RequestTimeout
	}
	if fromEnv.LogLevel != "" {
		cfg.LogLevel = fromEnv.LogLevel
	}
	if fromEnv.TimeZone != "" {
		cfg.TimeZone = fromEnv.TimeZone
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AuthorityAddress == "" {
		return ErrNoAuthorityAddress
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("load time zone: %w", err)
	}
	return nil
}

// Location возвращает часовой пояс для отображения времени заказов.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
