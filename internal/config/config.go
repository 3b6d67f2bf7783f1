// Package config содержит логику чтения конфигурации станции.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultRequestTimeout = 10 * time.Second
)

// Config содержит параметры конфигурации станции.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	CanteenAPIAddress string        `env:"CANTEEN_API_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	ScannerAddress    string        `env:"SCANNER_ADDRESS"`
	SessionSecret     string        `env:"SESSION_SECRET"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT"`
	LogLevel          string        `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	return ParseFile(".env")
}

// ParseFile работает как Parse, но читает переменные из указанного файла.
// Отсутствие файла ошибкой не считается.
func ParseFile(dotenv string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.CanteenAPIAddress, "r", "", "canteen service address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the station journal")
	flag.StringVar(&cfg.ScannerAddress, "s", "", "scanner driver address")
	flag.StringVar(&cfg.SessionSecret, "k", "", "secret for signing kiosk session cookies")
	flag.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "timeout for canteen service requests")
	flag.StringVar(&cfg.LogLevel, "l", "info", "log level")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.CanteenAPIAddress != "" {
		cfg.CanteenAPIAddress = envCfg.CanteenAPIAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.ScannerAddress != "" {
		cfg.ScannerAddress = envCfg.ScannerAddress
	}
	if envCfg.SessionSecret != "" {
		cfg.SessionSecret = envCfg.SessionSecret
	}
	if envCfg.RequestTimeout > 0 {
		cfg.RequestTimeout = envCfg.RequestTimeout
	}
	if envCfg.LogLevel != "" {
		cfg.LogLevel = envCfg.LogLevel
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return cfg, nil
}
