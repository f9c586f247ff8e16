// Package config содержит логику чтения конфигурации сервиса кудос.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// DefaultRedemptionRate - курс погашения по умолчанию: денежных единиц за один кредит.
const DefaultRedemptionRate = 5

// Config содержит параметры конфигурации сервиса кудос.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	RedisAddress   string `env:"REDIS_ADDRESS"`
	RedemptionRate int    `env:"REDEMPTION_RATE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for leaderboard cache")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RedemptionRate <= 0 {
		cfg.RedemptionRate = DefaultRedemptionRate
	}

	return cfg, nil
}
