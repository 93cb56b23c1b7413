package main

import (
	"fmt"
	"log/slog"
	"os"

	"shardfs/pkg/config"
)

// initConfig читает общий конфиг кластера; нода берёт из него свой маршрут.
func initConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initLogger ставит глобальный логгер; все записи помечены процессом.
func initLogger(cfg *config.Config) {
	logger := config.NewLogger(cfg.Logger, os.Stdout).With("process", "storagenode")
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}
