package main

import (
	"fmt"
	"log/slog"
	"os"

	"shardfs/pkg/config"
)

// initConfig загружает конфиг из YAML, применяет SHARDFS_* переменные и проверяет его.
// Если файл не найден, используется config.Default().
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

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg *config.Config) {
	slog.SetDefault(config.NewLogger(cfg.Logger, os.Stdout).With("process", "router"))
	slog.Info("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}
