package bootstrap

import (
	"fmt"
	"os"

	"backbone/config"
	"backbone/logging"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InitLogger builds the process logger from the log section.
func InitLogger(cfg *config.Config) (*zap.Logger, *zap.SugaredLogger, error) {
	return logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
}

// InitConfig loads the configuration and resolves secret references in server passwords.
func InitConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.LoadSecrets(cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return cfg, nil
}

// logStartup reports where the configuration came from and how bootstrap errors are handled.
func logStartup(cfg *config.Config, sugar *zap.SugaredLogger) {
	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	startupMode := cfg.StartupMode
	if startupMode == "" {
		startupMode = config.StartupModeStrict
	}
	sugar.Infow("Startup mode",
		"mode", string(startupMode),
		"description", func() string {
			if startupMode == config.StartupModeGraceful {
				return "will continue with degraded functionality on connection errors"
			}
			return "will fail fast on any initialization error"
		}())

	sugar.Infow("Config loaded",
		"environment", cfg.QualifiedEnvironment(),
		"redis_databases", len(cfg.Redis.Databases),
		"database_servers", len(cfg.Database.Servers),
		"job_lists", len(cfg.Queue.JobLists))
}
