package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/pkg/config"
)

// loadConfig reads --config (if any) and applies --log-level on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if logLevelStr, _ := cmd.Flags().GetString("log-level"); logLevelStr != "" {
		switch strings.ToLower(logLevelStr) {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToLower(logLevelStr)
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}

	return cfg, nil
}

// configureLogger creates a logger for cfg.
// Without --log-level or a config file the logger stays silent, so that
// log lines never interleave with the device table.
func configureLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	path, _ := cmd.Flags().GetString("config")
	if logLevelStr == "" && path == "" {
		logger.SetLevel(logrus.PanicLevel)
	}

	return logger
}
