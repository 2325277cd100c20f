package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"

	"grimm.is/switchyard/internal/brand"
	"grimm.is/switchyard/internal/config"
	"grimm.is/switchyard/internal/i18n"
	"grimm.is/switchyard/internal/logging"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// commonFlags are shared by every subcommand that reads the configuration.
type commonFlags struct {
	ConfigFile string
	LogLevel   string
	LogJSON    bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ConfigFile, "config", "c", brand.GetConfigPath(), "Sidecar configuration file (JSON, YAML or HCL)")
	fs.StringVar(&c.LogLevel, "log-level", envOr(brand.EnvVar("LOG_LEVEL"), "info"), "Log level (debug, info, warn, error)")
	fs.BoolVar(&c.LogJSON, "log-json", false, "Emit JSON log lines")
}

// setupLogging installs the process-wide logger.
func (c *commonFlags) setupLogging() (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.JSON = c.LogJSON
	logger := logging.New(cfg)
	logging.SetDefault(logger)
	return logger, nil
}

// loadConfig loads path into a tree. A missing file yields the empty tree;
// any other read or parse failure is returned.
func loadConfig(path string, logger *logging.Logger) (*config.LoadResult, error) {
	log := logger.WithComponent("config")
	if path == "" {
		log.Info("No configuration file given, running with empty configuration")
		return &config.LoadResult{Tree: config.Empty()}, nil
	}

	result, err := config.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("Configuration file not found, running with empty configuration", "path", path)
		return &config.LoadResult{Tree: config.Empty(), Path: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	for _, w := range result.Warnings {
		log.Warn(w, "path", path)
	}
	log.Info("Configuration loaded", "path", path, "format", result.Format)
	return result, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
