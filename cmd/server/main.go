package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/sar-colorize/internal/config"
)

var (
	configPath string
	debugMode  bool
)

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Terrain-conditioned SAR image colorization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, json or toml)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	serve := newServeCommand()
	root.AddCommand(serve, newColorizeCommand())
	// Running the bare binary serves, as before.
	root.RunE = serve.RunE

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("Command failed")
	}
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, initLogger(debugMode, cfg.Log), nil
}

func initLogger(debugMode bool, lc config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
		return logger
	}

	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if lc.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return logger
}
