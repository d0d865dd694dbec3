package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gate4ai/chatstream/server"
	"github.com/gate4ai/chatstream/shared"
	"github.com/gate4ai/chatstream/shared/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variable names
const (
	EnvDatabaseURL = "CHATSTREAM_DATABASE_URL"
	EnvConfigYAML  = "CHATSTREAM_CONFIG_YAML"
)

func main() {
	logerConfig := zap.NewProductionConfig()
	logerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := logerConfig.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envPath, err := shared.LoadDotEnv(); err != nil {
		logger.Warn("Failed to load .env file", zap.String("path", envPath), zap.Error(err))
	} else if envPath != "" {
		logger.Info("Loaded environment file", zap.String("path", envPath))
	}

	configDB := flag.String("database-url", "", "PostgreSQL connection string for configuration")
	configYAML := flag.String("config-yaml", "", "Path to YAML configuration file")
	listenAddr := flag.String("listen", "", "Listen address, overrides the configured one")
	flag.Parse()

	if *configDB != "" && *configYAML != "" {
		logger.Fatal("Cannot specify both database-url and config-yaml")
	}

	dbURL := os.Getenv(EnvDatabaseURL)
	if *configDB != "" {
		dbURL = *configDB
	}
	yamlPath := os.Getenv(EnvConfigYAML)
	if *configYAML != "" {
		yamlPath = *configYAML
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cfg config.IConfig
	switch {
	case dbURL != "":
		logger.Info("Loading configuration from database")
		cfg, err = config.NewDatabaseConfig(dbURL, logger)
		if err != nil {
			logger.Fatal("Failed to create database config", zap.Error(err))
		}
	case yamlPath != "":
		logger.Info("Loading configuration from YAML file", zap.String("path", yamlPath))
		yamlCfg, err := config.NewYamlConfig(yamlPath, logger)
		if err != nil {
			logger.Fatal("Failed to create YAML config", zap.Error(err))
		}
		go func() {
			if err := yamlCfg.Watch(ctx); err != nil {
				logger.Warn("Config file watcher stopped", zap.Error(err))
			}
		}()
		cfg = yamlCfg
	default:
		logger.Info("No configuration source specified, using built-in defaults")
		cfg = config.NewInternalConfig()
	}
	defer cfg.Close()

	// Update logger level based on configuration
	if logLevel, err := cfg.LogLevel(); err != nil {
		logger.Warn("Failed to get log level from config, using default", zap.Error(err))
	} else {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			logger.Warn("Invalid log level in config, using default", zap.String("level", logLevel), zap.Error(err))
		} else {
			logerConfig.Level.SetLevel(level)
		}
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		logger.Info("Received termination signal")
		cancel()
	}()

	done, err := server.Start(ctx, logger, cfg, server.WithListenAddr(*listenAddr))
	if err != nil {
		logger.Fatal("Server failed to start", zap.Error(err))
	}

	if err, ok := <-done; ok && err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Chat server stopped gracefully")
}
