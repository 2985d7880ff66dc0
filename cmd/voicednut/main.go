package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"voicednut-bot/internal/app"
	"voicednut-bot/internal/infra/config"
	"voicednut-bot/internal/infra/logger"
)

func main() {
	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	// config.Load загружает конфигурацию из .env и переменных окружения.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Init(config.Env().LogLevel)
	if path := config.Env().LogFile; path != "" {
		logger.EnableFile(logger.FileOptions{
			Path:       path,
			Level:      config.Env().LogFileLevel,
			MaxSizeMB:  config.Env().LogFileMaxSize,
			MaxBackups: config.Env().LogFileMaxBackups,
			MaxAgeDays: config.Env().LogFileMaxAge,
			Compress:   config.Env().LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := app.NewApp(ctx, stop)
	if err := a.Run(); err != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(err))
	}

	stop()
	logger.Info("Graceful shutdown complete")
}
