package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PTracker/global"
	"PTracker/global/config"
	"PTracker/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := global.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap", zap.Error(err))
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("run", zap.Error(err))
		os.Exit(1)
	}
	logger.Infof("ptracker stopped")
}
