package main

import (
	"github.com/septivank/water-flow-monitor/internal/config"
	"github.com/septivank/water-flow-monitor/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
