package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nutripay/cmd/server/config"
)

func newLogger(app config.AppConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(app.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if app.Development() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build(zap.Fields(zap.String("service", "nutripay")))
}
