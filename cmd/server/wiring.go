package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nutripay/cmd/server/config"
	"nutripay/internal/events"
	"nutripay/internal/gateway"
	"nutripay/internal/payments"
)

var errInMemoryGatewayInProduction = errors.New("GATEWAY_URL is required when APP_ENV=production")

func buildGateway(cfg config.GatewayConfig, app config.AppConfig, logger *zap.Logger) (payments.Gateway, error) {
	if cfg.InMemory() {
		if app.Production() {
			return nil, errInMemoryGatewayInProduction
		}
		logger.Warn("gateway.in_memory", zap.String("app_env", app.Env))
		return gateway.NewInMemoryProcessor(), nil
	}
	client, err := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.URL,
		MerchantID:    cfg.MerchantID,
		APIKey:        cfg.APIKey,
		SigningSecret: cfg.SigningSecret,
		Timeout:       cfg.Timeout,
		Logger:        logger.Named("gateway"),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// buildGuard returns the Redis-backed purchase guard when REDIS_URL is set,
// otherwise a process-local one.
func buildGuard(ctx context.Context, logger *zap.Logger) (payments.PurchaseGuard, func(), error) {
	if !config.RedisConfigured() {
		logger.Info("purchase.guard.local")
		return payments.NewLocalGuard(), func() {}, nil
	}
	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx := ctx
	if cfg.HealthcheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthcheckTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis.close.failed", zap.Error(err))
		}
	}
	return payments.NewRedisGuard(client, cfg.GuardTTL, logger.Named("guard")), cleanup, nil
}

// buildSinks wires the websocket feed and, when brokers are configured, Kafka.
func buildSinks(cfg config.KafkaConfig, feed events.Broadcaster, logger *zap.Logger) ([]payments.OutcomeSink, func()) {
	sinks := []payments.OutcomeSink{events.NewBroadcastSink(feed, false)}
	if !cfg.Enabled() {
		return sinks, func() {}
	}
	publisher := events.NewKafkaPublisher(
		events.NewKafkaWriter(cfg.Brokers, cfg.OutcomeTopic),
		events.NewKafkaWriter(cfg.Brokers, cfg.ReconciliationTopic),
	)
	logger.Info("events.kafka.enabled",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("outcome_topic", cfg.OutcomeTopic),
		zap.String("reconciliation_topic", cfg.ReconciliationTopic),
	)
	cleanup := func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("events.kafka.close_failed", zap.Error(err))
		}
	}
	return append(sinks, publisher), cleanup
}
