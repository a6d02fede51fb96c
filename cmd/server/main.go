package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"nutripay/cmd/server/config"
	"nutripay/internal/adapters/grpc"
	"nutripay/internal/observability"
	"nutripay/internal/payments"
	"nutripay/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	app, err := config.LoadApp()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := newLogger(app)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, app, logger); err != nil {
		logger.Fatal("server.exit", zap.Error(err))
	}
}

func run(ctx context.Context, app config.AppConfig, logger *zap.Logger) error {
	gwCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	base, err := buildGateway(gwCfg, app, logger)
	if err != nil {
		return err
	}
	reliability, err := payments.LoadReliabilityConfigFromEnv()
	if err != nil {
		return err
	}
	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	obsCfg, err := config.LoadObservability()
	if err != nil {
		return err
	}
	kafkaCfg, err := config.LoadKafka()
	if err != nil {
		return err
	}

	guard, cleanupGuard, err := buildGuard(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanupGuard()

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(logger.Named("realtime"))
	go hub.Run(ctx)

	sinks, cleanupSinks := buildSinks(kafkaCfg, hub, logger)
	defer cleanupSinks()

	stores := config.LoadStores()
	coordinator, cleanupStores, err := payments.BuildCoordinator(ctx, payments.BuildOptions{
		DatabaseURL:          stores.DatabaseURL,
		SubscriptionBoltPath: stores.SubscriptionBoltPath,
		Gateway:              base,
		Reliability:          &reliability,
		Guard:                guard,
		AccountPattern:       gwCfg.AccountPattern,
		Sinks:                sinks,
		Metrics:              metrics,
		OnRateLimitWait:      metrics.AddRateLimitWait,
		Logger:               logger.Named("payments"),
	})
	if err != nil {
		return err
	}
	defer cleanupStores()

	lis, err := net.Listen("tcp", grpcCfg.Addr)
	if err != nil {
		return err
	}

	limiter := newGrpcRateLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst, metrics.AddRateLimitWait)
	server := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, metrics, logger)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, metrics, logger)),
	)
	grpc.RegisterPaymentServiceServer(server, grpc.NewPaymentServer(coordinator, logger.Named("grpc")))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(grpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if !app.Production() {
		reflection.Register(server)
		logger.Info("grpc.reflection.enabled", zap.String("app_env", app.Env))
	}

	obsSrv, err := startObservabilityServer(obsCfg, metrics, hub, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()
	logger.Info("server.started", zap.String("grpc_addr", grpcCfg.Addr), zap.String("obs_addr", obsCfg.Addr))

	select {
	case <-ctx.Done():
		healthServer.SetServingStatus(grpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		server.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obsSrv.Shutdown(shutdownCtx)
		logger.Info("server.stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func startObservabilityServer(cfg config.ObservabilityConfig, metrics *observability.Metrics, hub *realtime.Hub, logger *zap.Logger) (*http.Server, error) {
	promHandler, err := observability.PrometheusHandler(metrics)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promHandler)
	mux.Handle("/debug/metrics", observability.Handler(metrics))
	mux.Handle("/ws/reconciliation", hub)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability.server.failed", zap.Error(err))
		}
	}()

	return srv, nil
}
