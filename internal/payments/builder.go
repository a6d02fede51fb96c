package payments

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	paymentsdb "nutripay/internal/db/payments"
	subscriptionsdb "nutripay/internal/db/subscriptions"
	"nutripay/internal/payments/saga"
	"nutripay/internal/subscriptions"
)

// BuildOptions selects the stores and wrappers behind a Coordinator.
type BuildOptions struct {
	DatabaseURL          string
	SubscriptionBoltPath string
	Gateway              Gateway
	Reliability          *ReliabilityConfig
	Guard                PurchaseGuard
	AccountPattern       string
	Sinks                []OutcomeSink
	Metrics              Metrics
	OnRateLimitWait      func(time.Duration)
	Logger               *zap.Logger
}

// BuildCoordinator wires a Coordinator from opts. With a database URL both
// the transaction log and subscriptions live in Postgres; if the DSN is empty
// or initialization fails it falls back to in-memory transactions and to the
// Bolt file (when configured) or memory for subscriptions. The returned
// cleanup closes any external resources.
func BuildCoordinator(ctx context.Context, opts BuildOptions) (*Coordinator, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gateway == nil {
		return nil, func() {}, errors.New("build coordinator: gateway required")
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var txns saga.TransactionStore = saga.NewInMemoryStore()
	var subs subscriptions.Store

	if opts.DatabaseURL != "" {
		sqlDB, err := sql.Open("pgx", opts.DatabaseURL)
		if err != nil {
			logger.Warn("postgres open failed, falling back to in-memory stores", zap.Error(err))
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			txnStore, txnErr := paymentsdb.NewTransactionStoreWithSchema(setupCtx, sqlDB)
			subStore, subErr := subscriptionsdb.NewPostgresStoreWithSchema(setupCtx, sqlDB)
			if err := errors.Join(txnErr, subErr); err != nil {
				logger.Warn("postgres init failed, falling back to in-memory stores", zap.Error(err))
				_ = sqlDB.Close()
			} else {
				logger.Info("postgres stores enabled")
				txns = txnStore
				subs = subStore
				closers = append(closers, func() {
					if err := sqlDB.Close(); err != nil {
						logger.Warn("close postgres", zap.Error(err))
					}
				})
			}
		}
	}

	if subs == nil && opts.SubscriptionBoltPath != "" {
		boltStore, err := subscriptionsdb.OpenBoltStore(opts.SubscriptionBoltPath)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		logger.Info("bolt subscription store enabled", zap.String("path", opts.SubscriptionBoltPath))
		subs = boltStore
		closers = append(closers, func() {
			if err := boltStore.Close(); err != nil {
				logger.Warn("close bolt", zap.Error(err))
			}
		})
	}
	if subs == nil {
		subs = subscriptions.NewInMemoryStore()
	}

	gw := opts.Gateway
	if opts.Reliability != nil {
		gw = opts.Reliability.Wrap(gw, opts.OnRateLimitWait)
	}

	accounts, err := NewAccountValidator(opts.AccountPattern)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	coordinator, err := NewCoordinator(Config{
		Gateway:   gw,
		Store:     txns,
		Activator: subscriptions.NewActivator(subs, nil, logger),
		Guard:     opts.Guard,
		Accounts:  accounts,
		Sinks:     opts.Sinks,
		Metrics:   opts.Metrics,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return coordinator, cleanup, nil
}
