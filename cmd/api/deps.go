package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"homeledger/internal/domain/account"
	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/infrastructure/crypto"
	"homeledger/internal/infrastructure/firebase"
	"homeledger/internal/infrastructure/kafka"
	"homeledger/internal/infrastructure/postgres"
	"homeledger/internal/infrastructure/postgres/listener"
	"homeledger/internal/infrastructure/xero"
	httphandlers "homeledger/internal/interfaces/http"
	"homeledger/internal/interfaces/scheduler"
	"homeledger/internal/shared/auth"
	"homeledger/internal/shared/config"
	"homeledger/internal/shared/logger"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	AccountHandler     *httphandlers.AccountHandler
	TransactionHandler *httphandlers.TransactionHandler
	LedgerHandler      *httphandlers.LedgerHandler

	// Auth
	JWT *auth.JWT

	// Scheduler and SyncListener are nil when SCHEDULER_ENABLED=false.
	Scheduler    *scheduler.Scheduler
	SyncListener *listener.SyncListener

	publisher *kafka.Publisher
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Connected to database")

	if err := postgres.Migrate(db, postgres.Up); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Initialize encryptor
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	deps := &Dependencies{
		DB:  db,
		JWT: auth.NewJWT(cfg.JWT.Secret),
	}

	// Initialize repositories
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	mappingRepo := postgres.NewMappingRepository(db)
	syncLogRepo := postgres.NewSyncLogRepository(db)

	// Initialize domain services
	accountService := account.NewService(accountRepo)

	xeroClient := xero.NewClient(xero.Config{
		ClientID:     cfg.Xero.ClientID,
		ClientSecret: cfg.Xero.ClientSecret,
		RedirectURL:  cfg.Xero.RedirectURL,
		MaxPages:     cfg.Ledger.MaxPages,
	})

	notifier := deps.buildNotifier(ctx, cfg)
	tokens := ledgersync.NewTokenManager(connectionRepo, xeroClient, notifier, cfg.Ledger.TokenRefreshBuffer)

	frequency, err := ledgersync.ParseSyncFrequency(cfg.Ledger.DefaultSyncFrequency)
	if err != nil {
		deps.Close()
		return nil, err
	}

	connectionService := ledgersync.NewConnectionService(
		connectionRepo, mappingRepo, syncLogRepo, xeroClient, tokens,
		ledgersync.NewStateCache(cfg.Ledger.StateTTL), frequency,
	)
	reviewService := ledgersync.NewReviewService(
		connectionRepo, mappingRepo, accountService, xeroClient, tokens,
		ledgersync.NewMatcher(ledgersync.MatchConfig(cfg.Match)),
	)
	syncService := ledgersync.NewSyncService(
		connectionRepo, mappingRepo, syncLogRepo, transactionRepo, xeroClient, tokens, notifier,
	)

	// Initialize scheduler (if enabled)
	var enqueuer httphandlers.SyncEnqueuer
	if cfg.Scheduler.Enabled {
		deps.Scheduler = scheduler.NewScheduler(scheduler.Config{
			PollInterval: cfg.Scheduler.PollInterval,
			WorkerCount:  cfg.Scheduler.WorkerCount,
			JobDelay:     cfg.Scheduler.JobDelay,
			QueueSize:    cfg.Scheduler.QueueSize,
			RunOnStartup: cfg.Scheduler.RunOnStartup,
		}, connectionRepo, syncService)
		enqueuer = deps.Scheduler
		deps.SyncListener = listener.NewSyncListener(
			cfg.Database.ConnectionString(),
			enqueueRequested(connectionRepo, deps.Scheduler),
		)
	} else {
		logger.Log.Info("Scheduler is disabled")
	}

	// Initialize handlers
	deps.AccountHandler = httphandlers.NewAccountHandler(accountService)
	deps.TransactionHandler = httphandlers.NewTransactionHandler(transactionRepo, accountService)
	deps.LedgerHandler = httphandlers.NewLedgerHandler(connectionService, reviewService, syncService, enqueuer)

	return deps, nil
}

// buildNotifier fans sync outcomes out to push and Kafka when each is
// configured. Neither is required.
func (d *Dependencies) buildNotifier(ctx context.Context, cfg *config.Config) ledgersync.Notifier {
	var notifiers ledgersync.MultiNotifier

	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Warn("Push notifications disabled")
		} else {
			notifiers = append(notifiers, ledgersync.NewPushNotifier(fcm))
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		d.publisher = kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.SyncTopic))
		notifiers = append(notifiers, ledgersync.NewEventNotifier(d.publisher))
		logger.Log.WithFields(logrus.Fields{
			"brokers": cfg.Kafka.Brokers,
			"topic":   cfg.Kafka.SyncTopic,
		}).Info("Publishing sync events")
	}

	if len(notifiers) == 0 {
		return ledgersync.NopNotifier{}
	}
	return notifiers
}

// enqueueRequested queues a sync for each database sync request. Requests
// for connections that are gone or no longer active are dropped.
func enqueueRequested(conns ledgersync.ConnectionRepository, sched *scheduler.Scheduler) listener.Handler {
	return func(ctx context.Context, req listener.SyncRequest) {
		conn, err := conns.GetByID(ctx, req.ConnectionID)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"connection_id": req.ConnectionID,
				"error":         err,
			}).Warn("Dropping sync request")
			return
		}
		if conn.Status != ledgersync.StatusActive {
			return
		}

		err = sched.EnqueueSync(conn, ledgersync.SyncManual)
		switch {
		case errors.Is(err, scheduler.ErrDuplicate):
			logger.Log.WithFields(logrus.Fields{"connection_id": conn.ID}).Debug("Sync already queued")
		case err != nil:
			logger.Log.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"error":         err,
			}).Warn("Failed to queue requested sync")
		}
	}
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			logger.LogError("Failed to close event publisher", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
