package main

import (
	"context"
	"fmt"
	"time"

	"homeledger/internal/domain/account"
	"homeledger/internal/domain/ledgersync"
	"homeledger/internal/infrastructure/crypto"
	"homeledger/internal/infrastructure/postgres"
	"homeledger/internal/infrastructure/xero"
	"homeledger/internal/shared/config"
	"homeledger/internal/shared/logger"
	"homeledger/internal/shared/principal"
)

// services is the subset of the API wiring the admin commands need. No
// notifier is attached: admin runs are silent.
type services struct {
	db     *postgres.DB
	sync   *ledgersync.SyncService
	review *ledgersync.ReviewService
}

func openDatabase() (*config.Config, *postgres.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}
	logger.Log.Info("Connected to database")
	return cfg, db, nil
}

func runMigrate(direction postgres.Direction) error {
	_, db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	return postgres.Migrate(db, direction)
}

func newServices() (*services, error) {
	cfg, db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	if err := cfg.Xero.Validate(); err != nil {
		db.Close()
		return nil, err
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	mappingRepo := postgres.NewMappingRepository(db)
	syncLogRepo := postgres.NewSyncLogRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	accountService := account.NewService(postgres.NewAccountRepository(db))

	client := xero.NewClient(xero.Config{
		ClientID:     cfg.Xero.ClientID,
		ClientSecret: cfg.Xero.ClientSecret,
		RedirectURL:  cfg.Xero.RedirectURL,
		MaxPages:     cfg.Ledger.MaxPages,
	})
	tokens := ledgersync.NewTokenManager(connectionRepo, client, nil, cfg.Ledger.TokenRefreshBuffer)

	return &services{
		db:   db,
		sync: ledgersync.NewSyncService(connectionRepo, mappingRepo, syncLogRepo, transactionRepo, client, tokens, nil),
		review: ledgersync.NewReviewService(connectionRepo, mappingRepo, accountService, client, tokens,
			newMatcher(cfg)),
	}, nil
}

// newMatcher builds the matcher from the MATCH_* settings so the CLI
// classifies accounts the same way the API does.
func newMatcher(cfg *config.Config) *ledgersync.Matcher {
	return ledgersync.NewMatcher(ledgersync.MatchConfig(cfg.Match))
}

// withServices parses the timeout, builds the services and runs fn with a
// principal for userID.
func withServices(userID int64, timeout string, fn func(ctx context.Context, s *services, p principal.Principal) error) error {
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout format: %w", err)
	}
	p := principal.Principal{UserID: userID}
	if !p.Valid() {
		return fmt.Errorf("invalid user ID %d", userID)
	}

	s, err := newServices()
	if err != nil {
		return err
	}
	defer s.db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	return fn(ctx, s, p)
}

func runSync(userID int64, connectionID, timeout string) error {
	return withServices(userID, timeout, func(ctx context.Context, s *services, p principal.Principal) error {
		start := time.Now()
		result, err := s.sync.SyncConnection(ctx, p, connectionID, ledgersync.SyncManual)
		if result != nil {
			printSyncResult(result)
		}
		if err != nil {
			return err
		}
		fmt.Printf("\nSync completed in %v\n", time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func runReview(userID int64, connectionID, timeout string) error {
	return withServices(userID, timeout, func(ctx context.Context, s *services, p principal.Principal) error {
		comparisons, err := s.review.Review(ctx, p, connectionID)
		if err != nil {
			return err
		}
		for _, c := range comparisons {
			local := "-"
			if c.Local != nil {
				local = c.Local.Name
			}
			fmt.Printf("%-10s %3d%%  %-30s -> %-30s %s\n", c.Status, c.Confidence, c.Remote.Name, local, c.Reason)
		}
		fmt.Printf("\n%d remote account(s)\n", len(comparisons))
		return nil
	})
}

func runImportAll(userID int64, connectionID, timeout string) error {
	return withServices(userID, timeout, func(ctx context.Context, s *services, p principal.Principal) error {
		result, err := s.review.ImportAllUnmatched(ctx, p, connectionID)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		for _, acc := range result.Accounts {
			fmt.Printf("  + %s (%s)\n", acc.Name, acc.ID)
		}
		for _, e := range result.Errors {
			fmt.Printf("  ! %s\n", e)
		}
		return nil
	})
}

func printSyncResult(result *ledgersync.SyncResult) {
	fmt.Printf("\n=== Sync %s ===\n", result.Status)
	fmt.Printf("  Message:               %s\n", result.Message)
	if log := result.Log; log != nil {
		fmt.Printf("  Accounts synced:       %d\n", log.AccountsSynced)
		fmt.Printf("  Transactions imported: %d\n", log.TransactionsImported)
		fmt.Printf("  Transactions skipped:  %d\n", log.TransactionsSkipped)
		fmt.Printf("  API calls:             %d\n", log.APICalls)
	}
	for _, e := range result.Errors {
		fmt.Printf("  Error: %s\n", e)
	}
}
