package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sajinavi2006/julomvp-sub039/internal/api"
	"github.com/sajinavi2006/julomvp-sub039/internal/config"
	"github.com/sajinavi2006/julomvp-sub039/internal/dispatch"
	"github.com/sajinavi2006/julomvp-sub039/internal/repayment"
	"github.com/sajinavi2006/julomvp-sub039/internal/store"
	"github.com/sajinavi2006/julomvp-sub039/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	auditor := audit.NewChainLogger()

	engine := repayment.NewOrchestrator(st, repayment.Config{
		GracePeriodDays:            cfg.GracePeriodDays,
		OverpaymentNotifyThreshold: cfg.OverpaymentNotifyThreshold,
		CashbackRate:               cfg.CashbackRate,
	},
		repayment.WithLateFeeVoidRule(&repayment.GraceLateFeeVoid{GraceDays: cfg.GracePeriodDays}),
		repayment.WithAuditChain(auditor),
	)

	dispatcher := dispatch.New(logger)
	registerCommandHandlers(dispatcher, logger)

	router := api.NewRouter(api.Dependencies{
		Logger:     logger,
		Payments:   st,
		Processor:  engine,
		Dispatcher: dispatcher,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("repayment service listening", "addr", cfg.ListenAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *slog.Logger) (repayment.Store, error) {
	if cfg.UsesPostgres() {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st := store.NewPostgresStore(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("using postgres store")
		return st, nil
	}
	logger.Info("using sqlite store", "path", cfg.DatabaseURL)
	return store.NewSQLiteStore(cfg.DatabaseURL)
}

// registerCommandHandlers installs delivery for every post-commit command
// kind. Downstream systems (notifications, wallet, collections) are external;
// here each handler logs the hand-off that a production deployment would
// replace with a queue producer.
func registerCommandHandlers(d *dispatch.Dispatcher, logger *slog.Logger) {
	kinds := []repayment.CommandKind{
		repayment.CmdNotifyOverpayment,
		repayment.CmdCreditWallet,
		repayment.CmdUpdateCollectionsBucket,
		repayment.CmdEvictCollections,
		repayment.CmdRecomputeScheme,
		repayment.CmdLateFeeVoided,
	}
	for _, kind := range kinds {
		kind := kind
		d.Register(kind, func(ctx context.Context, cmd repayment.Command) error {
			logger.Info("command delivered",
				"kind", string(kind),
				"account_id", cmd.AccountID,
				"reference", cmd.Reference,
				"amount", cmd.Amount,
			)
			return nil
		})
	}
}
