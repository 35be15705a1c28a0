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
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/slipkeeper/slipkeeper/internal/allocation"
	"github.com/slipkeeper/slipkeeper/internal/bot"
	"github.com/slipkeeper/slipkeeper/internal/command"
	"github.com/slipkeeper/slipkeeper/internal/config"
	"github.com/slipkeeper/slipkeeper/internal/discord"
	"github.com/slipkeeper/slipkeeper/internal/ledger"
	"github.com/slipkeeper/slipkeeper/internal/reconcile"
	"github.com/slipkeeper/slipkeeper/internal/server"
	"github.com/slipkeeper/slipkeeper/internal/slip"
)

const resyncInterval = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.Error("cannot reach PostgreSQL; ensure it is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}

	repo := ledger.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("ledger schema setup failed", "error", err)
		os.Exit(1)
	}

	// River migrations (job queue tables).
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("failed to create river migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("river migrate up failed", "error", err)
		os.Exit(1)
	}

	adapter, err := discord.New(cfg.DiscordToken, logger)
	if err != nil {
		slog.Error("discord setup failed", "error", err)
		os.Exit(1)
	}

	view := ledger.NewView(adapter, cfg.LedgerChannelID, logger)
	ledgerSvc := ledger.NewService(repo, view, logger)
	reconciler := reconcile.New(repo, view, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, reconcile.NewResetWorker(reconciler, adapter, logger))
	river.AddWorker(workers, reconcile.NewResyncWorker(reconciler, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			// One worker: reset and resync both rewrite the channel and must
			// never overlap.
			river.QueueDefault: {MaxWorkers: 1},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(resyncInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return reconcile.ResyncJobArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("failed to create river client", "error", err)
		os.Exit(1)
	}

	enqueueReset := func(ctx context.Context, requestedBy, replyChannelID string) error {
		_, err := riverClient.Insert(ctx, reconcile.ResetJobArgs{
			RequestedBy:    requestedBy,
			ReplyChannelID: replyChannelID,
		}, nil)
		return err
	}

	verifier := slip.NewVerifier(cfg.SlipAPIID, cfg.SlipAPIKey)
	allocator := allocation.NewManager(ledgerSvc, adapter, cfg.ChoiceWindow, logger)
	commands := command.NewGateway(adapter, ledgerSvc, enqueueReset, cfg.ConfirmWindow, logger)
	router := bot.NewRouter(adapter, verifier, allocator, commands, cfg.SlipChannelID, cfg.UnitPrice, logger)

	adapter.OnMessage(router.HandleMessage)
	adapter.OnReaction(router.HandleReaction)

	if err := adapter.Open(); err != nil {
		slog.Error("discord connection failed", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("river client failed to start", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: server.New(ledgerSvc, cfg.APIToken, logger).Handler(),
	}
	go func() {
		slog.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	slog.Info("slipkeeper running",
		"slip_channel", cfg.SlipChannelID,
		"ledger_channel", cfg.LedgerChannelID,
		"unit_price", cfg.UnitPrice)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("river shutdown failed", "error", err)
	}
}
