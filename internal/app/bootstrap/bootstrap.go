package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	pollengine "agora/contexts/governance/poll-engine"
	"agora/contexts/governance/poll-engine/adapters/ethereum"
	postgresadapter "agora/contexts/governance/poll-engine/adapters/postgres"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	ledger   *ethereum.Client
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres      *db.Postgres
	ledger        *ethereum.Client
	engine        pollengine.Module
	sweepInterval time.Duration
	relayInterval time.Duration
	logger        *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	pg, ledger, engine, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	server := httpserver.New(engine, logger, normalizeAddr(cfg.HTTPPort), cfg.CORSAllowedOrigins)
	return &APIApp{
		server:   server,
		postgres: pg,
		ledger:   ledger,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	pg, ledger, engine, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &WorkerApp{
		postgres:      pg,
		ledger:        ledger,
		engine:        engine,
		sweepInterval: cfg.Sweeper.Interval,
		relayInterval: 2 * time.Second,
		logger:        logger,
	}, nil
}

func buildEngine(cfg config.Config, logger *slog.Logger) (*db.Postgres, *ethereum.Client, pollengine.Module, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, nil, pollengine.Module{}, errors.New("POSTGRES_DSN is required")
	}
	if strings.TrimSpace(cfg.Ledger.RPCURL) == "" {
		return nil, nil, pollengine.Module{}, errors.New("LEDGER_RPC_URL is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, pollengine.Module{}, err
	}

	ledger, err := ethereum.NewClient(ethereum.Config{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		PrivateKeyHex:   cfg.Ledger.PrivateKeyHex,
		ChainID:         cfg.Ledger.ChainID,
		ConfirmTimeout:  cfg.Ledger.ConfirmTimeout,
		MaxAttempts:     cfg.Ledger.MaxAttempts,
		RetryBackoff:    cfg.Ledger.RetryBackoff,
	}, logger)
	if err != nil {
		_ = pg.Close()
		return nil, nil, pollengine.Module{}, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		ledger.Close()
		return nil, nil, pollengine.Module{}, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	engine := pollengine.NewModule(pollengine.Dependencies{
		Polls:          repo,
		Votes:          repo,
		Operations:     repo,
		Ledger:         ledger,
		Outbox:         repo,
		OutboxRepo:     repo,
		Publisher:      kafka,
		Clock:          postgresadapter.SystemClock{},
		IDGen:          postgresadapter.UUIDGenerator{},
		PendingAge:     cfg.Sweeper.PendingAge,
		SweepBatchSize: cfg.Sweeper.BatchSize,
		DriftCheckSize: cfg.Sweeper.DriftCheckSize,
		Logger:         logger,
	})
	return pg, ledger, engine, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

// Run drives the reconciliation sweeper and the outbox relay on independent
// cadences. A failing sweep is logged and retried on the next tick rather
// than taking the process down.
func (w *WorkerApp) Run(ctx context.Context) error {
	sweepTicker := time.NewTicker(w.sweepInterval)
	defer sweepTicker.Stop()
	relayTicker := time.NewTicker(w.relayInterval)
	defer relayTicker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"sweep_interval", w.sweepInterval.String(),
		"relay_interval", w.relayInterval.String(),
	)

	if err := w.engine.Sweeper.RunOnce(ctx); err != nil {
		w.logSweepFailure(err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepTicker.C:
			if err := w.engine.Sweeper.RunOnce(ctx); err != nil {
				w.logSweepFailure(err)
			}
		case <-relayTicker.C:
			if err := w.engine.Relay.RunOnce(ctx); err != nil {
				w.logger.Error("outbox relay cycle failed",
					"event", "bootstrap_relay_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		}
	}
}

func (w *WorkerApp) logSweepFailure(err error) {
	w.logger.Error("reconciliation sweep failed",
		"event", "bootstrap_sweep_failed",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"error", err.Error(),
	)
}

func (w *WorkerApp) Close() error {
	if w.ledger != nil {
		w.ledger.Close()
	}
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
