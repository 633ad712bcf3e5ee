package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-escrow/internal/board"
	"github.com/example/ride-escrow/internal/config"
	"github.com/example/ride-escrow/internal/dispatch"
	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/geo"
	httpapi "github.com/example/ride-escrow/internal/http"
	"github.com/example/ride-escrow/internal/ingest"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/logging"
	"github.com/example/ride-escrow/internal/sequencer"
	"github.com/example/ride-escrow/internal/storage"
	"github.com/example/ride-escrow/internal/vault"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("ride-escrow", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	book := vault.NewBook()
	for _, a := range cfg.Genesis {
		if err := book.Credit(a.Address, a.Amount); err != nil {
			return fmt.Errorf("genesis allocation: %w", err)
		}
		logger.Info("genesis_credit", "address", a.Address.Hex(), "amount", a.Amount.Dec())
	}

	ready := map[string]httpapi.ReadyCheck{}

	var store storage.RideStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := storage.NewPostgresStore(db)
		// the ledger starts empty, so ids and seqs from an earlier run must not linger
		if err := pg.Reset(ctx); err != nil {
			return err
		}
		store = pg
	}
	ready["store"] = store.Ping

	var idx geo.Index = geo.NewMemoryIndex()
	var publishers []events.Publisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		ri := geo.NewRedisIndex(rdb, cfg.RedisGeoKey)
		if err := ri.Reset(ctx); err != nil {
			return err
		}
		idx = ri
		publishers = append(publishers, ingest.NewRedisPublisher(rdb, cfg.RedisEventsChannel))
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	hub := dispatch.NewHub(logger)
	brd := &board.Service{Geo: idx, RadiusMeters: cfg.BoardRadiusMeters, TopN: cfg.BoardTopN, Logger: logger}
	publishers = append(publishers, hub, &storage.Projector{Store: store}, brd)

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publishers = append(publishers, kp)
	}
	if cfg.WebhookURL != "" {
		publishers = append(publishers, dispatch.NewWebhook(cfg.WebhookURL))
	}

	log := events.NewLog(cfg.EventLogSize)
	bus := events.NewBus(log, logger, cfg.EventQueueSize, publishers...)
	go bus.Run(context.Background())

	l, err := ledger.New(ledger.Config{
		Owner:        cfg.LedgerOwner,
		Address:      cfg.LedgerAddress,
		FeePercent:   cfg.FeePercent,
		MinDriverAge: cfg.MinDriverAge,
	}, book, bus, logger)
	if err != nil {
		return err
	}
	brd.Rides = l

	api := httpapi.NewServer(httpapi.Options{
		Ledger:         l,
		Balances:       book,
		Sequencer:      sequencer.New(),
		Board:          brd,
		Store:          store,
		Events:         log,
		Hub:            hub,
		Logger:         logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSOrigins,
		Ready:          ready,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-escrow listening", "addr", cfg.HTTPAddr, "owner", cfg.LedgerOwner.Hex(),
			"fee_percent", cfg.FeePercent, "publishers", len(publishers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if berr := bus.Close(shutdownCtx); berr != nil {
		logger.Warn("event bus did not drain", "error", berr)
	}
	return err
}

func openStore(ctx context.Context, cfg config.ServerConfig) (*sql.DB, error) {
	db, err := storage.OpenPostgres(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := storage.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
