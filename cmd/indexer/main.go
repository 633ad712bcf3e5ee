package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-escrow/internal/config"
	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/geo"
	"github.com/example/ride-escrow/internal/ingest"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/logging"
	"github.com/example/ride-escrow/internal/observability"
	"github.com/example/ride-escrow/internal/storage"
)

func main() {
	cfg, err := config.LoadIndexerConfig()
	logger := logging.NewLogger("ride-escrow-indexer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		targets []events.Publisher
		checks  []func(context.Context) error
	)
	if cfg.PGDSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := storage.Migrate(db); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
		}
		targets = append(targets, &storage.Projector{Store: storage.NewPostgresStore(db)})
		checks = append(checks, db.PingContext)
	}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		targets = append(targets, &geoProjector{idx: geo.NewRedisIndex(rc, cfg.RedisGeoKey)})
		checks = append(checks, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	}

	go serveHealth(cfg.MetricsAddr, checks, logger)

	consumer := ingest.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer consumer.Close()

	logger.Info("indexer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, consumer, targets, cfg.Attempts, cfg.RetryDelay, logger)
	logger.Info("shutting down indexer")
}

// source is the part of ingest.KafkaConsumer the loop needs.
type source interface {
	Next(ctx context.Context) (ledger.Event, kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

func consume(ctx context.Context, src source, targets []events.Publisher, attempts int, delay time.Duration, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		ev, m, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var invalid *ingest.InvalidMessageError
			if errors.As(err, &invalid) {
				observability.IndexerInvalid.Inc()
				logger.Warn("invalid message", "error", err)
				_ = src.Commit(ctx, m)
				continue
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		// reset backoff on success
		backoff = time.Second
		observability.IndexerConsumed.Inc()

		if !project(ctx, targets, ev, attempts, delay, logger) {
			return
		}
		if err := src.Commit(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn("commit failed", "seq", ev.Seq, "error", err)
		}
	}
}

// project applies ev until every target accepts it. The offset is only
// committed afterwards, so a failing projection holds the partition rather
// than skipping the event. It returns false once ctx ends.
func project(ctx context.Context, targets []events.Publisher, ev ledger.Event, attempts int, delay time.Duration, logger *slog.Logger) bool {
	const maxBackoff = 30 * time.Second
	backoff := delay
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := applyWithRetry(ctx, targets, ev, attempts, delay)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		observability.IndexerErrors.Inc()
		logger.Error("projection failed", "seq", ev.Seq, "kind", ev.Kind, "ride_id", ev.RideID, "error", err, "backoff", backoff)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// applyWithRetry hands ev to every target, retrying each with doubling
// delay. Targets already applied are not repeated.
func applyWithRetry(ctx context.Context, targets []events.Publisher, ev ledger.Event, attempts int, delay time.Duration) error {
	var errs []error
	for _, t := range targets {
		d := delay
		for i := 0; i < attempts; i++ {
			err := t.Publish(ctx, ev)
			if err == nil {
				break
			}
			if i == attempts-1 {
				errs = append(errs, err)
				break
			}
			if !sleep(ctx, d) {
				return ctx.Err()
			}
			d *= 2
		}
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type geoProjector struct{ idx geo.Index }

func (g *geoProjector) Name() string { return "geo" }

func (g *geoProjector) Publish(ctx context.Context, ev ledger.Event) error {
	_, err := geo.Apply(ctx, g.idx, ev)
	return err
}

func serveHealth(addr string, checks []func(context.Context) error, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
