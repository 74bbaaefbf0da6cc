package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tradelink/internal/adapter"
	"github.com/rickgao/tradelink/internal/auth"
	"github.com/rickgao/tradelink/internal/config"
	"github.com/rickgao/tradelink/internal/database"
	"github.com/rickgao/tradelink/internal/journal"
	"github.com/rickgao/tradelink/internal/ledger"
	"github.com/rickgao/tradelink/internal/metrics"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/poller"
	"github.com/rickgao/tradelink/internal/rest"
	"github.com/rickgao/tradelink/internal/telemetry"
	"github.com/rickgao/tradelink/internal/venue"
	"github.com/rickgao/tradelink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/adapter.local.yaml", "path to config file")
	flag.Parse()

	logger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)

	logger.Info("starting adapter",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(*configPath, logger); err != nil {
		logger.Error("adapter failed", "error", err)
		os.Exit(1)
	}
	logger.Info("adapter stopped")
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"venue", cfg.Venue.Name,
		"transport", cfg.Venue.Transport,
		"stream_url", cfg.Venue.StreamURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Instance.ID)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	mapper, err := venue.ForName(cfg.Venue.Name)
	if err != nil {
		return err
	}

	var opts []adapter.Option

	var creds *auth.Credentials
	if cfg.Venue.Authenticated() {
		creds, err = auth.LoadCredentials(cfg.Venue.APIKey, cfg.Venue.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		opts = append(opts, adapter.WithSigner(creds))
		logger.Info("using API credentials", "key_id", creds.KeyID)
	}

	if cfg.Venue.RestURL != "" {
		var signer rest.Signer
		if creds != nil {
			signer = creds
		}
		client := rest.NewClient(cfg.Venue.RestURL, signer,
			rest.WithLogger(logger),
			rest.WithTimeout(cfg.Venue.Timeout),
			rest.WithRetries(cfg.Venue.MaxRetries, time.Second),
		)
		opts = append(opts, adapter.WithLookup(client))
	}

	var store *ledger.Ledger
	if cfg.Ledger.Path != "" {
		store, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()
		opts = append(opts, adapter.WithStore(store))
	}

	a := adapter.New(adapter.FromConfig(cfg), adapter.NewDialer(cfg, logger), mapper, logger, opts...)

	if store != nil {
		if err := restoreOrders(a, store, logger); err != nil {
			return err
		}
	}

	srv := metrics.NewServer(metrics.Config{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Path:         cfg.Metrics.Path,
		CheckTimeout: 5 * time.Second,
	}, logger)
	srv.AddCheck("venue", metrics.ConnectionCheck(a))

	var jnl *journal.Journal
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database, "tradelink-"+cfg.Instance.ID)
		if err != nil {
			return err
		}
		defer pool.Close()
		srv.AddCheck("database", metrics.PingCheck(pool))

		jnl = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, a.Subscribe("journal"), pool, logger)
		if err := jnl.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := jnl.Start(ctx); err != nil {
			return err
		}
	}

	if jnl != nil {
		err = srv.Register(metrics.NewCollector(a, jnl))
	} else {
		err = srv.Register(metrics.NewCollector(a, nil))
	}
	if err != nil {
		return err
	}

	a.OnDrop(func(observer string, msg model.Message) {
		logger.Warn("event dropped", "observer", observer, "type", msg.Type())
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	g.Go(func() error {
		if err := a.ConnectWithRetry(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("initial connect: %w", err)
		}
		return nil
	})

	var rec *poller.Poller
	if cfg.Poller.Interval > 0 {
		rec = poller.New(poller.Config{
			Interval:   cfg.Poller.Interval,
			Timeout:    10 * time.Second,
			Portfolios: cfg.Poller.Portfolios,
		}, a, logger)
		if err := rec.Start(gctx); err != nil {
			return err
		}
	}

	logger.Info("adapter running",
		"instance_id", cfg.Instance.ID,
		"state", a.State(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	<-gctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if rec != nil {
		rec.Stop(shutdownCtx)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("adapter close error", "error", err)
	}
	if jnl != nil {
		if err := jnl.Stop(shutdownCtx); err != nil {
			logger.Warn("journal stop error", "error", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// restoreOrders reloads open orders and rewrites the ledger under the ids
// they were restored with.
func restoreOrders(a *adapter.Adapter, store *ledger.Ledger, logger *slog.Logger) error {
	records, err := store.Load()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	n := a.Restore(records)
	if err := store.Replace(a.OpenOrders()); err != nil {
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	logger.Info("ledger restored", "records", len(records), "open_orders", n)
	return nil
}

// newLogger builds the process logger from LOG_LEVEL (debug, info, warn,
// error) and LOG_FORMAT (text, json).
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
