// streamtest connects to a venue stream, subscribes to market data and
// prints the canonical events to the console.
// Usage: go run ./cmd/streamtest --config configs/adapter.example.yaml --securities BTC/USD,ETH/USD
//
// Credentials come from the config file; ${VAR} references are expanded:
//
//	venue.api_key          - API key id
//	venue.private_key_path - Path to the RSA private key PEM file
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/tradelink/internal/adapter"
	"github.com/rickgao/tradelink/internal/auth"
	"github.com/rickgao/tradelink/internal/config"
	"github.com/rickgao/tradelink/internal/events"
	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/venue"
)

func main() {
	configPath := flag.String("config", "configs/adapter.example.yaml", "path to config file")
	securities := flag.String("securities", "BTC/USD", "comma-separated security ids")
	kind := flag.String("kind", "ticks", "data kind: ticks, candles, quotes or level1")
	param := flag.String("param", "", "data kind parameter, e.g. a candle timeframe")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dataKind, err := model.ParseDataKind(*kind)
	if err != nil {
		logger.Error("invalid data kind", "error", err)
		os.Exit(1)
	}

	mapper, err := venue.ForName(cfg.Venue.Name)
	if err != nil {
		logger.Error("invalid venue", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []adapter.Option
	if cfg.Venue.Authenticated() {
		creds, err := auth.LoadCredentials(cfg.Venue.APIKey, cfg.Venue.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		logger.Info("using API credentials", "key_id", creds.KeyID)
		opts = append(opts, adapter.WithSigner(creds))
	}

	a := adapter.New(adapter.FromConfig(cfg), adapter.NewDialer(cfg, logger), mapper, logger, opts...)
	sub := a.Subscribe("console")

	go printEvents(ctx, sub, *verbose)

	logger.Info("connecting", "stream_url", cfg.Venue.StreamURL, "transport", cfg.Venue.Transport)
	if _, err := a.Handle(ctx, model.ConnectMessage{}); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	for _, id := range strings.Split(*securities, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		tx, err := a.Handle(ctx, model.MarketDataMessage{
			SecurityID:  id,
			DataKind:    dataKind,
			Param:       *param,
			IsSubscribe: true,
		})
		if err != nil {
			logger.Error("subscribe failed", "security_id", id, "error", err)
			continue
		}
		logger.Info("subscribed", "security_id", id, "kind", dataKind, "tx", tx)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := a.Stats()
				logger.Info("stats",
					"state", s.Connection.State,
					"reconnects", s.Connection.Reconnects,
					"frames_received", s.Dispatcher.FramesReceived,
					"frames_routed", s.Dispatcher.FramesRouted,
					"parse_errors", s.Dispatcher.ParseErrors,
					"subs_live", s.Subscriptions.Live,
					"events_dropped", s.Events.Dropped,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("close error", "error", err)
	}
	logger.Info("shutdown complete")
}

func printEvents(ctx context.Context, sub *events.Subscription, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, ok := sub.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			if verbose {
				data, _ := json.MarshalIndent(msg, "", "  ")
				fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type().String()), data)
				continue
			}
			fmt.Println(summarize(msg))
		}
	}
}

func summarize(msg model.Message) string {
	switch m := msg.(type) {
	case model.TickMessage:
		return fmt.Sprintf("[TICK] tx=%d security=%s id=%s price=%s volume=%s side=%s",
			m.OriginalTransactionID, m.SecurityID, m.TradeID, m.Price, m.Volume, m.Side)
	case model.CandleMessage:
		return fmt.Sprintf("[CANDLE] tx=%d security=%s tf=%s o=%s h=%s l=%s c=%s final=%t",
			m.OriginalTransactionID, m.SecurityID, m.Timeframe, m.Open, m.High, m.Low, m.Close, m.Final)
	case model.QuoteMessage:
		return fmt.Sprintf("[QUOTES] tx=%d security=%s bids=%d asks=%d",
			m.OriginalTransactionID, m.SecurityID, len(m.Bids), len(m.Asks))
	case model.Level1Message:
		return fmt.Sprintf("[LEVEL1] tx=%d security=%s bid=%s ask=%s last=%s",
			m.OriginalTransactionID, m.SecurityID, m.BestBid, m.BestAsk, m.LastPrice)
	case model.SubscriptionResponseMessage:
		if m.Error != nil {
			return fmt.Sprintf("[SUBSCRIPTION REJECTED] tx=%d error=%v", m.OriginalTransactionID, m.Error)
		}
		return fmt.Sprintf("[SUBSCRIPTION OK] tx=%d", m.OriginalTransactionID)
	case model.SubscriptionFinishedMessage:
		return fmt.Sprintf("[SUBSCRIPTION FINISHED] tx=%d", m.OriginalTransactionID)
	case model.ConnectionStateMessage:
		return fmt.Sprintf("[STATE] %s -> %s attempt=%d error=%v", m.Old, m.New, m.Attempt, m.Error)
	case model.ErrorMessage:
		return fmt.Sprintf("[ERROR] tx=%d error=%v", m.OriginalTransactionID, m.Error)
	default:
		return fmt.Sprintf("[%s] %+v", strings.ToUpper(msg.Type().String()), msg)
	}
}
