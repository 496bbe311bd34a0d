// Command aggregator runs Service A: it consumes trade events from NATS
// JetStream, maintains OHLC windows per symbol and timeframe, and fans
// every finalized candle out to the bus and the analytical column store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flowcandle/candlestream/internal/aggregator"
	"github.com/flowcandle/candlestream/internal/config"
	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/publisher"
	"github.com/flowcandle/candlestream/internal/timewindow"
	"github.com/flowcandle/candlestream/internal/worker"
	"github.com/flowcandle/candlestream/pkg/logger"
	"github.com/flowcandle/candlestream/pkg/shutdown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "config/aggregator/app.yml", "Configuration file path")
	flag.Parse()

	cfg, err := config.LoadAggregatorConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logger.Level, cfg.Logger.Pretty)

	timeframes := make([]timewindow.TimeWindow, 0, len(cfg.Timeframes))
	for _, entry := range cfg.Timeframes {
		tf, err := entry.TimeWindow()
		if err != nil {
			logger.Log.Error().Err(err).Msg("invalid timeframe in configuration")
			os.Exit(1)
		}
		timeframes = append(timeframes, tf)
	}

	ingestConn, err := cfg.Nats.Ingest()
	if err != nil {
		logger.Log.Error().Err(err).Msg("invalid nats.ingest_conn")
		os.Exit(1)
	}
	ohlcConn, err := cfg.Nats.OHLC()
	if err != nil {
		logger.Log.Error().Err(err).Msg("invalid nats.ohlc_conn")
		os.Exit(1)
	}

	sd := shutdown.NewShutdown(logger.Log)

	natsConn, err := nats.Connect(ingestConn.Address())
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to connect to NATS")
		os.Exit(1)
	}
	sd.HookShutdownCallback("nats-conn", natsConn.Close, 5*time.Second)

	js, err := natsConn.JetStream()
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to open JetStream context")
		os.Exit(1)
	}

	ingestStream := ingestConn.GetParam("stream", "")
	ingestSubject := ingestConn.GetParam("subject", "")

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     ingestStream,
		Subjects: []string{ingestSubject},
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		logger.Log.Error().Err(err).Msg("failed to ensure ingest stream")
		os.Exit(1)
	}

	sub, err := js.PullSubscribe(ingestSubject, cfg.Nats.Durable)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to create pull subscription")
		os.Exit(1)
	}

	ohlcSubject := ohlcConn.GetParam("subject", "ohlc")
	busPublisher, err := publisher.NewBusPublisher(ohlcConn.Address(), func(msg model.OHLCMessage) string {
		return fmt.Sprintf("%s.%s", ohlcSubject, msg.Symbol)
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to create bus publisher")
		os.Exit(1)
	}
	sd.HookShutdownCallback("bus-publisher", func() { _ = busPublisher.Close() }, 5*time.Second)

	columnStore, err := publisher.NewColumnStorePublisher(
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User,
		cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.SSLMode, cfg.Postgres.TimeZone,
	)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to connect to column store")
		os.Exit(1)
	}
	sd.HookShutdownCallback("column-store", func() { _ = columnStore.Close() }, 5*time.Second)

	fanOut := publisher.NewFanOut(busPublisher, columnStore)

	agg := aggregator.New(timeframes, cfg.SmoothGaps)

	w := worker.New(sub, agg, fanOut, cfg.Nats.FetchBatch)
	go w.Start(sd.Context())
	sd.HookShutdownCallback("worker", w.Stop, 10*time.Second)

	if cfg.CleanupIntervalSeconds > 0 {
		go runCleanupLoop(sd.Context(), agg, cfg)
	}

	logger.Log.Info().Msg("aggregator started")
	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
	logger.Log.Info().Msg("aggregator stopped")
}

func runCleanupLoop(ctx context.Context, agg *aggregator.Aggregator, cfg *config.AggregatorConfig) {
	interval := time.Duration(cfg.CleanupIntervalSeconds) * time.Second
	maxAge := time.Duration(cfg.MaxWindowAgeSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agg.CleanupOldWindows(time.Now(), maxAge)
		}
	}
}
