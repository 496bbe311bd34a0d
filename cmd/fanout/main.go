// Command fanout runs Service B: it subscribes to the finalized-candle bus
// and serves WebSocket clients, broadcasting each candle to every
// connection subscribed to its (symbol, timeframe).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"

	"github.com/flowcandle/candlestream/internal/config"
	"github.com/flowcandle/candlestream/internal/model"
	"github.com/flowcandle/candlestream/internal/registry"
	"github.com/flowcandle/candlestream/internal/wsapi"
	"github.com/flowcandle/candlestream/pkg/logger"
	"github.com/flowcandle/candlestream/pkg/shutdown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "config/fanout/app.yml", "Configuration file path")
	flag.Parse()

	cfg, err := config.LoadFanoutConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logger.Level, cfg.Logger.Pretty)

	ohlcConn, err := cfg.Nats.OHLC()
	if err != nil {
		logger.Log.Error().Err(err).Msg("invalid nats.ohlc_conn")
		os.Exit(1)
	}

	sd := shutdown.NewShutdown(logger.Log)

	natsConn, err := nats.Connect(ohlcConn.Address())
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to connect to NATS")
		os.Exit(1)
	}
	sd.HookShutdownCallback("nats-conn", natsConn.Close, 5*time.Second)

	reg := registry.New()

	ohlcSubject := ohlcConn.GetParam("subject", "ohlc")
	// Queue-group subscribe so multiple fan-out replicas load-balance
	// candle consumption rather than each one reprocessing every message.
	sub, err := natsConn.QueueSubscribe(ohlcSubject+".>", cfg.Nats.Durable, func(msg *nats.Msg) {
		var candle model.OHLCMessage
		if err := json.Unmarshal(msg.Data, &candle); err != nil {
			logger.Log.Warn().Err(err).Msg("dropping malformed candle on bus")
			return
		}
		if err := reg.Broadcast(candle); err != nil {
			logger.Log.Error().Err(err).Msg("broadcast failed")
		}
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to subscribe to candle bus")
		os.Exit(1)
	}
	sd.HookShutdownCallback("candle-subscription", func() { _ = sub.Unsubscribe() }, 5*time.Second)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", wsapi.Handler(reg))

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
		logger.Log.Info().Str("addr", addr).Msg("fan-out server listening")
		if err := router.Run(addr); err != nil {
			logger.Log.Error().Err(err).Msg("server exited")
		}
	}()

	logger.Log.Info().Msg("fanout started")
	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
	logger.Log.Info().Msg("fanout stopped")
}
