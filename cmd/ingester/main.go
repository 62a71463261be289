package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/ingester"
	"github.com/chatpulse/chatpulse/internal/logging"
	"github.com/chatpulse/chatpulse/internal/monitoring"
	"github.com/chatpulse/chatpulse/internal/store/cassandra"
)

func splitHosts(hosts string) []string {
	result := []string{}
	for _, h := range strings.Split(hosts, ",") {
		if trimmed := strings.TrimSpace(h); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	logger := logging.NewLogger("ingester", logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration load failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.NewLogger("ingester", logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	store, err := cassandra.New(splitHosts(cfg.CassandraHosts), cfg.CassandraKeyspace, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Cassandra setup failed")
	}
	defer store.Close()

	consumer, err := bus.NewConsumer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Bus consumer setup failed")
	}
	defer consumer.Close()

	metrics := monitoring.NewServer(cfg.MetricsAddr, "ingester", logger)
	metrics.Start()
	sysmon := monitoring.NewSystemMonitor(cfg.MetricsInterval, logger)
	sysmon.Start()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	ing := ingester.New(store, cfg.IngestBatchSize, cfg.IngestFlushInterval, logger)
	if err := ing.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Ingester stopped with error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
	sysmon.Stop()
	logger.Info().Msg("Shutdown complete")
}
