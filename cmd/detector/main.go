package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/detector"
	"github.com/chatpulse/chatpulse/internal/logging"
	"github.com/chatpulse/chatpulse/internal/monitoring"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	logger := logging.NewLogger("detector", logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration load failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.NewLogger("detector", logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	consumer, err := bus.NewConsumer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Bus consumer setup failed")
	}
	defer consumer.Close()

	publisher, err := bus.NewPublisher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Bus publisher setup failed")
	}
	defer publisher.Close()

	metrics := monitoring.NewServer(cfg.MetricsAddr, "detector", logger)
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

	det := detector.New(publisher, detector.Config{
		BucketSizeSeconds: cfg.BucketSizeSeconds,
		ThresholdSigma:    cfg.AnomalyThresholdSigma,
		MinBuckets:        cfg.AnomalyMinBuckets,
		CooldownSeconds:   cfg.AnomalyCooldownSeconds,
		GapResetBuckets:   cfg.GapResetBuckets,
		StateMax:          cfg.DetectorStateMax,
		StateTTL:          cfg.DetectorStateTTL,
	}, logger)

	if err := det.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Detector stopped with error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
	sysmon.Stop()
	logger.Info().Msg("Shutdown complete")
}
