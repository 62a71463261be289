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
	"github.com/chatpulse/chatpulse/internal/cache"
	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/limiter"
	"github.com/chatpulse/chatpulse/internal/listener"
	"github.com/chatpulse/chatpulse/internal/logging"
	"github.com/chatpulse/chatpulse/internal/monitoring"
	"github.com/chatpulse/chatpulse/internal/platform"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	logger := logging.NewLogger("listener", logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration load failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.NewLogger("listener", logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
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

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	presence := cache.NewPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	defer presence.Close()
	if err := presence.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable")
	}

	tokens, err := limiter.NewClient(cfg.RateLimiterAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("Rate limiter client setup failed")
	}
	defer tokens.Close()

	chat := platform.NewChat(platform.ChatConfig{
		URL:   cfg.PlatformChatURL,
		Token: cfg.PlatformToken,
		Nick:  cfg.PlatformNick,
	}, logger)

	metrics := monitoring.NewServer(cfg.MetricsAddr, "listener", logger)
	metrics.Start()
	sysmon := monitoring.NewSystemMonitor(cfg.MetricsInterval, logger)
	sysmon.Start()

	l := listener.New(chat, publisher, presence, tokens, listener.Config{
		ListenCap:        cfg.ListenCap,
		AdmissionTimeout: time.Duration(cfg.AdmissionTimeoutSeconds) * time.Second,
		OnlineTTL:        time.Duration(cfg.OnlineTTLSeconds) * time.Second,
	}, logger)

	// The chat session and the broadcaster consumer run side by side; the
	// message handler is wired by l.Run before any room is joined.
	chatDone := make(chan error, 1)
	go func() {
		chatDone <- chat.Run(ctx)
	}()

	if err := l.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Listener stopped with error")
	}
	cancel()
	if err := <-chatDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Chat session stopped with error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
	sysmon.Stop()
	logger.Info().Msg("Shutdown complete")
}
