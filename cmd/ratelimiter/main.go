package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"

	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/limiter"
	"github.com/chatpulse/chatpulse/internal/logging"
	"github.com/chatpulse/chatpulse/internal/monitoring"
	"github.com/chatpulse/chatpulse/internal/pb/ratelimiterpb"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	logger := logging.NewLogger("ratelimiter", logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration load failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.NewLogger("ratelimiter", logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	lis, err := net.Listen("tcp", cfg.RateLimiterAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RateLimiterAddr).Msg("Listen failed")
	}

	grpcServer := grpc.NewServer()
	lim := limiter.New(cfg.RateLimit, int64(cfg.RateWindowSeconds))
	ratelimiterpb.RegisterRateLimiterServer(grpcServer, limiter.NewServer(lim, logger))

	metrics := monitoring.NewServer(cfg.MetricsAddr, "ratelimiter", logger)
	metrics.Start()
	sysmon := monitoring.NewSystemMonitor(cfg.MetricsInterval, logger)
	sysmon.Start()

	serveDone := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.RateLimiterAddr).Int("limit", cfg.RateLimit).Int("window_seconds", cfg.RateWindowSeconds).Msg("Rate limiter listening")
		serveDone <- grpcServer.Serve(lis)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		grpcServer.GracefulStop()
		<-serveDone
	case err := <-serveDone:
		logger.Error().Err(err).Msg("gRPC server stopped with error")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
	sysmon.Stop()
	logger.Info().Msg("Shutdown complete")
}
