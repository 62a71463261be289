package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chatpulse/chatpulse/internal/api"
	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/logging"
	"github.com/chatpulse/chatpulse/internal/monitoring"
	"github.com/chatpulse/chatpulse/internal/pb/chatdbpb"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	logger := logging.NewLogger("api", logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration load failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.NewLogger("api", logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	conn, err := grpc.NewClient(cfg.DatabaseGRPCTarget(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Fatal().Err(err).Str("target", cfg.DatabaseGRPCTarget()).Msg("Chat-DB dial failed")
	}
	defer conn.Close()

	srv := api.New(chatdbpb.NewChatDatabaseClient(conn), logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metrics := monitoring.NewServer(cfg.MetricsAddr, "api", logger)
	metrics.Start()
	sysmon := monitoring.NewSystemMonitor(cfg.MetricsInterval, logger)
	sysmon.Start()

	serveDone := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("Query API listening")
		serveDone <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		cancelShutdown()
		<-serveDone
	case err := <-serveDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server stopped with error")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown failed")
	}
	sysmon.Stop()
	logger.Info().Msg("Shutdown complete")
}
