package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"

	"github.com/chatpulse/chatpulse/internal/chatdb"
	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/logging"
	"github.com/chatpulse/chatpulse/internal/monitoring"
	"github.com/chatpulse/chatpulse/internal/pb/chatdbpb"
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

	logger := logging.NewLogger("chatdb", logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration load failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	logger = logging.NewLogger("chatdb", logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	store, err := cassandra.New(splitHosts(cfg.CassandraHosts), cfg.CassandraKeyspace, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Cassandra setup failed")
	}
	defer store.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.DatabaseGRPCPort)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", listenAddr).Msg("Listen failed")
	}

	grpcServer := grpc.NewServer()
	chatdbpb.RegisterChatDatabaseServer(grpcServer, chatdb.NewServer(store, logger))

	metrics := monitoring.NewServer(cfg.MetricsAddr, "chatdb", logger)
	metrics.Start()
	sysmon := monitoring.NewSystemMonitor(cfg.MetricsInterval, logger)
	sysmon.Start()

	serveDone := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listenAddr).Msg("Chat-DB facade listening")
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
