// Package chatdb serves the read-only gRPC facade over the wide-column
// store. It exists so the HTTP API (and anything else that wants chat
// history) never links the storage driver or learns the table layout.
package chatdb

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chatpulse/chatpulse/internal/pb/chatdbpb"
	"github.com/chatpulse/chatpulse/internal/store/cassandra"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_chatdb_requests_total",
		Help: "Facade RPCs served, by method",
	}, []string{"method"})

	requestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_chatdb_errors_total",
		Help: "Facade RPCs that failed, by method",
	}, []string{"method"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatpulse_chatdb_request_duration_seconds",
		Help:    "Facade RPC latency, by method",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestErrors)
	prometheus.MustRegister(requestDuration)
}

// ChatStore is the slice of the storage layer the facade reads.
type ChatStore interface {
	GetChats(ctx context.Context, broadcasterID, startMs, endMs int64, limit int) ([]cassandra.Chat, error)
	GetClips(ctx context.Context, startS, endS int64) ([]cassandra.Clip, error)
}

// Server implements chatdbpb.ChatDatabaseServer.
type Server struct {
	store  ChatStore
	logger zerolog.Logger
}

var _ chatdbpb.ChatDatabaseServer = (*Server)(nil)

func NewServer(store ChatStore, logger zerolog.Logger) *Server {
	return &Server{store: store, logger: logger}
}

func (s *Server) GetChats(ctx context.Context, req *chatdbpb.GetChatsRequest) (*chatdbpb.GetChatsResponse, error) {
	start := time.Now()
	requestsTotal.WithLabelValues("GetChats").Inc()
	defer func() {
		requestDuration.WithLabelValues("GetChats").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.store.GetChats(ctx, req.BroadcasterID, req.StartTimestamp, req.EndTimestamp, int(req.Limit))
	if err != nil {
		requestErrors.WithLabelValues("GetChats").Inc()
		s.logger.Error().Err(err).
			Int64("broadcaster_id", req.BroadcasterID).
			Int64("start", req.StartTimestamp).
			Int64("end", req.EndTimestamp).
			Msg("GetChats failed")
		return nil, status.Errorf(codes.Internal, "get chats: %v", err)
	}

	resp := &chatdbpb.GetChatsResponse{Chats: make([]*chatdbpb.ChatMessage, 0, len(rows))}
	for _, row := range rows {
		resp.Chats = append(resp.Chats, &chatdbpb.ChatMessage{
			BroadcasterID: row.BroadcasterID,
			Timestamp:     row.Timestamp,
			MessageID:     row.MessageID,
			Message:       row.Message,
		})
	}
	return resp, nil
}

func (s *Server) GetClips(ctx context.Context, req *chatdbpb.GetClipsRequest) (*chatdbpb.GetClipsResponse, error) {
	start := time.Now()
	requestsTotal.WithLabelValues("GetClips").Inc()
	defer func() {
		requestDuration.WithLabelValues("GetClips").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.store.GetClips(ctx, req.StartTimestamp, req.EndTimestamp)
	if err != nil {
		requestErrors.WithLabelValues("GetClips").Inc()
		s.logger.Error().Err(err).
			Int64("start", req.StartTimestamp).
			Int64("end", req.EndTimestamp).
			Msg("GetClips failed")
		return nil, status.Errorf(codes.Internal, "get clips: %v", err)
	}

	resp := &chatdbpb.GetClipsResponse{Clips: make([]*chatdbpb.Clip, 0, len(rows))}
	for _, row := range rows {
		resp.Clips = append(resp.Clips, &chatdbpb.Clip{
			ClipID:       row.ClipID,
			EmbedURL:     row.EmbedURL,
			ThumbnailURL: row.ThumbnailURL,
		})
	}
	return resp, nil
}
