// Package api serves the public query endpoints over HTTP. Chat history is
// paginated with an opaque cursor; both endpoints read through the chat-DB
// gRPC facade rather than touching storage directly.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"

	"github.com/chatpulse/chatpulse/internal/cursor"
	"github.com/chatpulse/chatpulse/internal/partition"
	"github.com/chatpulse/chatpulse/internal/pb/chatdbpb"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_api_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"path", "status"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatpulse_api_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

func init() {
	prometheus.MustRegister(httpRequests)
	prometheus.MustRegister(httpDuration)
}

type Server struct {
	db     chatdbpb.ChatDatabaseClient
	logger zerolog.Logger
}

func New(db chatdbpb.ChatDatabaseClient, logger zerolog.Logger) *Server {
	return &Server{db: db, logger: logger}
}

// Router builds the route table. The broadcaster id segment is constrained
// to digits so anything else 404s before handler code runs.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.HandleFunc("/v1.0/{broadcaster_id:[0-9]+}/chat", s.handleChats).Methods(http.MethodGet)
	r.HandleFunc("/v1.0/clip", s.handleClips).Methods(http.MethodGet)
	return r
}

type chatMessage struct {
	BroadcasterID int64  `json:"broadcaster_id"`
	Timestamp     int64  `json:"timestamp"`
	MessageID     string `json:"message_id"`
	Message       string `json:"message"`
}

type chatsResponse struct {
	Messages []chatMessage `json:"messages"`
	Cursor   string        `json:"cursor,omitempty"`
}

type clipURL struct {
	EmbedURL     string `json:"embed_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type clipsResponse struct {
	ClipURLs []clipURL `json:"clip_urls"`
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	broadcasterID, err := strconv.ParseInt(mux.Vars(r)["broadcaster_id"], 10, 64)
	if err != nil {
		s.writeInvalidRequest(w, "broadcaster_id must be an integer")
		return
	}

	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		s.writeInvalidRequest(w, "start must be an RFC 3339 instant")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		s.writeInvalidRequest(w, "end must be an RFC 3339 instant")
		return
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			s.writeInvalidRequest(w, "limit must be an integer between 1 and 100")
			return
		}
	}

	startMs := start.UnixMilli()
	endMs := end.UnixMilli()
	if after := q.Get("after"); after != "" {
		cur, err := cursor.Parse(after)
		if err != nil {
			s.writeInvalidRequest(w, err.Error())
			return
		}
		if cur.BroadcasterID != broadcasterID {
			s.writeInvalidRequest(w, "cursor does not belong to this broadcaster")
			return
		}
		startMs = cur.Timestamp
	}

	// The extra row tells us whether a next page exists; it becomes the
	// cursor and is not returned.
	resp, err := s.db.GetChats(r.Context(), &chatdbpb.GetChatsRequest{
		BroadcasterID:  broadcasterID,
		StartTimestamp: startMs,
		EndTimestamp:   endMs,
		Limit:          int32(limit + 1),
	})
	if err != nil {
		s.writeRPCError(w, r, err)
		return
	}

	rows := resp.Chats
	out := chatsResponse{Messages: make([]chatMessage, 0, limit)}
	if len(rows) > limit {
		next := rows[limit]
		mid, err := uuid.Parse(next.MessageID)
		if err != nil {
			s.writeRPCError(w, r, err)
			return
		}
		out.Cursor = cursor.Cursor{
			BroadcasterID: next.BroadcasterID,
			YearMonth:     partition.Month(next.Timestamp),
			Timestamp:     next.Timestamp,
			MessageID:     mid,
		}.Encode()
		rows = rows[:limit]
	}
	for _, row := range rows {
		out.Messages = append(out.Messages, chatMessage{
			BroadcasterID: row.BroadcasterID,
			Timestamp:     row.Timestamp,
			MessageID:     row.MessageID,
			Message:       row.Message,
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		s.writeInvalidRequest(w, "start must be an RFC 3339 instant")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		s.writeInvalidRequest(w, "end must be an RFC 3339 instant")
		return
	}

	resp, err := s.db.GetClips(r.Context(), &chatdbpb.GetClipsRequest{
		StartTimestamp: start.Unix(),
		EndTimestamp:   end.Unix(),
	})
	if err != nil {
		s.writeRPCError(w, r, err)
		return
	}

	out := clipsResponse{ClipURLs: make([]clipURL, 0, len(resp.Clips))}
	for _, clip := range resp.Clips {
		out.ClipURLs = append(out.ClipURLs, clipURL{
			EmbedURL:     clip.EmbedURL,
			ThumbnailURL: clip.ThumbnailURL,
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Response encode failed")
	}
}

func (s *Server) writeInvalidRequest(w http.ResponseWriter, detail string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"InvalidRequest": detail})
}

func (s *Server) writeRPCError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Query backend call failed")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"InternalError": status.Convert(err).Message()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(started)
		httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Str("remote", r.RemoteAddr).
			Msg("Request served")
	})
}
