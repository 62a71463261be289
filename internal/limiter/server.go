package limiter

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/pb/ratelimiterpb"
)

var (
	tokensGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_ratelimiter_tokens_granted_total",
		Help: "Token requests that succeeded",
	})
	tokensDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_ratelimiter_tokens_denied_total",
		Help: "Token requests denied by the window budget",
	})
)

func init() {
	prometheus.MustRegister(tokensGranted)
	prometheus.MustRegister(tokensDenied)
}

// Server serves ConsumeToken over gRPC on top of a Limiter.
type Server struct {
	limiter *Limiter
	logger  zerolog.Logger
}

var _ ratelimiterpb.RateLimiterServer = (*Server)(nil)

func NewServer(limiter *Limiter, logger zerolog.Logger) *Server {
	return &Server{limiter: limiter, logger: logger}
}

// ConsumeToken grants or denies one admission token. Denial is a normal
// outcome, not an error: callers poll again per their retry policy.
func (s *Server) ConsumeToken(_ context.Context, req *ratelimiterpb.ConsumeTokenRequest) (*ratelimiterpb.ConsumeTokenResponse, error) {
	granted := s.limiter.Take(req.ID, req.Timestamp)
	if granted {
		tokensGranted.Inc()
	} else {
		tokensDenied.Inc()
		s.logger.Debug().Int64("id", req.ID).Msg("Token denied")
	}
	return &ratelimiterpb.ConsumeTokenResponse{Success: granted}, nil
}
