package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chatpulse/chatpulse/internal/pb/ratelimiterpb"
)

// ErrAdmissionTimeout is returned by WaitForToken when no token was
// granted within the caller's deadline.
var ErrAdmissionTimeout = errors.New("timed out waiting for admission token")

// Client wraps the RateLimiter gRPC client with the poll-until-granted
// behavior the admission path needs.
type Client struct {
	conn *grpc.ClientConn
	rpc  ratelimiterpb.RateLimiterClient

	// now and sleep are replaced in tests.
	now   func() time.Time
	sleep func(time.Duration)
}

func NewClient(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rate limiter dial %s: %w", target, err)
	}
	return &Client{
		conn:  conn,
		rpc:   ratelimiterpb.NewRateLimiterClient(conn),
		now:   time.Now,
		sleep: time.Sleep,
	}, nil
}

// ConsumeToken asks for one token; false means the window budget is spent.
func (c *Client) ConsumeToken(ctx context.Context, id int64) (bool, error) {
	resp, err := c.rpc.ConsumeToken(ctx, &ratelimiterpb.ConsumeTokenRequest{
		ID:        id,
		Timestamp: c.now().Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return resp.Success, nil
}

// WaitForToken polls ConsumeToken once per second until a token is granted
// or the timeout elapses. RPC errors end the wait early: a broken limiter
// should surface, not burn the whole timeout.
func (c *Client) WaitForToken(ctx context.Context, id int64, timeout time.Duration) error {
	deadline := c.now().Add(timeout)
	for {
		granted, err := c.ConsumeToken(ctx, id)
		if err != nil {
			return err
		}
		if granted {
			return nil
		}
		if !c.now().Add(time.Second).Before(deadline) {
			return ErrAdmissionTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.sleep(time.Second)
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
