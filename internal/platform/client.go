package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// listPageMax is the largest page the listing endpoint accepts.
	listPageMax = 100

	apiRequestsPerSecond = 10
	apiBurst             = 20

	defaultAuthURL = "https://id.twitch.tv/oauth2/token"

	// tokenSkew is how long before its expiry a cached app token is
	// already treated as stale.
	tokenSkew = time.Minute
)

// apiError carries a non-2xx response. 5xx and 429 are retried; the rest
// are permanent.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("platform api: status %d: %s", e.Status, e.Message)
}

// ClientConfig configures the REST client. A non-empty Token is used as
// the app access token directly; otherwise the client fetches one from
// AuthURL with the client-credentials grant and refreshes it before it
// expires.
type ClientConfig struct {
	BaseURL      string
	AuthURL      string // empty means the platform default
	ClientID     string
	ClientSecret string
	Token        string
}

// Client is the Helix-style REST client behind Roster and Clipper. All
// calls are paced by a shared token bucket and retried with exponential
// backoff on transient failures.
type Client struct {
	baseURL      string
	authURL      string
	clientID     string
	clientSecret string
	token        string
	http         *http.Client
	pace         *rate.Limiter
	logger       zerolog.Logger

	tokenMu      sync.Mutex
	fetchedToken string
	tokenExpiry  time.Time

	now        func() time.Time
	newBackOff func() backoff.BackOff
}

var (
	_ Roster  = (*Client)(nil)
	_ Clipper = (*Client)(nil)
)

func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authURL:      authURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		token:        cfg.Token,
		http:         &http.Client{Timeout: 15 * time.Second},
		pace:         rate.NewLimiter(rate.Limit(apiRequestsPerSecond), apiBurst),
		logger:       logger,
		now:          time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// appToken returns the static token when one is configured, otherwise a
// cached client-credentials token, fetching a fresh one when the cache is
// empty or about to expire.
func (c *Client) appToken(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.fetchedToken != "" && c.now().Before(c.tokenExpiry) {
		return c.fetchedToken, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token request: empty access token")
	}

	c.fetchedToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
	tokenRefreshes.Inc()
	c.logger.Info().Time("expires", c.tokenExpiry).Msg("App access token refreshed")
	return c.fetchedToken, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.fetchedToken = ""
	c.tokenMu.Unlock()
}

// ListLiveStreams pages through the live listing until first streams are
// collected or the platform runs out. Order is viewer-descending, as the
// platform returns it.
func (c *Client) ListLiveStreams(ctx context.Context, first int) ([]Stream, error) {
	out := make([]Stream, 0, first)
	cursor := ""
	for len(out) < first {
		pageSize := first - len(out)
		if pageSize > listPageMax {
			pageSize = listPageMax
		}

		query := url.Values{}
		query.Set("first", strconv.Itoa(pageSize))
		query.Set("type", "live")
		if cursor != "" {
			query.Set("after", cursor)
		}

		var page struct {
			Data []struct {
				UserID      string `json:"user_id"`
				UserLogin   string `json:"user_login"`
				ViewerCount int    `json:"viewer_count"`
			} `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := c.do(ctx, http.MethodGet, "/streams", query, &page); err != nil {
			return nil, err
		}

		for _, s := range page.Data {
			id, err := strconv.ParseInt(s.UserID, 10, 64)
			if err != nil {
				c.logger.Warn().Str("user_id", s.UserID).Msg("Skipping stream with non-numeric user id")
				continue
			}
			out = append(out, Stream{BroadcasterID: id, Login: s.UserLogin, ViewerCount: s.ViewerCount})
		}

		if len(page.Data) == 0 || page.Pagination.Cursor == "" {
			break
		}
		cursor = page.Pagination.Cursor
	}
	return out, nil
}

// CreateClip asks the platform to cut a clip around the current moment of
// the broadcast. Channels with clipping turned off come back as
// ErrClippingDisabled.
func (c *Client) CreateClip(ctx context.Context, broadcasterID int64) (string, error) {
	query := url.Values{}
	query.Set("broadcaster_id", strconv.FormatInt(broadcasterID, 10))

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/clips", query, &resp); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
			return "", fmt.Errorf("%w: %s", ErrClippingDisabled, apiErr.Message)
		}
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", errors.New("platform api: clip creation returned no clip id")
	}
	return resp.Data[0].ID, nil
}

// GetClip fetches a clip's metadata. Clips take a while to materialize;
// an empty result means it is not ready (or was rejected) and is reported
// as an error.
func (c *Client) GetClip(ctx context.Context, clipID string) (Clip, error) {
	query := url.Values{}
	query.Set("id", clipID)

	var resp struct {
		Data []struct {
			ID           string `json:"id"`
			EmbedURL     string `json:"embed_url"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/clips", query, &resp); err != nil {
		return Clip{}, err
	}
	if len(resp.Data) == 0 {
		return Clip{}, fmt.Errorf("platform api: clip %s not available", clipID)
	}
	return Clip{
		ID:           resp.Data[0].ID,
		EmbedURL:     resp.Data[0].EmbedURL,
		ThumbnailURL: resp.Data[0].ThumbnailURL,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	op := func() error {
		if err := c.pace.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		token, err := c.appToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		apiRequests.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 300 {
			var detail struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&detail)
			apiErr := &apiError{Status: resp.StatusCode, Message: detail.Message}
			if resp.StatusCode == http.StatusUnauthorized && c.token == "" {
				// The cached app token went stale ahead of schedule.
				// Drop it so the retry fetches a fresh one.
				c.invalidateToken()
				return apiErr
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if out == nil {
			_, err = io.Copy(io.Discard, resp.Body)
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}
