package inventoryapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	// ErrUnavailable is returned while the circuit breaker is open
	ErrUnavailable = errors.New("inventory backend unavailable")
	// ErrSessionExpired means the backend rejected both the access token and the refresh
	ErrSessionExpired = errors.New("session expired")
	// ErrItemNotFound is returned by GetItem when the id is not listed
	ErrItemNotFound = errors.New("item not found")
)

// BreakerConfig tunes the circuit breaker in front of the inventory backend
type BreakerConfig struct {
	MaxRequests       uint32        // requests allowed in half-open state
	Interval          time.Duration // window after which closed-state counts reset
	Timeout           time.Duration // open -> half-open delay
	MinRequestsToTrip uint32
	FailureRatio      float64
}

// DefaultBreakerConfig returns the breaker settings used when none are configured
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:       3,
		Interval:          15 * time.Second,
		Timeout:           30 * time.Second,
		MinRequestsToTrip: 5,
		FailureRatio:      0.6,
	}
}

// Config holds the gateway configuration
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	Breaker       BreakerConfig
	Logger        *logrus.Logger
	OnStateChange func(name string, from, to gobreaker.State)
}

// Client talks to the community inventory backend. It is shared by all flows;
// per-user calls go through a UserClient obtained from As.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewClient creates a new inventory backend client
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	bc := cfg.Breaker
	if bc.MaxRequests == 0 {
		bc = DefaultBreakerConfig()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inventory-api",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequestsToTrip {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	})

	return &Client{http: httpClient, breaker: breaker, logger: logger}
}

// State returns the breaker state
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("inventory backend returned %d", e.status)
}

type attempt struct {
	resp *resty.Response
	err  error
}

// execute runs one request through the breaker. 5xx responses and transport
// errors count as failures; 4xx and caller cancellation do not.
func (c *Client) execute(ctx context.Context, method, path string, build func() *resty.Request) (*resty.Response, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := build().SetContext(ctx).Execute(method, path)
		if err != nil {
			if ctx.Err() != nil {
				return attempt{resp: resp, err: ctx.Err()}, nil
			}
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return attempt{resp: resp}, &upstreamStatusError{status: resp.StatusCode()}
		}
		return attempt{resp: resp}, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) {
		// a 5xx is still a response the caller must interpret
		if a, ok := out.(attempt); ok {
			return a.resp, nil
		}
	}
	if err != nil {
		return nil, err
	}

	a := out.(attempt)
	return a.resp, a.err
}

// RefreshAccessToken exchanges a refresh token for a new access token
func (c *Client) RefreshAccessToken(ctx context.Context, refresh string) (string, error) {
	resp, err := c.execute(ctx, http.MethodPost, "/token/refresh/", func() *resty.Request {
		return c.http.R().SetBody(map[string]string{"refresh": refresh})
	})
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: refresh returned %d", ErrSessionExpired, resp.StatusCode())
	}

	var body struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Access == "" {
		return "", fmt.Errorf("%w: refresh response has no access token", ErrSessionExpired)
	}
	return body.Access, nil
}

// As binds the client to a user's credentials
func (c *Client) As(tokens TokenSource) *UserClient {
	return &UserClient{client: c, tokens: tokens}
}

// UserClient performs authenticated calls on behalf of one user
type UserClient struct {
	client *Client
	tokens TokenSource
}

// do sends an authenticated request; on 401 it refreshes once and retries.
// build must return a fresh request each time since bodies are single-use.
func (u *UserClient) do(ctx context.Context, method, path string, build func(*resty.Request) *resty.Request) (*resty.Response, error) {
	token, err := u.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	send := func(bearer string) (*resty.Response, error) {
		return u.client.execute(ctx, method, path, func() *resty.Request {
			return build(u.client.http.R().SetAuthToken(bearer))
		})
	}

	resp, err := send(token)
	if err != nil || resp.StatusCode() != http.StatusUnauthorized {
		return resp, err
	}

	fresh, err := u.tokens.Refresh(ctx, token)
	if err != nil {
		u.client.logger.WithError(err).WithField("path", path).Warn("Token refresh failed")
		return resp, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	resp, err = send(fresh)
	if err == nil && resp.StatusCode() == http.StatusUnauthorized {
		return resp, ErrSessionExpired
	}
	return resp, err
}

// detailOf extracts the server's human-readable message, if any
func detailOf(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch {
	case payload.Detail != "":
		return payload.Detail
	case payload.Message != "":
		return payload.Message
	default:
		return payload.Error
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
