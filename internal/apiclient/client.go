// Package apiclient talks to the video API on behalf of a player. It
// implements the player's access, token and progress ports over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/levelup-learning/levelup-video/internal/player"
)

const (
	DefaultTimeout = 10 * time.Second
	breakerName    = "levelup-api"
)

var ErrUnavailable = errors.New("video api unavailable")

// APIError is a non-2xx envelope returned by the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

type Options struct {
	BaseURL string
	// Session is the user's access JWT, sent as a bearer token.
	Session    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base    *url.URL
	session string
	timeout time.Duration
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[json.RawMessage]
	logger  *slog.Logger
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{
		base:    base,
		session: opts.Session,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
	}
	c.cb = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx is the API answering; only transport errors and 5xx trip.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("api circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// BreakerState reports the circuit breaker state for status displays.
func (c *Client) BreakerState() string { return c.cb.State().String() }

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	data, err := c.cb.Execute(func() (json.RawMessage, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.Header.Set("Authorization", "Bearer "+c.session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return env.Data, nil
}

func videoPath(videoID, suffix string) string {
	return "/api/v1/videos/" + url.PathEscape(videoID) + "/" + suffix
}

// CanAccess answers the UX pre-check. The token endpoint checks again.
func (c *Client) CanAccess(ctx context.Context, videoID string) (bool, error) {
	data, err := c.do(ctx, http.MethodGet, videoPath(videoID, "access"), nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, fmt.Errorf("decode access: %w", err)
	}
	return out.Allowed, nil
}

func (c *Client) IssueToken(ctx context.Context, videoID string) (*player.Grant, error) {
	data, err := c.do(ctx, http.MethodPost, videoPath(videoID, "token"), struct{}{})
	if err != nil {
		return nil, err
	}
	var out struct {
		Token          string    `json:"token"`
		ExpiresAt      time.Time `json:"expires_at"`
		ProgressiveURL string    `json:"progressive_url"`
		AdaptiveURL    string    `json:"adaptive_url"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if out.Token == "" {
		return nil, errors.New("token response without token")
	}
	return &player.Grant{
		Token:          out.Token,
		ExpiresAt:      out.ExpiresAt,
		ProgressiveURL: out.ProgressiveURL,
		AdaptiveURL:    out.AdaptiveURL,
	}, nil
}

func (c *Client) SaveProgress(ctx context.Context, videoID string, watchedSeconds, totalSeconds int) error {
	_, err := c.do(ctx, http.MethodPut, videoPath(videoID, "progress"), map[string]int{
		"watched_seconds": watchedSeconds,
		"total_seconds":   totalSeconds,
	})
	return err
}

type DeviceLogin struct {
	Blocked            bool   `json:"blocked"`
	NewDevice          bool   `json:"new_device"`
	Fingerprint        string `json:"fingerprint"`
	DeviceSwitchCount  int    `json:"device_switch_count"`
	MaxSwitchesAllowed int    `json:"max_switches_allowed"`
	TrackingError      bool   `json:"tracking_error"`
}

// RecordLogin calls the post-sign-in device hook.
func (c *Client) RecordLogin(ctx context.Context, fingerprint string) (*DeviceLogin, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/v1/devices/login", map[string]string{"fingerprint": fingerprint})
	if err != nil {
		return nil, err
	}
	var out DeviceLogin
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode device login: %w", err)
	}
	return &out, nil
}

var (
	_ player.AccessChecker = (*Client)(nil)
	_ player.TokenIssuer   = (*Client)(nil)
	_ player.ProgressStore = (*Client)(nil)
)
