// Package loadgen drives token issuance and edge authorization traffic
// against a running server, mostly to watch the rate limiters and the
// authorize path under load.
package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Session     string
	VideoID     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
}

type Result struct {
	TotalRequests int
	Failures      int
	RateLimited   int
	StatusClasses map[string]int
	P50           time.Duration
	P95           time.Duration
}

func (r Result) Details() []string {
	return []string{
		fmt.Sprintf("requests=%d failures=%d rate_limited=%d", r.TotalRequests, r.Failures, r.RateLimited),
		fmt.Sprintf("status 2xx=%d 4xx=%d 5xx=%d", r.StatusClasses["2xx"], r.StatusClasses["4xx"], r.StatusClasses["5xx"]),
		fmt.Sprintf("latency p50=%s p95=%s", r.P50, r.P95),
	}
}

type target struct {
	method string
	url    string
	auth   bool
}

type recorder struct {
	mu        sync.Mutex
	result    Result
	latencies []time.Duration
}

func (r *recorder) record(status int, err error, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.TotalRequests++
	r.latencies = append(r.latencies, took)
	if err != nil {
		r.result.Failures++
		r.result.StatusClasses["error"]++
		return
	}
	r.result.StatusClasses[classifyStatusClass(status)]++
	if status == http.StatusTooManyRequests {
		r.result.RateLimited++
	}
	if status >= 500 {
		r.result.Failures++
	}
}

func (r *recorder) finish() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	slices.Sort(r.latencies)
	r.result.P50 = percentile(r.latencies, 0.50)
	r.result.P95 = percentile(r.latencies, 0.95)
	return r.result
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.VideoID == "" {
		return Result{}, errors.New("video id is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	client := &http.Client{Timeout: 10 * time.Second}

	tokenTarget := target{method: http.MethodPost, url: base + "/api/v1/videos/" + url.PathEscape(cfg.VideoID) + "/token", auth: true}
	var targets []target
	switch cfg.Profile {
	case "token":
		targets = []target{tokenTarget}
	case "authorize", "mixed":
		authorize, err := authorizeTarget(ctx, client, cfg, base, tokenTarget)
		if err != nil {
			return Result{}, err
		}
		targets = []target{authorize}
		if cfg.Profile == "mixed" {
			targets = append(targets, tokenTarget)
		}
	default:
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rec := &recorder{result: Result{StatusClasses: map[string]int{}}}
	jobs := make(chan target)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for t := range jobs {
				start := time.Now()
				status, err := send(gctx, client, cfg.Session, t)
				if gctx.Err() != nil {
					return nil
				}
				rec.record(status, err, time.Since(start))
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		tick := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer tick.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tick.C:
				select {
				case jobs <- targets[rng.IntN(len(targets))]:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return rec.finish(), nil
}

// authorizeTarget issues one token and turns its playback URL into an edge
// authorize request.
func authorizeTarget(ctx context.Context, client *http.Client, cfg Config, base string, tokenTarget target) (target, error) {
	req, err := http.NewRequestWithContext(ctx, tokenTarget.method, tokenTarget.url, strings.NewReader("{}"))
	if err != nil {
		return target{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.Session)
	resp, err := client.Do(req)
	if err != nil {
		return target{}, fmt.Errorf("issue seed token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return target{}, fmt.Errorf("issue seed token: status %d", resp.StatusCode)
	}
	var env struct {
		Data struct {
			Token          string `json:"token"`
			ProgressiveURL string `json:"progressive_url"`
			AdaptiveURL    string `json:"adaptive_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return target{}, fmt.Errorf("decode seed token: %w", err)
	}
	playURL := env.Data.AdaptiveURL
	if playURL == "" {
		playURL = env.Data.ProgressiveURL
	}
	u, err := url.Parse(playURL)
	if err != nil || env.Data.Token == "" {
		return target{}, errors.New("seed token response has no playback url")
	}
	q := url.Values{"token": {env.Data.Token}, "path": {u.Path}}
	return target{method: http.MethodGet, url: base + "/api/v1/stream/authorize?" + q.Encode()}, nil
}

func send(ctx context.Context, client *http.Client, session string, t target) (int, error) {
	var body io.Reader
	if t.method == http.MethodPost {
		body = strings.NewReader("{}")
	}
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.auth {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * q)
	return sorted[i]
}
