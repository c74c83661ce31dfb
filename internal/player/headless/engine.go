// Package headless is a player engine without a decoder. It fetches what a
// real player would fetch through the streaming edge and advances position on
// the wall clock, which is enough to drive the runtime from a terminal.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/levelup-learning/levelup-video/internal/player"
	"github.com/levelup-learning/levelup-video/internal/streaming"
)

const defaultTick = 250 * time.Millisecond

var (
	ErrEmptyPlaylist = errors.New("playlist has no segments")
	ErrEngineClosed  = errors.New("engine closed")
)

type segment struct {
	url   *url.URL
	start time.Duration
	dur   time.Duration
}

type Engine struct {
	client  *http.Client
	variant streaming.Variant
	logger  *slog.Logger
	tick    time.Duration

	mu       sync.Mutex
	token    string
	segments []segment
	fetched  int
	duration time.Duration
	pos      time.Duration
	playing  bool
	lastTick time.Time
	loaded   bool
	closed   bool

	events    chan player.EngineEvent
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(client *http.Client, variant streaming.Variant, logger *slog.Logger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:  client,
		variant: variant,
		logger:  logger,
		tick:    defaultTick,
		events:  make(chan player.EngineEvent, 4),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Factory adapts New to player.EngineFactory.
func Factory(client *http.Client, logger *slog.Logger) player.EngineFactory {
	return func(variant streaming.Variant) (player.Engine, error) {
		if variant == streaming.VariantNone {
			return nil, fmt.Errorf("no engine for variant %s", variant)
		}
		return New(client, variant, logger), nil
	}
}

func (e *Engine) Load(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse source url: %w", err)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.token = u.Query().Get("token")
	e.mu.Unlock()

	switch e.variant {
	case streaming.VariantAdaptive:
		err = e.loadAdaptive(ctx, u)
	default:
		err = e.loadProgressive(ctx, u)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.loaded = true
	go e.run()
	return nil
}

func (e *Engine) loadAdaptive(ctx context.Context, manifest *url.URL) error {
	pl, listType, err := e.fetchPlaylist(ctx, manifest)
	if err != nil {
		return err
	}
	if listType == m3u8.MASTER {
		master := pl.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 || master.Variants[0] == nil {
			return ErrEmptyPlaylist
		}
		// The first rendition is the one a player starts on.
		media, err := manifest.Parse(master.Variants[0].URI)
		if err != nil {
			return fmt.Errorf("resolve rendition: %w", err)
		}
		manifest = media
		if pl, listType, err = e.fetchPlaylist(ctx, manifest); err != nil {
			return err
		}
		if listType != m3u8.MEDIA {
			return fmt.Errorf("rendition %s is not a media playlist", manifest.Path)
		}
	}
	media := pl.(*m3u8.MediaPlaylist)

	var segs []segment
	var total time.Duration
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		su, err := manifest.Parse(s.URI)
		if err != nil {
			return fmt.Errorf("resolve segment %q: %w", s.URI, err)
		}
		d := time.Duration(s.Duration * float64(time.Second))
		segs = append(segs, segment{url: su, start: total, dur: d})
		total += d
	}
	if len(segs) == 0 {
		return ErrEmptyPlaylist
	}

	e.mu.Lock()
	e.segments = segs
	e.duration = total
	e.mu.Unlock()
	// Fetch the first segment up front so a bad token fails the load.
	return e.fetchSegment(ctx, 0)
}

func (e *Engine) fetchPlaylist(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	resp, err := e.get(ctx, u, "")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	pl, listType, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, 0, fmt.Errorf("decode playlist: %w", err)
	}
	return pl, listType, nil
}

func (e *Engine) loadProgressive(ctx context.Context, u *url.URL) error {
	resp, err := e.get(ctx, u, "bytes=0-0")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	var dur time.Duration
	if raw := resp.Header.Get("X-Content-Duration"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			dur = time.Duration(secs * float64(time.Second))
		}
	}
	e.mu.Lock()
	e.duration = dur
	e.mu.Unlock()
	return nil
}

// get carries the current token, so a swapped token applies to the next request.
func (e *Engine) get(ctx context.Context, u *url.URL, rangeHeader string) (*http.Response, error) {
	e.mu.Lock()
	token := e.token
	e.mu.Unlock()

	target := *u
	if token != "" {
		q := target.Query()
		q.Set("token", token)
		target.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Path, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", u.Path, resp.StatusCode)
	}
	return resp, nil
}

func (e *Engine) fetchSegment(ctx context.Context, i int) error {
	e.mu.Lock()
	seg := e.segments[i]
	e.mu.Unlock()
	resp, err := e.get(ctx, seg.url, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("read segment %d: %w", i, err)
	}
	e.mu.Lock()
	e.fetched = max(e.fetched, i+1)
	e.mu.Unlock()
	return nil
}

func (e *Engine) run() {
	defer close(e.done)
	t := time.NewTicker(e.tick)
	defer t.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-e.stop:
			return
		case now := <-t.C:
			if ev, ok := e.advance(ctx, now); ok {
				select {
				case e.events <- ev:
				case <-e.stop:
					return
				}
			}
		}
	}
}

// advance moves the clock and fetches segments the position has reached.
func (e *Engine) advance(ctx context.Context, now time.Time) (player.EngineEvent, bool) {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return player.EngineEvent{}, false
	}
	e.pos += now.Sub(e.lastTick)
	e.lastTick = now
	ended := e.duration > 0 && e.pos >= e.duration
	if ended {
		e.pos = e.duration
		e.playing = false
	}
	next := -1
	if e.fetched < len(e.segments) && e.segments[e.fetched].start <= e.pos {
		next = e.fetched
	}
	e.mu.Unlock()

	if next >= 0 {
		if err := e.fetchSegment(ctx, next); err != nil {
			if ctx.Err() != nil {
				return player.EngineEvent{}, false
			}
			e.logger.Warn("segment fetch failed", "segment", next, "error", err)
			e.mu.Lock()
			e.playing = false
			e.mu.Unlock()
			return player.EngineEvent{Kind: player.EventFatal, Err: err}, true
		}
	}
	if ended {
		return player.EngineEvent{Kind: player.EventEnded}, true
	}
	return player.EngineEvent{}, false
}

func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded || e.closed {
		return ErrEngineClosed
	}
	if !e.playing {
		e.playing = true
		e.lastTick = time.Now()
	}
	return nil
}

func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.pos += time.Since(e.lastTick)
		e.playing = false
	}
	return nil
}

func (e *Engine) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	e.pos = pos
	e.lastTick = time.Now()
	// Resume fetching at the segment holding pos.
	e.fetched = len(e.segments)
	for i, s := range e.segments {
		if s.start+s.dur > pos {
			e.fetched = i
			break
		}
	}
	return nil
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.pos
	if e.playing {
		pos += time.Since(e.lastTick)
	}
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	return pos
}

func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *Engine) UpdateToken(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = token
	return nil
}

func (e *Engine) Events() <-chan player.EngineEvent { return e.events }

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		loaded := e.loaded
		e.playing = false
		e.mu.Unlock()

		close(e.stop)
		if loaded {
			<-e.done
		}
		close(e.events)
	})
	return nil
}
