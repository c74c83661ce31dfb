// Package player drives one video at a time through access check, token
// acquisition and source loading, then keeps the session alive with token
// refresh and periodic progress saves.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levelup-learning/levelup-video/internal/streaming"
)

const (
	DefaultProgressInterval = 30 * time.Second
	DefaultRefreshLead      = 5 * time.Minute
	DefaultRefreshRetry     = 30 * time.Second

	flushTimeout = 5 * time.Second
)

var (
	ErrClosed     = errors.New("player closed")
	ErrSuperseded = errors.New("load superseded by a newer load")
	ErrNotReady   = errors.New("no source ready")

	errEmptyGrant       = errors.New("token issuer returned no grant")
	errNoPlayableSource = errors.New("no playable source for this environment")
)

type Config struct {
	ProgressInterval time.Duration
	RefreshLead      time.Duration
	RefreshRetry     time.Duration
	AutoPlay         bool
	Capabilities     streaming.Capabilities
	// OnComplete runs once when the media reaches its natural end.
	OnComplete func(videoID string)
}

func (c Config) withDefaults() Config {
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.RefreshLead <= 0 {
		c.RefreshLead = DefaultRefreshLead
	}
	if c.RefreshRetry <= 0 {
		c.RefreshRetry = DefaultRefreshRetry
	}
	return c
}

type StateChange struct {
	VideoID string
	From    State
	To      State
	Err     *PlaybackError
}

// session is everything owned by one Load. Callbacks compare their session
// with Runtime.sess and drop their result when a newer load has replaced it.
type session struct {
	videoID string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	grant    Grant
	variant  streaming.Variant
	fellBack bool
	engine   Engine
	ended    bool
	released bool
}

type Runtime struct {
	access    AccessChecker
	tokens    TokenIssuer
	progress  ProgressStore
	newEngine EngineFactory
	cfg       Config
	logger    *slog.Logger

	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	state  State
	err    *PlaybackError
	sess   *session
	subs   []chan StateChange
	closed bool
}

func NewRuntime(access AccessChecker, tokens TokenIssuer, progress ProgressStore, newEngine EngineFactory, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Runtime{
		access:    access,
		tokens:    tokens,
		progress:  progress,
		newEngine: newEngine,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		base:      base,
		stop:      stop,
	}
}

func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err is the failure behind Denied or Errored, nil otherwise.
func (r *Runtime) Err() *PlaybackError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Subscribe returns a buffered channel of state changes. Slow readers miss
// events rather than stall playback. The channel is closed by Close.
func (r *Runtime) Subscribe() <-chan StateChange {
	ch := make(chan StateChange, 32)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// Load tears down any previous video and runs access check, token
// acquisition and source loading in order. It returns once the source is
// ready or the load has failed.
func (r *Runtime) Load(ctx context.Context, videoID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	prev := r.sess
	sctx, cancel := context.WithCancel(r.base)
	s := &session{videoID: videoID, ctx: sctx, cancel: cancel}
	r.sess = s
	r.err = nil
	r.setStateLocked(s, CheckingAccess, nil)
	r.mu.Unlock()

	if prev != nil {
		r.release(prev)
	}

	stepCtx, stepCancel := context.WithCancel(ctx)
	defer stepCancel()
	stopAfter := context.AfterFunc(sctx, stepCancel)
	defer stopAfter()

	allowed, err := r.access.CanAccess(stepCtx, videoID)
	if !r.current(s) {
		return ErrSuperseded
	}
	if err != nil {
		return r.fail(s, KindAccessDenied, err)
	}
	if !allowed {
		perr := &PlaybackError{Kind: KindAccessDenied}
		r.transition(s, Denied, perr)
		return perr
	}

	r.transition(s, AcquiringToken, nil)
	grant, err := r.tokens.IssueToken(stepCtx, videoID)
	if !r.current(s) {
		return ErrSuperseded
	}
	if err == nil && grant == nil {
		err = errEmptyGrant
	}
	if err != nil {
		return r.fail(s, KindTokenFailure, err)
	}

	sel := streaming.SelectVariant(r.cfg.Capabilities, streaming.PlaybackURLs{
		Progressive: grant.ProgressiveURL,
		Adaptive:    grant.AdaptiveURL,
	})
	if sel.Variant == streaming.VariantNone {
		return r.fail(s, KindStreamFailure, errNoPlayableSource)
	}

	r.transition(s, LoadingSource, nil)
	eng, variant, err := r.open(stepCtx, sel)
	if !r.current(s) {
		if eng != nil {
			_ = eng.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		return r.fail(s, KindStreamFailure, err)
	}

	next := Ready
	if r.cfg.AutoPlay {
		if err := eng.Play(); err != nil {
			_ = eng.Close()
			return r.fail(s, KindStreamFailure, err)
		}
		next = Playing
	}

	r.mu.Lock()
	if r.sess != s || s.released {
		r.mu.Unlock()
		_ = eng.Close()
		return ErrSuperseded
	}
	s.grant = *grant
	s.variant = variant
	s.fellBack = variant != sel.Variant
	s.engine = eng
	r.setStateLocked(s, next, nil)
	s.wg.Add(3)
	r.mu.Unlock()

	go r.watchEngine(s)
	go r.progressLoop(s)
	go r.refreshLoop(s)
	return nil
}

// open starts the selected source. An adaptive source that fails to load
// falls back to the progressive one.
func (r *Runtime) open(ctx context.Context, sel streaming.Selection) (Engine, streaming.Variant, error) {
	eng, err := r.start(ctx, sel.Variant, sel.URL)
	if err == nil {
		return eng, sel.Variant, nil
	}
	if sel.Variant != streaming.VariantAdaptive || sel.Fallback == "" || ctx.Err() != nil {
		return nil, sel.Variant, err
	}
	r.logger.Warn("adaptive source failed to load, using progressive", "error", err)
	eng, err = r.start(ctx, streaming.VariantProgressive, sel.Fallback)
	if err != nil {
		return nil, streaming.VariantProgressive, err
	}
	return eng, streaming.VariantProgressive, nil
}

func (r *Runtime) start(ctx context.Context, variant streaming.Variant, url string) (Engine, error) {
	eng, err := r.newEngine(variant)
	if err != nil {
		return nil, fmt.Errorf("create %s engine: %w", variant, err)
	}
	if err := eng.Load(ctx, url); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("load %s source: %w", variant, err)
	}
	return eng, nil
}

func (r *Runtime) Play() error {
	s, eng, st := r.snapshot()
	if eng == nil {
		return ErrNotReady
	}
	switch st {
	case Playing:
		return nil
	case Ready, Paused:
	default:
		return fmt.Errorf("%w: cannot play while %s", ErrNotReady, st)
	}
	if err := eng.Play(); err != nil {
		return err
	}
	r.transition(s, Playing, nil)
	return nil
}

func (r *Runtime) Pause() error {
	s, eng, st := r.snapshot()
	if eng == nil {
		return ErrNotReady
	}
	if st != Playing {
		return nil
	}
	if err := eng.Pause(); err != nil {
		return err
	}
	r.transition(s, Paused, nil)
	return nil
}

// Seek leaves the play/pause state unchanged.
func (r *Runtime) Seek(pos time.Duration) error {
	_, eng, _ := r.snapshot()
	if eng == nil {
		return ErrNotReady
	}
	return eng.Seek(pos)
}

func (r *Runtime) Position() time.Duration {
	_, eng, _ := r.snapshot()
	if eng == nil {
		return 0
	}
	return eng.Position()
}

func (r *Runtime) Duration() time.Duration {
	_, eng, _ := r.snapshot()
	if eng == nil {
		return 0
	}
	return eng.Duration()
}

// Variant is the source variant currently playing.
func (r *Runtime) Variant() streaming.Variant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return streaming.VariantNone
	}
	return r.sess.variant
}

// Close flushes progress, stops every timer and tears down the engine. The
// runtime cannot be reused.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	s := r.sess
	r.mu.Unlock()

	if s != nil {
		r.release(s)
	}
	r.stop()

	r.mu.Lock()
	r.sess = nil
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.mu.Unlock()
	return nil
}

func (r *Runtime) release(s *session) {
	r.mu.Lock()
	s.released = true
	r.mu.Unlock()
	s.cancel()
	s.wg.Wait()

	r.mu.Lock()
	eng := s.engine
	s.engine = nil
	ended := s.ended
	r.mu.Unlock()

	if eng == nil {
		return
	}
	if !ended {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		r.save(ctx, s.videoID, eng)
		cancel()
	}
	if err := eng.Close(); err != nil {
		r.logger.Warn("engine close failed", "video_id", s.videoID, "error", err)
	}
}

func (r *Runtime) watchEngine(s *session) {
	defer s.wg.Done()
	for {
		r.mu.Lock()
		eng := s.engine
		r.mu.Unlock()
		if eng == nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-eng.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case EventEnded:
				r.finish(s, eng)
				return
			case EventFatal:
				if !r.fallback(s, eng, ev.Err) {
					return
				}
			}
		}
	}
}

func (r *Runtime) finish(s *session, eng Engine) {
	r.save(s.ctx, s.videoID, eng)
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return
	}
	s.ended = true
	r.setStateLocked(s, Ended, nil)
	r.mu.Unlock()
	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(s.videoID)
	}
}

// fallback swaps a failed adaptive engine for the progressive source once,
// restoring the position and play state.
func (r *Runtime) fallback(s *session, failed Engine, cause error) bool {
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return false
	}
	if s.variant != streaming.VariantAdaptive || s.fellBack || s.grant.ProgressiveURL == "" {
		r.mu.Unlock()
		_ = r.fail(s, KindStreamFailure, cause)
		return false
	}
	resumeState := r.state
	url := s.grant.ProgressiveURL
	s.engine = nil
	s.fellBack = true
	r.setStateLocked(s, LoadingSource, nil)
	r.mu.Unlock()

	pos := failed.Position()
	_ = failed.Close()
	r.logger.Warn("adaptive stream failed, falling back to progressive", "video_id", s.videoID, "position", pos, "error", cause)

	eng, err := r.start(s.ctx, streaming.VariantProgressive, url)
	if err != nil {
		_ = r.fail(s, KindStreamFailure, err)
		return false
	}
	if pos > 0 {
		if err := eng.Seek(pos); err != nil {
			r.logger.Warn("restore position after fallback failed", "video_id", s.videoID, "error", err)
		}
	}
	if resumeState == Playing {
		if err := eng.Play(); err != nil {
			_ = eng.Close()
			_ = r.fail(s, KindStreamFailure, err)
			return false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != s {
		_ = eng.Close()
		return false
	}
	s.engine = eng
	s.variant = streaming.VariantProgressive
	r.setStateLocked(s, resumeState, nil)
	return true
}

func (r *Runtime) progressLoop(s *session) {
	defer s.wg.Done()
	t := time.NewTicker(r.cfg.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			_, eng, st := r.snapshot()
			if st == Playing && eng != nil && r.current(s) {
				r.save(s.ctx, s.videoID, eng)
			}
		}
	}
}

func (r *Runtime) refreshLoop(s *session) {
	defer s.wg.Done()
	var minWait time.Duration
	for {
		r.mu.Lock()
		expiresAt := s.grant.ExpiresAt
		r.mu.Unlock()
		if expiresAt.IsZero() {
			return
		}
		wait := max(time.Until(expiresAt)-r.cfg.RefreshLead, minWait)
		t := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		r.refresh(s)
		minWait = r.cfg.RefreshRetry
	}
}

// refresh re-issues the token. Adaptive sessions take the new token in place;
// a progressive source keeps the URL it was opened with.
func (r *Runtime) refresh(s *session) {
	grant, err := r.tokens.IssueToken(s.ctx, s.videoID)
	if err == nil && grant == nil {
		err = errEmptyGrant
	}
	if err != nil {
		if s.ctx.Err() == nil {
			r.logger.Warn("token refresh failed", "video_id", s.videoID, "error", err)
		}
		return
	}
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return
	}
	s.grant = *grant
	eng := s.engine
	adaptive := s.variant == streaming.VariantAdaptive
	r.mu.Unlock()

	if adaptive && eng != nil {
		if err := eng.UpdateToken(grant.Token); err != nil {
			r.logger.Warn("token swap failed", "video_id", s.videoID, "error", err)
		}
	}
}

// save persists floor(position) and floor(duration). Failures are logged only.
func (r *Runtime) save(ctx context.Context, videoID string, eng Engine) {
	watched := int(eng.Position() / time.Second)
	total := int(eng.Duration() / time.Second)
	if watched <= 0 && total <= 0 {
		return
	}
	if err := r.progress.SaveProgress(ctx, videoID, watched, total); err != nil {
		r.logger.Warn("progress save failed", "video_id", videoID, "error", err)
	}
}

func (r *Runtime) fail(s *session, kind ErrorKind, cause error) error {
	perr := &PlaybackError{Kind: kind, Err: cause}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != s {
		return ErrSuperseded
	}
	r.logger.Warn("playback failed", "video_id", s.videoID, "kind", kind, "error", cause)
	r.setStateLocked(s, Errored, perr)
	return perr
}

func (r *Runtime) transition(s *session, to State, perr *PlaybackError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != s {
		return
	}
	r.setStateLocked(s, to, perr)
}

func (r *Runtime) setStateLocked(s *session, to State, perr *PlaybackError) {
	from := r.state
	r.state = to
	if perr != nil {
		r.err = perr
	}
	if from == to && perr == nil {
		return
	}
	ev := StateChange{VideoID: s.videoID, From: from, To: to, Err: perr}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Runtime) current(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess == s
}

func (r *Runtime) snapshot() (*session, Engine, State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil, nil, r.state
	}
	return r.sess, r.sess.engine, r.state
}
