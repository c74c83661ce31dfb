package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/levelup-learning/levelup-video/internal/streaming"
)

type fakeEngine struct {
	variant streaming.Variant
	loadErr error

	mu       sync.Mutex
	url      string
	playing  bool
	pos      time.Duration
	dur      time.Duration
	seeks    []time.Duration
	tokens   []string
	closed   bool
	events   chan EngineEvent
	closeOne sync.Once
}

func (e *fakeEngine) Load(_ context.Context, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.url = url
	return e.loadErr
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *fakeEngine) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = pos
	e.seeks = append(e.seeks, pos)
	return nil
}

func (e *fakeEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur
}

func (e *fakeEngine) UpdateToken(token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens = append(e.tokens, token)
	return nil
}

func (e *fakeEngine) Events() <-chan EngineEvent { return e.events }

func (e *fakeEngine) Close() error {
	e.closeOne.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.events)
	})
	return nil
}

func (e *fakeEngine) emit(ev EngineEvent) { e.events <- ev }

func (e *fakeEngine) setPosition(pos, dur time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos, e.dur = pos, dur
}

func (e *fakeEngine) snapshot() (playing, closed bool, seeks []time.Duration, tokens []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing, e.closed, append([]time.Duration(nil), e.seeks...), append([]string(nil), e.tokens...)
}

type engineFactory struct {
	mu       sync.Mutex
	failLoad map[streaming.Variant]error
	created  []*fakeEngine
}

func (f *engineFactory) New(v streaming.Variant) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{variant: v, loadErr: f.failLoad[v], dur: 600 * time.Second, events: make(chan EngineEvent, 4)}
	f.created = append(f.created, e)
	return e, nil
}

func (f *engineFactory) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func (f *engineFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeAccess struct {
	allowed bool
	err     error
	block   map[string]bool
}

func (a fakeAccess) CanAccess(ctx context.Context, videoID string) (bool, error) {
	if a.block[videoID] {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return a.allowed, a.err
}

type fakeTokens struct {
	mu       sync.Mutex
	calls    int
	err      error
	validFor time.Duration
	adaptive bool
}

func (t *fakeTokens) IssueToken(context.Context, string) (*Grant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	token := "tok-" + string(rune('a'+t.calls-1))
	g := &Grant{
		Token:          token,
		ExpiresAt:      time.Now().Add(t.validFor),
		ProgressiveURL: "https://cdn.test/stream/v.mp4?token=" + token,
	}
	if t.adaptive {
		g.AdaptiveURL = "https://cdn.test/stream/v/index.m3u8?token=" + token
	}
	return g, nil
}

func (t *fakeTokens) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type progressCall struct {
	videoID        string
	watched, total int
}

type fakeProgress struct {
	mu    sync.Mutex
	calls []progressCall
	err   error
}

func (p *fakeProgress) SaveProgress(_ context.Context, videoID string, watched, total int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, progressCall{videoID, watched, total})
	return p.err
}

func (p *fakeProgress) all() []progressCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progressCall(nil), p.calls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	rt       *Runtime
	engines  *engineFactory
	tokens   *fakeTokens
	progress *fakeProgress
}

func newHarness(access AccessChecker, tokens *fakeTokens, cfg Config) *harness {
	h := &harness{engines: &engineFactory{failLoad: map[streaming.Variant]error{}}, tokens: tokens, progress: &fakeProgress{}}
	h.rt = NewRuntime(access, tokens, h.progress, h.engines.New, cfg, nil)
	return h
}

var adaptiveCaps = streaming.Capabilities{AdaptiveLibrary: true}

func TestLoadPlaysAdaptiveAndCloseFlushes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour, adaptive: true}, Config{AutoPlay: true, Capabilities: adaptiveCaps})
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.rt.State() != Playing {
		t.Fatalf("expected playing, got %s", h.rt.State())
	}
	if h.rt.Variant() != streaming.VariantAdaptive {
		t.Fatalf("expected adaptive, got %s", h.rt.Variant())
	}
	eng := h.engines.last()
	eng.setPosition(125500*time.Millisecond, 600900*time.Millisecond)

	if err := h.rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	calls := h.progress.all()
	if len(calls) != 1 || calls[0] != (progressCall{"v1", 125, 600}) {
		t.Fatalf("expected one floored flush, got %+v", calls)
	}
	if _, closed, _, _ := eng.snapshot(); !closed {
		t.Fatal("engine not torn down")
	}
	if err := h.rt.Load(context.Background(), "v2"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestLoadWithoutAutoPlayIsReady(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour}, Config{})
	defer h.rt.Close()
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.rt.State() != Ready {
		t.Fatalf("expected ready, got %s", h.rt.State())
	}
	if h.rt.Variant() != streaming.VariantProgressive {
		t.Fatalf("expected progressive without adaptive support, got %s", h.rt.Variant())
	}
	if err := h.rt.Play(); err != nil || h.rt.State() != Playing {
		t.Fatalf("play: %v %s", err, h.rt.State())
	}
	if err := h.rt.Seek(10 * time.Second); err != nil || h.rt.State() != Playing {
		t.Fatalf("seek must not change state: %v %s", err, h.rt.State())
	}
	if err := h.rt.Pause(); err != nil || h.rt.State() != Paused {
		t.Fatalf("pause: %v %s", err, h.rt.State())
	}
}

func TestDeniedNeverRequestsToken(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tokens := &fakeTokens{validFor: time.Hour}
	h := newHarness(fakeAccess{allowed: false}, tokens, Config{AutoPlay: true})
	defer h.rt.Close()

	err := h.rt.Load(context.Background(), "v1")
	var perr *PlaybackError
	if !errors.As(err, &perr) || perr.Kind != KindAccessDenied {
		t.Fatalf("expected access denied error, got %v", err)
	}
	if h.rt.State() != Denied {
		t.Fatalf("expected denied, got %s", h.rt.State())
	}
	if tokens.callCount() != 0 {
		t.Fatal("token issuer must not run after a denial")
	}
	if h.rt.Err().Message() != Message(KindAccessDenied) || Message(KindAccessDenied) == "" {
		t.Fatal("expected localized denial message")
	}
}

func TestTokenFailureErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{err: errors.New("503")}, Config{AutoPlay: true})
	defer h.rt.Close()

	err := h.rt.Load(context.Background(), "v1")
	var perr *PlaybackError
	if !errors.As(err, &perr) || perr.Kind != KindTokenFailure {
		t.Fatalf("expected token failure, got %v", err)
	}
	if h.rt.State() != Errored {
		t.Fatalf("expected errored, got %s", h.rt.State())
	}
	if h.engines.count() != 0 {
		t.Fatal("no engine should be created without a token")
	}
}

func TestAdaptiveLoadFailureFallsBackToProgressive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour, adaptive: true}, Config{AutoPlay: true, Capabilities: adaptiveCaps})
	defer h.rt.Close()
	h.engines.failLoad[streaming.VariantAdaptive] = errors.New("manifest 404")

	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.rt.Variant() != streaming.VariantProgressive || h.rt.State() != Playing {
		t.Fatalf("expected progressive playback, got %s %s", h.rt.Variant(), h.rt.State())
	}
}

func TestStreamLoadFailureErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour}, Config{AutoPlay: true})
	defer h.rt.Close()
	h.engines.failLoad[streaming.VariantProgressive] = errors.New("connection reset")

	err := h.rt.Load(context.Background(), "v1")
	var perr *PlaybackError
	if !errors.As(err, &perr) || perr.Kind != KindStreamFailure {
		t.Fatalf("expected stream failure, got %v", err)
	}
	if h.rt.State() != Errored {
		t.Fatalf("expected errored, got %s", h.rt.State())
	}
}

func TestFatalAdaptiveErrorFallsBackAndRestoresPosition(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour, adaptive: true}, Config{AutoPlay: true, Capabilities: adaptiveCaps})
	defer h.rt.Close()
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	adaptive := h.engines.last()
	adaptive.setPosition(42*time.Second, 600*time.Second)
	adaptive.emit(EngineEvent{Kind: EventFatal, Err: errors.New("decoder error")})

	waitFor(t, "progressive fallback", func() bool {
		return h.rt.Variant() == streaming.VariantProgressive && h.rt.State() == Playing
	})
	progressive := h.engines.last()
	playing, _, seeks, _ := progressive.snapshot()
	if !playing || len(seeks) != 1 || seeks[0] != 42*time.Second {
		t.Fatalf("expected resumed playback at 42s, got playing=%v seeks=%v", playing, seeks)
	}
	if _, closed, _, _ := adaptive.snapshot(); !closed {
		t.Fatal("failed adaptive engine not torn down")
	}

	progressive.emit(EngineEvent{Kind: EventFatal, Err: errors.New("network down")})
	waitFor(t, "errored state", func() bool { return h.rt.State() == Errored })
	if h.rt.Err() == nil || h.rt.Err().Kind != KindStreamFailure {
		t.Fatalf("expected stream failure, got %v", h.rt.Err())
	}
}

func TestEndedSavesFinalProgressOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	completed := make(chan string, 1)
	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour}, Config{
		AutoPlay:   true,
		OnComplete: func(videoID string) { completed <- videoID },
	})
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	eng := h.engines.last()
	eng.setPosition(600*time.Second, 600*time.Second)
	eng.emit(EngineEvent{Kind: EventEnded})

	select {
	case id := <-completed:
		if id != "v1" {
			t.Fatalf("unexpected completion for %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback not fired")
	}
	waitFor(t, "ended", func() bool { return h.rt.State() == Ended })

	_ = h.rt.Close()
	calls := h.progress.all()
	if len(calls) != 1 || calls[0] != (progressCall{"v1", 600, 600}) {
		t.Fatalf("expected a single final save, got %+v", calls)
	}
}

func TestProgressTickerSavesWhilePlaying(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour}, Config{AutoPlay: true, ProgressInterval: 10 * time.Millisecond})
	defer h.rt.Close()
	h.progress.err = errors.New("offline")

	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	h.engines.last().setPosition(30*time.Second, 600*time.Second)

	waitFor(t, "periodic saves", func() bool { return len(h.progress.all()) >= 2 })
	if h.rt.State() != Playing {
		t.Fatalf("save failures must not change state, got %s", h.rt.State())
	}
}

func TestTokenRefreshSwapsAdaptiveTokenInPlace(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tokens := &fakeTokens{validFor: time.Hour + 30*time.Millisecond, adaptive: true}
	h := newHarness(fakeAccess{allowed: true}, tokens, Config{
		AutoPlay:     true,
		Capabilities: adaptiveCaps,
		RefreshLead:  time.Hour,
		RefreshRetry: time.Hour,
	})
	defer h.rt.Close()
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	eng := h.engines.last()
	waitFor(t, "token swap", func() bool {
		_, _, _, toks := eng.snapshot()
		return len(toks) == 1
	})
	_, _, _, toks := eng.snapshot()
	if toks[0] != "tok-b" {
		t.Fatalf("expected refreshed token, got %v", toks)
	}
	if h.rt.State() != Playing {
		t.Fatalf("refresh must not interrupt playback, got %s", h.rt.State())
	}
}

func TestTokenRefreshLeavesProgressiveSourceAlone(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tokens := &fakeTokens{validFor: time.Hour + 20*time.Millisecond}
	h := newHarness(fakeAccess{allowed: true}, tokens, Config{AutoPlay: true, RefreshLead: time.Hour, RefreshRetry: time.Hour})
	defer h.rt.Close()
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	waitFor(t, "refresh call", func() bool { return tokens.callCount() == 2 })
	if _, _, _, toks := h.engines.last().snapshot(); len(toks) != 0 {
		t.Fatalf("progressive engine must not be re-pointed, got %v", toks)
	}
}

func TestNewerLoadSupersedesPendingLoad(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true, block: map[string]bool{"slow": true}}, &fakeTokens{validFor: time.Hour}, Config{AutoPlay: true})
	defer h.rt.Close()

	done := make(chan error, 1)
	go func() { done <- h.rt.Load(context.Background(), "slow") }()
	waitFor(t, "first load checking access", func() bool { return h.rt.State() == CheckingAccess })

	if err := h.rt.Load(context.Background(), "fast"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("expected superseded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first load never returned")
	}
	if h.rt.State() != Playing {
		t.Fatalf("stale load must not change state, got %s", h.rt.State())
	}
	if h.engines.count() != 1 {
		t.Fatalf("expected one engine for the second load, got %d", h.engines.count())
	}
}

func TestLoadingAnotherVideoFlushesAndTearsDownPrevious(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour}, Config{AutoPlay: true})
	defer h.rt.Close()
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load v1: %v", err)
	}
	first := h.engines.last()
	first.setPosition(90*time.Second, 600*time.Second)

	if err := h.rt.Load(context.Background(), "v2"); err != nil {
		t.Fatalf("load v2: %v", err)
	}
	if _, closed, _, _ := first.snapshot(); !closed {
		t.Fatal("previous engine not closed")
	}
	calls := h.progress.all()
	if len(calls) != 1 || calls[0].videoID != "v1" || calls[0].watched != 90 {
		t.Fatalf("expected v1 flush, got %+v", calls)
	}
}

func TestSubscribeReportsTransitions(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(fakeAccess{allowed: true}, &fakeTokens{validFor: time.Hour}, Config{AutoPlay: true})
	events := h.rt.Subscribe()
	if err := h.rt.Load(context.Background(), "v1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = h.rt.Close()

	var got []State
	for ev := range events {
		got = append(got, ev.To)
	}
	want := []State{CheckingAccess, AcquiringToken, LoadingSource, Playing}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMessagesAreLocalized(t *testing.T) {
	for _, kind := range []ErrorKind{KindAccessDenied, KindTokenFailure, KindStreamFailure} {
		if Message(kind) == "" || Message(kind) == genericMessage {
			t.Fatalf("missing message for %s", kind)
		}
	}
	if Message("other") != genericMessage {
		t.Fatal("unknown kinds fall back to the generic message")
	}
	if Playing.String() != "playing" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
