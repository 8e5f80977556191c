// Package browser wraps chromedp so the rest of the engine drives pages
// through the interfaces.Page contract. One session per run, never shared.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
)

// Factory launches isolated chromedp sessions from one configuration
type Factory struct {
	config common.BrowserConfig
	logger arbor.ILogger
}

// NewFactory creates a session factory
func NewFactory(config common.BrowserConfig, logger arbor.ILogger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

// NewSession launches a fresh browser context. Live-view jobs run headed
// with a per-action delay so a human can follow along; standard jobs run
// headless.
func (f *Factory) NewSession(ctx context.Context, liveView bool) (interfaces.BrowserSession, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !liveView),
		chromedp.Flag("disable-gpu", f.config.DisableGPU),
		chromedp.Flag("no-sandbox", f.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(f.config.WindowWidth, f.config.WindowHeight),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	session := &Session{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelBrowser, cancelAlloc},
		config:  f.config,
		logger:  f.logger,
	}
	if liveView {
		session.slowMo = common.MustDuration(f.config.SlowMo, 50*time.Millisecond)
	}

	if f.config.TraceEnabled {
		trace, err := newTraceRecorder(browserCtx)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to start session trace: %w", err)
		}
		session.trace = trace
	}

	// Start the browser process up front so launch failures surface here,
	// not in the middle of step 1
	if err := chromedp.Run(browserCtx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	f.logger.Debug().
		Bool("live_view", liveView).
		Bool("trace", f.config.TraceEnabled).
		Msg("Browser session started")

	return session, nil
}

// Session drives one chromedp browser context
type Session struct {
	ctx     context.Context
	cancels []context.CancelFunc
	config  common.BrowserConfig
	logger  arbor.ILogger
	slowMo  time.Duration
	trace   *traceRecorder
}

// Navigate loads a URL and waits for the document to become ready
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := common.MustDuration(s.config.NavigationTimeout, 60*time.Second)
	err := s.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s did not complete within %s: %w", url, timeout, err)
	}
	return nil
}

// WaitVisible blocks until the element is visible or the timeout expires
func (s *Session) WaitVisible(ctx context.Context, sel interfaces.Selector, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(sel.Query, queryOption(sel))); err != nil {
		return fmt.Errorf("element %s not visible within %s: %w", sel.Query, timeout, err)
	}
	return nil
}

// Click clicks the element
func (s *Session) Click(ctx context.Context, sel interfaces.Selector) error {
	timeout := common.MustDuration(s.config.StepTimeout, 10*time.Second)
	if err := s.run(ctx, timeout, chromedp.Click(sel.Query, queryOption(sel))); err != nil {
		return fmt.Errorf("failed to click %s: %w", sel.Query, err)
	}
	return nil
}

// SetValue replaces the element's value with the given text
func (s *Session) SetValue(ctx context.Context, sel interfaces.Selector, value string) error {
	timeout := common.MustDuration(s.config.StepTimeout, 10*time.Second)
	if err := s.run(ctx, timeout, chromedp.SetValue(sel.Query, value, queryOption(sel))); err != nil {
		return fmt.Errorf("failed to set value on %s: %w", sel.Query, err)
	}
	return nil
}

// WaitReady waits for post-navigation DOM settling. Fast-moving UIs are
// the main source of flaky steps; this is the explicit barrier, not a
// blind retry.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("page did not settle within %s: %w", timeout, err)
	}
	settle := common.MustDuration(s.config.SettleTime, 500*time.Millisecond)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}
	return nil
}

// FullScreenshot captures a full-page PNG of the current state
func (s *Session) FullScreenshot(ctx context.Context) ([]byte, error) {
	timeout := common.MustDuration(s.config.StepTimeout, 10*time.Second)
	var buf []byte
	if err := s.run(ctx, timeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// CurrentURL returns the page's current location
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	timeout := common.MustDuration(s.config.StepTimeout, 10*time.Second)
	var location string
	if err := s.run(ctx, timeout, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return location, nil
}

// TraceDump returns the collected CDP event trace, or nil when tracing is
// disabled
func (s *Session) TraceDump() []byte {
	if s.trace == nil {
		return nil
	}
	return s.trace.dump()
}

// Close tears down the browser context
func (s *Session) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}

// run executes chromedp actions bounded by a timeout, applying the
// live-view slow-mo delay after the action completes
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if ctx != nil {
		// Honor caller cancellation alongside the session context
		var cancel context.CancelFunc
		runCtx, cancel = mergeContext(s.ctx, ctx)
		defer cancel()
	}

	tctx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	err := chromedp.Run(tctx, actions...)
	if err == nil && s.slowMo > 0 {
		time.Sleep(s.slowMo)
	}
	return err
}

// mergeContext derives a chromedp-capable context cancelled when either
// parent finishes. chromedp requires its own context chain, so the
// session context is the base and the caller context only contributes
// cancellation.
func mergeContext(base, caller context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(base)
	go func() {
		select {
		case <-caller.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}

func queryOption(sel interfaces.Selector) chromedp.QueryOption {
	if sel.Kind == interfaces.SelectorXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}
