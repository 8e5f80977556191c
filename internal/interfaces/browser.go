package interfaces

import (
	"context"
	"time"
)

// SelectorKind tells the page how to interpret a selector query
type SelectorKind string

const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
)

// Selector is a concrete element handle produced by the locator resolver
type Selector struct {
	Query string
	Kind  SelectorKind
}

// Page drives one live browser page. Implementations must bound every
// blocking call with the supplied context or timeout.
type Page interface {
	// Navigate loads a URL and waits for the document to be ready
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the element is visible or the timeout expires
	WaitVisible(ctx context.Context, sel Selector, timeout time.Duration) error

	// Click clicks the element
	Click(ctx context.Context, sel Selector) error

	// SetValue replaces the element's value with the given text
	SetValue(ctx context.Context, sel Selector, value string) error

	// WaitReady waits for post-navigation DOM settling
	WaitReady(ctx context.Context, timeout time.Duration) error

	// FullScreenshot captures a full-page PNG of the current state
	FullScreenshot(ctx context.Context) ([]byte, error)

	// CurrentURL returns the page's current location
	CurrentURL(ctx context.Context) (string, error)
}

// BrowserSession is a Page plus its lifecycle. One session per run;
// sessions are never shared across runs or parameter sets.
type BrowserSession interface {
	Page

	// TraceDump returns the collected CDP event trace for the session,
	// or nil when tracing is disabled
	TraceDump() []byte

	// Close tears down the browser context
	Close() error
}

// SessionFactory launches isolated browser sessions
type SessionFactory interface {
	NewSession(ctx context.Context, liveView bool) (BrowserSession, error)
}
