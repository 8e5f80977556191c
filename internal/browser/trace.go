package browser

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// traceEntry is one recorded CDP event. The trace is uploaded alongside
// the failure screenshot so a reviewer can see what the page was doing.
type traceEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	URL       string    `json:"url,omitempty"`
	Status    int64     `json:"status,omitempty"`
}

// traceRecorder listens to console and network events on a browser
// context. Entries are bounded to keep a chatty page from exhausting
// memory during a long run.
type traceRecorder struct {
	mu      sync.Mutex
	entries []traceEntry
}

const maxTraceEntries = 2000

func newTraceRecorder(browserCtx context.Context) (*traceRecorder, error) {
	t := &traceRecorder{}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			detail := ""
			for _, arg := range e.Args {
				if len(arg.Value) > 0 {
					detail += string(arg.Value) + " "
				}
			}
			t.append(traceEntry{
				Timestamp: time.Now(),
				Kind:      "console." + string(e.Type),
				Detail:    detail,
			})
		case *runtime.EventExceptionThrown:
			detail := ""
			if e.ExceptionDetails != nil {
				detail = e.ExceptionDetails.Text
			}
			t.append(traceEntry{
				Timestamp: time.Now(),
				Kind:      "exception",
				Detail:    detail,
			})
		case *network.EventRequestWillBeSent:
			t.append(traceEntry{
				Timestamp: time.Now(),
				Kind:      "network.request",
				Detail:    e.Request.Method,
				URL:       e.Request.URL,
			})
		case *network.EventResponseReceived:
			t.append(traceEntry{
				Timestamp: time.Now(),
				Kind:      "network.response",
				URL:       e.Response.URL,
				Status:    e.Response.Status,
			})
		}
	})

	// Network events are not delivered until the domain is enabled
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *traceRecorder) append(entry traceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= maxTraceEntries {
		return
	}
	t.entries = append(t.entries, entry)
}

// dump serializes the collected trace as JSON lines
func (t *traceRecorder) dump() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []byte
	for _, entry := range t.entries {
		line, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}
