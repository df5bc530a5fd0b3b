// Package browser provides the browser driver used for exploration and
// artifact replay, plus snapshot cleaning for page classification.
package browser

import (
	"context"
	"time"
)

// Snapshot is the observable state of the current page.
type Snapshot struct {
	URL   string
	Title string
	HTML  string
	Text  string
}

// Driver is the browser capability needed by an exploration session. A
// Driver is scoped to one session and is not shared.
//
// Failures are reported as *types.DriverError.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Snapshot(ctx context.Context) (*Snapshot, error)
	Evaluate(ctx context.Context, script string) (any, error)
	// ResetContext discards cookies, cache and storage by replacing the
	// browsing context.
	ResetContext(ctx context.Context) error
	Close() error
}

// GridReader extends Driver with the waits and table reads needed to
// replay an artifact.
type GridReader interface {
	Driver
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Pause(ctx context.Context, d time.Duration) error
	TableRows(ctx context.Context, gridSelector, rowSelector string) ([][]string, error)
}

// Options configures a playwright-backed driver.
type Options struct {
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
}

// Default values for Options.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultNavTimeout     = 30 * time.Second
	DefaultElementTimeout = 10 * time.Second
)

func (o *Options) setDefaults() {
	if o.ViewportWidth == 0 {
		o.ViewportWidth = DefaultViewportWidth
	}
	if o.ViewportHeight == 0 {
		o.ViewportHeight = DefaultViewportHeight
	}
	if o.NavigationTimeout == 0 {
		o.NavigationTimeout = DefaultNavTimeout
	}
	if o.ElementTimeout == 0 {
		o.ElementTimeout = DefaultElementTimeout
	}
}

// HeaderScript returns the JavaScript expression that reads header cell
// texts of the first table matching gridSelector.
func HeaderScript(gridSelector string) string {
	return `(() => {
  const grid = document.querySelector(` + jsString(gridSelector) + `);
  if (!grid) return [];
  const table = grid.tagName === 'TABLE' ? grid : (grid.querySelector('table') || grid);
  let cells = table.querySelectorAll('thead th');
  if (cells.length === 0) cells = table.querySelectorAll('tr:first-child th, tr:first-child td');
  return Array.from(cells).map(c => (c.innerText || '').trim());
})()`
}
