package browser

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/entrhq/gridscout/pkg/types"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver implements GridReader on a Chromium instance. Each
// ResetContext replaces the BrowserContext and page; the browser process
// lives until Close.
type PlaywrightDriver struct {
	mu      sync.Mutex
	opts    Options
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// NewPlaywrightDriver installs and starts playwright and launches Chromium.
func NewPlaywrightDriver(opts Options) (*PlaywrightDriver, error) {
	opts.setDefaults()

	// Keep driver install output off stdout; replay stdout is parsed.
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	headless := opts.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &PlaywrightDriver{opts: opts, pw: pw, browser: browser}, nil
}

// ResetContext closes the current context, if any, and opens a fresh one.
func (d *PlaywrightDriver) ResetContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resetLocked()
}

func (d *PlaywrightDriver) resetLocked() error {
	d.closeContextLocked()

	bctx, err := d.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.opts.ViewportWidth,
			Height: d.opts.ViewportHeight,
		},
	})
	if err != nil {
		return &types.DriverError{Op: "reset_context", Err: err}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return &types.DriverError{Op: "reset_context", Err: err}
	}
	page.SetDefaultTimeout(ms(d.opts.ElementTimeout))
	page.SetDefaultNavigationTimeout(ms(d.opts.NavigationTimeout))

	d.context = bctx
	d.page = page
	return nil
}

func (d *PlaywrightDriver) closeContextLocked() {
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.context != nil {
		_ = d.context.Close()
		d.context = nil
	}
}

// activePage returns the current page, opening a context on first use.
func (d *PlaywrightDriver) activePage(ctx context.Context) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		if err := d.resetLocked(); err != nil {
			return nil, err
		}
	}
	return d.page, nil
}

// Navigate loads url and waits for DOMContentLoaded.
func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}

	waitUntil := playwright.WaitUntilState("domcontentloaded")
	timeout := ms(d.opts.NavigationTimeout)
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   &timeout,
	}); err != nil {
		return &types.DriverError{Op: "navigate", Err: err}
	}
	return nil
}

// Click clicks the first element matching selector.
func (d *PlaywrightDriver) Click(ctx context.Context, selector string) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}

	timeout := ms(d.opts.ElementTimeout)
	if err := page.Click(selector, playwright.PageClickOptions{Timeout: &timeout}); err != nil {
		return &types.DriverError{Op: "click", Selector: selector, Err: err}
	}
	return nil
}

// Fill fills the input matching selector.
func (d *PlaywrightDriver) Fill(ctx context.Context, selector, value string) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}

	timeout := ms(d.opts.ElementTimeout)
	if err := page.Fill(selector, value, playwright.PageFillOptions{Timeout: &timeout}); err != nil {
		return &types.DriverError{Op: "fill", Selector: selector, Err: err}
	}
	return nil
}

// Snapshot captures the page URL, title, HTML and visible text.
func (d *PlaywrightDriver) Snapshot(ctx context.Context) (*Snapshot, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return nil, err
	}

	content, err := page.Content()
	if err != nil {
		return nil, &types.DriverError{Op: "snapshot", Err: err}
	}
	title, _ := page.Title()
	text, _ := page.InnerText("body")

	return &Snapshot{
		URL:   page.URL(),
		Title: title,
		HTML:  content,
		Text:  text,
	}, nil
}

// Evaluate runs a JavaScript expression in the page.
func (d *PlaywrightDriver) Evaluate(ctx context.Context, script string) (any, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return nil, err
	}

	result, err := page.Evaluate(script)
	if err != nil {
		return nil, &types.DriverError{Op: "evaluate", Err: err}
	}
	return result, nil
}

// WaitVisible waits until selector is visible or timeout elapses.
func (d *PlaywrightDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	page, err := d.activePage(ctx)
	if err != nil {
		return err
	}

	state := playwright.WaitForSelectorState("visible")
	t := ms(timeout)
	if _, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &state,
		Timeout: &t,
	}); err != nil {
		return &types.DriverError{Op: "wait", Selector: selector, Err: err}
	}
	return nil
}

// Pause waits for d or until ctx is done.
func (d *PlaywrightDriver) Pause(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TableRows returns the cell texts of each row under the first grid match.
func (d *PlaywrightDriver) TableRows(ctx context.Context, gridSelector, rowSelector string) ([][]string, error) {
	page, err := d.activePage(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := page.Locator(gridSelector).First().Locator(rowSelector).All()
	if err != nil {
		return nil, &types.DriverError{Op: "rows", Selector: gridSelector, Err: err}
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells, err := row.Locator("td").AllInnerTexts()
		if err != nil {
			return nil, &types.DriverError{Op: "rows", Selector: rowSelector, Err: err}
		}
		if len(cells) == 0 {
			continue
		}
		out = append(out, cells)
	}
	return out, nil
}

// Close shuts down the context, the browser and playwright.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeContextLocked()
	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		d.pw = nil
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

func jsString(s string) string {
	return strconv.Quote(s)
}
