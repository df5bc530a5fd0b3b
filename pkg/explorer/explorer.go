// Package explorer drives a browser through an unfamiliar records portal
// until the results grid is found, recording every successful interaction.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/oracle"
	"github.com/entrhq/gridscout/pkg/recorder"
	"github.com/entrhq/gridscout/pkg/types"
)

// Request starts an exploration.
type Request struct {
	URL         string
	SearchQuery string
	DateRange   DateRange
}

// Limits are the circuit breaker ceilings of a session.
type Limits struct {
	MaxDisclaimerClicks    int
	MaxAttempts            int
	MaxAlternativeRequests int
}

// DefaultLimits returns the standard ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxDisclaimerClicks:    5,
		MaxAttempts:            10,
		MaxAlternativeRequests: 2,
	}
}

// Explorer runs exploration sessions one step at a time.
type Explorer struct {
	driver         browser.Driver
	oracle         oracle.Oracle
	limits         Limits
	settle         time.Duration
	snapshotLength int
	logger         *logging.Logger
	emit           func(*types.Event)
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithLimits overrides the breaker ceilings.
func WithLimits(l Limits) Option {
	return func(e *Explorer) { e.limits = l }
}

// WithSettleDelay waits d after each click before the next snapshot.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Explorer) { e.settle = d }
}

// WithSnapshotLength caps cleaned snapshot size in bytes.
func WithSnapshotLength(n int) Option {
	return func(e *Explorer) { e.snapshotLength = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Explorer) { e.logger = l }
}

// WithEvents registers a callback for status and log events.
func WithEvents(fn func(*types.Event)) Option {
	return func(e *Explorer) { e.emit = fn }
}

// New creates an Explorer over driver and oracle.
func New(driver browser.Driver, o oracle.Oracle, opts ...Option) *Explorer {
	e := &Explorer{
		driver:         driver,
		oracle:         o,
		limits:         DefaultLimits(),
		snapshotLength: browser.DefaultSnapshotLength,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run explores req.URL until the grid's columns are captured or a breaker
// trips. The returned session is always non-nil; the error is nil only when
// the session ends in COLUMNS_CAPTURED.
func (e *Explorer) Run(ctx context.Context, req Request) (*Session, error) {
	s := NewSession(req)
	e.setStatus(s, StatusNavigating, "navigating to "+req.URL)

	if err := e.navigate(ctx, s, req.URL, true); err != nil {
		return e.fail(s, StatusFailed, err)
	}

	// next holds a decision reached during a disclaimer step that still
	// has to be acted on.
	var next *oracle.Decision
	for {
		if err := ctx.Err(); err != nil {
			return e.fail(s, StatusFailed, err)
		}
		if s.AttemptCount >= e.limits.MaxAttempts {
			return e.fail(s, StatusFailed, &types.CircuitBreakerError{
				Breaker: types.BreakerAttempts,
				Limit:   e.limits.MaxAttempts,
				Count:   s.AttemptCount,
			})
		}

		d := next
		next = nil
		if d == nil {
			var err error
			d, err = e.analyze(ctx, s, oracle.Request{Phase: oracle.PhaseAnalyze})
			if err != nil {
				return e.fail(s, StatusFailed, err)
			}
			e.info(s, "page classified as %s: %s", d.Classification, d.Reasoning)
		}

		switch d.Classification {
		case oracle.ClassBlocked:
			return e.fail(s, StatusFailed, types.ErrClassificationBlocked)

		case oracle.ClassResultsGrid:
			if err := e.captureColumns(ctx, s, d.Grid); err != nil {
				return e.fail(s, StatusFailed, err)
			}
			e.setStatus(s, StatusColumnsCaptured, fmt.Sprintf("captured %d columns", s.Columns.Len()))
			return s, nil

		case oracle.ClassSearchPage:
			if s.searchSubmitted {
				e.info(s, "search form shown again after submission, resubmitting")
			}
			e.setStatus(s, StatusSearchPageFound, "search form located")
			if err := e.executeSearch(ctx, s, d.Search); err != nil {
				var snf *types.SelectorNotFoundError
				if !errors.As(err, &snf) {
					return e.fail(s, StatusFailed, err)
				}
				e.warn(s, "search step skipped: %v", err)
				continue
			}
			e.setStatus(s, StatusSearchExecuted, "search submitted")

		case oracle.ClassDisclaimer:
			redirect, err := e.handleDisclaimer(ctx, s, d.Selector)
			if err != nil {
				if errors.Is(err, types.ErrCircuitBreakerTripped) {
					return e.fail(s, StatusNeedsHumanReview, err)
				}
				return e.fail(s, StatusFailed, err)
			}
			next = redirect

		default:
			if err := e.followLink(ctx, s, d.Selector); err != nil {
				return e.fail(s, StatusFailed, err)
			}
		}
	}
}

// navigate loads url. The first navigation of a session starts from a
// fresh browser context.
func (e *Explorer) navigate(ctx context.Context, s *Session, url string, first bool) error {
	if first {
		if err := e.driver.ResetContext(ctx); err != nil {
			return err
		}
	}
	s.AttemptCount++
	if err := e.driver.Navigate(ctx, url); err != nil {
		return err
	}
	return s.Recorder.Navigate(url)
}

func (e *Explorer) analyze(ctx context.Context, s *Session, req oracle.Request) (*oracle.Decision, error) {
	if req.Phase == oracle.PhaseAnalyze {
		s.AttemptCount++
	}

	snap, err := e.driver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	cleaned, err := browser.CleanSnapshot(snap.HTML, e.snapshotLength)
	if err != nil {
		return nil, err
	}

	req.URL = snap.URL
	req.Title = snap.Title
	req.Snapshot = cleaned.HTML
	req.Text = snap.Text
	req.SearchQuery = s.SearchQuery
	req.DiscoveredSelectors = append([]string(nil), s.Discovered...)
	req.ClickedSelectors = s.Memory.Selectors()

	d, err := e.oracle.Decide(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("oracle decision failed: %w", err)
	}
	if d == nil {
		return nil, fmt.Errorf("oracle returned no decision")
	}
	d.Classification = oracle.ResolveClassification(d.Classification, d.Also)
	d.Also = nil
	return d, nil
}

// handleDisclaimer clicks an acceptance control that was not clicked in
// this loop, asking the oracle for alternatives when the proposal repeats.
// If an alternative analysis classifies the page as something other than
// a disclaimer, no click happens and that decision is returned for the
// main loop.
func (e *Explorer) handleDisclaimer(ctx context.Context, s *Session, selector string) (*oracle.Decision, error) {
	for alt := 0; selector == "" || s.Memory.Seen(selector); alt++ {
		if alt >= e.limits.MaxAlternativeRequests {
			s.DisclaimerClickAttempts++
			e.warn(s, "%v", &types.SelectorNotFoundError{
				Selector: selector,
				Reason:   "no unclicked disclaimer control proposed",
			})
			return nil, e.checkDisclaimerBreaker(s)
		}

		e.info(s, "selector %q already clicked, asking for an alternative", selector)
		d, err := e.analyze(ctx, s, oracle.Request{Phase: oracle.PhaseAlternative, RejectedSelector: selector})
		if err != nil {
			return nil, err
		}
		if d.Classification != oracle.ClassDisclaimer && d.Classification != oracle.ClassUnknown {
			e.info(s, "page reclassified as %s: %s", d.Classification, d.Reasoning)
			return d, nil
		}
		selector = d.Selector
	}

	if err := e.driver.Click(ctx, selector); err != nil {
		return nil, err
	}
	s.Memory.Remember(selector)
	s.discover(selector)
	if err := s.Recorder.Click(selector, "accept disclaimer"); err != nil {
		return nil, err
	}
	s.DisclaimerClickAttempts++
	e.setStatus(s, StatusClickExecuted, fmt.Sprintf("clicked %s (disclaimer click %d)", selector, s.DisclaimerClickAttempts))

	if err := e.checkDisclaimerBreaker(s); err != nil {
		return nil, err
	}
	return nil, e.wait(ctx)
}

func (e *Explorer) checkDisclaimerBreaker(s *Session) error {
	if s.DisclaimerClickAttempts >= e.limits.MaxDisclaimerClicks {
		return &types.CircuitBreakerError{
			Breaker: types.BreakerDisclaimer,
			Limit:   e.limits.MaxDisclaimerClicks,
			Count:   s.DisclaimerClickAttempts,
		}
	}
	return nil
}

func (e *Explorer) executeSearch(ctx context.Context, s *Session, form *oracle.SearchForm) error {
	if form == nil || form.QueryInput == "" {
		return &types.SelectorNotFoundError{Reason: "search input not identified"}
	}
	if form.SubmitButton == "" {
		return &types.SelectorNotFoundError{Selector: form.QueryInput, Reason: "submit control not identified"}
	}

	fills := []struct {
		selector, value, placeholder, desc string
	}{
		{form.QueryInput, s.SearchQuery, recorder.PlaceholderSearchTerm, "search term"},
		{form.StartDateInput, s.DateRange.Start, recorder.PlaceholderStartDate, "start date"},
		{form.EndDateInput, s.DateRange.End, recorder.PlaceholderEndDate, "end date"},
	}
	for _, f := range fills {
		if f.selector == "" || f.value == "" {
			continue
		}
		if err := e.driver.Fill(ctx, f.selector, f.value); err != nil {
			return err
		}
		if err := s.Recorder.Fill(f.selector, f.placeholder, f.desc); err != nil {
			return err
		}
		s.discover(f.selector)
	}

	if err := e.driver.Click(ctx, form.SubmitButton); err != nil {
		return err
	}
	if err := s.Recorder.Click(form.SubmitButton, "submit search"); err != nil {
		return err
	}
	s.discover(form.SubmitButton)
	s.searchSubmitted = true
	s.Memory.ResetLoop()
	return e.wait(ctx)
}

func (e *Explorer) followLink(ctx context.Context, s *Session, selector string) error {
	if selector == "" || s.Memory.Seen(selector) {
		e.warn(s, "no usable navigation target on %s", s.TargetURL)
		return nil
	}
	if err := e.driver.Click(ctx, selector); err != nil {
		return err
	}
	s.Memory.Remember(selector)
	if err := s.Recorder.Click(selector, "open search page"); err != nil {
		return err
	}
	e.setStatus(s, StatusClickExecuted, "followed "+selector)
	return e.wait(ctx)
}

func (e *Explorer) captureColumns(ctx context.Context, s *Session, g *oracle.Grid) error {
	if g == nil {
		g = &oracle.Grid{}
	}

	columns := g.Columns
	if len(columns) == 0 && g.GridSelector != "" {
		headers, err := e.readHeaders(ctx, g.GridSelector)
		if err != nil {
			e.warn(s, "header read failed: %v", err)
		}
		for i, h := range headers {
			if h == "" {
				continue
			}
			columns = append(columns, oracle.Column{Name: h, Index: i})
		}
	}

	for _, c := range columns {
		if err := s.Columns.Add(Column{Name: c.Name, Selector: c.Selector, Index: c.Index}); err != nil {
			e.warn(s, "column skipped: %v", err)
		}
	}

	rowSelector := g.RowSelector
	if rowSelector == "" {
		rowSelector = "tr"
	}
	s.Grid = GridInfo{
		GridSelector:      g.GridSelector,
		RowSelector:       rowSelector,
		FallbackSelectors: browser.MergeSelectors(g.FallbackSelectors),
		FirstDataColumn:   g.FirstDataColumn,
		NoResults:         g.NoResults,
	}
	s.discover(g.GridSelector)
	return nil
}

func (e *Explorer) readHeaders(ctx context.Context, gridSelector string) ([]string, error) {
	v, err := e.driver.Evaluate(ctx, browser.HeaderScript(gridSelector))
	if err != nil {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected header result %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, _ := item.(string)
		out = append(out, strings.TrimSpace(str))
	}
	return out, nil
}

func (e *Explorer) wait(ctx context.Context) error {
	if e.settle <= 0 {
		return nil
	}
	t := time.NewTimer(e.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Explorer) fail(s *Session, status Status, err error) (*Session, error) {
	s.Status = status
	s.Err = err
	msg := s.Logf("ERROR", "%v", err)
	e.logger.Errorf("[%s] %s: %s", s.ID, status, msg)
	e.publish(types.NewStatusEvent(s.ID, string(status), msg))
	return s, err
}

func (e *Explorer) setStatus(s *Session, status Status, message string) {
	s.Status = status
	s.Logf("INFO", "%s: %s", status, message)
	e.logger.Infof("[%s] %s: %s", s.ID, status, message)
	e.publish(types.NewStatusEvent(s.ID, string(status), message))
}

func (e *Explorer) info(s *Session, format string, args ...interface{}) {
	msg := s.Logf("INFO", format, args...)
	e.logger.Infof("[%s] %s", s.ID, msg)
	e.publish(types.NewLogEvent(s.ID, msg))
}

func (e *Explorer) warn(s *Session, format string, args ...interface{}) {
	msg := s.Logf("WARN", format, args...)
	e.logger.Warnf("[%s] %s", s.ID, msg)
	e.publish(types.NewLogEvent(s.ID, msg))
}

func (e *Explorer) publish(ev *types.Event) {
	if e.emit != nil {
		e.emit(ev)
	}
}
