// Package batch runs many artifacts with bounded concurrency and streams
// aggregate progress.
package batch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ErrNoArtifacts is returned when a batch has nothing to run.
var ErrNoArtifacts = errors.New("batch has no artifacts")

// Request describes one batch.
type Request struct {
	Artifacts []string
	// MaxConcurrent bounds in-flight units. 0 means unlimited.
	MaxConcurrent int
	Params        heal.Params
}

// Runner executes batches. It holds no per-batch state and may run
// several batches at once.
type Runner struct {
	tester  heal.Tester
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records unit outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner that executes units with tester.
func NewRunner(tester heal.Tester, opts ...Option) *Runner {
	r := &Runner{tester: tester, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every artifact in req and blocks until all have finished.
// A failing sink only detaches the stream; units keep running and the
// returned Job is complete either way.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (*Job, error) {
	if len(req.Artifacts) == 0 {
		return nil, ErrNoArtifacts
	}
	if req.MaxConcurrent < 0 {
		req.MaxConcurrent = 0
	}

	job := newJob(len(req.Artifacts), req.MaxConcurrent)
	st := newStream(sink, r.logger)
	st.send(types.NewParallelStartEvent(req.MaxConcurrent, job.Total))
	r.logger.Infof("batch %s: %d artifacts, max concurrent %d", job.ID, job.Total, req.MaxConcurrent)

	// A plain Group: one unit failing must not cancel its siblings.
	var g errgroup.Group
	if req.MaxConcurrent > 0 {
		g.SetLimit(req.MaxConcurrent)
	}
	for _, path := range req.Artifacts {
		g.Go(func() error {
			r.runUnit(ctx, job, st, path, req.Params)
			return nil
		})
	}
	_ = g.Wait()
	job.finish()

	s := job.Summary()
	st.send(types.NewParallelCompleteEvent(s.Total, s.Successful, s.Failed, s.TotalRows, s.Results))
	if n := st.droppedEvents(); n > 0 {
		r.logger.Infof("batch %s: %d progress events dropped after the stream detached", job.ID, n)
	}
	r.logger.Infof("batch %s finished: %d ok, %d failed, %d rows", job.ID, s.Successful, s.Failed, s.TotalRows)
	return job, nil
}

func (r *Runner) runUnit(ctx context.Context, job *Job, st *stream, path string, p heal.Params) {
	name := ScriptName(path)
	st.send(types.NewScriptStartEvent(name, path))
	r.metrics.UnitStarted()

	started := time.Now()
	outcome, err := r.tester.Execute(ctx, path, p)
	res := Result{Script: name, Path: path, Duration: time.Since(started)}
	switch {
	case err != nil:
		res.Error = err.Error()
	case outcome == nil:
		res.Error = "no outcome"
	case !outcome.Success:
		res.Error = outcome.FailureMessage()
	default:
		res.Success = true
	}
	if outcome != nil {
		res.RowCount = outcome.RowCount
		res.DataPath = outcome.DataPath
	}

	job.complete(res)
	r.metrics.UnitFinished(res.Success, res.RowCount, res.Duration)
	if !res.Success {
		r.logger.Warnf("batch %s: %s failed: %s", job.ID, name, res.Error)
	}
	st.send(types.NewScriptCompleteEvent(res))
}

// ScriptName returns the display name of an artifact path.
func ScriptName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
