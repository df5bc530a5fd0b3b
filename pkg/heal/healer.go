package heal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/entrhq/gridscout/pkg/types"
)

// DefaultMaxRepairs is the repair ceiling per artifact.
const DefaultMaxRepairs = 3

// Tester executes an artifact once.
type Tester interface {
	Execute(ctx context.Context, path string, p Params) (*TestOutcome, error)
}

// RepairRequest is what a Repairer sees of a failing artifact.
type RepairRequest struct {
	Artifact  *synth.Artifact
	Source    string
	LastError string
	Outcome   *TestOutcome
	Steps     []synth.Step
	Attempt   int
}

// Repairer proposes a corrected plan source.
type Repairer interface {
	Repair(ctx context.Context, req RepairRequest) ([]byte, error)
}

// Result is the outcome of a heal run.
type Result struct {
	Status             explorer.Status
	Artifact           *synth.Artifact
	Versions           []*synth.Artifact
	Outcomes           []*TestOutcome
	ScriptTestAttempts int
	LastError          string
	RowCount           int
	DataPath           string
}

// Healer runs the test-and-repair loop for one artifact at a time.
type Healer struct {
	tester     Tester
	repairer   Repairer
	synth      *synth.Synthesizer
	maxRepairs int
	logger     *logging.Logger
	onEvent    func(*types.Event)
}

// Option configures a Healer.
type Option func(*Healer)

// WithMaxRepairs overrides the repair ceiling.
func WithMaxRepairs(n int) Option {
	return func(h *Healer) { h.maxRepairs = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Healer) { h.logger = l }
}

// WithEvents registers a callback for script_generated and script_tested
// events.
func WithEvents(fn func(*types.Event)) Option {
	return func(h *Healer) { h.onEvent = fn }
}

// NewHealer creates a healer. Repaired versions are written next to the
// artifact being healed.
func NewHealer(tester Tester, repairer Repairer, s *synth.Synthesizer, opts ...Option) *Healer {
	h := &Healer{
		tester:     tester,
		repairer:   repairer,
		synth:      s,
		maxRepairs: DefaultMaxRepairs,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Heal tests a and repairs it until a version succeeds or maxRepairs
// repairs have been spent. a must already be written. On exhaustion the
// result has status FAILED, LastError holds the final failure verbatim and
// the returned error is a *types.CircuitBreakerError.
func (h *Healer) Heal(ctx context.Context, a *synth.Artifact, p Params) (*Result, error) {
	if a.Path == "" {
		return nil, fmt.Errorf("artifact %s has not been written", a.Name())
	}
	res := &Result{Artifact: a, Versions: []*synth.Artifact{a}}
	sessionID := a.SourceSession

	outcome, err := h.test(ctx, sessionID, a, p, res)
	for !(err == nil && outcome.Success) {
		if ctx.Err() != nil {
			res.Status = explorer.StatusFailed
			return res, ctx.Err()
		}
		if res.ScriptTestAttempts >= h.maxRepairs {
			res.Status = explorer.StatusFailed
			h.logger.Errorf("%s still failing after %d repairs: %s", a.Name(), res.ScriptTestAttempts, res.LastError)
			return res, &types.CircuitBreakerError{
				Breaker: types.BreakerRepairs,
				Limit:   h.maxRepairs,
				Count:   res.ScriptTestAttempts,
			}
		}
		res.ScriptTestAttempts++

		next, repairErr := h.repair(ctx, res, outcome)
		if repairErr != nil {
			res.LastError = fmt.Sprintf("repair %d failed: %v", res.ScriptTestAttempts, repairErr)
			h.logger.Warnf("%s", res.LastError)
			continue
		}
		res.Artifact = next
		res.Versions = append(res.Versions, next)
		h.emit(types.NewScriptGeneratedEvent(sessionID, next.Path, next.Version))

		outcome, err = h.test(ctx, sessionID, next, p, res)
	}

	res.Status = explorer.StatusCompleted
	res.RowCount = outcome.RowCount
	res.DataPath = outcome.DataPath
	res.LastError = ""
	h.logger.Infof("%s passed with %d rows", res.Artifact.Name(), outcome.RowCount)
	return res, nil
}

func (h *Healer) test(ctx context.Context, sessionID string, a *synth.Artifact, p Params, res *Result) (*TestOutcome, error) {
	outcome, err := h.tester.Execute(ctx, a.Path, p)
	if outcome == nil {
		outcome = &TestOutcome{ArtifactPath: a.Path, ExitCode: -1}
	}
	outcome.ArtifactVersion = a.Version
	res.Outcomes = append(res.Outcomes, outcome)

	failure := ""
	switch {
	case err != nil:
		failure = err.Error()
	case !outcome.Success:
		failure = outcome.FailureMessage()
	}
	if failure != "" {
		res.LastError = failure
	}
	h.emit(types.NewScriptTestedEvent(sessionID, a.Path, failure == "", outcome.RowCount, failure))
	return outcome, err
}

func (h *Healer) repair(ctx context.Context, res *Result, outcome *TestOutcome) (*synth.Artifact, error) {
	current := res.Artifact
	if h.repairer == nil {
		return nil, errors.New("no repairer configured")
	}

	req := RepairRequest{
		Artifact:  current,
		Source:    string(current.Source),
		LastError: res.LastError,
		Outcome:   outcome,
		Attempt:   res.ScriptTestAttempts,
	}
	if plan, err := synth.ParsePlan(current.Source); err == nil {
		req.Steps = plan.Steps
	}

	src, err := h.repairer.Repair(ctx, req)
	if err != nil {
		return nil, err
	}
	next, err := h.synth.Revise(current, src)
	if err != nil {
		return nil, err
	}

	d := Diff(string(current.Source), string(next.Source))
	if d.Unchanged {
		return nil, fmt.Errorf("repair returned %s unchanged", current.Name())
	}
	if err := synth.Write(filepath.Dir(current.Path), next); err != nil {
		return nil, err
	}
	h.logger.Infof("repaired %s -> %s (+%d/-%d chars)\n%s", current.Name(), next.Name(), d.Inserted, d.Deleted, d.Patch)
	return next, nil
}

func (h *Healer) emit(e *types.Event) {
	if h.onEvent != nil {
		h.onEvent(e)
	}
}

// RepairerFunc adapts a function to Repairer.
type RepairerFunc func(ctx context.Context, req RepairRequest) ([]byte, error)

// Repair implements Repairer.
func (f RepairerFunc) Repair(ctx context.Context, req RepairRequest) ([]byte, error) {
	return f(ctx, req)
}
