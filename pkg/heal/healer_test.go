package heal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/recorder"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTester returns queued outcomes in order, then repeats the last.
type scriptedTester struct {
	outcomes []*TestOutcome
	errs     []error
	paths    []string
}

func (s *scriptedTester) Execute(_ context.Context, path string, _ Params) (*TestOutcome, error) {
	i := len(s.paths)
	s.paths = append(s.paths, path)
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	o := *s.outcomes[i]
	o.ArtifactPath = path
	return &o, err
}

func fail(msg string) *TestOutcome {
	return &TestOutcome{ExitCode: 1, Stderr: msg}
}

func pass(rows int) *TestOutcome {
	return &TestOutcome{Success: true, RowCount: rows, DataPath: "out.csv"}
}

// rowSelectorRepairer changes the row selector on every call.
type rowSelectorRepairer struct {
	requests []RepairRequest
	err      error
}

func (r *rowSelectorRepairer) Repair(_ context.Context, req RepairRequest) ([]byte, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	plan, err := synth.ParsePlan([]byte(req.Source))
	if err != nil {
		return nil, err
	}
	plan.Grid.RowSelector = fmt.Sprintf("tr.attempt-%d", req.Attempt)
	return synth.Render(plan)
}

func writtenArtifact(t *testing.T) (*synth.Synthesizer, *synth.Artifact) {
	t.Helper()
	s := synth.New(synth.Options{})
	a, err := s.Synthesize(synth.Input{
		SessionID: "sess-1",
		TargetURL: "https://records.county.gov/search",
		Steps: []recorder.Action{
			{Kind: recorder.KindNavigate, Target: "https://records.county.gov/search"},
			{Kind: recorder.KindFill, Target: "#name", Value: recorder.PlaceholderSearchTerm},
			{Kind: recorder.KindClick, Target: "#submit"},
		},
		Columns: []explorer.Column{{Name: "Name", Index: 0}},
		Grid:    explorer.GridInfo{GridSelector: "#results", RowSelector: "tr"},
	})
	require.NoError(t, err)
	require.NoError(t, synth.Write(t.TempDir(), a))
	return s, a
}

func TestHealPassesFirstTime(t *testing.T) {
	s, a := writtenArtifact(t)
	tester := &scriptedTester{outcomes: []*TestOutcome{pass(7)}}
	repairer := &rowSelectorRepairer{}

	res, err := NewHealer(tester, repairer, s).Heal(context.Background(), a, params)
	require.NoError(t, err)

	assert.Equal(t, explorer.StatusCompleted, res.Status)
	assert.Equal(t, 0, res.ScriptTestAttempts)
	assert.Equal(t, 7, res.RowCount)
	assert.Empty(t, res.LastError)
	assert.Same(t, a, res.Artifact)
	assert.Empty(t, repairer.requests)
}

func TestHealRepairsUntilPass(t *testing.T) {
	s, a := writtenArtifact(t)
	tester := &scriptedTester{outcomes: []*TestOutcome{fail("grid missing"), fail("rows empty"), pass(4)}}
	repairer := &rowSelectorRepairer{}

	res, err := NewHealer(tester, repairer, s).Heal(context.Background(), a, params)
	require.NoError(t, err)

	assert.Equal(t, explorer.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.ScriptTestAttempts)
	assert.Equal(t, 3, res.Artifact.Version)
	assert.Len(t, res.Versions, 3)
	assert.Equal(t, 4, res.RowCount)

	require.Len(t, repairer.requests, 2)
	assert.Equal(t, "exit status 1: grid missing", repairer.requests[0].LastError)
	assert.Equal(t, "exit status 1: rows empty", repairer.requests[1].LastError)
	assert.Len(t, repairer.requests[0].Steps, 3)

	for _, v := range res.Versions {
		_, err := os.Stat(v.Path)
		assert.NoError(t, err, v.Path)
	}
	assert.Equal(t, []string{res.Versions[0].Path, res.Versions[1].Path, res.Versions[2].Path}, tester.paths)
}

func TestHealGivesUpAfterMaxRepairs(t *testing.T) {
	s, a := writtenArtifact(t)
	tester := &scriptedTester{outcomes: []*TestOutcome{fail("one"), fail("two"), fail("three"), fail("four")}}
	repairer := &rowSelectorRepairer{}

	res, err := NewHealer(tester, repairer, s).Heal(context.Background(), a, params)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCircuitBreakerTripped)
	var cbe *types.CircuitBreakerError
	require.True(t, errors.As(err, &cbe))
	assert.Equal(t, types.BreakerRepairs, cbe.Breaker)

	assert.Equal(t, explorer.StatusFailed, res.Status)
	assert.Equal(t, 3, res.ScriptTestAttempts)
	assert.Len(t, repairer.requests, 3)
	assert.Len(t, res.Outcomes, 4)
	assert.Equal(t, "exit status 1: four", res.LastError)
	assert.Equal(t, 4, res.Artifact.Version)
}

func TestHealCountsFailedRepairs(t *testing.T) {
	s, a := writtenArtifact(t)
	tester := &scriptedTester{outcomes: []*TestOutcome{fail("broken")}}
	repairer := &rowSelectorRepairer{err: errors.New("model unavailable")}

	res, err := NewHealer(tester, repairer, s).Heal(context.Background(), a, params)

	assert.ErrorIs(t, err, types.ErrCircuitBreakerTripped)
	assert.Equal(t, explorer.StatusFailed, res.Status)
	assert.Equal(t, 3, res.ScriptTestAttempts)
	assert.Len(t, tester.paths, 1)
	assert.Equal(t, "repair 3 failed: model unavailable", res.LastError)
}

func TestHealTreatsTimeoutAsFailure(t *testing.T) {
	s, a := writtenArtifact(t)
	timeout := fmt.Errorf("%w: artifact after 3m0s", types.ErrExecutionTimeout)
	tester := &scriptedTester{
		outcomes: []*TestOutcome{{TimedOut: true, ExitCode: -1}, pass(1)},
		errs:     []error{timeout},
	}
	repairer := &rowSelectorRepairer{}

	res, err := NewHealer(tester, repairer, s).Heal(context.Background(), a, params)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ScriptTestAttempts)
	require.Len(t, repairer.requests, 1)
	assert.Equal(t, timeout.Error(), repairer.requests[0].LastError)
}

func TestHealEmitsEvents(t *testing.T) {
	s, a := writtenArtifact(t)
	tester := &scriptedTester{outcomes: []*TestOutcome{fail("x"), pass(2)}}

	var mu sync.Mutex
	var events []*types.Event
	h := NewHealer(tester, &rowSelectorRepairer{}, s, WithEvents(func(e *types.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))
	_, err := h.Heal(context.Background(), a, params)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, types.EventTypeScriptTested, events[0].Type)
	assert.False(t, *events[0].Success)
	assert.Equal(t, types.EventTypeScriptGenerated, events[1].Type)
	assert.Equal(t, 2, events[1].Version)
	assert.Equal(t, types.EventTypeScriptTested, events[2].Type)
	assert.True(t, *events[2].Success)
	assert.Equal(t, "sess-1", events[2].SessionID)
}

func TestHealRejectsUnchangedRepair(t *testing.T) {
	s, a := writtenArtifact(t)
	tester := &scriptedTester{outcomes: []*TestOutcome{fail("x")}}
	same := RepairerFunc(func(_ context.Context, req RepairRequest) ([]byte, error) {
		return []byte(req.Source), nil
	})

	res, err := NewHealer(tester, same, s, WithMaxRepairs(1)).Heal(context.Background(), a, params)
	assert.Error(t, err)
	assert.Contains(t, res.LastError, "unchanged")
}

func TestHealRequiresWrittenArtifact(t *testing.T) {
	s := synth.New(synth.Options{})
	_, err := NewHealer(&scriptedTester{}, nil, s).Heal(context.Background(), &synth.Artifact{Site: "x", Version: 1}, params)
	assert.Error(t, err)
}
