package workflow

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/oracle"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// portal is a two-page site: a search form whose submit shows the grid.
type portal struct {
	page   string
	closed bool
}

func (p *portal) Navigate(context.Context, string) error { p.page = "search"; return nil }
func (p *portal) Click(_ context.Context, sel string) error {
	if sel == "#submit" {
		p.page = "grid"
	}
	return nil
}
func (p *portal) Fill(context.Context, string, string) error { return nil }
func (p *portal) Snapshot(context.Context) (*browser.Snapshot, error) {
	return &browser.Snapshot{URL: "https://records.county.gov/" + p.page, HTML: "<html><body><p>" + p.page + "</p></body></html>"}, nil
}
func (p *portal) Evaluate(context.Context, string) (any, error) { return nil, nil }
func (p *portal) ResetContext(context.Context) error            { return nil }
func (p *portal) Close() error                                  { p.closed = true; return nil }

func portalOracle(columns []oracle.Column) oracle.Oracle {
	return oracle.OracleFunc(func(_ context.Context, req oracle.Request) (*oracle.Decision, error) {
		switch req.URL {
		case "https://records.county.gov/search":
			return &oracle.Decision{
				Classification: oracle.ClassSearchPage,
				Search:         &oracle.SearchForm{QueryInput: "#name", SubmitButton: "#submit"},
			}, nil
		case "https://records.county.gov/grid":
			return &oracle.Decision{
				Classification: oracle.ClassResultsGrid,
				Grid:           &oracle.Grid{GridSelector: "#results", Columns: columns},
			}, nil
		}
		return &oracle.Decision{Classification: oracle.ClassUnknown}, nil
	})
}

type stubTester struct {
	outcomes []*heal.TestOutcome
	n        int
}

func (s *stubTester) Execute(_ context.Context, path string, _ heal.Params) (*heal.TestOutcome, error) {
	o := s.outcomes[min(s.n, len(s.outcomes)-1)]
	s.n++
	out := *o
	out.ArtifactPath = path
	return &out, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []*types.Event
}

func (l *eventLog) add(e *types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []types.EventType {
	var out []types.EventType
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) statuses() []string {
	var out []string
	for _, e := range l.events {
		if e.Type == types.EventTypeStatus {
			out = append(out, e.Status)
		}
	}
	return out
}

var request = Request{URL: "https://records.county.gov/start", SearchQuery: "SMITH", StartDate: "01/01/2024", EndDate: "01/31/2024"}

func newPipeline(t *testing.T, drv *portal, o oracle.Oracle, tester heal.Tester, repairer heal.Repairer) *Pipeline {
	t.Helper()
	return New(Config{
		Drivers:      func(context.Context) (browser.Driver, error) { return drv, nil },
		Oracle:       o,
		Tester:       tester,
		Repairer:     repairer,
		ArtifactsDir: t.TempDir(),
		MaxRepairs:   1,
		Metrics:      metrics.MustNewMetrics(prometheus.NewRegistry()),
	})
}

func TestRunCompletes(t *testing.T) {
	drv := &portal{}
	tester := &stubTester{outcomes: []*heal.TestOutcome{{Success: true, RowCount: 9, DataPath: "out.csv"}}}
	p := newPipeline(t, drv, portalOracle([]oracle.Column{{Name: "Name", Index: 0}, {Name: "Filed", Index: 1}}), tester, nil)

	var log eventLog
	res, err := p.Run(context.Background(), request, log.add)
	require.NoError(t, err)

	assert.Equal(t, explorer.StatusCompleted, res.Status)
	assert.Equal(t, explorer.StatusCompleted, res.Session.Status)
	assert.Equal(t, 9, res.RowCount)
	assert.Equal(t, "out.csv", res.DataPath)
	assert.True(t, drv.closed)

	require.NotNil(t, res.Artifact)
	assert.Equal(t, "county_v1.yaml", res.Artifact.Name())
	_, err = os.Stat(res.Artifact.Path)
	assert.NoError(t, err)

	got := log.kinds()
	assert.Contains(t, got, types.EventTypeScriptGenerated)
	assert.Contains(t, got, types.EventTypeScriptTested)
	assert.Contains(t, log.statuses(), string(explorer.StatusScriptTested))
	last := log.events[len(log.events)-1]
	assert.Equal(t, types.EventTypeComplete, last.Type)
	assert.Equal(t, string(explorer.StatusCompleted), last.Status)
}

func TestRunStopsWhenExplorationFails(t *testing.T) {
	blocked := oracle.OracleFunc(func(context.Context, oracle.Request) (*oracle.Decision, error) {
		return &oracle.Decision{Classification: oracle.ClassBlocked}, nil
	})
	tester := &stubTester{outcomes: []*heal.TestOutcome{{Success: true}}}
	p := newPipeline(t, &portal{}, blocked, tester, nil)

	var log eventLog
	res, err := p.Run(context.Background(), request, log.add)

	assert.ErrorIs(t, err, types.ErrClassificationBlocked)
	assert.Equal(t, explorer.StatusFailed, res.Status)
	assert.Nil(t, res.Artifact)
	assert.Zero(t, tester.n)
	last, ok := res.Session.LastLog()
	require.True(t, ok)
	assert.Equal(t, err.Error(), last.Message)
	assert.Equal(t, types.EventTypeComplete, log.events[len(log.events)-1].Type)
}

func TestRunFailsWithoutColumns(t *testing.T) {
	p := newPipeline(t, &portal{}, portalOracle(nil), &stubTester{outcomes: []*heal.TestOutcome{{Success: true}}}, nil)

	res, err := p.Run(context.Background(), request, nil)
	assert.ErrorIs(t, err, types.ErrSynthesis)
	assert.Equal(t, explorer.StatusFailed, res.Status)
}

func TestRunFailsAfterRepairsExhausted(t *testing.T) {
	tester := &stubTester{outcomes: []*heal.TestOutcome{{ExitCode: 1, Stderr: "grid not found"}}}
	repairer := heal.RepairerFunc(func(_ context.Context, req heal.RepairRequest) ([]byte, error) {
		plan, err := synth.ParsePlan([]byte(req.Source))
		if err != nil {
			return nil, err
		}
		plan.Grid.RowSelector = "tbody tr"
		return synth.Render(plan)
	})
	p := newPipeline(t, &portal{}, portalOracle([]oracle.Column{{Name: "Name", Index: 0}}), tester, repairer)

	var log eventLog
	res, err := p.Run(context.Background(), request, log.add)
	assert.ErrorIs(t, err, types.ErrCircuitBreakerTripped)
	assert.Equal(t, explorer.StatusFailed, res.Status)
	assert.NotContains(t, log.statuses(), string(explorer.StatusScriptTested))
	for _, entry := range res.Session.Log {
		assert.NotContains(t, entry.Message, string(explorer.StatusScriptTested))
	}
	require.NotNil(t, res.Heal)
	assert.Equal(t, 1, res.Heal.ScriptTestAttempts)
	assert.Equal(t, "exit status 1: grid not found", res.Heal.LastError)
	assert.Equal(t, 2, res.Artifact.Version)
}

func TestRunValidatesRequest(t *testing.T) {
	p := newPipeline(t, &portal{}, portalOracle(nil), &stubTester{}, nil)

	_, err := p.Run(context.Background(), Request{URL: "https://x"}, nil)
	assert.Error(t, err)
}

func TestRunReportsDriverFactoryError(t *testing.T) {
	p := New(Config{
		Drivers: func(context.Context) (browser.Driver, error) { return nil, errors.New("no chromium") },
		Oracle:  portalOracle(nil),
	})
	res, err := p.Run(context.Background(), request, nil)
	assert.ErrorContains(t, err, "no chromium")
	assert.Equal(t, explorer.StatusFailed, res.Status)
}
