// Package workflow composes exploration, synthesis and healing into one
// run per target site.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/oracle"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/entrhq/gridscout/pkg/types"
)

// DriverFactory opens a browser driver for one session.
type DriverFactory func(ctx context.Context) (browser.Driver, error)

// Request starts a pipeline run.
type Request struct {
	URL         string `json:"url"`
	SearchQuery string `json:"search_query"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// Validate checks the request.
func (r Request) Validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	if r.SearchQuery == "" {
		return errors.New("search_query is required")
	}
	return nil
}

// Result is the outcome of a pipeline run.
type Result struct {
	SessionID string
	Status    explorer.Status
	Session   *explorer.Session
	Artifact  *synth.Artifact
	Heal      *heal.Result
	RowCount  int
	DataPath  string
	Err       error
}

// Config holds the pipeline collaborators.
type Config struct {
	Drivers      DriverFactory
	Oracle       oracle.Oracle
	Synthesizer  *synth.Synthesizer
	Tester       heal.Tester
	Repairer     heal.Repairer
	ArtifactsDir string
	Limits       explorer.Limits
	MaxRepairs   int
	Explorer     []explorer.Option
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
}

// Pipeline runs sessions. It is safe for concurrent use; every Run gets its
// own driver, session and healer.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Limits == (explorer.Limits{}) {
		cfg.Limits = explorer.DefaultLimits()
	}
	if cfg.MaxRepairs == 0 {
		cfg.MaxRepairs = heal.DefaultMaxRepairs
	}
	if cfg.Synthesizer == nil {
		cfg.Synthesizer = synth.New(synth.Options{})
	}
	return &Pipeline{cfg: cfg}
}

// Run explores req.URL, compiles an artifact and heals it. Events go to
// emit, which may be nil. The result is always non-nil.
func (p *Pipeline) Run(ctx context.Context, req Request, emit func(*types.Event)) (*Result, error) {
	if emit == nil {
		emit = func(*types.Event) {}
	}
	observe := func(e *types.Event) {
		if e.Type == types.EventTypeScriptTested && e.Success != nil {
			p.cfg.Metrics.ObserveScriptTest(*e.Success)
		}
		emit(e)
	}

	res := &Result{Status: explorer.StatusFailed}
	if err := req.Validate(); err != nil {
		res.Err = err
		return res, err
	}

	session, err := p.explore(ctx, req, observe)
	res.Session = session
	if session != nil {
		res.SessionID = session.ID
		res.Status = session.Status
	}
	if err != nil {
		return p.finish(res, observe, err)
	}

	artifact, err := p.cfg.Synthesizer.Synthesize(synth.InputFromSession(session))
	if err == nil {
		err = synth.Write(p.cfg.ArtifactsDir, artifact)
	}
	if err != nil {
		p.transition(res, explorer.StatusFailed, "", observe)
		return p.finish(res, observe, err)
	}
	res.Artifact = artifact
	p.transition(res, explorer.StatusScriptGenerated, "wrote "+artifact.Path, observe)
	observe(types.NewScriptGeneratedEvent(res.SessionID, artifact.Path, artifact.Version))

	healer := heal.NewHealer(p.cfg.Tester, p.cfg.Repairer, p.cfg.Synthesizer,
		heal.WithMaxRepairs(p.cfg.MaxRepairs),
		heal.WithLogger(p.cfg.Logger.With("heal")),
		heal.WithEvents(observe),
	)
	params := heal.Params{SearchQuery: req.SearchQuery, StartDate: req.StartDate, EndDate: req.EndDate}
	healed, err := healer.Heal(ctx, artifact, params)
	res.Heal = healed
	if healed != nil {
		res.Artifact = healed.Artifact
		res.RowCount = healed.RowCount
		res.DataPath = healed.DataPath
	}
	if err != nil {
		if healed != nil && healed.LastError != "" {
			session.Logf("ERROR", "%s", healed.LastError)
		}
		p.transition(res, explorer.StatusFailed, "", observe)
		return p.finish(res, observe, err)
	}
	p.transition(res, explorer.StatusScriptTested, fmt.Sprintf("%d test runs", len(healed.Outcomes)), observe)

	p.transition(res, explorer.StatusCompleted, fmt.Sprintf("%s extracted %d rows", res.Artifact.Name(), res.RowCount), observe)
	return p.finish(res, observe, nil)
}

// explore runs the exploration stage. The browser is closed before
// healing starts, since replays open their own.
func (p *Pipeline) explore(ctx context.Context, req Request, emit func(*types.Event)) (*explorer.Session, error) {
	if p.cfg.Drivers == nil {
		return nil, errors.New("no browser driver configured")
	}
	driver, err := p.cfg.Drivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil {
			p.cfg.Logger.Warnf("failed to close browser: %v", cerr)
		}
	}()

	opts := append([]explorer.Option{
		explorer.WithLimits(p.cfg.Limits),
		explorer.WithLogger(p.cfg.Logger.With("explorer")),
		explorer.WithEvents(emit),
	}, p.cfg.Explorer...)
	return explorer.New(driver, p.cfg.Oracle, opts...).Run(ctx, explorer.Request{
		URL:         req.URL,
		SearchQuery: req.SearchQuery,
		DateRange:   explorer.DateRange{Start: req.StartDate, End: req.EndDate},
	})
}

func (p *Pipeline) transition(res *Result, status explorer.Status, message string, emit func(*types.Event)) {
	res.Status = status
	if res.Session == nil {
		return
	}
	res.Session.Status = status
	if message == "" {
		return
	}
	res.Session.Logf("INFO", "%s: %s", status, message)
	emit(types.NewStatusEvent(res.SessionID, string(status), message))
}

func (p *Pipeline) finish(res *Result, emit func(*types.Event), err error) (*Result, error) {
	res.Err = err
	message := "done"
	if err != nil {
		message = err.Error()
		if res.Session != nil {
			if last, ok := res.Session.LastLog(); !ok || last.Message != message {
				res.Session.Logf("ERROR", "%s", message)
			}
		}
		p.cfg.Logger.Errorf("session %s ended %s: %v", res.SessionID, res.Status, err)
	} else {
		p.cfg.Logger.Infof("session %s completed with %d rows", res.SessionID, res.RowCount)
	}
	p.cfg.Metrics.ObserveSession(string(res.Status))
	emit(types.NewCompleteEvent(res.SessionID, string(res.Status), message))
	return res, err
}
