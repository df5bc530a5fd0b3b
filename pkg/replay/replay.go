// Package replay is the runtime for compiled artifacts. It executes a plan
// against a fresh browser context and writes the extracted records.
package replay

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/recorder"
	"github.com/entrhq/gridscout/pkg/synth"
)

// Markers printed on stdout for the executor.
const (
	SuccessMarker   = "SUCCESS"
	NoResultsMarker = "NO_RESULTS"
	DataMarker      = "DATA:"
)

// probeTimeout bounds the wait for each grid fallback after the first.
const probeTimeout = time.Second

var noResultsPattern = regexp.MustCompile(`(?i)no (records|results|matches|documents)( were)? found|returned no results|0 records found`)

// ErrGridNotFound is returned when no grid selector became visible and the
// page does not report an empty result.
var ErrGridNotFound = errors.New("results grid not found")

// Args are the positional replay arguments.
type Args struct {
	SearchTerm string
	StartDate  string
	EndDate    string
}

func (a Args) substitute(v string) string {
	return strings.NewReplacer(
		recorder.PlaceholderSearchTerm, a.SearchTerm,
		recorder.PlaceholderStartDate, a.StartDate,
		recorder.PlaceholderEndDate, a.EndDate,
	).Replace(v)
}

// Result summarizes one replay.
type Result struct {
	Columns      []string
	Records      [][]string
	NoResults    bool
	GridSelector string
	JSONPath     string
	CSVPath      string
}

// RowCount returns the number of extracted records.
func (r *Result) RowCount() int {
	return len(r.Records)
}

// Runner replays plans on a browser.
type Runner struct {
	driver  browser.GridReader
	dataDir string
	out     io.Writer
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput sets where result markers are printed.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithLogger sets the runner's logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a runner that writes data files into dataDir.
func New(driver browser.GridReader, dataDir string, opts ...Option) *Runner {
	r := &Runner{
		driver:  driver,
		dataDir: dataDir,
		out:     os.Stdout,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunFile loads the plan at path and replays it.
func (r *Runner) RunFile(ctx context.Context, path string, args Args) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	plan, err := synth.ParsePlan(src)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, plan, args)
}

// Run executes plan and writes its records. Markers are printed only on
// success so a failing replay never looks successful to the executor.
func (r *Runner) Run(ctx context.Context, plan *synth.Plan, args Args) (*Result, error) {
	if plan.Context.Fresh {
		if err := r.driver.ResetContext(ctx); err != nil {
			return nil, err
		}
	}

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.runStep(ctx, step, args); err != nil {
			return nil, fmt.Errorf("step %d (%s %s): %w", i+1, step.Action, step.Target, err)
		}
	}

	res := &Result{}
	for _, c := range plan.Output.Columns {
		res.Columns = append(res.Columns, c.Name)
	}

	grid, err := r.findGrid(ctx, plan.Grid)
	if err != nil {
		if !r.pageReportsNoResults(ctx) {
			return nil, err
		}
		r.logger.Infof("site reported no results for %q", args.SearchTerm)
		res.NoResults = true
		fmt.Fprintf(r.out, "%s: no records matched the search\n", NoResultsMarker)
		fmt.Fprintf(r.out, "%s: Extracted 0 rows\n", SuccessMarker)
		return res, nil
	}
	res.GridSelector = grid

	rows, err := r.driver.TableRows(ctx, grid, plan.Grid.RowSelector)
	if err != nil {
		return nil, err
	}
	res.Records = extractRecords(rows, plan.Grid.FirstDataColumn, plan.Output.Columns)
	r.logger.Infof("extracted %d records from %s", len(res.Records), grid)

	if err := r.writeOutputs(plan.Site, res); err != nil {
		return nil, err
	}
	fmt.Fprintf(r.out, "%s: Extracted %d rows\n", SuccessMarker, len(res.Records))
	fmt.Fprintf(r.out, "%s %s\n", DataMarker, res.CSVPath)
	return res, nil
}

func (r *Runner) runStep(ctx context.Context, step synth.Step, args Args) error {
	target := args.substitute(step.Target)
	var err error
	switch recorder.Kind(step.Action) {
	case recorder.KindNavigate:
		err = r.driver.Navigate(ctx, target)
	case recorder.KindClick:
		err = r.driver.Click(ctx, target)
	case recorder.KindFill:
		err = r.driver.Fill(ctx, target, args.substitute(step.Value))
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		return err
	}
	if step.WaitAfterMS > 0 {
		return r.driver.Pause(ctx, time.Duration(step.WaitAfterMS)*time.Millisecond)
	}
	return nil
}

// findGrid returns the first selector that becomes visible. The first
// selector gets the full grid timeout; fallbacks get a short probe.
func (r *Runner) findGrid(ctx context.Context, spec synth.GridSpec) (string, error) {
	timeout := time.Duration(spec.TimeoutMS) * time.Millisecond
	for i, sel := range spec.Selectors {
		wait := timeout
		if i > 0 {
			wait = probeTimeout
		}
		if err := r.driver.WaitVisible(ctx, sel, wait); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Debugf("grid selector %s not visible: %v", sel, err)
			continue
		}
		return sel, nil
	}
	return "", fmt.Errorf("%w: tried %d selectors", ErrGridNotFound, len(spec.Selectors))
}

func (r *Runner) pageReportsNoResults(ctx context.Context) bool {
	snap, err := r.driver.Snapshot(ctx)
	if err != nil {
		return false
	}
	text := snap.Text
	if text == "" {
		text = snap.HTML
	}
	return noResultsPattern.MatchString(text)
}

// extractRecords maps table rows to records. Rows with no cells past
// firstDataColumn are header or pager rows and are skipped, as are rows
// whose mapped cells are all blank.
func extractRecords(rows [][]string, firstDataColumn int, columns []synth.OutputColumn) [][]string {
	var out [][]string
	for _, cells := range rows {
		if len(cells) <= firstDataColumn {
			continue
		}
		record := make([]string, len(columns))
		blank := true
		for i, c := range columns {
			if c.Index < firstDataColumn || c.Index >= len(cells) {
				continue
			}
			record[i] = strings.Join(strings.Fields(cells[c.Index]), " ")
			if record[i] != "" {
				blank = false
			}
		}
		if !blank {
			out = append(out, record)
		}
	}
	return out
}

func (r *Runner) writeOutputs(site string, res *Result) error {
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	base := filepath.Join(r.dataDir, fmt.Sprintf("%s_%s", site, r.now().Format("20060102_150405.000000000")))
	res.JSONPath = base + ".json"
	res.CSVPath = base + ".csv"

	objects := make([]map[string]string, 0, len(res.Records))
	for _, rec := range res.Records {
		obj := make(map[string]string, len(res.Columns))
		for i, name := range res.Columns {
			obj[name] = rec[i]
		}
		objects = append(objects, obj)
	}
	data, err := json.MarshalIndent(objects, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := os.WriteFile(res.JSONPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", res.JSONPath, err)
	}

	f, err := os.Create(res.CSVPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", res.CSVPath, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(res.Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(res.Records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return f.Close()
}
