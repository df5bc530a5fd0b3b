// Package heal tests compiled artifacts in a subprocess and repairs them
// until they run or the repair budget is spent.
package heal

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/types"
)

// DefaultTimeout bounds one artifact execution.
const DefaultTimeout = 180 * time.Second

// DataDirEnv tells the replay runtime where to write its output.
const DataDirEnv = "GRIDSCOUT_DATA_DIR"

var (
	rowCountPattern = regexp.MustCompile(`(?i)(?:Extracted|Found|Saved|Saving)\s+(\d+)\s+(?:rows|records|items)`)
	dataPattern     = regexp.MustCompile(`(?m)^DATA:\s*(\S.*?)\s*$`)
	savedToPattern  = regexp.MustCompile(`(?i)saved to\s+(\S+\.(?:csv|json))`)
	noResultsLine   = regexp.MustCompile(`(?i)NO_RESULTS|no (records|results) found`)
)

// Params are the positional search arguments passed to an artifact.
type Params struct {
	SearchQuery string `json:"search_query"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// TestOutcome is the result of one artifact execution.
type TestOutcome struct {
	Success         bool          `json:"success"`
	NoResults       bool          `json:"no_results,omitempty"`
	RowCount        int           `json:"row_count"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	ExitCode        int           `json:"exit_code"`
	DataPath        string        `json:"data_path,omitempty"`
	Duration        time.Duration `json:"duration"`
	TimedOut        bool          `json:"timed_out,omitempty"`
	ArtifactPath    string        `json:"artifact_path"`
	ArtifactVersion int           `json:"artifact_version,omitempty"`
}

// FailureMessage describes why the execution failed, preferring the
// subprocess's own last words.
func (o *TestOutcome) FailureMessage() string {
	if o.Success {
		return ""
	}
	if o.TimedOut {
		return fmt.Sprintf("execution timed out after %s", o.Duration.Round(time.Second))
	}
	detail := lastLines(o.Stderr, 5)
	if detail == "" {
		detail = lastLines(o.Stdout, 5)
	}
	if o.ExitCode != 0 {
		if detail == "" {
			return fmt.Sprintf("exit status %d", o.ExitCode)
		}
		return fmt.Sprintf("exit status %d: %s", o.ExitCode, detail)
	}
	if detail == "" {
		return "no success marker in output"
	}
	return "no success marker in output: " + detail
}

func lastLines(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Command is the launcher prefix. The artifact path and the three
	// search arguments are appended. Empty means "<self> replay".
	Command []string
	Timeout time.Duration
	DataDir string
	Logger  *logging.Logger
}

// Executor runs artifacts as subprocesses.
type Executor struct {
	command []string
	timeout time.Duration
	dataDir string
	logger  *logging.Logger
}

// NewExecutor creates an executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	e := &Executor{
		command: opts.Command,
		timeout: opts.Timeout,
		dataDir: opts.DataDir,
		logger:  opts.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if len(e.command) == 0 {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		e.command = []string{self, "replay"}
	}
	return e, nil
}

// Execute runs the artifact at path with p. A non-zero exit or a missing
// success marker yields an unsuccessful outcome and a nil error. A timeout
// yields an outcome with TimedOut set and an error wrapping
// types.ErrExecutionTimeout.
func (e *Executor) Execute(ctx context.Context, path string, p Params) (*TestOutcome, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append(append([]string(nil), e.command[1:]...), path, p.SearchQuery, p.StartDate, p.EndDate)
	cmd := exec.CommandContext(execCtx, e.command[0], args...)
	cmd.Env = os.Environ()
	if e.dataDir != "" {
		cmd.Env = append(cmd.Env, DataDirEnv+"="+e.dataDir)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	e.logger.Infof("executing %s", filepath.Base(path))
	runErr := cmd.Run()

	outcome := &TestOutcome{
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		Duration:     time.Since(started),
		ArtifactPath: path,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			outcome.TimedOut = true
			outcome.ExitCode = -1
			e.logger.Warnf("%s timed out after %s", filepath.Base(path), e.timeout)
			return outcome, fmt.Errorf("%w: %s after %s", types.ErrExecutionTimeout, filepath.Base(path), e.timeout)
		case ctx.Err() != nil:
			outcome.ExitCode = -1
			return outcome, ctx.Err()
		case errors.As(runErr, &exitErr):
			outcome.ExitCode = exitErr.ExitCode()
		default:
			return outcome, fmt.Errorf("failed to run artifact: %w", runErr)
		}
	}

	e.parseOutput(outcome, started)
	e.logger.Infof("%s finished: success=%t rows=%d exit=%d", filepath.Base(path), outcome.Success, outcome.RowCount, outcome.ExitCode)
	return outcome, nil
}

func (e *Executor) parseOutput(o *TestOutcome, started time.Time) {
	upper := strings.ToUpper(o.Stdout)
	o.NoResults = noResultsLine.MatchString(o.Stdout)
	marked := strings.Contains(upper, "SUCCESS") || strings.Contains(upper, "[OK]") || o.NoResults
	o.Success = o.ExitCode == 0 && marked

	if m := rowCountPattern.FindAllStringSubmatch(o.Stdout, -1); len(m) > 0 {
		o.RowCount, _ = strconv.Atoi(m[len(m)-1][1])
	}

	if m := dataPattern.FindStringSubmatch(o.Stdout); m != nil {
		o.DataPath = m[1]
	} else if m := savedToPattern.FindStringSubmatch(o.Stdout); m != nil {
		o.DataPath = m[1]
	} else if o.Success && !o.NoResults {
		o.DataPath = newestDataFile(e.dataDir, started)
	}

	if o.DataPath != "" {
		if n, err := countRecords(o.DataPath); err == nil {
			o.RowCount = n
		}
	}
}

// newestDataFile returns the most recently written CSV or JSON file in
// dir that is not older than since.
func newestDataFile(dir string, since time.Time) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTime time.Time
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".csv" && ext != ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(since.Add(-time.Second)) {
			continue
		}
		// Prefer CSV when both formats share a timestamp.
		if info.ModTime().After(bestTime) || (info.ModTime().Equal(bestTime) && ext == ".csv") {
			best = filepath.Join(dir, entry.Name())
			bestTime = info.ModTime()
		}
	}
	return best
}

// countRecords counts data rows in a CSV (minus its header) or the
// elements of a JSON array.
func countRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, nil
		}
		return len(rows) - 1, nil
	case ".json":
		var records []json.RawMessage
		if err := json.NewDecoder(f).Decode(&records); err != nil {
			return 0, err
		}
		return len(records), nil
	}
	return 0, fmt.Errorf("unsupported data file %s", path)
}

// ReadRecords loads the rows of a CSV data file as header-keyed maps, up
// to limit rows (0 means all).
func ReadRecords(path string, limit int) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	var out []map[string]string
	for limit <= 0 || len(out) < limit {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rec := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
