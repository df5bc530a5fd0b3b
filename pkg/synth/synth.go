// Package synth compiles a finished exploration session into a replayable
// artifact and manages artifact versions on disk.
package synth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/recorder"
	"github.com/entrhq/gridscout/pkg/types"
)

// Post-click waits are clamped to this window.
const (
	MinPostClickWait = 2 * time.Second
	MaxPostClickWait = 5 * time.Second
)

// Parameters are the search arguments an artifact was generated with.
type Parameters struct {
	SearchQuery string `json:"search_query"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// Artifact is one immutable version of a compiled replay plan.
type Artifact struct {
	Path          string
	Site          string
	Version       int
	SourceSession string
	CreatedAt     time.Time
	Parameters    Parameters
	Source        []byte
	Checksum      string
}

// Name returns the artifact file name.
func (a *Artifact) Name() string {
	return FileName(a.Site, a.Version)
}

// Input is everything the synthesizer needs from a session.
type Input struct {
	SessionID  string
	TargetURL  string
	Steps      []recorder.Action
	Columns    []explorer.Column
	Grid       explorer.GridInfo
	Parameters Parameters
}

// InputFromSession collects synthesis input from a session that reached
// COLUMNS_CAPTURED.
func InputFromSession(s *explorer.Session) Input {
	return Input{
		SessionID: s.ID,
		TargetURL: s.TargetURL,
		Steps:     s.Recorder.Actions(),
		Columns:   s.Columns.Columns(),
		Grid:      s.Grid,
		Parameters: Parameters{
			SearchQuery: s.SearchQuery,
			StartDate:   s.DateRange.Start,
			EndDate:     s.DateRange.End,
		},
	}
}

// Options tunes rendered timeouts.
type Options struct {
	PostClickWait     time.Duration
	GridTimeout       time.Duration
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	ViewportWidth     int
	ViewportHeight    int
}

func (o *Options) setDefaults() {
	if o.PostClickWait == 0 {
		o.PostClickWait = 3 * time.Second
	}
	if o.PostClickWait < MinPostClickWait {
		o.PostClickWait = MinPostClickWait
	}
	if o.PostClickWait > MaxPostClickWait {
		o.PostClickWait = MaxPostClickWait
	}
	if o.GridTimeout <= 0 {
		o.GridTimeout = 15 * time.Second
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 30 * time.Second
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = 10 * time.Second
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1280
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 720
	}
}

// Synthesizer renders replay plans. It holds no per-call state.
type Synthesizer struct {
	opts Options
	now  func() time.Time
}

// New creates a synthesizer.
func New(opts Options) *Synthesizer {
	opts.setDefaults()
	return &Synthesizer{opts: opts, now: time.Now}
}

// Synthesize compiles in into a version 1 artifact. The artifact is not
// written; call Write to persist it.
func (s *Synthesizer) Synthesize(in Input) (*Artifact, error) {
	if len(in.Steps) == 0 {
		return nil, &types.SynthesisError{Reason: "no recorded steps"}
	}
	if len(in.Columns) == 0 {
		return nil, &types.SynthesisError{Reason: "no captured columns"}
	}

	plan, err := s.buildPlan(in)
	if err != nil {
		return nil, err
	}
	src, err := Render(plan)
	if err != nil {
		return nil, &types.SynthesisError{Reason: "render failed", Err: err}
	}

	return &Artifact{
		Site:          plan.Site,
		Version:       1,
		SourceSession: in.SessionID,
		CreatedAt:     s.now(),
		Parameters:    in.Parameters,
		Source:        src,
		Checksum:      checksum(src),
	}, nil
}

func (s *Synthesizer) buildPlan(in Input) (*Plan, error) {
	target := in.TargetURL
	if target == "" && in.Steps[0].Kind == recorder.KindNavigate {
		target = in.Steps[0].Target
	}

	plan := &Plan{
		Site:      SiteName(target),
		TargetURL: target,
		Context: ContextSetup{
			Fresh:               true,
			ViewportWidth:       s.opts.ViewportWidth,
			ViewportHeight:      s.opts.ViewportHeight,
			NavigationTimeoutMS: int(s.opts.NavigationTimeout.Milliseconds()),
			ElementTimeoutMS:    int(s.opts.ElementTimeout.Milliseconds()),
		},
	}

	if in.Steps[0].Kind != recorder.KindNavigate {
		if target == "" {
			return nil, &types.SynthesisError{Reason: "steps do not start with a navigation and no target URL is known"}
		}
		plan.Steps = append(plan.Steps, Step{Action: string(recorder.KindNavigate), Target: target})
	}

	wait := int(s.opts.PostClickWait.Milliseconds())
	for _, a := range in.Steps {
		step := Step{
			Action:      string(a.Kind),
			Target:      a.Target,
			Value:       a.Value,
			Description: a.Description,
		}
		if a.Kind == recorder.KindClick {
			step.WaitAfterMS = wait
		}
		plan.Steps = append(plan.Steps, step)
	}

	fallbacks := in.Grid.FallbackSelectors
	plan.Grid = GridSpec{
		Selectors:       browser.MergeSelectors([]string{in.Grid.GridSelector}, fallbacks, browser.KnownGridSelectors),
		RowSelector:     in.Grid.RowSelector,
		FirstDataColumn: in.Grid.FirstDataColumn,
		TimeoutMS:       int(s.opts.GridTimeout.Milliseconds()),
	}
	if plan.Grid.RowSelector == "" {
		plan.Grid.RowSelector = "tr"
	}

	for _, c := range in.Columns {
		plan.Output.Columns = append(plan.Output.Columns, OutputColumn{Name: c.Name, Index: c.Index})
	}
	plan.Output.Formats = []string{"json", "csv"}
	return plan, nil
}

// Render produces the artifact source for plan.
func Render(plan *Plan) ([]byte, error) {
	var buf bytes.Buffer
	if err := planTemplate.Execute(&buf, plan); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Revise returns the next version of prev with source replaced. The source
// must parse as a valid plan.
func (s *Synthesizer) Revise(prev *Artifact, source []byte) (*Artifact, error) {
	if _, err := ParsePlan(source); err != nil {
		return nil, &types.SynthesisError{Reason: "revised plan is invalid", Err: err}
	}
	return &Artifact{
		Site:          prev.Site,
		Version:       prev.Version + 1,
		SourceSession: prev.SourceSession,
		CreatedAt:     s.now(),
		Parameters:    prev.Parameters,
		Source:        append([]byte(nil), source...),
		Checksum:      checksum(source),
	}, nil
}

// Write persists a into dir as <site>_v<version>.yaml and sets a.Path.
// Existing versions are never overwritten.
func Write(dir string, a *Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	path := filepath.Join(dir, a.Name())
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("artifact %s already exists", path)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(a.Source); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	a.Path = path
	return nil
}

var fileNameRe = regexp.MustCompile(`^(.+)_v(\d+)\.yaml$`)

// Load reads an artifact from path. Site and version come from the file
// name when it follows the <site>_v<version>.yaml convention.
func Load(path string) (*Artifact, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	a := &Artifact{
		Path:     path,
		Version:  1,
		Source:   src,
		Checksum: checksum(src),
	}
	if info, err := os.Stat(path); err == nil {
		a.CreatedAt = info.ModTime()
	}
	base := filepath.Base(path)
	if m := fileNameRe.FindStringSubmatch(base); m != nil {
		a.Site = m[1]
		if v, err := strconv.Atoi(m[2]); err == nil {
			a.Version = v
		}
	} else {
		a.Site = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return a, nil
}

// FileName returns the file name for a site and version.
func FileName(site string, version int) string {
	return fmt.Sprintf("%s_v%d.yaml", site, version)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SiteName derives a short identifier from a URL: the registrable label of
// the host, so "https://vaclmweb1.brevardclerk.us/x" gives "brevardclerk".
func SiteName(raw string) string {
	u, err := url.Parse(raw)
	host := ""
	if err == nil {
		host = u.Hostname()
	}
	if host == "" {
		host = raw
	}
	if net.ParseIP(host) != nil {
		return strings.Trim(nonAlnum.ReplaceAllString(host, "_"), "_")
	}
	labels := strings.Split(strings.ToLower(host), ".")
	name := labels[0]
	if len(labels) >= 2 {
		name = labels[len(labels)-2]
	}
	name = strings.Trim(nonAlnum.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return "site"
	}
	return name
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
