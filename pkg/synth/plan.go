package synth

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan is the replay program stored in an artifact.
type Plan struct {
	Site      string       `yaml:"site"`
	TargetURL string       `yaml:"target_url"`
	Context   ContextSetup `yaml:"context"`
	Steps     []Step       `yaml:"steps"`
	Grid      GridSpec     `yaml:"grid"`
	Output    OutputSpec   `yaml:"output"`
}

// ContextSetup configures the fresh browser context a replay runs in.
type ContextSetup struct {
	Fresh               bool `yaml:"fresh"`
	ViewportWidth       int  `yaml:"viewport_width"`
	ViewportHeight      int  `yaml:"viewport_height"`
	NavigationTimeoutMS int  `yaml:"navigation_timeout_ms"`
	ElementTimeoutMS    int  `yaml:"element_timeout_ms"`
}

// Step is one replayed interaction.
type Step struct {
	Action      string `yaml:"action"`
	Target      string `yaml:"target"`
	Value       string `yaml:"value,omitempty"`
	WaitAfterMS int    `yaml:"wait_after_ms,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// GridSpec tells the replay where the results grid is.
type GridSpec struct {
	Selectors       []string `yaml:"selectors"`
	RowSelector     string   `yaml:"row_selector"`
	FirstDataColumn int      `yaml:"first_data_column"`
	TimeoutMS       int      `yaml:"timeout_ms"`
}

// OutputColumn maps a record field to a cell position.
type OutputColumn struct {
	Name  string `yaml:"name"`
	Index int    `yaml:"index"`
}

// OutputSpec describes the records a replay writes.
type OutputSpec struct {
	Columns []OutputColumn `yaml:"columns"`
	Formats []string       `yaml:"formats"`
}

// ParsePlan decodes and validates plan YAML.
func ParsePlan(source []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(source, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the plan can be replayed.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i, s := range p.Steps {
		switch s.Action {
		case "navigate", "click", "fill":
		default:
			return fmt.Errorf("step %d: unknown action %q", i, s.Action)
		}
		if s.Target == "" {
			return fmt.Errorf("step %d: target is required", i)
		}
		if s.Action == "click" {
			wait := time.Duration(s.WaitAfterMS) * time.Millisecond
			if wait < MinPostClickWait || wait > MaxPostClickWait {
				return fmt.Errorf("step %d: click wait_after_ms %d outside [%d, %d]",
					i, s.WaitAfterMS, MinPostClickWait.Milliseconds(), MaxPostClickWait.Milliseconds())
			}
		}
	}
	if len(p.Grid.Selectors) == 0 {
		return fmt.Errorf("plan has no grid selectors")
	}
	if len(p.Output.Columns) == 0 {
		return fmt.Errorf("plan has no output columns")
	}
	return nil
}
