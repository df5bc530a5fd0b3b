package explorer

import (
	"fmt"
	"time"

	"github.com/entrhq/gridscout/pkg/recorder"
	"github.com/google/uuid"
)

// Status is the state of an exploration session.
type Status string

const (
	StatusNavigating       Status = "NAVIGATING"
	StatusSearchPageFound  Status = "SEARCH_PAGE_FOUND"
	StatusClickExecuted    Status = "CLICK_EXECUTED"
	StatusSearchExecuted   Status = "SEARCH_EXECUTED"
	StatusColumnsCaptured  Status = "COLUMNS_CAPTURED"
	StatusScriptGenerated  Status = "SCRIPT_GENERATED"
	StatusScriptTested     Status = "SCRIPT_TESTED"
	StatusCompleted        Status = "COMPLETED"
	StatusNeedsHumanReview Status = "NEEDS_HUMAN_REVIEW"
	StatusFailed           Status = "FAILED"
)

// IsTerminal reports whether no further transitions happen from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsHumanReview, StatusFailed:
		return true
	}
	return false
}

// DateRange is the inclusive search window as entered in the site's form.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Column is one captured results-grid column.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Index    int    `json:"index" yaml:"index"`
}

// ColumnMapping is an ordered set of columns keyed by unique name.
type ColumnMapping struct {
	columns []Column
	names   map[string]bool
}

// NewColumnMapping creates an empty mapping.
func NewColumnMapping() *ColumnMapping {
	return &ColumnMapping{names: make(map[string]bool)}
}

// Add appends a column. Duplicate names are rejected.
func (m *ColumnMapping) Add(c Column) error {
	if c.Name == "" {
		return fmt.Errorf("column name is required")
	}
	if m.names[c.Name] {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	m.names[c.Name] = true
	m.columns = append(m.columns, c)
	return nil
}

// Columns returns a copy of the columns in order.
func (m *ColumnMapping) Columns() []Column {
	out := make([]Column, len(m.columns))
	copy(out, m.columns)
	return out
}

// Names returns the column names in order.
func (m *ColumnMapping) Names() []string {
	out := make([]string, len(m.columns))
	for i, c := range m.columns {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of columns.
func (m *ColumnMapping) Len() int {
	return len(m.columns)
}

// GridInfo describes where the results grid lives.
type GridInfo struct {
	GridSelector      string   `json:"grid_selector"`
	RowSelector       string   `json:"row_selector"`
	FallbackSelectors []string `json:"fallback_selectors,omitempty"`
	FirstDataColumn   int      `json:"first_data_column"`
	NoResults         bool     `json:"no_results,omitempty"`
}

// LogLine is one entry of a session's user-visible trail.
type LogLine struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Session is the state of one exploration. It is owned by a single Run call.
type Session struct {
	ID          string
	TargetURL   string
	SearchQuery string
	DateRange   DateRange

	Status                  Status
	AttemptCount            int
	DisclaimerClickAttempts int

	Memory     *SelectorMemory
	Recorder   *recorder.Recorder
	Columns    *ColumnMapping
	Grid       GridInfo
	Discovered []string

	Log []LogLine
	Err error

	searchSubmitted bool
}

// NewSession creates a session for req.
func NewSession(req Request) *Session {
	return &Session{
		ID:          uuid.New().String(),
		TargetURL:   req.URL,
		SearchQuery: req.SearchQuery,
		DateRange:   req.DateRange,
		Status:      StatusNavigating,
		Memory:      NewSelectorMemory(),
		Recorder:    recorder.New(),
		Columns:     NewColumnMapping(),
	}
}

// Logf appends a line to the session trail and returns the message.
func (s *Session) Logf(level, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	s.Log = append(s.Log, LogLine{Time: time.Now(), Level: level, Message: msg})
	return msg
}

func (s *Session) discover(selectors ...string) {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		dup := false
		for _, d := range s.Discovered {
			if d == sel {
				dup = true
				break
			}
		}
		if !dup {
			s.Discovered = append(s.Discovered, sel)
		}
	}
}

// LastLog returns the newest log line.
func (s *Session) LastLog() (LogLine, bool) {
	if len(s.Log) == 0 {
		return LogLine{}, false
	}
	return s.Log[len(s.Log)-1], true
}
