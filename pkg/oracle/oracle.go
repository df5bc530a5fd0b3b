// Package oracle classifies page snapshots and proposes the next selector
// for an exploration session.
package oracle

import (
	"context"
	"strings"
)

// Classification is the page type an oracle assigns to a snapshot.
type Classification string

const (
	ClassDisclaimer  Classification = "disclaimer"
	ClassSearchPage  Classification = "search_page"
	ClassResultsGrid Classification = "results_grid"
	ClassBlocked     Classification = "blocked"
	ClassUnknown     Classification = "unknown"
)

// Phase tells the oracle what kind of answer is wanted.
type Phase string

const (
	// PhaseAnalyze asks for a fresh classification.
	PhaseAnalyze Phase = "analyze"
	// PhaseAlternative asks for a different selector than the rejected one.
	PhaseAlternative Phase = "alternative"
)

// Request is the context handed to an oracle for one decision.
type Request struct {
	URL                 string
	Title               string
	Snapshot            string
	Text                string
	SearchQuery         string
	DiscoveredSelectors []string
	ClickedSelectors    []string
	RejectedSelector    string
	Phase               Phase
}

// SearchForm holds the selectors of a search form.
type SearchForm struct {
	QueryInput     string `json:"query_input"`
	StartDateInput string `json:"start_date_input,omitempty"`
	EndDateInput   string `json:"end_date_input,omitempty"`
	SubmitButton   string `json:"submit_button"`
}

// Column is one results-grid column. Selector is optional; Index is the
// zero-based cell position.
type Column struct {
	Name     string `json:"name"`
	Selector string `json:"selector,omitempty"`
	Index    int    `json:"index"`
}

// Grid describes a located results grid.
type Grid struct {
	GridSelector      string   `json:"grid_selector"`
	RowSelector       string   `json:"row_selector,omitempty"`
	FallbackSelectors []string `json:"fallback_selectors,omitempty"`
	FirstDataColumn   int      `json:"first_data_column"`
	Columns           []Column `json:"columns,omitempty"`
	NoResults         bool     `json:"no_results,omitempty"`
}

// Decision is an oracle's answer for one snapshot.
type Decision struct {
	Classification Classification   `json:"classification"`
	Also           []Classification `json:"also,omitempty"`
	Selector       string           `json:"selector,omitempty"`
	Search         *SearchForm      `json:"search_form,omitempty"`
	Grid           *Grid            `json:"grid,omitempty"`
	Reasoning      string           `json:"reasoning,omitempty"`
}

// Oracle decides what the current page is and what to do next.
type Oracle interface {
	Decide(ctx context.Context, req Request) (*Decision, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req Request) (*Decision, error)

// Decide calls f.
func (f OracleFunc) Decide(ctx context.Context, req Request) (*Decision, error) {
	return f(ctx, req)
}

var classPriority = map[Classification]int{
	ClassBlocked:     4,
	ClassResultsGrid: 3,
	ClassSearchPage:  2,
	ClassDisclaimer:  1,
	ClassUnknown:     0,
}

// ResolveClassification picks one classification when several apply:
// blocked, then results grid, then search page, then disclaimer.
func ResolveClassification(primary Classification, also []Classification) Classification {
	best := NormalizeClassification(string(primary))
	for _, c := range also {
		c = NormalizeClassification(string(c))
		if classPriority[c] > classPriority[best] {
			best = c
		}
	}
	return best
}

// NormalizeClassification maps loose model output onto a Classification.
func NormalizeClassification(s string) Classification {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "disclaimer", "terms", "popup", "modal", "name_selection":
		return ClassDisclaimer
	case "search_page", "search", "search_form":
		return ClassSearchPage
	case "results_grid", "results", "grid", "results_table", "no_results":
		return ClassResultsGrid
	case "blocked", "captcha", "access_denied":
		return ClassBlocked
	default:
		return ClassUnknown
	}
}
