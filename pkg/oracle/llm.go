package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/llm"
	"github.com/entrhq/gridscout/pkg/llm/parser"
	"github.com/entrhq/gridscout/pkg/llm/tokenizer"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/kaptinlin/jsonrepair"
)

const systemPrompt = `You classify pages of public-records search portals for a browser automation agent.
Reply with one JSON object and nothing else:
{
  "classification": "disclaimer" | "search_page" | "results_grid" | "blocked" | "unknown",
  "also": [other classifications that also apply],
  "selector": "CSS selector to click for disclaimer or navigation pages",
  "search_form": {"query_input": "", "start_date_input": "", "end_date_input": "", "submit_button": ""},
  "grid": {"grid_selector": "", "row_selector": "", "fallback_selectors": [], "first_data_column": 0,
           "columns": [{"name": "", "selector": "", "index": 0}], "no_results": false},
  "reasoning": "one sentence"
}
Rules:
- disclaimer covers terms pages, acceptance modals and name-selection popups; give the button to click.
- blocked means captcha, access denied or a login wall.
- first_data_column is the index of the first cell holding data (skip checkbox or action cells).
- Never propose a selector listed as already clicked.
- Prefer id selectors, then name attributes, then stable classes.`

// LLMOracle asks a chat model to classify snapshots.
type LLMOracle struct {
	provider  llm.Provider
	tokenizer *tokenizer.Tokenizer
	maxTokens int
	timeout   time.Duration
	logger    *logging.Logger
}

// LLMOption configures an LLMOracle.
type LLMOption func(*LLMOracle)

// WithSnapshotBudget caps snapshot size in tokens.
func WithSnapshotBudget(maxTokens int) LLMOption {
	return func(o *LLMOracle) { o.maxTokens = maxTokens }
}

// WithTokenizer sets the tokenizer used for the snapshot budget. A nil
// tokenizer estimates from character counts.
func WithTokenizer(t *tokenizer.Tokenizer) LLMOption {
	return func(o *LLMOracle) { o.tokenizer = t }
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) LLMOption {
	return func(o *LLMOracle) { o.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) LLMOption {
	return func(o *LLMOracle) { o.logger = l }
}

// NewLLMOracle creates an oracle backed by provider.
func NewLLMOracle(provider llm.Provider, opts ...LLMOption) *LLMOracle {
	o := &LLMOracle{
		provider:  provider,
		maxTokens: 12000,
		timeout:   60 * time.Second,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Decide implements Oracle.
func (o *LLMOracle) Decide(ctx context.Context, req Request) (*Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	snapshot, cut := o.tokenizer.Truncate(req.Snapshot, o.maxTokens)
	if cut {
		o.logger.Debugf("snapshot of %s truncated to %d tokens", req.URL, o.maxTokens)
	}

	messages := []types.Message{
		types.NewSystemMessage(systemPrompt),
		types.NewUserMessage(buildDecisionPrompt(req, snapshot)),
	}

	reply, err := o.provider.Complete(callCtx, messages)
	if err != nil {
		return nil, fmt.Errorf("oracle call failed: %w", err)
	}

	decision, err := ParseDecision(reply)
	if err != nil {
		o.logger.Warnf("unparseable oracle reply for %s: %v", req.URL, err)
		return nil, err
	}
	o.logger.Debugf("oracle classified %s as %s: %s", req.URL, decision.Classification, decision.Reasoning)
	return decision, nil
}

func buildDecisionPrompt(req Request, snapshot string) string {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "URL: %s\n", req.URL)
	fmt.Fprintf(&prompt, "Title: %s\n", req.Title)
	if req.SearchQuery != "" {
		fmt.Fprintf(&prompt, "Search query to run: %s\n", req.SearchQuery)
	}
	if len(req.ClickedSelectors) > 0 {
		fmt.Fprintf(&prompt, "Already clicked (do not propose again): %s\n", strings.Join(req.ClickedSelectors, ", "))
	}
	if len(req.DiscoveredSelectors) > 0 {
		fmt.Fprintf(&prompt, "Selectors found earlier in this session: %s\n", strings.Join(req.DiscoveredSelectors, ", "))
	}
	if req.Phase == PhaseAlternative {
		fmt.Fprintf(&prompt, "\nThe selector %q was rejected because it was already clicked. Propose a different element.\n", req.RejectedSelector)
	}

	prompt.WriteString("\nPage HTML (cleaned):\n```html\n")
	prompt.WriteString(snapshot)
	prompt.WriteString("\n```\n")
	return prompt.String()
}

// ParseDecision decodes a model reply into a Decision, repairing malformed
// JSON where possible.
func ParseDecision(reply string) (*Decision, error) {
	raw := parser.ExtractJSONObject(reply)

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("failed to parse oracle reply: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &d); err != nil {
			return nil, fmt.Errorf("failed to parse repaired oracle reply: %w", err)
		}
	}

	d.Classification = ResolveClassification(d.Classification, d.Also)
	d.Also = nil
	return &d, nil
}
