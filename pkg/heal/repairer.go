package heal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/llm"
	"github.com/entrhq/gridscout/pkg/llm/parser"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/entrhq/gridscout/pkg/types"
)

const repairSystemPrompt = `You repair browser replay plans for public-records search portals.
A plan is YAML with: site, target_url, context, steps (action navigate|click|fill, target, value, wait_after_ms),
grid (selectors, row_selector, first_data_column, timeout_ms) and output (columns with name and index).
Keep {{SEARCH_TERM}}, {{START_DATE}} and {{END_DATE}} placeholders exactly as they are.
Reply with the complete corrected plan in one yaml code block and nothing else.`

// maxOutputInPrompt bounds how much subprocess output is sent back.
const maxOutputInPrompt = 4000

// LLMRepairer asks a chat model for a corrected plan.
type LLMRepairer struct {
	provider llm.Provider
	timeout  time.Duration
}

// NewLLMRepairer creates a repairer backed by provider.
func NewLLMRepairer(provider llm.Provider, timeout time.Duration) *LLMRepairer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMRepairer{provider: provider, timeout: timeout}
}

// Repair implements Repairer. The reply must parse as a valid plan.
func (r *LLMRepairer) Repair(ctx context.Context, req RepairRequest) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.provider.Complete(callCtx, []types.Message{
		types.NewSystemMessage(repairSystemPrompt),
		types.NewUserMessage(buildRepairPrompt(req)),
	})
	if err != nil {
		return nil, fmt.Errorf("repair call failed: %w", err)
	}

	src := parser.ExtractFenced(reply) + "\n"
	if _, err := synth.ParsePlan([]byte(src)); err != nil {
		return nil, fmt.Errorf("repair reply is not a valid plan: %w", err)
	}
	return []byte(src), nil
}

func buildRepairPrompt(req RepairRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repair attempt %d for %s.\n\n", req.Attempt, req.Artifact.Name())
	fmt.Fprintf(&b, "Last error:\n%s\n\n", req.LastError)
	if req.Outcome != nil {
		if out := tail(req.Outcome.Stdout, maxOutputInPrompt); out != "" {
			fmt.Fprintf(&b, "Stdout:\n%s\n\n", out)
		}
		if out := tail(req.Outcome.Stderr, maxOutputInPrompt); out != "" {
			fmt.Fprintf(&b, "Stderr:\n%s\n\n", out)
		}
	}
	if len(req.Steps) > 0 {
		b.WriteString("Recorded steps that worked during exploration:\n")
		for i, s := range req.Steps {
			fmt.Fprintf(&b, "%d. %s %s", i+1, s.Action, s.Target)
			if s.Value != "" {
				fmt.Fprintf(&b, " = %s", s.Value)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Current plan:\n```yaml\n")
	b.WriteString(strings.TrimRight(req.Source, "\n"))
	b.WriteString("\n```\n")
	return b.String()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
