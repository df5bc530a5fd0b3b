package heal

import (
	"context"
	"errors"
	"testing"

	"github.com/entrhq/gridscout/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	reply    string
	err      error
	messages []types.Message
}

func (p *stubProvider) Complete(_ context.Context, messages []types.Message) (string, error) {
	p.messages = messages
	return p.reply, p.err
}

func (p *stubProvider) GetModel() string { return "stub" }

func TestLLMRepairerAcceptsFencedPlan(t *testing.T) {
	_, a := writtenArtifact(t)
	provider := &stubProvider{reply: "Here is the fix:\n```yaml\n" + string(a.Source) + "```\n"}

	src, err := NewLLMRepairer(provider, 0).Repair(context.Background(), RepairRequest{
		Artifact:  a,
		Source:    string(a.Source),
		LastError: "exit status 1: grid selector #results not visible",
		Outcome:   &TestOutcome{Stderr: "Traceback: timeout"},
		Attempt:   1,
	})
	require.NoError(t, err)
	assert.Contains(t, string(src), "steps:")

	require.Len(t, provider.messages, 2)
	prompt := provider.messages[1].Content
	assert.Contains(t, prompt, "grid selector #results not visible")
	assert.Contains(t, prompt, "Traceback: timeout")
	assert.Contains(t, prompt, "Current plan:")
}

func TestLLMRepairerRejectsInvalidPlan(t *testing.T) {
	_, a := writtenArtifact(t)
	provider := &stubProvider{reply: "```yaml\nsite: x\n```"}

	_, err := NewLLMRepairer(provider, 0).Repair(context.Background(), RepairRequest{Artifact: a, Source: string(a.Source)})
	assert.ErrorContains(t, err, "not a valid plan")
}

func TestLLMRepairerPropagatesProviderError(t *testing.T) {
	_, a := writtenArtifact(t)
	provider := &stubProvider{err: errors.New("rate limited")}

	_, err := NewLLMRepairer(provider, 0).Repair(context.Background(), RepairRequest{Artifact: a})
	assert.ErrorContains(t, err, "rate limited")
}

func TestDiff(t *testing.T) {
	d := Diff("row_selector: \"tr\"\n", "row_selector: \"tbody tr\"\n")
	assert.False(t, d.Unchanged)
	assert.Equal(t, 6, d.Inserted)
	assert.NotEmpty(t, d.Patch)

	assert.True(t, Diff("same", "same").Unchanged)
}
