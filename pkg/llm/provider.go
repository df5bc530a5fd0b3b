// Package llm provides the chat-completion abstraction used by the decision
// oracle and the script repairer.
package llm

import (
	"context"

	"github.com/entrhq/gridscout/pkg/types"
)

// Provider sends a conversation to a model and returns the assistant reply.
type Provider interface {
	// Complete returns the text content of the first choice.
	Complete(ctx context.Context, messages []types.Message) (string, error)

	// GetModel returns the model name being used.
	GetModel() string
}
