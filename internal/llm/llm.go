package llm

import (
	"context"
	"encoding/json"
)

// LLMClient is the provider boundary. Implementations return raw JSON text;
// schema validation and repair happen in internal/collab.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}
