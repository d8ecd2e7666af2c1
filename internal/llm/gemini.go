package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	genai "google.golang.org/genai"
)

var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
	rl    *rpsLimiter
}

// NewGeminiClient builds a client for one model id. rps/burst <= 0 disables
// throttling.
func NewGeminiClient(ctx context.Context, apiKey, model string, rps float64, burst int) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, model: model, rl: newRPSLimiter(rps, burst)}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }

func (g *GeminiClient) Close() error {
	if g.rl != nil {
		g.rl.Stop()
	}
	return nil
}

// GenerateJSON sends the prompt plus the JSON-encoded input bundle and
// requests application/json output. Transient failures retry with backoff.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.MarshalIndent(input, "", "  ")
	full := prompt + "\n\n[INPUT JSON]\n" + string(in)
	log.Printf("LLM request (%s): %d bytes", PhaseFrom(ctx), len(full))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		// Each API call consumes one limiter token.
		if err := g.rl.Acquire(ctx); err != nil {
			lastErr = err
			break
		}
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
			&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		)
		if err != nil {
			lastErr = err
		} else if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = ErrInvalidJSON
		} else {
			return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return nil, lastErr
}
