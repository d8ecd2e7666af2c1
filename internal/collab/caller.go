// Package collab is the boundary to LLM-backed collaborators. A collaborator
// is an opaque call: named inputs in, JSON out. Callers never assume the
// response is well-formed; decoding goes through one repair round trip before
// giving up.
package collab

import (
	"context"
	"fmt"
	"log"

	"iterflow/internal/llm"
)

// Tier selects the capability level answering a call. Complexity points map
// onto tiers: 1 is junior work, 2 senior, 3 and above lead.
type Tier int

const (
	TierJunior Tier = iota + 1
	TierSenior
	TierLead
)

func (t Tier) String() string {
	switch t {
	case TierJunior:
		return "junior"
	case TierSenior:
		return "senior"
	case TierLead:
		return "lead"
	}
	return "unknown"
}

// TierForPoints maps a complexity score to a tier.
func TierForPoints(points int) Tier {
	switch {
	case points <= 1:
		return TierJunior
	case points == 2:
		return TierSenior
	default:
		return TierLead
	}
}

const repairPrompt = `You are a strict JSON repair service.
You receive broken text that was supposed to be JSON conforming to a schema.
Return ONLY the repaired JSON, nothing else.`

// Caller routes collaborator calls to per-tier clients and owns the
// parse-repair-reparse protocol. Medium/reasoning clients fall back to the
// light client when unset.
type Caller struct {
	light     llm.LLMClient
	medium    llm.LLMClient
	reasoning llm.LLMClient
}

func NewCaller(light, medium, reasoning llm.LLMClient) *Caller {
	if medium == nil {
		medium = light
	}
	if reasoning == nil {
		reasoning = light
	}
	return &Caller{light: light, medium: medium, reasoning: reasoning}
}

// NewSingle wires all tiers to one client.
func NewSingle(cli llm.LLMClient) *Caller { return NewCaller(cli, cli, cli) }

func (c *Caller) clientFor(tier Tier) llm.LLMClient {
	switch tier {
	case TierSenior:
		return c.medium
	case TierLead:
		return c.reasoning
	default:
		return c.light
	}
}

// Call invokes the light-tier collaborator for a phase and decodes the result
// into out. schema documents the expected shape and is handed to the repair
// collaborator when the first parse fails.
func (c *Caller) Call(ctx context.Context, phase, prompt string, input any, schema string, out any) error {
	return c.CallTier(ctx, TierJunior, phase, prompt, input, schema, out)
}

// CallTier is Call with an explicit capability tier.
func (c *Caller) CallTier(ctx context.Context, tier Tier, phase, prompt string, input any, schema string, out any) error {
	cli := c.clientFor(tier)
	if cli == nil {
		return fmt.Errorf("collab: no client configured for tier %s", tier)
	}
	raw, err := cli.GenerateJSON(llm.WithPhase(ctx, phase), prompt, input)
	if err != nil {
		return fmt.Errorf("collab: %s: %w", phase, err)
	}
	if err := Decode(raw, out); err == nil {
		return nil
	}

	// One repair attempt, then one final parse.
	log.Printf("collab: %s returned malformed JSON, attempting repair", phase)
	fixed, err := c.light.GenerateJSON(llm.WithPhase(ctx, "json_repair"), repairPrompt, map[string]any{
		"expected_schema": schema,
		"original_text":   string(raw),
	})
	if err != nil {
		return fmt.Errorf("collab: %s: repair call failed: %w", phase, err)
	}
	if err := Decode(fixed, out); err != nil {
		return fmt.Errorf("collab: %s: unparseable output after repair: %w", phase, err)
	}
	return nil
}
