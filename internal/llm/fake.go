package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// FakeCall records one GenerateJSON invocation for assertions.
type FakeCall struct {
	Phase  string
	Prompt string
	Input  any
}

// FakeClient returns scripted JSON payloads per phase for offline runs and
// tests. Responses for a phase are consumed in order; when a phase's queue is
// empty the Default payload (or "{}") is returned.
type FakeClient struct {
	mu        sync.Mutex
	responses map[string][]json.RawMessage
	calls     []FakeCall

	// Default is returned when no scripted response remains for a phase.
	Default json.RawMessage
	// Err, when set, is returned by every call.
	Err error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{responses: map[string][]json.RawMessage{}}
}

// Script queues a raw JSON response for the given phase.
func (f *FakeClient) Script(phase string, raw string) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[phase] = append(f.responses[phase], json.RawMessage(raw))
	return f
}

// ScriptValue queues a response built by marshalling v.
func (f *FakeClient) ScriptValue(phase string, v any) *FakeClient {
	b, _ := json.Marshal(v)
	return f.Script(phase, string(b))
}

// Calls returns a copy of all recorded invocations.
func (f *FakeClient) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the recorded invocations for one phase.
func (f *FakeClient) CallsFor(phase string) []FakeCall {
	var out []FakeCall
	for _, c := range f.Calls() {
		if c.Phase == phase {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Phase: phase, Prompt: prompt, Input: input})
	if f.Err != nil {
		err := f.Err
		f.mu.Unlock()
		return nil, err
	}
	if q := f.responses[phase]; len(q) > 0 {
		raw := q[0]
		f.responses[phase] = q[1:]
		f.mu.Unlock()
		return raw, nil
	}
	def := f.Default
	f.mu.Unlock()
	if def == nil {
		def = json.RawMessage(`{}`)
	}
	return def, nil
}
