package llm

import (
	"context"
	"sync"
	"sync/atomic"
)

// StubProvider is a scripted in-process provider used by tests and local
// development wiring. Responses are returned in order; when the script runs
// out the last entry repeats. An entry with a non-nil Err fails the call.
type StubProvider struct {
	name    string
	thermal HealthLevel
	memory  HealthLevel
	caps    Capabilities

	mu     sync.Mutex
	script []StubResponse
	cursor int

	calls atomic.Int64
}

// StubResponse is one scripted reply.
type StubResponse struct {
	Text string
	Err  error
}

// NewStubProvider creates a stub that replies with the given script.
func NewStubProvider(name string, script ...StubResponse) *StubProvider {
	return &StubProvider{
		name:    name,
		thermal: HealthNominal,
		memory:  HealthNominal,
		caps:    Capabilities{MaxContextTokens: 8192, ToolCalling: true, Local: true},
		script:  script,
	}
}

// SetThermal overrides the reported thermal status.
func (s *StubProvider) SetThermal(level HealthLevel) { s.thermal = level }

// SetMemory overrides the reported memory status.
func (s *StubProvider) SetMemory(level HealthLevel) { s.memory = level }

// Calls returns how many times Generate ran.
func (s *StubProvider) Calls() int64 { return s.calls.Load() }

func (s *StubProvider) Name() string { return s.name }

func (s *StubProvider) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.script) == 0 {
		s.mu.Unlock()
		return &Result{Text: "stub: " + prompt, Model: "stub-model", FinishReason: "stop"}, nil
	}
	resp := s.script[s.cursor]
	if s.cursor < len(s.script)-1 {
		s.cursor++
	}
	s.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}
	return &Result{
		Text:  resp.Text,
		Model: "stub-model",
		Usage: Usage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(resp.Text) / 4,
			TotalTokens:      (len(prompt) + len(resp.Text)) / 4,
		},
		FinishReason: "stop",
	}, nil
}

func (s *StubProvider) ThermalStatus() HealthLevel { return s.thermal }

func (s *StubProvider) MemoryStatus() HealthLevel { return s.memory }

func (s *StubProvider) Capabilities() Capabilities { return s.caps }
