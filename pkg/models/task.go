// Package models contains the shared domain types passed between the
// dispatcher, agent runtime, orchestrator, and session packages.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Budget caps a task's execution. WallMS bounds elapsed wall time and
// MaxSteps bounds the number of recorded steps.
type Budget struct {
	WallMS   int64 `json:"wall_ms"`
	MaxSteps int   `json:"max_steps"`
}

// Task is the unit of work submitted to the control plane. Immutable after
// submission; the runtime owns all mutable per-task state separately.
type Task struct {
	ID                   string         `json:"id"`
	Kind                 string         `json:"kind"`
	Input                map[string]any `json:"input"`
	Budget               Budget         `json:"budget"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Priority             int            `json:"priority"`
	CorrelationID        string         `json:"correlation_id,omitempty"`
	SubmittedAt          time.Time      `json:"submitted_at"`
}

// NewTask creates a task with a fresh id and submission timestamp.
func NewTask(kind string, input map[string]any) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Input:       input,
		SubmittedAt: time.Now().UTC(),
	}
}

// Usage is token accounting for one provider call or an aggregate.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TaskMetrics summarizes a finished task for events and audit records.
type TaskMetrics struct {
	Steps      int    `json:"steps"`
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
	DurationMS int64  `json:"duration_ms"`
	Usage      Usage  `json:"usage"`
	AgentID    string `json:"agent_id,omitempty"`
}

// TaskResult is the terminal outcome handed back to the submitter.
type TaskResult struct {
	TaskID  string         `json:"task_id"`
	Success bool           `json:"success"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
	Metrics TaskMetrics    `json:"metrics"`
}
