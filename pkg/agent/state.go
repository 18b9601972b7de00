package agent

import (
	"fmt"
	"time"
)

// Phase is one state of the plan/execute/reflect loop.
type Phase string

const (
	PhaseAnalyze   Phase = "analyze"
	PhasePlan      Phase = "plan"
	PhaseExecute   Phase = "execute"
	PhaseEvaluate  Phase = "evaluate"
	PhaseIterate   Phase = "iterate"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether the phase ends the task.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

// StepKind classifies a step record.
type StepKind string

const (
	StepModel   StepKind = "model"
	StepTool    StepKind = "tool"
	StepReflect StepKind = "reflect"
)

// PlannedStep is one node of a task's plan. Dependencies name other planned
// step ids that must succeed before this step is ready.
type PlannedStep struct {
	ID           string         `json:"id"`
	Kind         StepKind       `json:"kind"`
	Target       string         `json:"target,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// StepRecord is the immutable record of one executed step. Records are
// append-only; nothing rewrites history after the fact.
type StepRecord struct {
	ID        string         `json:"id"`
	Kind      StepKind       `json:"kind"`
	Input     map[string]any `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Success   bool           `json:"success"`
	LatencyMS int64          `json:"latency_ms"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// phaseTransitions enumerates the legal edges of the state machine. The
// only backward edges are evaluate→execute (retry) and evaluate→plan
// (replan); everything else advances.
var phaseTransitions = map[Phase][]Phase{
	PhaseAnalyze:  {PhasePlan, PhaseFailed, PhaseCancelled},
	PhasePlan:     {PhaseExecute, PhaseDone, PhaseFailed, PhaseCancelled},
	PhaseExecute:  {PhaseEvaluate, PhaseFailed, PhaseCancelled},
	PhaseEvaluate: {PhaseIterate, PhaseExecute, PhasePlan, PhaseFailed, PhaseCancelled},
	PhaseIterate:  {PhaseExecute, PhaseDone, PhaseFailed, PhaseCancelled},
}

// TaskState is the mutable per-task state of the runtime. It is owned by
// exactly one worker at a time; no other component mutates it.
type TaskState struct {
	TaskID        string         `json:"task_id"`
	Phase         Phase          `json:"phase"`
	WorkClass     string         `json:"work_class,omitempty"`
	CurrentStep   int            `json:"current_step"`
	PlannedSteps  []PlannedStep  `json:"planned_steps,omitempty"`
	StepRecords   []StepRecord   `json:"step_records"`
	ToolCalls     int            `json:"tool_calls"`
	Iterations    int            `json:"iterations"`
	Err           error          `json:"-"`
	ResultPayload map[string]any `json:"result_payload,omitempty"`
	Reflection    *Reflection    `json:"reflection,omitempty"`

	startedAt           time.Time
	retries             map[string]int
	consecutiveTimeouts int
	replanned           bool
	concluded           bool

	promptTokens     int
	completionTokens int
	totalTokens      int
}

// addUsage accumulates token usage across model steps.
func (s *TaskState) addUsage(prompt, completion, total int) {
	s.promptTokens += prompt
	s.completionTokens += completion
	s.totalTokens += total
}

func newTaskState(taskID string) *TaskState {
	return &TaskState{
		TaskID:    taskID,
		Phase:     PhaseAnalyze,
		startedAt: time.Now(),
		retries:   make(map[string]int),
	}
}

// advance moves the state machine along a legal edge. Illegal transitions
// indicate a runtime bug and fail loudly.
func (s *TaskState) advance(to Phase) error {
	if s.Phase.Terminal() {
		return fmt.Errorf("phase %s is terminal, cannot advance to %s", s.Phase, to)
	}
	for _, allowed := range phaseTransitions[s.Phase] {
		if allowed == to {
			s.Phase = to
			return nil
		}
	}
	return fmt.Errorf("illegal phase transition %s -> %s", s.Phase, to)
}

// appendRecord appends one step record. Records never get removed or
// rewritten.
func (s *TaskState) appendRecord(rec StepRecord) {
	s.StepRecords = append(s.StepRecords, rec)
	if rec.Kind == StepTool {
		s.ToolCalls++
	}
}

// recordedSuccess reports whether the planned step already has a
// successful record.
func (s *TaskState) recordedSuccess(stepID string) bool {
	for _, rec := range s.StepRecords {
		if rec.ID == stepID && rec.Success {
			return true
		}
	}
	return false
}

// nextReadyStep returns the first planned step without a successful record
// whose dependencies have all succeeded. The second value is false when no
// step is ready.
func (s *TaskState) nextReadyStep() (*PlannedStep, bool) {
	for i := range s.PlannedSteps {
		step := &s.PlannedSteps[i]
		if s.recordedSuccess(step.ID) {
			continue
		}
		ready := true
		for _, dep := range step.Dependencies {
			if !s.recordedSuccess(dep) {
				ready = false
				break
			}
		}
		if ready {
			return step, true
		}
	}
	return nil, false
}

// stepsRemaining reports whether any planned step lacks a successful record.
func (s *TaskState) stepsRemaining() bool {
	for i := range s.PlannedSteps {
		if !s.recordedSuccess(s.PlannedSteps[i].ID) {
			return true
		}
	}
	return false
}

// wallElapsed is the task's elapsed wall time.
func (s *TaskState) wallElapsed() time.Duration {
	return time.Since(s.startedAt)
}

// recordStepFailure tracks consecutive timeout failures across steps.
func (s *TaskState) recordStepFailure(isTimeout bool) {
	if isTimeout {
		s.consecutiveTimeouts++
	} else {
		s.consecutiveTimeouts = 0
	}
}

// recordStepSuccess resets failure tracking.
func (s *TaskState) recordStepSuccess() {
	s.consecutiveTimeouts = 0
}

// validatePlan checks that dependencies form a DAG over known step ids.
func validatePlan(steps []PlannedStep) error {
	ids := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("planned step missing id")
		}
		if ids[step.ID] {
			return fmt.Errorf("duplicate planned step id %s", step.ID)
		}
		ids[step.ID] = true
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("step %s depends on unknown step %s", step.ID, dep)
			}
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	// Kahn's algorithm: if not every step can be ordered, there is a cycle.
	var queue []string
	for _, step := range steps {
		if indegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}
	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if ordered != len(steps) {
		return fmt.Errorf("plan dependencies contain a cycle")
	}
	return nil
}
