// Package agent implements the plan/execute/reflect runtime. A task moves
// through an explicit state machine (analyze, plan, execute, evaluate,
// iterate) under wall-clock, step, and iteration budgets; every executed
// step leaves an append-only record.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/llm"
	"github.com/praxis-platform/praxis/pkg/models"
	"github.com/praxis-platform/praxis/pkg/telemetry"
	"github.com/praxis-platform/praxis/pkg/tools"
)

// Config assembles an agent. Chain, Bus, and Tools are required; a missing
// provider chain is a construction error, not an execution error.
type Config struct {
	ID   string
	Name string
	Spec *config.AgentConfig

	Chain  *llm.Chain
	Bus    *events.Bus
	Tools  *tools.Registry
	Mapper *tools.Mapper

	Runtime *config.RuntimeConfig
	Sink    telemetry.Sink

	// InputSchema and OutputSchema are the agent's declared contracts,
	// validated at the Execute boundary.
	InputSchema  map[string]any
	OutputSchema map[string]any
}

// Agent executes tasks through the plan/execute/reflect loop.
type Agent struct {
	id      string
	name    string
	spec    *config.AgentConfig
	chain   *llm.Chain
	bus     *events.Bus
	tools   *tools.Registry
	mapper  *tools.Mapper
	runtime *config.RuntimeConfig
	sink    telemetry.Sink

	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema
}

// CreateAgent validates the configuration and builds an agent. Schemas are
// compiled once here.
func CreateAgent(cfg Config) (*Agent, error) {
	if cfg.Chain == nil {
		return nil, fault.New(fault.CodeValidation, "agent requires a provider chain")
	}
	if cfg.Bus == nil {
		return nil, fault.New(fault.CodeValidation, "agent requires an event bus")
	}
	if cfg.Tools == nil {
		return nil, fault.New(fault.CodeValidation, "agent requires a tool registry")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Runtime == nil {
		cfg.Runtime = config.DefaultRuntimeConfig()
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.NewNoop()
	}

	a := &Agent{
		id:      cfg.ID,
		name:    cfg.Name,
		spec:    cfg.Spec,
		chain:   cfg.Chain,
		bus:     cfg.Bus,
		tools:   cfg.Tools,
		mapper:  cfg.Mapper,
		runtime: cfg.Runtime,
		sink:    cfg.Sink,
	}

	if cfg.InputSchema != nil {
		schema, err := compileSchema(cfg.ID+"/input", cfg.InputSchema)
		if err != nil {
			return nil, fault.Wrap(fault.CodeValidation, err, "invalid input schema")
		}
		a.inputSchema = schema
	}
	if cfg.OutputSchema != nil {
		schema, err := compileSchema(cfg.ID+"/output", cfg.OutputSchema)
		if err != nil {
			return nil, fault.Wrap(fault.CodeValidation, err, "invalid output schema")
		}
		a.outputSchema = schema
	}
	return a, nil
}

// ID returns the agent's identity.
func (a *Agent) ID() string { return a.id }

// Execute runs the task to a terminal phase and returns the result. The
// returned error is non-nil for failed and cancelled tasks; the result is
// populated either way.
func (a *Agent) Execute(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	start := time.Now()
	if task == nil || task.ID == "" {
		return nil, fault.New(fault.CodeValidation, "task must have an id")
	}
	if a.inputSchema != nil {
		if err := validateInstance(a.inputSchema, task.Input); err != nil {
			return nil, fault.Wrap(fault.CodeValidation, err, "task input rejected by agent contract").
				WithCorrelation(task.CorrelationID)
		}
	}

	budget := a.effectiveBudget(task)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(budget.WallMS)*time.Millisecond)
	defer cancel()

	state := newTaskState(task.ID)
	a.publish(events.EventTypeAgentStarted, task.CorrelationID, events.AgentStartedPayload{
		TaskID:    task.ID,
		AgentID:   a.id,
		AgentName: a.name,
		Kind:      task.Kind,
	})

	a.run(ctx, state, task, budget)

	// Output contract check can still demote a done task.
	if state.Phase == PhaseDone && a.outputSchema != nil {
		if err := validateInstance(a.outputSchema, state.ResultPayload); err != nil {
			state.Phase = PhaseFailed
			state.Err = fault.Wrap(fault.CodeValidation, err, "result rejected by agent contract")
		}
	}

	a.reflect(state)
	a.finish(state, task, start)

	result := a.buildResult(state, task, start)
	if state.Phase == PhaseDone {
		return result, nil
	}
	return result, state.Err
}

// run drives the state machine until a terminal phase.
func (a *Agent) run(ctx context.Context, state *TaskState, task *models.Task, budget models.Budget) {
	for !state.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			// The wall-budget deadline counts against the budget, not as
			// an external cancellation.
			if errors.Is(err, context.DeadlineExceeded) && state.wallElapsed().Milliseconds() >= budget.WallMS {
				a.failTask(state, fault.Wrap(fault.CodeBudgetExceeded, err,
					"wall budget exhausted after %dms", state.wallElapsed().Milliseconds()))
			} else {
				a.cancelTask(state, err)
			}
			return
		}

		switch state.Phase {
		case PhaseAnalyze:
			a.analyze(state, task)
		case PhasePlan:
			a.plan(state, task)
		case PhaseExecute:
			stepID, err := a.executeStep(ctx, state, task, budget)
			if state.Phase.Terminal() {
				return
			}
			a.evaluate(state, stepID, err)
		case PhaseIterate:
			a.iterate(ctx, state, budget)
		default:
			a.failTask(state, fault.New(fault.CodeInternal, "unexpected phase %s", state.Phase))
		}
	}
}

// analyze derives the coarse work class from the task.
func (a *Agent) analyze(state *TaskState, task *models.Task) {
	state.WorkClass = task.Kind
	if state.WorkClass == "" {
		state.WorkClass = "general"
	}
	a.mustAdvance(state, PhasePlan)
}

// plan builds the ordered step list. A caller-supplied plan is validated
// (DAG, resolvable tools); otherwise a single model step is derived from
// the input. Re-entry after a failure discards the failed tail and appends
// a recovery step.
func (a *Agent) plan(state *TaskState, task *models.Task) {
	if state.replanned && len(state.PlannedSteps) > 0 {
		a.replan(state)
		return
	}

	steps, err := a.parsePlan(task)
	if err != nil {
		a.failTask(state, err)
		return
	}
	state.PlannedSteps = steps
	a.mustAdvance(state, PhaseExecute)
}

func (a *Agent) replan(state *TaskState) {
	// Keep everything that succeeded, drop the failed tail.
	var kept []PlannedStep
	for _, step := range state.PlannedSteps {
		if state.recordedSuccess(step.ID) {
			kept = append(kept, step)
		}
	}
	kept = append(kept, PlannedStep{
		ID:   fmt.Sprintf("recover-%d", len(state.StepRecords)),
		Kind: StepModel,
		Input: map[string]any{
			"prompt": "The previous step failed. Produce the best available result from the work completed so far.",
		},
	})
	state.PlannedSteps = kept
	slog.Info("Task replanned after step failure", "task", state.TaskID, "steps", len(kept))
	a.mustAdvance(state, PhaseExecute)
}

// parsePlan reads an explicit plan from the task input or derives a single
// model step.
func (a *Agent) parsePlan(task *models.Task) ([]PlannedStep, error) {
	raw, ok := task.Input["plan"].([]any)
	if !ok {
		return []PlannedStep{{
			ID:    "step-1",
			Kind:  StepModel,
			Input: map[string]any{"prompt": a.promptFor(task)},
		}}, nil
	}

	steps := make([]PlannedStep, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fault.New(fault.CodeValidation, "plan entries must be objects")
		}
		step := PlannedStep{
			ID:     fmt.Sprintf("step-%d", i+1),
			Kind:   StepModel,
			Target: stringField(m, "target"),
		}
		if id := stringField(m, "id"); id != "" {
			step.ID = id
		}
		switch kind := stringField(m, "kind"); kind {
		case "", "model":
			step.Kind = StepModel
		case "tool":
			step.Kind = StepTool
		default:
			return nil, fault.New(fault.CodeValidation, "unknown step kind %q", kind)
		}
		if input, ok := m["input"].(map[string]any); ok {
			step.Input = input
		}
		if deps, ok := m["dependencies"].([]any); ok {
			for _, d := range deps {
				if s, ok := d.(string); ok {
					step.Dependencies = append(step.Dependencies, s)
				}
			}
		}
		steps = append(steps, step)
	}

	if err := validatePlan(steps); err != nil {
		return nil, fault.Wrap(fault.CodeValidation, err, "invalid plan")
	}
	for _, step := range steps {
		if step.Kind == StepTool && !a.tools.Has(step.Target) && a.mapper == nil {
			return nil, fault.New(fault.CodeValidation, "plan references unknown tool %s", step.Target)
		}
	}
	return steps, nil
}

// executeStep runs the next ready step and appends its record. Returns the
// step id and its error for evaluation.
func (a *Agent) executeStep(ctx context.Context, state *TaskState, task *models.Task, budget models.Budget) (string, error) {
	if len(state.StepRecords) >= budget.MaxSteps {
		a.failTask(state, fault.New(fault.CodeBudgetExceeded,
			"step budget exhausted (%d)", budget.MaxSteps).WithCorrelation(task.CorrelationID))
		return "", nil
	}

	step, ready := state.nextReadyStep()
	if !ready {
		a.failTask(state, fault.New(fault.CodeInternal, "no ready step despite remaining plan"))
		return "", nil
	}
	state.CurrentStep++

	rec := StepRecord{
		ID:        step.ID,
		Kind:      step.Kind,
		Input:     step.Input,
		StartedAt: time.Now(),
	}

	var err error
	switch step.Kind {
	case StepModel:
		var result *llm.Result
		result, err = a.chain.Generate(ctx, a.stepPrompt(step, task), llm.Options{})
		if err == nil {
			rec.Output = map[string]any{"text": result.Text, "provider": result.Provider}
			state.addUsage(result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens)
		}
	case StepTool:
		rec.Output, err = a.runTool(ctx, step)
	default:
		err = fault.New(fault.CodeNotSupported, "step kind %s", step.Kind)
	}

	rec.EndedAt = time.Now()
	rec.LatencyMS = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	rec.Success = err == nil
	if err != nil {
		rec.Error = err.Error()
	}
	state.appendRecord(rec)
	a.mustAdvance(state, PhaseEvaluate)
	return step.ID, err
}

// runTool resolves the step's tool through the registry, falling back to
// the mapper for unknown names, and executes it.
func (a *Agent) runTool(ctx context.Context, step *PlannedStep) (any, error) {
	name := step.Target
	if !a.tools.Has(name) {
		if a.mapper == nil {
			return nil, fault.New(fault.CodeToolNotFound, "tool %s not registered", name)
		}
		mapped, err := a.mapper.Map(ctx, tools.UnknownToolRequest{
			ToolType:   name,
			Parameters: step.Input,
		})
		if err != nil {
			return nil, err
		}
		if !mapped.Success {
			return nil, fault.New(fault.CodeToolNotFound, "tool %s unmappable", name)
		}
		name = mapped.MappedTool.Name
	}
	result, err := a.tools.Execute(ctx, name, step.Input)
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}

// evaluate classifies the last step outcome into continue, retry, replan,
// or failure.
func (a *Agent) evaluate(state *TaskState, stepID string, stepErr error) {
	if stepErr == nil {
		state.recordStepSuccess()
		a.mustAdvance(state, PhaseIterate)
		return
	}

	code := fault.CodeOf(stepErr)
	if code == fault.CodeCancelled {
		a.cancelTask(state, stepErr)
		return
	}

	state.recordStepFailure(code == fault.CodeTimeout)
	if a.runtime.ConsecutiveTimeoutLimit > 0 && state.consecutiveTimeouts >= a.runtime.ConsecutiveTimeoutLimit {
		a.failTask(state, fault.Wrap(fault.CodeTimeout, stepErr,
			"%d consecutive step timeouts", state.consecutiveTimeouts))
		return
	}

	if !fault.Retryable(stepErr) {
		a.failTask(state, stepErr)
		return
	}

	if state.retries[stepID] < a.runtime.StepRetryLimit {
		state.retries[stepID]++
		if step := findStep(state.PlannedSteps, stepID); step != nil {
			if step.Input == nil {
				step.Input = map[string]any{}
			}
			step.Input["attempt"] = state.retries[stepID] + 1
		}
		slog.Debug("Retrying step", "task", state.TaskID, "step", stepID, "attempt", state.retries[stepID]+1)
		a.mustAdvance(state, PhaseExecute)
		return
	}

	if !state.replanned {
		state.replanned = true
		a.mustAdvance(state, PhasePlan)
		return
	}
	a.failTask(state, stepErr)
}

// iterate counts the loop cycle and enforces iteration and wall budgets.
func (a *Agent) iterate(ctx context.Context, state *TaskState, budget models.Budget) {
	if state.wallElapsed().Milliseconds() > budget.WallMS {
		a.failTask(state, fault.New(fault.CodeBudgetExceeded,
			"wall budget exhausted after %dms", state.wallElapsed().Milliseconds()))
		return
	}
	if state.Iterations >= a.runtime.MaxIterations {
		a.tryConclude(ctx, state, budget)
		return
	}
	state.Iterations++

	if state.stepsRemaining() {
		a.mustAdvance(state, PhaseExecute)
		return
	}
	a.finishDone(state)
}

// tryConclude performs one final model call without tools when the
// iteration budget is gone but the last step succeeded, producing a result
// instead of failing dry.
func (a *Agent) tryConclude(ctx context.Context, state *TaskState, budget models.Budget) {
	last := lastRecord(state)
	if last == nil || !last.Success || len(state.StepRecords) >= budget.MaxSteps || state.concluded {
		a.failTask(state, fault.New(fault.CodeBudgetExceeded,
			"iteration budget exhausted (%d)", a.runtime.MaxIterations))
		return
	}
	state.concluded = true

	rec := StepRecord{
		ID:        "conclude",
		Kind:      StepModel,
		Input:     map[string]any{"prompt": "Summarize the work completed so far into a final structured conclusion."},
		StartedAt: time.Now(),
	}
	result, err := a.chain.Generate(ctx, rec.Input["prompt"].(string), llm.Options{})
	rec.EndedAt = time.Now()
	rec.LatencyMS = rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if err != nil {
		rec.Error = err.Error()
		state.appendRecord(rec)
		a.failTask(state, fault.Wrap(fault.CodeBudgetExceeded, err,
			"iteration budget exhausted and conclusion failed"))
		return
	}
	rec.Success = true
	rec.Output = map[string]any{"text": result.Text, "provider": result.Provider}
	state.addUsage(result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens)
	state.appendRecord(rec)
	a.finishDone(state)
}

func (a *Agent) finishDone(state *TaskState) {
	payload := map[string]any{
		"steps": len(state.StepRecords),
	}
	if text, ok := lastModelText(state); ok {
		payload["text"] = text
	}
	state.ResultPayload = payload
	a.mustAdvance(state, PhaseDone)
}

func (a *Agent) failTask(state *TaskState, err error) {
	state.Err = err
	state.Phase = PhaseFailed
}

// cancelTask moves the task to cancelled. A cancelled task never becomes
// done, regardless of partial progress.
func (a *Agent) cancelTask(state *TaskState, cause error) {
	state.Err = fault.Wrap(fault.CodeCancelled, cause, "task cancelled")
	state.Phase = PhaseCancelled
}

// reflect summarizes the run. Advisory only: it never changes the terminal
// phase. Cancelled tasks reflect only when the policy enables it.
func (a *Agent) reflect(state *TaskState) {
	if state.Phase == PhaseCancelled && !a.runtime.ReflectOnCancel {
		return
	}
	state.Reflection = buildReflection(state)
}

// finish publishes the terminal event and records metrics.
func (a *Agent) finish(state *TaskState, task *models.Task, start time.Time) {
	duration := time.Since(start)
	switch state.Phase {
	case PhaseDone:
		a.publish(events.EventTypeAgentCompleted, task.CorrelationID, events.AgentCompletedPayload{
			TaskID:        task.ID,
			AgentID:       a.id,
			ResultPayload: state.ResultPayload,
			Metrics: map[string]any{
				"steps":      len(state.StepRecords),
				"iterations": state.Iterations,
				"tool_calls": state.ToolCalls,
			},
		})
		a.sink.RecordTask("done", duration.Seconds())
	case PhaseCancelled:
		a.publishFailed(state, task, "cancelled")
		a.sink.RecordTask("cancelled", duration.Seconds())
	default:
		reason := ""
		if fault.CodeOf(state.Err) == fault.CodeBudgetExceeded {
			reason = "budget_exceeded"
		}
		a.publishFailed(state, task, reason)
		a.sink.RecordTask("failed", duration.Seconds())
	}
}

func (a *Agent) publishFailed(state *TaskState, task *models.Task, reason string) {
	payload := events.AgentFailedPayload{
		TaskID:  task.ID,
		AgentID: a.id,
		Phase:   string(state.Phase),
		Reason:  reason,
	}
	if state.Err != nil {
		payload.ErrorCode = string(fault.CodeOf(state.Err))
		payload.Message = state.Err.Error()
		if f, ok := fault.As(state.Err); ok {
			payload.Status = f.Status
		}
	}
	a.publish(events.EventTypeAgentFailed, task.CorrelationID, payload)
}

func (a *Agent) buildResult(state *TaskState, task *models.Task, start time.Time) *models.TaskResult {
	result := &models.TaskResult{
		TaskID:  task.ID,
		Success: state.Phase == PhaseDone,
		Payload: state.ResultPayload,
		Metrics: models.TaskMetrics{
			Steps:      len(state.StepRecords),
			Iterations: state.Iterations,
			ToolCalls:  state.ToolCalls,
			DurationMS: time.Since(start).Milliseconds(),
			AgentID:    a.id,
			Usage: models.Usage{
				PromptTokens:     state.promptTokens,
				CompletionTokens: state.completionTokens,
				TotalTokens:      state.totalTokens,
			},
		},
	}
	if state.Err != nil {
		result.Error = state.Err.Error()
	}
	if state.Reflection != nil {
		if result.Payload == nil {
			result.Payload = map[string]any{}
		}
		result.Payload["reflection"] = state.Reflection
	}
	return result
}

func (a *Agent) effectiveBudget(task *models.Task) models.Budget {
	budget := task.Budget
	if budget.WallMS <= 0 {
		budget.WallMS = a.runtime.WallBudget.Milliseconds()
	}
	if budget.MaxSteps <= 0 {
		budget.MaxSteps = a.runtime.MaxSteps
	}
	return budget
}

func (a *Agent) promptFor(task *models.Task) string {
	if prompt, ok := task.Input["prompt"].(string); ok && prompt != "" {
		return prompt
	}
	raw, err := json.Marshal(task.Input)
	if err != nil {
		return task.Kind
	}
	return string(raw)
}

func (a *Agent) stepPrompt(step *PlannedStep, task *models.Task) string {
	if prompt, ok := step.Input["prompt"].(string); ok && prompt != "" {
		return prompt
	}
	return a.promptFor(task)
}

// mustAdvance moves along a legal edge; an illegal edge is a runtime bug
// and fails the task.
func (a *Agent) mustAdvance(state *TaskState, to Phase) {
	if err := state.advance(to); err != nil {
		slog.Error("Illegal phase transition", "task", state.TaskID, "error", err)
		state.Err = fault.Wrap(fault.CodeInternal, err, "state machine violation")
		state.Phase = PhaseFailed
	}
}

func (a *Agent) publish(eventType, correlationID string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.New(eventType, "agent", correlationID, payload))
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func findStep(steps []PlannedStep, id string) *PlannedStep {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

func lastRecord(state *TaskState) *StepRecord {
	if len(state.StepRecords) == 0 {
		return nil
	}
	return &state.StepRecords[len(state.StepRecords)-1]
}

// lastModelText returns the text of the most recent successful model step.
func lastModelText(state *TaskState) (string, bool) {
	for i := len(state.StepRecords) - 1; i >= 0; i-- {
		rec := state.StepRecords[i]
		if rec.Kind != StepModel || !rec.Success {
			continue
		}
		if out, ok := rec.Output.(map[string]any); ok {
			if text, ok := out["text"].(string); ok {
				return text, true
			}
		}
	}
	return "", false
}
