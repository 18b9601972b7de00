// Package orchestrator composes sub-agents into workflows. Each workflow
// node delegates a subtask through the dispatcher onto an agent; node
// results merge into one composite artifact. Failure handling is chosen by
// the workflow strategy: sequential aborts, parallel reports partial
// results, hierarchical runs the nearest compensator, adaptive replans the
// failed node once.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/dispatch"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/models"
)

// AgentRunner executes one task on a named agent. The concrete runner is
// wired at startup; tests substitute scripted runners.
type AgentRunner interface {
	Run(ctx context.Context, agentID string, task *models.Task) (*models.TaskResult, error)
}

// RunnerFunc adapts a function to AgentRunner.
type RunnerFunc func(ctx context.Context, agentID string, task *models.Task) (*models.TaskResult, error)

func (f RunnerFunc) Run(ctx context.Context, agentID string, task *models.Task) (*models.TaskResult, error) {
	return f(ctx, agentID, task)
}

// Node is one sub-agent delegation in a workflow. AgentID pins the node to
// a specific agent; when empty the dispatcher chooses. Parent names the
// node whose compensator handles this node's failure under the
// hierarchical strategy.
type Node struct {
	ID         string       `json:"id"`
	Task       *models.Task `json:"task"`
	AgentID    string       `json:"agent_id,omitempty"`
	Parent     string       `json:"parent,omitempty"`
	Compensate *models.Task `json:"compensate,omitempty"`
}

// Workflow is a directed plan of sub-agent nodes under one strategy.
type Workflow struct {
	ID         string                       `json:"id"`
	Strategy   config.OrchestrationStrategy `json:"strategy"`
	Nodes      []Node                       `json:"nodes"`
	TrustFloor int                          `json:"trust_floor"`
}

// NodeOutcome is the result of one node, including any compensation run.
type NodeOutcome struct {
	NodeID      string             `json:"node_id"`
	AgentID     string             `json:"agent_id,omitempty"`
	Result      *models.TaskResult `json:"result,omitempty"`
	Err         string             `json:"error,omitempty"`
	Compensated bool               `json:"compensated,omitempty"`
}

// Result is the composite artifact of a workflow run.
type Result struct {
	WorkflowID string                  `json:"workflow_id"`
	Success    bool                    `json:"success"`
	Partial    bool                    `json:"partial"`
	Replanned  bool                    `json:"replanned,omitempty"`
	Outcomes   map[string]*NodeOutcome `json:"outcomes"`
	Merged     map[string]any          `json:"merged"`
}

// Orchestrator runs workflows over the dispatcher and an agent runner.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
	runner     AgentRunner
}

// New creates an orchestrator. Both dependencies are required.
func New(dispatcher *dispatch.Dispatcher, runner AgentRunner) (*Orchestrator, error) {
	if dispatcher == nil {
		return nil, fault.New(fault.CodeValidation, "orchestrator requires a dispatcher")
	}
	if runner == nil {
		return nil, fault.New(fault.CodeValidation, "orchestrator requires an agent runner")
	}
	return &Orchestrator{dispatcher: dispatcher, runner: runner}, nil
}

// Run executes the workflow under its strategy and merges node payloads
// into the composite result. The returned error is non-nil whenever the
// workflow did not fully succeed; partial results are in the Result either
// way.
func (o *Orchestrator) Run(ctx context.Context, wf *Workflow) (*Result, error) {
	if err := validateWorkflow(wf); err != nil {
		return nil, err
	}

	result := &Result{
		WorkflowID: wf.ID,
		Outcomes:   make(map[string]*NodeOutcome, len(wf.Nodes)),
		Merged:     make(map[string]any),
	}

	var err error
	switch wf.Strategy {
	case config.StrategySequential:
		err = o.runSequential(ctx, wf, result)
	case config.StrategyParallel:
		err = o.runParallel(ctx, wf, result)
	case config.StrategyHierarchical:
		err = o.runHierarchical(ctx, wf, result)
	case config.StrategyAdaptive:
		err = o.runAdaptive(ctx, wf, result)
	default:
		return nil, fault.New(fault.CodeNotSupported, "unknown strategy %q", wf.Strategy)
	}

	o.merge(result)
	result.Success = err == nil
	return result, err
}

// runSequential executes nodes in order and aborts on the first failure.
func (o *Orchestrator) runSequential(ctx context.Context, wf *Workflow, result *Result) error {
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		outcome := o.runNode(ctx, wf, node, node.Task)
		result.Outcomes[node.ID] = outcome
		if outcome.Err != "" {
			result.Partial = i > 0
			return fault.New(fault.CodeInternal, "node %s failed: %s", node.ID, outcome.Err)
		}
	}
	return nil
}

// runParallel executes all nodes concurrently and collects every result;
// any failure marks the workflow partial.
func (o *Orchestrator) runParallel(ctx context.Context, wf *Workflow, result *Result) error {
	outcomes := make([]*NodeOutcome, len(wf.Nodes))
	var wg sync.WaitGroup
	for i := range wf.Nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node := &wf.Nodes[i]
			outcomes[i] = o.runNode(ctx, wf, node, node.Task)
		}(i)
	}
	wg.Wait()

	failed := 0
	for i, outcome := range outcomes {
		result.Outcomes[wf.Nodes[i].ID] = outcome
		if outcome.Err != "" {
			failed++
		}
	}
	if failed > 0 {
		result.Partial = failed < len(wf.Nodes)
		return fault.New(fault.CodeInternal, "%d of %d nodes failed", failed, len(wf.Nodes))
	}
	return nil
}

// runHierarchical executes nodes in order; a failed node escalates to the
// nearest ancestor carrying a compensator. Successful compensation lets
// the workflow continue as partial.
func (o *Orchestrator) runHierarchical(ctx context.Context, wf *Workflow, result *Result) error {
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		outcome := o.runNode(ctx, wf, node, node.Task)
		result.Outcomes[node.ID] = outcome
		if outcome.Err == "" {
			continue
		}

		compensate := findCompensator(wf, node)
		if compensate == nil {
			return fault.New(fault.CodeInternal, "node %s failed with no compensator: %s", node.ID, outcome.Err)
		}
		slog.Info("Running compensator for failed node", "workflow", wf.ID, "node", node.ID)
		comp := o.runNode(ctx, wf, node, compensate)
		if comp.Err != "" {
			return fault.New(fault.CodeInternal, "node %s failed and compensation failed: %s", node.ID, comp.Err)
		}
		outcome.Compensated = true
		outcome.Result = comp.Result
		outcome.Err = ""
		result.Partial = true
	}
	return nil
}

// runAdaptive executes nodes in order; the first failure is replanned once
// by retrying the node with a recovery-marked input. A second failure
// aborts.
func (o *Orchestrator) runAdaptive(ctx context.Context, wf *Workflow, result *Result) error {
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		outcome := o.runNode(ctx, wf, node, node.Task)
		if outcome.Err != "" && !result.Replanned {
			result.Replanned = true
			retry := recoveryTask(node.Task)
			slog.Info("Replanning failed node", "workflow", wf.ID, "node", node.ID)
			outcome = o.runNode(ctx, wf, node, retry)
		}
		result.Outcomes[node.ID] = outcome
		if outcome.Err != "" {
			result.Partial = i > 0
			return fault.New(fault.CodeInternal, "node %s failed after replan: %s", node.ID, outcome.Err)
		}
	}
	return nil
}

// runNode dispatches (unless pinned) and executes one task. Only a
// dispatched node holds a load slot; pinned nodes never acquired one and
// must not release.
func (o *Orchestrator) runNode(ctx context.Context, wf *Workflow, node *Node, task *models.Task) *NodeOutcome {
	outcome := &NodeOutcome{NodeID: node.ID}

	agentID := node.AgentID
	if agentID == "" {
		decision, err := o.dispatcher.Dispatch(task, wf.TrustFloor)
		if err != nil {
			outcome.Err = err.Error()
			return outcome
		}
		agentID = decision.SelectedAgent
		defer o.dispatcher.Release(agentID)
	}
	outcome.AgentID = agentID

	taskResult, err := o.runner.Run(ctx, agentID, task)
	outcome.Result = taskResult
	if err != nil {
		outcome.Err = err.Error()
	} else if taskResult != nil && !taskResult.Success {
		outcome.Err = taskResult.Error
	}
	return outcome
}

// merge folds successful node payloads into the composite artifact keyed
// by node id.
func (o *Orchestrator) merge(result *Result) {
	for id, outcome := range result.Outcomes {
		if outcome.Err != "" || outcome.Result == nil {
			continue
		}
		result.Merged[id] = outcome.Result.Payload
	}
}

// findCompensator walks the parent chain for the nearest compensate task.
func findCompensator(wf *Workflow, node *Node) *models.Task {
	seen := map[string]bool{}
	current := node
	for current != nil && !seen[current.ID] {
		seen[current.ID] = true
		if current.Compensate != nil {
			return current.Compensate
		}
		if current.Parent == "" {
			return nil
		}
		current = findNode(wf, current.Parent)
	}
	return nil
}

func findNode(wf *Workflow, id string) *Node {
	for i := range wf.Nodes {
		if wf.Nodes[i].ID == id {
			return &wf.Nodes[i]
		}
	}
	return nil
}

func recoveryTask(task *models.Task) *models.Task {
	retry := *task
	retry.Input = make(map[string]any, len(task.Input)+1)
	for k, v := range task.Input {
		retry.Input[k] = v
	}
	retry.Input["recovery"] = true
	return &retry
}

func validateWorkflow(wf *Workflow) error {
	if wf == nil || len(wf.Nodes) == 0 {
		return fault.New(fault.CodeValidation, "workflow must have at least one node")
	}
	if !wf.Strategy.IsValid() {
		return fault.New(fault.CodeValidation, "invalid strategy %q", wf.Strategy)
	}
	ids := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.ID == "" {
			return fault.New(fault.CodeValidation, "workflow node missing id")
		}
		if ids[node.ID] {
			return fault.New(fault.CodeValidation, "duplicate node id %s", node.ID)
		}
		ids[node.ID] = true
		if node.Task == nil {
			return fault.New(fault.CodeValidation, "node %s missing task", node.ID)
		}
		if node.Parent != "" && findNode(wf, node.Parent) == nil {
			return fault.New(fault.CodeValidation, "node %s references unknown parent %s", node.ID, node.Parent)
		}
	}
	return nil
}
