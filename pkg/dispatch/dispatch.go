// Package dispatch routes tasks onto agents. An agent is eligible when its
// capabilities form a superset of the task's required capabilities; ties are
// broken by trust level, then observed load, then a deterministic hash so
// routing is stable across identical inputs.
package dispatch

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/models"
	"github.com/praxis-platform/praxis/pkg/store"
)

// PolicyVersion identifies the routing rule set recorded on decisions.
const PolicyVersion = "routing/1"

// decisionTTL bounds how long explain() can retrieve a past decision.
const decisionTTL = 5 * time.Minute

// Candidate is one agent considered during a dispatch, with the outcome of
// its evaluation.
type Candidate struct {
	AgentID    string `json:"agent_id"`
	TrustLevel int    `json:"trust_level"`
	Load       int    `json:"load"`
	Eligible   bool   `json:"eligible"`
	Reason     string `json:"reason,omitempty"`
}

// Decision records how one task was routed.
type Decision struct {
	RequestID     string      `json:"request_id"`
	TaskID        string      `json:"task_id"`
	SelectedAgent string      `json:"selected_agent"`
	Candidates    []Candidate `json:"candidates"`
	AppliedRules  []string    `json:"applied_rules"`
	PolicyVersion string      `json:"policy_version"`
	DecidedAt     time.Time   `json:"decided_at"`
}

// Dispatcher selects agents for tasks and tracks per-agent load. Decisions
// are cached so callers can retrieve the reasoning afterwards.
//
// Lock ordering: mu guards loads only; the cache has its own discipline.
type Dispatcher struct {
	agents *config.AgentRegistry
	cache  *store.Store
	bus    *events.Bus

	mu    sync.Mutex
	loads map[string]int
}

// NewDispatcher creates a dispatcher over the agent registry. cache holds
// recent decisions for Explain; bus may be nil.
func NewDispatcher(agents *config.AgentRegistry, cache *store.Store, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		agents: agents,
		cache:  cache,
		bus:    bus,
		loads:  make(map[string]int),
	}
}

// Dispatch selects an agent for the task. trustFloor is the session's
// isolation floor; agents below it are reported as candidates but never
// selected. The winner's load is incremented; callers release it with
// Release when the task finishes.
func (d *Dispatcher) Dispatch(task *models.Task, trustFloor int) (*Decision, error) {
	if task == nil || task.ID == "" {
		return nil, fault.New(fault.CodeValidation, "task must have an id")
	}

	decision := &Decision{
		RequestID:     requestID(task),
		TaskID:        task.ID,
		PolicyVersion: PolicyVersion,
		DecidedAt:     time.Now().UTC(),
	}

	d.mu.Lock()
	var eligible []Candidate
	for _, name := range d.agents.Names() {
		agent, err := d.agents.Get(name)
		if err != nil {
			continue
		}
		c := Candidate{AgentID: name, TrustLevel: agent.TrustLevel, Load: d.loads[name]}
		switch {
		case !hasAllCapabilities(agent.Capabilities, task.RequiredCapabilities):
			c.Reason = "missing capability"
		case agent.TrustLevel < trustFloor:
			c.Reason = "below trust floor"
		default:
			c.Eligible = true
		}
		decision.Candidates = append(decision.Candidates, c)
		if c.Eligible {
			eligible = append(eligible, c)
		}
	}

	if len(eligible) == 0 {
		d.mu.Unlock()
		d.cacheDecision(decision)
		return decision, fault.New(fault.CodeNotSupported,
			"no agent satisfies capabilities %v at trust floor %d", task.RequiredCapabilities, trustFloor)
	}

	winner := pickWinner(task.ID, eligible, &decision.AppliedRules)
	decision.SelectedAgent = winner
	d.loads[winner]++
	d.mu.Unlock()

	d.cacheDecision(decision)
	if d.bus != nil {
		d.bus.Publish(events.New(events.EventTypeTaskAssigned, "dispatch", task.CorrelationID, events.TaskAssignedPayload{
			TaskID:    task.ID,
			AgentID:   winner,
			RequestID: decision.RequestID,
		}))
	}
	slog.Debug("Task dispatched", "task", task.ID, "agent", winner, "rules", decision.AppliedRules)
	return decision, nil
}

// Release decrements the agent's load after its task finishes.
func (d *Dispatcher) Release(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loads[agentID] > 0 {
		d.loads[agentID]--
	}
}

// Load returns the agent's current observed load.
func (d *Dispatcher) Load(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads[agentID]
}

// Explain retrieves a cached decision by request id. Decisions expire after
// a short TTL.
func (d *Dispatcher) Explain(requestID string) (*Decision, bool) {
	if d.cache == nil {
		return nil, false
	}
	v, ok := d.cache.Get("dispatch:" + requestID)
	if !ok {
		return nil, false
	}
	decision, ok := v.(*Decision)
	return decision, ok
}

func (d *Dispatcher) cacheDecision(decision *Decision) {
	if d.cache == nil {
		return
	}
	d.cache.Set("dispatch:"+decision.RequestID, decision, store.WithTTL(decisionTTL))
}

// pickWinner applies the tie-break chain over eligible candidates and
// records which rules actually discriminated.
func pickWinner(taskID string, eligible []Candidate, applied *[]string) string {
	*applied = append(*applied, "capability-superset")

	best := maxTrust(eligible)
	eligible = filterCandidates(eligible, func(c Candidate) bool { return c.TrustLevel == best })
	if len(eligible) == 1 {
		*applied = append(*applied, "highest-trust")
		return eligible[0].AgentID
	}

	low := minLoad(eligible)
	eligible = filterCandidates(eligible, func(c Candidate) bool { return c.Load == low })
	if len(eligible) == 1 {
		*applied = append(*applied, "highest-trust", "lowest-load")
		return eligible[0].AgentID
	}

	// Stable routing: identical (task, candidate set) always picks the
	// same agent.
	sort.Slice(eligible, func(i, j int) bool {
		return routeHash(taskID, eligible[i].AgentID) < routeHash(taskID, eligible[j].AgentID)
	})
	*applied = append(*applied, "highest-trust", "lowest-load", "stable-hash")
	return eligible[0].AgentID
}

func routeHash(taskID, agentID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(taskID))
	h.Write([]byte{0})
	h.Write([]byte(agentID))
	return h.Sum64()
}

func requestID(task *models.Task) string {
	if task.CorrelationID != "" {
		return task.CorrelationID
	}
	return task.ID
}

func hasAllCapabilities(have, need []string) bool {
	for _, n := range need {
		found := false
		for _, h := range have {
			if h == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func maxTrust(cs []Candidate) int {
	best := cs[0].TrustLevel
	for _, c := range cs[1:] {
		if c.TrustLevel > best {
			best = c.TrustLevel
		}
	}
	return best
}

func minLoad(cs []Candidate) int {
	low := cs[0].Load
	for _, c := range cs[1:] {
		if c.Load < low {
			low = c.Load
		}
	}
	return low
}

func filterCandidates(cs []Candidate, keep func(Candidate) bool) []Candidate {
	out := cs[:0:0]
	for _, c := range cs {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
