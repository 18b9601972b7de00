// Package session coordinates a set of agents under a named session with
// a declared isolation level. Registration is gated by the isolation
// policy, assignments hold bounded concurrency slots, and both emit
// events.
package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/dispatch"
	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/models"
	"github.com/praxis-platform/praxis/pkg/store"
)

// Session fences a group of agents. All methods are safe for concurrent
// use.
type Session struct {
	id            string
	name          string
	isolation     config.IsolationLevel
	trustFloor    int
	maxConcurrent int
	allowList     map[string]bool

	bus   *events.Bus
	cache *store.Store

	mu         sync.Mutex
	agents     map[string]*config.AgentConfig
	active     int
	dispatcher *dispatch.Dispatcher
}

// Assignment is a granted task-to-agent binding holding one concurrency
// slot until released.
type Assignment struct {
	TaskID   string
	AgentID  string
	Decision *dispatch.Decision

	release sync.Once
	session *Session
}

// Release frees the assignment's concurrency slot. Safe to call more
// than once.
func (a *Assignment) Release() {
	a.release.Do(func() {
		a.session.mu.Lock()
		if a.session.active > 0 {
			a.session.active--
		}
		dispatcher := a.session.dispatcher
		a.session.mu.Unlock()
		if a.Decision != nil && dispatcher != nil {
			dispatcher.Release(a.AgentID)
		}
	})
}

// New creates a session from its configuration and announces it on the
// bus. The cache backs routing decisions for strategy assignments.
func New(cfg *config.SessionConfig, cache *store.Store, bus *events.Bus) (*Session, error) {
	if cfg == nil || cfg.Name == "" {
		return nil, fault.New(fault.CodeValidation, "session requires a name")
	}
	isolation := cfg.Isolation
	if isolation == "" {
		isolation = config.IsolationModerate
	}
	if !isolation.IsValid() {
		return nil, fault.New(fault.CodeValidation, "invalid isolation level %q", cfg.Isolation)
	}

	s := &Session{
		id:            uuid.NewString(),
		name:          cfg.Name,
		isolation:     isolation,
		trustFloor:    cfg.TrustFloor,
		maxConcurrent: cfg.MaxConcurrentOperations,
		allowList:     make(map[string]bool, len(cfg.AllowList)),
		bus:           bus,
		cache:         cache,
		agents:        make(map[string]*config.AgentConfig),
	}
	for _, name := range cfg.AllowList {
		s.allowList[name] = true
	}

	s.publish(events.EventTypeSessionCreated, events.SessionCreatedPayload{
		SessionID: s.id,
		Name:      s.name,
		Isolation: string(s.isolation),
	})
	return s, nil
}

// ID returns the session's identity.
func (s *Session) ID() string { return s.id }

// RegisterAgent admits an agent into the session. Validation checks the
// spec itself; admission is then decided by the isolation policy.
// Duplicate registrations are rejected.
func (s *Session) RegisterAgent(name string, spec *config.AgentConfig, validate bool) error {
	if name == "" || spec == nil {
		return fault.New(fault.CodeValidation, "agent registration requires a name and a spec")
	}
	if validate {
		if spec.TrustLevel < 0 || spec.TrustLevel > 10 {
			return fault.New(fault.CodeValidation, "agent %s trust level %d out of range", name, spec.TrustLevel)
		}
		if spec.Isolation != "" && !spec.Isolation.IsValid() {
			return fault.New(fault.CodeValidation, "agent %s has invalid isolation %q", name, spec.Isolation)
		}
	}
	if err := s.admit(name, spec); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.agents[name]; exists {
		s.mu.Unlock()
		return fault.New(fault.CodeValidation, "agent %s already registered", name)
	}
	s.agents[name] = spec
	s.dispatcher = nil
	s.mu.Unlock()

	s.publish(events.EventTypeAgentRegistered, events.AgentRegisteredPayload{
		SessionID:  s.id,
		AgentID:    name,
		TrustLevel: spec.TrustLevel,
	})
	return nil
}

// admit applies the isolation policy to a registration.
func (s *Session) admit(name string, spec *config.AgentConfig) error {
	switch s.isolation {
	case config.IsolationStrict:
		if !s.allowList[name] && spec.TrustLevel < s.trustFloor {
			return fault.New(fault.CodeSecurityViolation,
				"agent %s is neither allow-listed nor above trust floor %d", name, s.trustFloor)
		}
	case config.IsolationModerate:
		if spec.TrustLevel < s.trustFloor {
			return fault.New(fault.CodeSecurityViolation,
				"agent %s trust %d below floor %d", name, spec.TrustLevel, s.trustFloor)
		}
	}
	return nil
}

// AssignTask binds a task to an agent and takes a concurrency slot. With
// a named agent the binding is direct; otherwise the routing policy
// chooses among the session's agents. The caller releases the returned
// assignment when the task finishes.
func (s *Session) AssignTask(task *models.Task, agentID string) (*Assignment, error) {
	if task == nil {
		return nil, fault.New(fault.CodeValidation, "nil task")
	}

	s.mu.Lock()
	if s.maxConcurrent > 0 && s.active >= s.maxConcurrent {
		s.mu.Unlock()
		return nil, fault.New(fault.CodeBusy,
			"session %s at max concurrent operations (%d)", s.name, s.maxConcurrent)
	}

	assignment := &Assignment{TaskID: task.ID, session: s}
	if agentID != "" {
		if _, ok := s.agents[agentID]; !ok {
			s.mu.Unlock()
			return nil, fault.New(fault.CodeValidation, "agent %s not registered in session %s", agentID, s.name)
		}
		assignment.AgentID = agentID
		s.active++
		s.mu.Unlock()
	} else {
		// The slot is reserved before routing; Dispatch runs outside the
		// lock, so racing assignments must see the cap already taken.
		s.active++
		dispatcher := s.dispatcherLocked()
		s.mu.Unlock()

		decision, err := dispatcher.Dispatch(task, s.trustFloor)
		if err != nil {
			s.mu.Lock()
			if s.active > 0 {
				s.active--
			}
			s.mu.Unlock()
			return nil, err
		}
		assignment.AgentID = decision.SelectedAgent
		assignment.Decision = decision
	}

	s.publish(events.EventTypeTaskAssigned, events.TaskAssignedPayload{
		TaskID:    task.ID,
		AgentID:   assignment.AgentID,
		SessionID: s.id,
		RequestID: task.CorrelationID,
	})
	return assignment, nil
}

// dispatcherLocked returns the routing dispatcher over the current
// membership, rebuilding it after registrations. Caller holds mu.
func (s *Session) dispatcherLocked() *dispatch.Dispatcher {
	if s.dispatcher == nil {
		members := make(map[string]*config.AgentConfig, len(s.agents))
		for name, spec := range s.agents {
			members[name] = spec
		}
		// The session publishes its own assignment events, so the inner
		// dispatcher stays off the bus.
		s.dispatcher = dispatch.NewDispatcher(config.NewAgentRegistry(members), s.cache, nil)
	}
	return s.dispatcher
}

// Agents returns the registered agent names in sorted order.
func (s *Session) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveOperations returns the number of held concurrency slots.
func (s *Session) ActiveOperations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) publish(eventType string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.New(eventType, "session", s.id, payload))
}
