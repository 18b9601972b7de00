package events

// Typed payloads for the canonical event catalog. Every payload is a plain
// value struct: subscribers receive copies and never share mutable state
// with the publisher.

// AgentStartedPayload is the payload for agent.started events.
type AgentStartedPayload struct {
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Kind      string `json:"kind"`
}

// AgentCompletedPayload is the payload for agent.completed events.
type AgentCompletedPayload struct {
	TaskID        string         `json:"task_id"`
	AgentID       string         `json:"agent_id"`
	ResultPayload any            `json:"result_payload,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

// AgentFailedPayload is the payload for agent.failed events. It carries the
// same fields as user-facing errors so subscribers need no second lookup.
type AgentFailedPayload struct {
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Status    int    `json:"status,omitempty"`
	Phase     string `json:"phase"`
	Reason    string `json:"reason,omitempty"`
}

// ProviderFallbackPayload is the payload for provider.fallback events.
type ProviderFallbackPayload struct {
	FailedProvider string `json:"failed_provider"`
	Reason         string `json:"reason"`
	NextProvider   string `json:"next_provider,omitempty"`
}

// ProviderSuccessPayload is the payload for provider.success events.
type ProviderSuccessPayload struct {
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Attempt   int    `json:"attempt"`
}

// ToolMappingStartedPayload is the payload for tool.mapping.started events.
type ToolMappingStartedPayload struct {
	ToolType string `json:"tool_type"`
}

// ToolMappingCompletedPayload is the payload for tool.mapping.completed events.
type ToolMappingCompletedPayload struct {
	ToolType     string  `json:"tool_type"`
	MappedTool   string  `json:"mapped_tool,omitempty"`
	FallbackUsed bool    `json:"fallback_used"`
	FromCache    bool    `json:"from_cache"`
	Confidence   float64 `json:"confidence"`
	ProcessingMS int64   `json:"processing_ms"`
}

// ToolMappingErrorPayload is the payload for tool.mapping.error events.
type ToolMappingErrorPayload struct {
	ToolType       string `json:"tool_type"`
	SecurityReason string `json:"security_reason,omitempty"`
	Message        string `json:"message"`
}

// ToolCallPayload is the payload for tool.call.* events.
type ToolCallPayload struct {
	TaskID    string `json:"task_id"`
	Tool      string `json:"tool"`
	StepID    string `json:"step_id"`
	Success   bool   `json:"success"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

// CircuitStateChangedPayload is the payload for circuit.state.changed events.
type CircuitStateChangedPayload struct {
	Resource string `json:"resource"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// CircuitTimeoutPayload is the payload for circuit.timeout events.
type CircuitTimeoutPayload struct {
	Resource  string `json:"resource"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// TaskAssignedPayload is the payload for task.assigned events.
type TaskAssignedPayload struct {
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SessionCreatedPayload is the payload for session.created events.
type SessionCreatedPayload struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Isolation string `json:"isolation"`
}

// AgentRegisteredPayload is the payload for session.agent.registered events.
type AgentRegisteredPayload struct {
	SessionID  string `json:"session_id"`
	AgentID    string `json:"agent_id"`
	TrustLevel int    `json:"trust_level"`
}

// HandlerFailedPayload is the payload for bus.handler.failed events.
type HandlerFailedPayload struct {
	Pattern   string `json:"pattern"`
	EventType string `json:"event_type"`
	Panic     string `json:"panic"`
}
