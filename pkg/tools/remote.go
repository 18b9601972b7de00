package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/praxis-platform/praxis/pkg/circuit"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/version"
)

// RemoteEndpoint describes one MCP server whose tools are mirrored into
// the catalog. Either URL (streamable HTTP) or Command (stdio subprocess)
// must be set.
type RemoteEndpoint struct {
	ID      string
	URL     string
	Command string
	Args    []string
	Env     map[string]string
}

// SourceHealth is the last observed condition of one remote source.
type SourceHealth struct {
	SourceID  string    `json:"source_id"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

const remoteOpTimeout = 30 * time.Second

// RemoteSource connects to MCP servers and mirrors their tools into the
// registry under "<sourceID>.<tool>" names. A background loop refreshes
// the mirror; sync mode disables the loop and refreshes only on demand.
// Calls to mirrored tools run through a per-source circuit breaker.
type RemoteSource struct {
	registry *Registry
	breakers *circuit.Registry

	endpoints       []RemoteEndpoint
	refreshInterval time.Duration
	syncMode        bool

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
	mirrored map[string]map[string]bool // sourceID → mirrored tool names

	statusesMu sync.RWMutex
	statuses   map[string]*SourceHealth

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewRemoteSource creates a source over the given endpoints. breakers may
// be nil to disable circuit guarding.
func NewRemoteSource(registry *Registry, breakers *circuit.Registry, endpoints []RemoteEndpoint, refreshInterval time.Duration, syncMode bool) *RemoteSource {
	return &RemoteSource{
		registry:        registry,
		breakers:        breakers,
		endpoints:       endpoints,
		refreshInterval: refreshInterval,
		syncMode:        syncMode,
		sessions:        make(map[string]*mcpsdk.ClientSession),
		mirrored:        make(map[string]map[string]bool),
		statuses:        make(map[string]*SourceHealth),
		logger:          slog.Default(),
	}
}

// Start connects to all endpoints, runs the first refresh synchronously,
// and launches the refresh loop unless sync mode is on. Calling Start on a
// running source is a no-op.
func (s *RemoteSource) Start(ctx context.Context) error {
	if s.cancel != nil {
		return nil
	}

	for _, ep := range s.endpoints {
		if err := s.connect(ctx, ep); err != nil {
			s.setStatus(ep.ID, false, err.Error(), 0)
			s.logger.Warn("Remote tool source failed to connect", "source", ep.ID, "error", err)
		}
	}

	s.Refresh(ctx)

	if s.syncMode {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	return nil
}

// Stop shuts down the refresh loop and closes all sessions. After Stop
// returns, Start may be called again.
func (s *RemoteSource) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
		s.done = nil
	}

	s.mu.Lock()
	for id, session := range s.sessions {
		if err := session.Close(); err != nil {
			s.logger.Warn("Failed to close remote source session", "source", id, "error", err)
		}
	}
	s.sessions = make(map[string]*mcpsdk.ClientSession)
	s.mu.Unlock()

	s.statusesMu.Lock()
	s.statuses = make(map[string]*SourceHealth)
	s.statusesMu.Unlock()
}

func (s *RemoteSource) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh re-lists tools from every endpoint and reconciles the mirror:
// new tools are registered, vanished tools are unregistered. Each source's
// health status reflects the outcome.
func (s *RemoteSource) Refresh(ctx context.Context) {
	for _, ep := range s.endpoints {
		s.refreshSource(ctx, ep)
	}
}

func (s *RemoteSource) refreshSource(ctx context.Context, ep RemoteEndpoint) {
	session := s.session(ep.ID)
	if session == nil {
		if err := s.connect(ctx, ep); err != nil {
			s.setStatus(ep.ID, false, err.Error(), 0)
			return
		}
		session = s.session(ep.ID)
	}

	listed, err := s.listTools(ctx, ep.ID, session)
	if err != nil {
		// Drop the session so the next refresh reconnects.
		s.mu.Lock()
		if stale, ok := s.sessions[ep.ID]; ok {
			_ = stale.Close()
			delete(s.sessions, ep.ID)
		}
		s.mu.Unlock()
		s.setStatus(ep.ID, false, err.Error(), 0)
		s.logger.Warn("Remote tool source refresh failed", "source", ep.ID, "error", err)
		return
	}

	current := make(map[string]bool, len(listed))
	for _, remote := range listed {
		name := ep.ID + "." + remote.Name
		current[name] = true
		if s.registry.Has(name) {
			continue
		}
		tool := s.mirrorTool(ep.ID, name, remote)
		if err := s.registry.Register(tool); err != nil && !errors.Is(err, ErrDuplicateTool) {
			s.logger.Warn("Failed to mirror remote tool", "source", ep.ID, "tool", remote.Name, "error", err)
			delete(current, name)
		}
	}

	// Unregister tools the source no longer offers.
	s.mu.Lock()
	previous := s.mirrored[ep.ID]
	s.mirrored[ep.ID] = current
	s.mu.Unlock()
	for name := range previous {
		if !current[name] {
			s.registry.Unregister(name)
			s.logger.Info("Remote tool removed from catalog", "tool", name)
		}
	}

	s.setStatus(ep.ID, true, "", len(current))
}

// mirrorTool builds the local catalog entry delegating to the remote tool.
func (s *RemoteSource) mirrorTool(sourceID, name string, remote *mcpsdk.Tool) *Tool {
	schema := schemaToMap(remote.InputSchema)
	remoteName := remote.Name

	return &Tool{
		Definition: Definition{
			Name:        name,
			Description: remote.Description,
			InputSchema: schema,
			Category:    "remote",
			Version:     "1.0.0",
			External:    true,
		},
		Handler: func(ctx context.Context, args map[string]any) (*ExecResult, error) {
			return s.callRemote(ctx, sourceID, remoteName, args)
		},
	}
}

func (s *RemoteSource) callRemote(ctx context.Context, sourceID, toolName string, args map[string]any) (*ExecResult, error) {
	session := s.session(sourceID)
	if session == nil {
		return nil, fault.New(fault.CodeToolExecutionFailed, "no session for source %s", sourceID)
	}

	op := func(ctx context.Context) (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, remoteOpTimeout)
		defer cancel()
		return session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	}

	var raw any
	var err error
	if s.breakers != nil {
		raw, err = s.breakers.Get("toolsource:"+sourceID).Execute(ctx, op, nil)
	} else {
		raw, err = op(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.CodeCancelled, ctx.Err(), "remote call aborted")
		}
		return nil, fault.Wrap(fault.CodeToolExecutionFailed, err, "remote tool %s.%s", sourceID, toolName)
	}

	result, err := toolCallResult(raw, sourceID, toolName)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fault.New(fault.CodeToolExecutionFailed, "remote tool %s.%s reported an error", sourceID, toolName)
	}

	var texts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return &ExecResult{Output: map[string]any{"content": texts}}, nil
}

// toolCallResult narrows the breaker's untyped return. A mismatch is a
// failed call, not a panic.
func toolCallResult(raw any, sourceID, toolName string) (*mcpsdk.CallToolResult, error) {
	result, ok := raw.(*mcpsdk.CallToolResult)
	if !ok {
		return nil, fault.New(fault.CodeToolExecutionFailed,
			"remote tool %s.%s returned unexpected result type %T", sourceID, toolName, raw)
	}
	return result, nil
}

func (s *RemoteSource) listTools(ctx context.Context, sourceID string, session *mcpsdk.ClientSession) ([]*mcpsdk.Tool, error) {
	op := func(ctx context.Context) (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, remoteOpTimeout)
		defer cancel()
		result, err := session.ListTools(opCtx, nil)
		if err != nil {
			return nil, fmt.Errorf("list tools from %q: %w", sourceID, err)
		}
		return result.Tools, nil
	}

	var raw any
	var err error
	if s.breakers != nil {
		raw, err = s.breakers.Get("toolsource:"+sourceID).Execute(ctx, op, nil)
	} else {
		raw, err = op(ctx)
	}
	if err != nil {
		return nil, err
	}
	tools, _ := raw.([]*mcpsdk.Tool)
	return tools, nil
}

func (s *RemoteSource) connect(ctx context.Context, ep RemoteEndpoint) error {
	transport, err := buildTransport(ep)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, remoteOpTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to %q: %w", ep.ID, err)
	}

	s.mu.Lock()
	s.sessions[ep.ID] = session
	s.mu.Unlock()
	s.logger.Info("Remote tool source connected", "source", ep.ID)
	return nil
}

func buildTransport(ep RemoteEndpoint) (mcpsdk.Transport, error) {
	switch {
	case ep.URL != "":
		return &mcpsdk.StreamableClientTransport{Endpoint: ep.URL}, nil
	case ep.Command != "":
		cmd := exec.Command(ep.Command, ep.Args...)
		env := os.Environ()
		for k, v := range ep.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	default:
		return nil, fmt.Errorf("endpoint %q needs a url or command", ep.ID)
	}
}

func (s *RemoteSource) session(sourceID string) *mcpsdk.ClientSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sourceID]
}

func (s *RemoteSource) setStatus(sourceID string, healthy bool, errMsg string, toolCount int) {
	s.statusesMu.Lock()
	defer s.statusesMu.Unlock()
	s.statuses[sourceID] = &SourceHealth{
		SourceID:  sourceID,
		Healthy:   healthy,
		LastCheck: time.Now(),
		Error:     errMsg,
		ToolCount: toolCount,
	}
}

// Statuses returns the current health of all sources.
func (s *RemoteSource) Statuses() map[string]*SourceHealth {
	s.statusesMu.RLock()
	defer s.statusesMu.RUnlock()
	out := make(map[string]*SourceHealth, len(s.statuses))
	for k, v := range s.statuses {
		cp := *v
		out[k] = &cp
	}
	return out
}

// Healthy reports whether every source passed its last refresh. False
// before the first refresh completes.
func (s *RemoteSource) Healthy() bool {
	s.statusesMu.RLock()
	defer s.statusesMu.RUnlock()
	if len(s.statuses) == 0 {
		return false
	}
	for _, st := range s.statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// schemaToMap converts an SDK schema into the catalog's map form.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
