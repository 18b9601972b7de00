// Praxis runtime server: loads configuration, wires the provider chain,
// tool catalog, routing, and worker pool, exposes a small task intake and
// health surface, and seals an audit artifact of everything it ran on
// shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/praxis-platform/praxis/pkg/agent"
	"github.com/praxis-platform/praxis/pkg/audit"
	"github.com/praxis-platform/praxis/pkg/circuit"
	"github.com/praxis-platform/praxis/pkg/cleanup"
	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/dispatch"
	"github.com/praxis-platform/praxis/pkg/events"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/llm"
	"github.com/praxis-platform/praxis/pkg/masking"
	"github.com/praxis-platform/praxis/pkg/models"
	"github.com/praxis-platform/praxis/pkg/orchestrator"
	"github.com/praxis-platform/praxis/pkg/queue"
	"github.com/praxis-platform/praxis/pkg/session"
	"github.com/praxis-platform/praxis/pkg/store"
	"github.com/praxis-platform/praxis/pkg/telemetry"
	"github.com/praxis-platform/praxis/pkg/tools"
	"github.com/praxis-platform/praxis/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func boolOr(v *bool, defaultValue bool) bool {
	if v != nil {
		return *v
	}
	return defaultValue
}

// auditTrail accumulates one masked record per finished task and seals
// them into an artifact at shutdown.
type auditTrail struct {
	mu      sync.Mutex
	masker  *masking.Service
	records []audit.Record
	failed  int
}

func newAuditTrail(masker *masking.Service) *auditTrail {
	return &auditTrail{masker: masker}
}

func (t *auditTrail) collect(task *models.Task, res *queue.ExecutionResult) {
	rec := audit.Record{ID: task.ID, Success: res.Status == queue.StatusCompleted}
	if res.Result != nil && res.Result.Payload != nil {
		rec.Value = t.masker.MaskValue(res.Result.Payload)
	}
	if res.Err != nil {
		rec.Error = t.masker.Mask(res.Err.Error())
	} else if res.Result != nil && res.Result.Error != "" {
		rec.Error = t.masker.Mask(res.Result.Error)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
	if !rec.Success {
		t.failed++
	}
}

func (t *auditTrail) seal(cfg *config.AuditConfig, seed int64) (*audit.Artifact, error) {
	t.mu.Lock()
	records := make([]audit.Record, len(t.records))
	copy(records, t.records)
	failed := t.failed
	t.mu.Unlock()

	s := audit.OpenSession(seed, version.Full(), records)
	if err := s.AddClaim(audit.ClaimTotalTasks, len(records)); err != nil {
		return nil, err
	}
	if err := s.AddClaim("core.allSucceeded", failed == 0); err != nil {
		return nil, err
	}
	return s.Finalize(audit.FinalizeOptions{DigestAlgo: cfg.DigestAlgo})
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting Praxis",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()
	started := time.Now()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Resource tracking and the process error boundary
	manager := cleanup.NewResourceManager()
	boundary := cleanup.NewHandler(manager, true)
	defer boundary.Recover()

	// 3. Event bus and telemetry
	bus := events.NewBus()
	manager.Register("event bus", func() error {
		bus.Close()
		return nil
	})

	promReg := prometheus.NewRegistry()
	sink := telemetry.NewPromSink(promReg)

	// 4. Bounded store and boundary rate limiter
	cache := store.New(store.Options{
		MaxSize:    cfg.Store.MaxSize,
		MaxBytes:   cfg.Store.MaxBytes,
		DefaultTTL: cfg.Store.DefaultTTL,
		Policy:     store.EvictionPolicy(cfg.Store.Policy),
	})
	manager.Register("store", func() error {
		cache.Destroy()
		return nil
	})
	limiter := store.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)

	// 5. Circuit breakers shared by the chain and remote tool sources
	breakers := circuit.NewRegistry(circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		MonitoringPeriod: cfg.Circuit.MonitoringPeriod,
		ResetTimeout:     cfg.Circuit.ResetTimeout,
		CallTimeout:      cfg.Circuit.CallTimeout,
	}, bus)
	manager.Register("circuit breakers", func() error {
		breakers.ResetAll()
		return nil
	})

	// 6. Provider chain. Remote providers are adapters supplied by the
	// embedding process; the server binary only constructs in-process ones.
	var providers []llm.Provider
	for _, name := range cfg.Chain.Providers {
		pc, err := cfg.ProviderRegistry.Get(name)
		if err != nil {
			slog.Error("Chain references unknown provider", "provider", name)
			os.Exit(1)
		}
		switch pc.Type {
		case "stub":
			providers = append(providers, llm.NewStubProvider(name))
		default:
			slog.Warn("Provider type has no in-process adapter, skipping",
				"provider", name, "type", pc.Type)
		}
	}
	if len(providers) == 0 {
		slog.Error("No usable providers in chain", "configured", cfg.Chain.Providers)
		os.Exit(1)
	}

	chainLimit := rate.Limit(float64(cfg.RateLimit.MaxRequests) / cfg.RateLimit.Window.Seconds())
	chain := llm.NewChain(providers, breakers, bus, llm.ChainConfig{
		RetryAttempts:    cfg.Chain.RetryAttempts,
		BackoffBase:      cfg.Chain.BackoffBase,
		BackoffMax:       cfg.Chain.BackoffMax,
		ProviderTimeout:  cfg.Chain.ProviderTimeout,
		MaxTokensCeiling: cfg.Chain.MaxTokens,
		MaxInFlight:      cfg.Chain.MaxInFlight,
	}, llm.WithRateLimit(chainLimit, cfg.RateLimit.MaxRequests))
	slog.Info("Provider chain initialized", "providers", len(providers))

	// 7. Tool catalog, builtins, and the mapper
	wsDir := getEnv("WORKSPACE_DIR", "./workspace")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		slog.Error("Failed to create workspace directory", "dir", wsDir, "error", err)
		os.Exit(1)
	}
	workspace, err := tools.NewWorkspace(wsDir)
	if err != nil {
		slog.Error("Failed to resolve workspace", "dir", wsDir, "error", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry(bus, sink)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		Workspace:  workspace,
		AllowShell: os.Getenv("ALLOW_SHELL") == "true",
	}); err != nil {
		slog.Error("Failed to register builtin tools", "error", err)
		os.Exit(1)
	}

	mapper, err := tools.NewMapper(registry, cache, bus, sink, tools.MapperOptions{
		AllowExternalTools: boolOr(cfg.Mapper.AllowExternalTools, false),
		SafeFallbacks:      boolOr(cfg.Mapper.SafeFallbacks, true),
		MaxRetries:         cfg.Mapper.MaxRetries,
		FallbackTimeout:    cfg.Mapper.FallbackTimeout,
		SupportedToolTypes: cfg.Mapper.SupportedToolTypes,
		CacheTTL:           cfg.Mapper.CacheTTL,
	})
	if err != nil {
		slog.Error("Failed to create tool mapper", "error", err)
		os.Exit(1)
	}

	// Optional MCP tool mirrors, one endpoint per comma-separated URL.
	if raw := os.Getenv("REMOTE_TOOL_ENDPOINTS"); raw != "" {
		var endpoints []tools.RemoteEndpoint
		for i, u := range strings.Split(raw, ",") {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			endpoints = append(endpoints, tools.RemoteEndpoint{
				ID:  "remote-" + strconv.Itoa(i+1),
				URL: u,
			})
		}
		source := tools.NewRemoteSource(registry, breakers, endpoints,
			cfg.Mapper.RefreshInterval, cfg.Mapper.SyncMode)
		if err := source.Start(ctx); err != nil {
			slog.Error("Failed to start remote tool source", "error", err)
			os.Exit(1)
		}
		manager.Register("remote tool source", func() error {
			source.Stop()
			return nil
		})
		slog.Info("Remote tool sources started", "endpoints", len(endpoints))
	}

	masker := masking.NewService(getEnv("MASKING_GROUP", "security"))
	slog.Info("Masking service initialized", "patterns", masker.PatternNames())

	// 8. Coordination session and agents
	sess, err := session.New(cfg.Session, cache, bus)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		os.Exit(1)
	}

	agents := make(map[string]*agent.Agent)
	for _, name := range cfg.AgentRegistry.Names() {
		spec, err := cfg.AgentRegistry.Get(name)
		if err != nil {
			continue
		}
		if err := sess.RegisterAgent(name, spec, true); err != nil {
			slog.Warn("Agent rejected by session isolation policy",
				"agent", name, "error", err)
			continue
		}
		a, err := agent.CreateAgent(agent.Config{
			ID:      name,
			Name:    name,
			Spec:    spec,
			Chain:   chain,
			Bus:     bus,
			Tools:   registry,
			Mapper:  mapper,
			Runtime: cfg.Runtime,
			Sink:    sink,
		})
		if err != nil {
			slog.Error("Failed to construct agent", "agent", name, "error", err)
			os.Exit(1)
		}
		agents[name] = a
	}
	if len(agents) == 0 {
		slog.Error("No agents admitted to the session", "configured", cfg.AgentRegistry.Names())
		os.Exit(1)
	}
	slog.Info("Session ready", "session", cfg.Session.Name, "agents", sess.Agents())

	// 9. Orchestrator for multi-node workflows
	dispatcher := dispatch.NewDispatcher(cfg.AgentRegistry, cache, bus)
	runner := orchestrator.RunnerFunc(func(ctx context.Context, agentID string, task *models.Task) (*models.TaskResult, error) {
		a, ok := agents[agentID]
		if !ok {
			return nil, fault.New(fault.CodeNotSupported, "agent %s is not constructed in this process", agentID)
		}
		return a.Execute(ctx, task)
	})
	orch, err := orchestrator.New(dispatcher, runner)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	// 10. Worker pool over the session-routed executor
	trail := newAuditTrail(masker)
	executor := queue.ExecutorFunc(func(ctx context.Context, task *models.Task) *queue.ExecutionResult {
		assignment, err := sess.AssignTask(task, "")
		if err != nil {
			return &queue.ExecutionResult{Status: queue.StatusFailed, Err: err}
		}
		defer assignment.Release()

		a, ok := agents[assignment.AgentID]
		if !ok {
			return &queue.ExecutionResult{
				Status: queue.StatusFailed,
				Err:    fault.New(fault.CodeInternal, "assigned agent %s is not constructed", assignment.AgentID),
			}
		}
		result, err := a.Execute(ctx, task)
		return &queue.ExecutionResult{Result: result, Err: err}
	})

	pool, err := queue.NewPool(cfg.Queue, executor, sink, trail.collect)
	if err != nil {
		slog.Error("Failed to create worker pool", "error", err)
		os.Exit(1)
	}
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 11. HTTP surface: intake, health, metrics
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		health := pool.Health()
		w.Header().Set("Content-Type", "application/json")
		if !health.IsHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	mux.HandleFunc("POST /v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		var req struct {
			Kind                 string         `json:"kind"`
			Input                map[string]any `json:"input"`
			RequiredCapabilities []string       `json:"required_capabilities"`
			Priority             int            `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		task := models.NewTask(req.Kind, req.Input)
		task.RequiredCapabilities = req.RequiredCapabilities
		task.Priority = req.Priority
		if err := pool.Submit(task); err != nil {
			if fault.CodeOf(err) == fault.CodeBusy {
				writeError(w, http.StatusServiceUnavailable, err.Error())
			} else {
				writeError(w, http.StatusBadRequest, err.Error())
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": task.ID})
	})
	mux.HandleFunc("POST /v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		var wf orchestrator.Workflow
		if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
			writeError(w, http.StatusBadRequest, "invalid workflow body")
			return
		}
		result, err := orch.Run(r.Context(), &wf)
		if err != nil {
			if fault.CodeOf(err) == fault.CodeValidation {
				writeError(w, http.StatusBadRequest, err.Error())
			} else {
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})

	server := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Praxis started successfully",
		"workers", cfg.Queue.WorkerCount,
		"agents", stats.Agents,
		"providers", stats.Providers)

	// 12. Wait for a shutdown signal or a server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: stop intake, drain workers, release resources
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	pool.Stop()

	// 14. Seal and persist the audit artifact for this run
	if artifact, err := trail.seal(cfg.Audit, started.UnixNano()); err != nil {
		boundary.Handle(err)
	} else if err := writeArtifact(artifact); err != nil {
		slog.Error("Failed to persist audit artifact", "error", err)
	} else {
		slog.Info("Audit artifact sealed",
			"artifact_id", artifact.ID,
			"records", len(artifact.Records),
			"digest", artifact.Digest.Value,
			"algo", artifact.Digest.Algo)
	}

	manager.Cleanup()
	slog.Info("Praxis stopped")
}

// clientKey buckets intake requests by client host for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeArtifact persists the sealed artifact as JSON under AUDIT_DIR.
func writeArtifact(artifact *audit.Artifact) error {
	dir := getEnv("AUDIT_DIR", "./audit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "praxis-audit-"+artifact.Timestamp.Format("20060102T150405Z")+".json")
	return os.WriteFile(path, data, 0o644)
}
