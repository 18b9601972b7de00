package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/praxis-platform/praxis/pkg/fault"
)

// Severity classifies an escaped error.
type Severity string

// Severity levels.
const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Handler is the process-level boundary for unhandled errors and panics.
// It classifies what it receives, counts occurrences, and on critical
// severity runs resource cleanup and, when the policy is enabled,
// terminates the process.
type Handler struct {
	manager        *ResourceManager
	exitOnCritical bool
	exit           func(int)

	warnings  atomic.Int64
	errors    atomic.Int64
	criticals atomic.Int64
}

// NewHandler creates the boundary over a resource manager.
func NewHandler(manager *ResourceManager, exitOnCritical bool) *Handler {
	return &Handler{
		manager:        manager,
		exitOnCritical: exitOnCritical,
		exit:           os.Exit,
	}
}

// Handle processes one escaped error and returns its severity.
func (h *Handler) Handle(err error) Severity {
	if err == nil {
		return SeverityWarning
	}
	severity := Classify(err)
	switch severity {
	case SeverityCritical:
		h.criticals.Add(1)
		slog.Error("Critical unhandled error", "error", err, "code", fault.CodeOf(err))
		h.manager.Cleanup()
		if h.exitOnCritical {
			h.exit(1)
		}
	case SeverityError:
		h.errors.Add(1)
		slog.Error("Unhandled error", "error", err, "code", fault.CodeOf(err))
	default:
		h.warnings.Add(1)
		slog.Warn("Unhandled transient error", "error", err, "code", fault.CodeOf(err))
	}
	return severity
}

// Recover is installed with defer at goroutine boundaries. A recovered
// panic is always critical.
func (h *Handler) Recover() {
	if r := recover(); r != nil {
		h.criticals.Add(1)
		slog.Error("Recovered panic at process boundary", "panic", r)
		h.manager.Cleanup()
		if h.exitOnCritical {
			h.exit(1)
		}
	}
}

// Counts returns the number of handled warnings, errors, and criticals.
func (h *Handler) Counts() (warnings, errs, criticals int64) {
	return h.warnings.Load(), h.errors.Load(), h.criticals.Load()
}

// Classify maps an error to a severity. Transient conditions the runtime
// retries or sheds are warnings; security violations and internal
// invariant breaks are critical; everything else is an error.
func Classify(err error) Severity {
	switch fault.CodeOf(err) {
	case fault.CodeTimeout, fault.CodeRateLimited, fault.CodeBusy, fault.CodeCircuitOpen:
		return SeverityWarning
	case fault.CodeSecurityViolation, fault.CodeInternal:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// Error formats a recovered panic value as an error for Handle.
func Error(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", recovered)
}
