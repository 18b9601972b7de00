package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-platform/praxis/pkg/fault"
)

func TestResourceManager_ReleasesInReverseOrder(t *testing.T) {
	m := NewResourceManager()
	var order []string
	for _, name := range []string{"store", "breakers", "bus"} {
		name := name
		m.Register(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	m.Cleanup()
	assert.Equal(t, []string{"bus", "breakers", "store"}, order)
	assert.True(t, m.Released())
}

func TestResourceManager_CleanupIsIdempotent(t *testing.T) {
	m := NewResourceManager()
	calls := 0
	m.Register("store", func() error {
		calls++
		return nil
	})

	m.Cleanup()
	m.Cleanup()
	assert.Equal(t, 1, calls)
}

func TestResourceManager_FailureDoesNotStopOthers(t *testing.T) {
	m := NewResourceManager()
	released := false
	m.Register("first", func() error {
		released = true
		return nil
	})
	m.Register("broken", func() error { return assert.AnError })

	m.Cleanup()
	assert.True(t, released, "a failing release does not block the rest")
}

func TestResourceManager_RegisterAfterCleanupIgnored(t *testing.T) {
	m := NewResourceManager()
	m.Cleanup()

	called := false
	m.Register("late", func() error {
		called = true
		return nil
	})
	m.Cleanup()
	assert.False(t, called)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Severity
	}{
		{"timeout is transient", fault.New(fault.CodeTimeout, "t"), SeverityWarning},
		{"rate limited is transient", fault.New(fault.CodeRateLimited, "r"), SeverityWarning},
		{"busy is transient", fault.New(fault.CodeBusy, "b"), SeverityWarning},
		{"open circuit is transient", fault.New(fault.CodeCircuitOpen, "c"), SeverityWarning},
		{"validation is an error", fault.New(fault.CodeValidation, "v"), SeverityError},
		{"cancellation is an error", fault.New(fault.CodeCancelled, "c"), SeverityError},
		{"security violation is critical", fault.New(fault.CodeSecurityViolation, "s"), SeverityCritical},
		{"plain errors are critical", assert.AnError, SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestHandler_CriticalRunsCleanupAndExit(t *testing.T) {
	m := NewResourceManager()
	released := false
	m.Register("store", func() error {
		released = true
		return nil
	})

	h := NewHandler(m, true)
	exitCode := -1
	h.exit = func(code int) { exitCode = code }

	severity := h.Handle(fault.New(fault.CodeSecurityViolation, "path escape"))
	assert.Equal(t, SeverityCritical, severity)
	assert.True(t, released)
	assert.Equal(t, 1, exitCode)

	_, _, criticals := h.Counts()
	assert.Equal(t, int64(1), criticals)
}

func TestHandler_CriticalWithoutExitPolicy(t *testing.T) {
	m := NewResourceManager()
	h := NewHandler(m, false)
	exited := false
	h.exit = func(int) { exited = true }

	h.Handle(fault.New(fault.CodeInternal, "invariant broken"))
	assert.True(t, m.Released(), "cleanup still runs on critical")
	assert.False(t, exited, "exit gated by policy")
}

func TestHandler_TransientOnlyCounts(t *testing.T) {
	m := NewResourceManager()
	h := NewHandler(m, true)
	h.exit = func(int) { t.Fatal("transient errors never exit") }

	assert.Equal(t, SeverityWarning, h.Handle(fault.New(fault.CodeTimeout, "slow")))
	assert.Equal(t, SeverityError, h.Handle(fault.New(fault.CodeValidation, "bad input")))
	assert.False(t, m.Released())

	warnings, errs, criticals := h.Counts()
	assert.Equal(t, int64(1), warnings)
	assert.Equal(t, int64(1), errs)
	assert.Equal(t, int64(0), criticals)
}

func TestHandler_RecoverTreatsPanicAsCritical(t *testing.T) {
	m := NewResourceManager()
	h := NewHandler(m, false)

	func() {
		defer h.Recover()
		panic("boom")
	}()

	require.True(t, m.Released())
	_, _, criticals := h.Counts()
	assert.Equal(t, int64(1), criticals)
}

func TestError_WrapsPanicValue(t *testing.T) {
	err := Error("boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Same(t, assert.AnError, Error(assert.AnError))
}
