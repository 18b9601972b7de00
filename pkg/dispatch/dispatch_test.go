package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/models"
	"github.com/praxis-platform/praxis/pkg/store"
)

func testRegistry() *config.AgentRegistry {
	return config.NewAgentRegistry(map[string]*config.AgentConfig{
		"researcher": {
			Capabilities: []string{"web-search", "summarization"},
			TrustLevel:   7,
		},
		"analyst": {
			Capabilities: []string{"data-analysis", "summarization"},
			TrustLevel:   8,
		},
		"generalist": {
			Capabilities: []string{"web-search", "summarization", "data-analysis"},
			TrustLevel:   5,
		},
	})
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cache := store.New(store.Options{MaxSize: 50})
	t.Cleanup(cache.Destroy)
	return NewDispatcher(testRegistry(), cache, nil)
}

func capTask(caps ...string) *models.Task {
	task := models.NewTask("analysis", nil)
	task.RequiredCapabilities = caps
	return task
}

func TestDispatch_CapabilitySupersetRequired(t *testing.T) {
	d := newTestDispatcher(t)

	decision, err := d.Dispatch(capTask("data-analysis"), 0)
	require.NoError(t, err)
	assert.Equal(t, "analyst", decision.SelectedAgent, "highest trust among eligible wins")
	assert.Equal(t, PolicyVersion, decision.PolicyVersion)
	assert.Contains(t, decision.AppliedRules, "capability-superset")

	// Every agent appears as a candidate with its evaluation outcome.
	require.Len(t, decision.Candidates, 3)
	for _, c := range decision.Candidates {
		if c.AgentID == "researcher" {
			assert.False(t, c.Eligible)
			assert.Equal(t, "missing capability", c.Reason)
		}
	}
}

func TestDispatch_NoEligibleAgent(t *testing.T) {
	d := newTestDispatcher(t)

	decision, err := d.Dispatch(capTask("quantum-computing"), 0)
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotSupported, fault.CodeOf(err))
	assert.Empty(t, decision.SelectedAgent)

	// The failed decision is still retrievable for explanation.
	cached, ok := d.Explain(decision.RequestID)
	require.True(t, ok)
	assert.Empty(t, cached.SelectedAgent)
}

func TestDispatch_TrustFloorExcludes(t *testing.T) {
	d := newTestDispatcher(t)

	// Both researcher (7) and generalist (5) carry web-search; a floor of
	// 6 removes the generalist.
	decision, err := d.Dispatch(capTask("web-search"), 6)
	require.NoError(t, err)
	assert.Equal(t, "researcher", decision.SelectedAgent)

	_, err = d.Dispatch(capTask("web-search"), 9)
	require.Error(t, err)
	assert.Equal(t, fault.CodeNotSupported, fault.CodeOf(err))
}

func TestDispatch_LowestLoadBreaksTrustTie(t *testing.T) {
	registry := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"alpha": {Capabilities: []string{"x"}, TrustLevel: 5},
		"beta":  {Capabilities: []string{"x"}, TrustLevel: 5},
	})
	d := NewDispatcher(registry, nil, nil)

	first, err := d.Dispatch(capTask("x"), 0)
	require.NoError(t, err)

	// The winner now carries load 1, so a second task goes to the other.
	second, err := d.Dispatch(capTask("x"), 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.SelectedAgent, second.SelectedAgent)
	assert.Contains(t, second.AppliedRules, "lowest-load")
}

func TestDispatch_StableHashTieBreak(t *testing.T) {
	registry := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"alpha": {Capabilities: []string{"x"}, TrustLevel: 5},
		"beta":  {Capabilities: []string{"x"}, TrustLevel: 5},
	})

	task := capTask("x")
	var winners []string
	for i := 0; i < 3; i++ {
		d := NewDispatcher(registry, nil, nil)
		decision, err := d.Dispatch(task, 0)
		require.NoError(t, err)
		assert.Contains(t, decision.AppliedRules, "stable-hash")
		winners = append(winners, decision.SelectedAgent)
	}
	assert.Equal(t, winners[0], winners[1], "identical inputs route identically")
	assert.Equal(t, winners[1], winners[2])
}

func TestDispatch_ReleaseDecrementsLoad(t *testing.T) {
	d := newTestDispatcher(t)

	decision, err := d.Dispatch(capTask("data-analysis"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Load(decision.SelectedAgent))

	d.Release(decision.SelectedAgent)
	assert.Equal(t, 0, d.Load(decision.SelectedAgent))

	// Releasing an idle agent never goes negative.
	d.Release(decision.SelectedAgent)
	assert.Equal(t, 0, d.Load(decision.SelectedAgent))
}

func TestDispatch_ExplainByCorrelationID(t *testing.T) {
	d := newTestDispatcher(t)

	task := capTask("summarization")
	task.CorrelationID = "corr-42"

	decision, err := d.Dispatch(task, 0)
	require.NoError(t, err)
	assert.Equal(t, "corr-42", decision.RequestID)

	cached, ok := d.Explain("corr-42")
	require.True(t, ok)
	assert.Equal(t, decision.SelectedAgent, cached.SelectedAgent)
	assert.Equal(t, decision.Candidates, cached.Candidates)

	_, ok = d.Explain("unknown")
	assert.False(t, ok)
}

func TestDispatch_NilTaskRejected(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(nil, 0)
	require.Error(t, err)
	assert.Equal(t, fault.CodeValidation, fault.CodeOf(err))
}
