package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_Terminal(t *testing.T) {
	assert.True(t, PhaseDone.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	assert.True(t, PhaseCancelled.Terminal())
	assert.False(t, PhaseAnalyze.Terminal())
	assert.False(t, PhaseEvaluate.Terminal())
}

func TestTaskState_AdvanceLegalEdges(t *testing.T) {
	s := newTaskState("t1")
	require.NoError(t, s.advance(PhasePlan))
	require.NoError(t, s.advance(PhaseExecute))
	require.NoError(t, s.advance(PhaseEvaluate))
	require.NoError(t, s.advance(PhaseIterate))
	require.NoError(t, s.advance(PhaseExecute))
	require.NoError(t, s.advance(PhaseEvaluate))

	// Backward edges out of evaluate are the only regressions allowed.
	require.NoError(t, s.advance(PhaseExecute))
	require.NoError(t, s.advance(PhaseEvaluate))
	require.NoError(t, s.advance(PhasePlan))
}

func TestTaskState_AdvanceIllegalEdges(t *testing.T) {
	s := newTaskState("t1")
	assert.Error(t, s.advance(PhaseExecute), "analyze cannot jump to execute")

	s = newTaskState("t1")
	require.NoError(t, s.advance(PhasePlan))
	require.NoError(t, s.advance(PhaseExecute))
	assert.Error(t, s.advance(PhasePlan), "execute cannot regress to plan")
}

func TestTaskState_TerminalIsFinal(t *testing.T) {
	s := newTaskState("t1")
	s.Phase = PhaseDone
	assert.Error(t, s.advance(PhaseExecute))

	s.Phase = PhaseCancelled
	assert.Error(t, s.advance(PhaseDone))
}

func TestTaskState_AppendRecordCountsToolCalls(t *testing.T) {
	s := newTaskState("t1")
	s.appendRecord(StepRecord{ID: "a", Kind: StepModel, Success: true})
	s.appendRecord(StepRecord{ID: "b", Kind: StepTool, Success: true})
	s.appendRecord(StepRecord{ID: "c", Kind: StepTool, Success: false})
	assert.Equal(t, 2, s.ToolCalls)
	assert.Len(t, s.StepRecords, 3)
}

func TestTaskState_NextReadyStepHonorsDependencies(t *testing.T) {
	s := newTaskState("t1")
	s.PlannedSteps = []PlannedStep{
		{ID: "fetch", Kind: StepTool},
		{ID: "summarize", Kind: StepModel, Dependencies: []string{"fetch"}},
	}

	step, ok := s.nextReadyStep()
	require.True(t, ok)
	assert.Equal(t, "fetch", step.ID)

	// A failed record does not satisfy the dependency.
	s.appendRecord(StepRecord{ID: "fetch", Kind: StepTool, Success: false})
	step, ok = s.nextReadyStep()
	require.True(t, ok)
	assert.Equal(t, "fetch", step.ID, "failed step stays ready for retry")

	s.appendRecord(StepRecord{ID: "fetch", Kind: StepTool, Success: true})
	step, ok = s.nextReadyStep()
	require.True(t, ok)
	assert.Equal(t, "summarize", step.ID)

	s.appendRecord(StepRecord{ID: "summarize", Kind: StepModel, Success: true})
	_, ok = s.nextReadyStep()
	assert.False(t, ok)
	assert.False(t, s.stepsRemaining())
}

func TestValidatePlan(t *testing.T) {
	cases := []struct {
		name    string
		steps   []PlannedStep
		wantErr bool
	}{
		{"linear", []PlannedStep{
			{ID: "a"}, {ID: "b", Dependencies: []string{"a"}},
		}, false},
		{"diamond", []PlannedStep{
			{ID: "a"},
			{ID: "b", Dependencies: []string{"a"}},
			{ID: "c", Dependencies: []string{"a"}},
			{ID: "d", Dependencies: []string{"b", "c"}},
		}, false},
		{"cycle", []PlannedStep{
			{ID: "a", Dependencies: []string{"b"}},
			{ID: "b", Dependencies: []string{"a"}},
		}, true},
		{"self cycle", []PlannedStep{
			{ID: "a", Dependencies: []string{"a"}},
		}, true},
		{"unknown dependency", []PlannedStep{
			{ID: "a", Dependencies: []string{"ghost"}},
		}, true},
		{"duplicate id", []PlannedStep{
			{ID: "a"}, {ID: "a"},
		}, true},
		{"missing id", []PlannedStep{
			{ID: ""},
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePlan(tc.steps)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskState_ConsecutiveTimeoutTracking(t *testing.T) {
	s := newTaskState("t1")
	s.recordStepFailure(true)
	s.recordStepFailure(true)
	assert.Equal(t, 2, s.consecutiveTimeouts)

	// A non-timeout failure resets the streak.
	s.recordStepFailure(false)
	assert.Equal(t, 0, s.consecutiveTimeouts)

	s.recordStepFailure(true)
	s.recordStepSuccess()
	assert.Equal(t, 0, s.consecutiveTimeouts)
}

func TestBuildReflection(t *testing.T) {
	s := newTaskState("t1")
	s.Phase = PhaseFailed
	s.appendRecord(StepRecord{ID: "a", Kind: StepModel, Success: true})
	s.appendRecord(StepRecord{ID: "b", Kind: StepTool, Success: false, Error: "boom"})

	r := buildReflection(s)
	assert.Contains(t, r.Summary, "steps=2")
	assert.Contains(t, r.Summary, "failed=1")
	require.Len(t, r.Improvements, 1)
	assert.Contains(t, r.Improvements[0], "boom")
	assert.Contains(t, r.NextGoal, "b")

	// A clean run proposes nothing.
	clean := newTaskState("t2")
	clean.Phase = PhaseDone
	clean.appendRecord(StepRecord{ID: "a", Kind: StepModel, Success: true})
	r = buildReflection(clean)
	assert.Empty(t, r.Improvements)
	assert.Empty(t, r.NextGoal)
}
