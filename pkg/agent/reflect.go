package agent

import "fmt"

// Reflection is the advisory summary produced at a terminal phase. It
// never changes the task's outcome.
type Reflection struct {
	Summary      string   `json:"summary"`
	Improvements []string `json:"improvements,omitempty"`
	NextGoal     string   `json:"next_goal,omitempty"`
}

// buildReflection summarizes the executed steps and proposes improvements
// for each failure. A next goal is suggested only when something failed.
func buildReflection(state *TaskState) *Reflection {
	succeeded := 0
	var failed []StepRecord
	for _, rec := range state.StepRecords {
		if rec.Success {
			succeeded++
		} else {
			failed = append(failed, rec)
		}
	}

	r := &Reflection{
		Summary: fmt.Sprintf("phase=%s steps=%d succeeded=%d failed=%d iterations=%d",
			state.Phase, len(state.StepRecords), succeeded, len(failed), state.Iterations),
	}
	for _, rec := range failed {
		r.Improvements = append(r.Improvements,
			fmt.Sprintf("step %s (%s) failed: %s", rec.ID, rec.Kind, rec.Error))
	}
	if len(failed) > 0 {
		r.NextGoal = fmt.Sprintf("retry or rework step %s", failed[len(failed)-1].ID)
	}
	return r
}
