package types

import "fmt"

// StepError records one failed plan step. Execution continues past it; a
// single bad step must not abort the whole plan.
type StepError struct {
	Step int      `json:"step"`
	Type StepType `json:"type"`
	Err  string   `json:"error"`
}

func (e StepError) String() string {
	return fmt.Sprintf("step %d (%s): %s", e.Step, e.Type, e.Err)
}

// ExecReport summarizes one plan execution. Partial success is the normal
// outcome: the lists name what happened, Errors names what did not.
type ExecReport struct {
	RunID    string      `json:"run_id,omitempty"`
	Created  []string    `json:"created"`
	Deleted  []string    `json:"deleted"`
	Renamed  []string    `json:"renamed"`
	Moved    []string    `json:"moved"`
	Copied   []string    `json:"copied"`
	Modified []string    `json:"modified"`
	Errors   []StepError `json:"errors"`
}
