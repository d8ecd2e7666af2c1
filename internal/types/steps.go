package types

import (
	"encoding/json"
	"fmt"
)

// StepType is the closed set of plan step kinds. Dispatch goes through a
// handler table keyed by StepType, so an unsupported kind fails at decode
// time, not deep inside execution.
type StepType int

const (
	StepCreateFile StepType = iota
	StepCreateDir
	StepDeleteFile
	StepDeleteDir
	StepRenameFile
	StepMoveFile
	StepCopyFile
	StepModifyCode
)

var stepTypeNames = map[StepType]string{
	StepCreateFile: "Create new file",
	StepCreateDir:  "Create new directory",
	StepDeleteFile: "Delete file",
	StepDeleteDir:  "Delete directory",
	StepRenameFile: "Rename file",
	StepMoveFile:   "Move file",
	StepCopyFile:   "Copy file",
	StepModifyCode: "Modify code",
}

func (t StepType) String() string {
	if s, ok := stepTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("StepType(%d)", int(t))
}

// ParseStepType maps a planner-emitted type string to a StepType.
func ParseStepType(s string) (StepType, error) {
	for t, name := range stepTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("types: unsupported step type %q", s)
}

func (t StepType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *StepType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseStepType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ActionStep is one typed, ordered unit of work produced by the planner.
// Steps execute strictly in plan order; no reordering or dependency
// inference happens downstream.
type ActionStep struct {
	Step        int      `json:"step"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Path        string   `json:"path,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
	Type        StepType `json:"type"`
	Points      int      `json:"points"`
}

// Targets returns the paths the step acts on: Artifacts when present,
// otherwise the single Path.
func (s ActionStep) Targets() []string {
	if len(s.Artifacts) > 0 {
		return s.Artifacts
	}
	if s.Path != "" {
		return []string{s.Path}
	}
	return nil
}

// UnmarshalJSON applies the defaults the planner contract allows to omit:
// points falls back to 1, and a lone "path" key is accepted in place of
// "artifacts". "type" has no default; a step without one is rejected so the
// zero value cannot masquerade as a file-creation step.
func (s *ActionStep) UnmarshalJSON(b []byte) error {
	type alias ActionStep
	a := struct {
		alias
		Type *StepType `json:"type"`
	}{alias: alias{Points: 1}}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.Type == nil {
		return fmt.Errorf("types: step %d has no type", a.Step)
	}
	a.alias.Type = *a.Type
	*s = ActionStep(a.alias)
	return nil
}
