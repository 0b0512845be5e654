package engine

import (
	"fmt"
	"strings"
)

// Action is the operation a stack or resource is performing, or last performed.
type Action string

const (
	// ActionNone is the initial action of a stack or resource that has never acted.
	ActionNone Action = ""

	// ActionCreate brings a resource or stack into existence.
	ActionCreate Action = "CREATE"

	// ActionUpdate converges an existing resource or stack onto a new definition.
	ActionUpdate Action = "UPDATE"

	// ActionDelete tears a resource or stack down.
	ActionDelete Action = "DELETE"

	// ActionRollback reverts a failed create or update.
	ActionRollback Action = "ROLLBACK"

	// ActionSuspend pauses a resource or stack without deleting it.
	ActionSuspend Action = "SUSPEND"

	// ActionResume reverses a suspend.
	ActionResume Action = "RESUME"
)

// Validate checks if the action is valid.
func (a Action) Validate() error {
	switch a {
	case ActionNone, ActionCreate, ActionUpdate, ActionDelete,
		ActionRollback, ActionSuspend, ActionResume:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// Title returns the action with only its first letter upper-cased, e.g. "Create".
func (a Action) Title() string {
	if a == ActionNone {
		return ""
	}
	s := string(a)
	return s[:1] + strings.ToLower(s[1:])
}

// Status is the outcome of the current action.
type Status string

const (
	// StatusNone is the initial status before any action has started.
	StatusNone Status = ""

	// StatusInProgress indicates the action is running.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusFailed indicates the action failed.
	StatusFailed Status = "FAILED"

	// StatusComplete indicates the action finished successfully.
	StatusComplete Status = "COMPLETE"
)

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusNone, StatusInProgress, StatusFailed, StatusComplete:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// State is the (action, status) pair describing a stack or resource.
type State struct {
	Action Action `json:"action"`
	Status Status `json:"status"`
}

// String renders the state as ACTION_STATUS, e.g. CREATE_COMPLETE.
func (s State) String() string {
	if s.Action == ActionNone && s.Status == StatusNone {
		return "INIT"
	}
	return fmt.Sprintf("%s_%s", s.Action, s.Status)
}

// Is reports whether the state matches the given action and status.
func (s State) Is(action Action, status Status) bool {
	return s.Action == action && s.Status == status
}

// IsInitial reports whether nothing has ever happened to the owner of this state.
func (s State) IsInitial() bool {
	return s.Action == ActionNone && s.Status == StatusNone
}

// Referenceable reports whether a resource in this state may be the target
// of Ref or Fn::GetAtt.
func (s State) Referenceable() bool {
	return (s.Action == ActionCreate || s.Action == ActionUpdate) &&
		(s.Status == StatusInProgress || s.Status == StatusComplete)
}
