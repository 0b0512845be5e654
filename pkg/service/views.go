package service

import (
	"time"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// StackInfo describes a stack for display.
type StackInfo struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Action          engine.Action          `json:"action"`
	Status          engine.Status          `json:"status"`
	StatusReason    string                 `json:"status_reason,omitempty"`
	Parameters      map[string]string      `json:"parameters,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"`
	Resources       []ResourceInfo         `json:"resources"`
	Timeout         time.Duration          `json:"timeout"`
	DisableRollback bool                   `json:"disable_rollback"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// State returns the stack state as ACTION_STATUS.
func (i *StackInfo) State() string {
	return engine.State{Action: i.Action, Status: i.Status}.String()
}

// ResourceInfo describes one resource of a stack.
type ResourceInfo struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	PhysicalID   string        `json:"physical_id,omitempty"`
	Action       engine.Action `json:"action"`
	Status       engine.Status `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	RequiredBy   []string      `json:"required_by,omitempty"`
}

// StackSummary is one row of a stack listing.
type StackSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Action       engine.Action `json:"action"`
	Status       engine.Status `json:"status"`
	StatusReason string        `json:"status_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TemplateSummary is the result of validating a template.
type TemplateSummary struct {
	Description string                            `json:"description,omitempty"`
	Parameters  map[string]engine.ParameterSchema `json:"parameters,omitempty"`
	Resources   []string                          `json:"resources"`
}

func newStackInfo(s *engine.Stack) *StackInfo {
	info := &StackInfo{
		ID:              s.ID,
		Name:            s.Name,
		Description:     s.Template.Description,
		Action:          s.Action,
		Status:          s.Status,
		StatusReason:    s.StatusReason,
		Parameters:      s.Parameters().Display(),
		Timeout:         s.Timeout,
		DisableRollback: s.DisableRollback,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if len(s.Template.Outputs) > 0 && s.Status == engine.StatusComplete {
		info.Outputs = s.Outputs()
	}

	graph := s.Graph()
	for _, r := range s.Resources() {
		info.Resources = append(info.Resources, ResourceInfo{
			Name:         r.Name,
			Type:         r.Type,
			PhysicalID:   r.PhysicalID,
			Action:       r.Action,
			Status:       r.Status,
			StatusReason: r.StatusReason,
			RequiredBy:   graph.RequiredBy(r.Name),
		})
	}
	return info
}

func newStackSummary(rec *engine.StackRecord) StackSummary {
	return StackSummary{
		ID:           rec.ID,
		Name:         rec.Name,
		Action:       rec.Action,
		Status:       rec.Status,
		StatusReason: rec.StatusReason,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
