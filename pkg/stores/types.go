package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// stackRow is the column form of an engine.StackRecord
type stackRow struct {
	ID              string
	Name            string
	Template        string // JSON blob
	Parameters      string // JSON blob
	Action          string
	Status          string
	StatusReason    string
	TimeoutSeconds  int64
	DisableRollback bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func newStackRow(rec *engine.StackRecord) (*stackRow, error) {
	tmpl, err := encodeJSON(rec.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template of stack %s: %w", rec.Name, err)
	}
	params, err := encodeJSON(rec.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters of stack %s: %w", rec.Name, err)
	}
	return &stackRow{
		ID:              rec.ID,
		Name:            rec.Name,
		Template:        tmpl,
		Parameters:      params,
		Action:          string(rec.Action),
		Status:          string(rec.Status),
		StatusReason:    rec.StatusReason,
		TimeoutSeconds:  int64(rec.Timeout / time.Second),
		DisableRollback: rec.DisableRollback,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

// fields returns scan destinations in stackColumns order
func (r *stackRow) fields() []interface{} {
	return []interface{}{
		&r.ID,
		&r.Name,
		&r.Template,
		&r.Parameters,
		&r.Action,
		&r.Status,
		&r.StatusReason,
		&r.TimeoutSeconds,
		&r.DisableRollback,
		&r.CreatedAt,
		&r.UpdatedAt,
	}
}

func (r *stackRow) record() (*engine.StackRecord, error) {
	rec := &engine.StackRecord{
		ID:              r.ID,
		Name:            r.Name,
		Action:          engine.Action(r.Action),
		Status:          engine.Status(r.Status),
		StatusReason:    r.StatusReason,
		Timeout:         time.Duration(r.TimeoutSeconds) * time.Second,
		DisableRollback: r.DisableRollback,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := decodeJSON(r.Template, &rec.Template); err != nil {
		return nil, fmt.Errorf("failed to decode template of stack %s: %w", r.Name, err)
	}
	if err := decodeJSON(r.Parameters, &rec.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters of stack %s: %w", r.Name, err)
	}
	return rec, nil
}

// encodeJSON marshals v; nil values become an empty object
func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "{}", nil
	}
	return string(b), nil
}

func decodeJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
