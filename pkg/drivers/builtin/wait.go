package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/stackforge/pkg/engine"
)

const dataEndTime = "end_time"

// NewWaitDriver returns a driver whose create completes only after the
// Duration property has elapsed, measured with now. It is useful to give
// dependent resources a settle time and to exercise stack timeouts.
func NewWaitDriver(now func() time.Time) *engine.Driver {
	return &engine.Driver{
		Type: TypeWait,
		Properties: map[string]engine.PropertySchema{
			"Duration": {
				Type:        engine.PropertyString,
				Description: "How long create waits, as a Go duration such as 30s.",
				Required:    true,
			},
		},
		Attributes: map[string]string{
			"end_time": "When the wait finished, in RFC 3339.",
		},

		Validate: func(ctx context.Context, r *engine.Resource) error {
			raw, ok := r.Definition().Properties()["Duration"].(string)
			if !ok {
				// Computed by an intrinsic function; checked at create.
				return nil
			}
			_, err := parseWait(raw)
			return err
		},

		HandleCreate: func(ctx context.Context, r *engine.Resource) (engine.Cookie, error) {
			props, err := r.Properties()
			if err != nil {
				return nil, err
			}
			d, err := parseWait(props["Duration"].(string))
			if err != nil {
				return nil, err
			}
			end := now().Add(d)
			r.SetData(ctx, dataEndTime, end.UTC().Format(time.RFC3339Nano))
			r.SetPhysicalID(ctx, r.PhysicalName())
			return end, nil
		},
		CheckCreateComplete: func(ctx context.Context, r *engine.Resource, cookie engine.Cookie) (bool, error) {
			return !now().Before(cookie.(time.Time)), nil
		},

		ResolveAttribute: func(r *engine.Resource, name string) (interface{}, error) {
			v, _ := r.Data(dataEndTime)
			return v, nil
		},
	}
}

func parseWait(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid Duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid Duration %q: must not be negative", raw)
	}
	return d, nil
}
