package builtin

import (
	"context"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// NewNoopDriver returns a driver whose resources exist only in the stack.
// The Value property can change in place and is exposed as the value
// attribute.
func NewNoopDriver() *engine.Driver {
	return &engine.Driver{
		Type: TypeNoop,
		Properties: map[string]engine.PropertySchema{
			"Value": {
				Type:        engine.PropertyString,
				Description: "Arbitrary value echoed by the value attribute.",
			},
		},
		Attributes: map[string]string{
			"value": "The Value property.",
		},
		UpdateAllowedKeys:       []string{engine.KeyMetadata},
		UpdateAllowedProperties: []string{"Value"},

		HandleCreate: func(ctx context.Context, r *engine.Resource) (engine.Cookie, error) {
			r.SetPhysicalID(ctx, r.PhysicalName())
			return nil, nil
		},
		HandleUpdate: func(ctx context.Context, r *engine.Resource, after engine.ResourceDefinition, tmplDiff, propDiff map[string]interface{}) (engine.Cookie, error) {
			return nil, nil
		},
		HandleSuspend: noopHandle,
		HandleResume:  noopHandle,

		ResolveAttribute: func(r *engine.Resource, name string) (interface{}, error) {
			props, err := r.Properties()
			if err != nil {
				return nil, err
			}
			return props["Value"], nil
		},
	}
}

func noopHandle(ctx context.Context, r *engine.Resource) (engine.Cookie, error) {
	return nil, nil
}
