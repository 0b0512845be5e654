package builtin

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// Character classes accepted by the Sequence property.
var sequences = map[string]string{
	"lettersdigits": "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789",
	"letters":       "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz",
	"lowercase":     "abcdefghijklmnopqrstuvwxyz",
	"uppercase":     "ABCDEFGHIJKLMNOPQRSTUVWXYZ",
	"digits":        "0123456789",
	"hexdigits":     "0123456789abcdef",
	"octdigits":     "01234567",
}

const dataValue = "value"

// NewRandomStringDriver returns a driver that generates a random string at
// create time. Ref returns the string itself. Any property change replaces
// the resource, generating a new value.
func NewRandomStringDriver() *engine.Driver {
	allowed := make([]interface{}, 0, len(sequences))
	for _, name := range []string{"lettersdigits", "letters", "lowercase", "uppercase", "digits", "hexdigits", "octdigits"} {
		allowed = append(allowed, name)
	}

	return &engine.Driver{
		Type: TypeRandomString,
		Properties: map[string]engine.PropertySchema{
			"Length": {
				Type:        engine.PropertyInteger,
				Description: "Length of the generated string.",
				Default:     int64(32),
				MinValue:    engine.FloatPtr(1),
				MaxValue:    engine.FloatPtr(512),
			},
			"Sequence": {
				Type:          engine.PropertyString,
				Description:   "Character class the string is drawn from.",
				Default:       "lettersdigits",
				AllowedValues: allowed,
			},
			"Salt": {
				Type:        engine.PropertyString,
				Description: "Changing the salt forces a new value.",
			},
		},
		Attributes: map[string]string{
			"value": "The generated string.",
		},

		HandleCreate: func(ctx context.Context, r *engine.Resource) (engine.Cookie, error) {
			props, err := r.Properties()
			if err != nil {
				return nil, err
			}
			value, err := randomString(sequences[props["Sequence"].(string)], int(props["Length"].(int64)))
			if err != nil {
				return nil, err
			}
			r.SetData(ctx, dataValue, value)
			r.SetPhysicalID(ctx, value)
			return nil, nil
		},

		ResolveAttribute: func(r *engine.Resource, name string) (interface{}, error) {
			v, _ := r.Data(dataValue)
			return v, nil
		},
	}
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random string: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
