// Package builtin provides the resource drivers that ship with stackforge.
// They touch no external system and are used for examples, smoke tests and
// as templates for real drivers.
package builtin

import (
	"time"

	"github.com/openfroyo/stackforge/pkg/engine"
)

// Resource type names.
const (
	TypeNoop         = "Stackforge::Noop"
	TypeRandomString = "Stackforge::RandomString"
	TypeWait         = "Stackforge::Wait"
)

// Register adds every built-in driver to reg.
func Register(reg *engine.Registry) error {
	for _, d := range []*engine.Driver{
		NewNoopDriver(),
		NewRandomStringDriver(),
		NewWaitDriver(time.Now),
	} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in drivers.
func NewRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
