// Package handlers wires the built-in task handler modules. The list here is
// what the app registers at startup; callers can re-register any type
// afterwards to override a built-in.
package handlers

import (
	"github.com/vk/flowgrid/internal/handlers/condition"
	"github.com/vk/flowgrid/internal/handlers/expression"
	"github.com/vk/flowgrid/internal/handlers/notification"
	"github.com/vk/flowgrid/internal/handlers/transform"
	"github.com/vk/flowgrid/internal/handlers/wait"
	"github.com/vk/flowgrid/internal/registry"
)

// CoreModules is the default set of built-in handler modules.
var CoreModules = []registry.Module{
	&expression.Module{},
	&condition.Module{},
	&wait.Module{},
	&transform.Module{},
	&notification.Module{},
}

// NewRegistry builds a registry pre-populated with the core modules.
func NewRegistry(modules ...registry.Module) *registry.Registry {
	r := registry.New()
	if len(modules) == 0 {
		modules = CoreModules
	}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}
