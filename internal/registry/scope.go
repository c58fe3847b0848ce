package registry

import (
	"github.com/vk/flowgrid/internal/expr"
)

// Scope projects the invocation into the read-only view the expression
// evaluator understands: `var.<name>` for variables, `task.<id>` for prior
// results.
func (inv *Invocation) Scope() *expr.Scope {
	scope := &expr.Scope{
		Variables: inv.Variables,
		Tasks:     make(map[string]expr.TaskView, len(inv.Results)),
	}
	for id, out := range inv.Results {
		scope.Tasks[id] = expr.TaskView{Status: out.Status, Output: out.Output}
	}
	return scope
}
