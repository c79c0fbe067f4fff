package sandbox

import (
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

// Register builds a multi-language Executor and registers it against an
// orchestrator.ToolRegistry. python_exec is registered separately via
// NewPythonExecTool/PythonExecTool since it pins BackendFirecracker and
// needs an artifacts.Repository for output-file uploads; Register exists
// for callers that want the pool's other languages (nodejs, go, bash)
// exposed as their own tool without that extra wiring.
func Register(registry *orchestrator.ToolRegistry, opts ...Option) error {
	executor, err := NewExecutor(opts...)
	if err != nil {
		return err
	}

	registry.Register(executor)
	return nil
}

// MustRegister registers the sandbox executor and panics on error.
// Use this in initialization code where errors should be fatal.
func MustRegister(registry *orchestrator.ToolRegistry, opts ...Option) {
	if err := Register(registry, opts...); err != nil {
		panic(err)
	}
}
