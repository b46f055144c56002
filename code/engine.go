package code

import (
	"context"
	"io"

	"github.com/jonwraymond/toolharness/workspace"
)

// Env is what a script may touch while it runs. Every request gets its own.
type Env struct {
	// Stdout and Stderr receive everything the script prints.
	Stdout io.Writer
	Stderr io.Writer

	// Files is the only route to the filesystem.
	Files *workspace.Gate

	// Tools exposes the catalog, search and tool invocation.
	Tools Tools
}

// Engine evaluates a script inside a restricted interpreter.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must stop at the next cancellation point once ctx is done and
//   return an error wrapping ctx.Err(). Code that never yields may keep
//   running; the executor does not wait for it.
// - Errors: script failures return *CodeError or *ImportError; anything else
//   is reported as an internal error.
// - Ownership: writes output only to env.Stdout and env.Stderr.
type Engine interface {
	Execute(ctx context.Context, src string, env Env) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, src string, env Env) error

// Execute calls f.
func (f EngineFunc) Execute(ctx context.Context, src string, env Env) error {
	return f(ctx, src, env)
}
