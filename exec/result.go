package exec

import (
	"context"
	"time"
)

// Handler is the function signature for local tool handlers.
// It matches local.HandlerFunc.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Result represents the outcome of a single tool execution.
type Result struct {
	// Value is the return value from the tool.
	Value any

	// ToolID is the "server.tool" id of the executed tool.
	ToolID string

	Duration time.Duration

	// Error is non-nil if the tool execution failed.
	Error error
}

// OK returns true if the result has no error.
func (r Result) OK() bool {
	return r.Error == nil
}

// StepResult represents the outcome of a single step in a chain execution.
type StepResult struct {
	// StepIndex is the zero-based index of this step in the chain.
	StepIndex int

	ToolID string

	// Args are the arguments passed to this step, including any injected
	// previous result.
	Args map[string]any

	Value    any
	Duration time.Duration
	Error    error

	// Skipped is true if this step was skipped due to a prior failure.
	Skipped bool
}

// OK returns true if the step completed successfully.
func (s StepResult) OK() bool {
	return s.Error == nil && !s.Skipped
}
