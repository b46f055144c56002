package code

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle position of one execution request.
type State int

const (
	StatePending State = iota
	StatePreparing
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
)

var stateNames = [...]string{"pending", "preparing", "running", "succeeded", "failed", "timed_out"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s is one of the three final states.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request is one script submitted for execution.
type Request struct {
	// Code is the script source, either a complete program or a list of
	// statements.
	Code string `json:"code"`

	// TimeoutSeconds is the time budget. Zero uses the executor default.
	TimeoutSeconds int `json:"time_budget_seconds,omitempty"`

	// MaxToolCalls limits Tools.Call invocations. Zero uses the executor
	// limit; a request can only lower it.
	MaxToolCalls int `json:"max_tool_calls,omitempty"`
}

// Result is the outcome of one request.
type Result struct {
	// ID identifies the execution in logs and metrics.
	ID string `json:"id"`

	Success bool `json:"success"`

	// Output is captured stdout, followed by "\n[STDERR]\n" and the captured
	// stderr when anything was written to stderr.
	Output string `json:"output"`

	// Error is the rendered failure; empty on success.
	Error string `json:"error"`

	// Kind classifies a failure, for example "SyntaxError" or "TimedOut".
	Kind string `json:"kind,omitempty"`

	// ExecutionTimeMs is measured from Preparing to completion, or to the
	// deadline for a timed out request.
	ExecutionTimeMs int64 `json:"execution_time_ms"`

	State State `json:"state"`

	// ToolCalls records every Tools.Call in invocation order.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// MarshalJSON renders an empty Error as null.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	return json.Marshal(struct {
		plain
		Error *string `json:"error"`
	}{plain: plain(r), Error: errText})
}

// ToolCallRecord captures one tool invocation made by a script.
type ToolCallRecord struct {
	// ToolID is the "server.tool" identifier that was called.
	ToolID string `json:"tool_id"`

	// Args is a snapshot of the arguments at call time.
	Args map[string]any `json:"args,omitempty"`

	// Result holds the value returned by a successful call.
	Result any `json:"result,omitempty"`

	// Error contains the error message if the call failed.
	Error string `json:"error,omitempty"`

	// ErrorOp is "call" or "chain".
	ErrorOp string `json:"error_op,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

// ChainStep is one call in a Tools.Chain sequence.
type ChainStep struct {
	ToolID string
	Args   map[string]any

	// UsePrevious injects the previous step's result as args["previous"].
	UsePrevious bool
}
