package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/toolharness/catalog"
)

// Common errors for backend operations.
var (
	ErrBackendNotFound    = fmt.Errorf("backend not found: %w", catalog.ErrServerNotFound)
	ErrToolNotFound       = fmt.Errorf("tool not found in backend: %w", catalog.ErrToolNotFound)
	ErrBackendDisabled    = errors.New("backend disabled")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Tool describes one tool a backend can execute.
type Tool struct {
	// Server is the backend name, which doubles as the catalog server.
	Server      string         `json:"server"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ID returns the "server.tool" identifier.
func (t Tool) ID() string {
	return catalog.FormatID(t.Server, t.Name)
}

// Backend defines a source of executable tools.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines.
// - Errors: use ErrToolNotFound/ErrBackendDisabled/ErrBackendUnavailable where applicable.
type Backend interface {
	// Kind returns the backend type ("local", "mcp").
	Kind() string

	// Name returns the unique instance name, matching a catalog server.
	Name() string

	Enabled() bool

	// ListTools returns all tools available from this backend.
	ListTools(ctx context.Context) ([]Tool, error)

	// Execute invokes a tool on this backend.
	Execute(ctx context.Context, tool string, args map[string]any) (any, error)

	// Start connects or otherwise prepares the backend.
	Start(ctx context.Context) error

	Stop() error
}

// Info contains metadata about a backend.
type Info struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Describe returns the Info for b.
func Describe(b Backend) Info {
	return Info{Kind: b.Kind(), Name: b.Name(), Enabled: b.Enabled()}
}
