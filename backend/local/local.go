// Package local implements a backend whose tools are Go functions running in
// the harness process.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonwraymond/toolharness/backend"
)

// HandlerFunc is the function signature for tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDef defines a local tool with its handler.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     HandlerFunc
}

// Backend serves tools from registered handlers.
type Backend struct {
	name     string
	enabled  bool
	handlers map[string]ToolDef
	mu       sync.RWMutex
}

// New creates an enabled local backend named after a catalog server.
func New(name string) *Backend {
	return &Backend{
		name:     name,
		enabled:  true,
		handlers: make(map[string]ToolDef),
	}
}

func (b *Backend) Kind() string { return "local" }

func (b *Backend) Name() string { return b.name }

func (b *Backend) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the backend.
func (b *Backend) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// RegisterHandler registers a tool handler under name.
func (b *Backend) RegisterHandler(name string, def ToolDef) {
	if def.Name == "" {
		def.Name = name
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = def
}

// Handle is shorthand for RegisterHandler with only a handler.
func (b *Backend) Handle(name, description string, fn HandlerFunc) {
	b.RegisterHandler(name, ToolDef{Name: name, Description: description, Handler: fn})
}

// UnregisterHandler removes a tool handler.
func (b *Backend) UnregisterHandler(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// ListTools returns the registered tools sorted by name.
func (b *Backend) ListTools(_ context.Context) ([]backend.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]backend.Tool, 0, len(b.handlers))
	for _, def := range b.handlers {
		out = append(out, backend.Tool{
			Server:      b.name,
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Execute invokes a tool handler. A panicking handler is reported as an
// error.
func (b *Backend) Execute(ctx context.Context, tool string, args map[string]any) (out any, err error) {
	b.mu.RLock()
	enabled := b.enabled
	def, ok := b.handlers[tool]
	b.mu.RUnlock()

	if !enabled {
		return nil, backend.ErrBackendDisabled
	}
	if !ok || def.Handler == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrToolNotFound, tool)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("tool %s panicked: %v", tool, r)
		}
	}()
	return def.Handler(ctx, args)
}

func (b *Backend) Start(_ context.Context) error { return nil }

func (b *Backend) Stop() error { return nil }

var _ backend.Backend = (*Backend)(nil)
