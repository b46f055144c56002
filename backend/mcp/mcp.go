// Package mcp implements a backend that forwards tool calls to a remote MCP
// server over a client session.
//
// The session is opened by Start, either over a caller-supplied transport or
// by spawning Command and speaking MCP over its stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/backend"
)

// ErrConfiguration indicates an invalid backend configuration.
var ErrConfiguration = errors.New("mcp backend configuration error")

// ClientVersion is reported to remote servers during initialization.
const ClientVersion = "0.1.0"

// Config configures one remote MCP server.
type Config struct {
	// Name is the backend name and the catalog server it implements.
	Name string

	// Transport is used when set. Otherwise Command is spawned.
	Transport mcpsdk.Transport

	Command string
	Args    []string

	// Env is appended to the harness environment for the spawned command.
	Env []string

	Logger *zap.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var missing []string
	if c.Name == "" {
		missing = append(missing, "Name")
	}
	if c.Transport == nil && c.Command == "" {
		missing = append(missing, "Transport or Command")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Backend is a remote MCP server.
type Backend struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	session *mcpsdk.ClientSession
	enabled bool
}

// New validates cfg and returns an unconnected backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:     cfg,
		logger:  logger.Named("backend.mcp").With(zap.String("server", cfg.Name)),
		enabled: true,
	}, nil
}

func (b *Backend) Kind() string { return "mcp" }

func (b *Backend) Name() string { return b.cfg.Name }

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

// Start connects to the server. Calling Start on a connected backend is a
// no-op.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return nil
	}

	transport := b.cfg.Transport
	if transport == nil {
		cmd := exec.Command(b.cfg.Command, b.cfg.Args...)
		cmd.Env = append(os.Environ(), b.cfg.Env...)
		transport = &mcpsdk.CommandTransport{Command: cmd}
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "toolharness", Version: ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %w", backend.ErrBackendUnavailable, b.cfg.Name, err)
	}
	b.session = session
	b.logger.Info("mcp backend connected")
	return nil
}

// Stop closes the session.
func (b *Backend) Stop() error {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func (b *Backend) current() (*mcpsdk.ClientSession, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.enabled {
		return nil, backend.ErrBackendDisabled
	}
	if b.session == nil {
		return nil, fmt.Errorf("%w: %s is not started", backend.ErrBackendUnavailable, b.cfg.Name)
	}
	return b.session, nil
}

// ListTools pages through the server's tool list.
func (b *Backend) ListTools(ctx context.Context) ([]backend.Tool, error) {
	session, err := b.current()
	if err != nil {
		return nil, err
	}

	var out []backend.Tool
	params := &mcpsdk.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("listing tools: %w", err)
		}
		for _, t := range res.Tools {
			out = append(out, backend.Tool{
				Server:      b.cfg.Name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schemaMap(t.InputSchema),
			})
		}
		if res.NextCursor == "" {
			break
		}
		params = &mcpsdk.ListToolsParams{Cursor: res.NextCursor}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Execute calls tool on the server. Structured content is returned as is;
// otherwise text content is joined with newlines. A result flagged as an
// error becomes a Go error carrying its text.
func (b *Backend) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	session, err := b.current()
	if err != nil {
		return nil, err
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", tool, err)
	}
	text := formatContent(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("tool %s reported an error: %s", tool, text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

func formatContent(content []mcpsdk.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

var _ backend.Backend = (*Backend)(nil)
