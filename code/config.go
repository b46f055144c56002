package code

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/search"
	"github.com/jonwraymond/toolharness/workspace"
)

// Execution defaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxTimeout    = 300 * time.Second
	DefaultMaxConcurrent = 4
)

// Discovery is the read-only catalog view offered to scripts.
// *catalog.Catalog implements it.
type Discovery interface {
	ListServers() ([]string, error)
	ListTools(server string) ([]string, error)
	Summary(server, tool string) (catalog.ToolSummary, error)
	Definition(server, tool string) (string, error)
	ReadFile(rel string) (string, error)
	ListDirectory(rel string) ([]string, error)
	Overview(server string) (catalog.ServerOverview, error)
	AllTools() ([]catalog.ToolSummary, error)
}

// Searcher ranks tools for a query. *search.Searcher implements it.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, level search.DetailLevel) ([]search.Result, error)
}

// Invoker runs a tool by its "server.tool" identifier.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation.
// - Errors: unknown tools wrap catalog.ErrToolNotFound.
type Invoker interface {
	Execute(ctx context.Context, toolID string, args map[string]any) (any, error)
}

// Recorder observes every finished execution.
type Recorder interface {
	Record(ctx context.Context, req Request, res Result)
}

// Config holds the configuration for a code executor.
type Config struct {
	// Engine evaluates scripts. Required.
	Engine Engine

	// Discovery serves catalog lookups. Required.
	Discovery Discovery

	// Workspace gates file access. Required.
	Workspace *workspace.Gate

	// Search ranks tools for Tools.Search. Optional.
	Search Searcher

	// Invoker runs tools for Tools.Call. Optional; without it Call fails
	// with ErrNoInvoker.
	Invoker Invoker

	// DefaultTimeout applies when a request has no budget. Defaults to 30s.
	DefaultTimeout time.Duration

	// MaxTimeout is the largest budget a request may ask for. Defaults to 300s.
	MaxTimeout time.Duration

	// MaxConcurrent is the number of worker slots. Defaults to 4.
	MaxConcurrent int

	// MaxToolCalls limits Tools.Call invocations per request. Zero means
	// unlimited.
	MaxToolCalls int

	// MaxChainSteps limits the steps of one Tools.Chain. Zero means unlimited.
	MaxChainSteps int

	// MaxOutputBytes caps each captured stream. Zero means unlimited.
	MaxOutputBytes int

	// Recorder receives every result. Optional.
	Recorder Recorder

	// Logger is optional.
	Logger *zap.Logger
}

// Validate checks that all required fields are set.
// Returns ErrConfiguration if any required field is missing.
func (c *Config) Validate() error {
	var missing []string

	if c.Engine == nil {
		missing = append(missing, "Engine")
	}
	if c.Discovery == nil {
		missing = append(missing, "Discovery")
	}
	if c.Workspace == nil {
		missing = append(missing, "Workspace")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s",
			ErrConfiguration, strings.Join(missing, ", "))
	}
	if c.MaxConcurrent < 0 || c.MaxToolCalls < 0 || c.MaxChainSteps < 0 || c.MaxOutputBytes < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrConfiguration)
	}
	if c.DefaultTimeout < 0 || c.MaxTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrConfiguration)
	}
	if c.MaxTimeout > 0 && c.DefaultTimeout > c.MaxTimeout {
		return fmt.Errorf("%w: default timeout %s exceeds max timeout %s",
			ErrConfiguration, c.DefaultTimeout, c.MaxTimeout)
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.MaxTimeout == 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = min(DefaultTimeout, c.MaxTimeout)
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
