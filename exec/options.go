package exec

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/backend"
	"github.com/jonwraymond/toolharness/metrics"
	"github.com/jonwraymond/toolharness/runtime"
	"github.com/jonwraymond/toolharness/search"
)

// Default configuration values.
const (
	DefaultMaxToolCalls  = 100
	DefaultMaxChainSteps = 20
	DefaultTimeout       = 30 * time.Second
)

// Errors returned by Options validation.
var (
	ErrCatalogRequired   = errors.New("exec: CatalogRoot is required")
	ErrWorkspaceRequired = errors.New("exec: WorkspaceRoot is required")
)

// Options configures a Harness.
type Options struct {
	// CatalogRoot is the directory holding one subdirectory per server.
	// Required.
	CatalogRoot string

	// WorkspaceRoot confines script file access. Created if missing.
	// Required.
	WorkspaceRoot string

	// Profile selects the script allow-list.
	// Default: runtime.ProfileStandard
	Profile runtime.SecurityProfile

	// AllowedModules replaces the profile's allow-list when non-empty.
	AllowedModules []string

	// DefaultTimeout applies to requests without a budget.
	// Default: 30s
	DefaultTimeout time.Duration

	// MaxTimeout bounds request budgets. Zero uses the executor default.
	MaxTimeout time.Duration

	// MaxConcurrent is the worker pool size. Zero uses the executor default.
	MaxConcurrent int

	// MaxToolCalls limits tools.Call per execution.
	// Default: 100
	MaxToolCalls int

	// MaxChainSteps limits tools.Chain and RunChain length.
	// Default: 20
	MaxChainSteps int

	// MaxOutputBytes caps each captured stream. Zero means unlimited.
	MaxOutputBytes int

	// Embedder enables similarity search. Nil ranks by keywords only.
	Embedder search.Embedder

	// CacheKeyMode keys the embedding cache. Default: search.KeyName
	CacheKeyMode search.CacheKeyMode

	// MemoryCacheOnly keeps embeddings in memory instead of the cache file
	// under CatalogRoot.
	MemoryCacheOnly bool

	// LocalHandlers maps "server.tool" ids to Go handlers. Handlers of one
	// server are served by a single local backend.
	LocalHandlers map[string]Handler

	// Backends are registered alongside the local handler backends.
	Backends []backend.Backend

	// MetricsRegisterer receives the Prometheus collectors. Nil uses a
	// private registry.
	MetricsRegisterer prometheus.Registerer

	// MetricsStore persists execution records. Nil keeps them in memory.
	MetricsStore metrics.Store

	Logger *zap.Logger
}

// validate checks that required fields are set.
func (o *Options) validate() error {
	if o.CatalogRoot == "" {
		return ErrCatalogRequired
	}
	if o.WorkspaceRoot == "" {
		return ErrWorkspaceRequired
	}
	return nil
}

// applyDefaults sets default values for unset optional fields.
func (o *Options) applyDefaults() {
	if o.Profile == "" {
		o.Profile = runtime.ProfileStandard
	}
	if o.DefaultTimeout == 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxToolCalls == 0 {
		o.MaxToolCalls = DefaultMaxToolCalls
	}
	if o.MaxChainSteps == 0 {
		o.MaxChainSteps = DefaultMaxChainSteps
	}
	if o.CacheKeyMode == "" {
		o.CacheKeyMode = search.KeyName
	}
	if o.MetricsRegisterer == nil {
		o.MetricsRegisterer = prometheus.NewRegistry()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Step defines a single step in a chain execution.
type Step struct {
	// ToolID is the "server.tool" id to execute.
	ToolID string

	Args map[string]any

	// UsePrevious passes the previous step's result as Args["previous"].
	UsePrevious bool

	// StopOnError determines whether chain execution stops if this step
	// fails. Default is true.
	StopOnError *bool
}

func (s Step) shouldStopOnError() bool {
	if s.StopOnError == nil {
		return true
	}
	return *s.StopOnError
}
