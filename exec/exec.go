package exec

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/backend"
	"github.com/jonwraymond/toolharness/backend/local"
	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/code"
	"github.com/jonwraymond/toolharness/metrics"
	"github.com/jonwraymond/toolharness/runtime"
	"github.com/jonwraymond/toolharness/search"
	"github.com/jonwraymond/toolharness/workspace"
)

// ErrChainTooLong is returned by RunChain when the chain exceeds
// Options.MaxChainSteps.
var ErrChainTooLong = errors.New("exec: chain exceeds max steps")

// Harness wires the catalog, search, workspace gate, script engine, tool
// backends and metrics into one value.
//
// Contract:
// - Concurrency: safe for concurrent use once constructed.
// - Lifecycle: call Start before invoking remote tools and Close when done.
type Harness struct {
	opts     Options
	catalog  *catalog.Catalog
	gate     *workspace.Gate
	cache    *search.Cache
	searcher *search.Searcher
	engine   *runtime.Engine
	executor *code.DefaultExecutor
	registry *backend.Registry
	tools    *backend.Aggregator
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// New creates a Harness with the given options.
func New(opts Options) (*Harness, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	logger := opts.Logger

	cat, err := catalog.New(catalog.Config{Root: opts.CatalogRoot, Logger: logger})
	if err != nil {
		return nil, err
	}
	gate, err := workspace.New(opts.WorkspaceRoot, logger)
	if err != nil {
		return nil, err
	}

	var cache *search.Cache
	if opts.Embedder != nil && !opts.MemoryCacheOnly {
		cache, err = search.OpenCache(cat.CachePath(), logger)
		if err != nil {
			return nil, err
		}
	}
	h := &Harness{opts: opts, catalog: cat, gate: gate, cache: cache, logger: logger.Named("harness")}

	if err := h.build(); err != nil {
		_ = h.closeStores()
		return nil, err
	}
	return h, nil
}

func (h *Harness) build() error {
	opts := h.opts
	var err error

	h.searcher, err = search.New(search.Config{
		Source:   h.catalog,
		Embedder: opts.Embedder,
		Cache:    h.cache,
		KeyMode:  opts.CacheKeyMode,
		Logger:   opts.Logger,
	})
	if err != nil {
		return err
	}

	h.recorder = metrics.NewRecorder(metrics.NewCollector(opts.MetricsRegisterer), opts.MetricsStore, opts.Logger)

	h.engine, err = runtime.New(runtime.Config{
		Profile:   opts.Profile,
		Allowed:   opts.AllowedModules,
		OnFinding: func(f runtime.Finding) { h.recorder.Finding(f.Rule) },
		Logger:    opts.Logger,
	})
	if err != nil {
		return err
	}

	h.registry = backend.NewRegistry(opts.Logger)
	for _, b := range localBackends(opts.LocalHandlers) {
		if err := h.registry.Register(b); err != nil {
			return err
		}
	}
	for _, b := range opts.Backends {
		if err := h.registry.Register(b); err != nil {
			return err
		}
	}
	h.tools = backend.NewAggregator(h.registry, opts.Logger)

	h.executor, err = code.NewDefaultExecutor(code.Config{
		Engine:         h.engine,
		Discovery:      h.catalog,
		Workspace:      h.gate,
		Search:         h.searcher,
		Invoker:        h.tools,
		DefaultTimeout: opts.DefaultTimeout,
		MaxTimeout:     opts.MaxTimeout,
		MaxConcurrent:  opts.MaxConcurrent,
		MaxToolCalls:   opts.MaxToolCalls,
		MaxChainSteps:  opts.MaxChainSteps,
		MaxOutputBytes: opts.MaxOutputBytes,
		Recorder:       h.recorder,
		Logger:         opts.Logger,
	})
	return err
}

// localBackends groups "server.tool" handlers into one backend per server.
// Ids without a server part are ignored.
func localBackends(handlers map[string]Handler) []*local.Backend {
	byServer := make(map[string]*local.Backend)
	for _, id := range slices.Sorted(maps.Keys(handlers)) {
		server, tool, err := catalog.ParseID(id)
		if err != nil {
			continue
		}
		b, ok := byServer[server]
		if !ok {
			b = local.New(server)
			byServer[server] = b
		}
		b.RegisterHandler(tool, local.ToolDef{Name: tool, Handler: local.HandlerFunc(handlers[id])})
	}
	out := make([]*local.Backend, 0, len(byServer))
	for _, server := range slices.Sorted(maps.Keys(byServer)) {
		out = append(out, byServer[server])
	}
	return out
}

// Start starts every enabled backend.
func (h *Harness) Start(ctx context.Context) error {
	return h.registry.StartAll(ctx)
}

// Close stops the backends and closes the cache and metrics store.
func (h *Harness) Close() error {
	return errors.Join(h.registry.StopAll(), h.closeStores())
}

func (h *Harness) closeStores() error {
	var errs []error
	if h.cache != nil {
		errs = append(errs, h.cache.Close())
	}
	if h.recorder != nil {
		errs = append(errs, h.recorder.Close())
	}
	return errors.Join(errs...)
}

// Execute runs a script. Failures of the script itself are reported in the
// Result; the error is non-nil only when the request was not run.
func (h *Harness) Execute(ctx context.Context, req code.Request) (code.Result, error) {
	return h.executor.Execute(ctx, req)
}

// RunTool executes a single tool by id and returns the result.
func (h *Harness) RunTool(ctx context.Context, toolID string, args map[string]any) (Result, error) {
	start := time.Now()
	value, err := h.tools.Execute(ctx, toolID, args)
	res := Result{Value: value, ToolID: toolID, Duration: time.Since(start), Error: err}
	return res, err
}

// RunChain executes a sequence of tools. A step with UsePrevious receives
// the previous step's value under Args["previous"]. Steps after a failing
// step whose StopOnError is true are marked Skipped.
func (h *Harness) RunChain(ctx context.Context, steps []Step) (Result, []StepResult, error) {
	if len(steps) > h.opts.MaxChainSteps {
		return Result{}, nil, fmt.Errorf("%w: %d steps, max %d", ErrChainTooLong, len(steps), h.opts.MaxChainSteps)
	}

	start := time.Now()
	results := make([]StepResult, len(steps))
	var (
		previous any
		final    Result
		firstErr error
		stopped  bool
	)

	for i, step := range steps {
		results[i] = StepResult{StepIndex: i, ToolID: step.ToolID}
		if stopped {
			results[i].Skipped = true
			continue
		}

		args := make(map[string]any, len(step.Args)+1)
		maps.Copy(args, step.Args)
		if step.UsePrevious {
			if _, ok := args["previous"]; !ok {
				args["previous"] = previous
			}
		}
		results[i].Args = args

		stepStart := time.Now()
		value, err := h.tools.Execute(ctx, step.ToolID, args)
		results[i].Duration = time.Since(stepStart)
		results[i].Value = value
		results[i].Error = err

		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("chain step %d (%s): %w", i, step.ToolID, err)
			}
			stopped = step.shouldStopOnError()
			continue
		}
		previous = value
		final = Result{Value: value, ToolID: step.ToolID}
	}

	final.Duration = time.Since(start)
	final.Error = firstErr
	return final, results, firstErr
}

// SearchTools ranks catalog tools for a query.
func (h *Harness) SearchTools(ctx context.Context, query string, topK int, level search.DetailLevel) ([]search.Result, error) {
	return h.searcher.Search(ctx, query, topK, level)
}

// Watch reports catalog changes until ctx is done.
func (h *Harness) Watch(ctx context.Context, fn func(catalog.Change)) error {
	return h.catalog.Watch(ctx, func(c catalog.Change) {
		h.logger.Info("catalog changed", zap.String("server", c.Server), zap.String("tool", c.Tool))
		fn(c)
	})
}

// Catalog returns the tool catalog.
func (h *Harness) Catalog() *catalog.Catalog { return h.catalog }

// Searcher returns the relevance searcher.
func (h *Harness) Searcher() *search.Searcher { return h.searcher }

// Workspace returns the file gate scripts write through.
func (h *Harness) Workspace() *workspace.Gate { return h.gate }

// Registry returns the backend registry.
func (h *Harness) Registry() *backend.Registry { return h.registry }

// Engine returns the script engine.
func (h *Harness) Engine() *runtime.Engine { return h.engine }

// Metrics returns the execution recorder.
func (h *Harness) Metrics() *metrics.Recorder { return h.recorder }
