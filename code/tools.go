package code

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/search"
)

// Tools is the discovery and invocation surface exposed to scripts.
//
// Contract:
// - Concurrency: safe for concurrent use; scripts may call from goroutines.
// - Context: methods return ctx.Err() once ctx is done.
// - Errors: catalog lookups return catalog sentinel errors; Call returns
//   ErrLimitExceeded once the request's call budget is spent.
// - Ownership: args are read-only; returned values are caller-owned.
type Tools interface {
	ListServers(ctx context.Context) ([]string, error)
	ListTools(ctx context.Context, server string) ([]string, error)
	Summary(ctx context.Context, server, tool string) (catalog.ToolSummary, error)
	Definition(ctx context.Context, server, tool string) (string, error)
	ReadFile(ctx context.Context, rel string) (string, error)
	ListDirectory(ctx context.Context, rel string) ([]string, error)
	Overview(ctx context.Context, server string) (catalog.ServerOverview, error)
	AllTools(ctx context.Context) ([]catalog.ToolSummary, error)
	Search(ctx context.Context, query string, topK int, level search.DetailLevel) ([]search.Result, error)

	// Call invokes a tool by "server.tool" id. Each call is recorded.
	Call(ctx context.Context, toolID string, args map[string]any) (any, error)

	// Chain runs steps in order and stops at the first failure. It returns
	// the last successful result.
	Chain(ctx context.Context, steps []ChainStep) (any, error)
}

// toolsImpl serves one request. It counts calls and keeps the trace.
type toolsImpl struct {
	discovery     Discovery
	search        Searcher
	invoker       Invoker
	logger        *zap.Logger
	maxToolCalls  int
	maxChainSteps int

	mu        sync.Mutex
	callCount int
	toolCalls []ToolCallRecord
}

// newTools creates the per-request Tools. A limit of 0 is unlimited.
func newTools(cfg *Config, maxToolCalls int, logger *zap.Logger) *toolsImpl {
	return &toolsImpl{
		discovery:     cfg.Discovery,
		search:        cfg.Search,
		invoker:       cfg.Invoker,
		logger:        logger,
		maxToolCalls:  maxToolCalls,
		maxChainSteps: cfg.MaxChainSteps,
	}
}

func (t *toolsImpl) ListServers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.discovery.ListServers()
}

func (t *toolsImpl) ListTools(ctx context.Context, server string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.discovery.ListTools(server)
}

func (t *toolsImpl) Summary(ctx context.Context, server, tool string) (catalog.ToolSummary, error) {
	if err := ctx.Err(); err != nil {
		return catalog.ToolSummary{}, err
	}
	return t.discovery.Summary(server, tool)
}

func (t *toolsImpl) Definition(ctx context.Context, server, tool string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.discovery.Definition(server, tool)
}

func (t *toolsImpl) ReadFile(ctx context.Context, rel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.discovery.ReadFile(rel)
}

func (t *toolsImpl) ListDirectory(ctx context.Context, rel string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.discovery.ListDirectory(rel)
}

func (t *toolsImpl) Overview(ctx context.Context, server string) (catalog.ServerOverview, error) {
	if err := ctx.Err(); err != nil {
		return catalog.ServerOverview{}, err
	}
	return t.discovery.Overview(server)
}

func (t *toolsImpl) AllTools(ctx context.Context) ([]catalog.ToolSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.discovery.AllTools()
}

func (t *toolsImpl) Search(ctx context.Context, query string, topK int, level search.DetailLevel) ([]search.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.search == nil {
		return nil, fmt.Errorf("%w: no searcher configured", search.ErrConfiguration)
	}
	return t.search.Search(ctx, query, topK, level)
}

// reserve takes n calls from the budget, or none of them.
func (t *toolsImpl) reserve(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxToolCalls > 0 && t.callCount+n > t.maxToolCalls {
		return fmt.Errorf("%w: max tool calls (%d) exceeded", ErrLimitExceeded, t.maxToolCalls)
	}
	t.callCount += n
	return nil
}

func (t *toolsImpl) record(rec ToolCallRecord) {
	t.mu.Lock()
	t.toolCalls = append(t.toolCalls, rec)
	t.mu.Unlock()
}

func (t *toolsImpl) Call(ctx context.Context, toolID string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.reserve(1); err != nil {
		return nil, err
	}
	result, err := t.invoke(ctx, toolID, args)
	rec := ToolCallRecord{ToolID: toolID, Args: deepCopyArgs(args), DurationMs: result.duration}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorOp = "call"
	} else {
		rec.Result = deepCopyValue(result.value)
	}
	t.record(rec)
	return result.value, err
}

func (t *toolsImpl) Chain(ctx context.Context, steps []ChainStep) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.maxChainSteps > 0 && len(steps) > t.maxChainSteps {
		return nil, fmt.Errorf("%w: max chain steps (%d) exceeded (got %d)",
			ErrLimitExceeded, t.maxChainSteps, len(steps))
	}
	if err := t.reserve(len(steps)); err != nil {
		return nil, err
	}

	var previous any
	for i, step := range steps {
		args := make(map[string]any, len(step.Args)+1)
		for k, v := range step.Args {
			args[k] = v
		}
		if step.UsePrevious {
			args["previous"] = previous
		}
		result, err := t.invoke(ctx, step.ToolID, args)
		rec := ToolCallRecord{ToolID: step.ToolID, Args: deepCopyArgs(args), DurationMs: result.duration}
		if err != nil {
			rec.Error = err.Error()
			rec.ErrorOp = "chain"
			t.record(rec)
			return previous, fmt.Errorf("chain step %d (%s): %w", i, step.ToolID, err)
		}
		rec.Result = deepCopyValue(result.value)
		t.record(rec)
		previous = result.value
	}
	return previous, nil
}

type invocation struct {
	value    any
	duration int64
}

func (t *toolsImpl) invoke(ctx context.Context, toolID string, args map[string]any) (invocation, error) {
	if _, _, err := catalog.ParseID(toolID); err != nil {
		return invocation{}, err
	}
	if t.invoker == nil {
		return invocation{}, fmt.Errorf("%w: %s", ErrNoInvoker, toolID)
	}
	start := time.Now()
	value, err := t.invoker.Execute(ctx, toolID, args)
	d := time.Since(start)
	t.logger.Debug("tool call",
		zap.String("tool", toolID),
		zap.Duration("duration", d),
		zap.Error(err))
	return invocation{value: value, duration: d.Milliseconds()}, err
}

// ToolCalls returns a copy of the recorded calls.
func (t *toolsImpl) ToolCalls() []ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ToolCallRecord(nil), t.toolCalls...)
}

// deepCopyArgs snapshots an args map into JSON-native shapes, so later
// mutation by the script does not rewrite the trace.
func deepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return deepCopyArgs(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	case string, bool, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return val
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
