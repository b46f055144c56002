package code

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/search"
	"github.com/jonwraymond/toolharness/workspace"
)

// fakeDiscovery serves one server with two tools.
type fakeDiscovery struct{}

func (fakeDiscovery) ListServers() ([]string, error) { return []string{"weather"}, nil }

func (fakeDiscovery) ListTools(server string) ([]string, error) {
	if server != "weather" {
		return nil, fmt.Errorf("%w: %s", catalog.ErrServerNotFound, server)
	}
	return []string{"get_forecast", "get_current_weather"}, nil
}

func (fakeDiscovery) Summary(server, tool string) (catalog.ToolSummary, error) {
	return catalog.ToolSummary{Name: tool, Server: server, Description: "Weather tool."}, nil
}

func (fakeDiscovery) Definition(server, tool string) (string, error) {
	return "package " + server, nil
}

func (fakeDiscovery) ReadFile(rel string) (string, error) { return "", nil }

func (fakeDiscovery) ListDirectory(rel string) ([]string, error) { return nil, nil }

func (fakeDiscovery) Overview(server string) (catalog.ServerOverview, error) {
	return catalog.ServerOverview{Name: server, ToolCount: 2}, nil
}

func (fakeDiscovery) AllTools() ([]catalog.ToolSummary, error) { return nil, nil }

type fakeSearcher struct {
	results []search.Result
}

func (f fakeSearcher) Search(ctx context.Context, query string, topK int, level search.DetailLevel) ([]search.Result, error) {
	return f.results, nil
}

// fakeInvoker echoes its args, or fails for ids in errs.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeInvoker) Execute(ctx context.Context, toolID string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, toolID)
	err := f.errs[toolID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return map[string]any{"tool": toolID, "args": args}, nil
}

type recordingRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recordingRecorder) Record(ctx context.Context, req Request, res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// printEngine writes src to stdout.
var printEngine = EngineFunc(func(ctx context.Context, src string, env Env) error {
	_, err := io.WriteString(env.Stdout, src)
	return err
})

func newTestConfig(t *testing.T, engine Engine) Config {
	t.Helper()
	gate, err := workspace.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return Config{
		Engine:    engine,
		Discovery: fakeDiscovery{},
		Workspace: gate,
		Invoker:   &fakeInvoker{},
	}
}

func newTestExecutor(t *testing.T, cfg Config) *DefaultExecutor {
	t.Helper()
	exec, err := NewDefaultExecutor(cfg)
	if err != nil {
		t.Fatalf("NewDefaultExecutor: %v", err)
	}
	return exec
}

func nopLogger() *zap.Logger { return zap.NewNop() }
