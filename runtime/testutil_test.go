package runtime

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/code"
	"github.com/jonwraymond/toolharness/search"
	"github.com/jonwraymond/toolharness/workspace"
)

// fakeTools serves a single weather server and echoes calls.
type fakeTools struct {
	calls []string
}

func (f *fakeTools) ListServers(ctx context.Context) ([]string, error) {
	return []string{"weather"}, nil
}

func (f *fakeTools) ListTools(ctx context.Context, server string) ([]string, error) {
	if server != "weather" {
		return nil, fmt.Errorf("%w: %s", catalog.ErrServerNotFound, server)
	}
	return []string{"get_forecast"}, nil
}

func (f *fakeTools) Summary(ctx context.Context, server, tool string) (catalog.ToolSummary, error) {
	return catalog.ToolSummary{Name: tool, Server: server, Description: "Get weather forecast."}, nil
}

func (f *fakeTools) Definition(ctx context.Context, server, tool string) (string, error) {
	return "package weather", nil
}

func (f *fakeTools) ReadFile(ctx context.Context, rel string) (string, error) { return "", nil }

func (f *fakeTools) ListDirectory(ctx context.Context, rel string) ([]string, error) {
	return nil, nil
}

func (f *fakeTools) Overview(ctx context.Context, server string) (catalog.ServerOverview, error) {
	return catalog.ServerOverview{Name: server, ToolCount: 1}, nil
}

func (f *fakeTools) AllTools(ctx context.Context) ([]catalog.ToolSummary, error) { return nil, nil }

func (f *fakeTools) Search(ctx context.Context, query string, topK int, level search.DetailLevel) ([]search.Result, error) {
	return []search.Result{{Server: "weather", Name: "get_forecast", Score: 10, Level: level}}, nil
}

func (f *fakeTools) Call(ctx context.Context, toolID string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, toolID)
	return map[string]any{"tool": toolID, "city": args["city"]}, nil
}

func (f *fakeTools) Chain(ctx context.Context, steps []code.ChainStep) (any, error) {
	return nil, nil
}

type harness struct {
	engine *Engine
	gate   *workspace.Gate
	tools  *fakeTools
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine, err := New(Config{})
	require.NoError(t, err)
	gate, err := workspace.New(t.TempDir(), nil)
	require.NoError(t, err)
	return &harness{engine: engine, gate: gate, tools: &fakeTools{}}
}

func (h *harness) run(ctx context.Context, src string) error {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.engine.Execute(ctx, src, code.Env{
		Stdout: &h.stdout,
		Stderr: &h.stderr,
		Files:  h.gate,
		Tools:  h.tools,
	})
}
