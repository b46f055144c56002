package exec

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/toolharness/backend"
	"github.com/jonwraymond/toolharness/backend/local"
	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/code"
	"github.com/jonwraymond/toolharness/metrics"
	"github.com/jonwraymond/toolharness/search"
)

const fixtureRoot = "../testdata/servers"

func testHandlers() map[string]Handler {
	return map[string]Handler{
		"weather.get_forecast": func(_ context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("%v: sunny", args["city"]), nil
		},
		"text.upper": func(_ context.Context, args map[string]any) (any, error) {
			if prev, ok := args["previous"].(string); ok {
				return strings.ToUpper(prev), nil
			}
			return strings.ToUpper(fmt.Sprint(args["text"])), nil
		},
		"text.fail": func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
}

func newTestHarness(t *testing.T, mutate ...func(*Options)) *Harness {
	t.Helper()
	opts := Options{
		CatalogRoot:   fixtureRoot,
		WorkspaceRoot: t.TempDir(),
		LocalHandlers: testHandlers(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNew_MissingRoots(t *testing.T) {
	_, err := New(Options{WorkspaceRoot: t.TempDir()})
	assert.ErrorIs(t, err, ErrCatalogRequired)

	_, err = New(Options{CatalogRoot: fixtureRoot})
	assert.ErrorIs(t, err, ErrWorkspaceRequired)
}

func TestNew_InvalidProfile(t *testing.T) {
	_, err := New(Options{CatalogRoot: fixtureRoot, WorkspaceRoot: t.TempDir(), Profile: "paranoid"})
	assert.ErrorIs(t, err, code.ErrConfiguration)
}

func TestNew_RegistersLocalBackendsPerServer(t *testing.T) {
	h := newTestHarness(t)
	assert.Equal(t, []string{"text", "weather"}, h.Registry().Names())
}

func TestNew_DuplicateBackend(t *testing.T) {
	_, err := New(Options{
		CatalogRoot:   fixtureRoot,
		WorkspaceRoot: t.TempDir(),
		LocalHandlers: testHandlers(),
		Backends:      []backend.Backend{local.New("weather")},
	})
	assert.ErrorIs(t, err, backend.ErrBackendExists)
}

func TestExecute_Print(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.Execute(context.Background(), code.Request{Code: `fmt.Println("hello")`})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, code.StateSucceeded, res.State)
	assert.Equal(t, "hello\n", res.Output)
}

func TestExecute_DiscoverAndCall(t *testing.T) {
	h := newTestHarness(t)
	src := `servers, _ := tools.ListServers()
fmt.Println(strings.Join(servers, ","))
out, err := tools.Call(ctx, "weather.get_forecast", map[string]any{"city": "Oslo"})
if err != nil {
	panic(err)
}
fmt.Println(out)`

	res, err := h.Execute(context.Background(), code.Request{Code: src})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "text,weather\nOslo: sunny\n", res.Output)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "weather.get_forecast", res.ToolCalls[0].ToolID)
	assert.Equal(t, "Oslo: sunny", res.ToolCalls[0].Result)

	sum, err := h.Metrics().Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalRuns)
	assert.Equal(t, int64(1), sum.ToolCalls)
}

func TestExecute_ConcurrentOutputIsIsolated(t *testing.T) {
	h := newTestHarness(t)
	letters := []string{"A", "B"}
	results := make([]code.Result, len(letters))
	errs := make([]error, len(letters))

	var wg sync.WaitGroup
	for i, letter := range letters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := fmt.Sprintf("for i := 0; i < 1000; i++ {\n\tfmt.Print(%q)\n}", letter)
			results[i], errs[i] = h.Execute(context.Background(), code.Request{Code: src})
		}()
	}
	wg.Wait()

	for i, letter := range letters {
		require.NoError(t, errs[i])
		require.True(t, results[i].Success, results[i].Error)
		assert.Equal(t, strings.Repeat(letter, 1000), results[i].Output)
	}
}

func TestExecute_SleepPastBudgetTimesOut(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.Execute(context.Background(), code.Request{
		Code:           "time.Sleep(6 * time.Second)\nfmt.Println(\"late\")",
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, code.StateTimedOut, res.State)
	assert.True(t, strings.HasPrefix(res.Error, "Execution timeout after 1 seconds"), res.Error)
	assert.InDelta(t, 1000, res.ExecutionTimeMs, 300)
	assert.NotContains(t, res.Output, "late")
}

func TestExecute_UnknownServerCall(t *testing.T) {
	h := newTestHarness(t)
	src := `_, err := tools.Call(ctx, "billing.charge", nil)
if err != nil {
	panic(err)
}`

	res, err := h.Execute(context.Background(), code.Request{Code: src})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, code.KindServerNotFound, res.Kind)
}

func TestExecute_WorkspaceConfined(t *testing.T) {
	workspace := t.TempDir()
	h := newTestHarness(t, func(o *Options) { o.WorkspaceRoot = workspace })

	res, err := h.Execute(context.Background(), code.Request{Code: `if err := sandbox.WriteFile("notes.txt", "kept"); err != nil {
	panic(err)
}
_, err := sandbox.Open("../outside.txt", "w")
fmt.Println(err != nil)`})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "true\n", res.Output)
	assert.FileExists(t, filepath.Join(workspace, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(workspace), "outside.txt"))
}

func TestExecute_RestrictedImport(t *testing.T) {
	h := newTestHarness(t, func(o *Options) { o.Profile = "hardened" })

	res, err := h.Execute(context.Background(), code.Request{Code: "import \"os\"\nfmt.Println(os.Args)"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, code.KindImport, res.Kind)
	assert.True(t, strings.HasPrefix(res.Error, "Import error:"), res.Error)
}

func TestExecute_FindingsCounted(t *testing.T) {
	store := metrics.NewMemoryStore(10)
	reg := prometheus.NewRegistry()
	h := newTestHarness(t, func(o *Options) {
		o.MetricsStore = store
		o.MetricsRegisterer = reg
	})

	res, err := h.Execute(context.Background(), code.Request{Code: `done := make(chan bool)
go func() { done <- true }()
fmt.Println(<-done)`})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.ID, recent[0].ExecutionID)

	n, err := testutil.GatherAndCount(reg, "toolharness_script_findings_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunTool(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.RunTool(context.Background(), "text.upper", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "HI", res.Value)
	assert.Equal(t, "text.upper", res.ToolID)

	res, err = h.RunTool(context.Background(), "text.missing", nil)
	assert.ErrorIs(t, err, catalog.ErrToolNotFound)
	assert.False(t, res.OK())
}

func TestRunChain_UsePrevious(t *testing.T) {
	h := newTestHarness(t)

	final, steps, err := h.RunChain(context.Background(), []Step{
		{ToolID: "weather.get_forecast", Args: map[string]any{"city": "Oslo"}},
		{ToolID: "text.upper", UsePrevious: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "OSLO: SUNNY", final.Value)
	assert.Equal(t, "text.upper", final.ToolID)
	require.Len(t, steps, 2)
	assert.Equal(t, "Oslo: sunny", steps[1].Args["previous"])
	assert.True(t, steps[0].OK())
	assert.True(t, steps[1].OK())
}

func TestRunChain_StopAndContinue(t *testing.T) {
	h := newTestHarness(t)
	keepGoing := false

	_, steps, err := h.RunChain(context.Background(), []Step{
		{ToolID: "text.fail", StopOnError: &keepGoing},
		{ToolID: "text.upper", Args: map[string]any{"text": "a"}},
		{ToolID: "text.fail"},
		{ToolID: "text.upper", Args: map[string]any{"text": "b"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain step 0 (text.fail)")
	assert.False(t, steps[0].OK())
	assert.True(t, steps[1].OK())
	assert.Error(t, steps[2].Error)
	assert.True(t, steps[3].Skipped)
}

func TestRunChain_TooLong(t *testing.T) {
	h := newTestHarness(t, func(o *Options) { o.MaxChainSteps = 1 })

	_, _, err := h.RunChain(context.Background(), []Step{{ToolID: "text.upper"}, {ToolID: "text.upper"}})
	assert.ErrorIs(t, err, ErrChainTooLong)
}

func TestSearchTools_Keyword(t *testing.T) {
	h := newTestHarness(t)

	results, err := h.SearchTools(context.Background(), "forecast", 1, search.LevelSummary)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "weather.get_forecast", results[0].ID())
	assert.Equal(t, "Get the weather forecast for a city.", results[0].Description)
	assert.False(t, h.Searcher().Semantic())
}

func TestLocalBackends_GroupsAndSkipsBadIDs(t *testing.T) {
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	got := localBackends(map[string]Handler{
		"b.one": noop,
		"a.two": noop,
		"a.one": noop,
		"bad":   noop,
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name())
	assert.Equal(t, "b", got[1].Name())

	tools, err := got[0].ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "a.one", tools[0].ID())
}
