// Package exec is the composition root of the harness.
//
// A [Harness] owns one instance of every component: the tool catalog, the
// relevance searcher and its embedding cache, the workspace file gate, the
// script engine, the tool backends and the metrics recorder. It exposes the
// operations callers need without wiring those packages by hand:
//
//	h, err := exec.New(exec.Options{
//	    CatalogRoot:   "servers",
//	    WorkspaceRoot: "workspace",
//	    LocalHandlers: map[string]exec.Handler{
//	        "weather.get_forecast": forecast,
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	res, err := h.Execute(ctx, code.Request{Code: `fmt.Println("hi")`})
//
// # Tools outside scripts
//
// RunTool and RunChain call backends directly, and SearchTools ranks the
// catalog, for hosts that want the same tools without a script:
//
//	final, steps, err := h.RunChain(ctx, []exec.Step{
//	    {ToolID: "weather.get_forecast", Args: map[string]any{"city": "Oslo"}},
//	    {ToolID: "text.upper", UsePrevious: true},
//	})
package exec
