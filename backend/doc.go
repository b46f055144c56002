// Package backend routes script tool calls to the systems that execute them.
//
// A Backend is one tool server: an in-process set of Go handlers
// (backend/local) or a remote MCP server (backend/mcp). Backends are named
// after the catalog server they implement, so the tool id "weather.forecast"
// runs tool "forecast" on the backend named "weather".
//
// The Registry holds backends by name; the Aggregator resolves tool ids
// against it and satisfies code.Invoker:
//
//	registry := backend.NewRegistry(logger)
//	_ = registry.Register(local.New("weather"))
//	agg := backend.NewAggregator(registry, logger)
//	out, err := agg.Execute(ctx, "weather.forecast", map[string]any{"city": "Oslo"})
//
// Unknown backends and tools fail with errors that also match
// catalog.ErrServerNotFound and catalog.ErrToolNotFound, so scripts see the
// same failure kinds for discovery and invocation.
package backend
