package backend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolharness/catalog"
)

// Aggregator combines tools from every registered backend.
type Aggregator struct {
	registry *Registry
	schemas  *schemaSet
	logger   *zap.Logger
}

// NewAggregator creates an aggregator over registry.
func NewAggregator(registry *Registry, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{registry: registry, schemas: newSchemaSet(), logger: logger.Named("backend")}
}

// ListAllTools returns tools from all enabled backends, sorted by id. Backends
// are queried concurrently; the first failure is returned.
func (a *Aggregator) ListAllTools(ctx context.Context) ([]Tool, error) {
	backends := a.registry.ListEnabled()
	lists := make([][]Tool, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		g.Go(func() error {
			tools, err := b.ListTools(gctx)
			if err != nil {
				return fmt.Errorf("listing tools of %s: %w", b.Name(), err)
			}
			for j := range tools {
				if tools[j].Server == "" {
					tools[j].Server = b.Name()
				}
			}
			lists[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]Tool, 0)
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	if err := a.schemas.store(all); err != nil {
		a.logger.Warn("unusable input schema", zap.Error(err))
	}
	return all, nil
}

// Execute invokes a "server.tool" id on the backend named server.
func (a *Aggregator) Execute(ctx context.Context, toolID string, args map[string]any) (any, error) {
	server, tool, err := catalog.ParseID(toolID)
	if err != nil {
		return nil, err
	}

	b, ok := a.registry.Get(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, server)
	}
	if !b.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrBackendDisabled, server)
	}

	if err := a.validate(ctx, b, toolID, args); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := b.Execute(ctx, tool, args)
	a.logger.Debug("tool executed",
		zap.String("tool_id", toolID),
		zap.String("backend_kind", b.Kind()),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", toolID, err)
	}
	return out, nil
}

// validate checks args against the tool's input schema. Schemas are loaded
// from the backend on first use. When the backend cannot list its tools the
// check is skipped and the call is left to the backend.
func (a *Aggregator) validate(ctx context.Context, b Backend, toolID string, args map[string]any) error {
	rs, ok := a.schemas.lookup(toolID)
	if !ok {
		tools, err := b.ListTools(ctx)
		if err != nil {
			a.logger.Debug("argument validation skipped", zap.String("tool_id", toolID), zap.Error(err))
			return nil
		}
		for i := range tools {
			if tools[i].Server == "" {
				tools[i].Server = b.Name()
			}
		}
		if err := a.schemas.store(tools); err != nil {
			a.logger.Warn("unusable input schema", zap.Error(err))
		}
		rs, _ = a.schemas.lookup(toolID)
	}
	return ValidateArgs(rs, toolID, args)
}
