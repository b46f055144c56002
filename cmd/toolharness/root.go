package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/backend"
	mcpbackend "github.com/jonwraymond/toolharness/backend/mcp"
	"github.com/jonwraymond/toolharness/config"
	"github.com/jonwraymond/toolharness/exec"
	"github.com/jonwraymond/toolharness/metrics"
	"github.com/jonwraymond/toolharness/runtime"
	"github.com/jonwraymond/toolharness/search"
)

type cliOptions struct {
	configPath    string
	catalogRoot   string
	workspaceRoot string
	debug         bool
	jsonOutput    bool
	settings      *config.Settings
	logger        *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "toolharness",
		Short:         "Sandboxed Go script execution with tool discovery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg := zap.NewProductionConfig()
			if opts.debug {
				cfg = zap.NewDevelopmentConfig()
			}
			log, err := cfg.Build()
			if err != nil {
				return err
			}
			opts.logger = log

			settings, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.catalogRoot != "" {
				settings.CatalogRoot = opts.catalogRoot
			}
			if opts.workspaceRoot != "" {
				settings.WorkspaceRoot = opts.workspaceRoot
			}
			opts.settings = settings
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML settings file")
	flags.StringVar(&opts.catalogRoot, "catalog", "", "catalog root (overrides catalog_root)")
	flags.StringVar(&opts.workspaceRoot, "workspace", "", "workspace root (overrides workspace_root)")
	flags.BoolVar(&opts.debug, "debug", false, "development logging")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output JSON")

	root.AddCommand(
		newRunCmd(opts),
		newServersCmd(opts),
		newToolsCmd(opts),
		newShowCmd(opts),
		newSearchCmd(opts),
		newServeCmd(opts),
		newMetricsCmd(opts),
	)
	return root
}

// harness builds and starts a harness from the loaded settings.
func (o *cliOptions) harness(ctx context.Context) (*exec.Harness, error) {
	s := o.settings

	embedder, err := search.NewEmbedder(s.EmbedderConfig())
	if err != nil {
		return nil, err
	}
	keyMode, err := search.ParseCacheKeyMode(s.CacheKeyMode)
	if err != nil {
		return nil, err
	}

	var store metrics.Store
	if path := s.MetricsPath(); path != "" {
		sqlStore, err := metrics.OpenStore(path, o.logger)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	}

	backends := make([]backend.Backend, 0, len(s.Backends))
	for _, b := range s.Backends {
		remote, err := mcpbackend.New(mcpbackend.Config{
			Name:    b.Name,
			Command: b.Command,
			Args:    b.Args,
			Env:     b.Env,
			Logger:  o.logger,
		})
		if err != nil {
			return nil, err
		}
		backends = append(backends, remote)
	}

	h, err := exec.New(exec.Options{
		CatalogRoot:    s.CatalogRoot,
		WorkspaceRoot:  s.WorkspaceRoot,
		Profile:        runtime.SecurityProfile(s.Profile),
		AllowedModules: s.AllowedModules,
		DefaultTimeout: s.Timeout(),
		MaxConcurrent:  s.MaxConcurrent,
		MaxToolCalls:   s.MaxToolCalls,
		MaxChainSteps:  s.MaxChainSteps,
		MaxOutputBytes: s.MaxOutputBytes,
		Embedder:       embedder,
		CacheKeyMode:   keyMode,
		Backends:       backends,
		MetricsStore:   store,
		Logger:         o.logger,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
