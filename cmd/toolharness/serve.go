package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/mcpserver"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the harness as an MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			h, err := opts.harness(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			if watch {
				go func() {
					err := h.Watch(ctx, func(catalog.Change) {})
					if err != nil {
						opts.logger.Warn("catalog watch stopped", zap.Error(err))
					}
				}()
			}

			return mcpserver.New(h, opts.logger).Run(ctx, &mcp.StdioTransport{})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "log catalog changes while serving")
	return cmd
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
