package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolharness/catalog"
	"github.com/jonwraymond/toolharness/search"
)

func newServersCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List catalog servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.New(catalog.Config{Root: opts.settings.CatalogRoot, Logger: opts.logger})
			if err != nil {
				return err
			}
			servers, err := cat.ListServers()
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), servers)
			}
			for _, s := range servers {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}

func newToolsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools <server>",
		Short: "List the tools of a server with their descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.New(catalog.Config{Root: opts.settings.CatalogRoot, Logger: opts.logger})
			if err != nil {
				return err
			}
			overview, err := cat.Overview(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), overview)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, t := range overview.Tools {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
			}
			return w.Flush()
		},
	}
}

func newShowCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <server.tool>",
		Short: "Print a tool definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, tool, err := catalog.ParseID(args[0])
			if err != nil {
				return err
			}
			cat, err := catalog.New(catalog.Config{Root: opts.settings.CatalogRoot, Logger: opts.logger})
			if err != nil {
				return err
			}
			def, err := cat.Definition(server, tool)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), def)
			return nil
		},
	}
}

func newSearchCmd(opts *cliOptions) *cobra.Command {
	var (
		topK  int
		level string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank catalog tools for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := search.ParseDetailLevel(level)
			if err != nil {
				return err
			}
			h, err := opts.harness(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()

			results, err := h.SearchTools(cmd.Context(), args[0], topK, detail)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%.3f\t%s\n", r.ID(), r.Score, r.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results")
	cmd.Flags().StringVar(&level, "level", "summary", "detail level: name, summary or full")
	return cmd
}
