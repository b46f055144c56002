package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolharness/code"
)

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		source       string
		timeout      int
		maxToolCalls int
	)

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute a script from a file, --code, or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd.InOrStdin(), source, args)
			if err != nil {
				return err
			}

			h, err := opts.harness(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()

			res, err := h.Execute(cmd.Context(), code.Request{
				Code:           src,
				TimeoutSeconds: timeout,
				MaxToolCalls:   maxToolCalls,
			})
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), res.Output)
				if !res.Success {
					fmt.Fprintln(cmd.ErrOrStderr(), res.Error)
				}
			}
			if !res.Success {
				return exitSilent(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "code", "c", "", "script source")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "time budget in seconds (default from settings)")
	cmd.Flags().IntVar(&maxToolCalls, "max-tool-calls", 0, "lower the tool call limit")
	return cmd
}

func readSource(stdin io.Reader, inline string, args []string) (string, error) {
	switch {
	case inline != "" && len(args) > 0:
		return "", errors.New("use either --code or a file argument")
	case inline != "":
		return inline, nil
	case len(args) == 1 && args[0] != "-":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
