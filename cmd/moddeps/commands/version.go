package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "moddeps %s\n", opts.build.Version)
				fmt.Fprintf(out, "  commit:  %s\n", opts.build.Commit)
				fmt.Fprintf(out, "  built:   %s\n", opts.build.BuildDate)
				if v := a.puppetVersion(ctx); v != "" {
					fmt.Fprintf(out, "  puppet:  %s\n", v)
				}
				return nil
			})
		},
	}
}
