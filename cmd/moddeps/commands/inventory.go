package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newInventoryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List installed modules",
		Long: `Scan the module path and list every installed module with its version,
location and declared dependencies. Modules whose metadata could not be read
are listed with a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				inv, err := a.scan(ctx)
				if err != nil {
					return err
				}
				return a.printInventory(cmd.OutOrStdout(), inv)
			})
		},
	}

	cmd.Flags().String("modulepath", "", "module path (default: 'puppet config print modulepath')")

	return cmd
}
