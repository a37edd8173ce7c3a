package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfroyo/moddeps/pkg/engine"
	"github.com/openfroyo/moddeps/pkg/stores"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show past install runs",
		Long: `List recent install runs, newest first. Given a run ID, show the outcome of
every module in that run.`,
		Example: `  # Last ten runs
  moddeps history --limit 10

  # Outcomes of one run
  moddeps history 3f2c9a4e-8d1b-4c57-a1e2-5b0f7d9c6e21`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				store, err := a.history(ctx)
				if err != nil {
					return err
				}
				if store == nil {
					return &engine.InputError{Message: "install history is disabled (history.enabled=false)"}
				}

				if len(args) == 1 {
					r, err := store.GetRun(ctx, args[0])
					if errors.Is(err, stores.ErrRunNotFound) {
						return &engine.InputError{Message: "no install run " + args[0], Err: err}
					}
					if err != nil {
						return err
					}
					outcomes, err := store.ListOutcomesByRun(ctx, r.ID)
					if err != nil {
						return err
					}
					return a.printRun(cmd.OutOrStdout(), r, outcomes)
				}

				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				return a.printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	return cmd
}
