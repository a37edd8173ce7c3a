package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/moddeps/pkg/engine"
)

func newPlanCommand(opts *rootOptions) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan NAME...",
		Short: "Show the install plan for modules",
		Long: `Resolve the named modules and print the ordered plan without installing
anything. Each entry shows the operation install would perform.`,
		Example: `  # Show the plan for apache
  moddeps plan apache

  # Render the dependency graph with graphviz
  moddeps plan apache nginx --dot | dot -Tsvg > plan.svg`,
		Args: moduleNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				plan, inv, err := a.resolve(ctx, args, a.puppetVersion(ctx))
				if err != nil {
					return err
				}
				if dot {
					graph, err := engine.PlanGraph(plan)
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(cmd.OutOrStdout(), graph.ToDOT())
					return err
				}
				return a.printPlan(cmd.OutOrStdout(), plan, inv.Installed())
			})
		},
	}

	addResolveFlags(cmd)
	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in DOT format")
	cmd.Flags().String("puppet-version", "", "puppet version used to pick compatible releases")

	return cmd
}
