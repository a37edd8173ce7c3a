package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/moddeps/pkg/engine"
	"github.com/openfroyo/moddeps/pkg/stores"
	"github.com/openfroyo/moddeps/pkg/telemetry"
)

func newInstallCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "install NAME...",
		Short: "Install modules and their dependencies",
		Long: `Resolve the named modules and install every module in the dependency closure
that is missing, upgrading those whose installed version does not satisfy the
plan.

Modules are looked up in the Puppetfile first, then on the module path, then
on the Puppet Forge. Installs run one at a time in dependency order; a failed
install does not stop the others.`,
		Example: `  # Install apache and everything it needs
  moddeps install apache

  # Install into a specific module path
  moddeps install puppetlabs-apache nginx --modulepath /etc/puppetlabs/code/modules

  # Pin versions through a Puppetfile and show what would happen
  moddeps install apache --puppetfile ./Puppetfile --dry-run`,
		Args: moduleNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				return a.install(ctx, cmd, args, dryRun)
			})
		},
	}

	addResolveFlags(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without installing")
	cmd.Flags().String("puppet-version", "", "puppet version used to pick compatible releases")

	return cmd
}

// addResolveFlags registers the flags shared by install and plan.
func addResolveFlags(cmd *cobra.Command) {
	cmd.Flags().String("modulepath", "", "module path (default: first entry of 'puppet config print modulepath')")
	cmd.Flags().String("puppetfile", "", "Puppetfile or YAML manifest consulted during resolution")
}

func usageError(cmd *cobra.Command) error {
	return &engine.InputError{Message: "usage: " + cmd.UseLine()}
}

// moduleNames rejects a missing or malformed module name before anything is
// read from disk or run on the host.
func moduleNames(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError(cmd)
	}
	for _, name := range args {
		if _, err := engine.ParseModuleRef(name); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) install(ctx context.Context, cmd *cobra.Command, names []string, dryRun bool) error {
	puppetVersion := a.puppetVersion(ctx)

	plan, inv, err := a.resolve(ctx, names, puppetVersion)
	if err != nil {
		return err
	}

	installed := inv.Installed()
	if dryRun {
		return a.printPlan(cmd.OutOrStdout(), plan, installed)
	}

	opts := []engine.Option{
		engine.WithLogger(a.tel.Logger.NewComponentLogger("installer")),
		engine.WithInstallTimeout(a.cfg.InstallTimeout),
		engine.WithRecorder(a.tel.Metrics),
	}
	store, err := a.history(ctx)
	if err != nil {
		// History is best effort; the install itself still runs.
		a.log.Warn().Err(err).Msg("Install history unavailable")
	} else if store != nil {
		opts = append(opts, engine.WithRecorder(stores.NewHistoryRecorder(store, puppetVersion)))
	}

	report, applyErr := engine.NewInstaller(a.puppet, opts...).Apply(ctx, plan, installed)
	if report == nil {
		return applyErr
	}

	runLog := a.tel.Logger.WithRunID(report.RunID).WithPlanID(report.PlanID).Zerolog()
	runLog.Info().
		Str("trace_id", telemetry.TraceID(ctx)).
		Strs("requested", names).
		Bool("failed", applyErr != nil).
		Msg("Install run finished")

	if err := a.printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if applyErr != nil {
		return fmt.Errorf("install run %s: %w", report.RunID, applyErr)
	}
	return nil
}
