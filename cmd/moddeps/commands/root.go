package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/moddeps/pkg/engine"
	"github.com/openfroyo/moddeps/pkg/providers/puppet"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// rootOptions holds the persistent flags and the collaborators commands are
// built from. A nil logOutput sends logs where the config says.
type rootOptions struct {
	build BuildInfo

	configPath string
	verbose    bool
	jsonOutput bool

	runner    puppet.Runner
	logOutput io.Writer
}

// Execute runs the root command
func Execute(ctx context.Context, build BuildInfo) error {
	rootCmd := newRootCommand(&rootOptions{build: build, runner: puppet.ExecRunner{}})
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "moddeps",
		Short: "Install Puppet modules together with their dependencies",
		Long: `moddeps resolves the full dependency closure of the requested Puppet modules
from the local module path, an optional Puppetfile and the Puppet Forge, then
installs or upgrades only what is missing or mismatched.

Modules already present at a satisfying version are left untouched, as are
unrelated modules on the module path.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", opts.build.Version, opts.build.Commit, opts.build.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &engine.InputError{Message: "usage: " + c.UseLine(), Err: err}
	})

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")

	rootCmd.AddCommand(newInstallCommand(opts))
	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newInventoryCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newVersionCommand(opts))

	return rootCmd
}
