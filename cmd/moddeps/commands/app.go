package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/git-pkgs/registries"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/moddeps/pkg/config"
	"github.com/openfroyo/moddeps/pkg/engine"
	"github.com/openfroyo/moddeps/pkg/inventory"
	"github.com/openfroyo/moddeps/pkg/manifest"
	"github.com/openfroyo/moddeps/pkg/providers/forge"
	"github.com/openfroyo/moddeps/pkg/providers/puppet"
	"github.com/openfroyo/moddeps/pkg/stores"
	"github.com/openfroyo/moddeps/pkg/telemetry"
)

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"modulepath":     "modulepath",
	"puppetfile":     "puppetfile",
	"puppet-version": "puppet_version",
	"log-format":     "logging.format",
}

// app is the wiring shared by every command invocation.
type app struct {
	opts       *rootOptions
	cfg        *config.Config
	tel        *telemetry.Telemetry
	log        zerolog.Logger
	puppet     *puppet.Client
	puppetOpts []puppet.Option
	store      *stores.SQLiteStore
}

// newApp loads configuration and telemetry for cmd.
func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	flags := make(map[string]*pflag.Flag, len(flagKeys))
	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			flags[key] = f
		}
	}

	cfg, used, err := config.Load(config.LoadOptions{ConfigFile: opts.configPath, Flags: flags})
	if err != nil {
		return nil, &engine.InputError{Message: "configuration", Err: err}
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(opts.build.Version), opts.logOutput)
	if err != nil {
		return nil, &engine.InputError{Message: "telemetry", Err: err}
	}

	log := tel.Logger.NewComponentLogger("cli")
	if used != "" {
		log.Debug().Str("path", used).Msg("Loaded configuration")
	}

	puppetOpts := []puppet.Option{
		puppet.WithRunner(opts.runner),
		puppet.WithPuppetBinary(cfg.PuppetBinary),
		puppet.WithGitBinary(cfg.GitBinary),
		puppet.WithLogger(tel.Logger.NewComponentLogger("puppet")),
	}
	if cfg.ModulePath != "" {
		puppetOpts = append(puppetOpts, puppet.WithModulePath(puppet.SplitModulePath(cfg.ModulePath, runtime.GOOS)))
	}
	if cfg.Forge.URL != forge.DefaultURL {
		puppetOpts = append(puppetOpts, puppet.WithForgeURL(cfg.Forge.URL))
	}

	return &app{
		opts:       opts,
		cfg:        cfg,
		tel:        tel,
		log:        log,
		puppet:     puppet.NewClient(puppetOpts...),
		puppetOpts: puppetOpts,
	}, nil
}

// Close flushes telemetry and closes the history database.
func (a *app) Close(ctx context.Context) error {
	var result *multierror.Error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// puppetVersion returns the configured puppet version, falling back to the
// installed one. It returns "" when neither is known.
func (a *app) puppetVersion(ctx context.Context) string {
	if a.cfg.PuppetVersion != "" {
		return a.cfg.PuppetVersion
	}
	v, err := a.puppet.Version(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("Could not detect puppet version")
		return ""
	}
	return v
}

// scan reads the module path.
func (a *app) scan(ctx context.Context) (*inventory.Inventory, error) {
	paths, err := a.puppet.ModulePath(ctx)
	if err != nil {
		return nil, err
	}
	scanner, err := inventory.NewScanner(a.tel.Logger.NewComponentLogger("inventory"))
	if err != nil {
		return nil, err
	}
	inv, err := scanner.Scan(ctx, paths)
	if err != nil {
		return nil, err
	}
	for _, w := range inv.Warnings() {
		a.log.Warn().Err(w).Msg("Module metadata problem")
	}
	return inv, nil
}

// resolve loads the Puppetfile if one is configured, scans the module path
// and resolves names.
func (a *app) resolve(ctx context.Context, names []string, puppetVersion string) (*engine.ResolutionPlan, *inventory.Inventory, error) {
	var src engine.ManifestSource
	if a.cfg.Puppetfile != "" {
		m, err := manifest.Load(a.cfg.Puppetfile, manifest.WithLogger(a.tel.Logger.NewComponentLogger("manifest")))
		if err != nil {
			return nil, nil, err
		}
		a.applyManifest(m)
		src = m
	}

	inv, err := a.scan(ctx)
	if err != nil {
		return nil, nil, err
	}

	registry := forge.NewClient(
		forge.WithBaseURL(a.cfg.Forge.URL),
		forge.WithHTTPClient(registries.NewClient(
			registries.WithTimeout(a.cfg.Forge.Timeout),
			registries.WithMaxRetries(a.cfg.Forge.MaxRetries),
		).WithUserAgent("moddeps/"+a.opts.build.Version)),
		forge.WithPuppetVersion(puppetVersion),
		forge.WithLogger(a.tel.Logger.NewComponentLogger("forge")),
	)

	resolver := engine.NewResolver(inv, src, registry,
		engine.WithLogger(a.tel.Logger.NewComponentLogger("resolver")))

	plan, err := resolver.Resolve(ctx, names)
	a.tel.Metrics.RecordResolution(plan, err)
	if err != nil {
		return nil, nil, err
	}
	return plan, inv, nil
}

// applyManifest lets the manifest's forge and moduledir settings stand in for
// configuration left at its defaults.
func (a *app) applyManifest(m *manifest.Manifest) {
	var extra []puppet.Option
	if m.Forge != "" && m.Forge != forge.DefaultURL && a.cfg.Forge.URL == forge.DefaultURL {
		a.cfg.Forge.URL = m.Forge
		extra = append(extra, puppet.WithForgeURL(m.Forge))
	}
	if m.ModuleDir != "" && a.cfg.ModulePath == "" {
		dir := m.ModuleDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(a.cfg.Puppetfile), dir)
		}
		a.cfg.ModulePath = dir
		extra = append(extra, puppet.WithModulePath([]string{dir}))
	}
	if len(extra) == 0 {
		return
	}

	a.log.Debug().
		Str("forge", a.cfg.Forge.URL).
		Str("modulepath", a.cfg.ModulePath).
		Msg("Using settings from manifest")
	opts := append(append([]puppet.Option(nil), a.puppetOpts...), extra...)
	a.puppet = puppet.NewClient(opts...)
}

// history opens the install history database, or returns nil when history
// is disabled.
func (a *app) history(ctx context.Context) (*stores.SQLiteStore, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	if a.store != nil {
		return a.store, nil
	}

	if err := os.MkdirAll(filepath.Dir(a.cfg.History.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.store = store
	return store, nil
}

// run builds the app, invokes fn and always shuts telemetry down.
func run(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			a.log.Warn().Err(cerr).Msg("Shutdown failed")
		}
	}()

	ctx, span := a.tel.Tracer.Start(cmd.Context(), "moddeps."+cmd.Name())
	defer span.End()

	if err := fn(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
