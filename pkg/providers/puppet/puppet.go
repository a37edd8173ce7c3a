// Package puppet drives the puppet and git command line tools: it discovers
// the module path and installs modules into it.
package puppet

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/moddeps/pkg/engine"
)

// windowsHosts matches host OS names that use ';' as path list separator.
var windowsHosts = regexp.MustCompile(`(?i)cygwin|mswin|mingw|bccwin|wince|emx|windows`)

// PathSeparator returns the modulepath list separator for a host OS name.
// Both GOOS values and platform triples such as "mingw32" or "linux-gnu" are
// accepted.
func PathSeparator(hostOS string) string {
	if windowsHosts.MatchString(hostOS) {
		return ";"
	}
	return ":"
}

// SplitModulePath splits the output of `puppet config print modulepath`.
// Empty elements are dropped.
func SplitModulePath(raw, hostOS string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(raw, PathSeparator(hostOS)) {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Client runs puppet and git. It implements engine.ModulePathResolver and
// engine.PackageInstaller.
type Client struct {
	runner     Runner
	puppet     string
	git        string
	hostOS     string
	forgeURL   string
	modulePath []string
	logger     zerolog.Logger

	mu       sync.Mutex
	resolved []string
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithPuppetBinary sets the puppet executable.
func WithPuppetBinary(path string) Option {
	return func(c *Client) { c.puppet = path }
}

// WithGitBinary sets the git executable.
func WithGitBinary(path string) Option {
	return func(c *Client) { c.git = path }
}

// WithHostOS overrides the OS name used to split the module path.
func WithHostOS(name string) Option {
	return func(c *Client) { c.hostOS = name }
}

// WithForgeURL passes a module repository to puppet module install.
func WithForgeURL(url string) Option {
	return func(c *Client) { c.forgeURL = url }
}

// WithModulePath fixes the module path instead of asking puppet for it.
func WithModulePath(paths []string) Option {
	return func(c *Client) { c.modulePath = append([]string(nil), paths...) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client using the puppet and git binaries on PATH.
func NewClient(opts ...Option) *Client {
	c := &Client{
		runner: ExecRunner{},
		puppet: "puppet",
		git:    "git",
		hostOS: runtime.GOOS,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModulePath returns the configured module path, or asks puppet for it on
// first use.
func (c *Client) ModulePath(ctx context.Context) ([]string, error) {
	if len(c.modulePath) > 0 {
		return c.modulePath, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved != nil {
		return c.resolved, nil
	}

	out, err := c.runner.Run(ctx, c.puppet, "config", "print", "modulepath")
	if err != nil {
		return nil, fmt.Errorf("failed to query puppet modulepath: %w", err)
	}
	paths := SplitModulePath(out, c.hostOS)
	if len(paths) == 0 {
		return nil, fmt.Errorf("puppet reported an empty modulepath")
	}

	c.logger.Debug().Strs("modulepath", paths).Msg("Module path discovered")
	c.resolved = paths
	return paths, nil
}

// TargetDir returns the directory new modules are installed into: the first
// module path entry.
func (c *Client) TargetDir(ctx context.Context) (string, error) {
	paths, err := c.ModulePath(ctx)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// Version returns the output of `puppet --version`.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, c.puppet, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to query puppet version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Install installs or upgrades one module. Dependencies are never followed by
// puppet itself; the plan already contains them.
func (c *Client) Install(ctx context.Context, req engine.InstallRequest) error {
	dir, err := c.TargetDir(ctx)
	if err != nil {
		return err
	}

	name, args, err := c.command(req, dir)
	if err != nil {
		return err
	}

	log := c.logger.With().
		Str("module", req.Name).
		Str("operation", string(req.Operation)).
		Str("command", name).
		Logger()
	log.Debug().Strs("args", args).Msg("Running installer command")

	out, err := c.runner.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if out = strings.TrimSpace(out); out != "" {
		log.Debug().Str("output", out).Msg("Installer command finished")
	}
	return nil
}

func (c *Client) command(req engine.InstallRequest, dir string) (string, []string, error) {
	switch req.Source {
	case engine.SourceGit:
		if req.Location == "" {
			return "", nil, fmt.Errorf("git module %s has no repository URL", req.Name)
		}
		args := []string{"clone", "--quiet"}
		if req.Ref != "" {
			args = append(args, "--branch", req.Ref)
		}
		args = append(args, req.Location, filepath.Join(dir, req.Name))
		return c.git, args, nil
	}

	// Local modules are still fetched by puppet; they only skip registry
	// metadata during resolution.
	if req.Owner == "" {
		if req.Source == engine.SourceLocal {
			return "", nil, fmt.Errorf("cannot %s local module %s: its metadata names no owner", req.Operation, req.Name)
		}
		return "", nil, fmt.Errorf("cannot install %s from the registry without an owner", req.Name)
	}

	var args []string
	switch req.Operation {
	case engine.OperationUpgrade:
		args = []string{"module", "upgrade", req.Slug(), "--modulepath", dir}
	default:
		args = []string{"module", "install", req.Slug(), "--target-dir", dir}
	}

	if v := versionArg(req); v != "" {
		args = append(args, "--version", v)
	}
	args = append(args, "--ignore-dependencies")
	if c.forgeURL != "" {
		args = append(args, "--module_repository", c.forgeURL)
	}
	return c.puppet, args, nil
}

func versionArg(req engine.InstallRequest) string {
	if req.Version != "" {
		return req.Version
	}
	return req.Constraint
}
