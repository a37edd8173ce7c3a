package puppet

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/openfroyo/moddeps/pkg/engine"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	key := name + " " + strings.Join(args, " ")
	for prefix, err := range f.errs {
		if strings.HasPrefix(key, prefix) {
			return "", err
		}
	}
	return f.outputs[key], nil
}

func TestPathSeparator(t *testing.T) {
	tests := []struct {
		hostOS string
		want   string
	}{
		{hostOS: "mingw32", want: ";"},
		{hostOS: "mswin32", want: ";"},
		{hostOS: "cygwin", want: ";"},
		{hostOS: "windows", want: ";"},
		{hostOS: "linux-gnu", want: ":"},
		{hostOS: "linux", want: ":"},
		{hostOS: "darwin", want: ":"},
	}

	for _, tt := range tests {
		if got := PathSeparator(tt.hostOS); got != tt.want {
			t.Errorf("PathSeparator(%q) = %q, want %q", tt.hostOS, got, tt.want)
		}
	}
}

func TestSplitModulePath(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		hostOS string
		want   []string
	}{
		{
			name:   "unix",
			raw:    "/etc/puppetlabs/code/environments/production/modules:/etc/puppetlabs/code/modules:/opt/puppetlabs/puppet/modules\n",
			hostOS: "linux",
			want: []string{
				"/etc/puppetlabs/code/environments/production/modules",
				"/etc/puppetlabs/code/modules",
				"/opt/puppetlabs/puppet/modules",
			},
		},
		{
			name:   "windows",
			raw:    `C:/ProgramData/PuppetLabs/code/environments/production/modules;C:/ProgramData/PuppetLabs/code/modules`,
			hostOS: "mingw32",
			want: []string{
				"C:/ProgramData/PuppetLabs/code/environments/production/modules",
				"C:/ProgramData/PuppetLabs/code/modules",
			},
		},
		{name: "empty elements", raw: "/a::/b:", hostOS: "linux", want: []string{"/a", "/b"}},
		{name: "blank", raw: "  \n", hostOS: "linux", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitModulePath(tt.raw, tt.hostOS)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitModulePath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_ModulePath(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["puppet config print modulepath"] = "/etc/puppetlabs/code/modules:/opt/puppetlabs/puppet/modules\n"

	client := NewClient(WithRunner(runner), WithHostOS("linux"))

	for i := 0; i < 2; i++ {
		paths, err := client.ModulePath(context.Background())
		if err != nil {
			t.Fatalf("ModulePath() error: %v", err)
		}
		if len(paths) != 2 || paths[0] != "/etc/puppetlabs/code/modules" {
			t.Errorf("Unexpected paths: %v", paths)
		}
	}

	if len(runner.calls) != 1 {
		t.Errorf("Expected module path to be queried once, got %d calls", len(runner.calls))
	}
}

func TestClient_ModulePathConfigured(t *testing.T) {
	runner := newFakeRunner()
	client := NewClient(WithRunner(runner), WithModulePath([]string{"/srv/modules"}))

	dir, err := client.TargetDir(context.Background())
	if err != nil {
		t.Fatalf("TargetDir() error: %v", err)
	}
	if dir != "/srv/modules" {
		t.Errorf("TargetDir() = %s", dir)
	}
	if len(runner.calls) != 0 {
		t.Error("Configured module path must not run puppet")
	}
}

func TestClient_ModulePathErrors(t *testing.T) {
	runner := newFakeRunner()
	client := NewClient(WithRunner(runner))
	if _, err := client.ModulePath(context.Background()); err == nil {
		t.Error("Expected error for empty modulepath")
	}

	runner = newFakeRunner()
	runner.errs["puppet config"] = &CommandError{Command: "puppet config print modulepath", ExitCode: 127}
	client = NewClient(WithRunner(runner))

	_, err := client.ModulePath(context.Background())
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Expected *CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 127 {
		t.Errorf("ExitCode = %d", cmdErr.ExitCode)
	}
}

func TestClient_Version(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["puppet --version"] = "7.24.0\n"

	v, err := NewClient(WithRunner(runner)).Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if v != "7.24.0" {
		t.Errorf("Version() = %q", v)
	}
}

func TestClient_Install(t *testing.T) {
	dir := "/etc/puppetlabs/code/modules"

	tests := []struct {
		name     string
		forge    string
		req      engine.InstallRequest
		wantName string
		wantArgs []string
	}{
		{
			name:     "install pinned",
			req:      engine.InstallRequest{Name: "apache", Owner: "puppetlabs", Version: "5.6.0", Operation: engine.OperationInstall, Source: engine.SourceRegistry},
			wantName: "puppet",
			wantArgs: []string{"module", "install", "puppetlabs-apache", "--target-dir", dir, "--version", "5.6.0", "--ignore-dependencies"},
		},
		{
			name:     "install range",
			req:      engine.InstallRequest{Name: "stdlib", Owner: "puppetlabs", Constraint: ">= 4.13.1 < 7.0.0", Operation: engine.OperationInstall},
			wantName: "puppet",
			wantArgs: []string{"module", "install", "puppetlabs-stdlib", "--target-dir", dir, "--version", ">= 4.13.1 < 7.0.0", "--ignore-dependencies"},
		},
		{
			name:     "upgrade with forge",
			forge:    "https://forge.example.com",
			req:      engine.InstallRequest{Name: "nginx", Owner: "puppet", Version: "2.0.0", Operation: engine.OperationUpgrade, Source: engine.SourceRegistry},
			wantName: "puppet",
			wantArgs: []string{"module", "upgrade", "puppet-nginx", "--modulepath", dir, "--version", "2.0.0", "--ignore-dependencies", "--module_repository", "https://forge.example.com"},
		},
		{
			name:     "local install",
			req:      engine.InstallRequest{Name: "apache", Owner: "puppetlabs", Version: "5.6.0", Operation: engine.OperationInstall, Source: engine.SourceLocal},
			wantName: "puppet",
			wantArgs: []string{"module", "install", "puppetlabs-apache", "--target-dir", dir, "--version", "5.6.0", "--ignore-dependencies"},
		},
		{
			name:     "installed module upgrade",
			req:      engine.InstallRequest{Name: "stdlib", Owner: "puppetlabs", Constraint: ">=1.5.0 <2.4.0", Operation: engine.OperationUpgrade, Source: engine.SourceLocal},
			wantName: "puppet",
			wantArgs: []string{"module", "upgrade", "puppetlabs-stdlib", "--modulepath", dir, "--version", ">=1.5.0 <2.4.0", "--ignore-dependencies"},
		},
		{
			name:     "git",
			req:      engine.InstallRequest{Name: "nginx", Source: engine.SourceGit, Location: "https://example.com/nginx.git", Ref: "v2.0.0", Operation: engine.OperationInstall},
			wantName: "git",
			wantArgs: []string{"clone", "--quiet", "--branch", "v2.0.0", "https://example.com/nginx.git", filepath.Join(dir, "nginx")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			client := NewClient(WithRunner(runner), WithModulePath([]string{dir}), WithForgeURL(tt.forge))

			if err := client.Install(context.Background(), tt.req); err != nil {
				t.Fatalf("Install() error: %v", err)
			}
			if len(runner.calls) != 1 {
				t.Fatalf("Expected 1 command, got %d", len(runner.calls))
			}
			got := runner.calls[0]
			if got.name != tt.wantName || !reflect.DeepEqual(got.args, tt.wantArgs) {
				t.Errorf("Got %s %v\nwant %s %v", got.name, got.args, tt.wantName, tt.wantArgs)
			}
		})
	}
}

func TestClient_InstallErrors(t *testing.T) {
	tests := []struct {
		name string
		req  engine.InstallRequest
	}{
		{name: "local without owner", req: engine.InstallRequest{Name: "site_profile", Source: engine.SourceLocal, Operation: engine.OperationUpgrade}},
		{name: "git without url", req: engine.InstallRequest{Name: "nginx", Source: engine.SourceGit}},
		{name: "no owner", req: engine.InstallRequest{Name: "apache", Source: engine.SourceRegistry}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			client := NewClient(WithRunner(runner), WithModulePath([]string{"/modules"}))

			if err := client.Install(context.Background(), tt.req); err == nil {
				t.Fatal("Expected error")
			}
			if len(runner.calls) != 0 {
				t.Errorf("Expected no command, got %v", runner.calls)
			}
		})
	}
}

func TestClient_InstallCommandFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["puppet module install"] = &CommandError{Command: "puppet module install", ExitCode: 1, Stderr: "Error: Could not install module\n"}

	client := NewClient(WithRunner(runner), WithModulePath([]string{"/modules"}))
	err := client.Install(context.Background(), engine.InstallRequest{Name: "apache", Owner: "puppetlabs", Version: "5.6.0"})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "Could not install module") {
		t.Errorf("Expected stderr in error, got %q", err.Error())
	}
}

func TestCommandError_Message(t *testing.T) {
	err := &CommandError{Command: "puppet --version", ExitCode: 2}
	if err.Error() != "puppet --version exited with status 2" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestClient_ImplementsEngineInterfaces(t *testing.T) {
	var _ engine.PackageInstaller = (*Client)(nil)
	var _ engine.ModulePathResolver = (*Client)(nil)
}
