package commands

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/moddeps/pkg/engine"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	if cmd == "puppet --version" {
		return "7.24.0\n", nil
	}
	return "", nil
}

func (f *fakeRunner) installs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "puppet module ") {
			out = append(out, c)
		}
	}
	return out
}

const concatReleases = `{
  "pagination": {"next": null},
  "results": [
    {"version": "7.0.0", "metadata": {"dependencies": []}},
    {"version": "6.4.0", "metadata": {"dependencies": []}}
  ]
}`

type fixture struct {
	root    string
	modules string
	config  string
	forge   string
	runner  *fakeRunner
	logs    bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	forge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v3/modules":
			fmt.Fprint(w, `{"results": []}`)
		case r.URL.Path == "/v3/releases" && r.URL.Query().Get("module") == "puppetlabs-concat":
			fmt.Fprint(w, concatReleases)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(forge.Close)

	root := t.TempDir()
	modules := filepath.Join(root, "modules")
	writeMetadata(t, modules, "apache", `{
  "name": "puppetlabs-apache",
  "version": "5.6.0",
  "dependencies": [
    {"name": "puppetlabs/stdlib", "version_requirement": ">= 4.13.1 < 7.0.0"},
    {"name": "puppetlabs-concat", "version_requirement": ">= 2.2.1 < 7.0.0"}
  ]
}`)
	writeMetadata(t, modules, "stdlib", `{"name": "puppetlabs-stdlib", "version": "6.6.0"}`)

	config := filepath.Join(root, "config.yaml")
	content := fmt.Sprintf(`forge:
  url: %s
  max_retries: 0
history:
  path: %s
metrics:
  enabled: false
logging:
  format: json
`, forge.URL, filepath.Join(root, "state", "history.db"))
	if err := os.WriteFile(config, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return &fixture{root: root, modules: modules, config: config, forge: forge.URL, runner: &fakeRunner{}}
}

func writeMetadata(t *testing.T, root, name, metadata string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create module dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(metadata), 0o644); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
}

func (f *fixture) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&rootOptions{
		build:     BuildInfo{Version: "test", Commit: "abc123", BuildDate: "today"},
		runner:    f.runner,
		logOutput: &f.logs,
	})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInstall_InstallsMissingDependency(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "install", "apache", "--modulepath", f.modules)
	if err != nil {
		t.Fatalf("install failed: %v\n%s", err, out)
	}

	installs := f.runner.installs()
	if len(installs) != 1 {
		t.Fatalf("Expected exactly one install, got %v", installs)
	}
	if !strings.HasPrefix(installs[0], "puppet module install puppetlabs-concat --target-dir "+f.modules+" --version 6.4.0") {
		t.Errorf("Unexpected install command: %s", installs[0])
	}
	for _, want := range []string{"Installed concat 6.4.0", "Skipped apache", "Skipped stdlib", "1 installed, 2 skipped, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
	if logs := f.logs.String(); !strings.Contains(logs, `"run_id":`) || !strings.Contains(logs, "Install run finished") {
		t.Errorf("Expected run-tagged log line, got:\n%s", logs)
	}

	out, err = f.execute(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, "apache") {
		t.Errorf("Expected recorded run in history:\n%s", out)
	}
}

func TestInstall_DryRun(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "install", "apache", "--modulepath", f.modules, "--dry-run")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if len(f.runner.installs()) != 0 {
		t.Errorf("Dry run must not install, got %v", f.runner.installs())
	}
	if !strings.Contains(out, "puppetlabs-concat") || !strings.Contains(out, "install") {
		t.Errorf("Expected plan in output:\n%s", out)
	}
}

func TestInstall_Usage(t *testing.T) {
	f := newFixture(t)

	_, err := f.execute(t, "install")
	if err == nil {
		t.Fatal("Expected usage error")
	}
	if !strings.Contains(err.Error(), "usage: moddeps install NAME...") {
		t.Errorf("Unexpected message: %v", err)
	}
	if code := engine.ExitCode(err); code != 2 {
		t.Errorf("Expected exit code 2, got %d", code)
	}
}

func TestInstall_InvalidName(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"install", "plan"} {
		_, err := f.execute(t, cmd, "apache", "Not A Module")
		if code := engine.ExitCode(err); code != 2 {
			t.Errorf("%s: expected exit code 2, got %d (%v)", cmd, code, err)
		}
	}
	if len(f.runner.calls) != 0 {
		t.Errorf("Invalid names must be rejected before running puppet, got %v", f.runner.calls)
	}
}

func TestInstall_PuppetfileSettings(t *testing.T) {
	f := newFixture(t)

	f.config = filepath.Join(f.root, "defaults.yaml")
	if err := os.WriteFile(f.config, []byte("history:\n  enabled: false\nmetrics:\n  enabled: false\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	puppetfile := filepath.Join(f.root, "Puppetfile")
	content := fmt.Sprintf("forge '%s'\nmoduledir 'modules'\n\nmod 'puppetlabs/apache', :local => true\n", f.forge)
	if err := os.WriteFile(puppetfile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write Puppetfile: %v", err)
	}

	out, err := f.execute(t, "install", "apache", "--puppetfile", puppetfile)
	if err != nil {
		t.Fatalf("install failed: %v\n%s", err, out)
	}

	for _, c := range f.runner.calls {
		if strings.HasPrefix(c, "puppet config print") {
			t.Errorf("moduledir should replace modulepath discovery, got %s", c)
		}
	}
	installs := f.runner.installs()
	if len(installs) != 1 {
		t.Fatalf("Expected exactly one install, got %v", installs)
	}
	want := "puppet module install puppetlabs-concat --target-dir " + f.modules + " --version 6.4.0 --ignore-dependencies --module_repository " + f.forge
	if installs[0] != want {
		t.Errorf("Unexpected install command:\n got %s\nwant %s", installs[0], want)
	}
}

func TestPlan_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.execute(t, "plan", "fake_missing_module", "--modulepath", f.modules)
	if err == nil {
		t.Fatal("Expected not found error")
	}
	if !strings.Contains(err.Error(), "can't find fake_missing_module in "+f.modules) {
		t.Errorf("Unexpected message: %v", err)
	}
	if code := engine.ExitCode(err); code != 3 {
		t.Errorf("Expected exit code 3, got %d", code)
	}
	if len(f.runner.installs()) != 0 {
		t.Error("Nothing must be installed when resolution fails")
	}
}

func TestPlan_Dot(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "plan", "apache", "--modulepath", f.modules, "--dot")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph") || !strings.Contains(out, "concat") {
		t.Errorf("Expected DOT graph, got:\n%s", out)
	}
}

func TestInventory(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "inventory", "--modulepath", f.modules, "--json")
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}
	for _, want := range []string{`"name": "apache"`, `"version": "6.6.0"`, `"paths"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in output:\n%s", want, out)
		}
	}
}

func TestHistory_Empty(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "No install runs recorded") {
		t.Errorf("Unexpected output:\n%s", out)
	}

	_, err = f.execute(t, "history", "no-such-run")
	if code := engine.ExitCode(err); code != 2 {
		t.Errorf("Expected exit code 2 for unknown run, got %d (%v)", code, err)
	}
}

func TestVersion(t *testing.T) {
	f := newFixture(t)

	out, err := f.execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "moddeps test") || !strings.Contains(out, "puppet:  7.24.0") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}
