package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/moddeps/pkg/engine"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "no service name", modify: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name:    "bad exporter",
			modify:  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" },
			wantErr: true,
		},
		{
			name:    "otlp without endpoint",
			modify:  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" },
			wantErr: true,
		},
		{name: "bad sampling", modify: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	log := logger.WithRunID("run-1").WithPlanID("plan-1").Zerolog()
	log.Debug().Str("module", "apache").Msg("Module installed")

	out := buf.String()
	for _, want := range []string{`"run_id":"run-1"`, `"plan_id":"plan-1"`, `"module":"apache"`, `"level":"debug"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	zlog := logger.Zerolog()
	zlog.Info().Msg("hidden")
	componentLog := logger.NewComponentLogger("resolver")
	componentLog.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"component":"resolver"`) {
		t.Errorf("Expected component field, got %s", out)
	}
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moddeps.log")

	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	zlog := logger.Zerolog()
	zlog.Info().Msg("written")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if !strings.Contains(string(data), "written") {
		t.Errorf("Expected message in log file, got %s", data)
	}
}

func TestMetrics_Recorder(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	ctx := context.Background()
	plan := &engine.ResolutionPlan{Entries: []engine.ModuleRecord{{Name: "stdlib"}, {Name: "apache"}, {Name: "nginx"}}}
	report := &engine.InstallReport{}

	_ = m.RunStarted(ctx, report, plan)
	outcomes := []engine.Outcome{
		{Name: "stdlib", Operation: engine.OperationSkip, Status: engine.OutcomeSkipped},
		{Name: "apache", Operation: engine.OperationInstall, Status: engine.OutcomeSucceeded, Duration: time.Second},
		{Name: "nginx", Operation: engine.OperationInstall, Status: engine.OutcomeFailed, Duration: time.Second},
	}
	for _, o := range outcomes {
		report.Outcomes = append(report.Outcomes, o)
		_ = m.OutcomeRecorded(ctx, report, o)
	}
	_ = m.RunFinished(ctx, report)

	if got := testutil.ToFloat64(m.planSize); got != 3 {
		t.Errorf("plan_size = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.installsTotal.WithLabelValues("install", "succeeded")); got != 1 {
		t.Errorf("installs_total{install,succeeded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.installsTotal.WithLabelValues("skip", "skipped")); got != 1 {
		t.Errorf("installs_total{skip,skipped} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("partial")); got != 1 {
		t.Errorf("runs_total{partial} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.installDuration); got != 1 {
		t.Errorf("Expected one install duration series, got %d", got)
	}
}

func TestMetrics_RecordResolution(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	m.RecordResolution(&engine.ResolutionPlan{Entries: []engine.ModuleRecord{{Name: "apache"}}}, nil)
	m.RecordResolution(nil, &engine.VersionConflictError{Name: "stdlib"})
	m.RecordResolution(nil, errors.New("boom"))

	if got := testutil.ToFloat64(m.resolutionsTotal.WithLabelValues(ResolutionOK)); got != 1 {
		t.Errorf("resolutions_total{ok} = %v", got)
	}
	if got := testutil.ToFloat64(m.resolutionsTotal.WithLabelValues(string(engine.KindConflict))); got != 1 {
		t.Errorf("resolutions_total{conflict} = %v", got)
	}
	if got := testutil.ToFloat64(m.resolutionsTotal.WithLabelValues(string(engine.KindInternal))); got != 1 {
		t.Errorf("resolutions_total{internal} = %v", got)
	}
	if got := testutil.ToFloat64(m.planSize); got != 1 {
		t.Errorf("plan_size = %v, want 1", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Textfile = filepath.Join(t.TempDir(), "moddeps.prom")

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	m.RecordResolution(&engine.ResolutionPlan{}, nil)

	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}

	data, err := os.ReadFile(cfg.Textfile)
	if err != nil {
		t.Fatalf("Failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `moddeps_resolutions_total{result="ok"} 1`) {
		t.Errorf("Unexpected textfile contents:\n%s", data)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, Textfile: filepath.Join(t.TempDir(), "x.prom")})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	ctx := context.Background()
	m.RecordResolution(nil, nil)
	_ = m.RunStarted(ctx, &engine.InstallReport{}, &engine.ResolutionPlan{})
	_ = m.OutcomeRecorded(ctx, &engine.InstallReport{}, engine.Outcome{})
	_ = m.RunFinished(ctx, &engine.InstallReport{})

	if m.Registry() != nil {
		t.Error("Disabled metrics must not have a registry")
	}
	if err := m.WriteTextfile(); err != nil {
		t.Errorf("WriteTextfile() on disabled metrics: %v", err)
	}
}

func TestTracer_Stdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	tracer, err := NewTracer(cfg, "moddeps", "test", &buf)
	if err != nil {
		t.Fatalf("NewTracer() error: %v", err)
	}

	ctx, span := tracer.Start(context.Background(), "resolver.resolve")
	if TraceID(ctx) == "" {
		t.Error("Expected a trace ID for a sampled span")
	}
	span.End()
	if TraceID(context.Background()) != "" {
		t.Error("Expected no trace ID without a span")
	}

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !strings.Contains(buf.String(), "resolver.resolve") {
		t.Errorf("Expected exported span, got %s", buf.String())
	}
}

func TestTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "moddeps", "test", nil)
	if err != nil {
		t.Fatalf("NewTracer() error: %v", err)
	}
	_, span := tracer.Start(context.Background(), "noop")
	defer span.End()

	if span.IsRecording() {
		t.Error("Disabled tracing must not record spans")
	}
}

func TestTelemetry_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "moddeps.prom")

	tel, err := NewTelemetry(cfg, &buf)
	if err != nil {
		t.Fatalf("NewTelemetry() error: %v", err)
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if _, err := os.Stat(cfg.Metrics.Textfile); err != nil {
		t.Errorf("Expected metrics textfile after shutdown: %v", err)
	}
}

func TestNewTelemetry_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	if _, err := NewTelemetry(cfg, &bytes.Buffer{}); err == nil {
		t.Error("Expected config error")
	}
}
