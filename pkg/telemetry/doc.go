// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and metrics (Prometheus) for moddeps.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	resolver := engine.NewResolver(inv, manifest, forge,
//	    engine.WithLogger(tel.Logger.NewComponentLogger("resolver")))
//	installer := engine.NewInstaller(puppet,
//	    engine.WithRecorder(tel.Metrics))
//
// # Logging
//
// Components receive a zerolog.Logger; the console format is meant for
// terminals and json for log shippers. Common fields are module, version,
// operation, plan_id and run_id.
//
// # Tracing
//
// Packages start spans with otel.Tracer. NewTracer installs the global
// provider; with tracing disabled spans are never sampled. Exporters:
//
//   - none: spans are sampled but dropped
//   - stdout: pretty-printed JSON
//   - otlp: gRPC to Tracing.Endpoint
//
// # Metrics
//
// Metrics are written once at shutdown to Metrics.Textfile in the node
// exporter textfile format:
//
//	moddeps_installs_total{operation,status}
//	moddeps_install_duration_seconds{operation}
//	moddeps_resolutions_total{result}
//	moddeps_plan_size
//	moddeps_runs_total{status}
package telemetry
