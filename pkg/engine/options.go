package engine

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/openfroyo/moddeps/pkg/engine")

// Option configures a Resolver or an Installer. Options that do not apply to
// the component being built are ignored.
type Option func(*options)

type options struct {
	logger         zerolog.Logger
	strictCycles   bool
	installTimeout time.Duration
	recorders      []Recorder
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStrictCycles makes the resolver reject every dependency cycle instead of
// breaking cycles whose requirements are all satisfied.
func WithStrictCycles(strict bool) Option {
	return func(o *options) {
		o.strictCycles = strict
	}
}

// WithInstallTimeout bounds each PackageInstaller call. Zero means no limit.
func WithInstallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.installTimeout = d
	}
}

// WithRecorder adds an observer notified of install progress.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorders = append(o.recorders, r)
		}
	}
}
