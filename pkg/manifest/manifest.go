// Package manifest parses declarative module lists: Puppetfiles and their
// YAML equivalent.
//
// Entries keep declaration order. When a module is declared twice the later
// declaration replaces the earlier one but keeps its position.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/moddeps/pkg/constraint"
	"github.com/openfroyo/moddeps/pkg/engine"
)

// ParseError reports a structurally invalid manifest.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	file := e.File
	if file == "" {
		file = "manifest"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", file, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", file, e.Msg)
}

// Kind classifies manifest errors as input errors.
func (e *ParseError) Kind() engine.ErrorKind { return engine.KindInput }

// Manifest is a parsed list of desired modules. It implements
// engine.ManifestSource.
type Manifest struct {
	// Forge is the registry URL declared with `forge`, if any.
	Forge string

	// ModuleDir is the install directory declared with `moduledir`, if any.
	ModuleDir string

	entries []engine.ModuleRecord
	index   map[string]int
	logger  zerolog.Logger
}

func newManifest(logger zerolog.Logger) *Manifest {
	return &Manifest{index: make(map[string]int), logger: logger}
}

// Entries returns the declared modules in declaration order.
func (m *Manifest) Entries() []engine.ModuleRecord {
	out := make([]engine.ModuleRecord, len(m.entries))
	copy(out, m.entries)
	return out
}

// Lookup returns the entry for name.
func (m *Manifest) Lookup(name string) (engine.ModuleRecord, bool) {
	if m == nil {
		return engine.ModuleRecord{}, false
	}
	i, ok := m.index[name]
	if !ok {
		return engine.ModuleRecord{}, false
	}
	return m.entries[i], true
}

// Len returns the number of distinct modules.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Names returns module names in declaration order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.entries))
	for i, e := range m.entries {
		names[i] = e.Name
	}
	return names
}

func (m *Manifest) add(rec engine.ModuleRecord, line int) {
	if i, ok := m.index[rec.Name]; ok {
		m.logger.Debug().
			Str("module", rec.Name).
			Int("line", line).
			Str("previous", m.entries[i].String()).
			Msg("Duplicate manifest entry overrides earlier declaration")
		m.entries[i] = rec
		return
	}
	m.index[rec.Name] = len(m.entries)
	m.entries = append(m.entries, rec)
}

// Option configures parsing.
type Option func(*parseOptions)

type parseOptions struct {
	logger zerolog.Logger
	file   string
}

// WithLogger sets the logger used to report overridden entries.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *parseOptions) {
		o.logger = logger
	}
}

// WithFilename names the source in error messages.
func WithFilename(name string) Option {
	return func(o *parseOptions) {
		o.file = name
	}
}

func buildOptions(opts []Option) parseOptions {
	o := parseOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load reads a manifest from disk. Files ending in .yaml or .yml are parsed as
// YAML, anything else as a Puppetfile.
func Load(path string, opts ...Option) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	opts = append([]Option{WithFilename(filepath.Base(path))}, opts...)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f, opts...)
	default:
		return Parse(f, opts...)
	}
}

// moduleSpec is the source-independent form of one declaration.
type moduleSpec struct {
	name    string
	owner   string
	version string
	source  string
	git     string
	ref     string
}

// record validates a declaration and converts it to a ModuleRecord.
func (s moduleSpec) record() (engine.ModuleRecord, error) {
	ref, err := engine.ParseModuleRef(s.name)
	if err != nil {
		return engine.ModuleRecord{}, err
	}
	if s.owner != "" {
		ref.Owner = s.owner
	}

	rec := engine.ModuleRecord{Owner: ref.Owner, Name: ref.Name, Source: engine.SourceRegistry}

	switch {
	case s.git != "":
		rec.Source = engine.SourceGit
		rec.Location = s.git
		rec.Ref = s.ref
		return rec, nil
	case s.source == "" || s.source == string(engine.SourceRegistry) || s.source == "forge":
	case s.source == string(engine.SourceLocal):
		rec.Source = engine.SourceLocal
	case s.source == string(engine.SourceGit):
		return engine.ModuleRecord{}, fmt.Errorf("git module %s has no repository URL", ref.Name)
	default:
		return engine.ModuleRecord{}, fmt.Errorf("unknown source %q for %s", s.source, ref.Name)
	}

	if s.ref != "" {
		return engine.ModuleRecord{}, fmt.Errorf("ref given for non-git module %s", ref.Name)
	}

	switch v := strings.TrimSpace(s.version); strings.ToLower(v) {
	case "", "latest", "present":
	default:
		if _, err := constraint.Exact(v); err == nil && isPlainVersion(v) {
			rec.Version = strings.TrimPrefix(v, "v")
			break
		}
		if _, err := constraint.Parse(v); err != nil {
			return engine.ModuleRecord{}, err
		}
		rec.Constraint = v
	}

	if err := rec.Validate(); err != nil {
		return engine.ModuleRecord{}, err
	}
	return rec, nil
}

// isPlainVersion reports whether v is a full major.minor.patch version rather
// than a partial one such as "1.2" that semver would pad.
func isPlainVersion(v string) bool {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	return strings.Count(v, ".") == 2
}
