// Package inventory reads the modules installed on the local module path.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/moddeps/pkg/constraint"
	"github.com/openfroyo/moddeps/pkg/engine"
)

// MetadataFile is the per-module metadata document.
const MetadataFile = "metadata.json"

var tracer = otel.Tracer("github.com/openfroyo/moddeps/pkg/inventory")

// Inventory maps module names to the modules found on disk.
// It implements engine.Inventory.
type Inventory struct {
	paths    []string
	entries  map[string]engine.InventoryEntry
	warnings []error
}

// Lookup returns the installed module named name.
func (inv *Inventory) Lookup(name string) (engine.InventoryEntry, bool) {
	e, ok := inv.entries[name]
	return e, ok
}

// Paths returns the scanned directories in priority order.
func (inv *Inventory) Paths() []string {
	return inv.paths
}

// Len returns the number of installed modules.
func (inv *Inventory) Len() int {
	return len(inv.entries)
}

// Names returns installed module names, sorted.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.entries))
	for name := range inv.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns installed modules sorted by name.
func (inv *Inventory) Entries() []engine.InventoryEntry {
	out := make([]engine.InventoryEntry, 0, len(inv.entries))
	for _, name := range inv.Names() {
		out = append(out, inv.entries[name])
	}
	return out
}

// Installed returns the name to version mapping consumed by the installer.
func (inv *Inventory) Installed() engine.InstalledState {
	state := make(engine.InstalledState, len(inv.entries))
	for name, e := range inv.entries {
		state.Record(name, e.Version)
	}
	return state
}

// Warnings returns the metadata problems found during the scan.
func (inv *Inventory) Warnings() []error {
	return inv.warnings
}

// Scanner builds an Inventory from module directories.
type Scanner struct {
	schema *Schema
	logger zerolog.Logger
}

// NewScanner creates a scanner that logs degraded modules to logger.
func NewScanner(logger zerolog.Logger) (*Scanner, error) {
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	return &Scanner{schema: schema, logger: logger}, nil
}

// Scan walks paths in order. A module found in an earlier path shadows one of
// the same name in a later path. Missing paths are skipped. Modules with
// malformed metadata are kept with zero dependencies and reported through
// Inventory.Warnings.
func (s *Scanner) Scan(ctx context.Context, paths []string) (*Inventory, error) {
	_, span := tracer.Start(ctx, "inventory.scan",
		trace.WithAttributes(attribute.StringSlice("moddeps.modulepath", paths)))
	defer span.End()

	inv := &Inventory{
		paths:   append([]string(nil), paths...),
		entries: make(map[string]engine.InventoryEntry),
	}

	for _, dir := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.scanPath(inv, dir)
	}

	span.SetAttributes(attribute.Int("moddeps.modules", len(inv.entries)))
	s.logger.Debug().
		Strs("modulepath", paths).
		Int("modules", len(inv.entries)).
		Int("warnings", len(inv.warnings)).
		Msg("Module path scanned")

	return inv, nil
}

func (s *Scanner) scanPath(inv *Inventory, dir string) {
	log := s.logger.With().Str("path", dir).Logger()

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Msg("Module path does not exist, skipping")
		return
	case err != nil:
		log.Warn().Err(err).Msg("Cannot read module path, skipping")
		return
	case !info.IsDir():
		log.Warn().Msg("Module path is not a directory, skipping")
		return
	}

	children, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot list module path, skipping")
		return
	}

	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		moduleDir := filepath.Join(dir, name)
		if fi, err := os.Stat(moduleDir); err != nil || !fi.IsDir() {
			continue
		}

		if !engine.ValidModuleName(name) {
			log.Warn().Str("module", name).Msg("Skipping directory with invalid module name")
			continue
		}

		if existing, ok := inv.entries[name]; ok {
			log.Debug().
				Str("module", name).
				Str("shadowed_by", existing.Path).
				Msg("Module shadowed by earlier path")
			continue
		}

		entry := s.readModule(name, moduleDir)
		if entry.MetadataErr != nil {
			log.Warn().
				Err(entry.MetadataErr).
				Str("module", name).
				Msg("Malformed module metadata, assuming no dependencies")
			inv.warnings = append(inv.warnings, entry.MetadataErr)
		}
		inv.entries[name] = entry
	}
}

func (s *Scanner) readModule(name, dir string) engine.InventoryEntry {
	entry := engine.InventoryEntry{Name: name, Path: dir}
	path := filepath.Join(dir, MetadataFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug().Str("module", name).Msg("Module has no metadata")
		return entry
	}
	if err != nil {
		entry.MetadataErr = &engine.MetadataParseError{Module: name, Path: path, Err: err}
		return entry
	}

	meta, err := s.schema.Decode(data)
	if err != nil {
		entry.Version = salvageVersion(data)
		entry.MetadataErr = &engine.MetadataParseError{Module: name, Path: path, Err: err}
		return entry
	}

	entry.Version = meta.Version
	if ref, err := engine.ParseModuleRef(meta.Name); err == nil {
		entry.Owner = ref.Owner
	}

	deps, err := requirements(meta.Dependencies)
	if err != nil {
		entry.MetadataErr = &engine.MetadataParseError{Module: name, Path: path, Err: err}
		return entry
	}
	entry.Dependencies = deps
	return entry
}

// requirements converts metadata dependencies. Any invalid entry invalidates
// the whole list.
func requirements(deps []MetadataDependency) ([]engine.Requirement, error) {
	out := make([]engine.Requirement, 0, len(deps))
	for _, d := range deps {
		ref, err := engine.ParseModuleRef(d.Name)
		if err != nil {
			return nil, fmt.Errorf("dependency %q: %w", d.Name, err)
		}
		if _, err := constraint.Parse(d.VersionRequirement); err != nil {
			return nil, fmt.Errorf("dependency %q: %w", d.Name, err)
		}
		out = append(out, engine.Requirement{
			Name:       ref.Name,
			Owner:      ref.Owner,
			Constraint: d.VersionRequirement,
		})
	}
	return out, nil
}
