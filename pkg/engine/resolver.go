package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/moddeps/pkg/constraint"
)

const (
	requestedBy = "request"
	manifestBy  = "manifest"
)

// Resolver computes the transitive set of modules needed to satisfy a request.
// Modules are located in the manifest first, then in the local inventory, then
// in the registry. The walk is breadth-first; the resulting plan is sorted so
// that dependencies precede their dependents.
type Resolver struct {
	inventory    Inventory
	manifest     ManifestSource
	registry     Registry
	logger       zerolog.Logger
	strictCycles bool
}

// NewResolver creates a resolver. manifest and registry may be nil.
func NewResolver(inventory Inventory, manifest ManifestSource, registry Registry, opts ...Option) *Resolver {
	o := buildOptions(opts)
	return &Resolver{
		inventory:    inventory,
		manifest:     manifest,
		registry:     registry,
		logger:       o.logger,
		strictCycles: o.strictCycles,
	}
}

// node is one module in the graph being built.
type node struct {
	record     ModuleRecord
	constraint constraint.Constraint
	from       []string

	// offline nodes come from manifest entries marked local and are never
	// looked up in the registry.
	offline bool
}

type pending struct {
	from string
	req  Requirement
}

// resolution holds the state of a single Resolve call.
type resolution struct {
	nodes map[string]*node
	order []string
	queue []pending
	edges []PlanEdge
	errs  *multierror.Error
}

func (res *resolution) fail(err error) {
	res.errs = multierror.Append(res.errs, err)
}

func (res *resolution) failures() int {
	if res.errs == nil {
		return 0
	}
	return len(res.errs.Errors)
}

// Resolve builds a plan for the named modules. Names may be bare or
// owner-qualified. Any problem aborts the whole resolution: either a complete
// plan is returned or a single error describing every problem found.
func (r *Resolver) Resolve(ctx context.Context, names []string) (*ResolutionPlan, error) {
	ctx, span := tracer.Start(ctx, "resolver.resolve",
		trace.WithAttributes(attribute.StringSlice("moddeps.requested", names)))
	defer span.End()

	plan, err := r.resolve(ctx, names)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("moddeps.plan_size", plan.Len()))
	return plan, nil
}

func (r *Resolver) resolve(ctx context.Context, names []string) (*ResolutionPlan, error) {
	if len(names) == 0 {
		return nil, &InputError{Message: "no module names given"}
	}

	refs := make([]ModuleRef, 0, len(names))
	for _, name := range names {
		ref, err := ParseModuleRef(name)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	res := &resolution{nodes: make(map[string]*node)}

	for _, ref := range refs {
		if _, seen := res.nodes[ref.Name]; seen {
			continue
		}
		before := res.failures()
		found, err := r.add(ctx, res, ref, constraint.Any(), requestedBy)
		if err != nil {
			return nil, err
		}
		if !found {
			// A registry failure means the module may exist; report that
			// instead of claiming it is missing.
			if res.failures() > before {
				return nil, newResolutionError(res.errs)
			}
			return nil, &ModuleNotFoundError{Module: MissingModule(ref.Name), Paths: r.paths()}
		}
	}

	for len(res.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := res.queue[0]
		res.queue = res.queue[1:]
		if err := r.require(ctx, res, p); err != nil {
			return nil, err
		}
	}

	if res.errs.ErrorOrNil() != nil {
		return nil, newResolutionError(res.errs)
	}

	return r.buildPlan(res, names)
}

// require processes one dependency edge popped from the work queue.
func (r *Resolver) require(ctx context.Context, res *resolution, p pending) error {
	log := r.logger.With().Str("module", p.req.Name).Str("required_by", p.from).Logger()
	log.Debug().Str("constraint", p.req.Constraint).Msg("Resolving dependency")

	if !ValidModuleName(p.req.Name) {
		res.fail(&InputError{Message: fmt.Sprintf("%s declares a dependency with invalid name %q", p.from, p.req.Name)})
		return nil
	}

	c, err := constraint.Parse(p.req.Constraint)
	if err != nil {
		res.fail(&MalformedConstraintError{
			Module:     p.req.Name,
			RequiredBy: p.from,
			Constraint: p.req.Constraint,
			Err:        err,
		})
		return nil
	}

	res.edges = append(res.edges, PlanEdge{From: p.req.Name, To: p.from, Constraint: p.req.Constraint})

	if n, ok := res.nodes[p.req.Name]; ok {
		return r.merge(ctx, res, n, c, p.from)
	}

	before := res.failures()
	found, err := r.add(ctx, res, ModuleRef{Owner: p.req.Owner, Name: p.req.Name}, c, p.from)
	if err != nil {
		return err
	}
	if !found && res.failures() == before {
		res.fail(&ModuleNotFoundError{
			Module:     MissingModule(p.req.Name),
			RequiredBy: p.from,
			Paths:      r.paths(),
		})
	}
	return nil
}

// add locates a module seen for the first time and enqueues its dependencies.
// Only context errors are returned; everything else is collected in res.
func (r *Resolver) add(ctx context.Context, res *resolution, ref ModuleRef, c constraint.Constraint, from string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n := &node{constraint: c, from: []string{from}}

	if m, ok := r.lookupManifest(ref.Name); ok {
		rec, merged, err := r.fromManifest(ctx, res, m, c, from)
		if err != nil {
			return false, err
		}
		n.record = rec
		n.constraint = merged
		n.offline = m.Source == SourceLocal
		if !merged.IsAny() && !c.IsAny() {
			n.from = []string{manifestBy, from}
		} else if !merged.IsAny() {
			n.from = []string{manifestBy}
		}
	} else if e, ok := r.lookupInventory(ref.Name); ok {
		rec, err := r.fromInventory(ctx, res, ref, e, c)
		if err != nil {
			return false, err
		}
		n.record = rec
	} else {
		rec, err := r.fetch(ctx, res, ref, c)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return false, nil
		}
		n.record = *rec
	}

	r.logger.Debug().
		Str("module", n.record.Name).
		Str("version", n.record.Version).
		Str("source", string(n.record.Source)).
		Str("required_by", from).
		Msg("Module located")

	n.record.Name = ref.Name
	res.nodes[ref.Name] = n
	res.order = append(res.order, ref.Name)
	r.enqueue(res, n.record)
	return true, nil
}

func (r *Resolver) enqueue(res *resolution, rec ModuleRecord) {
	if rec.Source.IsOpaque() {
		return
	}
	for _, dep := range rec.Dependencies {
		res.queue = append(res.queue, pending{from: rec.Name, req: dep})
	}
}

// fromManifest resolves a manifest-declared module. The manifest pin is
// intersected with the incoming requirement; an empty intersection is a
// conflict, reported while the manifest's choice is kept.
func (r *Resolver) fromManifest(
	ctx context.Context,
	res *resolution,
	m ModuleRecord,
	c constraint.Constraint,
	from string,
) (ModuleRecord, constraint.Constraint, error) {
	if m.Source.IsOpaque() {
		return m.WithDependencies(nil), constraint.Any(), nil
	}

	pin := constraint.Any()
	switch {
	case m.Version != "":
		exact, err := constraint.Exact(m.Version)
		if err != nil {
			res.fail(&MalformedConstraintError{Module: m.Name, RequiredBy: manifestBy, Constraint: m.Version, Err: err})
			return m, constraint.Any(), nil
		}
		pin = exact
	case m.Constraint != "":
		parsed, err := constraint.Parse(m.Constraint)
		if err != nil {
			res.fail(&MalformedConstraintError{Module: m.Name, RequiredBy: manifestBy, Constraint: m.Constraint, Err: err})
			return m, constraint.Any(), nil
		}
		pin = parsed
	}

	merged := pin.Intersect(c)
	if merged.IsEmpty() {
		res.fail(&VersionConflictError{
			Name:         m.Name,
			Existing:     pin.String(),
			ExistingFrom: manifestBy,
			Incoming:     c.String(),
			IncomingFrom: from,
		})
		merged = pin
	}

	installed, isInstalled := r.lookupInventory(m.Name)

	if m.Source == SourceLocal {
		if !isInstalled {
			return m, merged, nil
		}
		rec := m.WithDependencies(installed.Dependencies)
		if rec.Version == "" {
			rec.Version = installed.Version
		}
		if rec.Owner == "" {
			rec.Owner = installed.Owner
		}
		return rec, merged, nil
	}

	if isInstalled && installed.Version != "" && merged.Allows(installed.Version) &&
		(m.Version == "" || m.Version == installed.Version) {
		rec := m.WithDependencies(installed.Dependencies).WithVersion(installed.Version)
		if rec.Owner == "" {
			rec.Owner = installed.Owner
		}
		return rec, merged, nil
	}

	fetched, err := r.fetch(ctx, res, ModuleRef{Owner: m.Owner, Name: m.Name}, merged)
	if err != nil {
		return ModuleRecord{}, merged, err
	}
	if fetched == nil {
		r.logger.Warn().
			Str("module", m.Name).
			Msg("No registry metadata for manifest module, assuming no dependencies")
		return m, merged, nil
	}

	rec := *fetched
	if rec.Owner == "" {
		rec.Owner = m.Owner
	}
	return rec, merged, nil
}

// fromInventory resolves an installed module. When the installed version does
// not satisfy c, the registry is asked for a version that does.
func (r *Resolver) fromInventory(
	ctx context.Context,
	res *resolution,
	ref ModuleRef,
	e InventoryEntry,
	c constraint.Constraint,
) (ModuleRecord, error) {
	rec := e.Record()
	if satisfies(c, e.Version) {
		return rec, nil
	}

	if ref.Owner == "" {
		ref.Owner = e.Owner
	}
	fetched, err := r.fetch(ctx, res, ref, c)
	if err != nil {
		return ModuleRecord{}, err
	}
	if fetched != nil {
		r.logger.Debug().
			Str("module", rec.Name).
			Str("installed", e.Version).
			Str("selected", fetched.Version).
			Msg("Installed version does not satisfy requirement, upgrading")
		return *fetched, nil
	}

	return rec.WithVersion("").WithConstraint(c.String()), nil
}

// merge folds a new requirement into an already visited node.
func (r *Resolver) merge(ctx context.Context, res *resolution, n *node, c constraint.Constraint, from string) error {
	if n.record.Source.IsOpaque() || c.IsAny() {
		return nil
	}

	merged := n.constraint.Intersect(c)
	if merged.IsEmpty() {
		res.fail(&VersionConflictError{
			Name:         n.record.Name,
			Existing:     n.constraint.String(),
			ExistingFrom: strings.Join(n.from, ", "),
			Incoming:     c.String(),
			IncomingFrom: from,
		})
		return nil
	}

	n.constraint = merged
	n.from = append(n.from, from)

	if satisfies(merged, n.record.Version) {
		return nil
	}

	if !n.offline {
		fetched, err := r.fetch(ctx, res, ModuleRef{Owner: n.record.Owner, Name: n.record.Name}, merged)
		if err != nil {
			return err
		}
		if fetched != nil {
			r.logger.Debug().
				Str("module", n.record.Name).
				Str("previous", n.record.Version).
				Str("selected", fetched.Version).
				Msg("Reselected version for merged requirement")
			n.record = *fetched
			r.enqueue(res, n.record)
			return nil
		}
	}

	n.record = n.record.WithVersion("").WithConstraint(merged.String())
	return nil
}

// fetch asks the registry for a module. A nil record means not found or
// failed; failures other than not-found are collected in res.
func (r *Resolver) fetch(ctx context.Context, res *resolution, ref ModuleRef, c constraint.Constraint) (*ModuleRecord, error) {
	if r.registry == nil {
		return nil, nil
	}

	rec, err := r.registry.FetchModule(ctx, ref, c)
	if err == nil && rec == nil {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		res.fail(fmt.Errorf("fetching %s from registry: %w", ref.Slug(), err))
		return nil, nil
	}

	out := rec.WithDependencies(rec.Dependencies)
	out.Name = ref.Name
	if out.Owner == "" {
		out.Owner = ref.Owner
	}
	if out.Source == "" {
		out.Source = SourceRegistry
	}
	return &out, nil
}

func (r *Resolver) lookupManifest(name string) (ModuleRecord, bool) {
	if r.manifest == nil {
		return ModuleRecord{}, false
	}
	return r.manifest.Lookup(name)
}

func (r *Resolver) lookupInventory(name string) (InventoryEntry, bool) {
	if r.inventory == nil {
		return InventoryEntry{}, false
	}
	return r.inventory.Lookup(name)
}

func (r *Resolver) paths() []string {
	if r.inventory == nil {
		return nil
	}
	return r.inventory.Paths()
}

// buildPlan orders the resolved nodes and assembles the plan.
func (r *Resolver) buildPlan(res *resolution, requested []string) (*ResolutionPlan, error) {
	builder := NewDAGBuilder()
	for _, name := range res.order {
		if err := builder.AddNode(res.nodes[name].record); err != nil {
			return nil, err
		}
	}

	edges := make([]PlanEdge, 0, len(res.edges))
	for _, e := range res.edges {
		if _, ok := res.nodes[e.From]; !ok {
			continue
		}
		if err := builder.AddEdge(e); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}

	sorted, err := builder.Sort(func(cycle []string) bool {
		return r.breakCycle(res, cycle)
	})
	if err != nil {
		return nil, newResolutionError(multierror.Append(nil, err))
	}

	plan := &ResolutionPlan{
		ID:        uuid.New().String(),
		Requested: append([]string(nil), requested...),
		Entries:   make([]ModuleRecord, 0, len(sorted)),
		Edges:     edges,
		CreatedAt: time.Now(),
	}
	for _, name := range sorted {
		n := res.nodes[name]
		rec := n.record
		if !rec.Source.IsOpaque() && !n.constraint.IsAny() {
			rec = rec.WithConstraint(n.constraint.String())
		}
		plan.Entries = append(plan.Entries, rec)
	}

	r.logger.Debug().
		Str("plan_id", plan.ID).
		Strs("modules", plan.Names()).
		Msg("Resolution plan built")

	return plan, nil
}

// breakCycle accepts a cycle when every requirement along it is satisfied by
// the selected versions.
func (r *Resolver) breakCycle(res *resolution, cycle []string) bool {
	log := r.logger.With().Str("cycle", formatCycle(cycle)).Logger()
	if r.strictCycles {
		log.Debug().Msg("Rejecting dependency cycle")
		return false
	}

	for i := 0; i+1 < len(cycle); i++ {
		dependent, dep := cycle[i], cycle[i+1]
		target := res.nodes[dep].record
		if target.Source.IsOpaque() {
			continue
		}
		for _, e := range res.edges {
			if e.From != dep || e.To != dependent {
				continue
			}
			c, err := constraint.Parse(e.Constraint)
			if err != nil || !satisfies(c, target.Version) {
				log.Debug().Str("module", dep).Msg("Dependency cycle has an unsatisfied requirement")
				return false
			}
		}
	}

	log.Debug().Msg("Breaking benign dependency cycle")
	return true
}

// satisfies treats an unknown version as satisfying any requirement; the
// constraint is then enforced by the package installer.
func satisfies(c constraint.Constraint, version string) bool {
	return version == "" || c.Allows(version)
}
