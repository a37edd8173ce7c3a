// Package engine resolves and installs Puppet module dependencies.
//
// # Overview
//
// An install request runs as a synchronous pipeline:
//
//  1. Scan - the local module path is read into an Inventory
//  2. Parse - an optional manifest (Puppetfile) declares desired modules
//  3. Resolve - the Resolver walks the dependency graph and builds a ResolutionPlan
//  4. Apply - the Installer installs or upgrades each plan entry
//
// # Resolution
//
// Requested modules are looked up in the manifest first, then in the local
// inventory, then in the registry. Dependencies are walked breadth-first; a
// module already visited is never expanded twice, which also stops cycles.
// Requirements on the same module are merged by intersecting their version
// ranges. An empty intersection is a VersionConflictError. All conflicts,
// missing modules and malformed requirements found in one pass are reported
// together in a ResolutionError, and no plan is returned.
//
// The plan is sorted with Kahn's algorithm so that dependencies are installed
// first. Cycles whose requirements are all satisfied are broken in discovery
// order; other cycles fail with a CycleError.
//
// # Installation
//
// The Installer processes plan entries one at a time. An entry already
// installed at the planned version (or, for unpinned entries, at a version
// satisfying its requirement) is skipped. Failures are collected and do not
// stop the run:
//
//	report, err := installer.Apply(ctx, plan, inv.Installed())
//	var failed *engine.InstallFailureError
//	if errors.As(err, &failed) {
//	    // report still lists every outcome
//	}
//
// # Collaborators
//
// Everything touching the host is injected: Inventory, ManifestSource,
// Registry, PackageInstaller and ModulePathResolver. Implementations live in
// pkg/inventory, pkg/manifest, pkg/providers/forge and pkg/providers/puppet.
package engine
