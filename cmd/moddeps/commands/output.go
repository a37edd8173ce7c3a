package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/moddeps/pkg/engine"
	"github.com/openfroyo/moddeps/pkg/inventory"
	"github.com/openfroyo/moddeps/pkg/stores"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type planEntry struct {
	engine.ModuleRecord
	Operation engine.Operation `json:"operation"`
	Installed string           `json:"installed,omitempty"`
}

func (a *app) printPlan(w io.Writer, plan *engine.ResolutionPlan, installed engine.InstalledState) error {
	entries := make([]planEntry, 0, plan.Len())
	for _, rec := range plan.Entries {
		current, _ := installed.Version(rec.Name)
		entries = append(entries, planEntry{
			ModuleRecord: rec,
			Operation:    engine.PlanOperation(rec, installed),
			Installed:    current,
		})
	}

	if a.opts.jsonOutput {
		return writeJSON(w, struct {
			ID        string      `json:"id"`
			Requested []string    `json:"requested"`
			Entries   []planEntry `json:"entries"`
		}{plan.ID, plan.Requested, entries})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMODULE\tVERSION\tSOURCE\tINSTALLED\tOPERATION")
	for i, e := range entries {
		version := e.Version
		if version == "" {
			version = e.Constraint
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, e.Slug(), orDash(version), e.Source, orDash(e.Installed), e.Operation)
	}
	return tw.Flush()
}

func (a *app) printReport(w io.Writer, report *engine.InstallReport) error {
	if a.opts.jsonOutput {
		type outcome struct {
			engine.Outcome
			Error string `json:"error,omitempty"`
		}
		out := make([]outcome, 0, len(report.Outcomes))
		for _, o := range report.Outcomes {
			item := outcome{Outcome: o}
			if o.Err != nil {
				item.Error = o.Err.Error()
			}
			out = append(out, item)
		}
		return writeJSON(w, struct {
			RunID    string           `json:"run_id"`
			PlanID   string           `json:"plan_id"`
			Status   engine.RunStatus `json:"status"`
			Outcomes []outcome        `json:"outcomes"`
		}{report.RunID, report.PlanID, report.Status(), out})
	}

	for _, o := range report.Outcomes {
		switch o.Status {
		case engine.OutcomeSkipped:
			fmt.Fprintf(w, "Skipped %s (already installed)\n", o.Name)
		case engine.OutcomeSucceeded:
			fmt.Fprintf(w, "%s %s %s\n", pastTense(o.Operation), o.Name, orDash(o.Version))
		case engine.OutcomeFailed:
			fmt.Fprintf(w, "Failed to %s %s: %v\n", o.Operation, o.Name, o.Err)
		}
	}
	_, err := fmt.Fprintf(w, "\n%d installed, %d skipped, %d failed (run %s)\n",
		len(report.Installed()), len(report.Skipped()), len(report.Failures()), report.RunID)
	return err
}

func pastTense(op engine.Operation) string {
	if op == engine.OperationUpgrade {
		return "Upgraded"
	}
	return "Installed"
}

func (a *app) printInventory(w io.Writer, inv *inventory.Inventory) error {
	if a.opts.jsonOutput {
		type entry struct {
			engine.InventoryEntry
			MetadataErr string `json:"metadata_error,omitempty"`
		}
		out := make([]entry, 0, inv.Len())
		for _, e := range inv.Entries() {
			item := entry{InventoryEntry: e}
			if e.MetadataErr != nil {
				item.MetadataErr = e.MetadataErr.Error()
			}
			out = append(out, item)
		}
		return writeJSON(w, struct {
			Paths   []string `json:"paths"`
			Modules []entry  `json:"modules"`
		}{inv.Paths(), out})
	}

	fmt.Fprintf(w, "Module path: %s\n\n", strings.Join(inv.Paths(), ", "))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tVERSION\tDEPENDENCIES\tPATH")
	for _, e := range inv.Entries() {
		deps := make([]string, 0, len(e.Dependencies))
		for _, d := range e.Dependencies {
			deps = append(deps, d.String())
		}
		name := e.Name
		if e.MetadataErr != nil {
			name += " (!)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, orDash(e.Version), orDash(strings.Join(deps, ", ")), e.Path)
	}
	return tw.Flush()
}

func (a *app) printRuns(w io.Writer, runs []*stores.Run) error {
	if a.opts.jsonOutput {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No install runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tMODULES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.RFC3339), r.Status, strings.Join(r.Requested, " "))
	}
	return tw.Flush()
}

func (a *app) printRun(w io.Writer, r *stores.Run, outcomes []*stores.Outcome) error {
	if a.opts.jsonOutput {
		return writeJSON(w, struct {
			*stores.Run
			Outcomes []*stores.Outcome `json:"outcomes"`
		}{r, outcomes})
	}

	fmt.Fprintf(w, "Run %s: %s\n", r.ID, r.Status)
	fmt.Fprintf(w, "Requested: %s\n", strings.Join(r.Requested, " "))
	if r.PuppetVersion != "" {
		fmt.Fprintf(w, "Puppet: %s\n", r.PuppetVersion)
	}
	if r.Error != nil {
		fmt.Fprintf(w, "Error: %s\n", *r.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMODULE\tVERSION\tOPERATION\tSTATUS\tDURATION")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			o.Position+1, o.Module, orDash(o.Version), o.Operation, o.Status,
			time.Duration(o.DurationMS)*time.Millisecond)
	}
	return tw.Flush()
}
