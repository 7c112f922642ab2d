package promote

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/fault"
	"go.strata.dev/core/generation"
	"go.strata.dev/core/metrics"
	"go.strata.dev/core/objstore"
)

// Report describes the actions taken by a repair pass.
type Report struct {
	// Actions taken, in order, in human-readable form.
	Actions []string
	// Orphaned object prefixes whose ID matches no table. These require
	// operator attention and are never touched by repair.
	Orphaned []string
}

func (r *Report) act(format string, args ...interface{}) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

// Repair resumes a rotation interrupted by a crash, and verifies the
// at-most-one-active invariant. Table names are the authoritative record of
// each generation's role: repair first completes the object side forward to
// match the tables (prefix renames are resumable by re-listing), then
// finishes any rotation implied by a temporary_* table, and finally checks
// that exactly zero or one generation claims the active slot.
func (o *Orchestrator) Repair(ctx context.Context) (Report, error) {
	var report, err = o.repair(ctx)
	if err != nil {
		metrics.RepairsTotal.WithLabelValues(metrics.Fail).Inc()
		return report, err
	}
	metrics.RepairsTotal.WithLabelValues(metrics.Ok).Inc()
	return report, nil
}

func (o *Orchestrator) repair(ctx context.Context) (Report, error) {
	var report Report

	var set, err = o.classifyTables(ctx)
	if err != nil {
		return report, err
	}
	if err = o.resumeObjectRenames(ctx, set, &report); err != nil {
		return report, err
	}

	// Finish the rotation implied by a temporary table, if any.
	for _, temp := range set.Temporaries {
		if err = o.finishRotation(ctx, set, temp, &report); err != nil {
			return report, err
		}
	}

	// Verify the active-slot invariant over the repaired state.
	if set, err = o.classifyTables(ctx); err != nil {
		return report, err
	}
	if len(set.Actives) > 1 {
		return report, fault.Errorf(fault.Conflict,
			"%d generations claim the active slot", len(set.Actives))
	}
	if len(set.Actives) == 0 && len(set.Archives) != 0 {
		return report, fault.Errorf(fault.Conflict,
			"no generation claims the active slot, but %d archived generations exist",
			len(set.Archives))
	}
	return report, nil
}

// resumeObjectRenames completes interrupted prefix renames: any object prefix
// sharing a table's ID but carrying a different role is a rename the crash
// left unfinished, and is moved forward to the table's name.
func (o *Orchestrator) resumeObjectRenames(ctx context.Context, set generation.Set, report *Report) error {
	var prefixes, err = objstore.ListPrefixes(ctx, o.Objects, "")
	if err != nil {
		return errors.WithMessage(err, "listing object prefixes")
	}

	var tableByID = make(map[generation.ID]generation.Generation)
	for _, g := range set.All() {
		tableByID[g.ID] = g
	}

	for _, prefix := range prefixes {
		var stale, err = generation.Parse(prefix)
		if err != nil {
			continue // Not a generation prefix.
		}
		var table, ok = tableByID[stale.ID]
		if !ok {
			report.Orphaned = append(report.Orphaned, prefix)
			log.WithField("prefix", prefix).Warn("object prefix has no backing table")
			continue
		}
		if stale.Role == table.Role {
			continue // In sync.
		}

		moved, err := objstore.RenamePrefix(ctx, o.Objects, stale.Prefix(), table.Prefix(), o.Rename)
		if err != nil {
			return errors.WithMessagef(err, "resuming rename of prefix %s to %s",
				stale.Prefix(), table.Prefix())
		}
		report.act("moved %d objects of %s forward to %s", moved, stale.Prefix(), table.Prefix())
	}
	return nil
}

// finishRotation drives a rotation holding generation |temp| in the temporary
// slot to completion. Which renames remain is implied by the other roles
// present: an active table means only the temporary's demotion to archived
// is outstanding; otherwise a sole candidate must first take the active slot.
func (o *Orchestrator) finishRotation(ctx context.Context, set generation.Set, temp generation.Generation, report *Report) error {
	if len(set.Actives) == 0 {
		switch len(set.Candidates) {
		case 1:
			var candidate = set.Candidates[0]
			if err := o.renameStep(ctx, candidate, candidate.WithRole(generation.Active)); err != nil {
				return err
			}
			report.act("promoted candidate %s to the active slot", candidate.Name())
		case 0:
			return fault.Errorf(fault.Fatal,
				"rotation holding %s has neither an active nor a candidate generation", temp.Name())
		default:
			return fault.Errorf(fault.Fatal,
				"rotation holding %s is ambiguous: %d candidate generations exist",
				temp.Name(), len(set.Candidates))
		}
	}

	if err := o.renameStep(ctx, temp, temp.WithRole(generation.Archived)); err != nil {
		return err
	}
	report.act("demoted %s to archived", temp.Name())
	return nil
}
