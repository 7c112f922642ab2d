package promote

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/fault"
	"go.strata.dev/core/generation"
	"go.strata.dev/core/metrics"
	"go.strata.dev/core/objstore"
)

// Prune applies the retention policy: the KeepVersions most recent archived
// generations are retained and the rest are destroyed, oldest first. Only
// archived generations are ever touched. A generation is destroyed table
// first, then prefix, so a crash mid-destruction never leaves a table
// pointing at deleted objects. Destroyed generations are returned.
//
// A KeepVersions of zero or less retains everything.
func (o *Orchestrator) Prune(ctx context.Context) ([]generation.Generation, error) {
	if o.KeepVersions <= 0 {
		return nil, nil
	}

	// Union the archived generations known to either store: a prior partial
	// destruction may have dropped a table while its prefix survives.
	var set, err = o.classifyTables(ctx)
	if err != nil {
		return nil, err
	}
	prefixes, err := objstore.ListPrefixes(ctx, o.Objects, "")
	if err != nil {
		return nil, errors.WithMessage(err, "listing object prefixes")
	}
	var objSet = generation.Classify(prefixes)

	var seen = make(map[generation.ID]struct{})
	var archives []generation.Generation
	for _, g := range append(set.Archives, objSet.Archives...) {
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}
		archives = append(archives, g)
	}
	generation.Sort(archives)

	if len(archives) <= o.KeepVersions {
		return nil, nil
	}
	var expired = archives[:len(archives)-o.KeepVersions]

	var destroyed []generation.Generation
	for _, g := range expired {
		if err = o.destroy(ctx, g); err != nil {
			return destroyed, errors.WithMessagef(err, "destroying %s", g.Name())
		}
		destroyed = append(destroyed, g)
		metrics.GenerationsDestroyedTotal.Inc()
	}
	return destroyed, nil
}

// destroy drops a generation's table and then deletes its object prefix.
// Either side may already be gone from a prior partial destruction.
func (o *Orchestrator) destroy(ctx context.Context, g generation.Generation) error {
	if err := o.Tables.Drop(ctx, g.TableName()); err != nil && !fault.IsNotFound(err) {
		return errors.WithMessagef(err, "dropping table %s", g.TableName())
	}
	var removed, err = objstore.DeletePrefix(ctx, o.Objects, g.Prefix(), o.Rename.BatchSize)
	if err != nil {
		return errors.WithMessagef(err, "deleting prefix %s", g.Prefix())
	}

	log.WithFields(log.Fields{
		"generation": g.Name(),
		"removed":    removed,
	}).Info("destroyed archived generation")
	return nil
}
