// Package promote implements the promotion orchestrator: it diffs a candidate
// generation against the current active generation, persists the resulting
// change set, rotates generation names across the table and object stores so
// the candidate becomes active, and applies the retention policy to archived
// generations. A repair pass resumes rotations interrupted by a crash.
//
// The orchestrator assumes a single writer: exactly one promotion (or repair,
// or prune) runs at a time against a deployment. That lock is external.
package promote

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/diff"
	"go.strata.dev/core/fault"
	"go.strata.dev/core/generation"
	"go.strata.dev/core/metrics"
	"go.strata.dev/core/objstore"
	"go.strata.dev/core/record"
	"go.strata.dev/core/tablestore"
)

// State tracks the progress of a single promotion attempt, for logging and
// error annotation only: progress is never persisted, because generation role
// is encoded entirely in table and prefix names.
type State int

const (
	CandidateReady State = iota
	Diffed
	Promoting
	Activated
	Failed
)

func (s State) String() string {
	switch s {
	case CandidateReady:
		return "CANDIDATE_READY"
	case Diffed:
		return "DIFFED"
	case Promoting:
		return "PROMOTING"
	case Activated:
		return "ACTIVE"
	default:
		return "FAILED"
	}
}

// Orchestrator bundles the adapter handles and policy knobs of the promotion
// engine. All fields are explicit: there is no ambient global state.
type Orchestrator struct {
	Tables  *tablestore.Store
	Objects objstore.Store
	Rules   diff.Rules
	Rename  objstore.RenameOptions
	// KeepVersions is the number of most-recent archived generations retained
	// by the retention pass which follows each successful promotion.
	KeepVersions int
}

// Init creates a new candidate generation: its backing table, and its object
// prefix with the required sub-path markers. If the Store supports bucket
// management, the bucket is verified or created first.
func (o *Orchestrator) Init(ctx context.Context, id generation.ID) (generation.Generation, error) {
	var gen = generation.Generation{Role: generation.Candidate, ID: id}
	if err := gen.Validate(); err != nil {
		return generation.Generation{}, err
	}

	if ensurer, ok := o.Objects.(objstore.BucketEnsurer); ok {
		if err := ensurer.EnsureBucket(ctx); err != nil {
			return generation.Generation{}, errors.WithMessage(err, "ensuring bucket")
		}
	}
	if err := o.Tables.Create(ctx, gen.TableName()); err != nil {
		return generation.Generation{}, errors.WithMessagef(err, "creating table %s", gen.TableName())
	}
	if err := objstore.InitPrefix(ctx, o.Objects, gen.Prefix()); err != nil {
		return generation.Generation{}, errors.WithMessagef(err, "initializing prefix %s", gen.Prefix())
	}

	log.WithField("generation", gen.Name()).Info("initialized candidate generation")
	return gen, nil
}

// Promote rotates candidate generation |id| into the active slot. It computes
// and persists the ChangeSet versus the current active generation, performs
// the three-way rename rotation, and then applies the retention policy. On
// success it returns the persisted ChangeSet.
//
// If the rotation completed but the retention pass failed, the ChangeSet is
// returned alongside the retention error: the candidate is active, and a later
// Prune retries the destruction. A zero ChangeSet with a non-nil error means
// the promotion itself failed.
func (o *Orchestrator) Promote(ctx context.Context, id generation.ID) (record.ChangeSet, error) {
	var cs, err = o.promote(ctx, id)
	if cs.VersionID != "" {
		metrics.PromotionsTotal.WithLabelValues(metrics.Ok).Inc()
	} else {
		metrics.PromotionsTotal.WithLabelValues(metrics.Fail).Inc()
	}
	return cs, err
}

func (o *Orchestrator) promote(ctx context.Context, id generation.ID) (record.ChangeSet, error) {
	var state = CandidateReady
	var fields = log.Fields{"id": id, "state": &state}

	var candidate = generation.Generation{Role: generation.Candidate, ID: id}
	if exists, err := o.Tables.Exists(ctx, candidate.TableName()); err != nil {
		return record.ChangeSet{}, err
	} else if !exists {
		return record.ChangeSet{}, fault.Errorf(fault.NotFound,
			"candidate generation %s has no table", candidate.Name())
	}

	var set, err = o.classifyTables(ctx)
	if err != nil {
		return record.ChangeSet{}, err
	}
	active, haveActive, err := set.Active()
	if err != nil {
		return record.ChangeSet{}, errors.WithMessage(err, "run a repair pass before promoting")
	}
	if len(set.Temporaries) != 0 {
		return record.ChangeSet{}, fault.Errorf(fault.Conflict,
			"an interrupted rotation holds %s; run a repair pass before promoting",
			set.Temporaries[0].Name())
	}

	// Compute and persist the ChangeSet.
	var baseline map[string]record.Digest
	if haveActive {
		if baseline, err = o.Tables.FetchDigests(ctx, active.TableName()); err != nil {
			return record.ChangeSet{}, errors.WithMessagef(err, "fetching digests of %s", active.Name())
		}
	}
	current, err := o.Tables.FetchDigests(ctx, candidate.TableName())
	if err != nil {
		return record.ChangeSet{}, errors.WithMessagef(err, "fetching digests of %s", candidate.Name())
	}

	var cs = diff.Diff(baseline, current, o.Rules, string(id), time.Now().UTC())

	if err = o.Tables.EnsureChangesTable(ctx); err != nil {
		return record.ChangeSet{}, err
	}
	if err = o.Tables.InsertChangeSet(ctx, cs); err != nil {
		return record.ChangeSet{}, errors.WithMessagef(err, "persisting change set %s", cs.VersionID)
	}
	state = Diffed
	log.WithFields(fields).WithFields(log.Fields{
		"added":    len(cs.Added),
		"modified": len(cs.Modified),
		"deleted":  len(cs.Deleted),
	}).Info("computed and persisted change set")

	// Rotate.
	state = Promoting
	if !haveActive {
		err = o.renameStep(ctx, candidate, candidate.WithRole(generation.Active))
	} else {
		err = o.rotate(ctx, candidate, active)
	}
	if err != nil {
		state = Failed
		log.WithFields(fields).WithField("err", err).Error("promotion failed")
		return record.ChangeSet{}, errors.WithMessagef(err, "promoting %s", candidate.Name())
	}
	state = Activated
	log.WithFields(fields).Info("promoted candidate generation")

	// The candidate is active from here on: a retention failure is reported
	// with the persisted ChangeSet, not as a failed promotion.
	if _, err = o.Prune(ctx); err != nil {
		return cs, errors.WithMessage(err, "pruning archived generations")
	}
	return cs, nil
}

// rotate performs the three-way rename which avoids a name collision in the
// active slot: active moves aside to a temporary name, the candidate takes the
// active name, and the old active settles as archived.
func (o *Orchestrator) rotate(ctx context.Context, candidate, active generation.Generation) error {
	var temp = active.WithRole(generation.Temporary)

	if err := o.renameStep(ctx, active, temp); err != nil {
		return err
	}
	if err := o.renameStep(ctx, candidate, candidate.WithRole(generation.Active)); err != nil {
		return err
	}
	return o.renameStep(ctx, temp, temp.WithRole(generation.Archived))
}

// renameStep renames a generation across both stores. The table is renamed
// first: a crash leaves table state ahead of object state, and recovery
// always completes the object side forward to match.
func (o *Orchestrator) renameStep(ctx context.Context, from, to generation.Generation) error {
	if err := o.Tables.Rename(ctx, from.TableName(), to.TableName()); err != nil {
		return errors.WithMessagef(err, "renaming table %s to %s", from.TableName(), to.TableName())
	}
	var moved, err = objstore.RenamePrefix(ctx, o.Objects, from.Prefix(), to.Prefix(), o.Rename)
	if err != nil {
		return errors.WithMessagef(err, "renaming prefix %s to %s", from.Prefix(), to.Prefix())
	}

	metrics.RotationStepsTotal.Inc()
	log.WithFields(log.Fields{
		"from":  from.Name(),
		"to":    to.Name(),
		"moved": moved,
	}).Info("renamed generation")
	return nil
}

// classifyTables lists table names and classifies them into generations.
func (o *Orchestrator) classifyTables(ctx context.Context) (generation.Set, error) {
	var names, err = o.Tables.List(ctx, "")
	if err != nil {
		return generation.Set{}, errors.WithMessage(err, "listing tables")
	}
	return generation.Classify(names), nil
}
