// Package diff compares two generations' content-record sets into an
// added / modified / deleted ChangeSet. The comparison is a pure function of
// its inputs: no I/O, no side effects, and deterministic output ordering.
package diff

import (
	"math"
	"sort"
	"time"

	"go.strata.dev/core/record"
)

// Diff compares |candidate| against |baseline| and returns the ChangeSet,
// stamped with |versionID| and |createdAt|.
//
// Keys of |candidate| absent from |baseline| are added; keys of |baseline|
// absent from |candidate| are deleted; keys present in both are modified when
// their digests differ under the configured Rules. A nil |baseline| is the
// first-promotion case: every candidate key is added.
//
// Output lists are sorted lexicographically by element id, so equal inputs
// always produce byte-identical ChangeSets.
func Diff(baseline, candidate map[string]record.Digest, rules Rules, versionID string, createdAt time.Time) record.ChangeSet {
	var cs = record.ChangeSet{
		VersionID: versionID,
		CreatedAt: createdAt,
	}

	for id, cand := range candidate {
		var base, ok = baseline[id]
		if !ok {
			cs.Added = append(cs.Added, id)
		} else if rules.Modified(base, cand) {
			cs.Modified = append(cs.Modified, id)
		}
	}
	for id := range baseline {
		if _, ok := candidate[id]; !ok {
			cs.Deleted = append(cs.Deleted, id)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	return cs
}

// Modified returns whether two digests of the same element differ.
//
// The content checksum is authoritative: when both digests carry one, the
// comparison is checksum equality and nothing else. Tracked-field rules apply
// only when either side lacks a checksum, eg for records whose content was
// not separately fetched. Absent fields read as zero values and are compared
// as such, never treated as a fault.
func (r Rules) Modified(base, cand record.Digest) bool {
	if base.Checksum != "" && cand.Checksum != "" {
		return base.Checksum != cand.Checksum
	}

	for _, f := range r.Fields {
		switch f.Kind {
		case FieldNumeric:
			if math.Abs(cand.Numeric[f.Name]-base.Numeric[f.Name]) > f.Threshold {
				return true
			}
		case FieldCategorical:
			if cand.Categorical[f.Name] != base.Categorical[f.Name] {
				return true
			}
		}
	}
	return false
}
