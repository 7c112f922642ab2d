package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.strata.dev/core/record"
)

func digests(m map[string]string) map[string]record.Digest {
	var out = make(map[string]record.Digest, len(m))
	for id, sum := range m {
		out[id] = record.Digest{ElementID: id, Checksum: sum}
	}
	return out
}

var at = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestDiffOfEqualSetsIsEmpty(t *testing.T) {
	var a = digests(map[string]string{"a": "h1", "b": "h2", "c": "h3"})
	var cs = Diff(a, a, DefaultRules(), "20250314092653", at)
	require.True(t, cs.Empty())
	require.Equal(t, "20250314092653", cs.VersionID)
	require.Equal(t, at, cs.CreatedAt)
}

func TestFirstPromotionAddsEverything(t *testing.T) {
	var cand = digests(map[string]string{"b": "h2", "a": "h1"})
	var cs = Diff(nil, cand, DefaultRules(), "v", at)

	require.Equal(t, []string{"a", "b"}, cs.Added)
	require.Empty(t, cs.Modified)
	require.Empty(t, cs.Deleted)
}

func TestAddedDeletedModifiedPartition(t *testing.T) {
	var base = digests(map[string]string{"a": "h1", "b": "h2"})
	var cand = digests(map[string]string{"b": "h2", "c": "h3"})

	var cs = Diff(base, cand, DefaultRules(), "v", at)
	require.Equal(t, []string{"c"}, cs.Added)
	require.Equal(t, []string{"a"}, cs.Deleted)
	require.Empty(t, cs.Modified)

	// Added and deleted are disjoint by construction.
	for _, a := range cs.Added {
		require.NotContains(t, cs.Deleted, a)
	}
}

func TestChecksumChangeIsModified(t *testing.T) {
	var base = digests(map[string]string{"a": "h1"})
	var cand = digests(map[string]string{"a": "h2"})

	var cs = Diff(base, cand, DefaultRules(), "v", at)
	require.Empty(t, cs.Added)
	require.Empty(t, cs.Deleted)
	require.Equal(t, []string{"a"}, cs.Modified)
}

func TestChecksumIsAuthoritativeOverTrackedFields(t *testing.T) {
	// Equal checksums: a large word-count swing does not mark the record
	// modified, because the checksum comparison is authoritative.
	var base = map[string]record.Digest{"a": {
		ElementID: "a", Checksum: "h1",
		Numeric: map[string]float64{"word_count": 100},
	}}
	var cand = map[string]record.Digest{"a": {
		ElementID: "a", Checksum: "h1",
		Numeric: map[string]float64{"word_count": 900},
	}}
	require.True(t, Diff(base, cand, DefaultRules(), "v", at).Empty())
}

func TestTrackedFieldsApplyWithoutChecksums(t *testing.T) {
	var base = map[string]record.Digest{"a": {
		ElementID: "a",
		Numeric:   map[string]float64{"word_count": 100},
	}}

	// Within threshold: unchanged.
	var cand = map[string]record.Digest{"a": {
		ElementID: "a",
		Numeric:   map[string]float64{"word_count": 110},
	}}
	require.True(t, Diff(base, cand, DefaultRules(), "v", at).Empty())

	// Beyond threshold: modified.
	cand["a"].Numeric["word_count"] = 180
	require.Equal(t, []string{"a"},
		Diff(base, cand, DefaultRules(), "v", at).Modified)

	// Categorical inequality: modified.
	cand["a"].Numeric["word_count"] = 100
	cand["a"] = record.Digest{
		ElementID:   "a",
		Numeric:     map[string]float64{"word_count": 100},
		Categorical: map[string]string{"language": "fr"},
	}
	require.Equal(t, []string{"a"},
		Diff(base, cand, DefaultRules(), "v", at).Modified)
}

func TestAbsentFieldsReadAsZeroes(t *testing.T) {
	// Neither digest carries a checksum and both omit all tracked maps;
	// the diff is still well defined and empty.
	var base = map[string]record.Digest{"a": {ElementID: "a"}}
	var cand = map[string]record.Digest{"a": {ElementID: "a"}}
	require.True(t, Diff(base, cand, DefaultRules(), "v", at).Empty())
}

func TestOutputOrderingIsStable(t *testing.T) {
	var base = digests(map[string]string{"m": "h", "z": "h", "a": "h"})
	var cand = digests(map[string]string{"q": "h", "b": "h", "k": "h"})

	for i := 0; i != 10; i++ {
		var cs = Diff(base, cand, DefaultRules(), "v", at)
		require.Equal(t, []string{"b", "k", "q"}, cs.Added)
		require.Equal(t, []string{"a", "m", "z"}, cs.Deleted)
	}
}

func TestParseRules(t *testing.T) {
	var r, err = ParseRules([]byte(`
tracked_fields:
  - name: word_count
    kind: numeric
    threshold: 50
  - name: title
    kind: categorical
`))
	require.NoError(t, err)
	require.Len(t, r.Fields, 2)
	require.Equal(t, FieldNumeric, r.Fields[0].Kind)
	require.Equal(t, float64(50), r.Fields[0].Threshold)

	_, err = ParseRules([]byte(`
tracked_fields:
  - name: word_count
    kind: fuzzy
`))
	require.Error(t, err)

	_, err = ParseRules([]byte(`
tracked_fields:
  - name: title
    kind: categorical
    threshold: 3
`))
	require.Error(t, err)
}

func TestDefaultRulesValidate(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())
}
