package generation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.strata.dev/core/fault"
)

func TestIDDerivationAndOrdering(t *testing.T) {
	var t1 = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	var t2 = t1.Add(time.Second)

	var id1, id2 = NewID(t1), NewID(t2)
	require.Equal(t, ID("20250314092653"), id1)
	require.NoError(t, id1.Validate())
	require.True(t, id1 < id2, "ids must sort chronologically")

	// Non-UTC inputs normalize to UTC.
	var loc = time.FixedZone("UTC+2", 2*3600)
	require.Equal(t, id1, NewID(t1.In(loc)))

	var back, err = id1.Time()
	require.NoError(t, err)
	require.Equal(t, t1, back)
}

func TestIDValidationRejectsMalformedInputs(t *testing.T) {
	for _, id := range []ID{"", "2025", "2025031409265x", "202503140926530", "20251301000000"} {
		require.Error(t, id.Validate(), "id %q", id)
	}
}

func TestNamingRoundTrip(t *testing.T) {
	var g = Generation{Role: Active, ID: "20250314092653"}
	require.Equal(t, "active_20250314092653", g.Name())
	require.Equal(t, "active_20250314092653", g.TableName())
	require.Equal(t, "active_20250314092653/", g.Prefix())

	var parsed, err = Parse(g.Name())
	require.NoError(t, err)
	require.Equal(t, g, parsed)

	parsed, err = Parse(g.Prefix())
	require.NoError(t, err)
	require.Equal(t, g, parsed)

	require.Equal(t, Archived, g.WithRole(Archived).Role)
	require.Equal(t, g.ID, g.WithRole(Archived).ID)
}

func TestParseRejectsForeignNames(t *testing.T) {
	for _, name := range []string{
		"content_changes",
		"pg_stat_activity",
		"active",
		"active_abc",
		"primary_20250314092653", // unknown role.
		"",
	} {
		var _, err = Parse(name)
		require.Error(t, err, "name %q", name)
		require.True(t, fault.IsNotFound(err))
	}
}

func TestClassifyGroupsAndSorts(t *testing.T) {
	var set = Classify([]string{
		"archived_20250301000000",
		"active_20250310000000",
		"candidate_20250314092653",
		"archived_20250210000000",
		"content_changes", // Skipped.
		"temporary_20250305000000",
	})

	require.Len(t, set.Candidates, 1)
	require.Len(t, set.Actives, 1)
	require.Len(t, set.Temporaries, 1)
	require.Equal(t,
		[]Generation{
			{Archived, "20250210000000"},
			{Archived, "20250301000000"},
		}, set.Archives)
	require.Len(t, set.All(), 5)
}

func TestActiveSlotInvariant(t *testing.T) {
	var g, ok, err = Classify(nil).Active()
	require.NoError(t, err)
	require.False(t, ok)

	g, ok, err = Classify([]string{"active_20250310000000"}).Active()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ID("20250310000000"), g.ID)

	_, _, err = Classify([]string{
		"active_20250310000000",
		"active_20250311000000",
	}).Active()
	require.Error(t, err)
	require.True(t, fault.IsConflict(err))
}
