package record

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func validRecord() ContentRecord {
	return ContentRecord{
		ElementID:   "e1",
		Type:        Page,
		URL:         "https://example.com/a",
		StoragePath: "candidate_20250314092653/html/a.html",
		Checksum:    strings.Repeat("ab", 32),
		WordCount:   120,
		Language:    "en",
	}
}

func TestValidateAcceptsWellFormedRecord(t *testing.T) {
	var r = validRecord()
	require.NoError(t, r.Validate())
}

func TestValidateRejections(t *testing.T) {
	var cases = []struct {
		name   string
		mutate func(*ContentRecord)
	}{
		{"empty element id", func(r *ContentRecord) { r.ElementID = "" }},
		{"invalid type", func(r *ContentRecord) { r.Type = ArtifactType(9) }},
		{"empty url", func(r *ContentRecord) { r.URL = "" }},
		{"empty storage path", func(r *ContentRecord) { r.StoragePath = "" }},
		{"short checksum", func(r *ContentRecord) { r.Checksum = "abcd" }},
		{"uppercase checksum", func(r *ContentRecord) { r.Checksum = strings.Repeat("AB", 32) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r = validRecord()
			tc.mutate(&r)
			require.Error(t, r.Validate())
		})
	}
}

func TestArtifactTypeRoundTrip(t *testing.T) {
	for _, at := range []ArtifactType{Page, PDF, Image} {
		var parsed, err = ParseArtifactType(at.String())
		require.NoError(t, err)
		require.Equal(t, at, parsed)
	}
	var _, err = ParseArtifactType("Video")
	require.Error(t, err)
}

func TestNewElementIDIsStablePerRun(t *testing.T) {
	var run1 = uuid.MustParse("7f9c7bd8-6a59-4cb3-8e35-93c611e0a00a")
	var run2 = uuid.MustParse("0d5c2f0a-1111-4222-8333-944444444444")

	var a = NewElementID("https://example.com/a", run1)
	require.Equal(t, a, NewElementID("https://example.com/a", run1))
	require.Len(t, a, 64)

	// Distinct URLs and distinct runs yield distinct addresses.
	require.NotEqual(t, a, NewElementID("https://example.com/b", run1))
	require.NotEqual(t, a, NewElementID("https://example.com/a", run2))
}

func TestDigestProjection(t *testing.T) {
	var r = validRecord()
	var d = r.Digest()

	require.Equal(t, r.ElementID, d.ElementID)
	require.Equal(t, r.Checksum, d.Checksum)
	require.Equal(t, float64(120), d.Numeric["word_count"])
	require.Equal(t, "en", d.Categorical["language"])
	require.Equal(t, "Page", d.Categorical["type"])

	// Absent statistics read as zeroes.
	require.Equal(t, float64(0), d.Numeric["pdf_count"])
}

func TestChangeSetEmpty(t *testing.T) {
	require.True(t, ChangeSet{VersionID: "20250314092653"}.Empty())
	require.False(t, ChangeSet{Added: []string{"e1"}}.Empty())
}
