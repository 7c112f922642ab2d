package stratactlcmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.strata.dev/core/generation"
	"go.strata.dev/core/promote"
	"go.strata.dev/core/record"
)

func TestGenerationsListTableOutput(t *testing.T) {
	var buf bytes.Buffer
	var cmd = &cmdGenerationsList{Format: "table"}

	cmd.outputTable(&buf, []promote.Info{
		{
			Generation: generation.Generation{Role: generation.Active, ID: "20240101000000"},
			HasTable:   true,
			HasPrefix:  true,
			Objects:    3,
			Bytes:      4096,
		},
		{
			Generation: generation.Generation{Role: generation.Candidate, ID: "20240102000000"},
			HasTable:   true,
		},
	})

	var out = buf.String()
	require.Contains(t, out, "active_20240101000000")
	require.Contains(t, out, "candidate_20240102000000")
	require.Contains(t, out, "present")
	require.Contains(t, out, "4.0 KiB")
}

func TestChangesListTableOutput(t *testing.T) {
	var buf bytes.Buffer
	var cmd = &cmdChangesList{Format: "table"}

	cmd.outputTable(&buf, []record.ChangeSet{
		{
			VersionID: "20240101000000",
			Added:     []string{"a", "b"},
			Modified:  []string{"c"},
			CreatedAt: time.Now().Add(-time.Hour),
		},
	})

	var out = buf.String()
	require.Contains(t, out, "20240101000000")
	require.Contains(t, out, "hour ago")
}
