package stratactlcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/generation"
	mbp "go.strata.dev/core/mainboilerplate"
)

type cmdGenerationsPromote struct {
	ID     string `long:"id" required:"true" description:"ID of the candidate generation to promote"`
	Format string `long:"format" short:"o" choice:"summary" choice:"json" default:"summary" description:"Output format"`
}

func init() {
	CommandRegistry.AddCommand("generations", "promote", "Promote a candidate generation", `
Promote candidate generation --id into the active slot.

The candidate is diffed against the current active generation and the
resulting change set is persisted before any rename occurs. The previously
active generation (if any) is demoted to archived, and archived generations
beyond --promote.keep-versions are then destroyed.

Promotion refuses to run while an interrupted rotation holds a temporary
name; run "generations repair" first.

Examples:

# Promote a completed crawl run:
stratactl generations promote --id 20240131054500

# Promote and print the full change set as JSON:
stratactl generations promote --id 20240131054500 --format json
`, &cmdGenerationsPromote{})
}

func (cmd *cmdGenerationsPromote) Execute([]string) error {
	defer startup()()

	var id = generation.ID(cmd.ID)
	mbp.Must(id.Validate(), "invalid generation ID", "id", cmd.ID)

	var o = newOrchestrator(GenerationsCfg.Stores, GenerationsCfg.Promote)
	var cs, err = o.Promote(context.Background(), id)
	if err != nil && cs.VersionID != "" {
		// The candidate was activated; only the retention pass failed.
		log.WithFields(log.Fields{"err": err, "id": id}).
			Warn("promotion succeeded but pruning failed; run \"generations prune\" to retry")
	} else {
		mbp.Must(err, "promotion failed", "id", id)
	}

	switch cmd.Format {
	case "json":
		mbp.Must(json.NewEncoder(os.Stdout).Encode(cs), "failed to encode to json")
	default:
		fmt.Printf("promoted:\t%s\nadded:\t%d\nmodified:\t%d\ndeleted:\t%d\n",
			cs.VersionID, len(cs.Added), len(cs.Modified), len(cs.Deleted))
	}
	return nil
}
