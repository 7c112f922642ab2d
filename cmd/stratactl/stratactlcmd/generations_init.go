package stratactlcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.strata.dev/core/generation"
	mbp "go.strata.dev/core/mainboilerplate"
)

type cmdGenerationsInit struct {
	ID string `long:"id" description:"Generation ID (UTC yyyymmddhhmmss). Minted from the current time if empty"`
}

func init() {
	CommandRegistry.AddCommand("generations", "init", "Initialize a candidate generation", `
Create a new candidate generation: its backing table, and its object prefix
with the required sub-path markers. The generation ID is minted from the
current UTC time unless --id is given.

A fresh crawl-run UUID is printed alongside the generation name. The producer
combines it with each artifact's source URL to derive element IDs, so records
of distinct runs never collide.

Examples:

# Initialize a candidate for a crawl run starting now:
stratactl generations init

# Re-create a candidate with a known ID:
stratactl generations init --id 20240131054500
`, &cmdGenerationsInit{})
}

func (cmd *cmdGenerationsInit) Execute([]string) error {
	defer startup()()

	var id = generation.NewID(time.Now())
	if cmd.ID != "" {
		id = generation.ID(cmd.ID)
		mbp.Must(id.Validate(), "invalid generation ID", "id", cmd.ID)
	}

	var o = newOrchestrator(GenerationsCfg.Stores, GenerationsCfg.Promote)
	var gen, err = o.Init(context.Background(), id)
	mbp.Must(err, "failed to initialize generation", "id", id)

	fmt.Printf("generation:\t%s\nrun-uuid:\t%s\n", gen.Name(), uuid.New())
	return nil
}
