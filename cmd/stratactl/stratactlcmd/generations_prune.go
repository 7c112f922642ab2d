package stratactlcmd

import (
	"context"
	"fmt"

	mbp "go.strata.dev/core/mainboilerplate"
)

type cmdGenerationsPrune struct{}

func init() {
	CommandRegistry.AddCommand("generations", "prune", "Destroy archived generations beyond the retention window", `
Apply the retention policy: keep the --promote.keep-versions most recent
archived generations and destroy the rest, oldest first. Each destroyed
generation's table is dropped before its object prefix is deleted.

Pruning also runs automatically after every successful promotion; this
command exists to reclaim space after lowering keep-versions, or to finish
a destruction interrupted by a crash.

Examples:

# Keep only the two most recent archived generations:
stratactl generations prune --promote.keep-versions 2
`, &cmdGenerationsPrune{})
}

func (cmd *cmdGenerationsPrune) Execute([]string) error {
	defer startup()()

	var o = newOrchestrator(GenerationsCfg.Stores, GenerationsCfg.Promote)
	var destroyed, err = o.Prune(context.Background())
	mbp.Must(err, "pruning failed")

	if len(destroyed) == 0 {
		fmt.Println("nothing to prune")
	}
	for _, g := range destroyed {
		fmt.Printf("destroyed %s\n", g.Name())
	}
	return nil
}
