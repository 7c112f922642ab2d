package stratactlcmd

import (
	"context"
	"fmt"

	mbp "go.strata.dev/core/mainboilerplate"
)

type cmdGenerationsRepair struct{}

func init() {
	CommandRegistry.AddCommand("generations", "repair", "Repair interrupted rotations", `
Resume any rotation interrupted by a crash, and verify the at-most-one-active
invariant.

Table names are the authoritative record of each generation's role. Repair
first completes unfinished object-prefix renames forward to match the tables,
then finishes the rotation implied by any temporary name, and finally fails
with a conflict if zero or more than one generation claims the active slot.

Repair is idempotent: running it against a healthy deployment takes no action.

Examples:

# Repair after a crashed promotion:
stratactl generations repair
`, &cmdGenerationsRepair{})
}

func (cmd *cmdGenerationsRepair) Execute([]string) error {
	defer startup()()

	var o = newOrchestrator(GenerationsCfg.Stores, GenerationsCfg.Promote)
	var report, err = o.Repair(context.Background())
	mbp.Must(err, "repair failed")

	if len(report.Actions) == 0 {
		fmt.Println("nothing to repair")
	}
	for _, action := range report.Actions {
		fmt.Println(action)
	}
	for _, prefix := range report.Orphaned {
		fmt.Printf("orphaned object prefix (no backing table): %s\n", prefix)
	}
	return nil
}
