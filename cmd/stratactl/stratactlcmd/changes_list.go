package stratactlcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	mbp "go.strata.dev/core/mainboilerplate"
	"go.strata.dev/core/record"
)

type cmdChangesList struct {
	Format string `long:"format" short:"o" choice:"table" choice:"json" default:"table" description:"Output format"`
}

func init() {
	CommandRegistry.AddCommand("changes", "list", "List persisted change sets", `
List every change set persisted by past promotions, in version order.

Change sets are append-only: one is written per promotion and never mutated
afterward, forming a complete history of what each promotion added, modified,
and deleted.

Examples:

# List all change sets:
stratactl changes list

# As JSON, one per line:
stratactl changes list --format json
`, &cmdChangesList{})
}

func (cmd *cmdChangesList) Execute([]string) error {
	defer startup()()

	var tables = newTableStore(ChangesCfg.Stores)
	var all, err = tables.ListChangeSets(context.Background())
	mbp.Must(err, "failed to list change sets")

	switch cmd.Format {
	case "json":
		var enc = json.NewEncoder(os.Stdout)
		for _, cs := range all {
			mbp.Must(enc.Encode(cs), "failed to encode to json")
		}
	default:
		cmd.outputTable(os.Stdout, all)
	}
	return nil
}

func (cmd *cmdChangesList) outputTable(w io.Writer, all []record.ChangeSet) {
	var table = tablewriter.NewWriter(w)
	table.Header("Version", "Created", "Added", "Modified", "Deleted")

	for _, cs := range all {
		table.Append([]string{
			cs.VersionID,
			humanize.Time(cs.CreatedAt),
			fmt.Sprintf("%d", len(cs.Added)),
			fmt.Sprintf("%d", len(cs.Modified)),
			fmt.Sprintf("%d", len(cs.Deleted)),
		})
	}
	table.Render()
}
