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
	"go.strata.dev/core/promote"
)

type cmdGenerationsList struct {
	Format string `long:"format" short:"o" choice:"table" choice:"json" default:"table" description:"Output format"`
}

func init() {
	CommandRegistry.AddCommand("generations", "list", "List generations", `
List every generation known to the table store or the object store, with its
role, backing table, and the count and total size of its objects.

A generation present on only one side indicates a rotation or destruction in
progress (or interrupted; see "generations repair").

Examples:

# List generations in a formatted table:
stratactl generations list --stores.store s3://my-bucket/crawls/

# List generations as JSON, one per line:
stratactl generations list --format json
`, &cmdGenerationsList{})
}

func (cmd *cmdGenerationsList) Execute([]string) error {
	defer startup()()

	var o = newOrchestrator(GenerationsCfg.Stores, GenerationsCfg.Promote)
	var infos, err = o.List(context.Background())
	mbp.Must(err, "failed to list generations")

	switch cmd.Format {
	case "json":
		var enc = json.NewEncoder(os.Stdout)
		for _, info := range infos {
			mbp.Must(enc.Encode(info), "failed to encode to json")
		}
	default:
		cmd.outputTable(os.Stdout, infos)
	}
	return nil
}

func (cmd *cmdGenerationsList) outputTable(w io.Writer, infos []promote.Info) {
	var table = tablewriter.NewWriter(w)
	table.Header("Name", "Role", "Created", "Table", "Objects", "Size")

	for _, info := range infos {
		var created string
		if t, err := info.Generation.ID.Time(); err == nil {
			created = humanize.Time(t)
		}
		var hasTable = "absent"
		if info.HasTable {
			hasTable = "present"
		}
		table.Append([]string{
			info.Generation.Name(),
			info.Generation.Role.String(),
			created,
			hasTable,
			fmt.Sprintf("%d", info.Objects),
			humanize.IBytes(uint64(info.Bytes)),
		})
	}
	table.Render()
}
