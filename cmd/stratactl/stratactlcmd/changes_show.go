package stratactlcmd

import (
	"context"
	"encoding/json"
	"os"

	mbp "go.strata.dev/core/mainboilerplate"
	"gopkg.in/yaml.v2"
)

type cmdChangesShow struct {
	Version string `long:"version" required:"true" description:"Version ID of the change set to show"`
	Format  string `long:"format" short:"o" choice:"yaml" choice:"json" default:"yaml" description:"Output format"`
}

func init() {
	CommandRegistry.AddCommand("changes", "show", "Show one change set in full", `
Show the complete change set of promotion --version, including every added,
modified, and deleted element ID.

Examples:

# Show what the last promotion changed:
stratactl changes show --version 20240131054500

# As JSON, for scripted consumption:
stratactl changes show --version 20240131054500 --format json
`, &cmdChangesShow{})
}

func (cmd *cmdChangesShow) Execute([]string) error {
	defer startup()()

	var tables = newTableStore(ChangesCfg.Stores)
	var cs, err = tables.GetChangeSet(context.Background(), cmd.Version)
	mbp.Must(err, "failed to fetch change set", "version", cmd.Version)

	switch cmd.Format {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(cs)
	default:
		var b []byte
		if b, err = yaml.Marshal(cs); err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	}
}
