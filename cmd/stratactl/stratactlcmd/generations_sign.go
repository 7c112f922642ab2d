package stratactlcmd

import (
	"fmt"
	"time"

	mbp "go.strata.dev/core/mainboilerplate"
	"go.strata.dev/core/objstore"
	"go.strata.dev/core/objstore/fs"
)

type cmdGenerationsSign struct {
	Path string        `long:"path" required:"true" description:"Object path to sign, relative to the store URL (eg active_20240131054500/html/a.html)"`
	TTL  time.Duration `long:"ttl" default:"1h" description:"Time-to-live of the signed URL"`
}

func init() {
	CommandRegistry.AddCommand("generations", "sign", "Generate a signed GET URL for a stored artifact", `
Generate a URL authenticating the bearer to GET the artifact at --path from
the backing object store, valid for --ttl.

Examples:

# Sign an artifact of the active generation for one hour:
stratactl generations sign --path active_20240131054500/html/a.html

# Sign with a short TTL, for a one-off download:
stratactl generations sign --path active_20240131054500/pdfs/report.pdf --ttl 5m
`, &cmdGenerationsSign{})
}

func (cmd *cmdGenerationsSign) Execute([]string) error {
	defer startup()()

	if GenerationsCfg.Stores.FSRoot != "" {
		fs.FileSystemStoreRoot = GenerationsCfg.Stores.FSRoot
	}
	var store, err = objstore.Open(GenerationsCfg.Stores.Store)
	mbp.Must(err, "failed to open object store", "url", GenerationsCfg.Stores.Store)

	url, err := store.SignGet(cmd.Path, cmd.TTL)
	mbp.Must(err, "failed to sign URL", "path", cmd.Path)

	fmt.Println(url)
	return nil
}
