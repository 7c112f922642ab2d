package mainboilerplate

import (
	"go.strata.dev/core/objstore"
	"go.strata.dev/core/objstore/azure"
	"go.strata.dev/core/objstore/fs"
	"go.strata.dev/core/objstore/gcs"
	"go.strata.dev/core/objstore/s3"
)

// RegisterObjectStores installs the compiled-in object store backends,
// keyed by URL scheme. Programs call it once at startup, before opening
// any store URL.
func RegisterObjectStores() {
	objstore.RegisterProviders(map[string]objstore.Constructor{
		"s3":    s3.New,
		"gs":    gcs.New,
		"azure": azure.New,
		"file":  fs.New,
	})
}
