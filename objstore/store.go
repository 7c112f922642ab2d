// Package objstore is the capability adapter over the object-store backend
// holding crawled content. A Store instance is bound to one bucket (or
// container, or filesystem root) named by a configuring URL, with backends
// registered by URL scheme. Package-level operations compose Store primitives
// into the higher-level moves the versioning core needs: batched prefix
// renames, best-effort batch deletes, and generation prefix initialization.
package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	// Path of the object, relative to the listed prefix.
	Path string
	// Size of the object in bytes.
	Size int64
	// ETag is an optional backend-defined content tag.
	ETag string
	// ModTime is the object's last modification time.
	ModTime time.Time
}

// Store is the object-store capability interface. Implementations are
// synchronous and safe for concurrent use.
type Store interface {
	// Provider returns the name of the storage backend (eg "s3", "gcs").
	Provider() string

	// SignGet returns a pre-signed GET URL for |path|, valid for |d|.
	SignGet(path string, d time.Duration) (string, error)

	// Exists checks whether an object exists at |path|.
	Exists(ctx context.Context, path string) (bool, error)

	// Get opens the object at |path| for reading.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put durably writes |content| to |path|, with an optional content type.
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error

	// Copy server-side copies the object at |src| to |dst|.
	Copy(ctx context.Context, src, dst string) error

	// List enumerates objects under |prefix| in paginated fashion, invoking
	// |callback| with each object's info (Path relative to |prefix|). If the
	// callback returns an error, listing stops and that error is returned.
	List(ctx context.Context, prefix string, callback func(ObjectInfo) error) error

	// Remove deletes the object at |path|. Removing an absent object is not
	// an error: backends which report one suppress it, making Remove
	// idempotent and safely retryable.
	Remove(ctx context.Context, path string) error

	// IsAuthError returns whether |err| represents an authorization failure.
	// Retried operations consult it to fail fast rather than backing off.
	IsAuthError(error) bool

	// IsTransient returns whether |err| is a retryable connectivity,
	// throttling, or server-side failure.
	IsTransient(error) bool
}

// BucketEnsurer is implemented by backends able to create their bucket if it
// does not yet exist (eg MinIO deployments provisioned on first use).
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// BatchRemover is implemented by backends with a native batch-delete call.
// RemoveBatch is best-effort: it returns the removed paths and a per-path
// error map for those that failed.
type BatchRemover interface {
	RemoveBatch(ctx context.Context, paths []string) (removed []string, failed map[string]error)
}

// Constructor builds a Store from its configuring URL.
type Constructor func(*url.URL) (Store, error)

var (
	constructors   = make(map[string]Constructor)
	constructorsMu sync.RWMutex
)

// RegisterProviders registers Store constructors by URL scheme. It is called
// during initialization to install the compiled-in backends.
func RegisterProviders(providers map[string]Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	for scheme, constructor := range providers {
		constructors[scheme] = constructor
	}
}

// Open constructs the Store configured by |storeURL|.
func Open(storeURL string) (Store, error) {
	var ep, err = url.Parse(storeURL)
	if err != nil {
		return nil, fmt.Errorf("parsing store URL: %w", err)
	}

	constructorsMu.RLock()
	var constructor, ok = constructors[ep.Scheme]
	constructorsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported object store scheme: %s", ep.Scheme)
	}
	return constructor(ep)
}
