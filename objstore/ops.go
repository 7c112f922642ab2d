package objstore

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/fault"
	"go.strata.dev/core/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultRenameBatchSize bounds the number of objects a prefix rename holds
// in memory and moves per batch.
const DefaultRenameBatchSize = 1000

// maxAttempts bounds local retries of transient backend errors.
const maxAttempts = 5

// RequiredSubpaths are the sub-paths every generation prefix carries, created
// as empty markers when the prefix is initialized.
var RequiredSubpaths = []string{"html/", "images/", "pdfs/", "tables/"}

// RenameOptions configure a RenamePrefix operation.
type RenameOptions struct {
	// BatchSize bounds objects moved per batch. Defaults to
	// DefaultRenameBatchSize.
	BatchSize int
	// Parallelism bounds concurrent per-object moves within one batch.
	// Parallelism is across keys; the copy-then-delete pair of a single key
	// is always ordered. Defaults to 1.
	Parallelism int
}

func (o RenameOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultRenameBatchSize
	}
	return o.BatchSize
}

func (o RenameOptions) parallelism() int {
	if o.Parallelism <= 0 {
		return 1
	}
	return o.Parallelism
}

// RenamePrefix moves every object under |oldPrefix| to the same path under
// |newPrefix|, as a batched copy-then-delete per object. It is explicitly not
// atomic: a crash mid-rename leaves objects present under both prefixes.
// It is however resumable and idempotent: progress is derived by re-listing
// |oldPrefix|, so a retried or resumed invocation continues from wherever the
// prior one stopped, and applying it twice yields the same final object set
// as one successful application. The moved count is returned.
func RenamePrefix(ctx context.Context, s Store, oldPrefix, newPrefix string, opts RenameOptions) (moved int, err error) {
	var batch []string

	var flush = func() error {
		if len(batch) == 0 {
			return nil
		}
		var group, groupCtx = errgroup.WithContext(ctx)
		group.SetLimit(opts.parallelism())

		for _, path := range batch {
			var path = path
			group.Go(func() error {
				return moveObject(groupCtx, s, oldPrefix+path, newPrefix+path)
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
		moved += len(batch)
		batch = batch[:0]
		return nil
	}

	err = s.List(ctx, oldPrefix, func(info ObjectInfo) error {
		batch = append(batch, info.Path)
		if len(batch) == opts.batchSize() {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return moved, fault.Annotate(err, "renaming prefix "+oldPrefix)
	}

	log.WithFields(log.Fields{
		"oldPrefix": oldPrefix,
		"newPrefix": newPrefix,
		"moved":     moved,
	}).Info("renamed object prefix")
	return moved, nil
}

// moveObject copies |src| to |dst| and then removes |src|. The ordering is
// never interleaved for one key: a crash can leave the object under both
// paths, but never under neither.
func moveObject(ctx context.Context, s Store, src, dst string) error {
	var err = retry(ctx, s, func() error { return s.Copy(ctx, src, dst) })
	if err != nil {
		// A prior interrupted rename may have copied this object and removed
		// the source before the listing snapshot was taken, or the copy may
		// race a concurrent resume. The move is complete if |dst| exists.
		if exists, existsErr := s.Exists(ctx, dst); existsErr == nil && exists {
			err = nil
		}
	}
	if err != nil {
		return errors.WithMessagef(err, "copying %s", src)
	}
	metrics.ObjectsCopiedTotal.Inc()

	if err = retry(ctx, s, func() error { return s.Remove(ctx, src) }); err != nil {
		return errors.WithMessagef(err, "removing %s", src)
	}
	metrics.ObjectsRemovedTotal.Inc()
	return nil
}

// RemoveBatch deletes |paths| best-effort, returning the removed paths and a
// per-path error map for those that failed. A backend with a native batch
// delete is used directly; otherwise objects are removed with bounded
// parallelism.
func RemoveBatch(ctx context.Context, s Store, paths []string, parallelism int) (removed []string, failed map[string]error) {
	if br, ok := s.(BatchRemover); ok {
		removed, failed = br.RemoveBatch(ctx, paths)
		metrics.ObjectsRemovedTotal.Add(float64(len(removed)))
		return removed, failed
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	var mu sync.Mutex
	failed = make(map[string]error)

	var group, groupCtx = errgroup.WithContext(ctx)
	group.SetLimit(parallelism)

	for _, path := range paths {
		var path = path
		group.Go(func() error {
			var err = retry(groupCtx, s, func() error { return s.Remove(groupCtx, path) })

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[path] = err
			} else {
				removed = append(removed, path)
			}
			return nil // Best-effort: errors are reported per path.
		})
	}
	_ = group.Wait()

	sort.Strings(removed)
	metrics.ObjectsRemovedTotal.Add(float64(len(removed)))
	if len(failed) == 0 {
		failed = nil
	}
	return removed, failed
}

// DeletePrefix removes every object under |prefix| in batches of |batchSize|.
// It returns the number of objects removed, and fails if any single removal
// failed.
func DeletePrefix(ctx context.Context, s Store, prefix string, batchSize int) (n int, err error) {
	if batchSize <= 0 {
		batchSize = DefaultRenameBatchSize
	}
	var batch []string

	var flush = func() error {
		if len(batch) == 0 {
			return nil
		}
		var removed, failed = RemoveBatch(ctx, s, batch, 1)
		n += len(removed)
		batch = batch[:0]

		for path, pathErr := range failed {
			return errors.WithMessagef(pathErr, "removing %s", path)
		}
		return nil
	}

	err = s.List(ctx, prefix, func(info ObjectInfo) error {
		batch = append(batch, prefix+info.Path)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	return n, fault.Annotate(err, "deleting prefix "+prefix)
}

// InitPrefix creates the empty markers of RequiredSubpaths under |prefix|,
// preparing it to receive a new generation's content.
func InitPrefix(ctx context.Context, s Store, prefix string) error {
	for _, sub := range RequiredSubpaths {
		var err = retry(ctx, s, func() error {
			return s.Put(ctx, prefix+sub, bytes.NewReader(nil), 0, "")
		})
		if err != nil {
			return errors.WithMessagef(err, "creating marker %s", prefix+sub)
		}
	}
	return nil
}

// VerifyPrefixStructure checks that each of |required| sub-paths exists under
// |prefix|, failing with NotFound naming those absent.
func VerifyPrefixStructure(ctx context.Context, s Store, prefix string, required []string) error {
	var missing []string
	for _, sub := range required {
		var found = false
		var err = s.List(ctx, prefix+sub, func(ObjectInfo) error {
			found = true
			return errStopListing
		})
		if err != nil && err != errStopListing {
			return err
		}
		if !found {
			missing = append(missing, sub)
		}
	}
	if len(missing) != 0 {
		return fault.Errorf(fault.NotFound, "prefix %s is missing required sub-paths: %s",
			prefix, strings.Join(missing, ", "))
	}
	return nil
}

var errStopListing = errors.New("stop listing")

// ListPrefixes enumerates the distinct top-level prefixes (first path
// segments, with trailing slash) of objects under |root|. The repair pass
// uses it to discover which generation prefixes exist on the object side.
func ListPrefixes(ctx context.Context, s Store, root string) ([]string, error) {
	var seen = make(map[string]struct{})
	var err = s.List(ctx, root, func(info ObjectInfo) error {
		if i := strings.IndexByte(info.Path, '/'); i >= 0 {
			seen[info.Path[:i+1]] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var prefixes = make([]string, 0, len(seen))
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes, nil
}

// retry runs |fn| with bounded attempts, backing off on errors the Store
// reports as transient. Authorization failures are never retried: bad
// credentials fail every attempt identically, and surface as Fatal.
func retry(ctx context.Context, s Store, fn func() error) error {
	for attempt := 0; ; attempt++ {
		var err = fn()
		if err == nil {
			return nil
		}
		if s.IsAuthError(err) {
			return fault.WithKind(fault.Fatal, err)
		}
		if !s.IsTransient(err) || attempt+1 == maxAttempts {
			return err
		}
		var timer = time.NewTimer(backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func backoff(attempt int) time.Duration {
	switch attempt {
	case 0, 1:
		return time.Millisecond * 50
	case 2, 3:
		return time.Millisecond * 500
	default:
		return time.Second * 5
	}
}
