// Package fs implements the objstore.Store interface over the local
// filesystem, rooted at FileSystemStoreRoot. It is intended for tests and
// single-node deployments; paths are resolved under the root as:
//
//	file:///prefix/
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/objstore"
)

// FileSystemStoreRoot is the filesystem path which roots object paths of a
// file:// store. It must be set at program startup prior to use.
var FileSystemStoreRoot = "/dev/null/must/configure/file/store/root"

// StoreQueryArgs contains fields parsed from the query arguments of a
// file:// store URL. File stores carry no arguments today, but unknown keys
// are still rejected.
type StoreQueryArgs struct{}

type store struct {
	prefix string
}

// New creates a new filesystem Store from the provided URL.
func New(ep *url.URL) (objstore.Store, error) {
	var args StoreQueryArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	return store{prefix: strings.TrimPrefix(ep.Path, "/")}, nil
}

func (s store) Provider() string { return "fs" }

func (s store) SignGet(path string, _ time.Duration) (string, error) {
	return "file://" + filepath.ToSlash(s.resolve(path)), nil
}

func (s store) Exists(_ context.Context, path string) (bool, error) {
	if _, err := os.Stat(s.resolve(path)); os.IsNotExist(err) {
		return false, nil
	} else if err == nil {
		return true, nil
	} else {
		return false, err
	}
}

func (s store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(s.resolve(path))
}

func (s store) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64, _ string) error {
	var fsPath = s.resolve(path)

	// Paths with a trailing slash are directory markers.
	if strings.HasSuffix(path, "/") {
		return os.MkdirAll(fsPath, 0750)
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0750); err != nil {
		return err
	}

	var f, err = os.CreateTemp(filepath.Dir(fsPath), ".partial-"+filepath.Base(fsPath))
	if err != nil {
		return err
	}

	defer func(name string) {
		if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithFields(log.Fields{"err": rmErr, "path": fsPath}).
				Warn("failed to cleanup temp file")
		}
	}(f.Name())

	// io.Copy only needs io.Reader, so io.NewSectionReader adapts io.ReaderAt.
	_, err = io.Copy(f, io.NewSectionReader(content, 0, contentLength))

	if err == nil {
		err = f.Close()
	}
	if err == nil {
		err = os.Rename(f.Name(), fsPath)
	}
	return err
}

func (s store) Copy(ctx context.Context, src, dst string) error {
	if strings.HasSuffix(src, "/") {
		return s.Put(ctx, dst, nil, 0, "")
	}
	var f, err = os.Open(s.resolve(src))
	if err != nil {
		return err
	}
	defer f.Close()

	var info os.FileInfo
	if info, err = f.Stat(); err != nil {
		return err
	}
	return s.Put(ctx, dst, f, info.Size(), "")
}

func (s store) List(_ context.Context, prefix string, callback func(objstore.ObjectInfo) error) error {
	var dir = s.resolve(prefix)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir,
		func(name string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			var relPath string
			if relPath, err = filepath.Rel(dir, name); err != nil {
				return err
			}
			relPath = filepath.ToSlash(relPath)

			if info.IsDir() {
				if name == dir {
					return nil // Don't report the listing root itself.
				}
				// Report empty directories as marker objects so that
				// structure checks observe them; descend otherwise.
				var entries, err = os.ReadDir(name)
				if err != nil {
					return err
				} else if len(entries) != 0 {
					return nil
				}
				return callback(objstore.ObjectInfo{
					Path:    relPath + "/",
					ModTime: info.ModTime(),
				})
			}
			return callback(objstore.ObjectInfo{
				Path:    relPath,
				Size:    info.Size(),
				ETag:    fileETag(name, info),
				ModTime: info.ModTime(),
			})
		})
}

func (s store) Remove(_ context.Context, path string) error {
	var err = os.Remove(s.resolve(path))
	if os.IsNotExist(err) {
		return nil // Idempotent.
	} else if err != nil {
		return err
	}

	// Removing a file leaves its parent directories behind, and List reports
	// empty directories as marker objects. Prune now-empty parents up to the
	// store root, so a fully renamed or deleted prefix is no longer listed.
	var root = filepath.Clean(s.resolve(""))
	for dir := filepath.Dir(s.resolve(path)); len(dir) > len(root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break // Not empty, or already pruned.
		}
	}
	return nil
}

func (s store) IsAuthError(err error) bool {
	return err != nil && (errors.Is(err, os.ErrPermission) || os.IsPermission(err))
}

func (s store) IsTransient(error) bool { return false }

func (s store) resolve(path string) string {
	return filepath.Join(FileSystemStoreRoot, filepath.FromSlash(s.prefix+path))
}

// fileETag derives a cheap content fingerprint from file metadata. Local
// stores are single-writer, so size and mtime are a sufficient proxy.
func fileETag(name string, info os.FileInfo) string {
	var sum = sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", name, info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:8])
}

func parseStoreArgs(ep *url.URL, args *StoreQueryArgs) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return fmt.Errorf("parsing store URL arguments: %s", err)
	}
	return nil
}
