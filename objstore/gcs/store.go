// Package gcs implements the objstore.Store interface over Google Cloud
// Storage. A store is configured by an URL of the form:
//
//	gs://bucket/prefix/
package gcs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/objstore"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// StoreQueryArgs contains fields parsed from the query arguments of a
// gs:// store URL. GCS stores carry no arguments today, but unknown keys
// are still rejected.
type StoreQueryArgs struct{}

type store struct {
	bucket           string
	prefix           string
	client           *storage.Client
	signedURLOptions storage.SignedURLOptions
}

// credentialsFile helps identify when JSON credentials are an external
// account used by workload identity.
type credentialsFile struct {
	Type string `json:"type"`
}

// New creates a new GCS Store from the provided URL.
func New(ep *url.URL) (objstore.Store, error) {
	var args StoreQueryArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix = ep.Host, strings.TrimPrefix(ep.Path, "/")
	var ctx = context.Background()

	var creds, err = google.FindDefaultCredentials(ctx, storage.ScopeFullControl)
	if err != nil {
		return nil, err
	}
	// Best effort to determine if JWT credentials are for an external account.
	var externalAccount bool
	if creds.JSON != nil {
		var f credentialsFile
		if err = json.Unmarshal(creds.JSON, &f); err == nil {
			externalAccount = f.Type == "external_account"
		}
	}

	var client *storage.Client
	var opts storage.SignedURLOptions

	if creds.JSON != nil && !externalAccount {
		var conf *jwt.Config
		if conf, err = google.JWTConfigFromJSON(creds.JSON, storage.ScopeFullControl); err != nil {
			return nil, err
		}
		if client, err = storage.NewClient(ctx, option.WithTokenSource(conf.TokenSource(ctx))); err != nil {
			return nil, err
		}
		opts = storage.SignedURLOptions{
			GoogleAccessID: conf.Email,
			PrivateKey:     conf.PrivateKey,
		}
		log.WithFields(log.Fields{
			"ProjectID":      creds.ProjectID,
			"GoogleAccessID": conf.Email,
			"bucket":         bucket,
		}).Info("constructed new GCS client")
	} else {
		// Possible to use GCS without a service account (eg with a GCE
		// instance and workload identity).
		if client, err = storage.NewClient(ctx, option.WithTokenSource(creds.TokenSource)); err != nil {
			return nil, err
		}
		opts = storage.SignedURLOptions{}
		log.WithFields(log.Fields{
			"ProjectID": creds.ProjectID,
			"bucket":    bucket,
		}).Info("constructed new GCS client without JWT")
	}

	return &store{
		bucket:           bucket,
		prefix:           prefix,
		client:           client,
		signedURLOptions: opts,
	}, nil
}

func (s *store) Provider() string { return "gcs" }

func (s *store) SignGet(path string, d time.Duration) (string, error) {
	var opts = s.signedURLOptions
	opts.Method = "GET"
	opts.Expires = time.Now().Add(d)
	return storage.SignedURL(s.bucket, s.prefix+path, &opts)
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.Bucket(s.bucket).Object(s.prefix + path).Attrs(ctx)
	if err == nil {
		return true, nil
	} else if err == storage.ErrObjectNotExist {
		return false, nil
	}
	return false, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.client.Bucket(s.bucket).Object(s.prefix + path).NewReader(ctx)
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	var w = s.client.Bucket(s.bucket).Object(s.prefix + path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, io.NewSectionReader(content, 0, contentLength)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *store) Copy(ctx context.Context, src, dst string) error {
	var bucket = s.client.Bucket(s.bucket)
	var _, err = bucket.Object(s.prefix + dst).
		CopierFrom(bucket.Object(s.prefix + src)).Run(ctx)
	return err
}

func (s *store) List(ctx context.Context, prefix string, callback func(objstore.ObjectInfo) error) error {
	prefix = s.prefix + prefix
	var it = s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	for {
		var obj, err = it.Next()
		if err == iterator.Done {
			return nil
		} else if err != nil {
			return err
		}
		if err = callback(objstore.ObjectInfo{
			Path:    strings.TrimPrefix(obj.Name, prefix),
			Size:    obj.Size,
			ETag:    hex.EncodeToString(obj.MD5),
			ModTime: obj.Updated,
		}); err != nil {
			return err
		}
	}
}

func (s *store) Remove(ctx context.Context, path string) error {
	var err = s.client.Bucket(s.bucket).Object(s.prefix + path).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		err = nil // Idempotent.
	}
	return err
}

func (s *store) IsAuthError(err error) bool {
	if err == storage.ErrBucketNotExist {
		return true
	}
	if gErr, ok := err.(*googleapi.Error); ok {
		return gErr.Code == http.StatusForbidden
	}
	return false
}

func (s *store) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if gErr, ok := err.(*googleapi.Error); ok {
		switch gErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
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
