// Package azure implements the objstore.Store interface over Azure Blob
// Storage with Shared Key authentication. A store is configured by an URL of
// the form:
//
//	azure://container/prefix/
//
// with AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY taken from the environment.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/objstore"
)

// StoreQueryArgs contains fields parsed from the query arguments of an
// azure:// store URL. Azure stores carry no arguments today, but unknown
// keys are still rejected.
type StoreQueryArgs struct{}

type store struct {
	storageAccount string // Equivalent of a "bucket" in S3.
	blobDomain     string // Eg blob.core.windows.net.
	container      string
	prefix         string
	pipeline       pipeline.Pipeline
	sasKey         *service.SharedKeyCredential
}

// New creates a new Azure Shared Key authenticated Store from the provided URL.
func New(ep *url.URL) (objstore.Store, error) {
	var args StoreQueryArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var container = ep.Host
	var prefix = strings.TrimPrefix(ep.Path, "/")

	var storageAccount = os.Getenv("AZURE_ACCOUNT_NAME")
	var accountKey = os.Getenv("AZURE_ACCOUNT_KEY")
	if storageAccount == "" || accountKey == "" {
		return nil, fmt.Errorf("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")
	}

	var blobDomain = os.Getenv("AZURE_BLOB_DOMAIN")
	if blobDomain == "" {
		blobDomain = "blob.core.windows.net"
	}

	var credentials, err = azblob.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}

	// The new SDK credential is used only for SAS signing.
	sasKey, err := service.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"storageAccount": storageAccount,
		"blobDomain":     blobDomain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed new Azure Shared Key storage client")

	return &store{
		storageAccount: storageAccount,
		blobDomain:     blobDomain,
		container:      container,
		prefix:         prefix,
		pipeline:       azblob.NewPipeline(credentials, azblob.PipelineOptions{}),
		sasKey:         sasKey,
	}, nil
}

func (a *store) Provider() string { return "azure" }

// SignGet returns a signed URL for GET operations using Shared Key signing.
func (a *store) SignGet(path string, d time.Duration) (string, error) {
	var blob = a.prefix + path

	var sasQueryParams, err = sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(d),
		ContainerName: a.container,
		BlobName:      blob,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
	}.SignWithSharedKey(a.sasKey)

	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s?%s", a.containerURL(), blob, sasQueryParams.Encode()), nil
}

func (a *store) Exists(ctx context.Context, path string) (bool, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return false, err
	}
	if _, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{}); err == nil {
		return true, nil
	}
	if inner, ok := err.(azblob.StorageError); ok && inner.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return false, nil
	}
	return false, err
}

func (a *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return nil, err
	}
	download, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, err
	}
	return download.Body(azblob.RetryReaderOptions{}), nil
}

func (a *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	var headers = azblob.BlobHTTPHeaders{}
	if contentType != "" {
		headers.ContentType = contentType
	}
	// The Azure SDK requires io.ReadSeeker; io.NewSectionReader adapts io.ReaderAt.
	var sectionReader = io.NewSectionReader(content, 0, contentLength)
	_, err = blobURL.Upload(ctx, sectionReader, headers, azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{}, azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

// Copy reads the source blob and re-uploads it at the destination. A
// server-side copy within the account would need a signed source URL and an
// asynchronous polling loop; the client-side round trip keeps the operation
// synchronous, which the prefix-rename protocol requires.
func (a *store) Copy(ctx context.Context, src, dst string) error {
	var body, err = a.Get(ctx, src)
	if err != nil {
		return err
	}
	defer body.Close()

	var content []byte
	if content, err = io.ReadAll(body); err != nil {
		return err
	}
	return a.Put(ctx, dst, bytes.NewReader(content), int64(len(content)), "")
}

func (a *store) List(ctx context.Context, prefix string, callback func(objstore.ObjectInfo) error) error {
	prefix = a.prefix + prefix

	var u, err = url.Parse(a.containerURL())
	if err != nil {
		return err
	}
	var containerURL = azblob.NewContainerURL(*u, a.pipeline)
	var options = azblob.ListBlobsSegmentOptions{Prefix: prefix}

	for marker := (azblob.Marker{}); marker.NotDone(); {
		var segmentList, err = containerURL.ListBlobsFlatSegment(ctx, marker, options)
		if err != nil {
			return err
		}
		for _, blob := range segmentList.Segment.BlobItems {
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			if err = callback(objstore.ObjectInfo{
				Path:    strings.TrimPrefix(blob.Name, prefix),
				Size:    size,
				ETag:    string(blob.Properties.Etag),
				ModTime: blob.Properties.LastModified,
			}); err != nil {
				return err
			}
		}
		marker = segmentList.NextMarker
	}
	return nil
}

func (a *store) Remove(ctx context.Context, path string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if inner, ok := err.(azblob.StorageError); ok && inner.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		err = nil // Idempotent.
	}
	return err
}

func (a *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if storageErr, ok := err.(azblob.StorageError); ok {
		switch storageErr.ServiceCode() {
		case azblob.ServiceCodeContainerNotFound,
			azblob.ServiceCodeContainerDisabled,
			azblob.ServiceCodeAccountIsDisabled:
			return true
		}
		if storageErr.Response() != nil && storageErr.Response().StatusCode == http.StatusForbidden {
			return true
		}
	}
	return false
}

func (a *store) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if storageErr, ok := err.(azblob.StorageError); ok {
		switch storageErr.ServiceCode() {
		case azblob.ServiceCodeServerBusy, azblob.ServiceCodeInternalError, azblob.ServiceCodeOperationTimedOut:
			return true
		}
		if resp := storageErr.Response(); resp != nil {
			switch resp.StatusCode {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				return true
			}
		}
	}
	return false
}

func (a *store) buildBlobURL(path string) (*azblob.BlockBlobURL, error) {
	var u, err = url.Parse(fmt.Sprint(a.containerURL(), "/", a.prefix, path))
	if err != nil {
		return nil, err
	}
	var blobURL = azblob.NewBlockBlobURL(*u, a.pipeline)
	return &blobURL, nil
}

func (a *store) containerURL() string {
	return fmt.Sprintf("https://%s.%s/%s", a.storageAccount, a.blobDomain, a.container)
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
