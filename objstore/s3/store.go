// Package s3 implements the objstore.Store interface over Amazon S3 and
// S3-compatible services such as MinIO. A store is configured by an URL of
// the form:
//
//	s3://bucket/prefix/?endpoint=http://minio:9000&profile=minio
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awsS3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.strata.dev/core/objstore"
)

const s3ErrCodeAccessDenied = "AccessDenied"

// StoreQueryArgs contains fields parsed from the query arguments of an
// s3:// store URL.
type StoreQueryArgs struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credentials are used.
	Profile string
	// Endpoint to connect to S3. If empty, the default S3 service is used.
	// Set this for MinIO deployments.
	Endpoint string
	// ACL applied when persisting new objects.
	ACL string
	// StorageClass applied when persisting new objects.
	StorageClass string
	// SSE is the server-side encryption type to be applied (eg, "AES256").
	SSE string
	// SSEKMSKeyId specifies the ID of an AWS KMS customer managed key.
	SSEKMSKeyId string
	// Region is the region for the bucket. If empty, the region is
	// determined from |Profile| or the default credentials.
	Region string
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *awsS3.S3
}

// New creates a new S3 Store from the provided URL.
func New(ep *url.URL) (objstore.Store, error) {
	var args StoreQueryArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix = ep.Host, strings.TrimPrefix(ep.Path, "/")

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}

	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// We must force path style because bucket-named virtual hosts
		// are not compatible with explicit endpoints.
		awsConfig.WithS3ForcePathStyle(true)
	} else {
		// Real S3. Override the default http.Transport's behavior of
		// inserting "Accept-Encoding: gzip" and transparently decompressing
		// client-side.
		awsConfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Profile: args.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing S3 session: %s", err)
	}

	creds, err := awsSession.Config.Credentials.Get()
	if err != nil {
		return nil, fmt.Errorf("fetching AWS credentials for profile %q: %s", args.Profile, err)
	}

	if (awsSession.Config.Region == nil || *awsSession.Config.Region == "") && args.Region == "" {
		return nil, fmt.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"bucket":       bucket,
		"endpoint":     args.Endpoint,
		"profile":      args.Profile,
		"keyID":        creds.AccessKeyID,
		"providerName": creds.ProviderName,
	}).Info("constructed new aws.Session")

	return &store{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: awsS3.New(awsSession, awsConfig),
	}, nil
}

func (s *store) Provider() string { return "s3" }

func (s *store) SignGet(path string, d time.Duration) (string, error) {
	var getObj = awsS3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	}
	var req, _ = s.client.GetObjectRequest(&getObj)
	return req.Presign(d)
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var headObj = awsS3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	}
	if _, err := s.client.HeadObjectWithContext(ctx, &headObj); err == nil {
		return true, nil
	} else if awsErr, ok := err.(awserr.RequestFailure); ok && awsErr.StatusCode() == http.StatusNotFound {
		return false, nil
	} else {
		return false, err
	}
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var getObj = awsS3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	}
	var resp, err = s.client.GetObjectWithContext(ctx, &getObj)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentType string) error {
	// The S3 SDK requires io.ReadSeeker; io.NewSectionReader adapts io.ReaderAt.
	var putObj = awsS3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
		Body:   io.NewSectionReader(content, 0, contentLength),
	}
	if s.args.ACL != "" {
		putObj.ACL = aws.String(s.args.ACL)
	}
	if s.args.StorageClass != "" {
		putObj.StorageClass = aws.String(s.args.StorageClass)
	}
	if s.args.SSE != "" {
		putObj.ServerSideEncryption = aws.String(s.args.SSE)
	}
	if s.args.SSEKMSKeyId != "" {
		putObj.SSEKMSKeyId = aws.String(s.args.SSEKMSKeyId)
	}
	if contentType != "" {
		putObj.ContentType = aws.String(contentType)
	}
	var _, err = s.client.PutObjectWithContext(ctx, &putObj)
	return err
}

func (s *store) Copy(ctx context.Context, src, dst string) error {
	var copyObj = awsS3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.prefix + dst),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + s.prefix + src)),
	}
	var _, err = s.client.CopyObjectWithContext(ctx, &copyObj)
	return err
}

func (s *store) List(ctx context.Context, prefix string, callback func(objstore.ObjectInfo) error) error {
	prefix = s.prefix + prefix
	var q = awsS3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	var listErr error
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &q, func(objs *awsS3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range objs.Contents {
			if listErr = callback(objstore.ObjectInfo{
				Path:    strings.TrimPrefix(*obj.Key, prefix),
				Size:    *obj.Size,
				ETag:    strings.Trim(aws.StringValue(obj.ETag), `"`),
				ModTime: aws.TimeValue(obj.LastModified),
			}); listErr != nil {
				return false // Stop pagination.
			}
		}
		return true
	})
	if listErr != nil {
		return listErr
	}
	return err
}

func (s *store) Remove(ctx context.Context, path string) error {
	// S3 DeleteObject of an absent key succeeds, making Remove idempotent.
	var deleteObj = awsS3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + path),
	}
	var _, err = s.client.DeleteObjectWithContext(ctx, &deleteObj)
	return err
}

// RemoveBatch implements objstore.BatchRemover with the native DeleteObjects
// call, up to 1,000 keys per request.
func (s *store) RemoveBatch(ctx context.Context, paths []string) (removed []string, failed map[string]error) {
	const maxKeysPerRequest = 1000

	for len(paths) != 0 {
		var chunk = paths
		if len(chunk) > maxKeysPerRequest {
			chunk = chunk[:maxKeysPerRequest]
		}
		paths = paths[len(chunk):]

		var objects = make([]*awsS3.ObjectIdentifier, len(chunk))
		for i, p := range chunk {
			objects[i] = &awsS3.ObjectIdentifier{Key: aws.String(s.prefix + p)}
		}
		var resp, err = s.client.DeleteObjectsWithContext(ctx, &awsS3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &awsS3.Delete{Objects: objects},
		})
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			for _, p := range chunk {
				failed[p] = err
			}
			continue
		}
		for _, d := range resp.Deleted {
			removed = append(removed, strings.TrimPrefix(aws.StringValue(d.Key), s.prefix))
		}
		for _, e := range resp.Errors {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[strings.TrimPrefix(aws.StringValue(e.Key), s.prefix)] =
				fmt.Errorf("%s: %s", aws.StringValue(e.Code), aws.StringValue(e.Message))
		}
	}
	return removed, failed
}

// EnsureBucket implements objstore.BucketEnsurer: it creates the bucket if a
// HEAD shows it absent. MinIO deployments are commonly provisioned this way.
func (s *store) EnsureBucket(ctx context.Context) error {
	var _, err = s.client.HeadBucketWithContext(ctx, &awsS3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	if awsErr, ok := err.(awserr.RequestFailure); !ok || awsErr.StatusCode() != http.StatusNotFound {
		return err
	}
	_, err = s.client.CreateBucketWithContext(ctx, &awsS3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if awsErr, ok := err.(awserr.Error); ok &&
		(awsErr.Code() == awsS3.ErrCodeBucketAlreadyOwnedByYou || awsErr.Code() == awsS3.ErrCodeBucketAlreadyExists) {
		err = nil // Raced another initializer.
	}
	return err
}

func (s *store) IsAuthError(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case awsS3.ErrCodeNoSuchBucket, s3ErrCodeAccessDenied:
			return true
		}
	}
	if awsErr, ok := err.(awserr.RequestFailure); ok {
		if awsErr.StatusCode() == http.StatusForbidden {
			return true
		}
	}
	return false
}

func (s *store) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if request.IsErrorRetryable(err) || request.IsErrorThrottle(err) {
		return true
	}
	if awsErr, ok := err.(awserr.RequestFailure); ok {
		switch awsErr.StatusCode() {
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
