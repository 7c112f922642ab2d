package gcs

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestIsAuthErrorClassification(t *testing.T) {
	var s = &store{}

	require.True(t, s.IsAuthError(storage.ErrBucketNotExist))
	require.True(t, s.IsAuthError(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, s.IsAuthError(&googleapi.Error{Code: http.StatusNotFound}))
	require.False(t, s.IsAuthError(errors.New("connection timeout")))
	require.False(t, s.IsAuthError(nil))
}

func TestIsTransientClassification(t *testing.T) {
	var s = &store{}

	require.True(t, s.IsTransient(&googleapi.Error{Code: http.StatusTooManyRequests}))
	require.True(t, s.IsTransient(&googleapi.Error{Code: http.StatusServiceUnavailable}))
	require.False(t, s.IsTransient(&googleapi.Error{Code: http.StatusNotFound}))
	require.False(t, s.IsTransient(storage.ErrObjectNotExist))
	require.False(t, s.IsTransient(nil))
}

func TestParseStoreArgsRejectsUnknownKeys(t *testing.T) {
	var ep, err = url.Parse("gs://content/generations/?bogus=1")
	require.NoError(t, err)

	var args StoreQueryArgs
	require.Error(t, parseStoreArgs(ep, &args))
}
