package azure

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/stretchr/testify/require"
)

func TestIsAuthErrorClassification(t *testing.T) {
	var s = &store{}

	var tests = []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ContainerNotFound is an auth error",
			err:      storageError(azblob.ServiceCodeContainerNotFound, http.StatusNotFound),
			expected: true,
		},
		{
			name:     "ContainerDisabled is an auth error",
			err:      storageError(azblob.ServiceCodeContainerDisabled, http.StatusForbidden),
			expected: true,
		},
		{
			name:     "AccountIsDisabled is an auth error",
			err:      storageError(azblob.ServiceCodeAccountIsDisabled, http.StatusForbidden),
			expected: true,
		},
		{
			name:     "403 Forbidden via storage error is an auth error",
			err:      storageError("OtherError", http.StatusForbidden),
			expected: true,
		},
		{
			name:     "401 Unauthorized is not an auth error",
			err:      storageError("InvalidCredentials", http.StatusUnauthorized),
			expected: false,
		},
		{
			name:     "generic error is not an auth error",
			err:      errors.New("timeout"),
			expected: false,
		},
		{
			name:     "nil is not an auth error",
			err:      nil,
			expected: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, s.IsAuthError(test.err))
		})
	}
}

func TestIsTransientClassification(t *testing.T) {
	var s = &store{}

	var tests = []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ServerBusy is transient",
			err:      storageError(azblob.ServiceCodeServerBusy, http.StatusServiceUnavailable),
			expected: true,
		},
		{
			name:     "InternalError is transient",
			err:      storageError(azblob.ServiceCodeInternalError, http.StatusInternalServerError),
			expected: true,
		},
		{
			name:     "429 is transient",
			err:      storageError("OtherError", http.StatusTooManyRequests),
			expected: true,
		},
		{
			name:     "503 is transient",
			err:      storageError("OtherError", http.StatusServiceUnavailable),
			expected: true,
		},
		{
			name:     "BlobNotFound is not transient",
			err:      storageError(azblob.ServiceCodeBlobNotFound, http.StatusNotFound),
			expected: false,
		},
		{
			name:     "generic error is not transient",
			err:      errors.New("timeout"),
			expected: false,
		},
		{
			name:     "nil is not transient",
			err:      nil,
			expected: false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, s.IsTransient(test.err))
		})
	}
}

func TestParseStoreArgsRejectsUnknownKeys(t *testing.T) {
	var ep, err = url.Parse("azure://container/prefix/?whoops=1")
	require.NoError(t, err)

	var args StoreQueryArgs
	require.Error(t, parseStoreArgs(ep, &args))

	ep, err = url.Parse("azure://container/prefix/")
	require.NoError(t, err)
	require.NoError(t, parseStoreArgs(ep, &args))
}

// mockStorageError implements the azblob.StorageError interface.
type mockStorageError struct {
	serviceCode azblob.ServiceCodeType
	statusCode  int
}

func (e *mockStorageError) Error() string                       { return string(e.serviceCode) }
func (e *mockStorageError) ServiceCode() azblob.ServiceCodeType { return e.serviceCode }
func (e *mockStorageError) Response() *http.Response {
	return &http.Response{StatusCode: e.statusCode}
}
func (e *mockStorageError) Temporary() bool { return false }
func (e *mockStorageError) Timeout() bool   { return false }

func storageError(serviceCode azblob.ServiceCodeType, statusCode int) azblob.StorageError {
	return &mockStorageError{serviceCode: serviceCode, statusCode: statusCode}
}
