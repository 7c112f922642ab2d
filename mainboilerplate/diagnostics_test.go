package mainboilerplate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDiagnosticsAndRecover(t *testing.T) {
	var cleanup = InitDiagnosticsAndRecover(DiagnosticsConfig{})

	// Liveness and metrics handlers are registered on the default ServeMux.
	var w = httptest.NewRecorder()
	http.DefaultServeMux.ServeHTTP(w, httptest.NewRequest("GET", "/debug/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	http.DefaultServeMux.ServeHTTP(w, httptest.NewRequest("GET", "/debug/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")

	// Initializing twice must not panic on duplicate handler registration.
	_ = InitDiagnosticsAndRecover(DiagnosticsConfig{})

	// The returned closure recovers a panic and re-raises it.
	require.Panics(t, func() {
		defer cleanup()
		panic("boom")
	})
}
