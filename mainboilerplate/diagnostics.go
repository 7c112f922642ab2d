package mainboilerplate

import (
	_ "expvar" // Serves /debug/vars.
	"fmt"
	"net/http"
	_ "net/http/pprof" // Serves /debug/pprof.
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures pull-based metrics and debugging services.
type DiagnosticsConfig struct {
	// Addr is an optional local address (eg "localhost:8090") on which
	// metrics and debugging handlers are served while the program runs.
	// Empty disables the listener; handlers are still registered for
	// programs which serve the default ServeMux themselves.
	Addr string `long:"addr" env:"ADDR" description:"Address for serving metrics and debugging handlers. Disabled if empty"`
}

// InitDiagnosticsAndRecover registers metrics and debugging handlers on the
// default ServeMux, serves them if cfg.Addr is set, and returns a closure to
// be deferred by the caller which recovers a panic and attempts to record a
// Kubernetes termination message before re-panicking.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig) func() {
	registerDebugHandlers()

	if cfg.Addr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
				log.WithFields(log.Fields{"err": err, "addr": cfg.Addr}).
					Error("failed to serve diagnostics")
			}
		}()
	}

	return func() {
		if r := recover(); r != nil {
			// Best effort. See https://github.com/kubernetes/kubernetes/issues/31839
			if f, err := os.OpenFile(k8sTerminationLog, os.O_WRONLY, 0777); err == nil {
				fmt.Fprintf(f, "%+v", r)
				f.Close()
			}
			panic(r)
		}
	}
}

var registerDebugOnce sync.Once

// registerDebugHandlers installs liveness and metrics handlers on the default
// ServeMux, alongside the /debug/pprof and /debug/vars handlers installed by
// imports. It is safe to call more than once.
func registerDebugHandlers() {
	registerDebugOnce.Do(func() {
		// Liveness check at /debug/ready.
		http.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		// Prometheus metrics at /debug/metrics.
		http.Handle("/debug/metrics", promhttp.Handler())
	})
}

// Must panics if |err| is non-nil, logging |msg| and |extra| as fields of the
// generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// k8sTerminationLog is where Kubernetes reads a container termination message.
// See https://kubernetes.io/docs/tasks/debug-application-cluster/determine-reason-pod-failure/
const k8sTerminationLog = "/dev/termination-log"
