// Package pprof is separated out from telemetry to isolate pprof's init
// side effect: it's pulled in by the CLI binary, but not by anything that
// embeds this module's coordination core without wanting a profiling
// endpoint.
package pprof

import (
	"net/http"

	pprof "net/http/pprof"
)

// WithProfile returns a mux serving the standard pprof endpoints, meant to
// be mounted under /debug/pprof by telemetry.Start.
func WithProfile() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return mux
}
