// Package proxy implements the reverse-proxy data path (spec.md §4.F): for
// each inbound request it asks the Dispatcher for a Worker, forwards the
// request transparently, and releases per-worker accounting on every exit
// path exactly once.
//
// Built on net/http/httputil.ReverseProxy with a custom Director and
// ModifyResponse/ErrorHandler hooks — the idiomatic standard-library way to
// build a transparent HTTP reverse proxy in Go. This is the one place in
// this repository where no pack example offers a reverse-proxy pattern to
// imitate (the teacher proxies jobs through a queue, not HTTP requests
// transparently), so the standard library is the correct idiomatic tool.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"fleetkeeper/internal/dispatcher"
	"fleetkeeper/internal/worker"
	"fleetkeeper/pkg/logger"
)

const upstreamTimeout = 30 * time.Second

// Proxy is an http.Handler implementing the transparent data path.
type Proxy struct {
	Dispatcher *dispatcher.Dispatcher
	Registry   *worker.Registry

	// Timeout bounds how long the upstream worker has to complete a
	// response. Exposed for tests; defaults to upstreamTimeout.
	Timeout time.Duration
}

// New builds a Proxy over the given Dispatcher and Registry (the latter is
// needed only for the 503 body's total/healthy counts).
func New(d *dispatcher.Dispatcher, registry *worker.Registry) *Proxy {
	return &Proxy{Dispatcher: d, Registry: registry, Timeout: upstreamTimeout}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Step 1: ask the Dispatcher for a worker.
	selected := p.Dispatcher.Pick()
	if selected == nil {
		p.writeNoHealthy(w)
		return
	}

	// Step 2: accounting already incremented by Pick (via the registry's
	// atomic pick+increment). Capture t0 for latency measurement.
	t0 := time.Now()

	tracked := &trackingResponseWriter{ResponseWriter: w}
	done := make(chan struct{})
	var success bool
	var upstreamErr error
	var isTimeout bool
	var bodyAborted bool

	func() {
		defer close(done)
		// httputil.ReverseProxy does not route every failure through
		// ErrorHandler: once response headers have already been written to
		// the client, a body-copy failure (the worker crashing or closing
		// its connection mid-response) closes res.Body and panics with
		// http.ErrAbortHandler instead. Left uncaught, that panic unwinds
		// straight past the accounting release below and is only ever
		// caught by the outer gin recovery middleware, by which point
		// selected's active_requests has already leaked. Recover locally so
		// the release always runs exactly once, as spec.md §4.F requires.
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					bodyAborted = true
					return
				}
				panic(rec)
			}
		}()

		ctx, cancel := context.WithTimeout(r.Context(), p.Timeout)
		defer cancel()

		target := &url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", selected.Port)}
		rp := &httputil.ReverseProxy{
			Director: func(req *http.Request) {
				req.URL.Scheme = target.Scheme
				req.URL.Host = target.Host
				req.Host = target.Host
				req.URL.Path = r.URL.Path
				req.URL.RawQuery = r.URL.RawQuery
			},
			ModifyResponse: func(resp *http.Response) error {
				success = true
				return nil
			},
			ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
				upstreamErr = err
				if errors.Is(err, context.DeadlineExceeded) {
					isTimeout = true
				}
			},
		}

		rp.ServeHTTP(tracked, r.WithContext(ctx))
	}()
	<-done

	// Steps 5/6/7: release accounting exactly once, synchronously, before
	// this handler returns — this is what linearizes the decrement with
	// the autoscaler's snapshot reads (spec.md §4.F closing paragraph).
	latencyMS := time.Since(t0).Milliseconds()

	switch {
	case bodyAborted:
		// Headers were already flushed to the client (success was set
		// before the copy failed), but the body never finished: this is
		// not a successful completion, so response_time_ms is left
		// unchanged (spec.md §4.F step 5) and the client connection is
		// already broken — nothing left to write.
		p.Dispatcher.Done(selected, false, 0)
	case success:
		p.Dispatcher.Done(selected, true, latencyMS)
	case isTimeout:
		p.Dispatcher.Done(selected, false, 0)
		if !tracked.headerSent {
			p.writeJSON(w, http.StatusGatewayTimeout, map[string]string{
				"error":   "Gateway Timeout",
				"message": "Backend server timeout",
			})
		}
	case upstreamErr != nil:
		p.Dispatcher.Done(selected, false, 0)
		if !tracked.headerSent {
			p.writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":   "Bad Gateway",
				"message": "Backend server error",
			})
		}
	default:
		// ModifyResponse never ran and ErrorHandler never ran: treat as a
		// successful pass-through (rare, but accounting must still clear).
		p.Dispatcher.Done(selected, true, latencyMS)
	}
}

func (p *Proxy) writeNoHealthy(w http.ResponseWriter) {
	snapshot := p.Registry.Snapshot()
	healthy := 0
	for _, wk := range snapshot {
		if wk.IsDispatchable() {
			healthy++
		}
	}
	p.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"error":     "No healthy backend servers available",
		"instances": len(snapshot),
		"healthy":   healthy,
	})
}

func (p *Proxy) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("proxy: failed to write error body: " + err.Error())
	}
}

// trackingResponseWriter records whether headers have already been flushed
// to the client, so the 502/504 paths never attempt to alter an in-flight
// response (spec.md §4.F step 6: "If client headers already sent, terminate
// the response stream without altering status").
type trackingResponseWriter struct {
	http.ResponseWriter
	headerSent bool
}

func (t *trackingResponseWriter) WriteHeader(status int) {
	t.headerSent = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *trackingResponseWriter) Write(b []byte) (int, error) {
	t.headerSent = true
	return t.ResponseWriter.Write(b)
}
