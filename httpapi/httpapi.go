// Package httpapi is the synchronous HTTP control surface (spec.md §6):
// job submission/listing/stop/logs/stats, system status, cleanup, and the
// WebSocket log-stream endpoint, all guarded by a single shared API key
// compared in constant time. Routing follows the teacher's turbo.Router
// the way nandlabs-golly's own rest package does.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trailcast/orchestrator/jobmanager"
	"github.com/trailcast/orchestrator/keypool"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/monitor"
	"github.com/trailcast/orchestrator/storagepolicy"
	"github.com/trailcast/orchestrator/turbo"
	"github.com/trailcast/orchestrator/wsfanout"
)

var logger = l3.Get()

// Server wires the Job Manager, Key Pool, Storage Policy Engine, Monitor
// Loop, and WebSocket Fan-out behind one turbo.Router (spec.md §6).
type Server struct {
	router   *turbo.Router
	http     *http.Server
	apiKey   string
	jobs     jobmanager.Manager
	keys     keypool.Pool
	policy   storagepolicy.Engine
	monitor  monitor.Loop
	fanout   wsfanout.Fanout
	upgrader websocket.Upgrader
}

// New constructs the HTTP control surface listening on addr.
func New(addr, apiKey string, jobs jobmanager.Manager, keys keypool.Pool, policy storagepolicy.Engine, mon monitor.Loop, fanout wsfanout.Fanout) *Server {
	s := &Server{
		router:  turbo.NewRouter(),
		apiKey:  apiKey,
		jobs:    jobs,
		keys:    keys,
		policy:  policy,
		monitor: mon,
		fanout:  fanout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// every path-variable segment directly under "jobs" is registered as
	// {id}: turbo.Router tracks one variable child per node, so /execute,
	// /stop, /logs and /logs/stream all share that single var node and
	// differ only in their own literal subtree below it. /jobs/stats stays
	// a literal sibling, matched before the var child (see turbo.Router.findRoute).
	s.router.Get("/jobs", s.authed(s.listJobs))
	s.router.Post("/jobs/{id}/execute", s.authed(s.executeJob))
	s.router.Get("/jobs/{id}", s.authed(s.getJob))
	s.router.Post("/jobs/{id}/stop", s.authed(s.stopJob))
	s.router.Get("/jobs/{id}/logs", s.authed(s.jobLogs))
	s.router.Get("/jobs/stats", s.authed(s.jobStats))
	s.router.Get("/system/status", s.authed(s.systemStatus))
	s.router.Post("/system/cleanup", s.authed(s.cleanup))
	// the WebSocket handshake carries its own api_key query check inside
	// wsfanout.Fanout.Connect, so it is intentionally not wrapped in authed.
	s.router.Get("/jobs/{id}/logs/stream", s.streamLogs)
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	logger.InfoF("httpapi: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down, waiting up to 10 seconds for
// in-flight requests to finish.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// authed wraps h with the shared-API-key constant-time check (spec.md §6
// "guarded by a single shared API key supplied via header or query
// parameter (constant-time compare)").
func (s *Server) authed(h func(w http.ResponseWriter, r *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("X-API-Key")
		if supplied == "" {
			supplied = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorF("httpapi: encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) pathParam(r *http.Request, name string) string {
	val, err := s.router.GetPathParams(name, r)
	if err != nil {
		return ""
	}
	return val
}
