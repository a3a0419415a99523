// Package web provides an HTTP status server for the pin-monitor daemon.
package web

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"

	"github.com/sweeney/pin-monitor/internal/status"
)

// StatusWriter renders a plain text diagnostics dump.
type StatusWriter interface {
	WriteStatus(w io.Writer) error
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	dump       StatusWriter
}

// New creates a Server that reads state from the given tracker. dump may be
// nil, in which case /status.txt is not served.
func New(addr string, tracker *status.Tracker, dump StatusWriter) *Server {
	s := &Server{tracker: tracker, dump: dump}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/status.txt", s.handleText)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	if s.dump == nil {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	if err := s.dump.WriteStatus(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}
