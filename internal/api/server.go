// Package api serves the Control API over loopback HTTP and provides the
// client the CLI uses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"foldguard/internal/guard"
)

// Performer runs a Preventable operation through the interceptor.
type Performer interface {
	Perform(ctx context.Context, op guard.Operation) (guard.Decision, error)
}

// Server exposes a guard.Service.
type Server struct {
	svc       *guard.Service
	performer Performer
	metrics   http.Handler
	logger    guard.Logger

	// OnRegistryChange runs after a successful registry mutation.
	OnRegistryChange func()
}

func NewServer(svc *guard.Service, performer Performer, metrics http.Handler, logger guard.Logger) *Server {
	if logger == nil {
		logger = guard.NewNopLogger()
	}
	return &Server{svc: svc, performer: performer, metrics: metrics, logger: logger}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("POST /protection/toggle", s.toggle)

	mux.HandleFunc("GET /protected-paths", s.listPaths)
	mux.HandleFunc("POST /protected-paths", s.protect)
	mux.HandleFunc("DELETE /protected-paths/{path...}", s.unprotect)
	mux.HandleFunc("PATCH /protected-paths/{path...}", s.setEnabled)

	mux.HandleFunc("GET /activity", s.activity)
	mux.HandleFunc("GET /snapshots", s.snapshots)
	mux.HandleFunc("POST /restore", s.restore)

	mux.HandleFunc("POST /scan", s.startScan)
	mux.HandleFunc("GET /scan/{id}", s.scanJob)
	mux.HandleFunc("DELETE /scan/{id}", s.cancelScan)

	mux.HandleFunc("POST /operations", s.submit)
	mux.HandleFunc("POST /operations/{id}/confirm", s.confirm)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("control API listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	healthy, reason := s.svc.Health.State()
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"healthy": healthy, "reason": reason})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		s.fail(w, r, fmt.Errorf("%w: enabled is required", guard.ErrInvalidRequest))
		return
	}
	if _, err := s.svc.SetProtection(r.Context(), *req.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPaths(w http.ResponseWriter, r *http.Request) {
	list := s.svc.ProtectedPaths()
	if list == nil {
		list = []guard.ProtectedPath{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ProtectRequest registers a path.
type ProtectRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

func (s *Server) protect(w http.ResponseWriter, r *http.Request) {
	var req ProtectRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.svc.Protect(r.Context(), req.Path, req.Recursive)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.registryChanged()
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) unprotect(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Unprotect(r.Context(), pathParam(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	s.registryChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		s.fail(w, r, fmt.Errorf("%w: enabled is required", guard.ErrInvalidRequest))
		return
	}
	entry, err := s.svc.SetPathEnabled(r.Context(), pathParam(r), *req.Enabled)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.registryChanged()
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseActivityFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.svc.QueryActivity(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []guard.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseActivityFilter(r *http.Request) (guard.ActivityFilter, error) {
	q := r.URL.Query()
	filter := guard.ActivityFilter{
		PathPrefix: q.Get("path"),
		Kind:       guard.OperationKind(q.Get("kind")),
		Resolution: guard.Resolution(q.Get("resolution")),
	}
	var err error
	if filter.Since, err = parseTime(q.Get("since")); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTime(q.Get("until")); err != nil {
		return filter, err
	}
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		return filter, err
	}
	return filter, nil
}

func (s *Server) snapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snaps, err := s.svc.Snapshots(r.Context(), r.URL.Query().Get("path"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []guard.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// RestoreResponse lists the paths a restore wrote.
type RestoreResponse struct {
	RestoredPaths []string `json:"restoredPaths"`
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	var req guard.RestoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	paths, err := s.svc.Restore(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, RestoreResponse{RestoredPaths: paths})
}

type scanRequest struct {
	Path string `json:"path"`
}

// ScanStarted is the reply to POST /scan.
type ScanStarted struct {
	JobID string `json:"jobId"`
}

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	job, err := s.svc.StartScan(req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ScanStarted{JobID: job.ID})
}

func (s *Server) scanJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.ScanJob(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.CancelScan(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// OperationRequest submits a destructive action through the Preventable
// hook.
type OperationRequest struct {
	Kind       guard.OperationKind `json:"kind"`
	SourcePath string              `json:"sourcePath"`
	DestPath   string              `json:"destPath,omitempty"`
	Actor      string              `json:"actor,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req OperationRequest
	if !s.decode(w, r, &req) {
		return
	}
	op := guard.Operation{Kind: req.Kind, SourcePath: req.SourcePath, DestPath: req.DestPath, Actor: req.Actor}

	var d guard.Decision
	var err error
	if s.performer != nil {
		d, err = s.performer.Perform(r.Context(), op)
	} else {
		op.Mode = guard.ModePreventable
		d, err = s.svc.Submit(r.Context(), op)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type confirmRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	rec, err := s.svc.ConfirmDelete(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) registryChanged() {
	if s.OnRegistryChange != nil {
		s.OnRegistryChange()
	}
}

// pathParam restores the leading separator the route pattern consumes.
func pathParam(r *http.Request) string {
	return "/" + r.PathValue("path")
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q", guard.ErrInvalidRequest, v)
	}
	return t, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad limit %q", guard.ErrInvalidRequest, v)
	}
	return n, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", guard.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, ErrorBody{Error: guard.ErrorCode(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
