package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Mindburn-Labs/vault/pkg/audit"
	"github.com/Mindburn-Labs/vault/pkg/engine"
)

const maxBodyBytes = 1 << 20

// CallerFunc resolves the authenticated caller of a request.
type CallerFunc func(context.Context) (string, error)

// Server exposes an engine over HTTP.
type Server struct {
	eng        *engine.Engine
	caller     CallerFunc
	chain      *audit.ChainStore
	logger     *slog.Logger
	middleware []func(http.Handler) http.Handler
}

type ServerOption func(*Server)

// WithCaller sets how the caller identity is taken from the request
// context. Without one every engine call is rejected with 401.
func WithCaller(fn CallerFunc) ServerOption {
	return func(s *Server) { s.caller = fn }
}

// WithAuditChain exposes the hash-chained audit log under /v1/audit.
func WithAuditChain(chain *audit.ChainStore) ServerOption {
	return func(s *Server) { s.chain = chain }
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMiddleware appends handler wrappers. The first one given is the
// outermost.
func WithMiddleware(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

func NewServer(eng *engine.Engine, opts ...ServerOption) *Server {
	s := &Server{
		eng:    eng,
		logger: slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return s.accessLog(h)
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(traceRoute)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { WriteMethodNotAllowed(w) })
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "no such endpoint")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/actions", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/actions", s.handleListActions).Methods(http.MethodGet)
	v1.HandleFunc("/actions/batch-execute", s.handleBatchExecute).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}", s.handleGetAction).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id:[0-9]+}/confirmations", s.handleActionConfirmations).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{id:[0-9]+}/confirm", s.transition(s.eng.Confirm, s.eng.Action)).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/revoke", s.transition(s.eng.Revoke, s.eng.Action)).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/cancel", s.transition(s.eng.Cancel, s.eng.Action)).Methods(http.MethodPost)
	v1.HandleFunc("/actions/{id:[0-9]+}/execute", s.transition(s.eng.Execute, s.eng.Action)).Methods(http.MethodPost)

	v1.HandleFunc("/owners", s.handleOwners).Methods(http.MethodGet)
	v1.HandleFunc("/owners/{owner}/confirmations", s.handleOwnerConfirmations).Methods(http.MethodGet)
	v1.HandleFunc("/policy", s.handlePolicy).Methods(http.MethodGet)

	v1.HandleFunc("/registry/owners", s.handleAddOwner).Methods(http.MethodPost)
	v1.HandleFunc("/registry/owners/remove", s.handleRemoveOwner).Methods(http.MethodPost)
	v1.HandleFunc("/registry/quorum", s.handleSetQuorum).Methods(http.MethodPost)
	v1.HandleFunc("/registry/admins", s.handleAddAdmin).Methods(http.MethodPost)
	v1.HandleFunc("/registry/admins/remove", s.handleRemoveAdmin).Methods(http.MethodPost)
	v1.HandleFunc("/registry/tiers", s.handleSetTiers).Methods(http.MethodPost)
	v1.HandleFunc("/registry/proposals", s.handleProposeChange).Methods(http.MethodPost)

	v1.HandleFunc("/safe-mode", s.handleSafeMode).Methods(http.MethodPost)
	v1.HandleFunc("/emergency", s.handleProposeEmergency).Methods(http.MethodPost)
	v1.HandleFunc("/emergency", s.handleListEmergency).Methods(http.MethodGet)
	v1.HandleFunc("/emergency/{id:[0-9]+}", s.handleGetEmergency).Methods(http.MethodGet)
	v1.HandleFunc("/emergency/{id:[0-9]+}/execute", s.transition(s.eng.ExecuteEmergency, s.eng.EmergencyAction)).Methods(http.MethodPost)
	v1.HandleFunc("/emergency/{id:[0-9]+}/cancel", s.transition(s.eng.CancelEmergency, s.eng.EmergencyAction)).Methods(http.MethodPost)

	v1.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	v1.HandleFunc("/audit/verify", s.handleAuditVerify).Methods(http.MethodGet)
	return r
}

// traceRoute opens a server span named after the matched route template.
func traceRoute(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "vault.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					return r.Method + " " + tpl
				}
			}
			return r.Method
		}),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", w.Header().Get(requestIDHeader),
		)
	})
}

func (s *Server) callerOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.caller == nil {
		WriteUnauthorized(w, "")
		return "", false
	}
	caller, err := s.caller(r.Context())
	if err != nil || caller == "" {
		WriteUnauthorized(w, "")
		return "", false
	}
	return caller, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "request body exceeds 1MB")
			return false
		}
		WriteBadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		WriteBadRequest(w, "action id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.eng.SafeMode(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
