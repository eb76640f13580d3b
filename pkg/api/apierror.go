// Package api serves the vault engine over HTTP. Errors use RFC 7807
// Problem Details.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

const problemBase = "https://vault.mindburn.dev/errors/"

// requestIDHeader mirrors auth.RequestIDHeader; the request id middleware
// sets it on the response before handlers run.
const requestIDHeader = "X-Request-ID"

// ProblemDetail is an RFC 7807 problem. Every API error response uses it.
// Code carries the engine error kind when the engine produced the error.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// problemType returns the type URI for a status, e.g. ".../errors/not-found".
func problemType(status int) string {
	slug := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "-"))
	if slug == "" {
		slug = strconv.Itoa(status)
	}
	return problemBase + slug
}

func newProblem(status int, title, detail string) *ProblemDetail {
	if title == "" {
		title = http.StatusText(status)
	}
	return &ProblemDetail{Type: problemType(status), Title: title, Status: status, Detail: detail}
}

// withRequest fills the occurrence fields from the request.
func (p *ProblemDetail) withRequest(w http.ResponseWriter, r *http.Request) *ProblemDetail {
	p.Instance = r.URL.Path
	p.TraceID = w.Header().Get(requestIDHeader)
	return p
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	writeProblemBody(w, problem.Status, problem)
}

// writeProblemBody writes body, a problem possibly carrying extension
// members, as application/problem+json.
func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes a problem response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, newProblem(status, title, detail))
}

// WriteErrorR is WriteError plus instance and trace id from the request.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, newProblem(status, title, detail).withRequest(w, r))
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "", detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "", detail)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "", "The HTTP method is not supported for this endpoint")
}

func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "", detail)
}

// WriteTooManyRequests writes a 429 with a Retry-After of at least one second.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(max(retryAfterSecs, 1)))
	WriteError(w, http.StatusTooManyRequests, "", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal logs err and writes a 500 that never exposes it.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "", "An unexpected error occurred. Please try again later.")
}

// kindStatus maps engine error kinds to HTTP statuses.
var kindStatus = map[string]int{
	"not_authorized":             http.StatusForbidden,
	"not_found":                  http.StatusNotFound,
	"invalid_state":              http.StatusConflict,
	"already_confirmed":          http.StatusConflict,
	"not_confirmed":              http.StatusConflict,
	"not_ready":                  http.StatusConflict,
	"expired":                    http.StatusConflict,
	"insufficient_confirmations": http.StatusConflict,
	"quorum_violation":           http.StatusUnprocessableEntity,
	"delay_out_of_range":         http.StatusUnprocessableEntity,
	"invalid_target":             http.StatusUnprocessableEntity,
	"invalid_owner":              http.StatusUnprocessableEntity,
	"invalid_tiers":              http.StatusUnprocessableEntity,
	"execution_failed":           http.StatusBadGateway,
}

// StatusFor returns the HTTP status for an engine error.
func StatusFor(err error) int {
	if status, ok := kindStatus[contracts.Kind(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteEngineError writes an engine error as a problem typed and coded by
// its error kind. Errors without a known kind become an opaque 500.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	p, ok := engineProblem(w, r, err)
	if !ok {
		WriteInternal(w, err)
		return
	}
	writeProblem(w, p)
}

// engineProblem builds the problem for an engine error. ok is false for
// errors without a known kind.
func engineProblem(w http.ResponseWriter, r *http.Request, err error) (*ProblemDetail, bool) {
	kind := contracts.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		return nil, false
	}
	p := newProblem(status, "", err.Error()).withRequest(w, r)
	p.Type = problemBase + strings.ReplaceAll(kind, "_", "-")
	p.Code = kind
	return p, true
}
