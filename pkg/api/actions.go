package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/engine"
)

// SubmitBody is the POST /v1/actions request. Payload is base64 in JSON and
// Delay uses Go duration syntax ("36h").
type SubmitBody struct {
	Target  string `json:"target"`
	Value   uint64 `json:"value"`
	Payload []byte `json:"payload,omitempty"`
	Delay   string `json:"delay,omitempty"`
}

// IDList carries action ids in requests and responses.
type IDList struct {
	IDs []uint64 `json:"ids"`
}

// BatchItem is one entry of a batch-execute response.
type BatchItem struct {
	ID     uint64             `json:"id"`
	Status engine.BatchStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
	Code   string             `json:"code,omitempty"`
}

// BatchProblem is the problem returned when a batch aborts part way. Results
// lists the items processed before the abort; they are not undone.
type BatchProblem struct {
	ProblemDetail
	Results []BatchItem `json:"results"`
}

func batchItems(results []engine.BatchResult) []BatchItem {
	items := make([]BatchItem, 0, len(results))
	for _, res := range results {
		item := BatchItem{ID: res.ID, Status: res.Status}
		if res.Err != nil {
			item.Code = contracts.Kind(res.Err)
			if item.Code != "internal" {
				item.Error = res.Err.Error()
			}
		}
		items = append(items, item)
	}
	return items
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.callerOf(w, r)
	if !ok {
		return
	}
	var body SubmitBody
	if !decodeJSON(w, r, &body) {
		return
	}
	var delay time.Duration
	if body.Delay != "" {
		d, err := time.ParseDuration(body.Delay)
		if err != nil || d < 0 {
			WriteBadRequest(w, "delay must be a non-negative duration such as \"36h\"")
			return
		}
		delay = d
	}

	id, err := s.eng.Submit(r.Context(), caller, engine.SubmitRequest{
		Target:  body.Target,
		Value:   body.Value,
		Payload: body.Payload,
		Delay:   delay,
	})
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	s.writeView(w, r, http.StatusCreated, id, s.eng.Action)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writeView(w, r, http.StatusOK, id, s.eng.Action)
}

func (s *Server) handleGetEmergency(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writeView(w, r, http.StatusOK, id, s.eng.EmergencyAction)
}

func (s *Server) writeView(w http.ResponseWriter, r *http.Request, status int, id uint64,
	lookup func(context.Context, uint64) (contracts.ActionView, error)) {
	v, err := lookup(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

// transition adapts a caller-scoped engine operation on one action into a
// handler that responds with the action's updated view.
func (s *Server) transition(op func(context.Context, string, uint64) error,
	lookup func(context.Context, uint64) (contracts.ActionView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := s.callerOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), caller, id); err != nil {
			WriteEngineError(w, r, err)
			return
		}
		s.writeView(w, r, http.StatusOK, id, lookup)
	}
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var (
		ids []uint64
		err error
	)
	switch strings.ToLower(r.URL.Query().Get("state")) {
	case "", "pending":
		ids, err = s.eng.PendingIDs(r.Context())
	case "executed":
		ids, err = s.eng.ExecutedIDs(r.Context())
	default:
		WriteBadRequest(w, "state must be pending or executed")
		return
	}
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDList{IDs: nonNil(ids)})
}

func (s *Server) handleListEmergency(w http.ResponseWriter, r *http.Request) {
	state := contracts.State(strings.ToUpper(r.URL.Query().Get("state")))
	if state == "" {
		state = contracts.StatePending
	}
	ids, err := s.eng.EmergencyIDs(r.Context(), state)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDList{IDs: nonNil(ids)})
}

func (s *Server) handleActionConfirmations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	owners, err := s.eng.Confirmations(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	if owners == nil {
		owners = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"owners": owners})
}

func (s *Server) handleOwnerConfirmations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.eng.ConfirmationsBy(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDList{IDs: nonNil(ids)})
}

func (s *Server) handleBatchExecute(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.callerOf(w, r)
	if !ok {
		return
	}
	var body IDList
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.IDs) == 0 {
		WriteBadRequest(w, "ids must not be empty")
		return
	}

	results, err := s.eng.BatchExecute(r.Context(), caller, body.IDs)
	items := batchItems(results)
	if err != nil {
		p, ok := engineProblem(w, r, err)
		if !ok {
			s.logger.ErrorContext(r.Context(), "batch aborted", "processed", len(items), "error", err)
			WriteInternal(w, err)
			return
		}
		writeProblemBody(w, p.Status, BatchProblem{ProblemDetail: *p, Results: items})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]BatchItem{"results": items})
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
