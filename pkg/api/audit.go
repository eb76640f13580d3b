package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/audit"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

const maxAuditPage = 500

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		WriteNotFound(w, "audit chain is not enabled")
		return
	}
	q, err := auditQuery(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"head":    s.chain.Head(),
		"entries": s.chain.Entries(q),
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		WriteNotFound(w, "audit chain is not enabled")
		return
	}
	if err := s.chain.Verify(); err != nil {
		if errors.Is(err, audit.ErrChainBroken) {
			WriteConflict(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "length": s.chain.Len(), "head": s.chain.Head()})
}

func auditQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{
		Type:  contracts.EventType(v.Get("type")),
		Lane:  contracts.Lane(v.Get("lane")),
		Limit: 100,
	}
	if q.Lane != "" && !q.Lane.Valid() {
		return q, errors.New("lane must be standard or emergency")
	}
	if s := v.Get("action_id"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return q, errors.New("action_id must be an integer")
		}
		q.ActionID = id
	}
	if s := v.Get("after"); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return q, errors.New("after must be a sequence number")
		}
		q.AfterSeq = seq
	}
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errors.New("since must be an RFC 3339 timestamp")
		}
		q.Since = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = min(n, maxAuditPage)
	}
	return q, nil
}
