package api

import (
	"net/http"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// MemberBody names a registry member and, for owner changes, the quorum to
// apply alongside the change.
type MemberBody struct {
	ID     string `json:"id"`
	Quorum int    `json:"quorum,omitempty"`
}

type QuorumBody struct {
	Quorum int `json:"quorum"`
}

type TiersBody struct {
	Tiers []contracts.Tier `json:"tiers"`
}

type SafeModeBody struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.eng.Owners(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"owners": owners})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.Policy(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// registryCall decodes body, runs apply with the caller, and answers with
// the resulting policy.
func registryCall[T any](s *Server, apply func(*http.Request, string, T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := s.callerOf(w, r)
		if !ok {
			return
		}
		var body T
		if !decodeJSON(w, r, &body) {
			return
		}
		if err := apply(r, caller, body); err != nil {
			WriteEngineError(w, r, err)
			return
		}
		s.handlePolicy(w, r)
	}
}

func (s *Server) handleAddOwner(w http.ResponseWriter, r *http.Request) {
	registryCall(s, func(r *http.Request, caller string, b MemberBody) error {
		return s.eng.AddOwner(r.Context(), caller, b.ID, b.Quorum)
	})(w, r)
}

func (s *Server) handleRemoveOwner(w http.ResponseWriter, r *http.Request) {
	registryCall(s, func(r *http.Request, caller string, b MemberBody) error {
		return s.eng.RemoveOwner(r.Context(), caller, b.ID, b.Quorum)
	})(w, r)
}

func (s *Server) handleSetQuorum(w http.ResponseWriter, r *http.Request) {
	registryCall(s, func(r *http.Request, caller string, b QuorumBody) error {
		return s.eng.SetQuorum(r.Context(), caller, b.Quorum)
	})(w, r)
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	registryCall(s, func(r *http.Request, caller string, b MemberBody) error {
		return s.eng.AddAdmin(r.Context(), caller, b.ID)
	})(w, r)
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	registryCall(s, func(r *http.Request, caller string, b MemberBody) error {
		return s.eng.RemoveAdmin(r.Context(), caller, b.ID)
	})(w, r)
}

func (s *Server) handleSetTiers(w http.ResponseWriter, r *http.Request) {
	registryCall(s, func(r *http.Request, caller string, b TiersBody) error {
		return s.eng.SetTiers(r.Context(), caller, b.Tiers)
	})(w, r)
}

// handleProposeChange submits a registry change as a governed action.
func (s *Server) handleProposeChange(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.callerOf(w, r)
	if !ok {
		return
	}
	var change contracts.RegistryChange
	if !decodeJSON(w, r, &change) {
		return
	}
	id, err := s.eng.ProposeChange(r.Context(), caller, change)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	s.writeView(w, r, http.StatusCreated, id, s.eng.Action)
}

func (s *Server) handleSafeMode(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.callerOf(w, r)
	if !ok {
		return
	}
	var body SafeModeBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.eng.SetSafeMode(r.Context(), caller, body.Enabled); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"safe_mode": body.Enabled})
}
