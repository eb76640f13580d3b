package api

import (
	"net/http"

	"github.com/Mindburn-Labs/vault/pkg/engine"
)

type EmergencyBody struct {
	Target  string `json:"target"`
	Value   uint64 `json:"value"`
	Payload []byte `json:"payload,omitempty"`
}

func (s *Server) handleProposeEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.callerOf(w, r)
	if !ok {
		return
	}
	var body EmergencyBody
	if !decodeJSON(w, r, &body) {
		return
	}
	id, err := s.eng.ProposeEmergency(r.Context(), caller, engine.EmergencyRequest{
		Target:  body.Target,
		Value:   body.Value,
		Payload: body.Payload,
	})
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	s.writeView(w, r, http.StatusCreated, id, s.eng.EmergencyAction)
}
