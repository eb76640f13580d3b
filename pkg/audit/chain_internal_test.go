package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

func TestVerify_DetectsTampering(t *testing.T) {
	tests := map[string]func(s *ChainStore){
		"edited event":  func(s *ChainStore) { s.entries[0].Event.Actor = "mallory" },
		"relinked":      func(s *ChainStore) { s.entries[1].PreviousHash = genesis },
		"dropped entry": func(s *ChainStore) { s.entries = s.entries[:1] },
		"reordered":     func(s *ChainStore) { s.entries[0], s.entries[1] = s.entries[1], s.entries[0] },
	}
	for name, tamper := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewChainStore()
			_, err := s.Append(contracts.Event{Type: contracts.EventSubmitted, ActionID: 1, Actor: "alice"})
			require.NoError(t, err)
			_, err = s.Append(contracts.Event{Type: contracts.EventConfirmed, ActionID: 1, Actor: "bob"})
			require.NoError(t, err)
			require.NoError(t, s.Verify())

			tamper(s)
			assert.ErrorIs(t, s.Verify(), ErrChainBroken)
		})
	}
}
