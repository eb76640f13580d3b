package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/vault/pkg/canonicalize"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

var (
	ErrEntryNotFound = errors.New("audit: entry not found")
	ErrChainBroken   = errors.New("audit: hash chain is broken")
)

const genesis = "genesis"

// Entry is one immutable link of the audit chain.
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	Event        contracts.Event `json:"event"`
	EventHash    string          `json:"event_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Query narrows Entries results. Zero fields match everything.
type Query struct {
	Type     contracts.EventType
	Lane     contracts.Lane
	ActionID uint64
	Since    time.Time
	AfterSeq uint64
	Limit    int
}

func (q Query) matches(e *Entry) bool {
	if q.Type != "" && e.Event.Type != q.Type {
		return false
	}
	if q.Lane != "" && e.Event.Lane != q.Lane {
		return false
	}
	if q.ActionID != 0 && e.Event.ActionID != q.ActionID {
		return false
	}
	if !q.Since.IsZero() && e.Event.At.Before(q.Since) {
		return false
	}
	return e.Sequence > q.AfterSeq
}

// ChainStore is an append-only, hash-chained event log. Each entry hash is
// SHA-256 over the JCS form of (sequence, event hash, previous hash), so any
// edit to a stored event or any reordering breaks Verify.
type ChainStore struct {
	mu      sync.RWMutex
	entries []*Entry
	head    string
}

func NewChainStore() *ChainStore {
	return &ChainStore{head: genesis}
}

// Emit appends ev. Events without an id get one.
func (s *ChainStore) Emit(_ context.Context, ev contracts.Event) error {
	_, err := s.Append(ev)
	return err
}

// Append adds ev to the chain and returns the new entry.
func (s *ChainStore) Append(ev contracts.Event) (Entry, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	eventHash, err := canonicalize.CanonicalHash(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: hash event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entry{
		Sequence:     uint64(len(s.entries)) + 1,
		Event:        ev,
		EventHash:    eventHash,
		PreviousHash: s.head,
	}
	if e.EntryHash, err = entryHash(e); err != nil {
		return Entry{}, err
	}
	s.entries = append(s.entries, e)
	s.head = e.EntryHash
	return *e, nil
}

func entryHash(e *Entry) (string, error) {
	h, err := canonicalize.CanonicalHash(struct {
		Sequence     uint64 `json:"sequence"`
		EventHash    string `json:"event_hash"`
		PreviousHash string `json:"previous_hash"`
	}{e.Sequence, e.EventHash, e.PreviousHash})
	if err != nil {
		return "", fmt.Errorf("audit: hash entry %d: %w", e.Sequence, err)
	}
	return h, nil
}

// Head returns the hash of the last entry, or "genesis" for an empty chain.
func (s *ChainStore) Head() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// Len returns the number of entries.
func (s *ChainStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the entry with sequence seq.
func (s *ChainStore) Get(seq uint64) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return Entry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	return *s.entries[seq-1], nil
}

// Entries returns the entries matching q in sequence order.
func (s *ChainStore) Entries(q Query) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range s.entries {
		if !q.matches(e) {
			continue
		}
		out = append(out, *e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// Verify recomputes every hash and checks the links.
func (s *ChainStore) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prev := genesis
	for _, e := range s.entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d links to %s, expected %s", ErrChainBroken, e.Sequence, e.PreviousHash, prev)
		}
		eventHash, err := canonicalize.CanonicalHash(e.Event)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, e.Sequence, err)
		}
		if eventHash != e.EventHash {
			return fmt.Errorf("%w: entry %d event was modified", ErrChainBroken, e.Sequence)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrChainBroken, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Sequence)
		}
		prev = e.EntryHash
	}
	if prev != s.head {
		return fmt.Errorf("%w: head %s does not match last entry %s", ErrChainBroken, s.head, prev)
	}
	return nil
}
