package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxKeys bounds how many retired verification keys a KeySet keeps.
const maxKeys = 4

var ErrNoActiveKey = errors.New("identity: no active signing key")

// KeySet manages the active signing key and verification of recent keys,
// so keys can rotate without invalidating tokens already issued.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

type signingKey struct {
	kid     string
	private ed25519.PrivateKey
	added   time.Time
}

// InMemoryKeySet holds Ed25519 keys in memory.
type InMemoryKeySet struct {
	mu      sync.RWMutex
	current string
	keys    map[string]signingKey
	order   []string
}

// NewInMemoryKeySet creates a key set with one freshly generated key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]signingKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// NewSeedKeySet creates a key set from a 32-byte Ed25519 seed. The key id
// is derived from the public key, so every process loading the same seed
// signs and verifies with the same kid.
func NewSeedKeySet(seed []byte) (*InMemoryKeySet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	ks := &InMemoryKeySet{keys: make(map[string]signingKey)}
	ks.add(ed25519.NewKeyFromSeed(seed))
	return ks, nil
}

// ParseSeed accepts a hex or base64 (standard or URL alphabet) seed.
func ParseSeed(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
			return b, nil
		}
	}
	return nil, fmt.Errorf("identity: seed is not a %d-byte hex or base64 value", ed25519.SeedSize)
}

// LoadSeedFile reads a seed written by ParseSeed-compatible tooling.
func LoadSeedFile(path string) (*InMemoryKeySet, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("identity: read seed: %w", err)
	}
	seed, err := ParseSeed(string(raw))
	if err != nil {
		return nil, err
	}
	return NewSeedKeySet(seed)
}

// Rotate generates a new active key. Older keys keep verifying until they
// fall out of the retention window.
func (ks *InMemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("identity: generate key: %w", err)
	}
	ks.add(priv)
	return nil
}

func (ks *InMemoryKeySet) add(priv ed25519.PrivateKey) {
	sum := sha256.Sum256(priv.Public().(ed25519.PublicKey))
	kid := hex.EncodeToString(sum[:8])

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.keys[kid]; !ok {
		ks.order = append(ks.order, kid)
	}
	ks.keys[kid] = signingKey{kid: kid, private: priv, added: time.Now()}
	ks.current = kid

	for len(ks.order) > maxKeys {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
}

// CurrentKID returns the id of the active signing key.
func (ks *InMemoryKeySet) CurrentKID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.current
}

func (ks *InMemoryKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key, ok := ks.keys[ks.current]
	ks.mu.RUnlock()
	if !ok {
		return "", ErrNoActiveKey
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = key.kid
	return token.SignedString(key.private)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.private.Public(), nil
	}
}
