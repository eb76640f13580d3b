// Package canonicalize produces RFC 8785 (JCS) canonical JSON and digests
// over it. Audit chain entries use SHA-256; action digests use Keccak-256.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
)

// JCS returns the canonical JSON encoding of v. Struct json tags apply.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal %T: %w", v, err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs: %w", err)
	}
	return out, nil
}

func digest(v any, h hash.Hash) ([]byte, error) {
	b, err := JCS(v)
	if err != nil {
		return nil, err
	}
	h.Write(b)
	return h.Sum(nil), nil
}

// CanonicalHash is the hex SHA-256 of v's canonical form.
func CanonicalHash(v any) (string, error) {
	sum, err := digest(v, sha256.New())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// HashBytes is the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Keccak256 is the 0x-prefixed legacy Keccak-256 of v's canonical form, the
// digest format multisig wallets use for transaction hashes.
func Keccak256(v any) (string, error) {
	sum, err := digest(v, sha3.NewLegacyKeccak256())
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sum), nil
}
