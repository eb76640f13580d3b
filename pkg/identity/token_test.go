package identity

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	raw, err := tm.Issue(context.Background(), "alice", []string{RoleOperator}, time.Hour)
	require.NoError(t, err)

	claims, err := tm.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.True(t, claims.HasRole(RoleOperator))
	assert.False(t, claims.HasRole("root"))
	assert.Equal(t, DefaultIssuer, claims.Issuer)
}

func TestIssueRejectsBadInput(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	_, err = tm.Issue(context.Background(), "  ", nil, time.Hour)
	assert.ErrorIs(t, err, ErrEmptySubject)
	_, err = tm.Issue(context.Background(), "alice", nil, 0)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tm := NewTokenManager(ks, WithClock(clock))

	raw, err := tm.Issue(context.Background(), "alice", nil, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tm.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongIssuerAndKey(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	other, err := NewInMemoryKeySet()
	require.NoError(t, err)

	raw, err := NewTokenManager(ks, WithIssuer("elsewhere")).Issue(context.Background(), "alice", nil, time.Hour)
	require.NoError(t, err)
	_, err = NewTokenManager(ks).Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	raw, err = NewTokenManager(other).Issue(context.Background(), "alice", nil, time.Hour)
	require.NoError(t, err)
	_, err = NewTokenManager(ks).Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "unknown kid")

	_, err = NewTokenManager(ks).Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRotationKeepsRecentKeys(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	old, err := tm.Issue(context.Background(), "alice", nil, time.Hour)
	require.NoError(t, err)
	first := ks.CurrentKID()

	require.NoError(t, ks.Rotate())
	assert.NotEqual(t, first, ks.CurrentKID())
	_, err = tm.Validate(old)
	assert.NoError(t, err, "retired keys still verify")

	for range maxKeys {
		require.NoError(t, ks.Rotate())
	}
	_, err = tm.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "evicted keys no longer verify")
}

func TestSeedKeySetIsDeterministic(t *testing.T) {
	seed := strings.Repeat("ab", 32)
	parsed, err := ParseSeed(seed)
	require.NoError(t, err)

	a, err := NewSeedKeySet(parsed)
	require.NoError(t, err)
	b, err := NewSeedKeySet(parsed)
	require.NoError(t, err)
	assert.Equal(t, a.CurrentKID(), b.CurrentKID())

	raw, err := NewTokenManager(a).Issue(context.Background(), "bob", nil, time.Hour)
	require.NoError(t, err)
	claims, err := NewTokenManager(b).Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)

	_, err = ParseSeed("short")
	assert.Error(t, err)
	_, err = NewSeedKeySet([]byte("short"))
	assert.Error(t, err)
}

func TestLoadSeedFile(t *testing.T) {
	path := t.TempDir() + "/seed"
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("01", 32)+"\n"), 0o600))
	ks, err := LoadSeedFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, ks.CurrentKID())

	_, err = LoadSeedFile(path + ".missing")
	assert.Error(t, err)
}
