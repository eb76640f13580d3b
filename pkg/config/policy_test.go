package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/timelock"
)

const fullPolicy = `
schema_version: "1.2.0"
owners: [alice, bob, carol]
admins: [ops]
quorum: 2
registry_mode: direct
tiers:
  - below: 10
    required_confirmations: 2
    delay: {min: 24h, max: 72h}
  - required_confirmations: 3
timelock:
  enabled: true
  grace_period: 48h
emergency:
  delay: 30m
guard:
  rules:
    - 'action.value < 1000000u'
`

func TestParsePolicy(t *testing.T) {
	p, err := config.ParsePolicy([]byte(fullPolicy))
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "carol"}, p.Owners)
	assert.Equal(t, 2, p.Quorum)
	require.Len(t, p.Tiers, 2)
	assert.Equal(t, contracts.DelayBounds{Min: 24 * time.Hour, Max: 72 * time.Hour}, p.Tiers[0].Delay)

	tl := p.TimelockPolicy()
	assert.Equal(t, timelock.Standard().MinDelay, tl.MinDelay, "unset fields keep defaults")
	assert.Equal(t, 48*time.Hour, tl.GracePeriod)

	em := p.EmergencyPolicy()
	assert.Equal(t, 30*time.Minute, em.MinDelay)
	assert.Equal(t, 30*time.Minute, em.MaxDelay)
	assert.Equal(t, timelock.Emergency().GracePeriod, em.GracePeriod)

	opts, err := p.EngineOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	cfg := p.EngineConfig()
	assert.Equal(t, []string{"ops"}, cfg.Admins)
}

func TestParsePolicyMinimal(t *testing.T) {
	p, err := config.ParsePolicy([]byte("schema_version: \"1.0\"\nowners: [solo]\nquorum: 1\n"))
	require.NoError(t, err)
	assert.Nil(t, p.Tiers)
	opts, err := p.EngineOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 1, "only the emergency policy")
}

func TestParsePolicySchemaViolations(t *testing.T) {
	cases := map[string]string{
		"quorum is a string":    "schema_version: \"1.0\"\nowners: [a]\nquorum: two\n",
		"negative tier bound":   "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\ntiers: [{below: -5, required_confirmations: 1}, {required_confirmations: 1}]\n",
		"unknown tier field":    "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\ntiers: [{required_confirmations: 1, weight: 2}]\n",
		"blank owner":           "schema_version: \"1.0\"\nowners: [\"\"]\nquorum: 1\n",
		"missing quorum":        "schema_version: \"1.0\"\nowners: [a]\n",
		"enabled is not a bool": "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\ntimelock: {enabled: sometimes}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParsePolicy([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "policy schema validation failed")
		})
	}
}

func TestParsePolicyRejects(t *testing.T) {
	cases := map[string]string{
		"not yaml":          "owners: [",
		"missing version":   "owners: [a]\nquorum: 1\n",
		"future version":    "schema_version: \"2.0\"\nowners: [a]\nquorum: 1\n",
		"bad version":       "schema_version: \"one\"\nowners: [a]\nquorum: 1\n",
		"unknown field":     "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\nthreshold: 3\n",
		"no owners":         "schema_version: \"1.0\"\nowners: []\nquorum: 1\n",
		"duplicate owners":  "schema_version: \"1.0\"\nowners: [a, a]\nquorum: 1\n",
		"zero quorum":       "schema_version: \"1.0\"\nowners: [a]\nquorum: 0\n",
		"quorum too high":   "schema_version: \"1.0\"\nowners: [a]\nquorum: 2\n",
		"bad duration":      "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\ntimelock: {enabled: true, min_delay: soon}\n",
		"bad mode":          "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\nregistry_mode: anarchy\n",
		"unordered tiers":   "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\ntiers: [{below: 100, required_confirmations: 1}, {below: 10, required_confirmations: 1}, {required_confirmations: 1}]\n",
		"bad guard rule":    "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\nguard: {rules: ['action.value <']}\n",
		"inverted timelock": "schema_version: \"1.0\"\nowners: [a]\nquorum: 1\ntimelock: {enabled: true, min_delay: 48h, max_delay: 24h}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParsePolicy([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullPolicy), 0o600))

	p, err := config.LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, "direct", p.RegistryMode)

	_, err = config.LoadPolicy(path + ".missing")
	assert.Error(t, err)
}
