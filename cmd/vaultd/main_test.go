package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/identity"
)

var testSeed = strings.Repeat("5a", 32)

const testPolicy = `schema_version: "1.0"
owners: [alice, bob, carol]
quorum: 2
tiers:
  - required_confirmations: 2
`

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"vaultd"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunVersionAndHelp(t *testing.T) {
	code, out, _ := run("version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "vaultd dev\n", out)

	code, out, _ = run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "migrate")

	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func TestRunPolicy(t *testing.T) {
	code, out, errOut := run("policy", writePolicy(t, testPolicy))
	require.Equal(t, 0, code, errOut)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(2), got["quorum"])
	assert.Contains(t, got, "emergency_timelock")
	assert.NotContains(t, got, "standard_timelock")

	code, _, errOut = run("policy", writePolicy(t, "schema_version: \"9.0\"\nowners: [a]\nquorum: 1\n"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not supported")

	code, _, _ = run("policy")
	assert.Equal(t, 2, code)
}

func TestRunToken(t *testing.T) {
	code, out, errOut := run("token", "--subject", "alice", "--key", testSeed, "--ttl", "5m")
	require.Equal(t, 0, code, errOut)

	seed, err := identity.ParseSeed(testSeed)
	require.NoError(t, err)
	keys, err := identity.NewSeedKeySet(seed)
	require.NoError(t, err)
	claims, err := identity.NewTokenManager(keys).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.True(t, claims.HasRole(identity.RoleOperator))

	t.Setenv("JWT_SIGNING_KEY", "")
	t.Setenv("JWT_SIGNING_KEY_FILE", "")
	code, _, _ = run("token", "--subject", "alice")
	assert.Equal(t, 2, code, "no key")
	code, _, _ = run("token", "--key", testSeed)
	assert.Equal(t, 2, code, "no subject")
}

func TestRunMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "vault.db")
	code, out, errOut := run("migrate", "--driver", "sqlite", "--dsn", dsn)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "schema ready (sqlite)\n", out)
	_, err := os.Stat(dsn)
	assert.NoError(t, err)

	code, _, _ = run("migrate", "--driver", "memory", "--dsn", dsn)
	assert.Equal(t, 2, code)
}

func TestServeRequiresPolicy(t *testing.T) {
	t.Setenv("POLICY_FILE", "")
	t.Setenv("DATABASE_DRIVER", "")
	code, _, errOut := run("serve", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no policy file")
}

func TestBuildAppServesAuthenticatedAPI(t *testing.T) {
	ctx := context.Background()
	policy, err := config.LoadPolicy(writePolicy(t, testPolicy))
	require.NoError(t, err)

	cfg := &config.Config{
		DatabaseDriver: "sqlite",
		DatabaseURL:    filepath.Join(t.TempDir(), "vault.db"),
		JWTSigningKey:  testSeed,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
	a, err := buildApp(ctx, cfg, policy, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	call := func(method, path, subject string, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		if subject != "" {
			token, err := a.tokens.Issue(ctx, subject, []string{identity.RoleOperator}, time.Minute)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := call(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = call(http.MethodPost, "/v1/actions", "", `{"target":"treasury","value":1}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(http.MethodPost, "/v1/actions", "alice", `{"target":"treasury","value":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	call(http.MethodPost, "/v1/actions/1/confirm", "alice", "")
	call(http.MethodPost, "/v1/actions/1/confirm", "bob", "")
	resp = call(http.MethodPost, "/v1/actions/1/execute", "carol", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v contracts.ActionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, contracts.StateExecuted, v.Status)

	resp = call(http.MethodGet, "/v1/audit/verify", "alice", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadKeySet(t *testing.T) {
	keys, err := loadKeySet(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, keys)

	_, err = loadKeySet(&config.Config{JWTSigningKey: "nope"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0o600))
	keys, err = loadKeySet(&config.Config{JWTSigningFile: path})
	require.NoError(t, err)
	assert.NotNil(t, keys)
}
