package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/identity"
	"github.com/Mindburn-Labs/vault/pkg/ledger"
	"github.com/Mindburn-Labs/vault/pkg/timelock"
)

func parseFlags(flags *pflag.FlagSet, args []string) (int, bool) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	driver := flags.String("driver", os.Getenv("DATABASE_DRIVER"), "ledger driver: sqlite or postgres")
	dsn := flags.String("dsn", os.Getenv("DATABASE_URL"), "database URL or SQLite path")
	if code, ok := parseFlags(flags, args); !ok {
		return code
	}
	if *driver != ledger.DriverSQLite && *driver != ledger.DriverPostgres {
		_, _ = fmt.Fprintf(stderr, "Error: --driver must be %s or %s\n", ledger.DriverSQLite, ledger.DriverPostgres)
		return 2
	}
	if *dsn == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --dsn is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledger.ConnectTimeout+10*time.Second)
	defer cancel()
	store, err := ledger.Open(ctx, *driver, *dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := store.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "schema ready (%s)\n", *driver)
	return 0
}

// effectivePolicy is the policy with every default resolved.
type effectivePolicy struct {
	*config.Policy
	Standard  *timelock.Policy `json:"standard_timelock,omitempty"`
	Emergency timelock.Policy  `json:"emergency_timelock"`
}

func runPolicy(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("policy", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	file := flags.StringP("file", "f", os.Getenv("POLICY_FILE"), "policy file to validate")
	if code, ok := parseFlags(flags, args); !ok {
		return code
	}
	if flags.NArg() > 0 {
		*file = flags.Arg(0)
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "Usage: vaultd policy <file>")
		return 2
	}

	p, err := config.LoadPolicy(*file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	out := effectivePolicy{Policy: p, Emergency: p.EmergencyPolicy()}
	if p.Timelock.Enabled {
		std := p.TimelockPolicy()
		out.Standard = &std
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	subject := flags.String("subject", "", "caller identity, e.g. an owner id (required)")
	roles := flags.StringSlice("role", []string{identity.RoleOperator}, "roles carried by the token")
	ttl := flags.Duration("ttl", time.Hour, "token lifetime")
	key := flags.String("key", os.Getenv("JWT_SIGNING_KEY"), "hex or base64 Ed25519 seed")
	keyFile := flags.String("key-file", os.Getenv("JWT_SIGNING_KEY_FILE"), "file holding the seed")
	issuer := flags.String("issuer", os.Getenv("JWT_ISSUER"), "token issuer")
	if code, ok := parseFlags(flags, args); !ok {
		return code
	}
	if *subject == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --subject is required")
		return 2
	}

	keys, err := loadKeySet(&config.Config{JWTSigningKey: *key, JWTSigningFile: *keyFile})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if keys == nil {
		_, _ = fmt.Fprintln(stderr, "Error: a signing key is required (--key, --key-file or JWT_SIGNING_KEY)")
		return 2
	}

	token, err := identity.NewTokenManager(keys, identity.WithIssuer(*issuer)).
		Issue(context.Background(), *subject, *roles, *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
