package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/engine"
	"github.com/Mindburn-Labs/vault/pkg/guard"
	"github.com/Mindburn-Labs/vault/pkg/timelock"
)

// SupportedPolicyVersions is the schema_version constraint this build reads.
const SupportedPolicyVersions = "^1.0"

const policySchemaURL = "https://vault.mindburn.dev/schemas/policy.schema.json"

//go:embed policy.schema.json
var policySchema string

// Policy is the engine policy file.
type Policy struct {
	SchemaVersion string           `yaml:"schema_version" json:"schema_version"`
	Owners        []string         `yaml:"owners" json:"owners"`
	Admins        []string         `yaml:"admins,omitempty" json:"admins,omitempty"`
	Quorum        int              `yaml:"quorum" json:"quorum"`
	RegistryMode  string           `yaml:"registry_mode,omitempty" json:"registry_mode,omitempty"`
	Tiers         []contracts.Tier `yaml:"tiers,omitempty" json:"tiers,omitempty"`
	Timelock      TimelockPolicy   `yaml:"timelock,omitempty" json:"timelock"`
	Emergency     EmergencyPolicy  `yaml:"emergency,omitempty" json:"emergency"`
	Guard         GuardPolicy      `yaml:"guard,omitempty" json:"guard"`
}

// TimelockPolicy enables the timelocked variant. Zero durations fall back
// to timelock.Standard().
type TimelockPolicy struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	MinDelay    time.Duration `yaml:"min_delay,omitempty" json:"min_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
	GracePeriod time.Duration `yaml:"grace_period,omitempty" json:"grace_period,omitempty"`
}

// EmergencyPolicy sets the fixed emergency delay. Zero durations fall back
// to timelock.Emergency().
type EmergencyPolicy struct {
	Delay       time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	GracePeriod time.Duration `yaml:"grace_period,omitempty" json:"grace_period,omitempty"`
}

type GuardPolicy struct {
	Rules []string `yaml:"rules,omitempty" json:"rules,omitempty"`
}

var compiledPolicySchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(policySchemaURL, bytes.NewReader([]byte(policySchema))); err != nil {
		panic(fmt.Sprintf("config: policy schema: %v", err))
	}
	compiled, err := c.Compile(policySchemaURL)
	if err != nil {
		panic(fmt.Sprintf("config: policy schema compile: %v", err))
	}
	return compiled
}()

// LoadPolicy reads and validates a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy validates YAML policy bytes against the embedded schema and
// the supported schema versions, then decodes them.
func ParsePolicy(data []byte) (*Policy, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var inst any
	if err := dec.Decode(&inst); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := compiledPolicySchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("policy schema validation failed: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := checkVersion(p.SchemaVersion); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func checkVersion(v string) error {
	constraint, err := semver.NewConstraint(SupportedPolicyVersions)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("policy schema_version %q: %w", v, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("policy schema_version %s is not supported (want %s)", version, SupportedPolicyVersions)
	}
	return nil
}

// Validate checks the semantic rules the schema cannot express.
func (p *Policy) Validate() error {
	if p.Quorum > len(p.Owners) {
		return fmt.Errorf("%w: quorum %d exceeds %d owners", contracts.ErrQuorumViolation, p.Quorum, len(p.Owners))
	}
	if p.Tiers != nil {
		if err := contracts.ValidateTiers(p.Tiers); err != nil {
			return err
		}
	}
	if p.Timelock.Enabled {
		if err := p.TimelockPolicy().Validate(); err != nil {
			return fmt.Errorf("timelock: %w", err)
		}
	}
	if err := p.EmergencyPolicy().Validate(); err != nil {
		return fmt.Errorf("emergency: %w", err)
	}
	if _, err := guard.New(p.Guard.Rules); err != nil {
		return err
	}
	return nil
}

// TimelockPolicy returns the standard-lane policy with defaults applied.
func (p *Policy) TimelockPolicy() timelock.Policy {
	out := timelock.Standard()
	if p.Timelock.MinDelay > 0 {
		out.MinDelay = p.Timelock.MinDelay
	}
	if p.Timelock.MaxDelay > 0 {
		out.MaxDelay = p.Timelock.MaxDelay
	}
	if p.Timelock.GracePeriod > 0 {
		out.GracePeriod = p.Timelock.GracePeriod
	}
	return out
}

// EmergencyPolicy returns the emergency-lane policy with defaults applied.
func (p *Policy) EmergencyPolicy() timelock.Policy {
	out := timelock.Emergency()
	if p.Emergency.Delay > 0 {
		out.MinDelay = p.Emergency.Delay
		out.MaxDelay = p.Emergency.Delay
	}
	if p.Emergency.GracePeriod > 0 {
		out.GracePeriod = p.Emergency.GracePeriod
	}
	return out
}

// EngineConfig returns the seed used on a fresh ledger.
func (p *Policy) EngineConfig() engine.Config {
	return engine.Config{
		Owners: p.Owners,
		Admins: p.Admins,
		Quorum: p.Quorum,
		Tiers:  p.Tiers,
	}
}

// EngineOptions returns the engine options the policy implies.
func (p *Policy) EngineOptions() ([]engine.Option, error) {
	opts := []engine.Option{engine.WithEmergency(p.EmergencyPolicy())}
	if p.Timelock.Enabled {
		opts = append(opts, engine.WithTimelock(p.TimelockPolicy()))
	}
	if p.RegistryMode != "" {
		opts = append(opts, engine.WithRegistryMode(engine.RegistryMode(p.RegistryMode)))
	}
	if len(p.Guard.Rules) > 0 {
		g, err := guard.New(p.Guard.Rules)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithGuard(g))
	}
	return opts, nil
}
