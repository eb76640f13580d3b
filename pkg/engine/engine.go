// Package engine is the execution coordinator of the vault.
//
// It composes the owner registry, the tier table, an optional timelock
// policy, the action ledger and the external executor. Every mutating
// operation runs as one ledger transaction that re-reads the settings and
// the action it touches, so checks never rely on a prior read. The
// executor is called after the action is durably marked executed; if it
// fails the action is rolled back to pending.
//
// Two lanes exist. The standard lane needs owner confirmations resolved
// from the current tier table at every check. The emergency lane skips
// confirmations entirely and is gated only by safe mode and a fixed short
// timelock, which makes it the lower-friction, higher-risk path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/vault/pkg/audit"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/executor"
	"github.com/Mindburn-Labs/vault/pkg/guard"
	"github.com/Mindburn-Labs/vault/pkg/ledger"
	"github.com/Mindburn-Labs/vault/pkg/observability"
	"github.com/Mindburn-Labs/vault/pkg/registry"
	"github.com/Mindburn-Labs/vault/pkg/tiers"
	"github.com/Mindburn-Labs/vault/pkg/timelock"
)

// RegistryMode selects how owner-registry and tier changes are authorized.
type RegistryMode string

const (
	// RegistryGoverned routes every change through submit, confirm and
	// execute as an action on contracts.RegistryTarget.
	RegistryGoverned RegistryMode = "governed"
	// RegistryDirect lets any single owner apply a change immediately.
	RegistryDirect RegistryMode = "direct"
)

// Valid reports whether m is a known mode.
func (m RegistryMode) Valid() bool {
	return m == RegistryGoverned || m == RegistryDirect
}

// Config seeds the settings of a fresh ledger. When the ledger already holds
// settings they win and Config is ignored.
type Config struct {
	Owners []string
	Admins []string
	Quorum int
	Tiers  []contracts.Tier // nil means tiers.Default()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTimelock enables the timelocked variant for the standard lane.
func WithTimelock(policy timelock.Policy) Option {
	return func(e *Engine) { e.standardPolicy = &policy }
}

// WithEmergency overrides the emergency lane policy.
func WithEmergency(policy timelock.Policy) Option {
	return func(e *Engine) { e.emergencyPolicy = policy }
}

// WithExecutor sets the collaborator that performs executed actions.
func WithExecutor(ex executor.Executor) Option {
	return func(e *Engine) { e.executor = ex }
}

// WithSink sets where events go.
func WithSink(sink audit.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithGuard installs a submission guard.
func WithGuard(g *guard.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithRegistryMode selects the registry mode. The default is RegistryGoverned.
func WithRegistryMode(mode RegistryMode) Option {
	return func(e *Engine) { e.mode = mode }
}

// WithObservability sets the tracing and metrics provider.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

type policyCache struct {
	tiers  *tiers.Engine
	quorum int
}

type actionKey struct {
	lane contracts.Lane
	id   uint64
}

// Engine coordinates the action lifecycle.
type Engine struct {
	store    ledger.Store
	clock    func() time.Time
	logger   *slog.Logger
	executor executor.Executor
	sink     audit.Sink
	guard    *guard.Guard
	mode     RegistryMode
	obs      *observability.Provider

	standardPolicy  *timelock.Policy
	emergencyPolicy timelock.Policy
	timelock        *timelock.Scheduler // nil without WithTimelock
	emergency       *timelock.Scheduler

	cache atomic.Pointer[policyCache]

	expiredMu sync.Mutex
	expired   map[actionKey]struct{}
}

// New builds an engine over store, bootstrapping the settings from cfg on
// first use.
func New(ctx context.Context, store ledger.Store, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:           store,
		clock:           time.Now,
		emergencyPolicy: timelock.Emergency(),
		mode:            RegistryGoverned,
		expired:         make(map[actionKey]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "engine")
	}
	if e.executor == nil {
		e.executor = executor.Noop{Logger: e.logger}
	}
	if e.sink == nil {
		e.sink = audit.NewLogSink(nil)
	}
	if e.obs == nil {
		e.obs = observability.Disabled()
	}
	if !e.mode.Valid() {
		return nil, fmt.Errorf("engine: unknown registry mode %q", e.mode)
	}

	var err error
	if e.standardPolicy != nil {
		if e.timelock, err = timelock.NewScheduler(*e.standardPolicy); err != nil {
			return nil, fmt.Errorf("engine: standard %w", err)
		}
	}
	if e.emergency, err = timelock.NewScheduler(e.emergencyPolicy); err != nil {
		return nil, fmt.Errorf("engine: emergency %w", err)
	}

	var settings ledger.Settings
	err = store.InTx(ctx, func(tx ledger.Tx) error {
		stored, ok, err := tx.Settings(ctx)
		if err != nil {
			return err
		}
		if ok {
			if err := stored.Registry.Validate(); err != nil {
				return fmt.Errorf("stored registry: %w", err)
			}
			if err := contracts.ValidateTiers(stored.Tiers); err != nil {
				return fmt.Errorf("stored tiers: %w", err)
			}
			settings = stored
			return nil
		}
		if settings, err = seed(cfg); err != nil {
			return err
		}
		return tx.SaveSettings(ctx, settings)
	})
	if err != nil {
		return nil, fmt.Errorf("engine: bootstrap: %w", err)
	}
	if err := e.refresh(settings); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.logger.InfoContext(ctx, "engine ready",
		"owners", len(settings.Registry.Owners),
		"quorum", settings.Registry.Quorum,
		"tiers", len(settings.Tiers),
		"timelock", e.timelock != nil,
		"registry_mode", e.mode,
		"safe_mode", settings.SafeMode,
	)
	return e, nil
}

func seed(cfg Config) (ledger.Settings, error) {
	reg, err := registry.New(cfg.Owners, cfg.Quorum)
	if err != nil {
		return ledger.Settings{}, err
	}
	for _, admin := range cfg.Admins {
		if err := reg.Commit(contracts.RegistryChange{Op: contracts.OpAddAdmin, Member: admin}); err != nil {
			return ledger.Settings{}, err
		}
	}
	bands := cfg.Tiers
	if bands == nil {
		bands = tiers.Default()
	}
	if err := contracts.ValidateTiers(bands); err != nil {
		return ledger.Settings{}, err
	}
	return ledger.Settings{Registry: *reg, Tiers: contracts.CloneTiers(bands)}, nil
}

// refresh installs the lock-free policy cache behind RequiredConfirmations.
func (e *Engine) refresh(s ledger.Settings) error {
	t, err := tiers.New(s.Tiers)
	if err != nil {
		return err
	}
	if top, owners := t.MaxRequired(), len(s.Registry.Owners); top > owners {
		e.logger.Warn("top tier requires more confirmations than there are owners",
			"required", top,
			"owners", owners,
		)
	}
	e.cache.Store(&policyCache{tiers: t, quorum: s.Registry.Quorum})
	return nil
}

// RequiredConfirmations returns the confirmations an action of value needs
// now: the larger of the base quorum and the tier requirement. With a quorum
// above a band's requirement the result exceeds what the tier table alone
// says for that value.
func (e *Engine) RequiredConfirmations(value uint64) int {
	c := e.cache.Load()
	return max(c.quorum, c.tiers.RequiredConfirmations(value))
}

// scheduler returns the timelock governing lane, nil for an untimelocked
// standard lane.
func (e *Engine) scheduler(lane contracts.Lane) *timelock.Scheduler {
	if lane == contracts.LaneEmergency {
		return e.emergency
	}
	return e.timelock
}

// Timelocked reports whether the standard lane is timelocked.
func (e *Engine) Timelocked() bool {
	return e.timelock != nil
}

// Mode returns the registry mode.
func (e *Engine) Mode() RegistryMode {
	return e.mode
}

// txn is the engine's view of one ledger transaction.
type txn struct {
	ledger.Tx
	settings ledger.Settings
	tiers    *tiers.Engine
	now      time.Time

	events   []contracts.Event // published only on commit
	observed []contracts.Event // published regardless of outcome
	dirty    bool
}

func (t *txn) required(value uint64) int {
	return max(t.settings.Registry.Quorum, t.tiers.RequiredConfirmations(value))
}

func (t *txn) emit(typ contracts.EventType, a *contracts.Action, actor string, data map[string]any) {
	ev := contracts.Event{
		ID:    uuid.NewString(),
		Type:  typ,
		Actor: actor,
		At:    t.now,
		Data:  data,
	}
	if a != nil {
		ev.Lane = a.Lane
		ev.ActionID = a.ID
	}
	t.events = append(t.events, ev)
}

// observeExpired records that a read saw a past its grace period.
func (t *txn) observeExpired(a contracts.Action) {
	t.observed = append(t.observed, contracts.Event{
		ID:       uuid.NewString(),
		Type:     contracts.EventExpired,
		Lane:     a.Lane,
		ActionID: a.ID,
		At:       t.now,
		Data:     map[string]any{"expiry": a.Expiry()},
	})
}

func (t *txn) saveSettings(ctx context.Context) error {
	if err := t.SaveSettings(ctx, t.settings); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

// owner resolves caller to a registered owner.
func (t *txn) owner(caller string) (string, error) {
	id := registry.Normalize(caller)
	if id == "" || !t.settings.Registry.IsOwner(id) {
		return "", fmt.Errorf("%w: %q", contracts.ErrNotOwner, caller)
	}
	return id, nil
}

// operator resolves caller to an owner, or to an admin when admins is set.
func (t *txn) operator(caller string, admins bool) (string, error) {
	if !admins {
		return t.owner(caller)
	}
	id := registry.Normalize(caller)
	if id != "" && (t.settings.Registry.IsOwner(id) || t.settings.Registry.IsAdmin(id)) {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q is neither owner nor admin", contracts.ErrNotAuthorized, caller)
}

func (e *Engine) begin(ctx context.Context, tx ledger.Tx) (*txn, error) {
	s, ok, err := tx.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("engine: ledger has no settings")
	}
	t, err := tiers.New(s.Tiers)
	if err != nil {
		return nil, err
	}
	return &txn{Tx: tx, settings: s, tiers: t, now: e.clock()}, nil
}

// mutate runs fn in a read-write transaction and publishes its events once
// the transaction has committed.
func (e *Engine) mutate(ctx context.Context, fn func(*txn) error) error {
	var t *txn
	err := e.store.InTx(ctx, func(tx ledger.Tx) error {
		var err error
		if t, err = e.begin(ctx, tx); err != nil {
			return err
		}
		return fn(t)
	})
	if t == nil {
		return err
	}
	e.publish(ctx, t.observed)
	if err != nil {
		return err
	}
	if t.dirty {
		if rerr := e.refresh(t.settings); rerr != nil {
			e.logger.ErrorContext(ctx, "failed to refresh policy cache", "error", rerr)
		}
	}
	e.publish(ctx, t.events)
	return nil
}

// read runs fn against a read-only view.
func (e *Engine) read(ctx context.Context, fn func(*txn) error) error {
	var t *txn
	err := e.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		if t, err = e.begin(ctx, tx); err != nil {
			return err
		}
		return fn(t)
	})
	if t != nil {
		e.publish(ctx, t.observed)
	}
	return err
}

// publish hands events to the sink. Expired events go out once per action.
// Sink failures never undo a committed transition.
func (e *Engine) publish(ctx context.Context, events []contracts.Event) {
	for _, ev := range events {
		switch ev.Type {
		case contracts.EventExpired:
			if !e.firstExpiry(actionKey{ev.Lane, ev.ActionID}) {
				continue
			}
		case contracts.EventCancelled, contracts.EventEmergencyCancelled:
			// A cancelled action is terminal and never reported expired again.
			e.forgetExpiry(actionKey{ev.Lane, ev.ActionID})
		}
		if err := e.sink.Emit(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "audit sink failed",
				"event", ev.Type,
				"lane", ev.Lane,
				"action_id", ev.ActionID,
				"error", err,
			)
		}
	}
}

func (e *Engine) firstExpiry(k actionKey) bool {
	e.expiredMu.Lock()
	defer e.expiredMu.Unlock()
	if _, seen := e.expired[k]; seen {
		return false
	}
	e.expired[k] = struct{}{}
	return true
}

func (e *Engine) forgetExpiry(k actionKey) {
	e.expiredMu.Lock()
	delete(e.expired, k)
	e.expiredMu.Unlock()
}

// trackedExpiries reports how many actions the expiry dedupe set holds.
func (e *Engine) trackedExpiries() int {
	e.expiredMu.Lock()
	defer e.expiredMu.Unlock()
	return len(e.expired)
}

func (e *Engine) track(ctx context.Context, op string, lane contracts.Lane, id uint64) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{observability.AttrLane.String(string(lane))}
	if id != 0 {
		attrs = append(attrs, observability.AttrActionID.Int64(int64(id)))
	}
	return e.obs.TrackOperation(ctx, op, attrs...)
}

// openErr rejects operations on terminal or expired actions.
func openErr(t *txn, a contracts.Action) error {
	if err := terminalErr(a); err != nil {
		return err
	}
	if a.ExpiredAt(t.now) {
		t.observeExpired(a)
		return fmt.Errorf("action %s/%d: %w", a.Lane, a.ID, contracts.ErrExpiredState)
	}
	return nil
}

func terminalErr(a contracts.Action) error {
	switch a.State {
	case contracts.StateExecuted:
		return fmt.Errorf("action %s/%d: %w", a.Lane, a.ID, contracts.ErrAlreadyExecuted)
	case contracts.StateCancelled:
		return fmt.Errorf("action %s/%d: %w", a.Lane, a.ID, contracts.ErrCancelled)
	}
	return nil
}
