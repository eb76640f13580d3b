package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/audit"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/engine"
	"github.com/Mindburn-Labs/vault/pkg/ledger"
	"github.com/Mindburn-Labs/vault/pkg/tiers"
	"github.com/Mindburn-Labs/vault/pkg/timelock"
)

func TestGovernedRegistryRejectsDirectCalls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.eng.AddOwner(ctx, "alice", "dave", 2), contracts.ErrRegistryGoverned)
	assert.ErrorIs(t, h.eng.RemoveOwner(ctx, "alice", "bob", 2), contracts.ErrNotAuthorized)
	assert.ErrorIs(t, h.eng.SetQuorum(ctx, "alice", 1), contracts.ErrRegistryGoverned)
	assert.ErrorIs(t, h.eng.SetTiers(ctx, "alice", []contracts.Tier{{RequiredConfirmations: 1}}), contracts.ErrRegistryGoverned)
}

func TestGovernedAddOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	id, err := h.eng.ProposeChange(ctx, "alice", contracts.RegistryChange{Op: contracts.OpAddOwner, Member: "dave", Quorum: 3})
	require.NoError(t, err)
	assert.ErrorIs(t, h.eng.Execute(ctx, "alice", id), contracts.ErrInsufficientConfirmations, "one owner alone cannot change the registry")

	h.confirm(t, id, "alice", "bob")
	require.NoError(t, h.eng.Execute(ctx, "carol", id))
	assert.Zero(t, h.calls.Load(), "registry changes never reach the executor")

	reg, err := h.eng.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, reg.Owners)
	assert.Equal(t, 3, reg.Quorum)
	assert.Equal(t, 3, h.eng.RequiredConfirmations(0))

	types := h.events.Types()
	assert.Contains(t, types, contracts.EventOwnerAdded)
	assert.Equal(t, contracts.EventExecuted, types[len(types)-1])

	// The new owner can confirm right away.
	next := h.submit(t, 5, 0)
	h.confirm(t, next, "dave")
}

func TestGovernedChangeRejectedAtExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	id, err := h.eng.ProposeChange(ctx, "alice", contracts.RegistryChange{Op: contracts.OpRemoveOwner, Member: "bob", Quorum: 3})
	require.NoError(t, err)
	h.confirm(t, id, "alice", "bob")

	assert.ErrorIs(t, h.eng.Execute(ctx, "alice", id), contracts.ErrQuorumViolation)
	v, err := h.eng.Action(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatePending, v.State, "a rejected change leaves the action pending")

	reg, err := h.eng.Registry(ctx)
	require.NoError(t, err)
	assert.Len(t, reg.Owners, 3)
}

func TestRemovingOwnerWithdrawsConfirmations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	open := h.submit(t, 5, 0)
	done := h.submit(t, 5, 0)
	h.confirm(t, open, "bob")
	h.confirm(t, done, "bob", "carol")
	require.NoError(t, h.eng.Execute(ctx, "alice", done))

	id, err := h.eng.ProposeChange(ctx, "alice", contracts.RegistryChange{Op: contracts.OpRemoveOwner, Member: "bob", Quorum: 2})
	require.NoError(t, err)
	h.confirm(t, id, "alice", "bob")
	require.NoError(t, h.eng.Execute(ctx, "carol", id))

	v, err := h.eng.Action(ctx, open)
	require.NoError(t, err)
	assert.Zero(t, v.Confirmations)
	assert.Empty(t, v.ConfirmedBy)

	v, err = h.eng.Action(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Confirmations, "executed actions keep their history")

	assert.ErrorIs(t, h.eng.Confirm(ctx, "bob", open), contracts.ErrNotOwner)
}

func TestGovernedTierChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, engine.WithTimelock(timelock.Standard()))

	bands := []contracts.Tier{{Below: 1000, RequiredConfirmations: 2}, {RequiredConfirmations: 3}}
	id, err := h.eng.ProposeChange(ctx, "alice", contracts.RegistryChange{Op: contracts.OpSetTiers, Tiers: bands})
	require.NoError(t, err)

	v, err := h.eng.Action(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), v.ETA, "registry changes are timelocked too")

	h.confirm(t, id, "alice", "bob")
	h.clock.Advance(24 * time.Hour)
	require.NoError(t, h.eng.Execute(ctx, "alice", id))

	got, err := h.eng.Tiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, bands, got)
	assert.Equal(t, 2, h.eng.RequiredConfirmations(500))
}

func TestGovernedAdminChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	id, err := h.eng.ProposeChange(ctx, "bob", contracts.RegistryChange{Op: contracts.OpRemoveAdmin, Member: "ops"})
	require.NoError(t, err)
	h.confirm(t, id, "alice", "carol")
	require.NoError(t, h.eng.Execute(ctx, "bob", id))

	reg, err := h.eng.Registry(ctx)
	require.NoError(t, err)
	assert.Empty(t, reg.Admins)
	assert.Contains(t, h.events.Types(), contracts.EventAdminRemoved)
}

func TestDirectRegistryMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, engine.WithRegistryMode(engine.RegistryDirect))

	_, err := h.eng.ProposeChange(ctx, "alice", contracts.RegistryChange{Op: contracts.OpSetQuorum, Quorum: 3})
	assert.ErrorIs(t, err, contracts.ErrInvalidTarget)

	assert.ErrorIs(t, h.eng.AddOwner(ctx, "mallory", "mallory", 1), contracts.ErrNotOwner)
	assert.ErrorIs(t, h.eng.AddAdmin(ctx, "ops", "ops2"), contracts.ErrNotOwner, "admins do not manage the registry")
	assert.ErrorIs(t, h.eng.SetTiers(ctx, "ops", tiers.Default()), contracts.ErrNotOwner)
	assert.ErrorIs(t, h.eng.SetQuorum(ctx, "alice", 0), contracts.ErrQuorumViolation)
	assert.ErrorIs(t, h.eng.SetQuorum(ctx, "alice", 4), contracts.ErrQuorumViolation)
	assert.ErrorIs(t, h.eng.AddOwner(ctx, "alice", "bob", 2), contracts.ErrInvalidOwner)
	assert.ErrorIs(t, h.eng.RemoveOwner(ctx, "alice", "zed", 2), contracts.ErrInvalidOwner)

	require.NoError(t, h.eng.AddOwner(ctx, "alice", "dave", 3))
	require.NoError(t, h.eng.RemoveOwner(ctx, "dave", "alice", 2))
	require.NoError(t, h.eng.AddAdmin(ctx, "bob", "auditor"))
	require.NoError(t, h.eng.SetQuorum(ctx, "bob", 3))

	reg, err := h.eng.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol", "dave"}, reg.Owners)
	assert.Equal(t, []string{"ops", "auditor"}, reg.Admins)
	assert.Equal(t, 3, reg.Quorum)

	assert.Equal(t, []contracts.EventType{
		contracts.EventOwnerAdded,
		contracts.EventOwnerRemoved,
		contracts.EventAdminAdded,
		contracts.EventQuorumChanged,
	}, h.events.Types())
}

func TestDirectModeCannotRemoveLastOwner(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, ledger.NewMemoryStore(), engine.Config{Owners: []string{"solo"}, Quorum: 1},
		engine.WithRegistryMode(engine.RegistryDirect), engine.WithSink(audit.Discard))
	require.NoError(t, err)

	assert.ErrorIs(t, eng.RemoveOwner(ctx, "solo", "solo", 1), contracts.ErrQuorumViolation)
	owners, err := eng.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, owners)
}
