package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

type memPersister struct {
	dump    *Dump
	batches [][]Change
	err     error
}

func (p *memPersister) Persist(_ context.Context, changes []Change) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, changes)
	return nil
}

func (p *memPersister) Load(context.Context) (*Dump, error) {
	return p.dump, nil
}

func TestJournalRevertsNewestFirst(t *testing.T) {
	j := NewJournal()
	var order []int
	j.Append(func() { order = append(order, 1) }, nil)
	snap := j.Snapshot()
	j.Append(func() { order = append(order, 2) }, nil)
	j.Append(func() { order = append(order, 3) }, nil)

	j.RevertToSnapshot(snap)
	assert.Equal(t, []int{3, 2}, order)
	assert.Equal(t, 1, j.Len())
	assert.Panics(t, func() { j.RevertToSnapshot(5) })
}

func TestUnitExcludesOutsideWriters(t *testing.T) {
	j := NewJournal()
	u := j.Begin()
	ctx := WithUnit(context.Background(), u)
	assert.True(t, j.Within(ctx))
	assert.False(t, j.Within(context.Background()))
	assert.False(t, NewJournal().Within(ctx))

	var reverted []string
	j.Append(func() { reverted = append(reverted, "unit") }, nil)

	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		release := j.Exclude()
		defer release()
		j.Append(func() { reverted = append(reverted, "outside") }, nil)
	}()
	select {
	case <-wrote:
		t.Fatal("outside writer ran while the unit was open")
	case <-time.After(20 * time.Millisecond):
	}

	u.Revert()
	u.End()
	<-wrote
	assert.Equal(t, []string{"unit"}, reverted)
	assert.Equal(t, 1, j.Len())

	// the next unit starts after the outside entry
	next := j.Begin()
	j.Append(func() { reverted = append(reverted, "next") }, nil)
	next.Revert()
	next.End()
	assert.Equal(t, []string{"unit", "next"}, reverted)
}

func TestRevertRestoresState(t *testing.T) {
	db := New()
	db.SetOwner(alice)
	db.SetFeeConfig(FeeConfig{Bps: 7, LightBps: []uint64{1}, Wallet: alice})
	require.True(t, db.MarkNonceUsed(alice, 1))
	snap := db.Snapshot()

	require.True(t, db.MarkNonceUsed(alice, 300))
	require.False(t, db.MarkNonceUsed(alice, 1))
	db.SetMinimumNonce(alice, 50)
	db.SetDelegate(RoleSigner, alice, bob)
	db.SetFeeConfig(FeeConfig{Bps: 9, Wallet: bob})
	db.SetOwner(bob)
	db.RevertToSnapshot(snap)

	assert.True(t, db.NonceUsed(alice, 1))
	assert.False(t, db.NonceUsed(alice, 300))
	assert.Equal(t, uint64(0), db.MinimumNonce(alice))
	_, ok := db.Delegate(RoleSigner, alice)
	assert.False(t, ok)
	assert.Equal(t, FeeConfig{Bps: 7, LightBps: []uint64{1}, Wallet: alice}, db.FeeConfig())
	assert.Equal(t, alice, db.Owner())
}

func TestClearDelegate(t *testing.T) {
	db := New()
	_, ok := db.ClearDelegate(RoleSender, alice)
	assert.False(t, ok)

	db.SetDelegate(RoleSender, alice, bob)
	snap := db.Snapshot()
	prev, ok := db.ClearDelegate(RoleSender, alice)
	require.True(t, ok)
	assert.Equal(t, bob, prev)
	db.RevertToSnapshot(snap)

	got, ok := db.Delegate(RoleSender, alice)
	require.True(t, ok)
	assert.Equal(t, bob, got)
}

func TestCommitPersistsDurableChanges(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	db, err := Open(ctx, p)
	require.NoError(t, err)

	db.Journal().Append(func() {}, nil)
	db.MarkNonceUsed(alice, 4)
	db.SetDelegate(RoleSigner, alice, bob)
	require.NoError(t, db.Commit(ctx))

	require.Len(t, p.batches, 1)
	assert.Equal(t, []Change{
		{Kind: ChangeNonceUsed, Wallet: alice, Nonce: 4},
		{Kind: ChangeDelegate, Role: RoleSigner, Wallet: alice, Delegate: bob},
	}, p.batches[0])
	assert.Equal(t, 0, db.Journal().Len())

	// nothing durable, nothing persisted
	db.Journal().Append(func() {}, nil)
	require.NoError(t, db.Commit(ctx))
	assert.Len(t, p.batches, 1)
}

func TestCommitFailureKeepsJournal(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{err: errors.New("locked")}
	db, err := Open(ctx, p)
	require.NoError(t, err)

	snap := db.Snapshot()
	db.MarkNonceUsed(alice, 4)
	err = db.Commit(ctx)
	require.ErrorIs(t, err, ErrNotPersisted)
	assert.Equal(t, 1, db.Journal().Len())

	db.RevertToSnapshot(snap)
	assert.False(t, db.NonceUsed(alice, 4))
}

func TestOpenRestoresDump(t *testing.T) {
	owner := bob
	p := &memPersister{dump: &Dump{
		UsedNonces:    map[common.Address][]uint64{alice: {1, 1000}},
		MinimumNonces: map[common.Address]uint64{alice: 3},
		Delegates:     map[Role]map[common.Address]common.Address{RoleSender: {alice: bob}},
		Fee:           &FeeConfig{Bps: 30, LightBps: []uint64{5}, Wallet: bob},
		Owner:         &owner,
	}}
	db, err := Open(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, db.NonceUsed(alice, 1))
	assert.True(t, db.NonceUsed(alice, 1000))
	assert.False(t, db.NonceUsed(alice, 2))
	assert.Equal(t, uint64(3), db.MinimumNonce(alice))
	d, ok := db.Delegate(RoleSender, alice)
	require.True(t, ok)
	assert.Equal(t, bob, d)
	assert.Equal(t, uint64(30), db.FeeConfig().Bps)
	assert.Equal(t, bob, db.Owner())
	assert.Equal(t, 0, db.Journal().Len())
}

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RoleSigner, RoleSender} {
		got, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("admin")
	assert.Error(t, err)
}
