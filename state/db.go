// Package state holds the settlement kernel's mutable tables (nonces,
// delegations, fee configuration, ownership) behind a journal, so a unit of
// work is either committed in full or reverted without a trace.
package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role selects which delegation table an entry belongs to.
type Role uint8

const (
	// RoleSigner delegates authority to sign orders.
	RoleSigner Role = iota + 1
	// RoleSender delegates authority to submit orders as the sender.
	RoleSender
)

func (r Role) String() string {
	switch r {
	case RoleSigner:
		return "signer"
	case RoleSender:
		return "sender"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "signer":
		return RoleSigner, nil
	case "sender":
		return RoleSender, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// FeeConfig is the process-wide protocol fee configuration.
type FeeConfig struct {
	Bps      uint64
	LightBps []uint64
	Wallet   common.Address
}

func (c FeeConfig) clone() FeeConfig {
	out := c
	out.LightBps = append([]uint64(nil), c.LightBps...)
	return out
}

// ChangeKind identifies a durable mutation.
type ChangeKind uint8

const (
	ChangeNonceUsed ChangeKind = iota + 1
	ChangeMinimumNonce
	ChangeDelegate
	ChangeFeeConfig
	ChangeOwner
)

// Change is one durable mutation. Delegate is the zero address when a
// delegation was cleared.
type Change struct {
	Kind     ChangeKind
	Wallet   common.Address
	Nonce    uint64
	Role     Role
	Delegate common.Address
	Fee      FeeConfig
}

// Dump is the full durable state as loaded from a Persister.
type Dump struct {
	UsedNonces    map[common.Address][]uint64
	MinimumNonces map[common.Address]uint64
	Delegates     map[Role]map[common.Address]common.Address
	Fee           *FeeConfig
	Owner         *common.Address
}

// Persister stores committed changes durably.
type Persister interface {
	Persist(ctx context.Context, changes []Change) error
	Load(ctx context.Context) (*Dump, error)
}

var ErrNotPersisted = errors.New("state changes not persisted")

const nonceGroupBits = 256

// DB is the kernel's world state.
type DB struct {
	mu        sync.RWMutex
	journal   *Journal
	persister Persister

	nonceGroups   map[common.Address]map[uint64]*big.Int
	minimumNonces map[common.Address]uint64
	delegates     map[Role]map[common.Address]common.Address
	fee           FeeConfig
	owner         common.Address
}

// New returns an empty in-memory world state.
func New() *DB {
	return &DB{
		journal:       NewJournal(),
		nonceGroups:   make(map[common.Address]map[uint64]*big.Int),
		minimumNonces: make(map[common.Address]uint64),
		delegates: map[Role]map[common.Address]common.Address{
			RoleSigner: {},
			RoleSender: {},
		},
	}
}

// Open loads durable state from p and persists future commits through it.
func Open(ctx context.Context, p Persister) (*DB, error) {
	db := New()
	if p == nil {
		return db, nil
	}
	dump, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	db.restore(dump)
	db.persister = p
	return db, nil
}

func (db *DB) restore(d *Dump) {
	if d == nil {
		return
	}
	for signer, nonces := range d.UsedNonces {
		for _, n := range nonces {
			db.setNonceBit(signer, n)
		}
	}
	for signer, n := range d.MinimumNonces {
		db.minimumNonces[signer] = n
	}
	for role, table := range d.Delegates {
		if db.delegates[role] == nil {
			db.delegates[role] = make(map[common.Address]common.Address)
		}
		for wallet, delegate := range table {
			db.delegates[role][wallet] = delegate
		}
	}
	if d.Fee != nil {
		db.fee = d.Fee.clone()
	}
	if d.Owner != nil {
		db.owner = *d.Owner
	}
}

// Journal exposes the journal so that asset hosts can record their
// mutations in the same unit of work.
func (db *DB) Journal() *Journal { return db.journal }

func (db *DB) Snapshot() int { return db.journal.Snapshot() }

// Begin opens a unit of work on the journal.
func (db *DB) Begin() *Unit { return db.journal.Begin() }

func (db *DB) RevertToSnapshot(id int) { db.journal.RevertToSnapshot(id) }

// Commit makes every journaled mutation final, persisting durable changes
// first. When persisting fails nothing is cleared and the error wraps
// ErrNotPersisted.
func (db *DB) Commit(ctx context.Context) error {
	var persist func([]Change) error
	if db.persister != nil {
		persist = func(changes []Change) error {
			if err := db.persister.Persist(ctx, changes); err != nil {
				return fmt.Errorf("%w: %v", ErrNotPersisted, err)
			}
			return nil
		}
	}
	return db.journal.commit(persist)
}

func (db *DB) setNonceBit(signer common.Address, nonce uint64) bool {
	groups := db.nonceGroups[signer]
	if groups == nil {
		groups = make(map[uint64]*big.Int)
		db.nonceGroups[signer] = groups
	}
	key, bit := nonce/nonceGroupBits, int(nonce%nonceGroupBits)
	group := groups[key]
	if group == nil {
		group = new(big.Int)
		groups[key] = group
	}
	if group.Bit(bit) == 1 {
		return false
	}
	group.SetBit(group, bit, 1)
	return true
}

func (db *DB) clearNonceBit(signer common.Address, nonce uint64) {
	key, bit := nonce/nonceGroupBits, int(nonce%nonceGroupBits)
	if group := db.nonceGroups[signer][key]; group != nil {
		group.SetBit(group, bit, 0)
	}
}

// NonceUsed reports whether nonce was individually marked used. It does not
// consult the minimum nonce.
func (db *DB) NonceUsed(signer common.Address, nonce uint64) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	group := db.nonceGroups[signer][nonce/nonceGroupBits]
	return group != nil && group.Bit(int(nonce%nonceGroupBits)) == 1
}

// MarkNonceUsed sets the nonce bit and reports whether it was previously
// clear.
func (db *DB) MarkNonceUsed(signer common.Address, nonce uint64) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.setNonceBit(signer, nonce) {
		return false
	}
	db.journal.Append(func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		db.clearNonceBit(signer, nonce)
	}, &Change{Kind: ChangeNonceUsed, Wallet: signer, Nonce: nonce})
	return true
}

func (db *DB) MinimumNonce(signer common.Address) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.minimumNonces[signer]
}

func (db *DB) SetMinimumNonce(signer common.Address, n uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	prev, had := db.minimumNonces[signer]
	db.minimumNonces[signer] = n
	db.journal.Append(func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		if had {
			db.minimumNonces[signer] = prev
		} else {
			delete(db.minimumNonces, signer)
		}
	}, &Change{Kind: ChangeMinimumNonce, Wallet: signer, Nonce: n})
}

// Delegate returns the wallet's current delegate for role.
func (db *DB) Delegate(role Role, wallet common.Address) (common.Address, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.delegates[role][wallet]
	return d, ok
}

func (db *DB) SetDelegate(role Role, wallet, delegate common.Address) {
	db.mu.Lock()
	defer db.mu.Unlock()
	table := db.delegates[role]
	if table == nil {
		table = make(map[common.Address]common.Address)
		db.delegates[role] = table
	}
	prev, had := table[wallet]
	table[wallet] = delegate
	db.journal.Append(db.restoreDelegate(role, wallet, prev, had),
		&Change{Kind: ChangeDelegate, Role: role, Wallet: wallet, Delegate: delegate})
}

// ClearDelegate removes the wallet's delegate for role, returning it.
func (db *DB) ClearDelegate(role Role, wallet common.Address) (common.Address, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	prev, had := db.delegates[role][wallet]
	if !had {
		return common.Address{}, false
	}
	delete(db.delegates[role], wallet)
	db.journal.Append(db.restoreDelegate(role, wallet, prev, true),
		&Change{Kind: ChangeDelegate, Role: role, Wallet: wallet})
	return prev, true
}

func (db *DB) restoreDelegate(role Role, wallet, prev common.Address, had bool) func() {
	return func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		if had {
			db.delegates[role][wallet] = prev
		} else {
			delete(db.delegates[role], wallet)
		}
	}
}

// FeeConfig returns a copy of the current fee configuration.
func (db *DB) FeeConfig() FeeConfig {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.fee.clone()
}

func (db *DB) SetFeeConfig(cfg FeeConfig) {
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.fee.clone()
	db.fee = cfg.clone()
	db.journal.Append(func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		db.fee = prev
	}, &Change{Kind: ChangeFeeConfig, Fee: cfg.clone()})
}

func (db *DB) Owner() common.Address {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.owner
}

func (db *DB) SetOwner(owner common.Address) {
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.owner
	db.owner = owner
	db.journal.Append(func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		db.owner = prev
	}, &Change{Kind: ChangeOwner, Wallet: owner})
}
