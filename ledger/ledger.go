// Package ledger is an in-memory host for ERC-20, ERC-721 and ERC-1155
// token contracts with ERC-2981 royalty metadata. Every mutation is recorded
// on a state.Journal so settlement can revert token movements together with
// its own bookkeeping.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/state"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("transfer from incorrect owner")
	ErrNotApproved           = errors.New("caller is not owner nor approved")
	ErrNonexistentToken      = errors.New("nonexistent token")
	ErrPaused                = transfer.ErrPaused
	ErrZeroAddress           = transfer.ErrRecipientInvalid
)

type royalty struct {
	receiver  common.Address
	numerator uint64
}

// Ledger holds balances, approvals and royalty settings per token contract.
type Ledger struct {
	mu      sync.RWMutex
	journal *state.Journal

	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int

	owners    map[common.Address]map[string]common.Address
	approvals map[common.Address]map[string]common.Address

	multi map[common.Address]map[string]map[common.Address]*big.Int

	operators map[common.Address]map[common.Address]map[common.Address]bool
	royalties map[common.Address]royalty
	paused    map[common.Address]bool
}

// New returns an empty ledger journaling into j. A nil journal disables
// reverting.
func New(j *state.Journal) *Ledger {
	return &Ledger{
		journal:    j,
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		owners:     make(map[common.Address]map[string]common.Address),
		approvals:  make(map[common.Address]map[string]common.Address),
		multi:      make(map[common.Address]map[string]map[common.Address]*big.Int),
		operators:  make(map[common.Address]map[common.Address]map[common.Address]bool),
		royalties:  make(map[common.Address]royalty),
		paused:     make(map[common.Address]bool),
	}
}

var (
	_ transfer.ERC20       = erc20{}
	_ transfer.ERC721      = erc721{}
	_ transfer.ERC1155     = erc1155{}
	_ fee.RoyaltyProvider = (*Ledger)(nil)
	_ transfer.Pauser      = (*Ledger)(nil)
)

// ERC20 returns the fungible token view of the ledger.
func (l *Ledger) ERC20() transfer.ERC20 { return erc20{l} }

// ERC721 returns the unique token view of the ledger.
func (l *Ledger) ERC721() transfer.ERC721 { return erc721{l} }

// ERC1155 returns the counted token view of the ledger.
func (l *Ledger) ERC1155() transfer.ERC1155 { return erc1155{l} }

// Adapters returns one adapter per supported kind, backed by the ledger.
func (l *Ledger) Adapters() []transfer.Adapter {
	return []transfer.Adapter{
		transfer.NewERC20Adapter(l.ERC20()),
		transfer.NewERC721Adapter(l.ERC721()),
		transfer.NewERC1155Adapter(l.ERC1155()),
	}
}

// lock takes the write lock. A writer that is not part of an open unit of
// work on the journal first waits for the unit to end, so a revert never
// undoes its writes.
func (l *Ledger) lock(ctx context.Context) (unlock func()) {
	release := func() {}
	if l.journal != nil && !l.journal.Within(ctx) {
		release = l.journal.Exclude()
	}
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		release()
	}
}

// record must be called with l.mu held; the undo runs later under l.mu.
func (l *Ledger) record(undo func()) {
	if l.journal == nil {
		return
	}
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		undo()
	}, nil)
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func amountOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (l *Ledger) setBalance(token, owner common.Address, v *big.Int) {
	table := l.balances[token]
	if table == nil {
		table = make(map[common.Address]*big.Int)
		l.balances[token] = table
	}
	prev, had := table[owner]
	prev = copyInt(prev)
	table[owner] = v
	l.record(func() {
		if had {
			l.balances[token][owner] = prev
		} else {
			delete(l.balances[token], owner)
		}
	})
}

func (l *Ledger) balance(token, owner common.Address) *big.Int {
	return amountOf(l.balances[token][owner])
}

func (l *Ledger) setAllowance(token, owner, spender common.Address, v *big.Int) {
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	table := l.allowances[token][owner]
	if table == nil {
		table = make(map[common.Address]*big.Int)
		l.allowances[token][owner] = table
	}
	prev, had := table[spender]
	prev = copyInt(prev)
	table[spender] = v
	l.record(func() {
		if had {
			l.allowances[token][owner][spender] = prev
		} else {
			delete(l.allowances[token][owner], spender)
		}
	})
}

func (l *Ledger) allowance(token, owner, spender common.Address) *big.Int {
	return amountOf(l.allowances[token][owner][spender])
}

func (l *Ledger) setOwner(token common.Address, id *big.Int, owner common.Address) {
	table := l.owners[token]
	if table == nil {
		table = make(map[string]common.Address)
		l.owners[token] = table
	}
	key := id.String()
	prev, had := table[key]
	table[key] = owner
	l.record(func() {
		if had {
			l.owners[token][key] = prev
		} else {
			delete(l.owners[token], key)
		}
	})
}

func (l *Ledger) setApproval(token common.Address, id *big.Int, spender common.Address) {
	table := l.approvals[token]
	if table == nil {
		table = make(map[string]common.Address)
		l.approvals[token] = table
	}
	key := id.String()
	prev, had := table[key]
	if spender == (common.Address{}) {
		delete(table, key)
	} else {
		table[key] = spender
	}
	l.record(func() {
		if had {
			l.approvals[token][key] = prev
		} else {
			delete(l.approvals[token], key)
		}
	})
}

func (l *Ledger) setMulti(token common.Address, id *big.Int, owner common.Address, v *big.Int) {
	if l.multi[token] == nil {
		l.multi[token] = make(map[string]map[common.Address]*big.Int)
	}
	key := id.String()
	table := l.multi[token][key]
	if table == nil {
		table = make(map[common.Address]*big.Int)
		l.multi[token][key] = table
	}
	prev, had := table[owner]
	prev = copyInt(prev)
	table[owner] = v
	l.record(func() {
		if had {
			l.multi[token][key][owner] = prev
		} else {
			delete(l.multi[token][key], owner)
		}
	})
}

func (l *Ledger) multiBalance(token common.Address, id *big.Int, owner common.Address) *big.Int {
	return amountOf(l.multi[token][id.String()][owner])
}

func (l *Ledger) isOperator(token, owner, operator common.Address) bool {
	return l.operators[token][owner][operator]
}

// Mint credits an ERC-20 balance.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) {
	defer l.lock(context.Background())()
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
}

// Approve sets an ERC-20 allowance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) {
	defer l.lock(context.Background())()
	l.setAllowance(token, owner, spender, amountOf(amount))
}

// Balance returns an ERC-20 balance.
func (l *Ledger) Balance(token, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(token, owner)
}

// MintUnique assigns an ERC-721 id to an owner.
func (l *Ledger) MintUnique(token, to common.Address, id *big.Int) {
	defer l.lock(context.Background())()
	l.setOwner(token, id, to)
}

// ApproveUnique approves spender for a single ERC-721 id.
func (l *Ledger) ApproveUnique(token, owner, spender common.Address, id *big.Int) error {
	defer l.lock(context.Background())()
	current, ok := l.owners[token][id.String()]
	if !ok {
		return ErrNonexistentToken
	}
	if current != owner && !l.isOperator(token, current, owner) {
		return ErrNotApproved
	}
	l.setApproval(token, id, spender)
	return nil
}

// OwnerOfUnique returns the holder of an ERC-721 id.
func (l *Ledger) OwnerOfUnique(token common.Address, id *big.Int) (common.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[token][id.String()]
	return owner, ok
}

// SetApprovalForAll grants or withdraws operator rights over all of owner's
// ERC-721 and ERC-1155 tokens of a contract.
func (l *Ledger) SetApprovalForAll(token, owner, operator common.Address, approved bool) {
	defer l.lock(context.Background())()
	if l.operators[token] == nil {
		l.operators[token] = make(map[common.Address]map[common.Address]bool)
	}
	table := l.operators[token][owner]
	if table == nil {
		table = make(map[common.Address]bool)
		l.operators[token][owner] = table
	}
	prev, had := table[operator]
	table[operator] = approved
	l.record(func() {
		if had {
			l.operators[token][owner][operator] = prev
		} else {
			delete(l.operators[token][owner], operator)
		}
	})
}

// MintMulti credits an ERC-1155 balance.
func (l *Ledger) MintMulti(token, to common.Address, id, amount *big.Int) {
	defer l.lock(context.Background())()
	l.setMulti(token, id, to, new(big.Int).Add(l.multiBalance(token, id, to), amount))
}

// BalanceMulti returns an ERC-1155 balance.
func (l *Ledger) BalanceMulti(token common.Address, id *big.Int, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.multiBalance(token, id, owner)
}

// SetRoyalty makes token report ERC-2981 royalties of numerator/10000 of
// the sale price, paid to receiver.
func (l *Ledger) SetRoyalty(token, receiver common.Address, numerator uint64) {
	defer l.lock(context.Background())()
	prev, had := l.royalties[token]
	l.royalties[token] = royalty{receiver: receiver, numerator: numerator}
	l.record(func() {
		if had {
			l.royalties[token] = prev
		} else {
			delete(l.royalties, token)
		}
	})
}

// Pause makes every transfer of token fail.
func (l *Ledger) Pause(token common.Address, paused bool) {
	defer l.lock(context.Background())()
	prev := l.paused[token]
	l.paused[token] = paused
	l.record(func() { l.paused[token] = prev })
}

// Paused reports whether transfers of token are halted.
func (l *Ledger) Paused(_ context.Context, token common.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused[token], nil
}

func (l *Ledger) SupportsRoyalties(_ context.Context, token common.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.royalties[token]
	return ok, nil
}

func (l *Ledger) RoyaltyInfo(_ context.Context, token common.Address, _ *big.Int, salePrice *big.Int) (common.Address, *big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.royalties[token]
	if !ok {
		return common.Address{}, new(big.Int), nil
	}
	amount := new(big.Int).Mul(amountOf(salePrice), new(big.Int).SetUint64(r.numerator))
	amount.Quo(amount, big.NewInt(fee.RoyaltyDenominator))
	return r.receiver, amount, nil
}

func (l *Ledger) checkMove(token, to common.Address) error {
	if l.paused[token] {
		return fmt.Errorf("%w: %s", ErrPaused, token.Hex())
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	return nil
}
