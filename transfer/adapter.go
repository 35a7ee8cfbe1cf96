package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrKindUnknown is returned when no adapter is bound to a kind.
	ErrKindUnknown = errors.New("token kind unknown")

	// ErrAmountOrID is returned when a party's amount/id shape does not
	// fit the adapter's token standard.
	ErrAmountOrID = errors.New("amount or id invalid")

	ErrPaused           = errors.New("token paused")
	ErrRecipientInvalid = errors.New("transfer to the zero address")
)

// Adapter moves one token standard on behalf of the settlement kernel.
type Adapter interface {
	Kind() Kind
	// ValidParty reports whether id and amount are meaningful for the kind.
	ValidParty(id, amount *big.Int) bool
	HasAllowance(ctx context.Context, token, owner, spender common.Address, id, amount *big.Int) (bool, error)
	HasBalance(ctx context.Context, token, owner common.Address, id, amount *big.Int) (bool, error)
	// Transferable returns the reason token cannot move to to right now,
	// or nil. It has no side effects.
	Transferable(ctx context.Context, token, to common.Address) error
	Transfer(ctx context.Context, token, spender, from, to common.Address, id, amount *big.Int) error
}

// ERC20 is the fungible token surface adapters depend on.
type ERC20 interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
}

// ERC721 is the unique non-fungible token surface.
type ERC721 interface {
	OwnerOf(ctx context.Context, token common.Address, id *big.Int) (common.Address, error)
	// IsApproved is true when operator is approved for id or for all of
	// owner's tokens.
	IsApproved(ctx context.Context, token, owner, operator common.Address, id *big.Int) (bool, error)
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, id *big.Int) error
}

// ERC1155 is the counted non-fungible token surface.
type ERC1155 interface {
	BalanceOf(ctx context.Context, token, owner common.Address, id *big.Int) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, token, owner, operator common.Address) (bool, error)
	SafeTransferFrom(ctx context.Context, token, operator, from, to common.Address, id, amount *big.Int) error
}

// Pauser is implemented by token hosts whose contracts can halt transfers.
type Pauser interface {
	Paused(ctx context.Context, token common.Address) (bool, error)
}

func transferable(ctx context.Context, tokens interface{}, token, to common.Address) error {
	if to == (common.Address{}) {
		return ErrRecipientInvalid
	}
	p, ok := tokens.(Pauser)
	if !ok {
		return nil
	}
	paused, err := p.Paused(ctx, token)
	if err != nil {
		return fmt.Errorf("query paused: %w", err)
	}
	if paused {
		return fmt.Errorf("%w: %s", ErrPaused, token.Hex())
	}
	return nil
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// ERC20Adapter transfers fungible amounts; id must be zero.
type ERC20Adapter struct {
	tokens ERC20
}

func NewERC20Adapter(tokens ERC20) *ERC20Adapter {
	return &ERC20Adapter{tokens: tokens}
}

func (a *ERC20Adapter) Kind() Kind { return KindERC20 }

func (a *ERC20Adapter) ValidParty(id, amount *big.Int) bool {
	return isZero(id) && (amount == nil || amount.Sign() >= 0)
}

func (a *ERC20Adapter) HasAllowance(ctx context.Context, token, owner, spender common.Address, _, amount *big.Int) (bool, error) {
	allowance, err := a.tokens.Allowance(ctx, token, owner, spender)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(orZero(amount)) >= 0, nil
}

func (a *ERC20Adapter) HasBalance(ctx context.Context, token, owner common.Address, _, amount *big.Int) (bool, error) {
	balance, err := a.tokens.BalanceOf(ctx, token, owner)
	if err != nil {
		return false, err
	}
	return balance.Cmp(orZero(amount)) >= 0, nil
}

func (a *ERC20Adapter) Transferable(ctx context.Context, token, to common.Address) error {
	return transferable(ctx, a.tokens, token, to)
}

func (a *ERC20Adapter) Transfer(ctx context.Context, token, spender, from, to common.Address, id, amount *big.Int) error {
	if !a.ValidParty(id, amount) {
		return fmt.Errorf("erc20 transfer: %w", ErrAmountOrID)
	}
	return a.tokens.TransferFrom(ctx, token, spender, from, to, orZero(amount))
}

// ERC721Adapter transfers a single token id; amount must be zero.
type ERC721Adapter struct {
	tokens ERC721
}

func NewERC721Adapter(tokens ERC721) *ERC721Adapter {
	return &ERC721Adapter{tokens: tokens}
}

func (a *ERC721Adapter) Kind() Kind { return KindERC721 }

func (a *ERC721Adapter) ValidParty(id, amount *big.Int) bool {
	return isZero(amount) && (id == nil || id.Sign() >= 0)
}

func (a *ERC721Adapter) HasAllowance(ctx context.Context, token, owner, spender common.Address, id, _ *big.Int) (bool, error) {
	return a.tokens.IsApproved(ctx, token, owner, spender, orZero(id))
}

func (a *ERC721Adapter) HasBalance(ctx context.Context, token, owner common.Address, id, _ *big.Int) (bool, error) {
	holder, err := a.tokens.OwnerOf(ctx, token, orZero(id))
	if err != nil {
		return false, err
	}
	return holder == owner, nil
}

func (a *ERC721Adapter) Transferable(ctx context.Context, token, to common.Address) error {
	return transferable(ctx, a.tokens, token, to)
}

func (a *ERC721Adapter) Transfer(ctx context.Context, token, spender, from, to common.Address, id, amount *big.Int) error {
	if !a.ValidParty(id, amount) {
		return fmt.Errorf("erc721 transfer: %w", ErrAmountOrID)
	}
	return a.tokens.TransferFrom(ctx, token, spender, from, to, orZero(id))
}

// ERC1155Adapter transfers an amount of a token id.
type ERC1155Adapter struct {
	tokens ERC1155
}

func NewERC1155Adapter(tokens ERC1155) *ERC1155Adapter {
	return &ERC1155Adapter{tokens: tokens}
}

func (a *ERC1155Adapter) Kind() Kind { return KindERC1155 }

func (a *ERC1155Adapter) ValidParty(id, amount *big.Int) bool {
	return (id == nil || id.Sign() >= 0) && (amount == nil || amount.Sign() >= 0)
}

func (a *ERC1155Adapter) HasAllowance(ctx context.Context, token, owner, spender common.Address, _, _ *big.Int) (bool, error) {
	return a.tokens.IsApprovedForAll(ctx, token, owner, spender)
}

func (a *ERC1155Adapter) HasBalance(ctx context.Context, token, owner common.Address, id, amount *big.Int) (bool, error) {
	balance, err := a.tokens.BalanceOf(ctx, token, owner, orZero(id))
	if err != nil {
		return false, err
	}
	return balance.Cmp(orZero(amount)) >= 0, nil
}

func (a *ERC1155Adapter) Transferable(ctx context.Context, token, to common.Address) error {
	return transferable(ctx, a.tokens, token, to)
}

func (a *ERC1155Adapter) Transfer(ctx context.Context, token, spender, from, to common.Address, id, amount *big.Int) error {
	if !a.ValidParty(id, amount) {
		return fmt.Errorf("erc1155 transfer: %w", ErrAmountOrID)
	}
	return a.tokens.SafeTransferFrom(ctx, token, spender, from, to, orZero(id), orZero(amount))
}
