package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type erc20 struct{ l *Ledger }

func (t erc20) Paused(ctx context.Context, token common.Address) (bool, error) {
	return t.l.Paused(ctx, token)
}

func (t erc20) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	return t.l.Balance(token, owner), nil
}

func (t erc20) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return t.l.allowance(token, owner, spender), nil
}

func (t erc20) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	l := t.l
	defer l.lock(ctx)()
	if err := l.checkMove(token, to); err != nil {
		return err
	}
	amount = amountOf(amount)
	if spender != from {
		allowance := l.allowance(token, from, spender)
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		l.setAllowance(token, from, spender, allowance.Sub(allowance, amount))
	}
	balance := l.balance(token, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setBalance(token, from, balance.Sub(balance, amount))
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

type erc721 struct{ l *Ledger }

func (t erc721) Paused(ctx context.Context, token common.Address) (bool, error) {
	return t.l.Paused(ctx, token)
}

func (t erc721) OwnerOf(_ context.Context, token common.Address, id *big.Int) (common.Address, error) {
	owner, ok := t.l.OwnerOfUnique(token, id)
	if !ok {
		return common.Address{}, ErrNonexistentToken
	}
	return owner, nil
}

func (t erc721) IsApproved(_ context.Context, token, owner, operator common.Address, id *big.Int) (bool, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	if t.l.isOperator(token, owner, operator) {
		return true, nil
	}
	return t.l.approvals[token][id.String()] == operator, nil
}

func (t erc721) TransferFrom(ctx context.Context, token, spender, from, to common.Address, id *big.Int) error {
	l := t.l
	defer l.lock(ctx)()
	if err := l.checkMove(token, to); err != nil {
		return err
	}
	owner, ok := l.owners[token][id.String()]
	if !ok {
		return ErrNonexistentToken
	}
	if owner != from {
		return ErrNotOwner
	}
	if spender != owner && !l.isOperator(token, owner, spender) && l.approvals[token][id.String()] != spender {
		return ErrNotApproved
	}
	l.setApproval(token, id, common.Address{})
	l.setOwner(token, id, to)
	return nil
}

type erc1155 struct{ l *Ledger }

func (t erc1155) Paused(ctx context.Context, token common.Address) (bool, error) {
	return t.l.Paused(ctx, token)
}

func (t erc1155) BalanceOf(_ context.Context, token, owner common.Address, id *big.Int) (*big.Int, error) {
	return t.l.BalanceMulti(token, id, owner), nil
}

func (t erc1155) IsApprovedForAll(_ context.Context, token, owner, operator common.Address) (bool, error) {
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return t.l.isOperator(token, owner, operator), nil
}

func (t erc1155) SafeTransferFrom(ctx context.Context, token, operator, from, to common.Address, id, amount *big.Int) error {
	l := t.l
	defer l.lock(ctx)()
	if err := l.checkMove(token, to); err != nil {
		return err
	}
	if operator != from && !l.isOperator(token, from, operator) {
		return ErrNotApproved
	}
	amount = amountOf(amount)
	balance := l.multiBalance(token, id, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setMulti(token, id, from, balance.Sub(balance, amount))
	l.setMulti(token, id, to, new(big.Int).Add(l.multiBalance(token, id, to), amount))
	return nil
}
