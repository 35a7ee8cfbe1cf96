// Package authz tracks delegated signing and submitting authority. A wallet
// has at most one delegate per role; the latest authorization wins.
package authz

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airswap/airswap-protocols-sub002/state"
)

const (
	RoleSigner = state.RoleSigner
	RoleSender = state.RoleSender
)

var (
	ErrSelfAuthorization = errors.New("self authorization invalid")
	ErrDelegateInvalid   = errors.New("delegate invalid")
)

// EffectiveSigner is the set of addresses whose signature is accepted for a
// wallet.
type EffectiveSigner struct {
	Wallet   common.Address
	Delegate *common.Address
}

// Accepts reports whether addr may sign for the wallet.
func (e EffectiveSigner) Accepts(addr common.Address) bool {
	if addr == e.Wallet {
		return true
	}
	return e.Delegate != nil && *e.Delegate == addr
}

type Registry struct {
	db *state.DB
}

func New(db *state.DB) *Registry {
	return &Registry{db: db}
}

// Authorize makes delegate the caller's only delegate for role and returns
// the delegate it replaced, if any.
func (r *Registry) Authorize(role state.Role, caller, delegate common.Address) (*common.Address, error) {
	if delegate == (common.Address{}) {
		return nil, ErrDelegateInvalid
	}
	if delegate == caller {
		return nil, ErrSelfAuthorization
	}
	var previous *common.Address
	if prev, ok := r.db.Delegate(role, caller); ok {
		previous = &prev
	}
	r.db.SetDelegate(role, caller, delegate)
	return previous, nil
}

// Revoke clears the caller's delegate for role. It reports the cleared
// delegate and false when there was none.
func (r *Registry) Revoke(role state.Role, caller common.Address) (common.Address, bool) {
	return r.db.ClearDelegate(role, caller)
}

func (r *Registry) Delegate(role state.Role, wallet common.Address) (common.Address, bool) {
	return r.db.Delegate(role, wallet)
}

func (r *Registry) Effective(wallet common.Address) EffectiveSigner {
	e := EffectiveSigner{Wallet: wallet}
	if d, ok := r.db.Delegate(RoleSigner, wallet); ok {
		e.Delegate = &d
	}
	return e
}

// CanSign reports whether a signature recovered to signatory is accepted
// for wallet.
func (r *Registry) CanSign(wallet, signatory common.Address) bool {
	return r.Effective(wallet).Accepts(signatory)
}

// CanSend reports whether caller may submit as the sender wallet.
func (r *Registry) CanSend(wallet, caller common.Address) bool {
	if wallet == caller {
		return true
	}
	d, ok := r.db.Delegate(RoleSender, wallet)
	return ok && d == caller
}
