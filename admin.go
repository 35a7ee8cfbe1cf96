package swap

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/airswap/airswap-protocols-sub002/events"
	"github.com/airswap/airswap-protocols-sub002/state"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

func (s *Swap) Owner() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Owner()
}

// FeeConfig returns the active protocol fee settings
func (s *Swap) FeeConfig() state.FeeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees.Config()
}

// Kinds lists the kinds with a bound adapter
func (s *Swap) Kinds() []transfer.Kind {
	return s.dispatcher.Kinds()
}

// onlyOwner runs fn as one unit of work when caller is the owner. fn
// returns the event to emit, or nil.
func (s *Swap) onlyOwner(ctx context.Context, caller common.Address, action string, fn func() (events.Event, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner := s.db.Owner(); caller != owner {
		return newError(CodeUnauthorized, fmt.Errorf("%s: caller %s is not the owner", action, caller.Hex()))
	}
	u := s.db.Begin()
	defer u.End()
	e, err := fn()
	if err != nil {
		u.Revert()
		return err
	}
	if err := s.commit(ctx, u); err != nil {
		return err
	}
	if e != nil {
		s.emit(e)
	}
	s.log.WithFields(logrus.Fields{"action": action, "owner": caller.Hex()}).Info("admin change applied")
	return nil
}

// SetProtocolFee changes the fee rate orders must be signed with
func (s *Swap) SetProtocolFee(ctx context.Context, caller common.Address, bps uint64) error {
	return s.onlyOwner(ctx, caller, "set protocol fee", func() (events.Event, error) {
		if err := s.fees.SetRate(bps); err != nil {
			return nil, wrap(err, CodeProtocolFeeInvalid)
		}
		return events.FeeRateChanged{Bps: bps}, nil
	})
}

// SetProtocolFeeLight replaces the sanctioned light fee tiers
func (s *Swap) SetProtocolFeeLight(ctx context.Context, caller common.Address, tiers []uint64) error {
	return s.onlyOwner(ctx, caller, "set light protocol fee", func() (events.Event, error) {
		if err := s.fees.SetLightRates(tiers); err != nil {
			return nil, wrap(err, CodeProtocolFeeInvalid)
		}
		return events.LightFeeRatesChanged{Bps: append([]uint64(nil), tiers...)}, nil
	})
}

func (s *Swap) SetProtocolFeeWallet(ctx context.Context, caller, wallet common.Address) error {
	return s.onlyOwner(ctx, caller, "set protocol fee wallet", func() (events.Event, error) {
		if err := s.fees.SetWallet(wallet); err != nil {
			return nil, wrap(err, CodeProtocolFeeWalletInvalid)
		}
		return events.FeeWalletChanged{Wallet: wallet}, nil
	})
}

// SetAdapter binds adapter to its kind, replacing any existing binding
func (s *Swap) SetAdapter(ctx context.Context, caller common.Address, adapter transfer.Adapter) error {
	if adapter == nil {
		return &InvalidParamError{Message: "adapter is required"}
	}
	return s.onlyOwner(ctx, caller, "set adapter", func() (events.Event, error) {
		replaced := s.dispatcher.Register(adapter)
		return events.AdapterSet{Kind: adapter.Kind(), Replaced: replaced}, nil
	})
}

// RemoveAdapter unbinds kind; orders using it then fail with TokenKindUnknown
func (s *Swap) RemoveAdapter(ctx context.Context, caller common.Address, kind transfer.Kind) error {
	return s.onlyOwner(ctx, caller, "remove adapter", func() (events.Event, error) {
		if !s.dispatcher.Remove(kind) {
			return nil, newError(CodeTokenKindUnknown, fmt.Errorf("%w: %s", transfer.ErrKindUnknown, kind))
		}
		return events.AdapterRemoved{Kind: kind}, nil
	})
}

func (s *Swap) TransferOwnership(ctx context.Context, caller, owner common.Address) error {
	return s.onlyOwner(ctx, caller, "transfer ownership", func() (events.Event, error) {
		if owner == (common.Address{}) {
			return nil, newError(CodeOwnerInvalid, fmt.Errorf("owner is the zero address"))
		}
		s.db.SetOwner(owner)
		return events.OwnershipTransferred{Previous: caller, Owner: owner}, nil
	})
}
