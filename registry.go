package swap

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/airswap/airswap-protocols-sub002/authz"
	"github.com/airswap/airswap-protocols-sub002/events"
	"github.com/airswap/airswap-protocols-sub002/state"
)

// Cancel marks nonces of caller used so orders signed with them can no
// longer settle. It returns the nonces that were newly cancelled.
func (s *Swap) Cancel(ctx context.Context, caller common.Address, nonces []uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.db.Begin()
	defer u.End()
	cancelled := s.nonces.Cancel(caller, nonces)
	if len(cancelled) == 0 {
		return nil, nil
	}
	if err := s.commit(ctx, u); err != nil {
		return nil, err
	}

	s.emit(events.NonceCancelled{Signer: caller, Nonces: cancelled})
	s.log.WithFields(logrus.Fields{"signer": caller.Hex(), "count": len(cancelled)}).Info("nonces cancelled")
	if s.metrics != nil {
		s.metrics.RecordCancellation("nonce", len(cancelled))
	}
	return cancelled, nil
}

// CancelUpTo invalidates every nonce of caller below n. Values at or below
// the current minimum are ignored and report false.
func (s *Swap) CancelUpTo(ctx context.Context, caller common.Address, n uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.db.Begin()
	defer u.End()
	if !s.nonces.CancelUpTo(caller, n) {
		return false, nil
	}
	if err := s.commit(ctx, u); err != nil {
		return false, err
	}

	s.emit(events.MinimumNonceRaised{Signer: caller, Minimum: n})
	s.log.WithFields(logrus.Fields{"signer": caller.Hex(), "minimum": n}).Info("minimum nonce raised")
	if s.metrics != nil {
		s.metrics.RecordCancellation("minimum", 1)
	}
	return true, nil
}

// NonceUsed reports whether nonce can no longer settle for signer
func (s *Swap) NonceUsed(signer common.Address, n uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces.IsUsed(signer, n)
}

func (s *Swap) MinimumNonce(signer common.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces.MinimumNonce(signer)
}

// Authorize lets delegate sign orders on behalf of caller, replacing any
// previous delegate.
func (s *Swap) Authorize(ctx context.Context, caller, delegate common.Address) error {
	return s.authorize(ctx, state.RoleSigner, caller, delegate)
}

// Revoke removes caller's signing delegate. It is a no-op when none is set.
func (s *Swap) Revoke(ctx context.Context, caller common.Address) error {
	return s.revoke(ctx, state.RoleSigner, caller)
}

// AuthorizeSender lets delegate submit orders whose sender is caller
func (s *Swap) AuthorizeSender(ctx context.Context, caller, delegate common.Address) error {
	return s.authorize(ctx, state.RoleSender, caller, delegate)
}

func (s *Swap) RevokeSender(ctx context.Context, caller common.Address) error {
	return s.revoke(ctx, state.RoleSender, caller)
}

// Authorized returns wallet's signing delegate
func (s *Swap) Authorized(wallet common.Address) (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authz.Delegate(state.RoleSigner, wallet)
}

// AuthorizedSender returns wallet's submitting delegate
func (s *Swap) AuthorizedSender(wallet common.Address) (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authz.Delegate(state.RoleSender, wallet)
}

// EffectiveSigner returns the addresses whose signatures count for wallet
func (s *Swap) EffectiveSigner(wallet common.Address) authz.EffectiveSigner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authz.Effective(wallet)
}

func (s *Swap) authorize(ctx context.Context, role state.Role, caller, delegate common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.db.Begin()
	defer u.End()
	previous, err := s.authz.Authorize(role, caller, delegate)
	if err != nil {
		return wrap(err, CodeDelegateInvalid)
	}
	if err := s.commit(ctx, u); err != nil {
		return err
	}

	if previous != nil && *previous != delegate {
		s.emit(revoked(role, caller, *previous))
	}
	s.emit(authorized(role, caller, delegate))
	s.log.WithFields(logrus.Fields{
		"role":     role.String(),
		"wallet":   caller.Hex(),
		"delegate": delegate.Hex(),
	}).Info("delegate authorized")
	if s.metrics != nil {
		s.metrics.RecordDelegation(role.String(), "authorize")
	}
	return nil
}

func (s *Swap) revoke(ctx context.Context, role state.Role, caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.db.Begin()
	defer u.End()
	previous, ok := s.authz.Revoke(role, caller)
	if !ok {
		return nil
	}
	if err := s.commit(ctx, u); err != nil {
		return err
	}

	s.emit(revoked(role, caller, previous))
	s.log.WithFields(logrus.Fields{
		"role":     role.String(),
		"wallet":   caller.Hex(),
		"delegate": previous.Hex(),
	}).Info("delegate revoked")
	if s.metrics != nil {
		s.metrics.RecordDelegation(role.String(), "revoke")
	}
	return nil
}

func authorized(role state.Role, wallet, delegate common.Address) events.Event {
	if role == state.RoleSender {
		return events.SenderAuthorized{Wallet: wallet, Delegate: delegate}
	}
	return events.SignerAuthorized{Wallet: wallet, Delegate: delegate}
}

func revoked(role state.Role, wallet, delegate common.Address) events.Event {
	if role == state.RoleSender {
		return events.SenderRevoked{Wallet: wallet, Delegate: delegate}
	}
	return events.SignerRevoked{Wallet: wallet, Delegate: delegate}
}
