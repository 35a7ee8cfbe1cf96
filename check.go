package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airswap/airswap-protocols-sub002/chain"
	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/nonce"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

// plan is what a validated order will do
type plan struct {
	sender    common.Address
	recipient common.Address
	fees      fee.Breakdown
}

type feeLeg struct {
	to     common.Address
	amount *big.Int
}

// feeLegs lists the fee payments with a non-zero amount.
func (p *plan) feeLegs() []feeLeg {
	var legs []feeLeg
	for _, leg := range []feeLeg{
		{p.fees.ProtocolWallet, p.fees.Protocol},
		{p.fees.AffiliateWallet, p.fees.Affiliate},
		{p.fees.Royalty.Recipient, p.fees.Royalty.Amount},
	} {
		if leg.amount != nil && leg.amount.Sign() != 0 {
			legs = append(legs, leg)
		}
	}
	return legs
}

// verdict accumulates failures. In fail-fast mode only the first is kept and
// stop reports true after it.
type verdict struct {
	collect bool
	codes   []Code
	first   *Error
}

func (v *verdict) fail(code Code, err error) {
	for _, c := range v.codes {
		if c == code {
			return
		}
	}
	v.codes = append(v.codes, code)
	if v.first == nil {
		v.first = newError(code, err)
	}
}

func (v *verdict) stop() bool {
	return !v.collect && v.first != nil
}

func (v *verdict) err() error {
	if v.first == nil {
		return nil
	}
	return v.first
}

// validate runs the validation pipeline. With collect set it continues past
// failures and adds the balance, allowance and transferability rules that
// Settle leaves to the transfers themselves. The plan is nil only
// when validation stopped before the sender was resolved.
func (s *Swap) validate(ctx context.Context, req Request, collect bool) (*plan, *verdict) {
	v := &verdict{collect: collect}
	order := &req.Order
	signer, sender := order.Signer, order.Sender

	if order.Expiry <= uint64(s.now().Unix()) {
		v.fail(CodeOrderExpired, fmt.Errorf("expired at %d", order.Expiry))
		if v.stop() {
			return nil, v
		}
	}

	if err := s.nonces.Check(signer.Wallet, order.Nonce); err != nil {
		code := CodeNonceAlreadyUsed
		if errors.Is(err, nonce.ErrNonceTooLow) {
			code = CodeNonceTooLow
		}
		v.fail(code, err)
		if v.stop() {
			return nil, v
		}
	}

	// the digest cannot tell apart values that wrap around 2^256
	if err := order.checkRanges(); err != nil {
		v.fail(CodeAmountOrIDInvalid, err)
		if v.stop() {
			return nil, v
		}
	}

	recovered, err := order.RecoverSigner(s.domain)
	switch {
	case errors.Is(err, chain.ErrFieldRange):
		// already reported as AmountOrIDInvalid
	case err != nil:
		v.fail(CodeSignatureInvalid, err)
	case !s.authz.CanSign(signer.Wallet, recovered):
		v.fail(CodeUnauthorized, fmt.Errorf("signed by %s", recovered.Hex()))
	}
	if v.stop() {
		return nil, v
	}

	if req.Light {
		if !s.fees.MatchesLight(order.ProtocolFee) {
			v.fail(CodeInvalidFee, fmt.Errorf("fee %d is not a light tier", order.ProtocolFee))
		}
	} else if cfg := s.fees.Config(); cfg.Bps != order.ProtocolFee {
		v.fail(CodeInvalidFee, fmt.Errorf("fee %d, active %d", order.ProtocolFee, cfg.Bps))
	}
	if v.stop() {
		return nil, v
	}

	p := &plan{sender: sender.Wallet, recipient: req.Recipient}
	switch {
	case order.Open() && req.Caller == (common.Address{}):
		v.fail(CodeSenderInvalid, errors.New("open order filled by the zero address"))
	case order.Open():
		p.sender = req.Caller
	case !s.authz.CanSend(sender.Wallet, req.Caller):
		v.fail(CodeSenderInvalid, fmt.Errorf("caller %s", req.Caller.Hex()))
	}
	if v.stop() {
		return p, v
	}
	if p.recipient == (common.Address{}) {
		p.recipient = p.sender
	}

	signerAdapter := s.party(v, signer)
	if v.stop() {
		return p, v
	}
	senderAdapter := s.party(v, sender)
	if v.stop() {
		return p, v
	}
	if sender.Kind != s.requiredSenderKind {
		v.fail(CodeSenderTokenInvalid, fmt.Errorf("sender kind %s, required %s",
			sender.Kind.Name(), s.requiredSenderKind.Name()))
		if v.stop() {
			return p, v
		}
	}

	if signer.Wallet == p.sender && signer.Token == sender.Token && signer.Kind == sender.Kind {
		v.fail(CodeSelfTransferInvalid, fmt.Errorf("wallet %s on both sides", signer.Wallet.Hex()))
		if v.stop() {
			return p, v
		}
	}

	fees, err := s.fees.Quote(orZero(sender.Amount), order.ProtocolFee, order.Affiliate.Wallet, order.Affiliate.Amount)
	if err != nil {
		v.fail(CodeAmountOrIDInvalid, err)
		if v.stop() {
			return p, v
		}
	}
	p.fees = fees
	if !req.Light && signer.Kind.NonFungible() {
		royalty, err := s.fees.Royalty(ctx, signer.Token, orZero(signer.ID), orZero(sender.Amount), req.MaxRoyalty)
		switch {
		case errors.Is(err, fee.ErrRoyaltyExceedsMax):
			v.fail(CodeRoyaltyExceedsMax, err)
		case err != nil:
			v.fail(CodeRoyaltyUnavailable, err)
		default:
			p.fees.Royalty = royalty
		}
		if v.stop() {
			return p, v
		}
	}

	if !collect {
		return p, v
	}

	if signerAdapter != nil {
		s.funds(ctx, v, signerAdapter, signer, signer.Wallet, orZero(signer.Amount),
			CodeSignerBalanceLow, CodeSignerAllowanceLow)
	}
	if senderAdapter != nil {
		total := new(big.Int).Add(orZero(sender.Amount), p.fees.Total())
		s.funds(ctx, v, senderAdapter, sender, p.sender, total,
			CodeSenderBalanceLow, CodeSenderAllowanceLow)
	}

	if signerAdapter != nil {
		s.transferable(ctx, v, signerAdapter, signer.Token, p.recipient)
	}
	if senderAdapter != nil {
		to := []common.Address{signer.Wallet}
		for _, leg := range p.feeLegs() {
			to = append(to, leg.to)
		}
		s.transferable(ctx, v, senderAdapter, sender.Token, to...)
	}
	return p, v
}

// transferable checks that token can currently move to every recipient.
func (s *Swap) transferable(ctx context.Context, v *verdict, a transfer.Adapter, token common.Address, to ...common.Address) {
	for _, r := range to {
		if err := a.Transferable(ctx, token, r); err != nil {
			v.fail(CodeTransferBlocked, err)
			return
		}
	}
}

// party resolves the adapter for a party and checks its id/amount shape.
func (s *Swap) party(v *verdict, p Party) transfer.Adapter {
	a, ok := s.dispatcher.Adapter(p.Kind)
	if !ok {
		v.fail(CodeTokenKindUnknown, fmt.Errorf("%w: %s", transfer.ErrKindUnknown, p.Kind))
		return nil
	}
	if !a.ValidParty(p.ID, p.Amount) {
		v.fail(CodeAmountOrIDInvalid, fmt.Errorf("%w: %s id=%s amount=%s",
			transfer.ErrAmountOrID, p.Kind.Name(), orZero(p.ID), orZero(p.Amount)))
	}
	return a
}

// funds checks that owner holds and has approved amount of p's token.
func (s *Swap) funds(ctx context.Context, v *verdict, a transfer.Adapter, p Party, owner common.Address, amount *big.Int, balanceLow, allowanceLow Code) {
	ok, err := a.HasBalance(ctx, p.Token, owner, orZero(p.ID), amount)
	if err != nil || !ok {
		v.fail(balanceLow, err)
	}
	ok, err = a.HasAllowance(ctx, p.Token, owner, s.address, orZero(p.ID), amount)
	if err != nil || !ok {
		v.fail(allowanceLow, err)
	}
}
