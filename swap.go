// Package swap is the settlement kernel of a peer-to-peer token exchange:
// it authenticates signed orders, guards them against replay, computes
// protocol, affiliate and royalty fees, and moves both assets as one atomic
// unit of work.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/airswap/airswap-protocols-sub002/authz"
	"github.com/airswap/airswap-protocols-sub002/chain"
	"github.com/airswap/airswap-protocols-sub002/events"
	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/metrics"
	"github.com/airswap/airswap-protocols-sub002/nonce"
	"github.com/airswap/airswap-protocols-sub002/state"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

// Swap settles orders for one deployment. Every state-mutating operation
// holds the write lock for its whole unit of work, which gives each nonce
// at-most-once settlement.
type Swap struct {
	mu sync.RWMutex

	address            common.Address
	domain             *chain.EIP712Domain
	requiredSenderKind transfer.Kind

	db         *state.DB
	nonces     *nonce.Registry
	authz      *authz.Registry
	dispatcher *transfer.Dispatcher
	fees       *fee.Engine

	log     logrus.FieldLogger
	sink    events.Sink
	metrics *metrics.Collector
	now     func() time.Time
}

type options struct {
	log       logrus.FieldLogger
	sink      events.Sink
	metrics   *metrics.Collector
	royalties fee.RoyaltyProvider
	now       func() time.Time
}

// Option configures a Swap
type Option func(*options)

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithSink receives every emitted event
func WithSink(sink events.Sink) Option {
	return func(o *options) { o.sink = sink }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithRoyaltyProvider enables ERC2981 royalties on non-fungible signer legs
func WithRoyaltyProvider(p fee.RoyaltyProvider) Option {
	return func(o *options) { o.royalties = p }
}

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a kernel over db and dispatcher. Owner and fee settings from cfg
// seed a fresh state; a state loaded from storage keeps its own.
func New(ctx context.Context, cfg *Config, db *state.DB, dispatcher *transfer.Dispatcher, opts ...Option) (*Swap, error) {
	if cfg == nil {
		return nil, &InvalidParamError{Message: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if db == nil {
		db = state.New()
	}
	if dispatcher == nil {
		dispatcher = transfer.NewDispatcher()
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}

	s := &Swap{
		address:            cfg.ContractAddress,
		domain:             chain.NewEIP712Domain(big.NewInt(int64(cfg.ChainID)), cfg.ContractAddress),
		requiredSenderKind: cfg.RequiredSenderKind,
		db:                 db,
		nonces:             nonce.New(db),
		authz:              authz.New(db),
		dispatcher:         dispatcher,
		fees:               fee.New(db, o.royalties),
		log:                o.log.WithField("swap", cfg.ContractAddress.Hex()),
		sink:               o.sink,
		metrics:            o.metrics,
		now:                o.now,
	}
	if s.requiredSenderKind == (transfer.Kind{}) {
		s.requiredSenderKind = transfer.KindERC20
	}

	if db.Owner() == (common.Address{}) {
		u := db.Begin()
		defer u.End()
		db.SetOwner(cfg.Owner)
		db.SetFeeConfig(state.FeeConfig{
			Bps:      cfg.ProtocolFee,
			LightBps: cfg.ProtocolFeeLight,
			Wallet:   cfg.ProtocolFeeWallet,
		})
		if err := s.commit(ctx, u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Address is the kernel's own address, the spender approved by both parties
func (s *Swap) Address() common.Address { return s.address }

// Domain is the EIP712 domain orders must be signed for
func (s *Swap) Domain() *chain.EIP712Domain { return s.domain }

func (s *Swap) emit(e events.Event) {
	if s.sink != nil {
		s.sink.Emit(e)
	}
}

// commit makes the open unit of work durable, reverting it if the changes
// cannot be persisted.
func (s *Swap) commit(ctx context.Context, u *state.Unit) error {
	if err := s.db.Commit(ctx); err != nil {
		u.Revert()
		return newError(CodeCommitFailed, err)
	}
	return nil
}

// Settle validates req.Order and, in one atomic unit, consumes its nonce and
// moves the signer's asset, the sender's asset and every fee leg. On failure
// nothing is applied; the returned receipt is in StateRejected and the error
// is an *Error carrying the reason.
func (s *Swap) Settle(ctx context.Context, req Request) (*Receipt, error) {
	start := time.Now()
	s.mu.Lock()
	rc, err := s.settle(ctx, req)
	s.mu.Unlock()

	fields := logrus.Fields{
		"nonce":  req.Order.Nonce,
		"signer": req.Order.Signer.Wallet.Hex(),
		"sender": rc.Sender.Hex(),
	}
	if err != nil {
		rc.Reached, rc.State, rc.Code = rc.State, StateRejected, CodeOf(err)
		s.log.WithFields(fields).WithField("code", rc.Code).WithError(err).Info("settlement rejected")
		if s.metrics != nil {
			s.metrics.RecordRejection(string(rc.Code), time.Since(start))
		}
		return rc, err
	}

	s.log.WithFields(fields).WithField("light", req.Light).Info("order settled")
	if s.metrics != nil {
		s.metrics.RecordSettlement(req.Light, time.Since(start))
		s.metrics.RecordFee(metrics.FeeProtocol, rc.Fees.Protocol)
		s.metrics.RecordFee(metrics.FeeAffiliate, rc.Fees.Affiliate)
		s.metrics.RecordFee(metrics.FeeRoyalty, rc.Fees.Royalty.Amount)
	}
	return rc, nil
}

func (s *Swap) settle(ctx context.Context, req Request) (*Receipt, error) {
	order := &req.Order
	rc := &Receipt{
		Nonce:  order.Nonce,
		Signer: order.Signer.Wallet,
		Light:  req.Light,
		State:  StateReceived,
	}

	p, v := s.validate(ctx, req, false)
	if p != nil {
		rc.Sender, rc.Recipient, rc.Fees = p.sender, p.recipient, p.fees
	}
	if err := v.err(); err != nil {
		return rc, err
	}
	rc.State = StateValidated

	// token hosts writing outside the unit wait until it ends
	u := s.db.Begin()
	defer u.End()
	ctx = state.WithUnit(ctx, u)
	fail := func(err error) (*Receipt, error) {
		u.Revert()
		return rc, err
	}

	if err := s.nonces.Consume(order.Signer.Wallet, order.Nonce); err != nil {
		return fail(wrap(err, CodeNonceAlreadyUsed))
	}
	rc.State = StateNonceConsumed

	signer, sender := order.Signer, order.Sender
	if err := s.move(ctx, signer, signer.Wallet, p.recipient, signer.ID, signer.Amount); err != nil {
		return fail(err)
	}
	if err := s.move(ctx, sender, p.sender, signer.Wallet, sender.ID, sender.Amount); err != nil {
		return fail(err)
	}
	rc.State = StateAssetsTransferred

	for _, leg := range p.feeLegs() {
		if err := s.move(ctx, sender, p.sender, leg.to, sender.ID, leg.amount); err != nil {
			return fail(err)
		}
	}
	rc.State = StateFeesTransferred

	if err := s.commit(ctx, u); err != nil {
		return rc, err
	}
	rc.State = StateSettled

	s.emit(events.Settlement{
		Nonce:            order.Nonce,
		Signer:           leg(signer.Wallet, signer),
		Sender:           leg(p.sender, sender),
		Recipient:        p.recipient,
		ProtocolFee:      p.fees.Protocol,
		FeeWallet:        p.fees.ProtocolWallet,
		AffiliateWallet:  p.fees.AffiliateWallet,
		AffiliateAmount:  p.fees.Affiliate,
		RoyaltyRecipient: p.fees.Royalty.Recipient,
		RoyaltyAmount:    p.fees.Royalty.Amount,
		Light:            req.Light,
	})
	return rc, nil
}

func leg(wallet common.Address, p Party) events.Leg {
	return events.Leg{
		Wallet: wallet,
		Token:  p.Token,
		Kind:   p.Kind,
		ID:     orZero(p.ID),
		Amount: orZero(p.Amount),
	}
}

// move transfers p's token through the dispatcher with the kernel as
// spender.
func (s *Swap) move(ctx context.Context, p Party, from, to common.Address, id, amount *big.Int) error {
	err := s.dispatcher.Transfer(ctx, p.Kind, p.Token, s.address, from, to, orZero(id), orZero(amount))
	if err == nil {
		return nil
	}
	if errors.Is(err, transfer.ErrKindUnknown) {
		return newError(CodeTokenKindUnknown, err)
	}
	return newError(CodeTransferFailed, fmt.Errorf("transfer %s of %s from %s to %s: %w",
		p.Kind.Name(), p.Token.Hex(), from.Hex(), to.Hex(), err))
}

// Check runs every validation rule without side effects, including the
// balance, allowance and transferability rules Settle leaves to the
// transfers, and reports each failing code once in pipeline order.
func (s *Swap) Check(ctx context.Context, req Request) Result {
	s.mu.RLock()
	_, v := s.validate(ctx, req, true)
	s.mu.RUnlock()

	res := Result{Errors: v.codes, Count: len(v.codes)}
	if s.metrics != nil {
		s.metrics.RecordCheck(res.Count)
	}
	s.log.WithFields(logrus.Fields{
		"nonce":  req.Order.Nonce,
		"signer": req.Order.Signer.Wallet.Hex(),
		"errors": res.Count,
	}).Debug("order checked")
	return res
}
