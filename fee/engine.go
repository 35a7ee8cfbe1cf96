// Package fee computes protocol, affiliate and royalty amounts for a
// settlement and guards against orders signed under a stale fee rate.
package fee

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airswap/airswap-protocols-sub002/state"
)

const (
	// Divisor is the basis-point denominator for protocol fees.
	Divisor = 10000
	// RoyaltyDenominator is the denominator of ERC-2981 royalty fractions.
	RoyaltyDenominator = 10000
)

var (
	ErrRateInvalid       = errors.New("protocol fee invalid")
	ErrWalletInvalid     = errors.New("protocol fee wallet invalid")
	ErrRoyaltyExceedsMax = errors.New("royalty exceeds max")
	ErrAffiliateInvalid  = errors.New("affiliate amount without affiliate wallet")
)

// RoyaltyProvider answers ERC-2981 royalty queries for a token contract.
type RoyaltyProvider interface {
	SupportsRoyalties(ctx context.Context, token common.Address) (bool, error)
	RoyaltyInfo(ctx context.Context, token common.Address, id, salePrice *big.Int) (common.Address, *big.Int, error)
}

// Royalty is a royalty payment owed on a settlement.
type Royalty struct {
	Recipient common.Address
	Amount    *big.Int
}

// Breakdown itemizes the amounts paid on top of the sender amount.
type Breakdown struct {
	Protocol        *big.Int
	ProtocolWallet  common.Address
	Affiliate       *big.Int
	AffiliateWallet common.Address
	Royalty         Royalty
}

// Total is the sum of all fee legs.
func (b Breakdown) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{b.Protocol, b.Affiliate, b.Royalty.Amount} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

type Engine struct {
	db        *state.DB
	royalties RoyaltyProvider
}

// New returns an engine reading its configuration from db. royalties may be
// nil, in which case no royalty is ever owed.
func New(db *state.DB, royalties RoyaltyProvider) *Engine {
	return &Engine{db: db, royalties: royalties}
}

func (e *Engine) Config() state.FeeConfig {
	return e.db.FeeConfig()
}

// ProtocolFee returns floor(amount * bps / Divisor).
func ProtocolFee(amount *big.Int, bps uint64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(Divisor))
}

// Matches reports whether an order's fee equals the active rate.
func (e *Engine) Matches(bps uint64) bool {
	return e.db.FeeConfig().Bps == bps
}

// MatchesLight reports whether an order's fee is one of the sanctioned light
// tiers.
func (e *Engine) MatchesLight(bps uint64) bool {
	for _, tier := range e.db.FeeConfig().LightBps {
		if tier == bps {
			return true
		}
	}
	return false
}

// Royalty returns the royalty owed when token implements ERC-2981. A royalty
// above max fails with ErrRoyaltyExceedsMax; a nil max means zero.
func (e *Engine) Royalty(ctx context.Context, token common.Address, id, salePrice, max *big.Int) (Royalty, error) {
	none := Royalty{Amount: new(big.Int)}
	if e.royalties == nil {
		return none, nil
	}
	ok, err := e.royalties.SupportsRoyalties(ctx, token)
	if err != nil {
		return none, fmt.Errorf("query royalty support: %w", err)
	}
	if !ok {
		return none, nil
	}
	recipient, amount, err := e.royalties.RoyaltyInfo(ctx, token, id, salePrice)
	if err != nil {
		return none, fmt.Errorf("query royalty info: %w", err)
	}
	if amount == nil || amount.Sign() == 0 {
		return none, nil
	}
	if recipient == (common.Address{}) {
		return none, fmt.Errorf("royalty of %s owed to the zero address", amount)
	}
	if max == nil || amount.Cmp(max) > 0 {
		return none, fmt.Errorf("%w: %s", ErrRoyaltyExceedsMax, amount)
	}
	return Royalty{Recipient: recipient, Amount: new(big.Int).Set(amount)}, nil
}

// CheckAffiliate rejects a signed affiliate amount that has no wallet to
// be paid to.
func CheckAffiliate(wallet common.Address, amount *big.Int) error {
	if wallet == (common.Address{}) && amount != nil && amount.Sign() != 0 {
		return fmt.Errorf("%w: %s", ErrAffiliateInvalid, amount)
	}
	return nil
}

// Quote itemizes the protocol and affiliate legs for senderAmount at bps.
// The royalty leg is left empty; see Royalty.
func (e *Engine) Quote(senderAmount *big.Int, bps uint64, affiliate common.Address, affiliateAmount *big.Int) (Breakdown, error) {
	b := Breakdown{
		Protocol:       ProtocolFee(senderAmount, bps),
		ProtocolWallet: e.db.FeeConfig().Wallet,
		Affiliate:      new(big.Int),
		Royalty:        Royalty{Amount: new(big.Int)},
	}
	if err := CheckAffiliate(affiliate, affiliateAmount); err != nil {
		return b, err
	}
	if affiliateAmount != nil && affiliateAmount.Sign() > 0 {
		b.Affiliate.Set(affiliateAmount)
		b.AffiliateWallet = affiliate
	}
	return b, nil
}

// SetRate changes the active protocol fee.
func (e *Engine) SetRate(bps uint64) error {
	if bps >= Divisor {
		return fmt.Errorf("%w: %d", ErrRateInvalid, bps)
	}
	cfg := e.db.FeeConfig()
	cfg.Bps = bps
	e.db.SetFeeConfig(cfg)
	return nil
}

// SetLightRates replaces the sanctioned light tiers.
func (e *Engine) SetLightRates(tiers []uint64) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no light tiers", ErrRateInvalid)
	}
	for _, bps := range tiers {
		if bps >= Divisor {
			return fmt.Errorf("%w: %d", ErrRateInvalid, bps)
		}
	}
	cfg := e.db.FeeConfig()
	cfg.LightBps = append([]uint64(nil), tiers...)
	e.db.SetFeeConfig(cfg)
	return nil
}

func (e *Engine) SetWallet(wallet common.Address) error {
	if wallet == (common.Address{}) {
		return ErrWalletInvalid
	}
	cfg := e.db.FeeConfig()
	cfg.Wallet = wallet
	e.db.SetFeeConfig(cfg)
	return nil
}
