package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airswap/airswap-protocols-sub002/chain"
	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

// Party is one side of an order
type Party struct {
	Wallet common.Address `json:"wallet"`
	Token  common.Address `json:"token"`
	Kind   transfer.Kind  `json:"kind"`
	ID     *big.Int       `json:"id"`
	Amount *big.Int       `json:"amount"`
}

// Affiliate is an optional flat payment chosen by the signer
type Affiliate struct {
	Wallet common.Address `json:"wallet"`
	Amount *big.Int       `json:"amount"`
}

// Signature is an ECDSA signature with v in {27, 28}
type Signature struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// Order is a signed intent to exchange the signer's asset for the sender's
type Order struct {
	Nonce       uint64    `json:"nonce"`
	Expiry      uint64    `json:"expiry"`
	ProtocolFee uint64    `json:"protocolFee"`
	Signer      Party     `json:"signer"`
	Sender      Party     `json:"sender"`
	Affiliate   Affiliate `json:"affiliate"`
	Signature   Signature `json:"signature"`
}

// Open reports whether any caller may fill the order as sender
func (o *Order) Open() bool {
	return o.Sender.Wallet == (common.Address{})
}

func (p Party) typedData() chain.PartyTypedData {
	return chain.PartyTypedData{
		Wallet: p.Wallet,
		Token:  p.Token,
		Kind:   [4]byte(p.Kind),
		ID:     orZero(p.ID),
		Amount: orZero(p.Amount),
	}
}

// TypedData converts the order to its EIP712 representation
func (o *Order) TypedData() *chain.OrderTypedData {
	return &chain.OrderTypedData{
		Nonce:           new(big.Int).SetUint64(o.Nonce),
		Expiry:          new(big.Int).SetUint64(o.Expiry),
		ProtocolFee:     new(big.Int).SetUint64(o.ProtocolFee),
		Signer:          o.Signer.typedData(),
		Sender:          o.Sender.typedData(),
		AffiliateWallet: o.Affiliate.Wallet,
		AffiliateAmount: orZero(o.Affiliate.Amount),
	}
}

// Hash returns the digest signed for domain
func (o *Order) Hash(domain *chain.EIP712Domain) common.Hash {
	return chain.CreateOrderSignHash(domain, o.TypedData())
}

// checkRanges rejects numeric fields outside the uint256 range and an
// affiliate amount signed without an affiliate wallet.
func (o *Order) checkRanges() error {
	fields := []struct {
		name  string
		value *big.Int
	}{
		{"signer id", o.Signer.ID},
		{"signer amount", o.Signer.Amount},
		{"sender id", o.Sender.ID},
		{"sender amount", o.Sender.Amount},
		{"affiliate amount", o.Affiliate.Amount},
	}
	for _, f := range fields {
		if f.value != nil && (f.value.Sign() < 0 || f.value.Cmp(maxUint256) > 0) {
			return fmt.Errorf("%w: %s %s out of range", transfer.ErrAmountOrID, f.name, f.value)
		}
	}
	return fee.CheckAffiliate(o.Affiliate.Wallet, o.Affiliate.Amount)
}

// RecoverSigner returns the address that signed the order for domain
func (o *Order) RecoverSigner(domain *chain.EIP712Domain) (common.Address, error) {
	if err := o.TypedData().Validate(); err != nil {
		return common.Address{}, err
	}
	return chain.RecoverSigner(o.Hash(domain), o.Signature.V, o.Signature.R, o.Signature.S)
}

// Sign fills in the order signature using builder's key and domain
func (o *Order) Sign(builder *chain.OrderBuilder) error {
	v, r, s, err := builder.SignOrder(o.TypedData())
	if err != nil {
		return err
	}
	o.Signature = Signature{V: v, R: r, S: s}
	return nil
}

// Request is one settlement or preflight call
type Request struct {
	// Caller submits the order; it is the sender for open orders
	Caller common.Address
	// Recipient receives the signer's asset, defaulting to the sender
	Recipient common.Address
	// MaxRoyalty caps the royalty the sender accepts to pay
	MaxRoyalty *big.Int
	// Light settles against the light fee tiers and skips royalties
	Light bool
	Order Order
}

// State is a settlement's position in its lifecycle
type State int

const (
	StateReceived State = iota
	StateValidated
	StateNonceConsumed
	StateAssetsTransferred
	StateFeesTransferred
	StateSettled
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateValidated:
		return "Validated"
	case StateNonceConsumed:
		return "NonceConsumed"
	case StateAssetsTransferred:
		return "AssetsTransferred"
	case StateFeesTransferred:
		return "FeesTransferred"
	case StateSettled:
		return "Settled"
	case StateRejected:
		return "Rejected"
	}
	return "Unknown"
}

// Receipt describes the outcome of Settle. For a rejected settlement,
// Reached is the last state entered before the failure and nothing it
// describes was applied.
type Receipt struct {
	Nonce     uint64
	Signer    common.Address
	Sender    common.Address
	Recipient common.Address
	Light     bool
	State     State
	Reached   State
	Code      Code
	Fees      fee.Breakdown
}

// Result is the outcome of a preflight check
type Result struct {
	Errors []Code
	Count  int
}

// OK reports whether the order would settle
func (r Result) OK() bool {
	return r.Count == 0
}

// Has reports whether code was reported
func (r Result) Has(code Code) bool {
	for _, c := range r.Errors {
		if c == code {
			return true
		}
	}
	return false
}
