// Package events defines the notifications emitted by the settlement kernel
// and the sinks that receive them.
package events

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/airswap/airswap-protocols-sub002/transfer"
)

// Event names, also used as feed channels.
const (
	NameSettlement           = "swap.settlement"
	NameNonceCancelled       = "nonce.cancelled"
	NameMinimumNonceRaised   = "nonce.minimum_raised"
	NameSignerAuthorized     = "authz.signer_authorized"
	NameSignerRevoked        = "authz.signer_revoked"
	NameSenderAuthorized     = "authz.sender_authorized"
	NameSenderRevoked        = "authz.sender_revoked"
	NameFeeRateChanged       = "fee.rate_changed"
	NameLightFeeRatesChanged = "fee.light_rates_changed"
	NameFeeWalletChanged     = "fee.wallet_changed"
	NameAdapterSet           = "transfer.adapter_set"
	NameAdapterRemoved       = "transfer.adapter_removed"
	NameOwnershipTransferred = "admin.ownership_transferred"
)

type Event interface {
	EventName() string
}

// Leg is one side of a settled order.
type Leg struct {
	Wallet common.Address `json:"wallet"`
	Token  common.Address `json:"token"`
	Kind   transfer.Kind  `json:"kind"`
	ID     *big.Int       `json:"id"`
	Amount *big.Int       `json:"amount"`
}

// Settlement is emitted once per settled order.
type Settlement struct {
	Nonce            uint64         `json:"nonce"`
	Signer           Leg            `json:"signer"`
	Sender           Leg            `json:"sender"`
	Recipient        common.Address `json:"recipient"`
	ProtocolFee      *big.Int       `json:"protocolFee"`
	FeeWallet        common.Address `json:"feeWallet"`
	AffiliateWallet  common.Address `json:"affiliateWallet"`
	AffiliateAmount  *big.Int       `json:"affiliateAmount"`
	RoyaltyRecipient common.Address `json:"royaltyRecipient"`
	RoyaltyAmount    *big.Int       `json:"royaltyAmount"`
	Light            bool           `json:"light"`
}

type NonceCancelled struct {
	Signer common.Address `json:"signer"`
	Nonces []uint64       `json:"nonces"`
}

type MinimumNonceRaised struct {
	Signer  common.Address `json:"signer"`
	Minimum uint64         `json:"minimum"`
}

type SignerAuthorized struct {
	Wallet   common.Address `json:"wallet"`
	Delegate common.Address `json:"delegate"`
}

type SignerRevoked struct {
	Wallet   common.Address `json:"wallet"`
	Delegate common.Address `json:"delegate"`
}

type SenderAuthorized struct {
	Wallet   common.Address `json:"wallet"`
	Delegate common.Address `json:"delegate"`
}

type SenderRevoked struct {
	Wallet   common.Address `json:"wallet"`
	Delegate common.Address `json:"delegate"`
}

type FeeRateChanged struct {
	Bps uint64 `json:"bps"`
}

type LightFeeRatesChanged struct {
	Bps []uint64 `json:"bps"`
}

type FeeWalletChanged struct {
	Wallet common.Address `json:"wallet"`
}

type AdapterSet struct {
	Kind     transfer.Kind `json:"kind"`
	Replaced bool          `json:"replaced"`
}

type AdapterRemoved struct {
	Kind transfer.Kind `json:"kind"`
}

type OwnershipTransferred struct {
	Previous common.Address `json:"previous"`
	Owner    common.Address `json:"owner"`
}

func (Settlement) EventName() string           { return NameSettlement }
func (NonceCancelled) EventName() string       { return NameNonceCancelled }
func (MinimumNonceRaised) EventName() string   { return NameMinimumNonceRaised }
func (SignerAuthorized) EventName() string     { return NameSignerAuthorized }
func (SignerRevoked) EventName() string        { return NameSignerRevoked }
func (SenderAuthorized) EventName() string     { return NameSenderAuthorized }
func (SenderRevoked) EventName() string        { return NameSenderRevoked }
func (FeeRateChanged) EventName() string       { return NameFeeRateChanged }
func (LightFeeRatesChanged) EventName() string { return NameLightFeeRatesChanged }
func (FeeWalletChanged) EventName() string     { return NameFeeWalletChanged }
func (AdapterSet) EventName() string           { return NameAdapterSet }
func (AdapterRemoved) EventName() string       { return NameAdapterRemoved }
func (OwnershipTransferred) EventName() string { return NameOwnershipTransferred }

// Sink receives emitted events. Emit must not block for long; it is called
// while the kernel holds its lock.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogSink writes each event to a logrus logger at info level.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Emit(e Event) {
	s.Log.WithFields(logrus.Fields{
		"event":   e.EventName(),
		"payload": e,
	}).Info("event emitted")
}
