// Package nonce implements per-signer single-use nonces with a monotonic
// minimum-nonce watermark.
package nonce

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/airswap/airswap-protocols-sub002/state"
)

var (
	ErrNonceAlreadyUsed = errors.New("nonce already used")
	ErrNonceTooLow      = errors.New("nonce too low")
)

// Registry tracks used nonces in the world state.
type Registry struct {
	db *state.DB
}

func New(db *state.DB) *Registry {
	return &Registry{db: db}
}

// IsUsed is true for individually used nonces and for every nonce below the
// signer's minimum.
func (r *Registry) IsUsed(signer common.Address, nonce uint64) bool {
	return nonce < r.db.MinimumNonce(signer) || r.db.NonceUsed(signer, nonce)
}

// Check distinguishes a nonce below the watermark from one already used.
func (r *Registry) Check(signer common.Address, nonce uint64) error {
	if nonce < r.db.MinimumNonce(signer) {
		return ErrNonceTooLow
	}
	if r.db.NonceUsed(signer, nonce) {
		return ErrNonceAlreadyUsed
	}
	return nil
}

// Consume marks nonce used. Nonces below the watermark count as used.
func (r *Registry) Consume(signer common.Address, nonce uint64) error {
	if nonce < r.db.MinimumNonce(signer) {
		return ErrNonceAlreadyUsed
	}
	if !r.db.MarkNonceUsed(signer, nonce) {
		return ErrNonceAlreadyUsed
	}
	return nil
}

// Cancel marks each nonce used and returns those that were newly cancelled,
// in input order. Repeats and already-used nonces are skipped.
func (r *Registry) Cancel(signer common.Address, nonces []uint64) []uint64 {
	var cancelled []uint64
	min := r.db.MinimumNonce(signer)
	for _, n := range nonces {
		if n < min {
			continue
		}
		if r.db.MarkNonceUsed(signer, n) {
			cancelled = append(cancelled, n)
		}
	}
	return cancelled
}

// CancelUpTo raises the watermark to n. Values at or below the current
// watermark are ignored; the result reports whether it moved.
func (r *Registry) CancelUpTo(signer common.Address, n uint64) bool {
	if n <= r.db.MinimumNonce(signer) {
		return false
	}
	r.db.SetMinimumNonce(signer, n)
	return true
}

func (r *Registry) MinimumNonce(signer common.Address) uint64 {
	return r.db.MinimumNonce(signer)
}
