package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderBuilder signs orders for one Swap deployment
type OrderBuilder struct {
	domain *EIP712Domain
	signer *ecdsa.PrivateKey
}

// NewOrderBuilder creates a new OrderBuilder
func NewOrderBuilder(swapAddr common.Address, chainID int64, signer *ecdsa.PrivateKey) (*OrderBuilder, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer key is required")
	}
	return &OrderBuilder{
		domain: NewEIP712Domain(big.NewInt(chainID), swapAddr),
		signer: signer,
	}, nil
}

// NewOrderBuilderFromHex parses a hex private key
func NewOrderBuilderFromHex(swapAddr common.Address, chainID int64, privateKeyHex string) (*OrderBuilder, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewOrderBuilder(swapAddr, chainID, key)
}

// Address returns the address of the signing key
func (ob *OrderBuilder) Address() common.Address {
	return crypto.PubkeyToAddress(ob.signer.PublicKey)
}

// Domain returns the domain orders are bound to
func (ob *OrderBuilder) Domain() *EIP712Domain {
	return ob.domain
}

// SignOrder signs an order using EIP712 and returns the (v, r, s) triple
func (ob *OrderBuilder) SignOrder(order *OrderTypedData) (uint8, common.Hash, common.Hash, error) {
	if err := order.Validate(); err != nil {
		return 0, common.Hash{}, common.Hash{}, err
	}
	hash := CreateOrderSignHash(ob.domain, order)
	signature, err := crypto.Sign(hash.Bytes(), ob.signer)
	if err != nil {
		return 0, common.Hash{}, common.Hash{}, fmt.Errorf("failed to sign order: %w", err)
	}

	// Add recovery ID
	v := signature[64] + 27
	return v, common.BytesToHash(signature[0:32]), common.BytesToHash(signature[32:64]), nil
}
