package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP712 related errors
var (
	ErrInvalidSignature = errors.New("signature invalid")
	ErrMissingField     = errors.New("order typed data is missing a field")
	ErrFieldRange       = errors.New("order typed data field out of uint256 range")
)

// EIP712 Domain constants matching the deployed Swap contract
const (
	EIP712DomainName    = "SWAP"
	EIP712DomainVersion = "4.3"
)

// Pre-computed type hashes using keccak256
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	// Party(address wallet,address token,bytes4 kind,uint256 id,uint256 amount)
	PartyTypeHash = crypto.Keccak256Hash([]byte(
		"Party(address wallet,address token,bytes4 kind,uint256 id,uint256 amount)",
	))

	// Order(...)Party(...); referenced struct types are appended per EIP-712
	OrderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(uint256 nonce,uint256 expiry,uint256 protocolFee,Party signer,Party sender,address affiliateWallet,uint256 affiliateAmount)" +
			"Party(address wallet,address token,bytes4 kind,uint256 id,uint256 amount)",
	))
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	bytes4Type, _  = abi.NewType("bytes4", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
)

// EIP712Domain represents the EIP712 domain separator data
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewEIP712Domain creates a new EIP712Domain with the standard values
func NewEIP712Domain(chainID *big.Int, verifyingContract common.Address) *EIP712Domain {
	return &EIP712Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// Hash computes the EIP712 domain separator hash
func (d *EIP712Domain) Hash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: bytes32Type}, // nameHash
		{Type: bytes32Type}, // versionHash
		{Type: uint256Type}, // chainId
		{Type: addressType}, // verifyingContract
	}

	encoded, err := arguments.Pack(
		EIP712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		panic("failed to encode domain separator: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// PartyTypedData is one side of an order for EIP712 hashing
type PartyTypedData struct {
	Wallet common.Address
	Token  common.Address
	Kind   [4]byte
	ID     *big.Int
	Amount *big.Int
}

// Hash computes the struct hash for the party
func (p *PartyTypedData) Hash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // wallet
		{Type: addressType}, // token
		{Type: bytes4Type},  // kind
		{Type: uint256Type}, // id
		{Type: uint256Type}, // amount
	}

	encoded, err := arguments.Pack(
		PartyTypeHash,
		p.Wallet,
		p.Token,
		p.Kind,
		p.ID,
		p.Amount,
	)
	if err != nil {
		panic("failed to encode party struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// OrderTypedData represents the order data for EIP712 hashing
type OrderTypedData struct {
	Nonce           *big.Int
	Expiry          *big.Int
	ProtocolFee     *big.Int
	Signer          PartyTypedData
	Sender          PartyTypedData
	AffiliateWallet common.Address
	AffiliateAmount *big.Int
}

// Validate reports a missing numeric field, which would otherwise make
// ABI encoding panic, and one that does not fit a uint256. The encoder
// truncates those, so distinct orders would share a digest.
func (o *OrderTypedData) Validate() error {
	for _, v := range []*big.Int{
		o.Nonce, o.Expiry, o.ProtocolFee,
		o.Signer.ID, o.Signer.Amount,
		o.Sender.ID, o.Sender.Amount,
		o.AffiliateAmount,
	} {
		if v == nil {
			return ErrMissingField
		}
		if v.Sign() < 0 || v.BitLen() > 256 {
			return fmt.Errorf("%w: %s", ErrFieldRange, v)
		}
	}
	return nil
}

// Hash computes the struct hash for the order
func (o *OrderTypedData) Hash() common.Hash {
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: uint256Type}, // nonce
		{Type: uint256Type}, // expiry
		{Type: uint256Type}, // protocolFee
		{Type: bytes32Type}, // signer
		{Type: bytes32Type}, // sender
		{Type: addressType}, // affiliateWallet
		{Type: uint256Type}, // affiliateAmount
	}

	encoded, err := arguments.Pack(
		OrderTypeHash,
		o.Nonce,
		o.Expiry,
		o.ProtocolFee,
		o.Signer.Hash(),
		o.Sender.Hash(),
		o.AffiliateWallet,
		o.AffiliateAmount,
	)
	if err != nil {
		panic("failed to encode order struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// CreateOrderSignHash creates the final EIP712 hash to be signed
// This follows the EIP712 specification: keccak256("\x19\x01" ++ domainSeparator ++ structHash)
func CreateOrderSignHash(domain *EIP712Domain, order *OrderTypedData) common.Hash {
	domainSeparator := domain.Hash()
	structHash := order.Hash()

	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, domainSeparator.Bytes()...)
	data = append(data, structHash.Bytes()...)

	return crypto.Keccak256Hash(data)
}

// RecoverSigner returns the address that produced (v, r, s) over hash.
// v must be 27 or 28 and s must be in the lower half of the curve order.
func RecoverSigner(hash common.Hash, v uint8, r, s common.Hash) (common.Address, error) {
	if v != 27 && v != 28 {
		return common.Address{}, ErrInvalidSignature
	}
	// homestead rules reject malleable signatures with s above N/2
	if !crypto.ValidateSignatureValues(v-27, r.Big(), s.Big(), true) {
		return common.Address{}, ErrInvalidSignature
	}

	sig := make([]byte, 65)
	copy(sig[0:32], r.Bytes())
	copy(sig[32:64], s.Bytes())
	sig[64] = v - 27

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
