package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

var (
	_ fee.RoyaltyProvider = (*ContractCaller)(nil)
	_ transfer.Pauser     = (*ContractCaller)(nil)
)

// ContractCaller reads token state from a live network: balances,
// allowances and approvals for preflight checks, and ERC2981 royalty
// metadata for settlement.
type ContractCaller struct {
	client       ethereum.ContractCaller
	closer       func()
	mu           sync.Mutex
	royaltyCache map[common.Address]bool
}

// NewContractCaller wraps any eth_call capable client
func NewContractCaller(client ethereum.ContractCaller) *ContractCaller {
	return &ContractCaller{
		client:       client,
		royaltyCache: make(map[common.Address]bool),
	}
}

// DialContractCaller connects to an RPC endpoint
func DialContractCaller(ctx context.Context, rpcURL string) (*ContractCaller, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	cc := NewContractCaller(client)
	cc.closer = client.Close
	return cc, nil
}

// call packs method with args, executes eth_call against token and unpacks
// the outputs
func (cc *ContractCaller) call(ctx context.Context, contract abi.ABI, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := cc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, token.Hex(), err)
	}

	out, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

func firstBig(out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", out[0])
	}
	return v, nil
}

func firstBool(out []interface{}) (bool, error) {
	if len(out) == 0 {
		return false, fmt.Errorf("empty result")
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type %T", out[0])
	}
	return v, nil
}

func firstAddress(out []interface{}) (common.Address, error) {
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("empty result")
	}
	v, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected result type %T", out[0])
	}
	return v, nil
}

// BalanceOf returns the ERC20 balance for an account
func (cc *ContractCaller) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := cc.call(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return firstBig(out)
}

// Allowance returns the ERC20 allowance for owner to spender
func (cc *ContractCaller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := cc.call(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return firstBig(out)
}

// OwnerOf returns the holder of an ERC721 token
func (cc *ContractCaller) OwnerOf(ctx context.Context, token common.Address, id *big.Int) (common.Address, error) {
	out, err := cc.call(ctx, erc721ABI, token, "ownerOf", id)
	if err != nil {
		return common.Address{}, err
	}
	return firstAddress(out)
}

// IsApproved checks operator approval for an ERC721 token, either per id or
// for all of owner's tokens
func (cc *ContractCaller) IsApproved(ctx context.Context, token, owner, operator common.Address, id *big.Int) (bool, error) {
	out, err := cc.call(ctx, erc721ABI, token, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	all, err := firstBool(out)
	if err != nil || all {
		return all, err
	}
	out, err = cc.call(ctx, erc721ABI, token, "getApproved", id)
	if err != nil {
		return false, err
	}
	approved, err := firstAddress(out)
	if err != nil {
		return false, err
	}
	return approved == operator, nil
}

// BalanceOfMulti returns the ERC1155 balance of an id
func (cc *ContractCaller) BalanceOfMulti(ctx context.Context, token, owner common.Address, id *big.Int) (*big.Int, error) {
	out, err := cc.call(ctx, erc1155ABI, token, "balanceOf", owner, id)
	if err != nil {
		return nil, err
	}
	return firstBig(out)
}

// IsApprovedForAll checks ERC1155 operator approval
func (cc *ContractCaller) IsApprovedForAll(ctx context.Context, token, owner, operator common.Address) (bool, error) {
	out, err := cc.call(ctx, erc1155ABI, token, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	return firstBool(out)
}

// SupportsInterface performs an ERC165 query
func (cc *ContractCaller) SupportsInterface(ctx context.Context, token common.Address, id transfer.Kind) (bool, error) {
	out, err := cc.call(ctx, royaltyABI, token, "supportsInterface", [4]byte(id))
	if err != nil {
		return false, err
	}
	return firstBool(out)
}

// SupportsRoyalties reports ERC2981 support, caching the answer per token.
// A token that reverts on supportsInterface is treated as unsupported.
func (cc *ContractCaller) SupportsRoyalties(ctx context.Context, token common.Address) (bool, error) {
	cc.mu.Lock()
	ok, cached := cc.royaltyCache[token]
	cc.mu.Unlock()
	if cached {
		return ok, nil
	}
	ok, err := cc.SupportsInterface(ctx, token, transfer.KindERC2981)
	if err != nil {
		ok = false
	}
	cc.mu.Lock()
	cc.royaltyCache[token] = ok
	cc.mu.Unlock()
	return ok, nil
}

// RoyaltyInfo queries the ERC2981 royalty for a sale
func (cc *ContractCaller) RoyaltyInfo(ctx context.Context, token common.Address, id, salePrice *big.Int) (common.Address, *big.Int, error) {
	out, err := cc.call(ctx, royaltyABI, token, "royaltyInfo", id, salePrice)
	if err != nil {
		return common.Address{}, nil, err
	}
	if len(out) != 2 {
		return common.Address{}, nil, fmt.Errorf("unexpected royaltyInfo result length %d", len(out))
	}
	receiver, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected receiver type %T", out[0])
	}
	amount, ok := out[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected amount type %T", out[1])
	}
	return receiver, amount, nil
}

// Paused reports whether a Pausable token has halted transfers. Tokens
// without paused() revert and are reported as not paused.
func (cc *ContractCaller) Paused(ctx context.Context, token common.Address) (bool, error) {
	out, err := cc.call(ctx, pausableABI, token, "paused")
	if err != nil {
		return false, nil
	}
	return firstBool(out)
}

// Close closes the Ethereum client connection
func (cc *ContractCaller) Close() {
	if cc.closer != nil {
		cc.closer()
	}
}
