package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20 ABI JSON for balanceOf and allowance
const erc20ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	}
]`

// ERC721 ABI JSON for ownership and approval queries
const erc721ABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "ownerOf",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "getApproved",
		"outputs": [{"name": "", "type": "address"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// ERC1155 ABI JSON for balanceOf and isApprovedForAll
const erc1155ABIJSON = `[
	{
		"constant": true,
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "id", "type": "uint256"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"name": "isApprovedForAll",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// ERC165 + ERC2981 ABI JSON for interface detection and royalty info
const royaltyABIJSON = `[
	{
		"constant": true,
		"inputs": [{"name": "interfaceId", "type": "bytes4"}],
		"name": "supportsInterface",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "tokenId", "type": "uint256"},
			{"name": "salePrice", "type": "uint256"}
		],
		"name": "royaltyInfo",
		"outputs": [
			{"name": "receiver", "type": "address"},
			{"name": "royaltyAmount", "type": "uint256"}
		],
		"type": "function"
	}
]`

// Pausable ABI JSON, as implemented by OpenZeppelin Pausable tokens
const pausableABIJSON = `[
	{
		"constant": true,
		"inputs": [],
		"name": "paused",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

var (
	erc20ABI   = mustParseABI("ERC20", erc20ABIJSON)
	erc721ABI  = mustParseABI("ERC721", erc721ABIJSON)
	erc1155ABI = mustParseABI("ERC1155", erc1155ABIJSON)
	royaltyABI = mustParseABI("ERC2981", royaltyABIJSON)

	pausableABI = mustParseABI("Pausable", pausableABIJSON)
)

// GetERC20ABI returns the parsed ERC20 ABI
func GetERC20ABI() abi.ABI { return erc20ABI }

// GetERC721ABI returns the parsed ERC721 ABI
func GetERC721ABI() abi.ABI { return erc721ABI }

// GetERC1155ABI returns the parsed ERC1155 ABI
func GetERC1155ABI() abi.ABI { return erc1155ABI }

// GetRoyaltyABI returns the parsed ERC165/ERC2981 ABI
func GetRoyaltyABI() abi.ABI { return royaltyABI }
