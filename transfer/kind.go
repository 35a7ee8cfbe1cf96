package transfer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Kind is the 4-byte ERC-165 interface id that selects transfer semantics
// for a party's token.
type Kind [4]byte

// Interface ids of the supported token standards.
var (
	KindERC20   = Kind{0x36, 0x37, 0x2b, 0x07}
	KindERC721  = Kind{0x80, 0xac, 0x58, 0xcd}
	KindERC1155 = Kind{0xd9, 0xb6, 0x7a, 0x26}
	KindERC2981 = Kind{0x2a, 0x55, 0x20, 0x5a}
)

// ParseKind decodes a 0x-prefixed 4-byte selector.
func ParseKind(s string) (Kind, error) {
	var k Kind
	b, err := hexutil.Decode(s)
	if err != nil {
		return k, fmt.Errorf("parse kind %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("parse kind %q: want %d bytes, got %d", s, len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Kind) String() string {
	return hexutil.Encode(k[:])
}

// Name returns the token standard name for known kinds.
func (k Kind) Name() string {
	switch k {
	case KindERC20:
		return "ERC20"
	case KindERC721:
		return "ERC721"
	case KindERC1155:
		return "ERC1155"
	case KindERC2981:
		return "ERC2981"
	}
	return k.String()
}

// NonFungible reports whether the kind identifies tokens by id.
func (k Kind) NonFungible() bool {
	return k == KindERC721 || k == KindERC1155
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
