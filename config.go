package swap

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

// ChainID represents a blockchain chain ID
type ChainID int64

const (
	ChainIDEthereum ChainID = 1
	ChainIDSepolia  ChainID = 11155111
	ChainIDPolygon  ChainID = 137
	ChainIDBase     ChainID = 8453
	ChainIDArbitrum ChainID = 42161
	ChainIDBNB      ChainID = 56
)

// SupportedChainIDs lists the networks the kernel is configured for
var SupportedChainIDs = []ChainID{
	ChainIDEthereum,
	ChainIDSepolia,
	ChainIDPolygon,
	ChainIDBase,
	ChainIDArbitrum,
	ChainIDBNB,
}

// Supported reports whether id is one of SupportedChainIDs
func (id ChainID) Supported() bool {
	for _, c := range SupportedChainIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Default fee settings, used when the environment does not set them
const (
	DefaultProtocolFee      = 7
	DefaultProtocolFeeLight = 7
)

// Config is the kernel deployment configuration, read from the environment.
type Config struct {
	ChainID            ChainID        `env:"SWAP_CHAIN_ID"`
	ContractAddress    common.Address `env:"SWAP_CONTRACT_ADDRESS,required"`
	Owner              common.Address `env:"SWAP_OWNER,required"`
	ProtocolFee        uint64         `env:"SWAP_PROTOCOL_FEE"`
	ProtocolFeeLight   []uint64       `env:"SWAP_PROTOCOL_FEE_LIGHT"`
	ProtocolFeeWallet  common.Address `env:"SWAP_PROTOCOL_FEE_WALLET,required"`
	RequiredSenderKind transfer.Kind  `env:"SWAP_REQUIRED_SENDER_KIND" envDefault:"0x36372b07"`
	DatabasePath       string         `env:"SWAP_DATABASE_PATH"`
	LogLevel           string         `env:"SWAP_LOG_LEVEL" envDefault:"info"`
	RPCURL             string         `env:"SWAP_RPC_URL"`
	ListenAddr         string         `env:"SWAP_LISTEN_ADDR"`
}

// LoadConfig parses Config from the environment and validates it.
func LoadConfig() (*Config, error) {
	cfg := Config{
		ChainID:          ChainIDEthereum,
		ProtocolFee:      DefaultProtocolFee,
		ProtocolFeeLight: []uint64{DefaultProtocolFeeLight},
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	if !c.ChainID.Supported() {
		return &InvalidParamError{Message: fmt.Sprintf("unsupported chain id %d", c.ChainID)}
	}
	if c.ContractAddress == (common.Address{}) {
		return &InvalidParamError{Message: "contract address is required"}
	}
	if c.Owner == (common.Address{}) {
		return newError(CodeOwnerInvalid, fmt.Errorf("owner is required"))
	}
	if c.ProtocolFee >= fee.Divisor {
		return newError(CodeProtocolFeeInvalid, fmt.Errorf("protocol fee %d exceeds divisor", c.ProtocolFee))
	}
	if len(c.ProtocolFeeLight) == 0 {
		return newError(CodeProtocolFeeInvalid, fmt.Errorf("at least one light fee tier is required"))
	}
	for _, bps := range c.ProtocolFeeLight {
		if bps >= fee.Divisor {
			return newError(CodeProtocolFeeInvalid, fmt.Errorf("light fee %d exceeds divisor", bps))
		}
	}
	if c.ProtocolFeeWallet == (common.Address{}) {
		return newError(CodeProtocolFeeWalletInvalid, fmt.Errorf("protocol fee wallet is required"))
	}
	return nil
}

// Logger builds a logrus logger at the configured level.
func (c *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid log level %q", c.LogLevel)}
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.JSONFormatter{})
	return log, nil
}
