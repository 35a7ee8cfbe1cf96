// Example settlement of a signed ERC20-for-ERC20 order against the in-memory
// token ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	swap "github.com/airswap/airswap-protocols-sub002"
	"github.com/airswap/airswap-protocols-sub002/chain"
	"github.com/airswap/airswap-protocols-sub002/events"
	"github.com/airswap/airswap-protocols-sub002/fee"
	"github.com/airswap/airswap-protocols-sub002/feed"
	"github.com/airswap/airswap-protocols-sub002/ledger"
	"github.com/airswap/airswap-protocols-sub002/metrics"
	"github.com/airswap/airswap-protocols-sub002/state"
	"github.com/airswap/airswap-protocols-sub002/storage/sqlite"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfg, err := swap.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	ctx := context.Background()

	var persister state.Persister
	if cfg.DatabasePath != "" {
		store, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer store.Close()
		persister = store
	}
	db, err := state.Open(ctx, persister)
	if err != nil {
		log.Fatalf("Failed to load state: %v", err)
	}

	tokens := ledger.New(db.Journal())
	var royalties fee.RoyaltyProvider = tokens
	if cfg.RPCURL != "" {
		caller, err := chain.DialContractCaller(ctx, cfg.RPCURL)
		if err != nil {
			log.Fatalf("Failed to dial RPC: %v", err)
		}
		defer caller.Close()
		royalties = caller
	}

	hub := feed.NewHub(logger)
	defer hub.Close()
	collector := metrics.NewCollector("swap")
	if cfg.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/feed", hub)
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
				logger.WithError(err).Error("http server stopped")
			}
		}()
	}

	kernel, err := swap.New(ctx, cfg, db, transfer.NewDispatcher(tokens.Adapters()...),
		swap.WithLogger(logger),
		swap.WithSink(events.Multi(hub, events.LogSink{Log: logger})),
		swap.WithMetrics(collector),
		swap.WithRoyaltyProvider(royalties),
	)
	if err != nil {
		log.Fatalf("Failed to create kernel: %v", err)
	}

	signerKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	builder, err := chain.NewOrderBuilder(kernel.Address(), int64(cfg.ChainID), signerKey)
	if err != nil {
		log.Fatalf("Failed to create order builder: %v", err)
	}
	signer := builder.Address()
	sender := common.HexToAddress("0x000000000000000000000000000000000005e4d0")
	tokenA := common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB := common.HexToAddress("0x000000000000000000000000000000000000bbbb")

	signerAmount, err := swap.AmountToBaseUnits("100", 18)
	if err != nil {
		log.Fatalf("Invalid amount: %v", err)
	}
	senderAmount, err := swap.AmountToBaseUnits("250.5", 6)
	if err != nil {
		log.Fatalf("Invalid amount: %v", err)
	}
	protocolFee := fee.ProtocolFee(senderAmount, kernel.FeeConfig().Bps)

	tokens.Mint(tokenA, signer, signerAmount)
	tokens.Approve(tokenA, signer, kernel.Address(), signerAmount)
	tokens.Mint(tokenB, sender, new(big.Int).Add(senderAmount, protocolFee))
	tokens.Approve(tokenB, sender, kernel.Address(), new(big.Int).Add(senderAmount, protocolFee))

	order := swap.Order{
		Nonce:       uint64(time.Now().UnixNano()),
		Expiry:      uint64(time.Now().Add(5 * time.Minute).Unix()),
		ProtocolFee: kernel.FeeConfig().Bps,
		Signer:      swap.Party{Wallet: signer, Token: tokenA, Kind: transfer.KindERC20, Amount: signerAmount},
		Sender:      swap.Party{Wallet: sender, Token: tokenB, Kind: transfer.KindERC20, Amount: senderAmount},
	}
	if err := order.Sign(builder); err != nil {
		log.Fatalf("Failed to sign order: %v", err)
	}

	req := swap.Request{Caller: sender, Order: order}
	if res := kernel.Check(ctx, req); !res.OK() {
		log.Fatalf("Order would not settle: %v", res.Errors)
	}

	receipt, err := kernel.Settle(ctx, req)
	if err != nil {
		log.Fatalf("Failed to settle: %v", err)
	}
	fmt.Printf("Settled nonce %d: %s\n", receipt.Nonce, receipt.State)
	fmt.Printf("Sender received %s of token A\n", swap.FormatBaseUnits(tokens.Balance(tokenA, sender), 18))
	fmt.Printf("Protocol fee %s of token B\n", swap.FormatBaseUnits(receipt.Fees.Protocol, 6))

	if _, err := kernel.Settle(ctx, req); err != nil {
		fmt.Printf("Replay rejected: %s\n", swap.CodeOf(err))
	}
}
