package swap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airswap/airswap-protocols-sub002/chain"
	"github.com/airswap/airswap-protocols-sub002/events"
	"github.com/airswap/airswap-protocols-sub002/ledger"
	"github.com/airswap/airswap-protocols-sub002/metrics"
	"github.com/airswap/airswap-protocols-sub002/state"
	"github.com/airswap/airswap-protocols-sub002/transfer"
)

const testChainID = 1

var (
	swapAddr  = common.HexToAddress("0x5a")
	ownerAddr = common.HexToAddress("0x0e")
	feeWallet = common.HexToAddress("0xfe")
	senderA   = common.HexToAddress("0x5e")
	relayer   = common.HexToAddress("0x7e")
	stranger  = common.HexToAddress("0x99")
	affiliate = common.HexToAddress("0xaf")
	artist    = common.HexToAddress("0xa7")
	tokenA    = common.HexToAddress("0xaaaa")
	tokenB    = common.HexToAddress("0xbbbb")
	nft       = common.HexToAddress("0x721")
	multi     = common.HexToAddress("0x1155")

	testNow = time.Unix(1_700_000_000, 0)
)

func testConfig() *Config {
	return &Config{
		ChainID:            testChainID,
		ContractAddress:    swapAddr,
		Owner:              ownerAddr,
		ProtocolFee:        30,
		ProtocolFeeLight:   []uint64{5, 7},
		ProtocolFeeWallet:  feeWallet,
		RequiredSenderKind: transfer.KindERC20,
		LogLevel:           "debug",
	}
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	db      *state.DB
	tokens  *ledger.Ledger
	swap    *Swap
	rec     *events.Recorder
	hook    *test.Hook
	metrics *metrics.Collector

	signerKey *ecdsa.PrivateKey
	signer    common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, state.New())
}

func newFixtureWith(t *testing.T, db *state.DB) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		db:        db,
		tokens:    ledger.New(db.Journal()),
		rec:       &events.Recorder{},
		hook:      hook,
		metrics:   metrics.NewCollector("swap"),
		signerKey: key,
		signer:    crypto.PubkeyToAddress(key.PublicKey),
	}
	f.swap, err = New(f.ctx, testConfig(), db, transfer.NewDispatcher(f.tokens.Adapters()...),
		WithLogger(log),
		WithSink(f.rec),
		WithMetrics(f.metrics),
		WithRoyaltyProvider(f.tokens),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return f
}

// order returns an unsigned order trading 100 tokenA from the signer for
// 1000 tokenB from senderA.
func (f *fixture) order(nonce uint64) Order {
	return Order{
		Nonce:       nonce,
		Expiry:      uint64(testNow.Add(time.Hour).Unix()),
		ProtocolFee: 30,
		Signer:      Party{Wallet: f.signer, Token: tokenA, Kind: transfer.KindERC20, Amount: big.NewInt(100)},
		Sender:      Party{Wallet: senderA, Token: tokenB, Kind: transfer.KindERC20, Amount: big.NewInt(1000)},
	}
}

func (f *fixture) sign(o Order, key *ecdsa.PrivateKey) Order {
	f.t.Helper()
	builder, err := chain.NewOrderBuilder(swapAddr, testChainID, key)
	require.NoError(f.t, err)
	require.NoError(f.t, o.Sign(builder))
	return o
}

func (f *fixture) signed(nonce uint64) Order {
	return f.sign(f.order(nonce), f.signerKey)
}

func (f *fixture) fund(token, owner common.Address, amount int64) {
	f.tokens.Mint(token, owner, big.NewInt(amount))
	f.tokens.Approve(token, owner, swapAddr, f.tokens.Balance(token, owner))
}

// fundDefault funds both legs of f.order including the 3 tokenB protocol fee.
func (f *fixture) fundDefault() {
	f.fund(tokenA, f.signer, 100)
	f.fund(tokenB, senderA, 1003)
}

func (f *fixture) settledSeries() int {
	f.t.Helper()
	n, err := testutil.GatherAndCount(f.metrics.Registry(), "swap_settlement_settled_total")
	require.NoError(f.t, err)
	return n
}

func (f *fixture) balance(token, owner common.Address) int64 {
	return f.tokens.Balance(token, owner).Int64()
}

func TestSettleMovesAssetsAndProtocolFee(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()

	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(1)})
	require.NoError(t, err)

	assert.Equal(t, StateSettled, rc.State)
	assert.Equal(t, senderA, rc.Sender)
	assert.Equal(t, senderA, rc.Recipient)
	assert.Equal(t, int64(3), rc.Fees.Protocol.Int64())

	assert.Equal(t, int64(0), f.balance(tokenA, f.signer))
	assert.Equal(t, int64(100), f.balance(tokenA, senderA))
	assert.Equal(t, int64(1000), f.balance(tokenB, f.signer))
	assert.Equal(t, int64(3), f.balance(tokenB, feeWallet))
	assert.Equal(t, int64(0), f.balance(tokenB, senderA))
	assert.True(t, f.swap.NonceUsed(f.signer, 1))

	settled := f.rec.Named(events.NameSettlement)
	require.Len(t, settled, 1)
	e := settled[0].(events.Settlement)
	assert.Equal(t, uint64(1), e.Nonce)
	assert.Equal(t, f.signer, e.Signer.Wallet)
	assert.Equal(t, senderA, e.Sender.Wallet)
	assert.Equal(t, int64(3), e.ProtocolFee.Int64())
	assert.Equal(t, feeWallet, e.FeeWallet)

	assert.Equal(t, 1, f.settledSeries())
	assert.Equal(t, "order settled", f.hook.LastEntry().Message)
}

func TestSettleReplayFails(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 200)
	f.fund(tokenB, senderA, 2006)
	order := f.signed(7)

	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order})
	require.NoError(t, err)

	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order})
	require.ErrorIs(t, err, ErrNonceAlreadyUsed)
	assert.Equal(t, StateRejected, rc.State)
	assert.Equal(t, StateReceived, rc.Reached)
	assert.Equal(t, CodeNonceAlreadyUsed, rc.Code)
	assert.Equal(t, int64(100), f.balance(tokenA, f.signer))

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, CodeNonceAlreadyUsed, entry.Data["code"])
}

func TestCancelUpToIsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()

	raised, err := f.swap.CancelUpTo(f.ctx, f.signer, 10)
	require.NoError(t, err)
	assert.True(t, raised)

	for _, n := range []uint64{5, 10} {
		raised, err = f.swap.CancelUpTo(f.ctx, f.signer, n)
		require.NoError(t, err)
		assert.False(t, raised)
	}
	assert.Equal(t, uint64(10), f.swap.MinimumNonce(f.signer))
	assert.Len(t, f.rec.Named(events.NameMinimumNonceRaised), 1)

	for n := uint64(0); n < 10; n++ {
		assert.True(t, f.swap.NonceUsed(f.signer, n), "nonce %d", n)
	}
	assert.False(t, f.swap.NonceUsed(f.signer, 10))

	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(9)})
	require.ErrorIs(t, err, ErrNonceTooLow)

	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(10)})
	require.NoError(t, err)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)

	cancelled, err := f.swap.Cancel(f.ctx, f.signer, []uint64{1, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, cancelled)

	cancelled, err = f.swap.Cancel(f.ctx, f.signer, []uint64{1})
	require.NoError(t, err)
	assert.Empty(t, cancelled)

	require.Len(t, f.rec.Named(events.NameNonceCancelled), 1)
	e := f.rec.Named(events.NameNonceCancelled)[0].(events.NonceCancelled)
	assert.Equal(t, []uint64{1, 2}, e.Nonces)

	f.fundDefault()
	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(2)})
	require.ErrorIs(t, err, ErrNonceAlreadyUsed)
}

func TestDelegatedSignerSettlesUntilRevoked(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 200)
	f.fund(tokenB, senderA, 2006)

	delegateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	delegate := crypto.PubkeyToAddress(delegateKey.PublicKey)

	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.sign(f.order(1), delegateKey)})
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.swap.Authorize(f.ctx, f.signer, delegate))
	got, ok := f.swap.Authorized(f.signer)
	require.True(t, ok)
	assert.Equal(t, delegate, got)
	assert.True(t, f.swap.EffectiveSigner(f.signer).Accepts(delegate))

	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.sign(f.order(1), delegateKey)})
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.balance(tokenA, f.signer))

	require.NoError(t, f.swap.Revoke(f.ctx, f.signer))
	require.NoError(t, f.swap.Revoke(f.ctx, f.signer))

	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.sign(f.order(2), delegateKey)})
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Len(t, f.rec.Named(events.NameSignerAuthorized), 1)
	assert.Len(t, f.rec.Named(events.NameSignerRevoked), 1)
}

func TestAuthorizeReplacesDelegate(t *testing.T) {
	f := newFixture(t)
	first, second := common.HexToAddress("0x01"), common.HexToAddress("0x02")

	require.NoError(t, f.swap.Authorize(f.ctx, f.signer, first))
	require.NoError(t, f.swap.Authorize(f.ctx, f.signer, second))

	got, ok := f.swap.Authorized(f.signer)
	require.True(t, ok)
	assert.Equal(t, second, got)

	revoked := f.rec.Named(events.NameSignerRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, first, revoked[0].(events.SignerRevoked).Delegate)
}

func TestAuthorizeRejectsInvalidDelegates(t *testing.T) {
	f := newFixture(t)

	err := f.swap.Authorize(f.ctx, f.signer, f.signer)
	assert.Equal(t, CodeSelfAuthorizationInvalid, CodeOf(err))

	err = f.swap.AuthorizeSender(f.ctx, senderA, common.Address{})
	assert.Equal(t, CodeDelegateInvalid, CodeOf(err))

	assert.Empty(t, f.rec.Events())
}

func TestStaleFeeIsRejected(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	order := f.signed(1)

	require.NoError(t, f.swap.SetProtocolFee(f.ctx, ownerAddr, 40))

	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order})
	require.ErrorIs(t, err, ErrInvalidFee)

	res := f.swap.Check(f.ctx, Request{Caller: senderA, Order: order})
	assert.Equal(t, []Code{CodeInvalidFee}, res.Errors)
}

func TestCheckReportsEveryFailureInOrder(t *testing.T) {
	f := newFixture(t)
	order := f.order(1)
	order.Expiry = uint64(testNow.Add(-time.Minute).Unix())
	order = f.sign(order, f.signerKey)

	res := f.swap.Check(f.ctx, Request{Caller: senderA, Order: order})
	require.GreaterOrEqual(t, res.Count, 2)
	assert.Equal(t, res.Count, len(res.Errors))
	assert.Equal(t, CodeOrderExpired, res.Errors[0])
	assert.Equal(t, []Code{
		CodeOrderExpired,
		CodeSignerBalanceLow,
		CodeSignerAllowanceLow,
		CodeSenderBalanceLow,
		CodeSenderAllowanceLow,
	}, res.Errors)
	assert.False(t, f.swap.NonceUsed(f.signer, 1))
}

func TestCheckMatchesSettle(t *testing.T) {
	t.Run("funded", func(t *testing.T) {
		f := newFixture(t)
		f.fundDefault()
		req := Request{Caller: senderA, Order: f.signed(1)}

		res := f.swap.Check(f.ctx, req)
		require.True(t, res.OK(), "errors: %v", res.Errors)
		_, err := f.swap.Settle(f.ctx, req)
		require.NoError(t, err)
	})

	t.Run("fee not covered", func(t *testing.T) {
		f := newFixture(t)
		f.fund(tokenA, f.signer, 100)
		f.fund(tokenB, senderA, 1000)
		req := Request{Caller: senderA, Order: f.signed(1)}

		res := f.swap.Check(f.ctx, req)
		assert.Equal(t, []Code{CodeSenderBalanceLow, CodeSenderAllowanceLow}, res.Errors)

		rc, err := f.swap.Settle(f.ctx, req)
		require.ErrorIs(t, err, ErrTransferFailed)
		assert.True(t, errors.Is(err, ledger.ErrInsufficientAllowance))
		assert.Equal(t, StateAssetsTransferred, rc.Reached)
		assert.Equal(t, int64(100), f.balance(tokenA, f.signer))
		assert.Equal(t, int64(1000), f.balance(tokenB, senderA))
	})

	t.Run("paused token", func(t *testing.T) {
		f := newFixture(t)
		f.fundDefault()
		f.tokens.Pause(tokenA, true)
		req := Request{Caller: senderA, Order: f.signed(1)}

		assert.Equal(t, []Code{CodeTransferBlocked}, f.swap.Check(f.ctx, req).Errors)
		_, err := f.swap.Settle(f.ctx, req)
		require.ErrorIs(t, err, ErrTransferFailed)
		assert.True(t, errors.Is(err, ledger.ErrPaused))

		f.tokens.Pause(tokenA, false)
		assert.True(t, f.swap.Check(f.ctx, req).OK())
	})

	t.Run("open order without caller", func(t *testing.T) {
		f := newFixture(t)
		f.fundDefault()
		order := f.order(1)
		order.Sender.Wallet = common.Address{}
		req := Request{Order: f.sign(order, f.signerKey)}

		res := f.swap.Check(f.ctx, req)
		require.False(t, res.OK())
		assert.Equal(t, CodeSenderInvalid, res.Errors[0])

		rc, err := f.swap.Settle(f.ctx, req)
		require.ErrorIs(t, err, ErrSenderInvalid)
		assert.Equal(t, StateReceived, rc.Reached)
		assert.Equal(t, int64(100), f.balance(tokenA, f.signer))
		assert.False(t, f.swap.NonceUsed(f.signer, 1))
	})
}

// bystanderAdapter starts a write to the token host from another goroutine
// during its first transfer and records whether the write had to wait.
type bystanderAdapter struct {
	transfer.Adapter
	write   func()
	done    chan struct{}
	blocked bool
}

func (a *bystanderAdapter) Transfer(ctx context.Context, token, spender, from, to common.Address, id, amount *big.Int) error {
	if a.done == nil {
		a.done = make(chan struct{})
		go func() {
			defer close(a.done)
			a.write()
		}()
		select {
		case <-a.done:
		case <-time.After(50 * time.Millisecond):
			a.blocked = true
		}
	}
	return a.Adapter.Transfer(ctx, token, spender, from, to, id, amount)
}

func TestFailedSettleKeepsBystanderWrites(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	f.tokens.Pause(tokenB, true)

	a := &bystanderAdapter{
		Adapter: transfer.NewERC20Adapter(f.tokens.ERC20()),
		write: func() {
			f.tokens.Mint(tokenA, stranger, big.NewInt(42))
			f.tokens.Approve(tokenA, stranger, relayer, big.NewInt(5))
		},
	}
	require.NoError(t, f.swap.SetAdapter(f.ctx, ownerAddr, a))

	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(1)})
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, StateNonceConsumed, rc.Reached)
	<-a.done

	assert.True(t, a.blocked, "write completed inside the settlement")
	assert.Equal(t, int64(42), f.balance(tokenA, stranger))
	allowance, err := f.tokens.ERC20().Allowance(f.ctx, tokenA, stranger, relayer)
	require.NoError(t, err)
	assert.Equal(t, int64(5), allowance.Int64())

	assert.Equal(t, int64(100), f.balance(tokenA, f.signer))
	assert.Equal(t, int64(0), f.balance(tokenA, senderA))
	assert.False(t, f.swap.NonceUsed(f.signer, 1))
}

func TestOutOfRangeValuesRejectedBeforeSignature(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	overflow := new(big.Int).Lsh(big.NewInt(1), 256)
	signed := f.signed(1)

	// these hash to the same digest as signed
	wrapped := signed
	wrapped.Sender.Amount = new(big.Int).Add(signed.Sender.Amount, overflow)
	wrappedID := signed
	wrappedID.Signer.ID = new(big.Int).Set(overflow)

	negative := f.signed(1)
	negative.Signer.Amount = big.NewInt(-100)

	tests := []struct {
		name  string
		order Order
	}{
		{"amount past uint256", wrapped},
		{"id past uint256", wrappedID},
		{"negative amount", negative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Caller: senderA, Order: tt.order}
			rc, err := f.swap.Settle(f.ctx, req)
			require.ErrorIs(t, err, ErrAmountOrIDInvalid)
			assert.Equal(t, StateReceived, rc.Reached)

			res := f.swap.Check(f.ctx, req)
			assert.True(t, res.Has(CodeAmountOrIDInvalid))
			assert.False(t, res.Has(CodeSignatureInvalid))
			assert.False(t, res.Has(CodeUnauthorized))
		})
	}

	assert.False(t, f.swap.NonceUsed(f.signer, 1))
	assert.Equal(t, int64(1003), f.balance(tokenB, senderA))
	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: signed})
	require.NoError(t, err)
}

func TestAffiliateAmountNeedsWallet(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 100)
	f.fund(tokenB, senderA, 1013)
	order := f.order(1)
	order.Affiliate = Affiliate{Amount: big.NewInt(10)}
	req := Request{Caller: senderA, Order: f.sign(order, f.signerKey)}

	assert.Equal(t, []Code{CodeAmountOrIDInvalid}, f.swap.Check(f.ctx, req).Errors)
	rc, err := f.swap.Settle(f.ctx, req)
	require.ErrorIs(t, err, ErrAmountOrIDInvalid)
	assert.Equal(t, StateReceived, rc.Reached)
	assert.Equal(t, int64(100), f.balance(tokenA, f.signer))
	assert.Equal(t, int64(1013), f.balance(tokenB, senderA))
}

func TestSelfTransferRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 1000)
	order := f.order(1)
	order.Sender = Party{Wallet: f.signer, Token: tokenA, Kind: transfer.KindERC20, Amount: big.NewInt(50)}
	order = f.sign(order, f.signerKey)

	_, err := f.swap.Settle(f.ctx, Request{Caller: f.signer, Order: order})
	require.ErrorIs(t, err, ErrSelfTransferInvalid)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestOpenOrderFilledByAnyCaller(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 100)
	f.fund(tokenB, stranger, 1003)
	order := f.order(1)
	order.Sender.Wallet = common.Address{}
	order = f.sign(order, f.signerKey)

	rc, err := f.swap.Settle(f.ctx, Request{Caller: stranger, Order: order})
	require.NoError(t, err)
	assert.Equal(t, stranger, rc.Sender)
	assert.Equal(t, int64(100), f.balance(tokenA, stranger))
	assert.Equal(t, int64(1000), f.balance(tokenB, f.signer))
}

func TestSenderMustMatchCaller(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	order := f.signed(1)

	_, err := f.swap.Settle(f.ctx, Request{Caller: stranger, Order: order})
	require.ErrorIs(t, err, ErrSenderInvalid)

	require.NoError(t, f.swap.AuthorizeSender(f.ctx, senderA, relayer))
	got, ok := f.swap.AuthorizedSender(senderA)
	require.True(t, ok)
	assert.Equal(t, relayer, got)

	rc, err := f.swap.Settle(f.ctx, Request{Caller: relayer, Order: order, Recipient: relayer})
	require.NoError(t, err)
	assert.Equal(t, senderA, rc.Sender)
	assert.Equal(t, int64(100), f.balance(tokenA, relayer))
	assert.Equal(t, int64(0), f.balance(tokenB, senderA))

	require.NoError(t, f.swap.RevokeSender(f.ctx, senderA))
	assert.Len(t, f.rec.Named(events.NameSenderRevoked), 1)
}

func TestSettleIsAtomicOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	f.tokens.Pause(tokenB, true)
	before := len(f.rec.Events())

	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(1)})
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, ledger.ErrPaused)
	assert.Equal(t, StateNonceConsumed, rc.Reached)

	assert.False(t, f.swap.NonceUsed(f.signer, 1))
	assert.Equal(t, int64(100), f.balance(tokenA, f.signer))
	assert.Equal(t, int64(0), f.balance(tokenA, senderA))
	assert.Equal(t, int64(1003), f.balance(tokenB, senderA))
	assert.Len(t, f.rec.Events(), before)

	f.tokens.Pause(tokenB, false)
	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.signed(1)})
	require.NoError(t, err)
}

func TestConcurrentSettleOfOneNonce(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 1000)
	f.fund(tokenB, senderA, 10030)
	req := Request{Caller: senderA, Order: f.signed(42)}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.swap.Settle(f.ctx, req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNonceAlreadyUsed):
				replays++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, replays)
	assert.Equal(t, int64(900), f.balance(tokenA, f.signer))
}

func TestUnknownKindRejectedBeforeTransfer(t *testing.T) {
	f := newFixture(t)
	f.tokens.MintMulti(multi, f.signer, big.NewInt(1), big.NewInt(5))
	f.tokens.SetApprovalForAll(multi, f.signer, swapAddr, true)
	f.fund(tokenB, senderA, 1003)

	require.NoError(t, f.swap.RemoveAdapter(f.ctx, ownerAddr, transfer.KindERC1155))
	assert.NotContains(t, f.swap.Kinds(), transfer.KindERC1155)

	order := f.order(1)
	order.Signer = Party{Wallet: f.signer, Token: multi, Kind: transfer.KindERC1155, ID: big.NewInt(1), Amount: big.NewInt(5)}
	req := Request{Caller: senderA, Order: f.sign(order, f.signerKey)}

	_, err := f.swap.Settle(f.ctx, req)
	require.ErrorIs(t, err, ErrTokenKindUnknown)
	assert.Equal(t, []Code{CodeTokenKindUnknown}, f.swap.Check(f.ctx, req).Errors)

	require.NoError(t, f.swap.SetAdapter(f.ctx, ownerAddr, transfer.NewERC1155Adapter(f.tokens.ERC1155())))
	_, err = f.swap.Settle(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.tokens.BalanceMulti(multi, big.NewInt(1), senderA).Int64())
}

func TestPartyShapeAndSenderKind(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()

	order := f.order(1)
	order.Signer.ID = big.NewInt(3)
	res := f.swap.Check(f.ctx, Request{Caller: senderA, Order: f.sign(order, f.signerKey)})
	assert.Equal(t, []Code{CodeAmountOrIDInvalid}, res.Errors)

	f.tokens.MintUnique(nft, senderA, big.NewInt(9))
	f.tokens.SetApprovalForAll(nft, senderA, swapAddr, true)
	order = f.order(2)
	order.Sender = Party{Wallet: senderA, Token: nft, Kind: transfer.KindERC721, ID: big.NewInt(9)}
	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.sign(order, f.signerKey)})
	assert.Equal(t, CodeSenderTokenInvalid, CodeOf(err))
}

func (f *fixture) nftOrder(nonce uint64, bps uint64) Order {
	f.tokens.MintUnique(nft, f.signer, new(big.Int).SetUint64(nonce))
	f.tokens.SetApprovalForAll(nft, f.signer, swapAddr, true)
	order := f.order(nonce)
	order.ProtocolFee = bps
	order.Signer = Party{Wallet: f.signer, Token: nft, Kind: transfer.KindERC721, ID: new(big.Int).SetUint64(nonce)}
	return f.sign(order, f.signerKey)
}

func TestRoyaltyPaidWithinCap(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetRoyalty(nft, artist, 500)
	f.fund(tokenB, senderA, 1053)

	order := f.nftOrder(1, 30)
	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order, MaxRoyalty: big.NewInt(49)})
	require.ErrorIs(t, err, ErrRoyaltyExceedsMax)

	_, err = f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order})
	require.ErrorIs(t, err, ErrRoyaltyExceedsMax)

	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order, MaxRoyalty: big.NewInt(50)})
	require.NoError(t, err)
	assert.Equal(t, artist, rc.Fees.Royalty.Recipient)
	assert.Equal(t, int64(50), f.balance(tokenB, artist))
	assert.Equal(t, int64(3), f.balance(tokenB, feeWallet))
	assert.Equal(t, int64(1000), f.balance(tokenB, f.signer))
	owner, _ := f.tokens.OwnerOfUnique(nft, big.NewInt(1))
	assert.Equal(t, senderA, owner)
}

func TestLightSettlementSkipsRoyalty(t *testing.T) {
	f := newFixture(t)
	f.tokens.SetRoyalty(nft, artist, 500)
	f.fund(tokenB, senderA, 1000)

	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.nftOrder(1, 30), Light: true})
	require.ErrorIs(t, err, ErrInvalidFee)

	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.nftOrder(2, 7), Light: true})
	require.NoError(t, err)
	assert.True(t, rc.Light)
	assert.Equal(t, int64(0), rc.Fees.Protocol.Int64())
	assert.Equal(t, int64(0), f.balance(tokenB, artist))
	assert.Equal(t, 1, f.settledSeries())
}

func TestAffiliatePaidOnTop(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenA, f.signer, 100)
	f.fund(tokenB, senderA, 1013)
	order := f.order(1)
	order.Affiliate = Affiliate{Wallet: affiliate, Amount: big.NewInt(10)}
	order = f.sign(order, f.signerKey)

	require.True(t, f.swap.Check(f.ctx, Request{Caller: senderA, Order: order}).OK())
	rc, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: order})
	require.NoError(t, err)
	assert.Equal(t, int64(13), rc.Fees.Total().Int64())
	assert.Equal(t, int64(10), f.balance(tokenB, affiliate))
	assert.Equal(t, int64(0), f.balance(tokenB, senderA))
}

func TestSignatureFailures(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	tampered := f.signed(1)
	tampered.Signer.Amount = big.NewInt(1)

	badV := f.signed(1)
	badV.Signature.V = 29

	otherDomain := f.order(1)
	builder, err := chain.NewOrderBuilder(swapAddr, 5, f.signerKey)
	require.NoError(t, err)
	require.NoError(t, otherDomain.Sign(builder))

	tests := []struct {
		name  string
		order Order
		want  *Error
	}{
		{"wrong key", f.sign(f.order(1), other), ErrUnauthorized},
		{"tampered field", tampered, ErrUnauthorized},
		{"bad recovery id", badV, ErrSignatureInvalid},
		{"other chain", otherDomain, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: tt.order})
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.False(t, f.swap.NonceUsed(f.signer, 1))
}

func TestExpiredOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.fundDefault()
	order := f.order(1)
	order.Expiry = uint64(testNow.Unix())

	_, err := f.swap.Settle(f.ctx, Request{Caller: senderA, Order: f.sign(order, f.signerKey)})
	require.ErrorIs(t, err, ErrOrderExpired)
}
