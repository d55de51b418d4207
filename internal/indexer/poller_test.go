package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"echopay/internal/enrich"
	"echopay/internal/model"
	"echopay/internal/payment/paymenttest"
	"echopay/internal/storage"
)

var (
	testPayer    = common.HexToAddress("0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")
	testMerchant = common.HexToAddress("0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb")
	testToken    = common.HexToAddress("0x1234567890123456789012345678901234567890")
)

type fakeChain struct {
	mu          sync.Mutex
	head        uint64
	headErr     error
	filterErr   error
	logs        []types.Log
	replay      bool
	filterCalls []BlockRange
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) FilterLogs(_ context.Context, fromBlock, toBlock uint64, address common.Address, _ common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filterCalls = append(f.filterCalls, BlockRange{From: fromBlock, To: toBlock})
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	out := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.Address != address {
			continue
		}
		if f.replay || (log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock) {
			out = append(out, log)
		}
	}
	return out, nil
}

type failingCaller struct{}

func (failingCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("execution reverted")
}

type recordingNotifier struct {
	mu    sync.Mutex
	codes []string
}

func (n *recordingNotifier) Notify(r model.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, r.Code)
}

type failingStore struct {
	storage.ReceiptStore
}

func (failingStore) UpsertReceipt(context.Context, model.Receipt) (model.Receipt, bool, error) {
	return model.Receipt{}, false, errors.New("connection refused")
}

// boundedStore rejects USD values wider than the usd_at_tx column.
type boundedStore struct {
	*storage.MemoryStore
}

func (s boundedStore) UpsertReceipt(ctx context.Context, r model.Receipt) (model.Receipt, bool, error) {
	if r.UsdAtTx != nil && r.UsdAtTx.Abs().Cmp(decimal.New(1, enrich.MaxUSDIntegerDigits)) >= 0 {
		return model.Receipt{}, false, errors.New("numeric field overflow")
	}
	return s.MemoryStore.UpsertReceipt(ctx, r)
}

func newResolver(t *testing.T) *enrich.Resolver {
	t.Helper()
	return enrich.NewResolver(enrich.Config{
		NativeSymbol: "S",
		StableSymbol: "USDC",
		NativeUSD:    decimal.RequireFromString("0.10"),
		CallTimeout:  100 * time.Millisecond,
	}, failingCaller{}, nil, nil)
}

func newTestPoller(t *testing.T, chain ChainReader, store *storage.MemoryStore, notifier Notifier) *Poller {
	t.Helper()
	p, err := NewPoller(Config{
		ChainID:        146,
		Contract:       paymenttest.Contract.Hex(),
		FinalityBuffer: 2,
		BatchSize:      DefaultBatchSize,
		RetryBackoff:   time.Millisecond,
	}, chain, newResolver(t), store, store, notifier, nil)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }
	return p
}

func nativeLog(code string, block uint64, index uint) types.Log {
	return paymenttest.NewLog(paymenttest.Receipt{
		ReceiptID:   1,
		Payer:       testPayer,
		Merchant:    testMerchant,
		Token:       model.NativeToken,
		Amount:      "1000000000000000000",
		Code:        code,
		BlockNumber: block,
		LogIndex:    index,
	})
}

func TestPollerIngestsFinalizedRange(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 100))

	chain := &fakeChain{head: 105, logs: []types.Log{nativeLog("ABC123", 102, 0)}}
	notifier := &recordingNotifier{}
	p := newTestPoller(t, chain, store, notifier)

	require.NoError(t, p.Init(ctx))
	require.Equal(t, uint64(100), p.Cursor())

	require.NoError(t, p.Tick(ctx))
	require.Equal(t, uint64(103), p.Cursor())
	require.Equal(t, []BlockRange{{From: 101, To: 103}}, chain.filterCalls)

	receipt, err := store.ReceiptByCode(ctx, "ABC123")
	require.NoError(t, err)
	require.Equal(t, uint64(146), receipt.ChainID)
	require.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", receipt.Payer)
	require.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", receipt.Merchant)
	require.Equal(t, "0x0000000000000000000000000000000000000000", receipt.Token)
	require.Equal(t, "1000000000000000000", receipt.Amount)
	require.Equal(t, uint64(102), receipt.BlockNumber)
	require.NotNil(t, receipt.TokenSymbol)
	require.Equal(t, "S", *receipt.TokenSymbol)
	require.NotNil(t, receipt.TokenDecimals)

	human, err := enrich.FromBaseUnits(receipt.Amount, *receipt.TokenDecimals)
	require.NoError(t, err)
	require.True(t, human.Equal(decimal.NewFromInt(1)))

	require.NotNil(t, receipt.UsdAtTx)
	require.True(t, receipt.UsdAtTx.Equal(decimal.RequireFromString("0.10")), receipt.UsdAtTx.String())

	persisted, ok, err := store.LoadCursor(ctx, DefaultCursorName)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(103), persisted)
	require.Equal(t, []string{"ABC123"}, notifier.codes)
}

func TestPollerOverlappingRangeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 100))

	chain := &fakeChain{head: 105, replay: true, logs: []types.Log{nativeLog("ABC123", 102, 0)}}
	notifier := &recordingNotifier{}
	p := newTestPoller(t, chain, store, notifier)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.Tick(ctx))
	first, err := store.ReceiptByCode(ctx, "ABC123")
	require.NoError(t, err)

	chain.head = 107
	p.now = func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, p.Tick(ctx))
	require.Equal(t, uint64(105), p.Cursor())

	second, err := store.ReceiptByCode(ctx, "ABC123")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, store.Len())
	require.Equal(t, []string{"ABC123"}, notifier.codes)
}

func TestPollerNoopBelowTarget(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 103))

	chain := &fakeChain{head: 105}
	p := newTestPoller(t, chain, store, nil)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.Tick(ctx))
	require.Empty(t, chain.filterCalls)
	require.Equal(t, uint64(103), p.Cursor())
}

func TestPollerSkipsMalformedLogs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 10))

	truncated := nativeLog("BROKEN", 11, 1)
	truncated.Data = truncated.Data[:40]

	chain := &fakeChain{head: 20, logs: []types.Log{
		paymenttest.UnrelatedLog(11, 0),
		truncated,
		nativeLog("GOOD01", 12, 0),
	}}
	p := newTestPoller(t, chain, store, nil)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.Tick(ctx))
	require.Equal(t, uint64(18), p.Cursor())
	require.Equal(t, 1, store.Len())

	_, err := store.ReceiptByCode(ctx, "GOOD01")
	require.NoError(t, err)
	_, err = store.ReceiptByCode(ctx, "BROKEN")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPollerEnrichmentDegradation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 0))

	log := paymenttest.NewLog(paymenttest.Receipt{
		ReceiptID:   7,
		Payer:       testPayer,
		Merchant:    testMerchant,
		Token:       testToken,
		Amount:      "2500000",
		Code:        "TOKEN1",
		BlockNumber: 3,
	})
	chain := &fakeChain{head: 5, logs: []types.Log{log}}
	p := newTestPoller(t, chain, store, nil)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.Tick(ctx))

	receipt, err := store.ReceiptByCode(ctx, "TOKEN1")
	require.NoError(t, err)
	require.Nil(t, receipt.TokenSymbol)
	require.Nil(t, receipt.TokenDecimals)
	require.Nil(t, receipt.UsdAtTx)
	require.Equal(t, "2500000", receipt.Amount)
	require.Equal(t, uint64(3), p.Cursor())
}

func TestPollerRPCFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 100))

	chain := &fakeChain{head: 105, filterErr: errors.New("rpc timeout"), logs: []types.Log{nativeLog("ABC123", 102, 0)}}
	p := newTestPoller(t, chain, store, nil)
	require.NoError(t, p.Init(ctx))

	require.Error(t, p.Tick(ctx))
	require.Equal(t, uint64(100), p.Cursor())
	require.Equal(t, 0, store.Len())

	chain.headErr = errors.New("node unavailable")
	require.Error(t, p.Tick(ctx))
	require.Equal(t, uint64(100), p.Cursor())

	chain.headErr = nil
	chain.filterErr = nil
	require.NoError(t, p.Tick(ctx))
	require.Equal(t, uint64(103), p.Cursor())
	require.Equal(t, 1, store.Len())
}

func TestPollerPersistenceFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	cursors := storage.NewMemoryStore()
	require.NoError(t, cursors.SaveCursor(ctx, DefaultCursorName, 100))

	chain := &fakeChain{head: 105, logs: []types.Log{nativeLog("ABC123", 102, 0)}}
	p, err := NewPoller(Config{
		Contract:       paymenttest.Contract.Hex(),
		FinalityBuffer: 2,
	}, chain, newResolver(t), failingStore{}, cursors, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Init(ctx))

	require.Error(t, p.Tick(ctx))
	require.Equal(t, uint64(100), p.Cursor())

	persisted, _, err := cursors.LoadCursor(ctx, DefaultCursorName)
	require.NoError(t, err)
	require.Equal(t, uint64(100), persisted)
}

func TestPollerInitClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	chain := &fakeChain{head: 1}
	p := newTestPoller(t, chain, store, nil)

	require.NoError(t, p.Init(ctx))
	require.Equal(t, uint64(0), p.Cursor())

	require.NoError(t, p.Tick(ctx))
	require.Empty(t, chain.filterCalls)
	require.Equal(t, uint64(0), p.Cursor())
}

func TestPollerInitUsesStartBlockOrFinalizedHead(t *testing.T) {
	ctx := context.Background()

	newPoller := func(start uint64) *Poller {
		p, err := NewPoller(Config{
			Contract:       paymenttest.Contract.Hex(),
			FinalityBuffer: 2,
			StartBlock:     start,
		}, &fakeChain{head: 105}, newResolver(t), storage.NewMemoryStore(), storage.NewMemoryStore(), nil, nil)
		require.NoError(t, err)
		return p
	}

	low := newPoller(50)
	require.NoError(t, low.Init(ctx))
	require.Equal(t, uint64(103), low.Cursor())

	high := newPoller(200)
	require.NoError(t, high.Init(ctx))
	require.Equal(t, uint64(200), high.Cursor())
}

func TestPollerInitRetriesHead(t *testing.T) {
	chain := &fakeChain{headErr: errors.New("dial tcp: connection refused")}
	p, err := NewPoller(Config{
		Contract:     paymenttest.Contract.Hex(),
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, chain, newResolver(t), storage.NewMemoryStore(), nil, nil, nil)
	require.NoError(t, err)

	err = p.Init(context.Background())
	require.Error(t, err)
	require.Error(t, p.Tick(context.Background()))
}

func TestPollerSplitsLargeRanges(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 0))

	chain := &fakeChain{head: 12, logs: []types.Log{nativeLog("A00001", 2, 0), nativeLog("A00002", 9, 0)}}
	p, err := NewPoller(Config{
		Contract:       paymenttest.Contract.Hex(),
		FinalityBuffer: 2,
		BatchSize:      4,
	}, chain, newResolver(t), store, store, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.Tick(ctx))
	require.Equal(t, []BlockRange{{From: 1, To: 4}, {From: 5, To: 8}, {From: 9, To: 10}}, chain.filterCalls)
	require.Equal(t, uint64(10), p.Cursor())
	require.Equal(t, 2, store.Len())
}

func TestPollerCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 50))

	chain := &fakeChain{}
	p := newTestPoller(t, chain, store, nil)
	require.NoError(t, p.Init(ctx))

	last := p.Cursor()
	for _, head := range []uint64{60, 55, 61, 40, 61, 70} {
		chain.head = head
		require.NoError(t, p.Tick(ctx))
		require.GreaterOrEqual(t, p.Cursor(), last)
		require.LessOrEqual(t, p.Cursor(), max(head-2, last))
		last = p.Cursor()
	}
	require.Equal(t, uint64(68), p.Cursor())
}

func TestNewPollerRejectsInvalidContract(t *testing.T) {
	for _, contract := range []string{"", "0x123", "not-an-address", "0x0000000000000000000000000000000000000000"} {
		_, err := NewPoller(Config{Contract: contract}, &fakeChain{}, newResolver(t), storage.NewMemoryStore(), nil, nil, nil)
		require.ErrorIs(t, err, ErrInvalidContract, contract)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemoryStore()
	chain := &fakeChain{head: 10, logs: []types.Log{nativeLog("RUN001", 9, 0)}}

	p, err := NewPoller(Config{
		Contract:       paymenttest.Contract.Hex(),
		FinalityBuffer: 0,
		StartBlock:     5,
		PollInterval:   5 * time.Millisecond,
	}, chain, newResolver(t), store, nil, nil, nil)
	require.NoError(t, err)

	chain.head = 5
	require.NoError(t, p.Init(ctx))
	chain.mu.Lock()
	chain.head = 10
	chain.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPollerStoresUnpriceableAmountWithoutUSD(t *testing.T) {
	ctx := context.Background()
	memory := storage.NewMemoryStore()
	require.NoError(t, memory.SaveCursor(ctx, DefaultCursorName, 0))

	resolver := enrich.NewResolver(enrich.Config{
		StableSymbol: "USDC",
		Known: map[common.Address]model.TokenMeta{
			testToken: {Address: testToken.Hex(), Symbol: "USDC", Decimals: 0},
		},
	}, failingCaller{}, nil, nil)

	amount := new(big.Int).Lsh(big.NewInt(1), 255).String()
	log := paymenttest.NewLog(paymenttest.Receipt{
		ReceiptID:   9,
		Payer:       testPayer,
		Merchant:    testMerchant,
		Token:       testToken,
		Amount:      amount,
		Code:        "HUGE",
		BlockNumber: 2,
	})
	chain := &fakeChain{head: 6, logs: []types.Log{log}}
	p, err := NewPoller(Config{
		ChainID:        146,
		Contract:       paymenttest.Contract.Hex(),
		FinalityBuffer: 2,
		RetryBackoff:   time.Millisecond,
	}, chain, resolver, boundedStore{memory}, memory, nil, nil)
	require.NoError(t, err)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.Tick(ctx))
	require.Equal(t, uint64(4), p.Cursor())

	receipt, err := memory.ReceiptByCode(ctx, "HUGE")
	require.NoError(t, err)
	require.Equal(t, amount, receipt.Amount)
	require.Equal(t, "USDC", *receipt.TokenSymbol)
	require.Nil(t, receipt.UsdAtTx)
}

func TestPollerLogsHumanAmount(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveCursor(ctx, DefaultCursorName, 100))

	chain := &fakeChain{head: 105, logs: []types.Log{nativeLog("ABC123", 102, 0)}}
	p := newTestPoller(t, chain, store, nil)
	core, logs := observer.New(zap.InfoLevel)
	p.logger = zap.New(core)

	require.NoError(t, p.Init(ctx))
	require.NoError(t, p.Tick(ctx))

	stored := logs.FilterMessage("receipt stored").All()
	require.Len(t, stored, 1)
	fields := stored[0].ContextMap()
	require.Equal(t, "ABC123", fields["code"])
	require.Equal(t, "1", fields["amount_human"])
	require.Equal(t, true, fields["native"])
}
