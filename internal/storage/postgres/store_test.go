package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"echopay/internal/model"
	"echopay/internal/storage"
)

// Runs against a disposable database named by ECHOPAY_TEST_PG_DSN.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ECHOPAY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ECHOPAY_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStoreUpsertReceipt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := fmt.Sprintf("T%d", time.Now().UnixNano())
	merchant := fmt.Sprintf("0x%040d", time.Now().UnixNano())
	symbol := "S"
	decimals := uint8(18)
	usd := decimal.RequireFromString("0.10")
	receipt := model.Receipt{
		ChainID:       146,
		ReceiptID:     "1",
		Payer:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Merchant:      merchant,
		Token:         "0x0000000000000000000000000000000000000000",
		Amount:        "1000000000000000000",
		Code:          code,
		TxHash:        "0xabc",
		BlockNumber:   102,
		TokenSymbol:   &symbol,
		TokenDecimals: &decimals,
		UsdAtTx:       &usd,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}

	stored, inserted, err := store.UpsertReceipt(ctx, receipt)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, receipt.Amount, stored.Amount)
	require.True(t, stored.UsdAtTx.Equal(usd))

	changed := receipt
	changed.Amount = "5"
	again, inserted, err := store.UpsertReceipt(ctx, changed)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, stored, again)

	byCode, err := store.ReceiptByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, stored, byCode)

	count, err := store.CountByMerchant(ctx, merchant)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	total, err := store.SumUSDByMerchant(ctx, merchant)
	require.NoError(t, err)
	require.True(t, total.Equal(usd))

	_, err = store.ReceiptByCode(ctx, code+"-missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	name := fmt.Sprintf("test-%d", time.Now().UnixNano())

	_, ok, err := store.LoadCursor(ctx, name)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveCursor(ctx, name, 103))
	require.NoError(t, store.SaveCursor(ctx, name, 104))
	block, ok, err := store.LoadCursor(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(104), block)
}
