package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 105, 2)
	require.NoError(t, err)
	require.Equal(t, []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}, got)
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	require.NoError(t, err)
	require.Equal(t, []BlockRange{{From: 5, To: 5}}, got)
	require.Equal(t, uint64(1), got[0].Blocks())
}

func TestSplitRangeUneven(t *testing.T) {
	got, err := SplitRange(101, 103, 2000)
	require.NoError(t, err)
	require.Equal(t, []BlockRange{{From: 101, To: 103}}, got)

	got, err = SplitRange(1, 10, 4)
	require.NoError(t, err)
	require.Equal(t, []BlockRange{{From: 1, To: 4}, {From: 5, To: 8}, {From: 9, To: 10}}, got)
}

func TestSplitRangeInvalid(t *testing.T) {
	_, err := SplitRange(10, 9, 1)
	require.Error(t, err)
	_, err = SplitRange(1, 10, 0)
	require.Error(t, err)
}

func TestFinalizedTarget(t *testing.T) {
	require.Equal(t, uint64(103), finalizedTarget(105, 2))
	require.Equal(t, uint64(0), finalizedTarget(2, 2))
	require.Equal(t, uint64(0), finalizedTarget(1, 2))
	require.Equal(t, uint64(7), finalizedTarget(7, 0))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), retryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = withRetry(context.Background(), retryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.EqualError(t, err, "permanent")
	require.Equal(t, 2, calls)
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, retryPolicy{MaxRetries: 5, BaseDelay: time.Hour}, func(context.Context) error {
		return errors.New("unavailable")
	})
	require.ErrorIs(t, err, context.Canceled)
}
