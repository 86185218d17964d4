package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karmaloop/automation-server-go/internal/model"
)

func TestDayKey(t *testing.T) {
	t.Run("formats UTC date", func(t *testing.T) {
		ts := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
		assert.Equal(t, "2025-03-14", DayKey(ts))
	})

	t.Run("converts local time to UTC before keying", func(t *testing.T) {
		loc := time.FixedZone("UTC+9", 9*60*60)
		// 03:00 on the 15th in UTC+9 is still the 14th in UTC.
		ts := time.Date(2025, 3, 15, 3, 0, 0, 0, loc)
		assert.Equal(t, "2025-03-14", DayKey(ts))
	})
}

func TestMemoryQuota_TryReserve(t *testing.T) {
	ctx := context.Background()
	key := model.ActionKey{AccountID: "acct-1", Action: model.ActionComment}

	t.Run("grants until max then denies", func(t *testing.T) {
		q := NewMemoryQuota()

		for i := 0; i < 3; i++ {
			granted, remaining, err := q.TryReserve(ctx, key, "2025-03-14", 3)
			require.NoError(t, err)
			assert.True(t, granted, "reservation %d should be granted", i)
			assert.Equal(t, 2-i, remaining)
		}

		granted, remaining, err := q.TryReserve(ctx, key, "2025-03-14", 3)
		require.NoError(t, err)
		assert.False(t, granted)
		assert.Equal(t, 0, remaining)
	})

	t.Run("denied reservation consumes nothing", func(t *testing.T) {
		q := NewMemoryQuota()

		_, _, err := q.TryReserve(ctx, key, "2025-03-14", 1)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			granted, _, err := q.TryReserve(ctx, key, "2025-03-14", 1)
			require.NoError(t, err)
			assert.False(t, granted)
		}

		used, err := q.Usage(ctx, key, "2025-03-14")
		require.NoError(t, err)
		assert.Equal(t, 1, used)
	})

	t.Run("denies when max is zero", func(t *testing.T) {
		q := NewMemoryQuota()

		granted, remaining, err := q.TryReserve(ctx, key, "2025-03-14", 0)
		require.NoError(t, err)
		assert.False(t, granted)
		assert.Equal(t, 0, remaining)
	})

	t.Run("keys and days are independent", func(t *testing.T) {
		q := NewMemoryQuota()
		other := model.ActionKey{AccountID: "acct-2", Action: model.ActionComment}

		granted, _, err := q.TryReserve(ctx, key, "2025-03-14", 1)
		require.NoError(t, err)
		require.True(t, granted)

		granted, _, err = q.TryReserve(ctx, other, "2025-03-14", 1)
		require.NoError(t, err)
		assert.True(t, granted, "different account should have its own counter")

		granted, _, err = q.TryReserve(ctx, key, "2025-03-15", 1)
		require.NoError(t, err)
		assert.True(t, granted, "next day should start from zero")
	})
}

func TestMemoryQuota_Concurrent(t *testing.T) {
	ctx := context.Background()
	key := model.ActionKey{AccountID: "acct-1", Action: model.ActionUpvote}
	q := NewMemoryQuota()

	const workers = 100
	const max = 25

	var granted int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := q.TryReserve(ctx, key, "2025-03-14", max)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(max), granted, "grants must never exceed max under contention")

	used, err := q.Usage(ctx, key, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, max, used)
}

func TestMemoryQuota_ResetDay(t *testing.T) {
	ctx := context.Background()
	key := model.ActionKey{AccountID: "acct-1", Action: model.ActionPost}
	q := NewMemoryQuota()

	_, _, err := q.TryReserve(ctx, key, "2025-03-13", 5)
	require.NoError(t, err)
	_, _, err = q.TryReserve(ctx, key, "2025-03-14", 5)
	require.NoError(t, err)

	require.NoError(t, q.ResetDay(ctx, "2025-03-14"))

	used, err := q.Usage(ctx, key, "2025-03-13")
	require.NoError(t, err)
	assert.Equal(t, 0, used, "previous day's counter should be dropped")

	used, err = q.Usage(ctx, key, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, 1, used, "current day's counter must survive the reset")
}
