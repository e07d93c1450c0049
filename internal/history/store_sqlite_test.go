package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pairs_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshotFixture(handle string, status core.TargetStatus, retiredAt time.Time) core.TargetSnapshot {
	return core.TargetSnapshot{
		Handle:         handle,
		OpportunityKey: "alpha:AAA|beta:BBB",
		Direction:      core.DirectionLong,
		Status:         status,
		Legs: [2]core.LegSnapshot{
			{
				Instrument: core.Instrument{Venue: "alpha", Symbol: "AAA"},
				Target:     decimal.RequireFromString("10"),
				Filled:     decimal.RequireFromString("10"),
			},
			{
				Instrument: core.Instrument{Venue: "beta", Symbol: "BBB"},
				Target:     decimal.RequireFromString("-9"),
				Filled:     decimal.RequireFromString("-9"),
			},
		},
		ExpectedSpread: decimal.RequireFromString("1.9"),
		RealizedSpread: decimal.RequireFromString("1.96"),
		FeePaid:        decimal.RequireFromString("0.95"),
		GroupCount:     1,
		CreatedAt:      retiredAt.Add(-time.Minute),
		AnchorTime:     retiredAt.Add(-59 * time.Second),
		RetiredAt:      retiredAt,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	retiredAt := time.Now().UTC()
	saved := snapshotFixture("handle-1", core.TargetStatusFilled, retiredAt)
	require.NoError(t, store.SaveRetired(ctx, saved))

	loaded, err := store.RecentRetired(ctx, 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "handle-1", got.Handle)
	assert.Equal(t, core.TargetStatusFilled, got.Status)
	assert.Equal(t, core.DirectionLong, got.Direction)
	assert.True(t, got.Legs[1].Filled.Equal(decimal.RequireFromString("-9")))
	assert.True(t, got.RealizedSpread.Equal(decimal.RequireFromString("1.96")))
	assert.True(t, got.RetiredAt.Equal(retiredAt))
}

func TestSQLiteStoreRecentOrderingAndLimit(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		snap := snapshotFixture(
			"handle-"+string(rune('a'+i)),
			core.TargetStatusFilled,
			base.Add(time.Duration(i)*time.Minute),
		)
		require.NoError(t, store.SaveRetired(ctx, snap))
	}

	recent, err := store.RecentRetired(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "handle-e", recent[0].Handle, "newest first")
	assert.Equal(t, "handle-d", recent[1].Handle)
	assert.Equal(t, "handle-c", recent[2].Handle)
}

func TestSQLiteStoreReplacesSameHandle(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	retiredAt := time.Now().UTC()
	require.NoError(t, store.SaveRetired(ctx, snapshotFixture("handle-1", core.TargetStatusCanceled, retiredAt)))
	require.NoError(t, store.SaveRetired(ctx, snapshotFixture("handle-1", core.TargetStatusFilled, retiredAt)))

	recent, err := store.RecentRetired(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, core.TargetStatusFilled, recent[0].Status)
}

func TestSQLiteStoreDetectsCorruption(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRetired(ctx, snapshotFixture("handle-1", core.TargetStatusFilled, time.Now().UTC())))

	_, err := store.db.ExecContext(ctx,
		`UPDATE retired_targets SET data = '{"Handle":"tampered"}' WHERE handle = 'handle-1'`)
	require.NoError(t, err)

	_, err = store.RecentRetired(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum verification failed")
}

func TestSQLiteStorePing(t *testing.T) {
	store := createTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}
