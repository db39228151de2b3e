package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissingFileReturnsZeroValue(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	snap, err := store.Load()
	require.NoError(t, err)
	require.Zero(t, snap.Equity)
	require.Empty(t, snap.Positions)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewStore(path)

	snap := Snapshot{
		Equity: 1000.5,
		Positions: []PositionRecord{
			{TradeID: "T1", Symbol: "BTCUSDT", Side: "LONG", EntryPrice: 50000, Quantity: 0.01},
		},
		ShutdownMode: true,
	}
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, 1000.5, loaded.Equity)
	require.True(t, loaded.ShutdownMode)
	require.Len(t, loaded.Positions, 1)
	require.Equal(t, "BTCUSDT", loaded.Positions[0].Symbol)
}
