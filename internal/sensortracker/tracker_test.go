package sensortracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorScore_NeutralForUnknownSensor(t *testing.T) {
	tr := New(filepath.Join(t.TempDir(), "stats.json"))
	assert.Equal(t, 0.5, tr.SensorScore("ghost"))
}

func TestSensorScore_NeutralBeforeMinTrades(t *testing.T) {
	tr := New(filepath.Join(t.TempDir(), "stats.json"))
	for i := 0; i < minTradesForScoring-1; i++ {
		tr.UpdateSensor("a", 1.0, true)
	}
	assert.Equal(t, 0.5, tr.SensorScore("a"))
}

func TestSensorScore_RisesWithWinningStreak(t *testing.T) {
	tr := New(filepath.Join(t.TempDir(), "stats.json"))
	for i := 0; i < minTradesForScoring+5; i++ {
		tr.UpdateSensor("a", 10.0, true)
	}
	assert.Greater(t, tr.SensorScore("a"), 0.5)
}

func TestKellyFraction_FloorsAtMinimumWithoutLosses(t *testing.T) {
	tr := New(filepath.Join(t.TempDir(), "stats.json"))
	for i := 0; i < minTradesForScoring+1; i++ {
		tr.UpdateSensor("a", 5.0, true)
	}
	assert.Equal(t, 0.01, tr.KellyFraction("a", 0.25))
}

func TestKellyFraction_ClampedToMaxFraction(t *testing.T) {
	tr := New(filepath.Join(t.TempDir(), "stats.json"))
	for i := 0; i < minTradesForScoring+10; i++ {
		won := i%5 != 0
		pnl := 10.0
		if !won {
			pnl = -2.0
		}
		tr.UpdateSensor("a", pnl, won)
	}
	got := tr.KellyFraction("a", 0.25)
	assert.LessOrEqual(t, got, 0.25)
	assert.GreaterOrEqual(t, got, 0.01)
}

func TestSaveState_RoundTripsThroughSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	tr := New(path)
	tr.UpdateSensor("a", 3.0, true)
	require.NoError(t, tr.SaveState())

	_, err := os.Stat(path)
	require.NoError(t, err)

	reloaded := New(path)
	stats := reloaded.GetStats("a")
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.TotalTrades)
}
