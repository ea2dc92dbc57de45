package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantforge/risk-engine/internal/engine"
)

// TestLoad_CleanStartWithoutFile tests that a missing state file starts a
// fresh session instead of failing.
func TestLoad_CleanStartWithoutFile(t *testing.T) {
	p := NewPersistence(nil, t.TempDir())
	assert.NoError(t, p.Initialize())

	snapshot, err := p.Load()

	assert.NoError(t, err)
	assert.Equal(t, "1.0.0", snapshot.Version)
	assert.Equal(t, 0.0, snapshot.HighWaterMark)
	assert.Nil(t, snapshot.Agent)
}

// TestSaveLoad_RoundTrip tests that a saved snapshot survives a process
// restart intact.
func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence(nil, dir)
	assert.NoError(t, p.Initialize())
	p.Update(12500, nil, &engine.TrackerState{TotalTrades: 7, Wins: 4, Losses: 3, GrossProfit: 0.12, GrossLoss: 0.05})
	assert.NoError(t, p.Save())

	restarted := NewPersistence(nil, dir)
	snapshot, err := restarted.Load()

	assert.NoError(t, err)
	assert.Equal(t, 12500.0, snapshot.HighWaterMark)
	assert.NotNil(t, snapshot.Tracker)
	assert.Equal(t, 7, snapshot.Tracker.TotalTrades)
	assert.Equal(t, 0.12, snapshot.Tracker.GrossProfit)
}

// TestLoad_RejectsStaleSnapshot tests that a snapshot older than a week is
// discarded in favor of a clean session.
func TestLoad_RejectsStaleSnapshot(t *testing.T) {
	dir := t.TempDir()
	stale := EngineSnapshot{
		Version:       "1.0.0",
		LastUpdated:   time.Now().Add(-8 * 24 * time.Hour),
		HighWaterMark: 9999,
	}
	writeSnapshotFile(t, dir, stale)

	snapshot, err := NewPersistence(nil, dir).Load()

	assert.NoError(t, err)
	assert.Equal(t, 0.0, snapshot.HighWaterMark)
}

// TestLoad_RejectsInvalidSnapshot tests that snapshots with a missing version
// or an invalid high-water mark are discarded.
func TestLoad_RejectsInvalidSnapshot(t *testing.T) {
	cases := map[string]EngineSnapshot{
		"empty version": {LastUpdated: time.Now(), HighWaterMark: 100},
		"negative hwm":  {Version: "1.0.0", LastUpdated: time.Now(), HighWaterMark: -5},
	}

	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeSnapshotFile(t, dir, snap)

			loaded, err := NewPersistence(nil, dir).Load()

			assert.NoError(t, err)
			assert.Equal(t, 0.0, loaded.HighWaterMark)
		})
	}
}

// TestLoad_CorruptFileErrors tests that unparseable state files are reported
// rather than silently replaced.
func TestLoad_CorruptFileErrors(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "engine_state.json"), []byte("{not json"), 0o644))

	_, err := NewPersistence(nil, dir).Load()

	assert.Error(t, err)
}

// TestSave_KeepsBackup tests that saving over an existing snapshot preserves
// the previous one as a backup.
func TestSave_KeepsBackup(t *testing.T) {
	dir := t.TempDir()
	p := NewPersistence(nil, dir)
	assert.NoError(t, p.Initialize())

	p.Update(10000, nil, nil)
	assert.NoError(t, p.Save())
	p.Update(11000, nil, nil)
	assert.NoError(t, p.Save())

	backup, err := os.ReadFile(filepath.Join(dir, "engine_state_backup.json"))
	assert.NoError(t, err)

	var previous EngineSnapshot
	assert.NoError(t, json.Unmarshal(backup, &previous))
	assert.Equal(t, 10000.0, previous.HighWaterMark)
	assert.Equal(t, 11000.0, p.Current().HighWaterMark)
}

// TestUpdate_PreservesSessionStart tests that updates carry the original
// session start forward.
func TestUpdate_PreservesSessionStart(t *testing.T) {
	p := NewPersistence(nil, t.TempDir())
	started := p.Current().SessionStart

	p.Update(5000, nil, nil)

	assert.Equal(t, started, p.Current().SessionStart)
	assert.Equal(t, 5000.0, p.Current().HighWaterMark)
}

func writeSnapshotFile(t *testing.T, dir string, snap EngineSnapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "engine_state.json"), data, 0o644))
}
