// Package state persists the bot's session state (open positions, equity,
// shutdown flag) as a JSON snapshot, atomically swapped the same way
// sensortracker.Tracker.SaveState writes its stats file — write to a .tmp
// sibling, then rename over the target. spec.md §6 only asks for a minimal
// snapshot in place of the original's SQLite historian; this is that stand-in.
package state

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PositionRecord is the persisted view of one open position.
type PositionRecord struct {
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	TPLevel    float64   `json:"tp_level"`
	SLLevel    float64   `json:"sl_level"`
	OpenedAt   time.Time `json:"opened_at"`
	BarsHeld   int       `json:"bars_held"`
}

// Snapshot is the full persisted session state.
type Snapshot struct {
	SavedAt      time.Time        `json:"saved_at"`
	Equity       float64          `json:"equity"`
	Positions    []PositionRecord `json:"positions"`
	ShutdownMode bool             `json:"shutdown_mode"`
}

// Store manages atomic read/write of a Snapshot against a single file path.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore builds a Store over path. Parent directories are created lazily
// on the first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the last saved snapshot, returning a zero Snapshot (not an
// error) if the file does not exist yet, matching the teacher's "no
// existing state, starting fresh" behavior.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("📂 No existing session state found at %s, starting fresh", s.path)
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	log.Printf("✅ Loaded session state from %s (%d positions)", s.path, len(snap.Positions))
	return snap, nil
}

// Save atomically rewrites the snapshot file: write to path+".tmp", then
// rename over path, so a crash mid-write never corrupts the last-good file.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.SavedAt = time.Now()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
