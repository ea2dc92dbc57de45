package state

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/internal/engine"
	"github.com/quantforge/risk-engine/internal/rl"
)

// EngineSnapshot is the complete recoverable state of the risk engine
type EngineSnapshot struct {
	Version       string               `json:"version"`
	LastUpdated   time.Time            `json:"last_updated"`
	SessionStart  time.Time            `json:"session_start"`
	HighWaterMark float64              `json:"high_water_mark"`
	Agent         *rl.AgentState       `json:"agent,omitempty"`
	Tracker       *engine.TrackerState `json:"tracker,omitempty"`
}

// Persistence manages saving and loading of engine state. Saves go through
// a temp file and an atomic rename so a crash never leaves a torn snapshot.
type Persistence struct {
	logger   *zap.Logger
	stateDir string

	mu       sync.RWMutex
	current  *EngineSnapshot
	lastSave time.Time

	autoSave     bool
	saveInterval time.Duration
}

// NewPersistence creates a persistence manager writing under stateDir
func NewPersistence(logger *zap.Logger, stateDir string) *Persistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{
		logger:       logger,
		stateDir:     stateDir,
		current:      NewEngineSnapshot(),
		autoSave:     true,
		saveInterval: 5 * time.Minute,
		lastSave:     time.Now(),
	}
}

// NewEngineSnapshot creates a new empty snapshot
func NewEngineSnapshot() *EngineSnapshot {
	return &EngineSnapshot{
		Version:      "1.0.0",
		LastUpdated:  time.Now(),
		SessionStart: time.Now(),
	}
}

// Initialize creates the state directory
func (p *Persistence) Initialize() error {
	if err := os.MkdirAll(p.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	p.logger.Info("state persistence initialized", zap.String("dir", p.stateDir))
	return nil
}

func (p *Persistence) stateFile() string {
	return filepath.Join(p.stateDir, "engine_state.json")
}

// Load reads the snapshot from disk. A missing file starts a clean session;
// a stale or invalid snapshot is discarded with a warning instead of being trusted.
func (p *Persistence) Load() (*EngineSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stateFile := p.stateFile()
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		p.logger.Info("no existing state file, starting clean")
		return p.current, nil
	}

	data, err := os.ReadFile(stateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snapshot EngineSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	if err := validateSnapshot(&snapshot); err != nil {
		p.logger.Warn("loaded state rejected, using clean state", zap.Error(err))
		return p.current, nil
	}

	p.current = &snapshot
	p.logger.Info("state loaded",
		zap.String("file", stateFile),
		zap.Float64("high_water_mark", snapshot.HighWaterMark))
	return p.current, nil
}

// Update replaces the in-memory snapshot and triggers an async save when the
// autosave interval has elapsed.
func (p *Persistence) Update(highWaterMark float64, agent *rl.AgentState, tracker *engine.TrackerState) {
	p.mu.Lock()
	p.current = &EngineSnapshot{
		Version:       "1.0.0",
		LastUpdated:   time.Now(),
		SessionStart:  p.current.SessionStart,
		HighWaterMark: highWaterMark,
		Agent:         agent,
		Tracker:       tracker,
	}
	due := p.autoSave && time.Since(p.lastSave) > p.saveInterval
	p.mu.Unlock()

	if due {
		go func() {
			if err := p.Save(); err != nil {
				p.logger.Error("autosave failed", zap.Error(err))
			}
		}()
	}
}

// Save writes the current snapshot to disk, keeping a backup of the previous one
func (p *Persistence) Save() error {
	p.mu.RLock()
	snapshot := *p.current
	p.mu.RUnlock()

	snapshot.LastUpdated = time.Now()

	stateFile := p.stateFile()
	backupFile := filepath.Join(p.stateDir, "engine_state_backup.json")

	if _, err := os.Stat(stateFile); err == nil {
		if err := copyFile(stateFile, backupFile); err != nil {
			p.logger.Warn("failed to create state backup", zap.Error(err))
		}
	}

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	p.mu.Lock()
	p.lastSave = time.Now()
	p.mu.Unlock()

	p.logger.Debug("state saved", zap.String("file", stateFile))
	return nil
}

// Current returns a copy of the in-memory snapshot
func (p *Persistence) Current() EngineSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.current
}

// Close flushes the final snapshot to disk
func (p *Persistence) Close() error {
	return p.Save()
}

func validateSnapshot(s *EngineSnapshot) error {
	if s.Version == "" {
		return fmt.Errorf("state version is empty")
	}
	if time.Since(s.LastUpdated) > 7*24*time.Hour {
		return fmt.Errorf("state is too old: %v", s.LastUpdated)
	}
	if s.HighWaterMark < 0 || math.IsNaN(s.HighWaterMark) || math.IsInf(s.HighWaterMark, 0) {
		return fmt.Errorf("invalid high-water mark: %v", s.HighWaterMark)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
