package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/workitem"
)

const (
	// DefaultStateFile is the snapshot filename inside the state directory.
	DefaultStateFile = "state.json"

	snapshotVersion = 1
)

// Snapshot is the point-in-time state written on shutdown. It is read back
// by offline status commands; sessions are not restored from it.
type Snapshot struct {
	Version      int                    `json:"version"`
	SavedAt      time.Time              `json:"saved_at"`
	Pool         agent.PoolStatus       `json:"pool"`
	OrchCostUSD  float64                `json:"orchestrator_cost_usd"`
	SessionID    string                 `json:"session_id,omitempty"`
	Tasks        []orchestrator.Task    `json:"tasks"`
	Conversation []orchestrator.Message `json:"conversation"`
	Items        []*workitem.Item       `json:"items"`
	Leases       []lease.Claim          `json:"leases"`
}

// Snapshot collects the current hub state.
func (h *Hub) Snapshot(ctx context.Context) *Snapshot {
	st := h.pool.Status()
	items, err := h.orch.Items().List(ctx, "")
	if err != nil {
		h.log.Warn("listing work items for snapshot: %v", err)
	}
	return &Snapshot{
		Version:      snapshotVersion,
		SavedAt:      time.Now(),
		Pool:         st,
		OrchCostUSD:  h.orch.CostUSD(),
		SessionID:    h.orch.SessionID(),
		Tasks:        h.orch.Tasks(),
		Conversation: h.orch.Messages(),
		Items:        items,
		Leases:       st.Leases,
	}
}

// StateManager handles loading and saving snapshots.
type StateManager struct {
	statePath string
	mu        sync.RWMutex
}

// NewStateManager creates a state manager writing into stateDir.
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		statePath: filepath.Join(stateDir, DefaultStateFile),
	}
}

// SetStatePath sets a custom state file path.
func (sm *StateManager) SetStatePath(path string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.statePath = path
}

// StatePath returns the current state file path.
func (sm *StateManager) StatePath() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.statePath
}

// SaveState writes the snapshot atomically.
func (sm *StateManager) SaveState(snap *Snapshot) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(sm.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := sm.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, sm.statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// LoadState reads the last snapshot. It returns nil, nil when none exists.
func (sm *StateManager) LoadState() (*Snapshot, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	data, err := os.ReadFile(sm.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", snap.Version, snapshotVersion)
	}
	return &snap, nil
}

// DeleteState removes the state file.
func (sm *StateManager) DeleteState() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := os.Remove(sm.statePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// Exists checks if a state file exists.
func (sm *StateManager) Exists() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, err := os.Stat(sm.statePath)
	return err == nil
}
