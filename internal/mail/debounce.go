package mail

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebounceStore persists the mail-check debounce state (§3.4): a
// mapping from agent name to last-checked epoch milliseconds,
// rewritten in full on every update.
type DebounceStore struct {
	mu   sync.Mutex
	path string
}

// NewDebounceStore returns a DebounceStore backed by
// <stateDir>/mail-check-state.
func NewDebounceStore(stateDir string) *DebounceStore {
	return &DebounceStore{path: filepath.Join(stateDir, "mail-check-state")}
}

// Touch records agent's last-checked timestamp as when, rewriting the
// whole file.
func (d *DebounceStore) Touch(agent string, when time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.readLocked()
	state[agent] = when.UnixMilli()
	d.writeLocked(state)
}

// LastChecked returns the last-checked time for agent, or the zero
// time if it has never been recorded.
func (d *DebounceStore) LastChecked(agent string) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.readLocked()
	ms, ok := state[agent]
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Eligible reports whether agent may be nudged again without
// violating the debounce window. A force send bypasses this check
// entirely (§4.3); it exists for the CLI's own non-forced sends.
func (d *DebounceStore) Eligible(agent string, window time.Duration) bool {
	last := d.LastChecked(agent)
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= window
}

func (d *DebounceStore) readLocked() map[string]int64 {
	state := map[string]int64{}
	data, err := os.ReadFile(d.path)
	if err != nil {
		return state
	}
	_ = json.Unmarshal(data, &state)
	return state
}

func (d *DebounceStore) writeLocked(state map[string]int64) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	_ = os.Rename(tmp, d.path)
}
