package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// attemptHistoryCap bounds the per-session attempt log inside the state file.
const attemptHistoryCap = 50

// Attempt is one recorded execution attempt, successful or not.
type Attempt struct {
	Action  string     `json:"action"`
	Class   ErrorClass `json:"class,omitempty"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	At      time.Time  `json:"at"`
}

// SessionState is the resumable checkpoint for one agent. It survives agent
// crashes so a restart resumes from the last-known-good point instead of
// from scratch.
type SessionState struct {
	Agent                string    `json:"agent"`
	LastSuccessfulAction string    `json:"last_successful_action,omitempty"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	TotalFailures        int       `json:"total_failures"`
	UpdatedAt            time.Time `json:"updated_at"`
	Attempts             []Attempt `json:"attempts,omitempty"`
}

// record appends one attempt, trimming the history to its cap.
func (s *SessionState) record(a Attempt) {
	s.Attempts = append(s.Attempts, a)
	if len(s.Attempts) > attemptHistoryCap {
		s.Attempts = s.Attempts[len(s.Attempts)-attemptHistoryCap:]
	}
	s.UpdatedAt = a.At
}

// StateStore persists one JSON record per agent under the state directory.
type StateStore struct {
	dir string
}

// NewStateStore ensures the state directory exists.
func NewStateStore(dir string) (*StateStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
	}
	return &StateStore{dir: dir}, nil
}

func (st *StateStore) path(agent string) string {
	return filepath.Join(st.dir, agent+".json")
}

// Save writes the agent's checkpoint atomically (write-then-rename).
func (st *StateStore) Save(state *SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	tmp := st.path(state.Agent) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmp, st.path(state.Agent)); err != nil {
		return fmt.Errorf("failed to commit session state: %w", err)
	}
	return nil
}

// Load reads an agent's checkpoint. A missing file yields a fresh state, not
// an error: first runs have nothing to resume.
func (st *StateStore) Load(agent string) (*SessionState, error) {
	data, err := os.ReadFile(st.path(agent))
	if os.IsNotExist(err) {
		return &SessionState{Agent: agent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session state %s: %w", st.path(agent), err)
	}
	state.Agent = agent
	return &state, nil
}
