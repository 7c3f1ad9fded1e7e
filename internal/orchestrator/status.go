package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/internal/health"
)

// AgentStatus is the externally visible view of one managed agent.
type AgentStatus struct {
	Name      string         `json:"name"`
	Archetype string         `json:"archetype"`
	State     AgentState     `json:"state"`
	Restarts  int            `json:"restarts"`
	LastError string         `json:"last_error,omitempty"`
	Health    *health.Status `json:"health,omitempty"`
}

// SwarmStatus is the whole-swarm snapshot persisted for the status command.
type SwarmStatus struct {
	Timestamp time.Time     `json:"timestamp"`
	Agents    []AgentStatus `json:"agents"`
}

// Status snapshots the swarm in registration order.
func (o *Orchestrator) Status() SwarmStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := SwarmStatus{Timestamp: time.Now()}
	for _, name := range o.order {
		m := o.agents[name]
		st := AgentStatus{
			Name:      m.spec.Name,
			Archetype: m.spec.Archetype,
			State:     m.state,
			Restarts:  m.restarts,
			LastError: m.lastErr,
		}
		if m.monitor != nil {
			if latest, ok := m.monitor.Latest(); ok {
				st.Health = &latest
			}
		}
		out.Agents = append(out.Agents, st)
	}
	return out
}

// statusFile is where the swarm snapshot lands inside the state directory.
const statusFile = "orchestrator.json"

// persistStatus writes the swarm snapshot next to the per-agent checkpoints.
// Best effort: a failed write never disturbs supervision.
func (o *Orchestrator) persistStatus() {
	dir := o.cfg.State().Dir
	if dir == "" {
		return
	}
	status := o.Status()

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		o.log.Warn("Failed to marshal swarm status", zap.Error(err))
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.log.Warn("Failed to create state dir", zap.Error(err))
		return
	}
	path := filepath.Join(dir, statusFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		o.log.Warn("Failed to write swarm status", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		o.log.Warn("Failed to commit swarm status", zap.Error(err))
	}
}

// ReadStatus loads the last persisted swarm snapshot from a state directory.
func ReadStatus(stateDir string) (SwarmStatus, error) {
	var status SwarmStatus
	data, err := os.ReadFile(filepath.Join(stateDir, statusFile))
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, err
	}
	return status, nil
}
