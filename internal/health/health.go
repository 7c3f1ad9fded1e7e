package health

import (
	"time"
)

// Severity grades one check result.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// State is the composite agent health classification, ordered by badness.
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateUnhealthy
	StateCritical
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// CheckResult is the outcome of one of the four independent checks.
type CheckResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Metrics is the snapshot attached to every status.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	SinceLastActivity time.Duration `json:"since_last_activity"`
	MemoryBytes       uint64        `json:"memory_bytes"`
	ActionsPerMinute  float64       `json:"actions_per_minute"`
	ErrorRate         float64       `json:"error_rate"`
}

// Status is one composite evaluation, emitted to the supervision loop when
// the state is worse than DEGRADED.
type Status struct {
	Agent        string        `json:"agent"`
	State        State         `json:"state"`
	Checks       []CheckResult `json:"checks"`
	Metrics      Metrics       `json:"metrics"`
	Timestamp    time.Time     `json:"timestamp"`
	Restarts     int           `json:"restarts"`
	NeedsRestart bool          `json:"needs_restart"`
}

// Composite folds check severities into one state: the worst check wins, and
// two or more ERROR-grade checks escalate to at least UNHEALTHY even when no
// single check is CRITICAL.
func Composite(checks []CheckResult) State {
	worst := SeverityOK
	errors := 0
	for _, c := range checks {
		if c.Severity > worst {
			worst = c.Severity
		}
		if c.Severity == SeverityError {
			errors++
		}
	}

	var state State
	switch worst {
	case SeverityOK:
		state = StateHealthy
	case SeverityWarning:
		state = StateDegraded
	case SeverityError:
		state = StateUnhealthy
	default:
		state = StateCritical
	}
	if errors >= 2 && state < StateUnhealthy {
		state = StateUnhealthy
	}
	return state
}
