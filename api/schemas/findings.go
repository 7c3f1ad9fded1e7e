package schemas

import (
	"time"
)

// -- Exploit Finding Schemas --

// Severity ranks an exploit finding. Values are lowercase to keep report
// output stable for downstream tooling.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// rank orders severities for sorting; higher is worse.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal weight of the severity (unknown values rank 0).
func (s Severity) Rank() int { return severityRank[s] }

// Evidence references the artifacts captured alongside a finding.
type Evidence struct {
	// Screenshot is the path or handle returned by the automation session.
	Screenshot string `json:"screenshot,omitempty"`
	// Requests is a slice of the most recent request log entries at the time
	// the finding was recorded.
	Requests []RequestRecord `json:"requests,omitempty"`
}

// ExploitFinding is a structured report of one application behavior that
// violated an explicit probe expectation. Findings are append-only within a
// probe run; the subsystem never acts on them itself.
type ExploitFinding struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Title    string   `json:"title"`

	Description  string   `json:"description"`
	Reproduction []string `json:"reproduction"`

	Observed string `json:"observed"`
	Expected string `json:"expected"`

	Impact      string `json:"impact"`
	Remediation string `json:"remediation"`

	ObservedAt time.Time `json:"observed_at"`
	Evidence   Evidence  `json:"evidence"`
}

// ProbeReport is the aggregate output of one harness invocation.
type ProbeReport struct {
	AgentName      string    `json:"agent_name"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ProbesExecuted []string  `json:"probes_executed"`
	FindingsCount  int       `json:"findings_count"`

	// Summary buckets finding counts by severity.
	Summary map[Severity]int `json:"summary"`

	// Findings preserves the order in which probes recorded them.
	Findings []ExploitFinding `json:"findings"`
}
