package schemas

import (
	"time"
)

// -- Automation Schemas --

// Credentials identifies one simulated user account on the target application.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Action describes one interaction an agent can perform against the target.
// The Class groups related actions for circuit-breaker accounting (e.g. all
// combat actions share the "combat" class), while Name identifies the exact
// interaction for memory and goal bookkeeping.
type Action struct {
	Name   string            `json:"name"`
	Class  string            `json:"class"`
	Target string            `json:"target,omitempty"` // Navigation target or element hint.
	Params map[string]string `json:"params,omitempty"`

	// Risk is the estimated chance of a negative in-game consequence, in [0,1].
	Risk float64 `json:"risk"`
	// Cost is the primary-resource price of performing the action (0 = free).
	Cost float64 `json:"cost"`
}

// Outcome is the observed result of performing a single Action.
type Outcome struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	// ResourceDeltas records observed changes to tracked resources
	// (e.g. {"gold": -50, "xp": +120}).
	ResourceDeltas map[string]float64 `json:"resource_deltas,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// Snapshot is a point-in-time observation of the world state as seen through
// one agent's session. Decision making operates on snapshots only; it never
// reaches back into the driver.
type Snapshot struct {
	URL      string `json:"url"`
	LoggedIn bool   `json:"logged_in"`
	Location string `json:"location,omitempty"`

	// Resources holds continuous quantities (gold, energy, health...).
	Resources map[string]float64 `json:"resources,omitempty"`
	// Stats holds progression metrics (level, skill, quests_done, duels_won...).
	Stats map[string]float64 `json:"stats,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Resource returns a named resource level, or 0 when untracked.
func (s Snapshot) Resource(name string) float64 {
	if s.Resources == nil {
		return 0
	}
	return s.Resources[name]
}

// Stat returns a named progression metric, or 0 when untracked.
func (s Snapshot) Stat(name string) float64 {
	if s.Stats == nil {
		return 0
	}
	return s.Stats[name]
}

// RequestRecord is one entry of the raw request/response log harvested from
// the automation session. Bodies are decoded (gzip/brotli) before capture.
type RequestRecord struct {
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	Status       int       `json:"status"`
	RequestBody  string    `json:"request_body,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
