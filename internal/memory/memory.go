// Package memory keeps a bounded, FIFO-aging log of (action, outcome) pairs
// per agent. The cap models imperfect recall: once the window slides past old
// behavior it is forgotten, so derived rates adapt rather than converge.
package memory

import (
	"math"
	"time"

	"github.com/xkilldash9x/stampede/api/schemas"
)

// Record is one remembered action outcome.
type Record struct {
	Action    string             `json:"action"`
	Success   bool               `json:"success"`
	Timestamp time.Time          `json:"timestamp"`
	Cost      float64            `json:"cost"`
	Deltas    map[string]float64 `json:"deltas,omitempty"`
	Context   string             `json:"context,omitempty"`
}

// Reward is the net resource change the action produced.
func (r Record) Reward() float64 {
	var sum float64
	for _, d := range r.Deltas {
		sum += d
	}
	return sum
}

// Memory is a fixed-capacity ring buffer of Records with O(1) append+evict.
// One Memory is owned by exactly one agent; it is not safe for concurrent use.
type Memory struct {
	buf  []Record
	head int // index of the oldest record
	size int
	now  func() time.Time
}

// New creates a memory bounded to cap records (minimum 1).
func New(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		buf: make([]Record, capacity),
		now: time.Now,
	}
}

// Record appends an action outcome, evicting the oldest entry past the cap.
func (m *Memory) Record(action schemas.Action, outcome schemas.Outcome) {
	rec := Record{
		Action:    action.Name,
		Success:   outcome.Success,
		Timestamp: m.now(),
		Cost:      action.Cost,
		Deltas:    outcome.ResourceDeltas,
		Context:   outcome.Message,
	}
	if m.size < len(m.buf) {
		m.buf[(m.head+m.size)%len(m.buf)] = rec
		m.size++
		return
	}
	// Full: overwrite the oldest slot and advance.
	m.buf[m.head] = rec
	m.head = (m.head + 1) % len(m.buf)
}

// Len reports how many records are retained.
func (m *Memory) Len() int { return m.size }

// Cap reports the configured bound.
func (m *Memory) Cap() int { return len(m.buf) }

// at returns the i-th retained record, oldest first.
func (m *Memory) at(i int) Record {
	return m.buf[(m.head+i)%len(m.buf)]
}

// Recent returns up to n of the newest records, oldest first.
func (m *Memory) Recent(n int) []Record {
	if n > m.size {
		n = m.size
	}
	out := make([]Record, 0, n)
	for i := m.size - n; i < m.size; i++ {
		out = append(out, m.at(i))
	}
	return out
}

// SuccessRate returns the success ratio for one action over the retained
// window. Unseen actions yield the neutral prior 0.5.
func (m *Memory) SuccessRate(action string) float64 {
	var total, ok int
	for i := 0; i < m.size; i++ {
		r := m.at(i)
		if r.Action != action {
			continue
		}
		total++
		if r.Success {
			ok++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(ok) / float64(total)
}

// OverallSuccessRate is the success ratio across all retained records; it
// calibrates how much observed risk should discount future scoring. Neutral
// 0.5 with no history.
func (m *Memory) OverallSuccessRate() float64 {
	if m.size == 0 {
		return 0.5
	}
	var ok int
	for i := 0; i < m.size; i++ {
		if m.at(i).Success {
			ok++
		}
	}
	return float64(ok) / float64(m.size)
}

// Efficiency returns the observed mean reward-per-cost for an action. The
// second result is false when the action has no history.
func (m *Memory) Efficiency(action string) (float64, bool) {
	var reward, cost float64
	var n int
	for i := 0; i < m.size; i++ {
		r := m.at(i)
		if r.Action != action {
			continue
		}
		reward += r.Reward()
		cost += r.Cost
		n++
	}
	if n == 0 {
		return 0, false
	}
	// A unit of implicit cost per attempt keeps free actions finite.
	return reward / (cost + float64(n)), true
}

// RecommendedAction surfaces the historically most efficient action among
// those still contributing to active goals, requiring a minimum of three
// observations before trusting the estimate.
func (m *Memory) RecommendedAction(contributes func(string) bool) (string, bool) {
	const minSamples = 3

	counts := make(map[string]int)
	for i := 0; i < m.size; i++ {
		counts[m.at(i).Action]++
	}

	best := ""
	bestEff := math.Inf(-1)
	for action, n := range counts {
		if n < minSamples || !contributes(action) {
			continue
		}
		eff, ok := m.Efficiency(action)
		if ok && eff > bestEff {
			best = action
			bestEff = eff
		}
	}
	return best, best != ""
}
