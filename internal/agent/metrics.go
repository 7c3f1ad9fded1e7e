package agent

import (
	"runtime"
	"time"
)

// metricsWindow bounds the per-agent counters the health checks read.
const metricsWindow = time.Minute

// touch marks the agent as active now.
func (a *Agent) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

// noteAction records one completed action for the throughput and error-rate
// counters and marks activity.
func (a *Agent) noteAction(success bool) {
	now := time.Now()
	a.mu.Lock()
	a.lastActivity = now
	a.actionTimes = append(a.actionTimes, now)
	if !success {
		a.failureTimes = append(a.failureTimes, now)
	}
	a.trimLocked(now)
	a.mu.Unlock()
}

// trimLocked drops samples older than the metrics window.
func (a *Agent) trimLocked(now time.Time) {
	cutoff := now.Add(-metricsWindow)
	a.actionTimes = trimBefore(a.actionTimes, cutoff)
	a.failureTimes = trimBefore(a.failureTimes, cutoff)
}

func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// StartedAt implements health.MetricsSource.
func (a *Agent) StartedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startedAt
}

// LastActivity implements health.MetricsSource.
func (a *Agent) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// MemoryUsage reports current process heap usage. Agents share one process,
// so this is a shared ceiling, not a per-agent account.
func (a *Agent) MemoryUsage() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// ActionsPerMinute reports the action throughput over the trailing window.
func (a *Agent) ActionsPerMinute() float64 {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trimLocked(now)
	return float64(len(a.actionTimes))
}

// ErrorRate reports the fraction of failed actions over the trailing window.
func (a *Agent) ErrorRate() float64 {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trimLocked(now)
	if len(a.actionTimes) == 0 {
		return 0
	}
	return float64(len(a.failureTimes)) / float64(len(a.actionTimes))
}
