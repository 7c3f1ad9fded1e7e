// Package health evaluates four independent checks per agent on a fixed
// interval and publishes composite statuses to the orchestrator's
// supervision loop over a channel. The monitor reads only cached or
// hard-bounded probed state, so a frozen agent can never wedge it.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
)

// MetricsSource supplies the cached per-agent counters the activity and
// memory checks read. Implementations must not block.
type MetricsSource interface {
	StartedAt() time.Time
	LastActivity() time.Time
	MemoryUsage() uint64
	ActionsPerMinute() float64
	ErrorRate() float64
}

// Monitor owns the health state machine for one agent.
type Monitor struct {
	agent  string
	driver schemas.Driver
	source MetricsSource
	cfg    config.HealthConfig
	log    *zap.Logger
	out    chan<- Status

	mu       sync.Mutex
	history  []Status
	histHead int
	histSize int
	restarts int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	now func() time.Time
}

// NewMonitor wires a monitor; statuses worse than DEGRADED are published on
// out. Sends never block, so a slow supervision loop loses samples.
func NewMonitor(
	agent string,
	driver schemas.Driver,
	source MetricsSource,
	cfg config.HealthConfig,
	out chan<- Status,
	logger *zap.Logger,
) *Monitor {
	size := cfg.HistorySize
	if size < 1 {
		size = 100
	}
	return &Monitor{
		agent:   agent,
		driver:  driver,
		source:  source,
		cfg:     cfg,
		log:     logger.Named("health").With(zap.String("agent", agent)),
		out:     out,
		history: make([]Status, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the periodic tick loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		m.log.Info("Health monitor started", zap.Duration("interval", m.cfg.Interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Evaluate(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// SetRestarts records the orchestrator's restart counter so it rides along
// on every status.
func (m *Monitor) SetRestarts(n int) {
	m.mu.Lock()
	m.restarts = n
	m.mu.Unlock()
}

// Evaluate runs the four checks once, appends to the history ring, logs a
// one-line summary, and publishes the status when it is worse than DEGRADED.
func (m *Monitor) Evaluate(ctx context.Context) Status {
	now := m.now()
	checks := []CheckResult{
		m.checkActivity(now),
		m.checkMemory(),
		m.checkLiveness(),
		m.checkResponsiveness(ctx),
	}

	m.mu.Lock()
	status := Status{
		Agent:     m.agent,
		State:     Composite(checks),
		Checks:    checks,
		Timestamp: now,
		Restarts:  m.restarts,
		Metrics: Metrics{
			Uptime:            now.Sub(m.source.StartedAt()),
			SinceLastActivity: now.Sub(m.source.LastActivity()),
			MemoryBytes:       m.source.MemoryUsage(),
			ActionsPerMinute:  m.source.ActionsPerMinute(),
			ErrorRate:         m.source.ErrorRate(),
		},
	}
	m.append(status)
	status.NeedsRestart = m.needsRestartLocked()
	// Rewrite the stored copy so history reflects the final verdict.
	m.history[(m.histHead+m.histSize-1)%len(m.history)] = status
	m.mu.Unlock()

	m.log.Info("Health tick",
		zap.String("state", status.State.String()),
		zap.Duration("since_activity", status.Metrics.SinceLastActivity),
		zap.Float64("apm", status.Metrics.ActionsPerMinute),
		zap.Bool("needs_restart", status.NeedsRestart))

	if status.State > StateDegraded && m.out != nil {
		select {
		case m.out <- status:
		default:
			m.log.Warn("Supervision channel full, dropping health status")
		}
	}
	return status
}

// append pushes one status onto the fixed-capacity ring.
func (m *Monitor) append(s Status) {
	if m.histSize < len(m.history) {
		m.history[(m.histHead+m.histSize)%len(m.history)] = s
		m.histSize++
		return
	}
	m.history[m.histHead] = s
	m.histHead = (m.histHead + 1) % len(m.history)
}

// recent returns up to n most recent statuses, newest first.
func (m *Monitor) recentLocked(n int) []Status {
	if n > m.histSize {
		n = m.histSize
	}
	out := make([]Status, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, m.history[(m.histHead+m.histSize-1-i)%len(m.history)])
	}
	return out
}

// NeedsRestart is true when the latest status is CRITICAL or at least four
// of the last five were unhealthy or worse.
func (m *Monitor) NeedsRestart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsRestartLocked()
}

func (m *Monitor) needsRestartLocked() bool {
	recent := m.recentLocked(5)
	if len(recent) == 0 {
		return false
	}
	if recent[0].State == StateCritical {
		return true
	}
	unhealthy := 0
	for _, s := range recent {
		if s.State >= StateUnhealthy {
			unhealthy++
		}
	}
	return len(recent) == 5 && unhealthy >= 4
}

// Latest returns the most recent status, if any.
func (m *Monitor) Latest() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.histSize == 0 {
		return Status{}, false
	}
	return m.history[(m.histHead+m.histSize-1)%len(m.history)], true
}

// History returns up to n recent statuses, newest first.
func (m *Monitor) History(n int) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentLocked(n)
}

// checkActivity grades the time since the agent last completed an action.
func (m *Monitor) checkActivity(now time.Time) CheckResult {
	elapsed := now.Sub(m.source.LastActivity())
	timeout := m.cfg.ActivityTimeout
	c := CheckResult{Name: "activity", Passed: true}
	switch {
	case elapsed < timeout/2:
		c.Severity = SeverityOK
	case elapsed < timeout:
		c.Severity = SeverityWarning
	case elapsed < 2*timeout:
		c.Severity = SeverityError
		c.Passed = false
	default:
		c.Severity = SeverityCritical
		c.Passed = false
	}
	c.Message = fmt.Sprintf("last activity %s ago (timeout %s)", elapsed.Round(time.Second), timeout)
	return c
}

// checkMemory grades current usage against the configured threshold.
func (m *Monitor) checkMemory() CheckResult {
	usage := float64(m.source.MemoryUsage())
	threshold := m.cfg.MemoryThresholdMB * 1024 * 1024
	c := CheckResult{Name: "memory", Passed: true}
	switch {
	case threshold <= 0 || usage < 0.8*threshold:
		c.Severity = SeverityOK
	case usage < threshold:
		c.Severity = SeverityWarning
	case usage < 1.5*threshold:
		c.Severity = SeverityError
		c.Passed = false
	default:
		c.Severity = SeverityCritical
		c.Passed = false
	}
	c.Message = fmt.Sprintf("using %.1f MiB of %.0f MiB threshold", usage/(1024*1024), m.cfg.MemoryThresholdMB)
	return c
}

// checkLiveness asks the driver whether the session is still connected.
// There is no partial credit: a dead session is CRITICAL.
func (m *Monitor) checkLiveness() CheckResult {
	if m.driver.IsSessionAlive() {
		return CheckResult{Name: "liveness", Passed: true, Severity: SeverityOK, Message: "session connected"}
	}
	return CheckResult{Name: "liveness", Passed: false, Severity: SeverityCritical, Message: "session disconnected or no active page"}
}

// checkResponsiveness round-trips a no-op probe, hard-bounded by the probe
// timeout; hitting the bound counts as ERROR.
func (m *Monitor) checkResponsiveness(ctx context.Context) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	rtt, err := m.driver.ProbeResponsiveness(probeCtx)
	if err != nil || rtt >= m.cfg.ProbeTimeout {
		msg := fmt.Sprintf("probe exceeded %s", m.cfg.ProbeTimeout)
		if err != nil {
			msg = fmt.Sprintf("probe failed: %v", err)
		}
		return CheckResult{Name: "responsiveness", Passed: false, Severity: SeverityError, Message: msg}
	}

	c := CheckResult{Name: "responsiveness", Passed: true, Message: fmt.Sprintf("probe rtt %s", rtt.Round(time.Millisecond))}
	switch {
	case rtt < time.Second:
		c.Severity = SeverityOK
	case rtt < 3*time.Second:
		c.Severity = SeverityWarning
	default:
		c.Severity = SeverityError
		c.Passed = false
	}
	return c
}
