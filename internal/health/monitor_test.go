package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/mocks"
)

type fakeSource struct {
	started  time.Time
	activity time.Time
	memory   uint64
	apm      float64
	errRate  float64
}

func (f *fakeSource) StartedAt() time.Time      { return f.started }
func (f *fakeSource) LastActivity() time.Time   { return f.activity }
func (f *fakeSource) MemoryUsage() uint64       { return f.memory }
func (f *fakeSource) ActionsPerMinute() float64 { return f.apm }
func (f *fakeSource) ErrorRate() float64        { return f.errRate }

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		Interval:          10 * time.Millisecond,
		ActivityTimeout:   2 * time.Minute,
		MemoryThresholdMB: 512,
		ProbeTimeout:      5 * time.Second,
		HistorySize:       10,
	}
}

func newTestMonitor(driver *mocks.ScriptedDriver, src *fakeSource, out chan<- Status) *Monitor {
	return NewMonitor("agent-1", driver, src, testHealthConfig(), out, zap.NewNop())
}

func TestEvaluate_Healthy(t *testing.T) {
	now := time.Now()
	src := &fakeSource{started: now.Add(-time.Hour), activity: now, memory: 64 << 20, apm: 12}
	out := make(chan Status, 1)
	m := newTestMonitor(&mocks.ScriptedDriver{}, src, out)
	m.now = func() time.Time { return now }

	status := m.Evaluate(context.Background())
	assert.Equal(t, StateHealthy, status.State)
	assert.False(t, status.NeedsRestart)
	assert.Len(t, status.Checks, 4)
	assert.Equal(t, time.Hour, status.Metrics.Uptime)
	assert.Empty(t, out, "healthy statuses stay off the supervision channel")

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, status.State, latest.State)
}

func TestEvaluate_DeadSessionIsCritical(t *testing.T) {
	now := time.Now()
	src := &fakeSource{started: now, activity: now}
	out := make(chan Status, 1)
	m := newTestMonitor(&mocks.ScriptedDriver{Dead: true}, src, out)
	m.now = func() time.Time { return now }

	status := m.Evaluate(context.Background())
	assert.Equal(t, StateCritical, status.State)
	assert.True(t, status.NeedsRestart, "one critical sample is enough")
	assert.True(t, m.NeedsRestart())

	select {
	case got := <-out:
		assert.Equal(t, "agent-1", got.Agent)
		assert.Equal(t, StateCritical, got.State)
	default:
		t.Fatal("expected a status on the supervision channel")
	}
}

func TestCheckActivityLadder(t *testing.T) {
	now := time.Now()
	src := &fakeSource{started: now}
	m := newTestMonitor(&mocks.ScriptedDriver{}, src, nil)

	cases := []struct {
		elapsed time.Duration
		want    Severity
	}{
		{30 * time.Second, SeverityOK},
		{90 * time.Second, SeverityWarning},
		{3 * time.Minute, SeverityError},
		{5 * time.Minute, SeverityCritical},
	}
	for _, tc := range cases {
		src.activity = now.Add(-tc.elapsed)
		c := m.checkActivity(now)
		assert.Equal(t, tc.want, c.Severity, "elapsed %s", tc.elapsed)
	}
}

func TestCheckMemoryLadder(t *testing.T) {
	src := &fakeSource{}
	m := newTestMonitor(&mocks.ScriptedDriver{}, src, nil)

	cases := []struct {
		mb   uint64
		want Severity
	}{
		{100, SeverityOK},
		{450, SeverityWarning},
		{600, SeverityError},
		{900, SeverityCritical},
	}
	for _, tc := range cases {
		src.memory = tc.mb << 20
		c := m.checkMemory()
		assert.Equal(t, tc.want, c.Severity, "%d MiB", tc.mb)
	}
}

func TestCheckResponsiveness(t *testing.T) {
	src := &fakeSource{}

	t.Run("fast probe", func(t *testing.T) {
		m := newTestMonitor(&mocks.ScriptedDriver{}, src, nil)
		c := m.checkResponsiveness(context.Background())
		assert.Equal(t, SeverityOK, c.Severity)
	})

	t.Run("slow probe", func(t *testing.T) {
		d := &mocks.ScriptedDriver{
			ProbeFn: func(ctx context.Context) (time.Duration, error) { return 2 * time.Second, nil },
		}
		m := newTestMonitor(d, src, nil)
		c := m.checkResponsiveness(context.Background())
		assert.Equal(t, SeverityWarning, c.Severity)
	})

	t.Run("failed probe", func(t *testing.T) {
		d := &mocks.ScriptedDriver{
			ProbeFn: func(ctx context.Context) (time.Duration, error) { return 0, errors.New("target crashed") },
		}
		m := newTestMonitor(d, src, nil)
		c := m.checkResponsiveness(context.Background())
		assert.Equal(t, SeverityError, c.Severity)
		assert.False(t, c.Passed)
	})
}

func TestNeedsRestart_SustainedUnhealthy(t *testing.T) {
	now := time.Now()
	// Stale activity (ERROR) plus a failing probe (ERROR) composes UNHEALTHY.
	src := &fakeSource{started: now, activity: now.Add(-3 * time.Minute)}
	d := &mocks.ScriptedDriver{
		ProbeFn: func(ctx context.Context) (time.Duration, error) { return 0, errors.New("no response") },
	}
	m := newTestMonitor(d, src, nil)
	m.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		status := m.Evaluate(context.Background())
		assert.Equal(t, StateUnhealthy, status.State)
	}
	assert.False(t, m.NeedsRestart(), "four samples are not yet a verdict")

	m.Evaluate(context.Background())
	assert.True(t, m.NeedsRestart())
}

func TestHistoryRing(t *testing.T) {
	now := time.Now()
	src := &fakeSource{started: now, activity: now}
	m := newTestMonitor(&mocks.ScriptedDriver{}, src, nil)
	m.now = func() time.Time { return now }

	for i := 0; i < 15; i++ {
		m.Evaluate(context.Background())
	}

	assert.Len(t, m.History(100), 10, "history is bounded by the configured size")
	assert.Len(t, m.History(3), 3)
}

func TestStartStop(t *testing.T) {
	now := time.Now()
	src := &fakeSource{started: now, activity: now}
	m := newTestMonitor(&mocks.ScriptedDriver{}, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.Eventually(t, func() bool {
		_, ok := m.Latest()
		return ok
	}, time.Second, 5*time.Millisecond, "ticker never produced a status")

	m.Stop()
	m.SetRestarts(2)
	status := m.Evaluate(context.Background())
	assert.Equal(t, 2, status.Restarts)
}
