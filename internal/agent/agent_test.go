package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/mocks"
	"github.com/xkilldash9x/stampede/internal/recovery"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testAgentConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StateC.Dir = t.TempDir()
	cfg.RecoveryC.InitialRetryDelay = time.Millisecond
	cfg.RecoveryC.MaxRetryDelay = 2 * time.Millisecond
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config, driver *mocks.ScriptedDriver) *Agent {
	t.Helper()
	spec := config.AgentSpec{
		Name:      "agent-1",
		Username:  "agent1@example.com",
		Password:  "secret",
		Archetype: "combat",
	}
	a, err := New(spec, driver, cfg, zap.NewNop())
	require.NoError(t, err)
	a.cyclePause = time.Millisecond
	return a
}

func TestNew_Validation(t *testing.T) {
	cfg := testAgentConfig(t)
	d := &mocks.ScriptedDriver{}

	_, err := New(config.AgentSpec{Archetype: "combat"}, d, cfg, zap.NewNop())
	assert.Error(t, err, "missing name")

	_, err = New(config.AgentSpec{Name: "x", Archetype: "warlock"}, d, cfg, zap.NewNop())
	assert.Error(t, err, "unknown archetype")
}

func TestDeriveSeed_Stable(t *testing.T) {
	assert.Equal(t, deriveSeed("alpha"), deriveSeed("alpha"))
	assert.NotEqual(t, deriveSeed("alpha"), deriveSeed("beta"))
}

func TestRun_StopsOnRequest(t *testing.T) {
	cfg := testAgentConfig(t)

	var logins atomic.Int32
	d := &mocks.ScriptedDriver{
		LoginFn: func(ctx context.Context, creds schemas.Credentials) error {
			logins.Add(1)
			return nil
		},
	}
	a := newTestAgent(t, cfg, d)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(d.PerformedNames()) > 0
	}, 2*time.Second, 5*time.Millisecond, "agent never performed an action")

	a.RequestStop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.Equal(t, int32(1), logins.Load())
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := testAgentConfig(t)
	a := newTestAgent(t, cfg, &mocks.ScriptedDriver{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit on cancellation")
	}
}

func TestRun_ReauthenticatesOnSessionFault(t *testing.T) {
	cfg := testAgentConfig(t)

	var logins atomic.Int32
	var faulted atomic.Bool
	d := &mocks.ScriptedDriver{
		LoginFn: func(ctx context.Context, creds schemas.Credentials) error {
			logins.Add(1)
			return nil
		},
		PerformFn: func(ctx context.Context, action schemas.Action) (schemas.Outcome, error) {
			if faulted.CompareAndSwap(false, true) {
				return schemas.Outcome{}, recovery.NewActionError(recovery.ClassAuthentication, action.Name,
					errors.New("session expired"))
			}
			return schemas.Outcome{Success: true}, nil
		},
	}
	a := newTestAgent(t, cfg, d)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return logins.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond, "agent never re-authenticated")

	a.RequestStop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestRun_RequestsRestartAfterRepeatedFailures(t *testing.T) {
	cfg := testAgentConfig(t)
	// Successful observations reset the consecutive streak, so trip the
	// windowed failure-volume trigger instead.
	cfg.RecoveryC.RecentFailureLimit = 3

	d := &mocks.ScriptedDriver{
		PerformFn: func(ctx context.Context, action schemas.Action) (schemas.Outcome, error) {
			return schemas.Outcome{}, recovery.NewActionError(recovery.ClassValidation, action.Name,
				errors.New("rejected"))
		},
	}
	a := newTestAgent(t, cfg, d)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRestartRequested)
	case <-time.After(2 * time.Second):
		t.Fatal("agent never requested a restart")
	}
}

func TestRun_LoginFailureIsFatal(t *testing.T) {
	cfg := testAgentConfig(t)
	d := &mocks.ScriptedDriver{
		LoginFn: func(ctx context.Context, creds schemas.Credentials) error {
			return recovery.NewActionError(recovery.ClassAuthentication, "login", errors.New("bad credentials"))
		},
	}
	a := newTestAgent(t, cfg, d)

	err := a.Run(context.Background())
	require.Error(t, err)
}

func TestMetricsCounters(t *testing.T) {
	cfg := testAgentConfig(t)
	a := newTestAgent(t, cfg, &mocks.ScriptedDriver{})

	a.noteAction(true)
	a.noteAction(true)
	a.noteAction(false)

	assert.Equal(t, 3.0, a.ActionsPerMinute())
	assert.InDelta(t, 1.0/3.0, a.ErrorRate(), 1e-9)
	assert.WithinDuration(t, time.Now(), a.LastActivity(), time.Second)
	assert.Positive(t, a.MemoryUsage())
}
