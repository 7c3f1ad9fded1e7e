package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/internal/config"
)

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxRetries:             3,
		InitialRetryDelay:      time.Second,
		MaxRetryDelay:          30 * time.Second,
		CircuitThreshold:       5,
		CircuitResetTime:       time.Minute,
		MaxConsecutiveFailures: 3,
		RecentFailureWindow:    10 * time.Minute,
		RecentFailureLimit:     5,
	}
}

// newTestRecovery wires a recovery with a no-op sleep that records the
// requested delays.
func newTestRecovery(t *testing.T, cfg config.RecoveryConfig) (*Recovery, *[]time.Duration) {
	t.Helper()
	r, err := New("test-agent", cfg, t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func failingOp(calls *int, err error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		*calls++
		return err
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	err := r.Execute(context.Background(), "observe", "ui", func(ctx context.Context) error {
		calls++
		return nil
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "observe", r.LastSuccessfulAction())
	assert.Equal(t, 0, r.ConsecutiveFailures())
}

func TestExecute_NetworkBackoff(t *testing.T) {
	r, slept := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	netErr := NewActionError(ClassNetwork, "navigate", errors.New("net::ERR_CONNECTION_RESET"))
	err := r.Execute(context.Background(), "travel", "navigation", failingOp(&calls, netErr), Options{})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
}

func TestExecute_BackoffCappedAtMax(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.InitialRetryDelay = 20 * time.Second
	r, slept := newTestRecovery(t, cfg)

	calls := 0
	netErr := NewActionError(ClassNetwork, "navigate", errors.New("refused"))
	_ = r.Execute(context.Background(), "travel", "navigation", failingOp(&calls, netErr), Options{})

	assert.Equal(t, []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second}, *slept)
}

func TestExecute_TimeoutRetriesOnce(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	toErr := NewActionError(ClassTimeout, "click", context.DeadlineExceeded)
	err := r.Execute(context.Background(), "attack", "combat", failingOp(&calls, toErr), Options{})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecute_AuthenticationEscalates(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	authErr := NewActionError(ClassAuthentication, "observe", errors.New("redirected to login"))
	err := r.Execute(context.Background(), "observe", "ui", failingOp(&calls, authErr), Options{})

	require.ErrorIs(t, err, ErrSessionRestartRequired)
	assert.Equal(t, 1, calls, "auth faults are never retried in place")
}

func TestExecute_ElementNotFoundSkips(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	nfErr := NewActionError(ClassElementNotFound, "click", errors.New("could not find node"))
	err := r.Execute(context.Background(), "craft", "economy", failingOp(&calls, nfErr), Options{})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_UnknownRetriesOnce(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	err := r.Execute(context.Background(), "observe", "ui", failingOp(&calls, errors.New("weird")), Options{})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecute_CriticalFailsUp(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	calls := 0
	fallbackRan := false
	nfErr := NewActionError(ClassElementNotFound, "submit", errors.New("could not find node"))
	err := r.Execute(context.Background(), "login", "auth", failingOp(&calls, nfErr), Options{
		Critical: true,
		Fallback: func(ctx context.Context) error { fallbackRan = true; return nil },
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "critical action login failed")
	assert.False(t, fallbackRan, "critical operations bypass the fallback")
}

func TestExecute_FallbackOnExhaustion(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	nfErr := NewActionError(ClassValidation, "submit", errors.New("rejected"))
	calls := 0
	err := r.Execute(context.Background(), "chat", "social", failingOp(&calls, nfErr), Options{
		Fallback: func(ctx context.Context) error { return nil },
	})
	assert.NoError(t, err)
}

func TestExecute_CircuitOpen(t *testing.T) {
	r, _ := newTestRecovery(t, testRecoveryConfig())

	for i := 0; i < 5; i++ {
		r.breaker("combat").RecordFailure()
	}
	require.Equal(t, CircuitOpen, r.BreakerState("combat"))

	t.Run("without fallback", func(t *testing.T) {
		calls := 0
		err := r.Execute(context.Background(), "attack", "combat", failingOp(&calls, nil), Options{})
		require.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 0, calls, "open circuit refuses the attempt entirely")
	})

	t.Run("with fallback", func(t *testing.T) {
		err := r.Execute(context.Background(), "attack", "combat", nil, Options{
			Fallback: func(ctx context.Context) error { return nil },
		})
		assert.NoError(t, err)
	})

	t.Run("other classes unaffected", func(t *testing.T) {
		err := r.Execute(context.Background(), "chat", "social", func(ctx context.Context) error { return nil }, Options{})
		assert.NoError(t, err)
	})
}

func TestShouldRestart(t *testing.T) {
	t.Run("consecutive failures", func(t *testing.T) {
		r, _ := newTestRecovery(t, testRecoveryConfig())
		nfErr := NewActionError(ClassValidation, "op", errors.New("rejected"))
		for i := 0; i < 3; i++ {
			assert.False(t, r.ShouldRestart())
			_ = r.Execute(context.Background(), "op", "ui", failingOp(new(int), nfErr), Options{})
		}
		assert.True(t, r.ShouldRestart())
	})

	t.Run("success clears the streak", func(t *testing.T) {
		r, _ := newTestRecovery(t, testRecoveryConfig())
		nfErr := NewActionError(ClassValidation, "op", errors.New("rejected"))
		_ = r.Execute(context.Background(), "op", "ui", failingOp(new(int), nfErr), Options{})
		_ = r.Execute(context.Background(), "op", "ui", failingOp(new(int), nfErr), Options{})
		_ = r.Execute(context.Background(), "op", "ui", func(ctx context.Context) error { return nil }, Options{})
		assert.Equal(t, 0, r.ConsecutiveFailures())
		assert.False(t, r.ShouldRestart())
	})

	t.Run("windowed failure volume", func(t *testing.T) {
		cfg := testRecoveryConfig()
		cfg.MaxConsecutiveFailures = 100 // Isolate the window trigger.
		r, _ := newTestRecovery(t, cfg)

		base := time.Now()
		r.now = func() time.Time { return base }
		nfErr := NewActionError(ClassValidation, "op", errors.New("rejected"))
		for i := 0; i < 5; i++ {
			_ = r.Execute(context.Background(), "op", "ui", failingOp(new(int), nfErr), Options{})
		}
		assert.True(t, r.ShouldRestart())

		// Once the window slides past the burst, the verdict clears.
		r.now = func() time.Time { return base.Add(11 * time.Minute) }
		assert.False(t, r.ShouldRestart())
	})
}

func TestCheckpointPersistence(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	r1, err := New("persisted", testRecoveryConfig(), dir, logger)
	require.NoError(t, err)
	require.NoError(t, r1.Execute(context.Background(), "train", "progression",
		func(ctx context.Context) error { return nil }, Options{}))

	// A fresh instance resumes from the stored checkpoint.
	r2, err := New("persisted", testRecoveryConfig(), dir, logger)
	require.NoError(t, err)
	assert.Equal(t, "train", r2.LastSuccessfulAction())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"tagged error", NewActionError(ClassNavigation, "nav", errors.New("x")), ClassNavigation},
		{"wrapped tagged error", errors.Join(errors.New("outer"), NewActionError(ClassNetwork, "nav", errors.New("x"))), ClassNetwork},
		{"session restart sentinel", ErrSessionRestartRequired, ClassAuthentication},
		{"deadline exceeded", context.DeadlineExceeded, ClassTimeout},
		{"plain error", errors.New("mystery"), ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
