package probe

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/mocks"
)

func testProbeConfig() config.ProbeConfig {
	return config.ProbeConfig{
		FloodRequests:    5,
		FloodRatePerSec:  1000,
		EvidenceRequests: 10,
	}
}

var batteryOrder = []string{
	"race_duplication",
	"negative_values",
	"boundary_overflow",
	"injection_payloads",
	"client_state_tampering",
	"auth_token_tampering",
	"rate_limit_flood",
	"concurrent_sessions",
	"economy_exploits",
	"malformed_fuzzing",
	"validation_bypass",
}

func newHarness(d *mocks.ScriptedDriver) *Harness {
	creds := schemas.Credentials{Username: "probe@example.com", Password: "pw"}
	return NewHarness("prober", creds, d, testProbeConfig(), zap.NewNop())
}

// hardenedDriver scripts a target that rejects every exploit attempt.
func hardenedDriver() *mocks.ScriptedDriver {
	var claims atomic.Int32
	d := &mocks.ScriptedDriver{}
	d.PerformFn = func(ctx context.Context, action schemas.Action) (schemas.Outcome, error) {
		if action.Name == "claim_daily_reward" {
			if claims.Add(1) == 1 {
				return schemas.Outcome{Success: true}, nil
			}
			return schemas.Outcome{Success: false, Message: "already claimed"}, nil
		}
		return schemas.Outcome{Success: true}, nil
	}
	d.EvaluateFn = func(ctx context.Context, expr string) (string, error) {
		switch {
		case strings.Contains(expr, `"Authorization": "Bearer "`):
			return "401", nil
		case strings.Contains(expr, "await fetch("):
			return `{"status": 400, "body": "rejected"}`, nil
		case strings.Contains(expr, "document.body.innerHTML"):
			return `<div>&lt;script&gt;alert(1)&lt;/script&gt; {{1337*1337}}</div>`, nil
		case strings.Contains(expr, "gs.resources.gold"):
			return "no-state", nil
		case strings.Contains(expr, "removeAttribute"):
			return "stripped", nil
		case strings.Contains(expr, "localStorage.getItem"):
			return "", nil
		}
		return "", nil
	}
	return d
}

// vulnerableDriver scripts a target that falls for every exploit attempt.
func vulnerableDriver(t *testing.T) *mocks.ScriptedDriver {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "prober",
		"role": "user",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	d := &mocks.ScriptedDriver{
		Snap: schemas.Snapshot{
			LoggedIn:  true,
			Resources: map[string]float64{"gold": 100},
		},
	}
	d.EvaluateFn = func(ctx context.Context, expr string) (string, error) {
		switch {
		case strings.Contains(expr, `"Authorization": "Bearer "`):
			return "200", nil
		case strings.Contains(expr, `fetch("/api/chat"`):
			return `{"status": 200, "body": "error near OR: SQL syntax"}`, nil
		case strings.Contains(expr, "await fetch("):
			return `{"status": 200, "body": "ok"}`, nil
		case strings.Contains(expr, "document.body.innerHTML"):
			return `<div><script>alert(1)</script> 1787569</div>`, nil
		case strings.Contains(expr, "gs.resources.gold"):
			return "tampered", nil
		case strings.Contains(expr, "removeAttribute"):
			return "stripped", nil
		case strings.Contains(expr, "localStorage.getItem"):
			return token, nil
		}
		return "", nil
	}
	return d
}

func TestRun_HardenedTarget(t *testing.T) {
	h := newHarness(hardenedDriver())

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "prober", report.AgentName)
	assert.Equal(t, batteryOrder, report.ProbesExecuted, "every probe runs exactly once, in order")
	assert.Zero(t, report.FindingsCount)
	assert.Empty(t, report.Findings)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRun_VulnerableTarget(t *testing.T) {
	h := newHarness(vulnerableDriver(t))

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, batteryOrder, report.ProbesExecuted)
	require.NotEmpty(t, report.Findings)
	assert.Equal(t, len(report.Findings), report.FindingsCount)

	byCategory := make(map[string]int)
	for _, f := range report.Findings {
		byCategory[f.Category]++

		assert.NotEmpty(t, f.ID)
		assert.NotEmpty(t, f.Title)
		assert.NotEmpty(t, f.Reproduction)
		assert.NotEmpty(t, f.Remediation)
		assert.NotEmpty(t, f.Evidence.Screenshot, "every finding carries a screenshot")
		assert.False(t, f.ObservedAt.IsZero())
	}

	for _, want := range []string{
		"RACE_CONDITION", "NEGATIVE_VALUE", "OVERFLOW", "XSS", "SQLI",
		"STATE_TAMPERING", "AUTH", "RATE_LIMIT", "SESSION", "VALIDATION_BYPASS",
	} {
		assert.Equal(t, 1, byCategory[want], "expected exactly one %s finding", want)
	}
	assert.Equal(t, 3, byCategory["ECONOMY"], "one finding per economic subsystem")

	assert.Equal(t, 3, report.Summary[schemas.SeverityCritical], "XSS, SQLI and AUTH are critical")
	assert.Equal(t, 1, report.Summary[schemas.SeverityLow])
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(hardenedDriver())
	report, err := h.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.ProbesExecuted)
}

func TestRunIsolated_PanicRecovery(t *testing.T) {
	h := newHarness(hardenedDriver())

	err := h.runIsolated(context.Background(), namedProbe{
		name: "boom",
		run:  func(ctx context.Context) error { panic("kaboom") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Contains(t, err.Error(), "kaboom")
}

func TestRun_ProbeFailureDoesNotAbortBattery(t *testing.T) {
	d := hardenedDriver()
	inner := d.EvaluateFn
	d.EvaluateFn = func(ctx context.Context, expr string) (string, error) {
		if strings.Contains(expr, `fetch("/api/bank/deposit"`) {
			return "not json at all", nil
		}
		return inner(ctx, expr)
	}

	h := newHarness(d)
	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batteryOrder, report.ProbesExecuted, "a failing probe is logged, not fatal")
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, schemas.SeverityCritical, severityFor("XSS"))
	assert.Equal(t, schemas.SeverityHigh, severityFor("ECONOMY"))
	assert.Equal(t, schemas.SeverityLow, severityFor("VALIDATION_BYPASS"))
	assert.Equal(t, schemas.SeverityMedium, severityFor("SOMETHING_NEW"))
}

func TestFetchJSON(t *testing.T) {
	d := &mocks.ScriptedDriver{
		EvaluateFn: func(ctx context.Context, expr string) (string, error) {
			assert.Contains(t, expr, `fetch("/api/state"`)
			assert.Contains(t, expr, `"GET"`)
			return `{"status": 418, "body": "teapot"}`, nil
		},
	}
	h := newHarness(d)

	res, err := h.fetchJSON(context.Background(), "GET", "/api/state", "")
	require.NoError(t, err)
	assert.Equal(t, 418, res.Status)
	assert.Equal(t, "teapot", res.Body)

	d.EvaluateFn = func(ctx context.Context, expr string) (string, error) {
		return "garbage", nil
	}
	_, err = h.fetchJSON(context.Background(), "GET", "/api/state", "")
	assert.Error(t, err)
}

func TestHarnessTiming(t *testing.T) {
	h := newHarness(hardenedDriver())
	base := time.Now()
	h.now = func() time.Time { return base }

	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, base, report.StartedAt)
	assert.Equal(t, base, report.FinishedAt)
}
