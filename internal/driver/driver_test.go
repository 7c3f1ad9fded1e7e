package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/recovery"
)

func TestResolve(t *testing.T) {
	d := &CDP{cfg: config.TargetConfig{BaseURL: "http://game.local:8080"}}

	cases := []struct {
		target string
		want   string
	}{
		{"/login", "http://game.local:8080/login"},
		{"arena", "http://game.local:8080/arena"},
		{"/market?tab=sell", "http://game.local:8080/market?tab=sell"},
		{"https://other.example/path", "https://other.example/path"},
	}
	for _, tc := range cases {
		got, err := d.resolve(tc.target)
		require.NoError(t, err, tc.target)
		assert.Equal(t, tc.want, got)
	}
}

func TestResolve_InvalidBase(t *testing.T) {
	d := &CDP{cfg: config.TargetConfig{BaseURL: "http://bad url"}}
	_, err := d.resolve("/login")
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	d := &CDP{}

	cases := []struct {
		name string
		err  error
		want recovery.ErrorClass
	}{
		{"deadline", context.DeadlineExceeded, recovery.ClassTimeout},
		{"missing node", errors.New("could not find node for selector"), recovery.ClassElementNotFound},
		{"selector wait", errors.New("timed out waiting for selector #x"), recovery.ClassElementNotFound},
		{"net error", errors.New("page load error net::ERR_CONNECTION_REFUSED"), recovery.ClassNetwork},
		{"navigation", errors.New("navigation failed"), recovery.ClassNavigation},
		{"unknown", errors.New("something else"), recovery.ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, recovery.Classify(d.wrap("op", tc.err)))
		})
	}

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, d.wrap("op", nil))
	})

	t.Run("tagged errors keep their class", func(t *testing.T) {
		tagged := recovery.NewActionError(recovery.ClassAuthentication, "login", errors.New("rejected"))
		assert.Equal(t, recovery.ClassAuthentication, recovery.Classify(d.wrap("op", tagged)))
	})
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "xss-probe_1", sanitizeLabel("xss-probe_1"))
	assert.Equal(t, "SQLI_payload___", sanitizeLabel("SQLI payload <>"))
	assert.Equal(t, "a_b", sanitizeLabel("a/b"))
}

func TestStateDeltas(t *testing.T) {
	before := schemas.Snapshot{
		Resources: map[string]float64{"gold": 100, "energy": 50},
		Stats:     map[string]float64{"level": 3},
	}
	after := schemas.Snapshot{
		Resources: map[string]float64{"gold": 80, "energy": 50, "gems": 2},
		Stats:     map[string]float64{"level": 4},
	}

	deltas := stateDeltas(before, after)
	assert.Equal(t, map[string]float64{"gold": -20, "gems": 2, "level": 1}, deltas)

	assert.Nil(t, stateDeltas(before, before), "no movement yields nil")
}

func TestExecOptions(t *testing.T) {
	base := len(execOptions(config.TargetConfig{}))

	withHeadless := len(execOptions(config.TargetConfig{Headless: true}))
	assert.Equal(t, base+1, withHeadless)

	withArgs := len(execOptions(config.TargetConfig{
		IgnoreTLSErrors: true,
		BrowserArgs:     []string{"disable-gpu", "--window-size=1280,720"},
	}))
	assert.Equal(t, base+3, withArgs)
}
