// Package mocks provides test doubles shared across packages. The scripted
// driver simulates a live target well enough to exercise agents, probes and
// supervision without a browser.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/stampede/api/schemas"
)

// ScriptedDriver is a programmable schemas.Driver. Zero value defaults: login
// succeeds, every action succeeds with an empty outcome, the session is alive
// and evaluations return "". Override the Fn hooks per test.
type ScriptedDriver struct {
	mu sync.Mutex

	// Hooks; nil means the default behavior.
	LoginFn      func(ctx context.Context, creds schemas.Credentials) error
	NavigateFn   func(ctx context.Context, target string) error
	PerformFn    func(ctx context.Context, action schemas.Action) (schemas.Outcome, error)
	ObserveFn    func(ctx context.Context) (schemas.Snapshot, error)
	EvaluateFn   func(ctx context.Context, expression string) (string, error)
	ScreenshotFn func(ctx context.Context, label string) (string, error)
	ProbeFn      func(ctx context.Context) (time.Duration, error)

	// Snap is returned by ObserveState when ObserveFn is nil.
	Snap schemas.Snapshot
	// Dead makes IsSessionAlive report false.
	Dead bool
	// Requests backs RequestLog.
	Requests []schemas.RequestRecord

	// Call records, guarded by mu.
	Logins      []schemas.Credentials
	Navigations []string
	Performed   []schemas.Action
	Evaluated   []string
	Screenshots []string
	Closed      bool
}

var _ schemas.Driver = (*ScriptedDriver)(nil)

func (d *ScriptedDriver) Login(ctx context.Context, creds schemas.Credentials) error {
	d.mu.Lock()
	d.Logins = append(d.Logins, creds)
	d.mu.Unlock()
	if d.LoginFn != nil {
		return d.LoginFn(ctx, creds)
	}
	return nil
}

func (d *ScriptedDriver) Navigate(ctx context.Context, target string) error {
	d.mu.Lock()
	d.Navigations = append(d.Navigations, target)
	d.mu.Unlock()
	if d.NavigateFn != nil {
		return d.NavigateFn(ctx, target)
	}
	return nil
}

func (d *ScriptedDriver) PerformAction(ctx context.Context, action schemas.Action) (schemas.Outcome, error) {
	d.mu.Lock()
	d.Performed = append(d.Performed, action)
	d.mu.Unlock()
	if d.PerformFn != nil {
		return d.PerformFn(ctx, action)
	}
	return schemas.Outcome{Success: true}, nil
}

func (d *ScriptedDriver) ObserveState(ctx context.Context) (schemas.Snapshot, error) {
	if d.ObserveFn != nil {
		return d.ObserveFn(ctx)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.Snap
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	return snap, nil
}

// SetSnap swaps the canned snapshot under the lock.
func (d *ScriptedDriver) SetSnap(snap schemas.Snapshot) {
	d.mu.Lock()
	d.Snap = snap
	d.mu.Unlock()
}

func (d *ScriptedDriver) IsSessionAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.Dead && !d.Closed
}

func (d *ScriptedDriver) ProbeResponsiveness(ctx context.Context) (time.Duration, error) {
	if d.ProbeFn != nil {
		return d.ProbeFn(ctx)
	}
	return 5 * time.Millisecond, nil
}

func (d *ScriptedDriver) Evaluate(ctx context.Context, expression string) (string, error) {
	d.mu.Lock()
	d.Evaluated = append(d.Evaluated, expression)
	d.mu.Unlock()
	if d.EvaluateFn != nil {
		return d.EvaluateFn(ctx, expression)
	}
	return "", nil
}

func (d *ScriptedDriver) CaptureScreenshot(ctx context.Context, label string) (string, error) {
	d.mu.Lock()
	d.Screenshots = append(d.Screenshots, label)
	n := len(d.Screenshots)
	d.mu.Unlock()
	if d.ScreenshotFn != nil {
		return d.ScreenshotFn(ctx, label)
	}
	return fmt.Sprintf("screenshots/%s-%d.png", label, n), nil
}

func (d *ScriptedDriver) RequestLog(n int) []schemas.RequestRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.Requests) {
		n = len(d.Requests)
	}
	out := make([]schemas.RequestRecord, n)
	copy(out, d.Requests[len(d.Requests)-n:])
	return out
}

func (d *ScriptedDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return nil
}

// PerformedNames returns the names of every performed action, in order.
func (d *ScriptedDriver) PerformedNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Performed))
	for i, a := range d.Performed {
		out[i] = a.Name
	}
	return out
}
