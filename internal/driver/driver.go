// Package driver speaks CDP to a real browser session against the target
// application. It is the only package that touches chromedp; everything above
// it operates on schemas.Driver.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/recovery"
)

// CDP drives one browser tab for one agent and implements schemas.Driver.
type CDP struct {
	agent string
	cfg   config.TargetConfig
	log   *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	requests *requestLog

	mu       sync.Mutex
	isClosed bool
	loggedIn bool
}

var _ schemas.Driver = (*CDP)(nil)

// execOptions translates the target config into chromedp allocator options.
func execOptions(cfg config.TargetConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.BrowserArgs {
		if !strings.Contains(arg, "=") {
			if !strings.HasPrefix(arg, "--") {
				arg = "--" + arg
			}
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		key := strings.TrimPrefix(parts[0], "--")
		opts = append(opts, chromedp.Flag(key, parts[1]))
	}
	return opts
}

// New launches a browser session for the named agent. The session lives until
// Close; parent only scopes the launch itself.
func New(parent context.Context, agent string, cfg config.TargetConfig, logger *zap.Logger) (*CDP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("target.base_url is required")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, execOptions(cfg)...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	d := &CDP{
		agent:       agent,
		cfg:         cfg,
		log:         logger.Named("driver").With(zap.String("agent", agent), zap.String("session_id", uuid.New().String())),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		requests:    newRequestLog(cfg.RequestLogSize, logger),
	}

	// Establish the target (tab) and the CDP connection.
	if err := chromedp.Run(ctx); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to connect browser session: %w", err)
	}
	if err := d.requests.start(ctx); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to start request capture: %w", err)
	}

	d.log.Info("Browser session established", zap.String("base_url", cfg.BaseURL))
	return d, nil
}

func (d *CDP) teardown() {
	d.cancel()
	d.allocCancel()
}

// resolve joins a navigation target onto the configured base URL. Absolute
// URLs pass through untouched.
func (d *CDP) resolve(target string) (string, error) {
	base, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", d.cfg.BaseURL, err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid navigation target %q: %w", target, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// wrap tags a raw chromedp failure with its fault class exactly once, here at
// the automation boundary. Upstream consumers unwrap the class; they never
// inspect message text.
func (d *CDP) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var aerr *recovery.ActionError
	if errors.As(err, &aerr) {
		return err
	}
	class := recovery.ClassUnknown
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		class = recovery.ClassTimeout
	case strings.Contains(msg, "could not find node") || strings.Contains(msg, "waiting for selector"):
		class = recovery.ClassElementNotFound
	case strings.Contains(msg, "net::ERR_") || strings.Contains(msg, "connection refused"):
		class = recovery.ClassNetwork
	case strings.Contains(msg, "page load") || strings.Contains(msg, "navigation"):
		class = recovery.ClassNavigation
	}
	return recovery.NewActionError(class, op, err)
}

// run executes chromedp actions on the session, bounded by the caller's ctx.
func (d *CDP) run(ctx context.Context, actions ...chromedp.Action) error {
	if !d.IsSessionAlive() {
		return recovery.NewActionError(recovery.ClassAuthentication, "run",
			fmt.Errorf("%w: browser session is closed", recovery.ErrSessionRestartRequired))
	}
	runCtx, cancel := mergeContexts(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// mergeContexts derives a child of the session context that is also cancelled
// when the caller's ctx ends. chromedp actions must run on the session
// context chain to reach the right target.
func mergeContexts(session, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(session)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Login navigates to the login form, submits the credentials and verifies the
// session is authenticated.
func (d *CDP) Login(ctx context.Context, creds schemas.Credentials) error {
	if err := d.Navigate(ctx, "/login"); err != nil {
		return err
	}

	err := d.run(ctx,
		chromedp.WaitVisible(`input[name="username"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="username"]`, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, creds.Password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return d.wrap("login", err)
	}

	snap, err := d.ObserveState(ctx)
	if err != nil {
		return err
	}
	if !snap.LoggedIn {
		return recovery.NewActionError(recovery.ClassAuthentication, "login",
			fmt.Errorf("credentials for %q were not accepted", creds.Username))
	}

	d.mu.Lock()
	d.loggedIn = true
	d.mu.Unlock()
	d.log.Info("Login succeeded", zap.String("username", creds.Username))
	return nil
}

// Navigate moves the session to the target route and waits for the DOM.
func (d *CDP) Navigate(ctx context.Context, target string) error {
	dest, err := d.resolve(target)
	if err != nil {
		return recovery.NewActionError(recovery.ClassNavigation, "navigate", err)
	}

	navCtx := ctx
	if d.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigationTimeout)
		defer cancel()
	}

	err = d.run(navCtx,
		chromedp.Navigate(dest),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return recovery.NewActionError(recovery.ClassNavigation, "navigate",
				fmt.Errorf("navigation to %s exceeded %s: %w", dest, d.cfg.NavigationTimeout, err))
		}
		return d.wrap("navigate", err)
	}
	return nil
}

// actionSettle is how long an interaction gets to mutate the page before the
// post-action snapshot is taken.
const actionSettle = 500 * time.Millisecond

// PerformAction executes one interaction and diffs the world state around it
// to report observed resource changes.
func (d *CDP) PerformAction(ctx context.Context, action schemas.Action) (schemas.Outcome, error) {
	start := time.Now()

	before, err := d.ObserveState(ctx)
	if err != nil {
		return schemas.Outcome{Duration: time.Since(start)}, err
	}

	if err := d.execute(ctx, action); err != nil {
		return schemas.Outcome{Duration: time.Since(start)}, err
	}

	after, err := d.ObserveState(ctx)
	if err != nil {
		return schemas.Outcome{Duration: time.Since(start)}, err
	}

	return schemas.Outcome{
		Success:        true,
		Duration:       time.Since(start),
		ResourceDeltas: stateDeltas(before, after),
	}, nil
}

// execute dispatches the mechanics of one action: navigation targets go
// through Navigate, everything else is a form fill plus a click.
func (d *CDP) execute(ctx context.Context, action schemas.Action) error {
	if action.Target != "" {
		if err := d.Navigate(ctx, action.Target); err != nil {
			return err
		}
	}

	selector := action.Params["selector"]
	if selector == "" {
		selector = fmt.Sprintf(`[data-action=%q]`, action.Name)
	}

	tasks := chromedp.Tasks{chromedp.WaitVisible(selector, chromedp.ByQuery)}
	for key, value := range action.Params {
		name, ok := strings.CutPrefix(key, "field.")
		if !ok {
			continue
		}
		field := fmt.Sprintf(`[name=%q]`, name)
		tasks = append(tasks,
			chromedp.Clear(field, chromedp.ByQuery),
			chromedp.SendKeys(field, value, chromedp.ByQuery),
		)
	}
	tasks = append(tasks,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.Sleep(actionSettle),
	)

	if err := d.run(ctx, tasks); err != nil {
		return d.wrap(action.Name, err)
	}
	return nil
}

// stateDeltas reports every resource and stat that moved between snapshots.
func stateDeltas(before, after schemas.Snapshot) map[string]float64 {
	deltas := make(map[string]float64)
	for name, v := range after.Resources {
		if diff := v - before.Resource(name); diff != 0 {
			deltas[name] = diff
		}
	}
	for name, v := range after.Stats {
		if diff := v - before.Stat(name); diff != 0 {
			deltas[name] = diff
		}
	}
	if len(deltas) == 0 {
		return nil
	}
	return deltas
}

// jsObserveState scrapes the world state from the page. It prefers a global
// state object when the app exposes one and falls back to data attributes.
const jsObserveState = `(() => {
	const num = (v) => { const n = parseFloat(v); return isNaN(n) ? 0 : n; };
	const out = { url: location.href, logged_in: false, location: "", resources: {}, stats: {} };

	const gs = window.__gameState || window.gameState || null;
	if (gs) {
		out.logged_in = !!(gs.player || gs.user || gs.loggedIn);
		for (const [k, v] of Object.entries(gs.resources || {})) out.resources[k] = num(v);
		for (const [k, v] of Object.entries(gs.stats || {})) out.stats[k] = num(v);
		if (gs.location) out.location = String(gs.location);
	}

	for (const el of document.querySelectorAll("[data-resource]")) {
		out.resources[el.dataset.resource] = num(el.dataset.value ?? el.textContent);
	}
	for (const el of document.querySelectorAll("[data-stat]")) {
		out.stats[el.dataset.stat] = num(el.dataset.value ?? el.textContent);
	}
	const loc = document.querySelector("[data-location]");
	if (loc) out.location = loc.dataset.location || loc.textContent.trim();
	if (!out.logged_in) {
		out.logged_in = !!document.querySelector("[data-player], #logout, a[href*='logout']");
	}
	return JSON.stringify(out);
})()`

// ObserveState harvests a fresh snapshot of the world as the page renders it.
func (d *CDP) ObserveState(ctx context.Context) (schemas.Snapshot, error) {
	var raw string
	if err := d.run(ctx, chromedp.Evaluate(jsObserveState, &raw)); err != nil {
		return schemas.Snapshot{}, d.wrap("observe_state", err)
	}

	var snap schemas.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return schemas.Snapshot{}, recovery.NewActionError(recovery.ClassValidation, "observe_state",
			fmt.Errorf("malformed state payload: %w", err))
	}
	snap.Timestamp = time.Now()
	return snap, nil
}

// IsSessionAlive reports whether the CDP connection is still usable.
func (d *CDP) IsSessionAlive() bool {
	d.mu.Lock()
	closed := d.isClosed
	d.mu.Unlock()
	return !closed && d.ctx.Err() == nil
}

// ProbeResponsiveness round-trips a trivial evaluation through the page.
func (d *CDP) ProbeResponsiveness(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var res int
	if err := d.run(ctx, chromedp.Evaluate("1+1", &res)); err != nil {
		return 0, d.wrap("probe_responsiveness", err)
	}
	return time.Since(start), nil
}

// Evaluate runs a script inside the page and returns the raw JSON result.
// Promises are awaited so probes can use async expressions.
func (d *CDP) Evaluate(ctx context.Context, expression string) (string, error) {
	var res json.RawMessage
	err := d.run(ctx, chromedp.Evaluate(expression, &res,
		func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return "", d.wrap("evaluate", err)
	}
	// String results come back JSON-encoded; decode them so callers see the
	// bare value. Anything else passes through as raw JSON.
	var s string
	if json.Unmarshal(res, &s) == nil {
		return s, nil
	}
	return string(res), nil
}

// CaptureScreenshot stores a full-page screenshot under the configured
// directory and returns its path.
func (d *CDP) CaptureScreenshot(ctx context.Context, label string) (string, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", d.wrap("capture_screenshot", err)
	}

	dir := d.cfg.ScreenshotDir
	if dir == "" {
		dir = "screenshots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%s.png", d.agent, sanitizeLabel(label), time.Now().Format("20060102-150405.000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

// sanitizeLabel keeps screenshot names filesystem-safe.
func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, label)
}

// RequestLog returns up to n of the most recent captured requests.
func (d *CDP) RequestLog(n int) []schemas.RequestRecord {
	return d.requests.recent(n)
}

// Close tears the browser session down. Safe to call more than once.
func (d *CDP) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return nil
	}
	d.isClosed = true
	d.mu.Unlock()

	d.log.Info("Closing browser session")
	if err := chromedp.Cancel(d.ctx); err != nil && ctx.Err() == nil {
		d.log.Warn("Graceful browser shutdown failed", zap.Error(err))
	}
	d.teardown()
	d.requests.drain(ctx)
	return nil
}
