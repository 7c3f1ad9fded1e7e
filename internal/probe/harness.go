// Package probe is the adversarial mode: instead of goal-driven play it runs
// a fixed, ordered battery of fault-injection probes through an agent's
// session and collects structured exploit findings.
package probe

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
)

// categorySeverity is the fixed category -> default severity table.
var categorySeverity = map[string]schemas.Severity{
	"XSS":               schemas.SeverityCritical,
	"SQLI":              schemas.SeverityCritical,
	"AUTH":              schemas.SeverityCritical,
	"RACE_CONDITION":    schemas.SeverityHigh,
	"NEGATIVE_VALUE":    schemas.SeverityHigh,
	"ECONOMY":           schemas.SeverityHigh,
	"STATE_TAMPERING":   schemas.SeverityHigh,
	"OVERFLOW":          schemas.SeverityMedium,
	"RATE_LIMIT":        schemas.SeverityMedium,
	"SESSION":           schemas.SeverityMedium,
	"FUZZING":           schemas.SeverityMedium,
	"VALIDATION_BYPASS": schemas.SeverityLow,
}

// severityFor resolves a category's default severity; unknown categories are
// reported MEDIUM rather than dropped.
func severityFor(category string) schemas.Severity {
	if s, ok := categorySeverity[category]; ok {
		return s
	}
	return schemas.SeverityMedium
}

// namedProbe is one battery entry.
type namedProbe struct {
	name string
	run  func(ctx context.Context) error
}

// Harness runs the probe battery against one agent session.
type Harness struct {
	agent  string
	creds  schemas.Credentials
	driver schemas.Driver
	cfg    config.ProbeConfig
	log    *zap.Logger
	now    func() time.Time

	findings []schemas.ExploitFinding
	executed []string
}

// NewHarness wires a harness onto an already logged-in session. The
// credentials are reused by the concurrent-session probe.
func NewHarness(agent string, creds schemas.Credentials, driver schemas.Driver, cfg config.ProbeConfig, logger *zap.Logger) *Harness {
	return &Harness{
		agent:  agent,
		creds:  creds,
		driver: driver,
		cfg:    cfg,
		log:    logger.Named("probe").With(zap.String("agent", agent)),
		now:    time.Now,
	}
}

// battery returns the fixed probe order. Every harness invocation runs each
// probe exactly once.
func (h *Harness) battery() []namedProbe {
	return []namedProbe{
		{"race_duplication", h.probeRaceDuplication},
		{"negative_values", h.probeNegativeValues},
		{"boundary_overflow", h.probeBoundaryOverflow},
		{"injection_payloads", h.probeInjectionPayloads},
		{"client_state_tampering", h.probeClientStateTampering},
		{"auth_token_tampering", h.probeAuthTokenTampering},
		{"rate_limit_flood", h.probeRateLimitFlood},
		{"concurrent_sessions", h.probeConcurrentSessions},
		{"economy_exploits", h.probeEconomyExploits},
		{"malformed_fuzzing", h.probeMalformedFuzzing},
		{"validation_bypass", h.probeValidationBypass},
	}
}

// Run executes the full battery and returns the aggregate report. A probe
// that fails or panics is logged and the battery continues; only context
// cancellation aborts the run.
func (h *Harness) Run(ctx context.Context) (schemas.ProbeReport, error) {
	started := h.now()
	h.findings = nil
	h.executed = nil

	for _, p := range h.battery() {
		if err := ctx.Err(); err != nil {
			return h.report(started), err
		}
		h.log.Info("Running probe", zap.String("probe", p.name))
		if err := h.runIsolated(ctx, p); err != nil {
			h.log.Warn("Probe did not complete", zap.String("probe", p.name), zap.Error(err))
		}
		h.executed = append(h.executed, p.name)
	}

	report := h.report(started)
	h.log.Info("Probe battery finished",
		zap.Int("probes", len(report.ProbesExecuted)),
		zap.Int("findings", report.FindingsCount))
	return report, nil
}

// runIsolated converts a panicking probe into an error so one bad probe can
// never take down the battery.
func (h *Harness) runIsolated(ctx context.Context, p namedProbe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe %s panicked: %v\n%s", p.name, r, debug.Stack())
		}
	}()
	return p.run(ctx)
}

func (h *Harness) report(started time.Time) schemas.ProbeReport {
	summary := make(map[schemas.Severity]int)
	for _, f := range h.findings {
		summary[f.Severity]++
	}
	return schemas.ProbeReport{
		AgentName:      h.agent,
		StartedAt:      started,
		FinishedAt:     h.now(),
		ProbesExecuted: h.executed,
		FindingsCount:  len(h.findings),
		Summary:        summary,
		Findings:       h.findings,
	}
}

// emit records one finding with fresh evidence: a labeled screenshot and the
// tail of the request log. Evidence failures degrade the finding, never
// suppress it.
func (h *Harness) emit(ctx context.Context, category, title string, f schemas.ExploitFinding) {
	f.ID = uuid.New().String()
	f.Category = category
	f.Title = title
	f.Severity = severityFor(category)
	f.ObservedAt = h.now()

	shot, err := h.driver.CaptureScreenshot(ctx, category)
	if err != nil {
		h.log.Debug("Evidence screenshot failed", zap.String("category", category), zap.Error(err))
	} else {
		f.Evidence.Screenshot = shot
	}
	f.Evidence.Requests = h.driver.RequestLog(h.cfg.EvidenceRequests)

	h.findings = append(h.findings, f)
	h.log.Warn("Exploit finding recorded",
		zap.String("category", category),
		zap.String("severity", string(f.Severity)),
		zap.String("title", title))
}
