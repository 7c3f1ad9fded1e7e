// Package orchestrator supervises the agent swarm: it owns agent lifecycles,
// enforces the concurrency cap, staggers starts, consumes health statuses and
// restarts failing agents a bounded number of times.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/agent"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/health"
)

// AgentState is the lifecycle position of one managed agent.
type AgentState string

const (
	StateStopped    AgentState = "STOPPED"
	StateStarting   AgentState = "STARTING"
	StateRunning    AgentState = "RUNNING"
	StateStopping   AgentState = "STOPPING"
	StateCrashed    AgentState = "CRASHED"
	StateRestarting AgentState = "RESTARTING"
)

// DriverFactory builds a fresh session for an agent. Restarts get a brand new
// session; stale browser state is part of what restarts exist to shed.
type DriverFactory func(ctx context.Context, agentName string) (schemas.Driver, error)

// managed is the supervision record for one registered agent.
type managed struct {
	spec config.AgentSpec

	state    AgentState
	restarts int
	lastErr  string

	agent   *agent.Agent
	monitor *health.Monitor

	// cancelRun aborts the current session; done closes when the run loop
	// fully exits; stopCh closes on the first stop request so the loop wakes
	// even when no session is live (restart cooldown).
	cancelRun     context.CancelFunc
	done          chan struct{}
	stopCh        chan struct{}
	stopRequested bool
	restartWanted bool
}

// Orchestrator owns the swarm.
type Orchestrator struct {
	cfg       config.Interface
	newDriver DriverFactory
	log       *zap.Logger

	healthCh chan health.Status

	mu     sync.Mutex
	agents map[string]*managed
	order  []string

	wg sync.WaitGroup
}

// New builds an orchestrator. The factory is called once per agent session,
// including on restarts.
func New(cfg config.Interface, factory DriverFactory, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		newDriver: factory,
		log:       logger.Named("orchestrator"),
		healthCh:  make(chan health.Status, 64),
		agents:    make(map[string]*managed),
	}
}

// Register adds an agent to the swarm in the STOPPED state. Re-registering
// the same name updates the spec of a stopped agent and is otherwise an
// error; registration never starts anything.
func (o *Orchestrator) Register(spec config.AgentSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("agent spec requires a name")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if m, ok := o.agents[spec.Name]; ok {
		if m.state != StateStopped && m.state != StateCrashed {
			return fmt.Errorf("agent %s is %s; stop it before re-registering", spec.Name, m.state)
		}
		m.spec = spec
		return nil
	}
	o.agents[spec.Name] = &managed{spec: spec, state: StateStopped}
	o.order = append(o.order, spec.Name)
	o.log.Info("Agent registered", zap.String("agent", spec.Name), zap.String("archetype", spec.Archetype))
	return nil
}

// activeLocked counts agents holding a concurrency slot.
func (o *Orchestrator) activeLocked() int {
	n := 0
	for _, m := range o.agents {
		switch m.state {
		case StateStarting, StateRunning, StateStopping, StateRestarting:
			n++
		}
	}
	return n
}

// Start launches one agent. It refuses unknown names, agents not at rest and
// starts beyond the concurrency cap.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	o.mu.Lock()
	m, ok := o.agents[name]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown agent %q", name)
	}
	if m.state != StateStopped && m.state != StateCrashed {
		o.mu.Unlock()
		return fmt.Errorf("agent %s is already %s", name, m.state)
	}
	if cap := o.cfg.Orchestrator().MaxConcurrentAgents; o.activeLocked() >= cap {
		o.mu.Unlock()
		return fmt.Errorf("concurrency cap reached (%d agents active)", cap)
	}
	m.state = StateStarting
	m.restarts = 0
	m.lastErr = ""
	m.stopRequested = false
	m.restartWanted = false
	m.done = make(chan struct{})
	m.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.persistStatus()

	o.wg.Add(1)
	go o.runLoop(ctx, m)
	return nil
}

// runLoop drives one agent through sessions and bounded restarts until it
// stops, crashes out, or the parent context ends.
func (o *Orchestrator) runLoop(ctx context.Context, m *managed) {
	defer o.wg.Done()
	defer close(m.done)

	ocfg := o.cfg.Orchestrator()
	for {
		// A stop can land between sessions; never launch another one past it.
		o.mu.Lock()
		stopped := m.stopRequested
		o.mu.Unlock()
		if ctx.Err() != nil || stopped {
			o.setState(m, StateStopped)
			return
		}

		err := o.runOnce(ctx, m)

		o.mu.Lock()
		stopReq := m.stopRequested
		restartWanted := m.restartWanted
		m.restartWanted = false
		if err != nil {
			m.lastErr = err.Error()
		}
		o.mu.Unlock()

		switch {
		case ctx.Err() != nil || stopReq:
			o.setState(m, StateStopped)
			return
		case err == nil && !restartWanted:
			// The agent finished on its own terms.
			o.setState(m, StateStopped)
			return
		}

		o.mu.Lock()
		m.restarts++
		restarts := m.restarts
		o.mu.Unlock()

		if restarts > ocfg.MaxRestarts {
			o.log.Error("Agent exceeded restart budget, marking crashed",
				zap.String("agent", m.spec.Name),
				zap.Int("restarts", restarts-1),
				zap.Error(err))
			o.setState(m, StateCrashed)
			return
		}

		o.setState(m, StateRestarting)
		o.log.Warn("Restarting agent",
			zap.String("agent", m.spec.Name),
			zap.Int("attempt", restarts),
			zap.Duration("cooldown", ocfg.RestartCooldown),
			zap.Error(err))
		cooldown := time.NewTimer(ocfg.RestartCooldown)
		select {
		case <-ctx.Done():
			cooldown.Stop()
			o.setState(m, StateStopped)
			return
		case <-m.stopCh:
			cooldown.Stop()
			o.setState(m, StateStopped)
			return
		case <-cooldown.C:
		}
	}
}

// runOnce builds one full session (driver, agent, monitor), runs it to
// completion and tears it down.
func (o *Orchestrator) runOnce(ctx context.Context, m *managed) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	driver, err := o.newDriver(runCtx, m.spec.Name)
	if err != nil {
		return fmt.Errorf("driver for %s: %w", m.spec.Name, err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if cerr := driver.Close(closeCtx); cerr != nil {
			o.log.Warn("Driver close failed", zap.String("agent", m.spec.Name), zap.Error(cerr))
		}
	}()

	ag, err := agent.New(m.spec, driver, o.cfg, o.log)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(m.spec.Name, driver, ag, o.cfg.Health(), o.healthCh, o.log)

	o.mu.Lock()
	m.agent = ag
	m.monitor = monitor
	m.cancelRun = cancel
	stopped := m.stopRequested
	monitor.SetRestarts(m.restarts)
	o.mu.Unlock()

	// A stop issued while this session was being assembled targeted the
	// previous agent; relay it to the fresh one.
	if stopped {
		ag.RequestStop()
	}

	monitor.Start(runCtx)
	defer monitor.Stop()

	// The agent counts as RUNNING only after it survives the settle period.
	settle := time.AfterFunc(o.cfg.Orchestrator().SettlePeriod, func() {
		o.mu.Lock()
		promote := m.state == StateStarting || m.state == StateRestarting
		o.mu.Unlock()
		if promote {
			o.setState(m, StateRunning)
		}
	})
	defer settle.Stop()

	err = ag.Run(runCtx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Stop shuts one agent down cooperatively, escalating to a hard cancel when
// the grace period runs out. A grace overrun is reported as a crash.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	o.mu.Lock()
	m, ok := o.agents[name]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown agent %q", name)
	}
	switch m.state {
	case StateStopped, StateCrashed:
		o.mu.Unlock()
		return nil
	}
	first := !m.stopRequested
	m.stopRequested = true
	ag := m.agent
	done := m.done
	stopCh := m.stopCh
	o.mu.Unlock()

	o.setState(m, StateStopping)
	if first {
		close(stopCh)
	}
	if ag != nil {
		ag.RequestStop()
	}

	grace := o.cfg.Orchestrator().StopGracePeriod
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.cancelRun(m)
		<-done
		return ctx.Err()
	case <-timer.C:
	}

	o.log.Error("Agent missed stop grace period, cancelling hard",
		zap.String("agent", name), zap.Duration("grace", grace))
	o.cancelRun(m)
	<-done
	o.setState(m, StateCrashed)
	return fmt.Errorf("agent %s did not stop within %s", name, grace)
}

// cancelRun hard-cancels whatever session the agent is running right now. A
// restart may have replaced the session since the stop began, so the cancel
// func is re-read rather than captured up front.
func (o *Orchestrator) cancelRun(m *managed) {
	o.mu.Lock()
	cancel := m.cancelRun
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StartAll launches every registered agent up to the concurrency cap,
// staggering launches so the target never sees a thundering herd.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	o.mu.Lock()
	names := make([]string, len(o.order))
	copy(names, o.order)
	o.mu.Unlock()

	stagger := o.cfg.Orchestrator().StaggerDelay
	started := 0
	for i, name := range names {
		if err := o.Start(ctx, name); err != nil {
			o.log.Warn("Skipping agent start", zap.String("agent", name), zap.Error(err))
			continue
		}
		started++
		if i < len(names)-1 && stagger > 0 {
			if err := sleepCtx(ctx, stagger); err != nil {
				return err
			}
		}
	}
	if started == 0 && len(names) > 0 {
		return fmt.Errorf("no agents could be started")
	}
	o.log.Info("Swarm started", zap.Int("agents", started))
	return nil
}

// StopAll stops every non-idle agent concurrently and reports the first
// failure.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	names := make([]string, len(o.order))
	copy(names, o.order)
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return o.Stop(gctx, name)
		})
	}
	return g.Wait()
}

// Run operates the swarm until the context ends: it starts every registered
// agent, then supervises health statuses. On cancellation the swarm is shut
// down with the stop grace applied per agent.
func (o *Orchestrator) Run(ctx context.Context) error {
	superCtx, stopSuper := context.WithCancel(ctx)
	superDone := make(chan struct{})
	go func() {
		defer close(superDone)
		o.supervise(superCtx)
	}()
	defer func() {
		stopSuper()
		<-superDone
	}()

	if err := o.StartAll(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), o.cfg.Orchestrator().StopGracePeriod+10*time.Second)
	defer cancel()
	if err := o.StopAll(stopCtx); err != nil {
		o.log.Warn("Swarm shutdown reported errors", zap.Error(err))
	}
	o.wg.Wait()
	o.persistStatus()
	return ctx.Err()
}

// supervise consumes health statuses and converts restart verdicts into
// session restarts. The restart budget itself is enforced by runLoop.
func (o *Orchestrator) supervise(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-o.healthCh:
			o.log.Warn("Unhealthy agent reported",
				zap.String("agent", status.Agent),
				zap.String("state", status.State.String()),
				zap.Bool("needs_restart", status.NeedsRestart))
			if status.NeedsRestart {
				o.requestRestart(status.Agent)
			}
		}
	}
}

// Restart asks a live agent to shed its session and start a fresh one. The
// restart counts against the agent's budget like any other.
func (o *Orchestrator) Restart(name string) error {
	o.mu.Lock()
	m, ok := o.agents[name]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown agent %q", name)
	}
	if m.state != StateRunning && m.state != StateStarting {
		o.mu.Unlock()
		return fmt.Errorf("agent %s is %s; only a live agent can restart", name, m.state)
	}
	o.mu.Unlock()

	o.requestRestart(name)
	return nil
}

// requestRestart aborts an agent's current session so its run loop can spin
// up a fresh one.
func (o *Orchestrator) requestRestart(name string) {
	o.mu.Lock()
	m, ok := o.agents[name]
	if !ok || (m.state != StateRunning && m.state != StateStarting) {
		o.mu.Unlock()
		return
	}
	m.restartWanted = true
	cancel := m.cancelRun
	o.mu.Unlock()

	o.log.Warn("Health verdict requests restart", zap.String("agent", name))
	if cancel != nil {
		cancel()
	}
}

// setState transitions one agent and persists the swarm status.
func (o *Orchestrator) setState(m *managed, s AgentState) {
	o.mu.Lock()
	prev := m.state
	m.state = s
	o.mu.Unlock()
	if prev != s {
		o.log.Info("Agent state change",
			zap.String("agent", m.spec.Name),
			zap.String("from", string(prev)),
			zap.String("to", string(s)))
	}
	o.persistStatus()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
