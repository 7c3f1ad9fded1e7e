// Package agent runs one simulated user: a perceive-decide-act loop wired
// from a personality profile, a goal manager, an action memory, a decision
// engine and a recovery layer, all driving a single browser session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/decision"
	"github.com/xkilldash9x/stampede/internal/goals"
	"github.com/xkilldash9x/stampede/internal/memory"
	"github.com/xkilldash9x/stampede/internal/persona"
	"github.com/xkilldash9x/stampede/internal/recovery"
)

// ErrRestartRequested signals the supervision layer that the agent hit its
// failure thresholds and wants a clean restart rather than continuing.
var ErrRestartRequested = errors.New("agent restart requested")

// defaultCyclePause spaces decision cycles so agents behave like users, not
// load generators.
const defaultCyclePause = time.Second

// Agent is one autonomous simulated user.
type Agent struct {
	name    string
	spec    config.AgentSpec
	driver  schemas.Driver
	profile *persona.Profile
	goals   *goals.Manager
	mem     *memory.Memory
	engine  *decision.Engine
	rec     *recovery.Recovery
	catalog []schemas.Action
	log     *zap.Logger

	cyclePause time.Duration

	stopRequested atomic.Bool

	mu           sync.Mutex
	startedAt    time.Time
	lastActivity time.Time
	actionTimes  []time.Time
	failureTimes []time.Time
}

// New assembles an agent from its spec. Seed 0 derives a stable seed from the
// agent name so unseeded runs are still reproducible per agent.
func New(spec config.AgentSpec, driver schemas.Driver, cfg config.Interface, logger *zap.Logger) (*Agent, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("agent spec requires a name")
	}

	profile, err := persona.New(persona.Archetype(spec.Archetype), spec.TraitOverrides)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Name, err)
	}

	log := logger.With(zap.String("agent", spec.Name))

	gm := goals.NewManager(profile, goals.DefaultTemplates(), goals.DefaultActionMap(), cfg.Goals(), log)
	if err := gm.Initialize(); err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Name, err)
	}

	mem := memory.New(cfg.Memory().Capacity)

	seed := spec.Seed
	if seed == 0 {
		seed = deriveSeed(spec.Name)
	}
	engine := decision.NewEngine(profile, gm, mem, cfg.Decision(), seed, log)

	rec, err := recovery.New(spec.Name, cfg.Recovery(), cfg.State().Dir, log)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Name, err)
	}

	return &Agent{
		name:       spec.Name,
		spec:       spec,
		driver:     driver,
		profile:    profile,
		goals:      gm,
		mem:        mem,
		engine:     engine,
		rec:        rec,
		catalog:    DefaultCatalog(),
		log:        log,
		cyclePause: defaultCyclePause,
	}, nil
}

// deriveSeed hashes the agent name into a jitter seed.
func deriveSeed(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// Name returns the agent's identity.
func (a *Agent) Name() string { return a.name }

// Driver exposes the underlying session, used by the probe harness.
func (a *Agent) Driver() schemas.Driver { return a.driver }

// Profile returns the agent's personality.
func (a *Agent) Profile() *persona.Profile { return a.profile }

// Goals exposes the goal manager for status reporting.
func (a *Agent) Goals() *goals.Manager { return a.goals }

// RequestStop asks the run loop to exit at the next cycle boundary.
func (a *Agent) RequestStop() { a.stopRequested.Store(true) }

func (a *Agent) stopped() bool { return a.stopRequested.Load() }

// Run executes the agent's life: login, then perceive-decide-act cycles until
// the context ends, a stop is requested, or the recovery layer demands a
// restart. The driver session is left open; its owner closes it.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	now := time.Now()
	a.startedAt = now
	a.lastActivity = now
	a.mu.Unlock()
	a.stopRequested.Store(false)

	if err := a.login(ctx); err != nil {
		return err
	}
	a.log.Info("Agent entering decision loop",
		zap.String("archetype", string(a.profile.Archetype)),
		zap.String("resume_from", a.rec.LastSuccessfulAction()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.stopped() {
			a.log.Info("Agent stopping on request")
			return nil
		}

		if err := a.cycle(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return ctx.Err()
			case errors.Is(err, recovery.ErrSessionRestartRequired):
				// One in-place re-login; if the session is truly gone the
				// supervisor owns the full restart.
				a.log.Warn("Session fault, re-authenticating", zap.Error(err))
				if lerr := a.login(ctx); lerr != nil {
					return fmt.Errorf("%w: re-login failed: %w", ErrRestartRequested, lerr)
				}
			default:
				a.log.Warn("Cycle failed", zap.Error(err))
			}
		}

		if a.rec.ShouldRestart() {
			a.log.Error("Failure thresholds exceeded, requesting restart",
				zap.Int("consecutive_failures", a.rec.ConsecutiveFailures()))
			return ErrRestartRequested
		}

		if err := a.pause(ctx); err != nil {
			return err
		}
	}
}

// login authenticates the session under recovery. Login is critical: there is
// no degraded mode without a session.
func (a *Agent) login(ctx context.Context) error {
	creds := schemas.Credentials{Username: a.spec.Username, Password: a.spec.Password}
	return a.rec.Execute(ctx, "login", "auth", func(ctx context.Context) error {
		return a.driver.Login(ctx, creds)
	}, recovery.Options{Critical: true})
}

// cycle runs one perceive-decide-act iteration.
func (a *Agent) cycle(ctx context.Context) error {
	snap, err := a.observe(ctx)
	if err != nil {
		return err
	}

	a.goals.UpdateProgress(snap)

	d, err := a.engine.Select(a.candidates(snap), snap)
	if err != nil {
		return err
	}
	if d.Action.Name == "wait" {
		a.touch()
		return nil
	}

	return a.perform(ctx, d.Action)
}

// observe fetches a snapshot under recovery, falling back to an empty one so
// a single flaky observation cannot stall the loop.
func (a *Agent) observe(ctx context.Context) (schemas.Snapshot, error) {
	var snap schemas.Snapshot
	err := a.rec.Execute(ctx, "observe_state", "observe", func(ctx context.Context) error {
		var err error
		snap, err = a.driver.ObserveState(ctx)
		return err
	}, recovery.Options{
		Fallback: func(ctx context.Context) error {
			snap = schemas.Snapshot{Timestamp: time.Now()}
			return nil
		},
	})
	return snap, err
}

// perform executes the chosen action under recovery and commits the outcome
// to memory. Failed attempts are remembered too; that is how the history term
// learns.
func (a *Agent) perform(ctx context.Context, action schemas.Action) error {
	var outcome schemas.Outcome
	err := a.rec.Execute(ctx, action.Name, action.Class, func(ctx context.Context) error {
		var err error
		outcome, err = a.driver.PerformAction(ctx, action)
		return err
	}, recovery.Options{})

	if err != nil {
		outcome.Success = false
		if outcome.Message == "" {
			outcome.Message = err.Error()
		}
	}
	a.mem.Record(action, outcome)
	a.noteAction(err == nil)

	if err == nil {
		a.log.Debug("Action performed",
			zap.String("action", action.Name),
			zap.Duration("duration", outcome.Duration),
			zap.Any("deltas", outcome.ResourceDeltas))
	}
	return err
}

// candidates assembles the scored action set: the full catalog plus the
// unconditional wait no-op.
func (a *Agent) candidates(snap schemas.Snapshot) []schemas.Action {
	out := make([]schemas.Action, 0, len(a.catalog)+1)
	out = append(out, a.catalog...)
	out = append(out, waitAction())
	return out
}

// pause spaces cycles, staying responsive to cancellation.
func (a *Agent) pause(ctx context.Context) error {
	if a.cyclePause <= 0 {
		return nil
	}
	timer := time.NewTimer(a.cyclePause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
