// Package recovery is the per-action fault-tolerance layer: it classifies
// failures, applies a fixed per-class strategy (backoff/retry/skip/escalate),
// gates chronically failing action classes behind circuit breakers, and
// checkpoints resumable session state after every attempt.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/internal/config"
)

// Options tune one Execute call.
type Options struct {
	// MaxRetries overrides the configured retry bound when positive.
	MaxRetries int
	// Fallback runs when the circuit is open or retries are exhausted on a
	// non-critical operation.
	Fallback func(ctx context.Context) error
	// Critical makes exhaustion fail the whole operation up instead of
	// proceeding through the fallback.
	Critical bool
}

// Recovery owns the breakers and checkpoint state for one agent. Single
// owner, no locking.
type Recovery struct {
	agent    string
	cfg      config.RecoveryConfig
	log      *zap.Logger
	store    *StateStore
	state    *SessionState
	breakers map[string]*Breaker

	// recentFailures holds failure timestamps inside the rolling window.
	recentFailures []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New loads any persisted checkpoint for the agent and wires its breakers.
func New(agent string, cfg config.RecoveryConfig, stateDir string, logger *zap.Logger) (*Recovery, error) {
	store, err := NewStateStore(stateDir)
	if err != nil {
		return nil, err
	}
	state, err := store.Load(agent)
	if err != nil {
		return nil, err
	}
	return &Recovery{
		agent:    agent,
		cfg:      cfg,
		log:      logger.Named("recovery"),
		store:    store,
		state:    state,
		breakers: make(map[string]*Breaker),
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

// sleepCtx is a cancellable sleep; backoff never blocks shutdown.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// breaker returns the circuit for an action class, creating it on first use.
func (r *Recovery) breaker(class string) *Breaker {
	b, ok := r.breakers[class]
	if !ok {
		b = NewBreaker(r.cfg.CircuitThreshold, r.cfg.CircuitResetTime)
		r.breakers[class] = b
	}
	return b
}

// BreakerState exposes the gate position for one action class.
func (r *Recovery) BreakerState(class string) CircuitState {
	return r.breaker(class).State()
}

// Execute runs op under the recovery policy for the named action. The class
// selects the circuit breaker; the error classification selects the retry
// strategy.
func (r *Recovery) Execute(ctx context.Context, actionName, class string, op func(ctx context.Context) error, opts Options) error {
	br := r.breaker(class)
	if br.IsOpen() {
		r.log.Warn("Circuit open, skipping action",
			zap.String("action", actionName), zap.String("class", class))
		if opts.Fallback != nil {
			return opts.Fallback(ctx)
		}
		return fmt.Errorf("%s/%s: %w", actionName, class, ErrCircuitOpen)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.cfg.MaxRetries
	}
	timeout := r.cfg.ActionTimeout

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := r.attempt(ctx, timeout, op)
		if err == nil {
			r.markSuccess(actionName, br)
			return nil
		}
		lastErr = err
		errClass := Classify(err)
		r.markFailure(actionName, errClass, err, br)

		switch errClass {
		case ClassAuthentication:
			// Never silently retried; the session must be rebuilt.
			r.log.Error("Authentication fault, session restart required",
				zap.String("action", actionName), zap.Error(err))
			return fmt.Errorf("%s: %w: %w", actionName, ErrSessionRestartRequired, err)

		case ClassElementNotFound:
			// Environment fault: the target's surface may legitimately vary.
			r.log.Info("Element not found, skipping action",
				zap.String("action", actionName), zap.Error(err))
			return r.finish(ctx, actionName, lastErr, opts)

		case ClassValidation:
			r.log.Info("Validation fault, skipping action",
				zap.String("action", actionName), zap.Error(err))
			return r.finish(ctx, actionName, lastErr, opts)

		case ClassTimeout:
			// Extend the timeout and retry exactly once.
			if attempt >= 2 {
				return r.finish(ctx, actionName, lastErr, opts)
			}
			timeout *= 2
			r.log.Warn("Timeout, extending and retrying once",
				zap.String("action", actionName), zap.Duration("timeout", timeout))

		case ClassNetwork:
			if attempt > maxRetries {
				return r.finish(ctx, actionName, lastErr, opts)
			}
			delay := r.backoffDelay(attempt)
			r.log.Warn("Network fault, backing off",
				zap.String("action", actionName),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if serr := r.sleep(ctx, delay); serr != nil {
				return serr
			}

		case ClassNavigation:
			if attempt > maxRetries {
				return r.finish(ctx, actionName, lastErr, opts)
			}
			r.log.Warn("Navigation fault, pausing briefly before retry",
				zap.String("action", actionName), zap.Int("attempt", attempt))
			if serr := r.sleep(ctx, r.cfg.InitialRetryDelay); serr != nil {
				return serr
			}

		default: // ClassUnknown
			if attempt >= 2 {
				return r.finish(ctx, actionName, lastErr, opts)
			}
			r.log.Warn("Unclassified fault, retrying once",
				zap.String("action", actionName), zap.Error(err))
		}
	}
}

// attempt runs op under the per-attempt timeout when one is configured.
func (r *Recovery) attempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

// finish resolves an exhausted or skipped operation: critical fails up,
// otherwise the fallback (if any) gets its chance.
func (r *Recovery) finish(ctx context.Context, actionName string, lastErr error, opts Options) error {
	if opts.Critical {
		return fmt.Errorf("critical action %s failed: %w", actionName, lastErr)
	}
	if opts.Fallback != nil {
		return opts.Fallback(ctx)
	}
	return lastErr
}

// backoffDelay doubles from the initial delay per attempt, capped at the
// configured maximum.
func (r *Recovery) backoffDelay(attempt int) time.Duration {
	delay := r.cfg.InitialRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.MaxRetryDelay {
			return r.cfg.MaxRetryDelay
		}
	}
	if delay > r.cfg.MaxRetryDelay {
		delay = r.cfg.MaxRetryDelay
	}
	return delay
}

// markSuccess checkpoints a successful attempt.
func (r *Recovery) markSuccess(actionName string, br *Breaker) {
	br.RecordSuccess()
	r.state.LastSuccessfulAction = actionName
	r.state.ConsecutiveFailures = 0
	r.state.record(Attempt{Action: actionName, Success: true, At: r.now()})
	r.persist()
}

// markFailure checkpoints a failed attempt and feeds the restart counters.
func (r *Recovery) markFailure(actionName string, class ErrorClass, err error, br *Breaker) {
	br.RecordFailure()
	now := r.now()
	r.state.ConsecutiveFailures++
	r.state.TotalFailures++
	r.state.record(Attempt{Action: actionName, Class: class, Error: err.Error(), At: now})
	r.recentFailures = append(r.recentFailures, now)
	r.pruneRecent(now)
	r.persist()
}

// pruneRecent drops failure timestamps that fell out of the rolling window.
func (r *Recovery) pruneRecent(now time.Time) {
	cutoff := now.Add(-r.cfg.RecentFailureWindow)
	keep := r.recentFailures[:0]
	for _, t := range r.recentFailures {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	r.recentFailures = keep
}

func (r *Recovery) persist() {
	if err := r.store.Save(r.state); err != nil {
		r.log.Error("Failed to persist session state", zap.Error(err))
	}
}

// ShouldRestart is the error-driven restart trigger, distinct from health
// monitoring: too many consecutive failures, or too many inside the window.
func (r *Recovery) ShouldRestart() bool {
	if r.state.ConsecutiveFailures >= r.cfg.MaxConsecutiveFailures {
		return true
	}
	r.pruneRecent(r.now())
	return len(r.recentFailures) >= r.cfg.RecentFailureLimit
}

// LastSuccessfulAction reports the resumption point from the checkpoint.
func (r *Recovery) LastSuccessfulAction() string { return r.state.LastSuccessfulAction }

// ConsecutiveFailures reports the current failure streak.
func (r *Recovery) ConsecutiveFailures() int { return r.state.ConsecutiveFailures }
