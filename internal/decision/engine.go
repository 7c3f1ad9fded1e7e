// Package decision scores candidate actions against an agent's goals,
// memory and personality, and picks the next one to perform. Selection is a
// pure computation over an in-memory snapshot; it performs no I/O.
package decision

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/goals"
	"github.com/xkilldash9x/stampede/internal/memory"
	"github.com/xkilldash9x/stampede/internal/persona"
)

// ErrNoCandidates is returned when Select is given an empty candidate set.
// Callers must always supply at least a no-op/wait action.
var ErrNoCandidates = errors.New("decision: no candidate actions")

// Terms is the per-candidate score breakdown, retained for observability.
type Terms struct {
	Goal        float64 `json:"goal"`
	Efficiency  float64 `json:"efficiency"`
	Risk        float64 `json:"risk"`
	History     float64 `json:"history"`
	Situational float64 `json:"situational"`
	Habit       float64 `json:"habit"`
	Raw         float64 `json:"raw"`
	Final       float64 `json:"final"`
}

// habitBonus nudges the candidate the memory currently recommends. It breaks
// ties toward proven actions without overriding the weighted terms.
const habitBonus = 0.05

// adaptationGain scales how far the overall success rate shifts the
// personality's risk tolerance in either direction.
const adaptationGain = 0.2

// Decision is the outcome of one Select call.
type Decision struct {
	Action        schemas.Action
	Score         float64
	Terms         Terms
	Justification string
}

// Engine scores and selects actions for one agent.
type Engine struct {
	profile *persona.Profile
	goals   *goals.Manager
	mem     *memory.Memory
	cfg     config.DecisionConfig
	rng     *rand.Rand
	log     *zap.Logger
}

// NewEngine builds a decision engine. The seed fixes the jitter source so
// runs are reproducible; identical seeds and inputs yield identical choices.
func NewEngine(
	profile *persona.Profile,
	gm *goals.Manager,
	mem *memory.Memory,
	cfg config.DecisionConfig,
	seed int64,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		profile: profile,
		goals:   gm,
		mem:     mem,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		log:     logger.Named("decision"),
	}
}

// Select scores every candidate and returns the best. Ties are broken by
// stable input order: a later candidate must strictly beat the incumbent.
func (e *Engine) Select(candidates []schemas.Action, snap schemas.Snapshot) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}

	var (
		bestIdx   = 0
		bestTerms Terms
		lines     = make([]string, 0, len(candidates))
	)

	habit, _ := e.mem.RecommendedAction(e.goals.Contributes)

	for i, c := range candidates {
		t := e.score(c, snap, habit)
		lines = append(lines, fmt.Sprintf(
			"%s: goal=%.3f eff=%.3f risk=%.3f hist=%.3f situ=%.3f habit=%.3f raw=%.3f final=%.3f",
			c.Name, t.Goal, t.Efficiency, t.Risk, t.History, t.Situational, t.Habit, t.Raw, t.Final))
		if i == 0 || t.Final > bestTerms.Final {
			bestIdx = i
			bestTerms = t
		}
	}

	chosen := candidates[bestIdx]
	d := Decision{
		Action:        chosen,
		Score:         bestTerms.Final,
		Terms:         bestTerms,
		Justification: fmt.Sprintf("chose %s | %s", chosen.Name, strings.Join(lines, " || ")),
	}
	e.log.Debug("Action selected",
		zap.String("action", chosen.Name),
		zap.Float64("score", d.Score),
		zap.String("justification", d.Justification))
	return d, nil
}

// score computes the five weighted terms, the habit bonus, the personality
// multiplier and the bounded jitter for one candidate.
func (e *Engine) score(c schemas.Action, snap schemas.Snapshot, habit string) Terms {
	t := Terms{
		Goal:        e.goals.AlignmentScore(c.Name),
		Efficiency:  e.efficiencyTerm(c.Name),
		Risk:        e.riskTerm(c.Risk),
		History:     e.mem.SuccessRate(c.Name),
		Situational: situationalTerm(c, snap),
	}
	if habit != "" && c.Name == habit {
		t.Habit = habitBonus
	}

	t.Raw = e.cfg.GoalWeight*t.Goal +
		e.cfg.EfficiencyWeight*t.Efficiency +
		e.cfg.RiskWeight*t.Risk +
		e.cfg.HistoryWeight*t.History +
		e.cfg.SituationalWeight*t.Situational +
		t.Habit

	jitter := 1.0
	if e.cfg.JitterVariance > 0 {
		jitter += (e.rng.Float64()*2 - 1) * e.cfg.JitterVariance
	}
	t.Final = t.Raw * e.profile.Multiplier() * jitter
	return t
}

// efficiencyTerm squashes the unbounded reward-per-cost estimate into (0,1),
// with 0.5 as the neutral prior for unseen actions.
func (e *Engine) efficiencyTerm(action string) float64 {
	eff, ok := e.mem.Efficiency(action)
	if !ok {
		return 0.5
	}
	return 0.5 + 0.5*math.Tanh(eff/10.0)
}

// riskTerm interpolates between rewarding safety and rewarding danger based
// on the personality's risk tolerance: a cautious agent (tolerance 0) scores
// a risky action near zero, a bold one (tolerance 1) scores it near one. The
// tolerance itself adapts to observed outcomes; a losing streak tempers the
// appetite and a winning one feeds it.
func (e *Engine) riskTerm(risk float64) float64 {
	tol := e.profile.Traits.RiskTolerance
	tol = clamp01(tol + adaptationGain*(e.mem.OverallSuccessRate()-0.5))
	return risk*tol + (1.0-risk)*(1.0-tol)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// situationalTerm applies small deterministic adjustments from current
// resource levels, hard-suppressing actions the agent cannot afford.
func situationalTerm(c schemas.Action, snap schemas.Snapshot) float64 {
	if c.Cost <= 0 {
		return 0.5
	}
	gold := snap.Resource("gold")
	switch {
	case gold < c.Cost:
		return -1.0 // Below the resource floor; strongly suppressed.
	case gold >= 4*c.Cost:
		return 0.8
	default:
		return 0.4
	}
}
