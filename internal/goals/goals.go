// Package goals owns each agent's prioritized objective set. Progress is
// recomputed from world-state snapshots every decision cycle; priorities are
// recomputed from base priority, personality alignment and deadline urgency.
package goals

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/persona"
)

// Type is the closed set of goal categories.
type Type string

const (
	TypeLevelUp        Type = "level_up"
	TypeEarnGold       Type = "earn_gold"
	TypeJoinGang       Type = "join_gang"
	TypeMaxSkill       Type = "max_skill"
	TypeCompleteQuest  Type = "complete_quest"
	TypeWinDuels       Type = "win_duels"
	TypeUnlockLocation Type = "unlock_location"
	TypeCraftItem      Type = "craft_item"
	TypeMakeFriends    Type = "make_friends"
	TypeExplore        Type = "explore"
	TypeBuyProperty    Type = "buy_property"
	TypeAchieveRank    Type = "achieve_rank"
	TypeCollectItems   Type = "collect_items"
	TypeDefeatBoss     Type = "defeat_boss"
)

// statMetric maps each goal type to the snapshot metric that measures it.
var statMetric = map[Type]string{
	TypeLevelUp:        "level",
	TypeJoinGang:       "gang_member",
	TypeMaxSkill:       "top_skill",
	TypeCompleteQuest:  "quests_done",
	TypeWinDuels:       "duels_won",
	TypeUnlockLocation: "locations_unlocked",
	TypeCraftItem:      "items_crafted",
	TypeMakeFriends:    "friends",
	TypeExplore:        "areas_explored",
	TypeBuyProperty:    "properties",
	TypeAchieveRank:    "rank",
	TypeCollectItems:   "items_collected",
	TypeDefeatBoss:     "bosses_defeated",
}

// Goal is one tracked objective.
type Goal struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Target      float64   `json:"target"`
	// Progress is a fraction in [0,1]; normal updates never decrement it.
	Progress     float64   `json:"progress"`
	Priority     int       `json:"priority"`
	BasePriority int       `json:"base_priority"`
	// Deadline is optional; the zero value means no deadline.
	Deadline  time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager owns the active and completed goal lists for one agent. It is not
// safe for concurrent use; each agent owns exactly one.
type Manager struct {
	profile   *persona.Profile
	templates map[persona.Archetype][]Template
	actionMap map[string][]Type
	cfg       config.GoalsConfig
	log       *zap.Logger
	now       func() time.Time

	active    []*Goal
	completed []Goal
	seq       int
}

// NewManager wires a goal manager for the given personality. The template
// and action tables are loaded once at process start and passed in here;
// there is no ambient global state.
func NewManager(
	profile *persona.Profile,
	templates map[persona.Archetype][]Template,
	actionMap map[string][]Type,
	cfg config.GoalsConfig,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		profile:   profile,
		templates: templates,
		actionMap: actionMap,
		cfg:       cfg,
		log:       logger.Named("goals"),
		now:       time.Now,
	}
}

// Initialize seeds the active goals from the personality's templates. Every
// archetype template set is non-empty, so the resulting goal set is too.
func (m *Manager) Initialize() error {
	tmpls, ok := m.templates[m.profile.Archetype]
	if !ok || len(tmpls) == 0 {
		return fmt.Errorf("no goal templates for archetype %q", m.profile.Archetype)
	}
	for _, t := range tmpls {
		m.spawn(t)
	}
	m.reprioritize()
	m.log.Info("Seeded goals from personality templates",
		zap.String("archetype", string(m.profile.Archetype)),
		zap.Int("count", len(m.active)))
	return nil
}

// spawn instantiates one template as an active goal.
func (m *Manager) spawn(t Template) {
	m.seq++
	now := m.now()
	g := &Goal{
		ID:           fmt.Sprintf("%s-%d", t.Type, m.seq),
		Type:         t.Type,
		Name:         t.Name,
		Description:  t.Description,
		Target:       t.Target,
		BasePriority: t.BasePriority,
		Priority:     t.BasePriority,
		CreatedAt:    now,
	}
	if t.DeadlineIn > 0 {
		g.Deadline = now.Add(t.DeadlineIn)
	}
	m.active = append(m.active, g)
}

// UpdateProgress recomputes progress and priority for every active goal from
// the snapshot, retires completed goals, and spawns their follow-ups. The
// active list is sorted descending by priority on return.
func (m *Manager) UpdateProgress(snap schemas.Snapshot) {
	var done []Goal
	remaining := m.active[:0]

	for _, g := range m.active {
		p := m.measure(g, snap)
		// Progress is monotone: a stale or regressed snapshot never pulls a
		// goal backwards.
		if p > g.Progress {
			g.Progress = p
		}
		if g.Progress >= 1.0 {
			g.Progress = 1.0
			done = append(done, *g)
			continue
		}
		remaining = append(remaining, g)
	}
	m.active = remaining

	for _, g := range done {
		m.completed = append(m.completed, g)
		m.log.Info("Goal completed", zap.String("goal", g.Name), zap.String("type", string(g.Type)))
		for _, t := range chainFor(g) {
			if t.BasePriority < 1 {
				t.BasePriority = 1
			}
			m.spawn(t)
		}
	}

	m.reprioritize()
}

// measure derives a goal's progress fraction from the snapshot.
func (m *Manager) measure(g *Goal, snap schemas.Snapshot) float64 {
	if g.Target <= 0 {
		return 1.0
	}
	var value float64
	if g.Type == TypeEarnGold {
		value = snap.Resource("gold")
	} else {
		value = snap.Stat(statMetric[g.Type])
	}
	return math.Min(1.0, math.Max(0.0, value/g.Target))
}

// reprioritize recomputes every active goal's priority and restores the
// descending-priority sort invariant.
func (m *Manager) reprioritize() {
	now := m.now()
	for _, g := range m.active {
		g.Priority = g.BasePriority + m.alignmentBonus(g.Type) + m.urgencyBonus(g, now)
	}
	sort.SliceStable(m.active, func(i, j int) bool {
		if m.active[i].Priority != m.active[j].Priority {
			return m.active[i].Priority > m.active[j].Priority
		}
		return m.active[i].CreatedAt.Before(m.active[j].CreatedAt)
	})
}

// alignmentBonus scales the configured boost by the trait the goal type
// resonates with.
func (m *Manager) alignmentBonus(t Type) int {
	trait, ok := traitAffinity[t]
	if !ok {
		return 0
	}
	return int(math.Round(m.profile.Trait(trait) * m.cfg.AlignmentBoost))
}

// urgencyBonus grows monotonically as the deadline approaches once the goal
// is inside the urgency window, saturating at the full boost past it.
func (m *Manager) urgencyBonus(g *Goal, now time.Time) int {
	if g.Deadline.IsZero() || m.cfg.UrgencyWindow <= 0 {
		return 0
	}
	remaining := g.Deadline.Sub(now)
	if remaining >= m.cfg.UrgencyWindow {
		return 0
	}
	if remaining <= 0 {
		return m.cfg.UrgencyBoost
	}
	frac := 1.0 - float64(remaining)/float64(m.cfg.UrgencyWindow)
	return int(math.Ceil(frac * float64(m.cfg.UrgencyBoost)))
}

// Contributes answers whether an action plausibly advances any active goal.
func (m *Manager) Contributes(actionName string) bool {
	for _, t := range m.actionMap[actionName] {
		for _, g := range m.active {
			if g.Type == t {
				return true
			}
		}
	}
	return false
}

// AlignmentScore returns a [0,1] goal-alignment weight for an action: the
// highest priority among active goals the action advances, normalized by the
// top active priority. Zero when the action advances nothing.
func (m *Manager) AlignmentScore(actionName string) float64 {
	if len(m.active) == 0 {
		return 0
	}
	top := m.active[0].Priority
	if top <= 0 {
		return 0
	}
	best := 0
	for _, t := range m.actionMap[actionName] {
		for _, g := range m.active {
			if g.Type == t && g.Priority > best {
				best = g.Priority
			}
		}
	}
	return float64(best) / float64(top)
}

// TopGoal returns the highest-priority active goal.
func (m *Manager) TopGoal() (Goal, bool) {
	if len(m.active) == 0 {
		return Goal{}, false
	}
	return *m.active[0], true
}

// ActiveGoals returns a copy of the active list, sorted descending by
// priority.
func (m *Manager) ActiveGoals() []Goal {
	out := make([]Goal, len(m.active))
	for i, g := range m.active {
		out[i] = *g
	}
	return out
}

// CompletedGoals returns a copy of the completed list in completion order.
func (m *Manager) CompletedGoals() []Goal {
	out := make([]Goal, len(m.completed))
	copy(out, m.completed)
	return out
}
