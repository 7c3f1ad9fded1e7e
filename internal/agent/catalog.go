package agent

import (
	"github.com/xkilldash9x/stampede/api/schemas"
)

// DefaultCatalog returns the action repertoire every agent chooses from. The
// slice is built fresh per call so agents can never share mutable state.
// Names line up with the goal contribution table; classes group actions for
// circuit-breaker accounting.
func DefaultCatalog() []schemas.Action {
	return []schemas.Action{
		{Name: "attack", Class: "combat", Target: "/arena", Risk: 0.7, Cost: 10},
		{Name: "duel", Class: "combat", Target: "/arena", Risk: 0.6, Cost: 5},
		{Name: "train", Class: "progression", Target: "/gym", Risk: 0.1, Cost: 5},
		{Name: "quest", Class: "progression", Target: "/quests", Risk: 0.3, Cost: 0},
		{Name: "work_job", Class: "economy", Target: "/jobs", Risk: 0.05, Cost: 0},
		{Name: "gamble", Class: "economy", Target: "/casino", Risk: 0.9, Cost: 50},
		{Name: "buy_property", Class: "economy", Target: "/market", Risk: 0.2, Cost: 500},
		{Name: "bank_deposit", Class: "economy", Target: "/bank", Risk: 0.0, Cost: 0},
		{Name: "socialize", Class: "social", Target: "/tavern", Risk: 0.1, Cost: 0},
		{Name: "join_gang", Class: "social", Target: "/gangs", Risk: 0.4, Cost: 0},
		{Name: "travel", Class: "world", Target: "/map", Risk: 0.2, Cost: 2},
		{Name: "scavenge", Class: "world", Target: "/map", Risk: 0.5, Cost: 0},
		{Name: "craft", Class: "world", Target: "/workshop", Risk: 0.1, Cost: 20},
	}
}

// waitAction is the always-available no-op. It guarantees the decision engine
// never sees an empty candidate set.
func waitAction() schemas.Action {
	return schemas.Action{Name: "wait", Class: "idle", Risk: 0, Cost: 0}
}
