package goals

import (
	"time"

	"github.com/xkilldash9x/stampede/internal/persona"
)

// Template seeds one goal at agent initialization or as a chained follow-up.
type Template struct {
	Type         Type
	Name         string
	Description  string
	Target       float64
	BasePriority int
	// DeadlineIn, when non-zero, sets a deadline relative to creation.
	DeadlineIn time.Duration
}

// DefaultTemplates returns the personality-specific goal seed table. The
// table is built fresh per call so callers can never share mutable state.
func DefaultTemplates() map[persona.Archetype][]Template {
	common := Template{Type: TypeLevelUp, Name: "Find your footing", Description: "Reach level 5", Target: 5, BasePriority: 5}

	return map[persona.Archetype][]Template{
		persona.ArchetypeGrinder: {
			common,
			{Type: TypeMaxSkill, Name: "Hone a craft", Description: "Push any skill to 50", Target: 50, BasePriority: 7},
			{Type: TypeCompleteQuest, Name: "Steady work", Description: "Finish 10 quests", Target: 10, BasePriority: 6},
		},
		persona.ArchetypeSocial: {
			common,
			{Type: TypeMakeFriends, Name: "Build a circle", Description: "Befriend 5 players", Target: 5, BasePriority: 8},
			{Type: TypeJoinGang, Name: "Find a crew", Description: "Join any gang", Target: 1, BasePriority: 7},
		},
		persona.ArchetypeExplorer: {
			common,
			{Type: TypeExplore, Name: "See the map", Description: "Visit 8 areas", Target: 8, BasePriority: 8},
			{Type: TypeUnlockLocation, Name: "Off the beaten path", Description: "Unlock 3 locations", Target: 3, BasePriority: 6},
		},
		persona.ArchetypeCombat: {
			common,
			{Type: TypeWinDuels, Name: "Prove yourself", Description: "Win 5 duels", Target: 5, BasePriority: 9},
			{Type: TypeDefeatBoss, Name: "Big game", Description: "Defeat a boss", Target: 1, BasePriority: 6},
		},
		persona.ArchetypeEconomist: {
			common,
			{Type: TypeEarnGold, Name: "Seed capital", Description: "Bank 10000 gold", Target: 10000, BasePriority: 9},
			{Type: TypeBuyProperty, Name: "Own the block", Description: "Buy 2 properties", Target: 2, BasePriority: 6},
		},
		persona.ArchetypeCriminal: {
			common,
			{Type: TypeEarnGold, Name: "Fast money", Description: "Hold 5000 gold", Target: 5000, BasePriority: 8, DeadlineIn: 2 * time.Hour},
			{Type: TypeJoinGang, Name: "Get connected", Description: "Join any gang", Target: 1, BasePriority: 7},
		},
		persona.ArchetypeRoleplayer: {
			common,
			{Type: TypeAchieveRank, Name: "Earn a title", Description: "Reach rank 3", Target: 3, BasePriority: 7},
			{Type: TypeCraftItem, Name: "A signature piece", Description: "Craft 5 items", Target: 5, BasePriority: 6},
		},
		persona.ArchetypeChaos: {
			common,
			{Type: TypeExplore, Name: "Anywhere but here", Description: "Visit 10 areas", Target: 10, BasePriority: 7},
			{Type: TypeWinDuels, Name: "Pick fights", Description: "Win 3 duels", Target: 3, BasePriority: 7},
			{Type: TypeCollectItems, Name: "Magpie", Description: "Collect 20 items", Target: 20, BasePriority: 5},
		},
	}
}

// DefaultActionMap returns the static action -> goal-type table behind
// Contributes. Built fresh per call; treat as immutable once handed to a
// Manager.
func DefaultActionMap() map[string][]Type {
	return map[string][]Type{
		"attack":       {TypeWinDuels, TypeDefeatBoss},
		"duel":         {TypeWinDuels},
		"train":        {TypeLevelUp, TypeMaxSkill},
		"work_job":     {TypeEarnGold, TypeLevelUp},
		"gamble":       {TypeEarnGold},
		"quest":        {TypeCompleteQuest, TypeLevelUp},
		"travel":       {TypeExplore, TypeUnlockLocation},
		"craft":        {TypeCraftItem, TypeCollectItems},
		"socialize":    {TypeMakeFriends, TypeJoinGang},
		"join_gang":    {TypeJoinGang, TypeAchieveRank},
		"buy_property": {TypeBuyProperty},
		"bank_deposit": {TypeEarnGold},
		"scavenge":     {TypeCollectItems, TypeExplore},
	}
}

// traitAffinity names the personality trait each goal type resonates with.
// Priority recomputation adds a bonus scaled by the trait value.
var traitAffinity = map[Type]string{
	TypeLevelUp:        persona.TraitPatience,
	TypeEarnGold:       persona.TraitGreed,
	TypeJoinGang:       persona.TraitLoyalty,
	TypeMaxSkill:       persona.TraitPatience,
	TypeCompleteQuest:  persona.TraitPatience,
	TypeWinDuels:       persona.TraitAggression,
	TypeUnlockLocation: persona.TraitCuriosity,
	TypeCraftItem:      persona.TraitPatience,
	TypeMakeFriends:    persona.TraitSociability,
	TypeExplore:        persona.TraitCuriosity,
	TypeBuyProperty:    persona.TraitGreed,
	TypeAchieveRank:    persona.TraitLoyalty,
	TypeCollectItems:   persona.TraitGreed,
	TypeDefeatBoss:     persona.TraitAggression,
}

// chainFor returns the follow-up templates spawned when a goal of the given
// type completes. Deterministic: same completion, same chain.
func chainFor(g Goal) []Template {
	switch g.Type {
	case TypeLevelUp:
		return []Template{{
			Type: TypeLevelUp, Name: "Keep climbing",
			Description: "Push the level higher", Target: g.Target * 2, BasePriority: g.BasePriority,
		}}
	case TypeEarnGold:
		return []Template{{
			Type: TypeBuyProperty, Name: "Put gold to work",
			Description: "Buy a property with the savings", Target: 1, BasePriority: g.BasePriority,
		}}
	case TypeJoinGang:
		return []Template{{
			Type: TypeAchieveRank, Name: "Move up the ranks",
			Description: "Reach rank 3 in the gang", Target: 3, BasePriority: g.BasePriority,
		}}
	case TypeCompleteQuest:
		return []Template{{
			Type: TypeCompleteQuest, Name: "More work",
			Description: "Finish another batch of quests", Target: g.Target + 10, BasePriority: g.BasePriority - 1,
		}}
	case TypeWinDuels:
		return []Template{{
			Type: TypeDefeatBoss, Name: "A worthy opponent",
			Description: "Take on a boss", Target: 1, BasePriority: g.BasePriority,
		}}
	case TypeExplore:
		return []Template{{
			Type: TypeUnlockLocation, Name: "Push the frontier",
			Description: "Unlock somewhere new", Target: g.Target/2 + 1, BasePriority: g.BasePriority - 1,
		}}
	}
	return nil
}
