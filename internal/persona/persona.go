// Package persona models the static trait vectors that shape how a simulated
// user behaves. Profiles are immutable once constructed; variant testing
// clones a profile with overridden traits instead of mutating it.
package persona

import (
	"fmt"
	"math"
	"sort"
)

// Archetype is the closed set of built-in behavioral templates.
type Archetype string

const (
	ArchetypeGrinder    Archetype = "grinder"
	ArchetypeSocial     Archetype = "social"
	ArchetypeExplorer   Archetype = "explorer"
	ArchetypeCombat     Archetype = "combat"
	ArchetypeEconomist  Archetype = "economist"
	ArchetypeCriminal   Archetype = "criminal"
	ArchetypeRoleplayer Archetype = "roleplayer"
	ArchetypeChaos      Archetype = "chaos"
)

// Trait names accepted by Clone overrides and config trait_overrides.
const (
	TraitRiskTolerance = "risk_tolerance"
	TraitSociability   = "sociability"
	TraitPatience      = "patience"
	TraitGreed         = "greed"
	TraitAggression    = "aggression"
	TraitLoyalty       = "loyalty"
	TraitCuriosity     = "curiosity"
)

// Traits is the seven-scalar vector, each value in [0.0, 1.0].
type Traits struct {
	RiskTolerance float64 `json:"risk_tolerance"`
	Sociability   float64 `json:"sociability"`
	Patience      float64 `json:"patience"`
	Greed         float64 `json:"greed"`
	Aggression    float64 `json:"aggression"`
	Loyalty       float64 `json:"loyalty"`
	Curiosity     float64 `json:"curiosity"`
}

// Profile is one agent's personality. Treat as read-only after construction.
type Profile struct {
	Archetype Archetype `json:"archetype"`
	Traits    Traits    `json:"traits"`
}

// defaultTraits is the built-in template table. Loaded once at process start
// and never mutated; New copies out of it.
var defaultTraits = map[Archetype]Traits{
	ArchetypeGrinder:    {RiskTolerance: 0.2, Sociability: 0.3, Patience: 0.9, Greed: 0.6, Aggression: 0.3, Loyalty: 0.7, Curiosity: 0.2},
	ArchetypeSocial:     {RiskTolerance: 0.3, Sociability: 0.95, Patience: 0.6, Greed: 0.3, Aggression: 0.2, Loyalty: 0.8, Curiosity: 0.5},
	ArchetypeExplorer:   {RiskTolerance: 0.6, Sociability: 0.4, Patience: 0.5, Greed: 0.3, Aggression: 0.3, Loyalty: 0.4, Curiosity: 0.95},
	ArchetypeCombat:     {RiskTolerance: 0.8, Sociability: 0.3, Patience: 0.3, Greed: 0.4, Aggression: 0.9, Loyalty: 0.5, Curiosity: 0.4},
	ArchetypeEconomist:  {RiskTolerance: 0.3, Sociability: 0.5, Patience: 0.8, Greed: 0.9, Aggression: 0.2, Loyalty: 0.5, Curiosity: 0.4},
	ArchetypeCriminal:   {RiskTolerance: 0.9, Sociability: 0.4, Patience: 0.2, Greed: 0.8, Aggression: 0.7, Loyalty: 0.3, Curiosity: 0.5},
	ArchetypeRoleplayer: {RiskTolerance: 0.4, Sociability: 0.8, Patience: 0.7, Greed: 0.2, Aggression: 0.3, Loyalty: 0.9, Curiosity: 0.6},
	ArchetypeChaos:      {RiskTolerance: 0.95, Sociability: 0.5, Patience: 0.1, Greed: 0.5, Aggression: 0.6, Loyalty: 0.1, Curiosity: 0.8},
}

// Archetypes returns the closed archetype set in stable order.
func Archetypes() []Archetype {
	out := make([]Archetype, 0, len(defaultTraits))
	for a := range defaultTraits {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds a profile from an archetype template, applying any trait
// overrides. Unknown archetypes and out-of-range overrides are rejected.
func New(archetype Archetype, overrides map[string]float64) (*Profile, error) {
	traits, ok := defaultTraits[archetype]
	if !ok {
		return nil, fmt.Errorf("unknown personality archetype %q", archetype)
	}
	p := &Profile{Archetype: archetype, Traits: traits}
	if len(overrides) == 0 {
		return p, nil
	}
	return p.Clone(overrides)
}

// Clone returns a copy of the profile with the given traits overridden.
// The receiver is left untouched.
func (p *Profile) Clone(overrides map[string]float64) (*Profile, error) {
	out := &Profile{Archetype: p.Archetype, Traits: p.Traits}
	for name, value := range overrides {
		if value < 0 || value > 1 || math.IsNaN(value) {
			return nil, fmt.Errorf("trait %q must be in [0.0, 1.0], got %v", name, value)
		}
		switch name {
		case TraitRiskTolerance:
			out.Traits.RiskTolerance = value
		case TraitSociability:
			out.Traits.Sociability = value
		case TraitPatience:
			out.Traits.Patience = value
		case TraitGreed:
			out.Traits.Greed = value
		case TraitAggression:
			out.Traits.Aggression = value
		case TraitLoyalty:
			out.Traits.Loyalty = value
		case TraitCuriosity:
			out.Traits.Curiosity = value
		default:
			return nil, fmt.Errorf("unknown trait %q", name)
		}
	}
	return out, nil
}

// Trait returns a trait scalar by name, or 0 for unknown names.
func (p *Profile) Trait(name string) float64 {
	switch name {
	case TraitRiskTolerance:
		return p.Traits.RiskTolerance
	case TraitSociability:
		return p.Traits.Sociability
	case TraitPatience:
		return p.Traits.Patience
	case TraitGreed:
		return p.Traits.Greed
	case TraitAggression:
		return p.Traits.Aggression
	case TraitLoyalty:
		return p.Traits.Loyalty
	case TraitCuriosity:
		return p.Traits.Curiosity
	}
	return 0
}

// Multiplier derives the score multiplier applied after the weighted terms
// are summed. Impulsive, curious personalities push scores slightly apart;
// patient ones flatten them.
func (p *Profile) Multiplier() float64 {
	return 0.85 + 0.2*p.Traits.Curiosity + 0.1*(1.0-p.Traits.Patience)
}
