package sluice

import (
	"github.com/Resinat/Sluice/authority"
	"github.com/Resinat/Sluice/degrade"
	"github.com/Resinat/Sluice/flow"
	"github.com/Resinat/Sluice/hotspot"
	"github.com/Resinat/Sluice/system"
)

// Rule loading replaces the active set of a kind atomically; in-flight
// checks finish against the snapshot they started with.

// LoadFlowRules replaces the flow rule set.
func LoadFlowRules(rules []*flow.Rule) error { return flow.LoadRules(rules) }

// LoadDegradeRules replaces the circuit-breaker rule set.
func LoadDegradeRules(rules []*degrade.Rule) error { return degrade.LoadRules(rules) }

// LoadHotspotRules replaces the hot-parameter rule set.
func LoadHotspotRules(rules []*hotspot.Rule) error { return hotspot.LoadRules(rules) }

// LoadAuthorityRules replaces the authority rule set.
func LoadAuthorityRules(rules []*authority.Rule) error { return authority.LoadRules(rules) }

// LoadSystemRules replaces the system guard rule set.
func LoadSystemRules(rules []*system.Rule) error { return system.LoadRules(rules) }

// FlowRulesOfResource returns the active flow rules of one resource.
func FlowRulesOfResource(name string) []flow.Rule { return flow.GetRulesOfResource(name) }

// DegradeRulesOfResource returns the active circuit-breaker rules of one
// resource.
func DegradeRulesOfResource(name string) []degrade.Rule { return degrade.GetRulesOfResource(name) }

// HotspotRulesOfResource returns the active hot-parameter rules of one
// resource.
func HotspotRulesOfResource(name string) []hotspot.Rule { return hotspot.GetRulesOfResource(name) }

// AuthorityRulesOfResource returns the active authority rules of one
// resource.
func AuthorityRulesOfResource(name string) []authority.Rule {
	return authority.GetRulesOfResource(name)
}

// SystemRules returns the active system guard rules.
func SystemRules() []system.Rule { return system.GetRules() }
