// Package routing ranks eligible agents for a lead and records the outcome
// of each assignment decision.
package routing

import (
	"sort"
	"strings"

	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/leads"
)

// Weights control the relative contribution of each scoring factor.
// They must sum to 1.0; config validation enforces that at startup.
type Weights struct {
	Specialization float64
	Location       float64
	Performance    float64
	Workload       float64
	Tier           float64
}

func DefaultWeights() Weights {
	return Weights{
		Specialization: 0.30,
		Location:       0.20,
		Performance:    0.25,
		Workload:       0.15,
		Tier:           0.10,
	}
}

// ScoredAgent pairs an agent with its composite score and the per-factor
// breakdown kept for assignment audit records.
type ScoredAgent struct {
	Agent   agents.Agent
	Score   float64
	Factors Factors
}

type Factors struct {
	Specialization float64 `json:"specialization"`
	Location       float64 `json:"location"`
	Performance    float64 `json:"performance"`
	Workload       float64 `json:"workload"`
	Tier           float64 `json:"tier"`
}

// tierValue maps quality tiers onto [0.25, 1.0].
func tierValue(tier agents.QualityTier) float64 {
	switch tier {
	case agents.TierPlatinum:
		return 1.0
	case agents.TierGold:
		return 0.75
	case agents.TierSilver:
		return 0.5
	default:
		return 0.25
	}
}

// leadTierTarget maps lead priority to the tier level the lead deserves.
// Tier alignment rewards agents whose tier matches the target and
// penalizes over-assigning platinum agents to low-priority leads.
func leadTierTarget(priority leads.Priority) float64 {
	switch priority {
	case leads.PriorityHigh:
		return 1.0
	case leads.PriorityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// adjacentLines maps each line of business to related lines an agent
// specialized in one can competently handle.
var adjacentLines = map[string][]string{
	"auto":       {"home", "commercial"},
	"home":       {"auto", "life"},
	"life":       {"home", "health"},
	"health":     {"life"},
	"commercial": {"auto"},
}

func specializationScore(agent agents.Agent, insuranceType string) float64 {
	if insuranceType == "" {
		return 0.5
	}
	for _, sp := range agent.Specializations {
		if sp == insuranceType {
			return 1.0
		}
	}
	for _, adjacent := range adjacentLines[insuranceType] {
		for _, sp := range agent.Specializations {
			if sp == adjacent {
				return 0.5
			}
		}
	}
	return 0
}

func locationScore(agent agents.Agent, lead *leads.Lead) float64 {
	if lead.State == "" {
		return 0.5
	}
	if strings.EqualFold(agent.State, lead.State) {
		return 1.0
	}
	// Licensed but remote still beats nothing.
	if agent.LicensedIn(strings.ToUpper(lead.State)) {
		return 0.7
	}
	return 0.2
}

func tierAlignmentScore(agent agents.Agent, lead *leads.Lead) float64 {
	target := leadTierTarget(lead.Priority)
	actual := tierValue(agent.QualityTier)
	diff := actual - target
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - diff
}

// Score computes the weighted composite for one agent against one lead.
func Score(agent agents.Agent, lead *leads.Lead, w Weights) ScoredAgent {
	f := Factors{
		Specialization: specializationScore(agent, lead.InsuranceType),
		Location:       locationScore(agent, lead),
		Performance:    agent.PerformanceScore,
		Workload:       1.0 - agent.WorkloadRatio(),
		Tier:           tierAlignmentScore(agent, lead),
	}
	score := w.Specialization*f.Specialization +
		w.Location*f.Location +
		w.Performance*f.Performance +
		w.Workload*f.Workload +
		w.Tier*f.Tier
	return ScoredAgent{Agent: agent, Score: score, Factors: f}
}

// Eligible filters the pool: active agents below capacity, licensed for
// the lead's state when the lead has one.
func Eligible(pool []agents.Agent, lead *leads.Lead) []agents.Agent {
	out := make([]agents.Agent, 0, len(pool))
	for _, a := range pool {
		if !a.IsActive || a.AtCapacity() {
			continue
		}
		if lead.State != "" && !a.LicensedIn(strings.ToUpper(lead.State)) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Rank scores every eligible agent and sorts best-first. Ties break on
// lower workload, then ULID for determinism.
func Rank(pool []agents.Agent, lead *leads.Lead, w Weights) []ScoredAgent {
	scored := make([]ScoredAgent, 0, len(pool))
	for _, a := range Eligible(pool, lead) {
		scored = append(scored, Score(a, lead, w))
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		wi, wj := scored[i].Agent.WorkloadRatio(), scored[j].Agent.WorkloadRatio()
		if wi != wj {
			return wi < wj
		}
		return scored[i].Agent.ULID < scored[j].Agent.ULID
	})
	return scored
}
