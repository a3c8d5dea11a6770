package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/leads"
)

func texasLead() *leads.Lead {
	return &leads.Lead{
		ID:            "id-1",
		ULID:          "01JXEAD000000000000000000A",
		InsuranceType: "auto",
		Priority:      leads.PriorityHigh,
		State:         "TX",
		City:          "Austin",
	}
}

func texasAgent(ulid string) agents.Agent {
	return agents.Agent{
		ID:               ulid,
		ULID:             ulid,
		Name:             "Agent " + ulid,
		Specializations:  []string{"auto"},
		LicensedStates:   []string{"TX"},
		City:             "Austin",
		State:            "TX",
		Capacity:         10,
		ActiveLeads:      0,
		PerformanceScore: 0.9,
		QualityTier:      agents.TierPlatinum,
		IsActive:         true,
	}
}

func TestScorePerfectMatch(t *testing.T) {
	lead := texasLead()
	agent := texasAgent("01JAGENT0000000000000000AA")

	got := Score(agent, lead, DefaultWeights())
	// specialization 1.0, location 1.0, performance 0.9, workload 1.0, tier 1.0
	require.InDelta(t, 0.30+0.20+0.25*0.9+0.15+0.10, got.Score, 0.0001)
	require.Equal(t, 1.0, got.Factors.Specialization)
	require.Equal(t, 1.0, got.Factors.Tier)
}

func TestScoreLocationFactors(t *testing.T) {
	lead := texasLead()

	sameState := texasAgent("01JAGENT0000000000000000AA")
	sameState.City = "Houston"
	require.InDelta(t, 1.0, Score(sameState, lead, DefaultWeights()).Factors.Location, 0.0001)

	remote := texasAgent("01JAGENT0000000000000000AB")
	remote.State = "OK"
	remote.City = "Tulsa"
	require.InDelta(t, 0.7, Score(remote, lead, DefaultWeights()).Factors.Location, 0.0001)

	unlicensed := texasAgent("01JAGENT0000000000000000AC")
	unlicensed.State = "OK"
	unlicensed.LicensedStates = []string{"OK"}
	require.InDelta(t, 0.2, Score(unlicensed, lead, DefaultWeights()).Factors.Location, 0.0001)
}

func TestScoreAdjacentSpecialization(t *testing.T) {
	lead := texasLead() // auto

	adjacent := texasAgent("01JAGENT0000000000000000AA")
	adjacent.Specializations = []string{"home"}
	require.InDelta(t, 0.5, Score(adjacent, lead, DefaultWeights()).Factors.Specialization, 0.0001)

	unrelated := texasAgent("01JAGENT0000000000000000AB")
	unrelated.Specializations = []string{"health"}
	require.InDelta(t, 0.0, Score(unrelated, lead, DefaultWeights()).Factors.Specialization, 0.0001)
}

func TestScoreTierMisalignmentPenalized(t *testing.T) {
	lead := texasLead()
	lead.Priority = leads.PriorityLow

	platinum := texasAgent("01JAGENT0000000000000000AC")
	bronze := texasAgent("01JAGENT0000000000000000AD")
	bronze.QualityTier = agents.TierBronze

	pt := Score(platinum, lead, DefaultWeights())
	br := Score(bronze, lead, DefaultWeights())
	require.Greater(t, br.Factors.Tier, pt.Factors.Tier)
}

func TestEligibleFilters(t *testing.T) {
	lead := texasLead()

	active := texasAgent("01JAGENT0000000000000000AE")
	inactive := texasAgent("01JAGENT0000000000000000AF")
	inactive.IsActive = false
	full := texasAgent("01JAGENT0000000000000000AG")
	full.ActiveLeads = full.Capacity
	unlicensed := texasAgent("01JAGENT0000000000000000AH")
	unlicensed.LicensedStates = []string{"CA"}

	pool := []agents.Agent{active, inactive, full, unlicensed}
	eligible := Eligible(pool, lead)
	require.Len(t, eligible, 1)
	require.Equal(t, active.ULID, eligible[0].ULID)
}

func TestEligibleNoStateSkipsLicenseCheck(t *testing.T) {
	lead := texasLead()
	lead.State = ""

	unlicensed := texasAgent("01JAGENT0000000000000000AJ")
	unlicensed.LicensedStates = []string{"CA"}

	eligible := Eligible([]agents.Agent{unlicensed}, lead)
	require.Len(t, eligible, 1)
}

func TestRankOrdersBestFirst(t *testing.T) {
	lead := texasLead()

	best := texasAgent("01JAGENT0000000000000000AK")
	worse := texasAgent("01JAGENT0000000000000000AL")
	worse.PerformanceScore = 0.2
	worse.QualityTier = agents.TierBronze

	ranked := Rank([]agents.Agent{worse, best}, lead, DefaultWeights())
	require.Len(t, ranked, 2)
	require.Equal(t, best.ULID, ranked[0].Agent.ULID)
	require.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRankTieBreaksOnWorkloadThenULID(t *testing.T) {
	lead := texasLead()

	busy := texasAgent("01JAGENT0000000000000000AA")
	busy.ActiveLeads = 5
	idle := texasAgent("01JAGENT0000000000000000ZZ")

	ranked := Rank([]agents.Agent{busy, idle}, lead, DefaultWeights())
	require.Equal(t, idle.ULID, ranked[0].Agent.ULID)

	// Equal workload falls back to ULID order.
	idle2 := idle
	idle2.ULID = "01JAGENT0000000000000000BB"
	same := Rank([]agents.Agent{idle, idle2}, lead, DefaultWeights())
	require.Equal(t, idle2.ULID, same[0].Agent.ULID)
}
