package routing

import (
	"fmt"
	"time"

	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/leads"
)

type Strategy string

const (
	StrategyTopScore    Strategy = "top_score"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyLeastLoaded Strategy = "least_loaded"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyTopScore, StrategyRoundRobin, StrategyLeastLoaded:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown routing strategy %q", s)
}

// Pick selects the winning agent from a ranked list according to the
// strategy. The ranked slice must be non-empty and sorted best-first.
//
// top_score takes the head. round_robin takes the least-recently-assigned
// agent among the eligible ranked set. least_loaded takes the lowest
// workload ratio, breaking ties on score.
func Pick(ranked []ScoredAgent, strategy Strategy) ScoredAgent {
	switch strategy {
	case StrategyRoundRobin:
		return pickRoundRobin(ranked)
	case StrategyLeastLoaded:
		return pickLeastLoaded(ranked)
	default:
		return ranked[0]
	}
}

func pickRoundRobin(ranked []ScoredAgent) ScoredAgent {
	best := ranked[0]
	bestAt := assignedAt(best.Agent)
	for _, sa := range ranked[1:] {
		at := assignedAt(sa.Agent)
		if at.Before(bestAt) {
			best = sa
			bestAt = at
		}
	}
	return best
}

func assignedAt(a agents.Agent) time.Time {
	if a.LastAssignedAt == nil {
		return time.Time{}
	}
	return *a.LastAssignedAt
}

func pickLeastLoaded(ranked []ScoredAgent) ScoredAgent {
	best := ranked[0]
	for _, sa := range ranked[1:] {
		if sa.Agent.WorkloadRatio() < best.Agent.WorkloadRatio() {
			best = sa
		}
	}
	return best
}

// Decision captures the outcome of one routing attempt.
type Decision struct {
	Lead     *leads.Lead
	Assigned *ScoredAgent
	Ranked   []ScoredAgent
	Strategy Strategy
	Reason   string
}
