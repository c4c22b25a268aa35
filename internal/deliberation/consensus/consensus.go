// Package consensus tallies votes under a configured algorithm and
// decides whether a binding resolution has been reached. It also
// answers whether the outstanding votes could still reach consensus,
// which the orchestrator uses for deadlock detection.
package consensus

import (
	"fmt"
	"math"

	"dev.helix.deliberation/internal/deliberation/core"
)

// Options configures a consensus round.
type Options struct {
	Algorithm              core.ConsensusAlgorithm `json:"algorithm"`
	MinParticipation       float64                 `json:"min_participation"`
	ConfidenceThreshold    float64                 `json:"confidence_threshold"`
	SupermajorityThreshold float64                 `json:"supermajority_threshold"`
}

// DefaultOptions returns sensible defaults: simple majority, half the
// participants voting, and the conventional two-thirds supermajority.
func DefaultOptions() Options {
	return Options{
		Algorithm:              core.AlgorithmSimpleMajority,
		MinParticipation:       0.5,
		ConfidenceThreshold:    0.5,
		SupermajorityThreshold: 0.67,
	}
}

func (o Options) supermajority() float64 {
	if o.SupermajorityThreshold <= 0 {
		return 0.67
	}
	return o.SupermajorityThreshold
}

// Form tallies the votes and produces a consensus result. The engine
// assumes one vote per agent per round; callers must not submit
// duplicates. Fails with a consensus-impossible error when
// participation falls short of the configured minimum.
func Form(sessionID string, votes []core.Vote, participants []core.Participant, opts Options, clock core.Clock) (*core.ConsensusResult, error) {
	if len(participants) == 0 {
		return nil, core.Errorf(core.ErrCodeConsensusImpossible, sessionID,
			"no participants to form consensus among")
	}

	participation := float64(uniqueVoters(votes)) / float64(len(participants))
	if participation < opts.MinParticipation {
		return nil, core.Errorf(core.ErrCodeConsensusImpossible, sessionID,
			"participation %.2f below required %.2f (%d of %d participants voted)",
			participation, opts.MinParticipation, uniqueVoters(votes), len(participants))
	}

	tally := Tally(votes, participants, opts.Algorithm)

	reached := false
	switch opts.Algorithm {
	case core.AlgorithmSimpleMajority, core.AlgorithmWeightedMajority:
		reached = tally.For > tally.Against && tally.For+tally.Against > 0
	case core.AlgorithmUnanimous:
		reached = tally.Against == 0 && tally.For > 0
	case core.AlgorithmSupermajority:
		if tally.For+tally.Against > 0 {
			reached = tally.For/(tally.For+tally.Against) >= opts.supermajority()
		}
	default:
		return nil, core.Errorf(core.ErrCodeValidation, sessionID,
			"unknown consensus algorithm %q", opts.Algorithm)
	}

	meanConfidence := meanVoteConfidence(votes)

	outcome := core.OutcomeRejected
	reasoning := fmt.Sprintf("%s: for=%.2f against=%.2f abstain=%.2f",
		opts.Algorithm, tally.For, tally.Against, tally.Abstain)
	if reached {
		outcome = core.OutcomeAccepted
		if meanConfidence < opts.ConfidenceThreshold {
			// Low voter confidence softens the outcome without
			// flipping the reached decision.
			outcome = core.OutcomeModified
			reasoning += fmt.Sprintf("; mean confidence %.2f below threshold %.2f, outcome softened",
				meanConfidence, opts.ConfidenceThreshold)
		}
	}

	return &core.ConsensusResult{
		Algorithm:  opts.Algorithm,
		Reached:    reached,
		Outcome:    outcome,
		Confidence: overallConfidence(meanConfidence, tally),
		Tally:      tally,
		Reasoning:  reasoning,
		Timestamp:  clock.Now(),
	}, nil
}

// Tally sums voter weight per position. Weight is the participant's
// configured weight only under the weighted-majority algorithm;
// every vote counts 1 otherwise.
func Tally(votes []core.Vote, participants []core.Participant, algorithm core.ConsensusAlgorithm) core.VoteTally {
	weightOf := func(agentID string) float64 {
		if algorithm != core.AlgorithmWeightedMajority {
			return 1
		}
		for i := range participants {
			if participants[i].AgentID == agentID {
				return participants[i].Weight
			}
		}
		return 1
	}

	tally := core.VoteTally{Voters: uniqueVoters(votes)}
	for _, v := range votes {
		w := weightOf(v.AgentID)
		switch v.Position {
		case core.PositionFor:
			tally.For += w
		case core.PositionAgainst:
			tally.Against += w
		case core.PositionAbstain:
			tally.Abstain += w
		}
	}
	return tally
}

// CanReach answers whether any assignment of the still-outstanding
// votes could satisfy the algorithm. Used by the orchestrator for early
// deadlock detection.
func CanReach(votes []core.Vote, participants []core.Participant, opts Options) bool {
	tally := Tally(votes, participants, opts.Algorithm)
	remaining := float64(len(participants) - uniqueVoters(votes))
	if remaining < 0 {
		remaining = 0
	}

	switch opts.Algorithm {
	case core.AlgorithmSimpleMajority, core.AlgorithmWeightedMajority:
		// Remaining voters could all vote for; weighted remaining
		// weight is approximated at 1 per outstanding voter.
		return tally.For+remaining > tally.Against
	case core.AlgorithmUnanimous:
		return tally.Against == 0
	case core.AlgorithmSupermajority:
		// Feasibility over total participants minus abstentions, not
		// votes cast so far. Known to overstate feasibility relative
		// to Form's tally; kept for parity with the observed behavior.
		abstains := 0
		for _, v := range votes {
			if v.Position == core.PositionAbstain {
				abstains++
			}
		}
		denominator := float64(len(participants) - abstains)
		if denominator <= 0 {
			return false
		}
		return (tally.For+remaining)/denominator >= opts.supermajority()
	}
	return false
}

// Statistics summarizes a set of votes.
type Statistics struct {
	TotalVotes           int                      `json:"total_votes"`
	MeanConfidence       float64                  `json:"mean_confidence"`
	ConfidenceStdDev     float64                  `json:"confidence_std_dev"`
	PositionDistribution map[core.Position]float64 `json:"position_distribution"`
}

// Stats computes summary statistics over the votes cast so far.
func Stats(votes []core.Vote) Statistics {
	stats := Statistics{
		TotalVotes:           len(votes),
		PositionDistribution: make(map[core.Position]float64),
	}
	if len(votes) == 0 {
		return stats
	}

	counts := make(map[core.Position]int)
	for _, v := range votes {
		counts[v.Position]++
	}
	for pos, count := range counts {
		stats.PositionDistribution[pos] = float64(count) / float64(len(votes))
	}

	stats.MeanConfidence = meanVoteConfidence(votes)

	var varianceSum float64
	for _, v := range votes {
		diff := v.Confidence - stats.MeanConfidence
		varianceSum += diff * diff
	}
	stats.ConfidenceStdDev = math.Sqrt(varianceSum / float64(len(votes)))

	return stats
}

func uniqueVoters(votes []core.Vote) int {
	seen := make(map[string]bool, len(votes))
	for _, v := range votes {
		seen[v.AgentID] = true
	}
	return len(seen)
}

func meanVoteConfidence(votes []core.Vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range votes {
		sum += v.Confidence
	}
	return sum / float64(len(votes))
}

// overallConfidence blends mean voter confidence with the normalized
// vote margin, clamped to at most 1.
func overallConfidence(meanConfidence float64, tally core.VoteTally) float64 {
	margin := 0.0
	if total := tally.Total(); total > 0 {
		margin = math.Abs(tally.For-tally.Against) / total
	}
	confidence := (meanConfidence + margin) / 2
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
