package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.deliberation/internal/deliberation/core"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

var testClock = fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

func participants(weights ...float64) []core.Participant {
	out := make([]core.Participant, len(weights))
	for i, w := range weights {
		out[i] = core.Participant{AgentID: agentID(i), Weight: w}
	}
	return out
}

func agentID(i int) string {
	return string(rune('a' + i))
}

func vote(agent string, position core.Position, confidence float64) core.Vote {
	return core.Vote{AgentID: agent, Position: position, Confidence: confidence}
}

func optsFor(algorithm core.ConsensusAlgorithm) Options {
	opts := DefaultOptions()
	opts.Algorithm = algorithm
	return opts
}

func TestFormSimpleMajority(t *testing.T) {
	opts := optsFor(core.AlgorithmSimpleMajority)

	t.Run("majority for reaches accepted", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionFor, 0.9),
			vote("b", core.PositionFor, 0.8),
			vote("c", core.PositionAgainst, 0.7),
		}, participants(1, 1, 1), opts, testClock)
		require.NoError(t, err)

		assert.True(t, result.Reached)
		assert.Equal(t, core.OutcomeAccepted, result.Outcome)
		assert.InDelta(t, 2, result.Tally.For, 1e-9)
		assert.InDelta(t, 1, result.Tally.Against, 1e-9)
		assert.Equal(t, 3, result.Tally.Voters)
	})

	t.Run("majority against is rejected", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionAgainst, 0.9),
			vote("b", core.PositionAgainst, 0.8),
			vote("c", core.PositionFor, 0.7),
		}, participants(1, 1, 1), opts, testClock)
		require.NoError(t, err)

		assert.False(t, result.Reached)
		assert.Equal(t, core.OutcomeRejected, result.Outcome)
	})

	t.Run("all abstain does not reach", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionAbstain, 0.5),
			vote("b", core.PositionAbstain, 0.5),
		}, participants(1, 1), opts, testClock)
		require.NoError(t, err)
		assert.False(t, result.Reached)
	})
}

// Three participants with weights 1, 1 and 2; the weight-2 participant
// votes for alongside one weight-1 voter.
func TestFormWeightedMajority(t *testing.T) {
	opts := optsFor(core.AlgorithmWeightedMajority)
	panel := participants(1, 1, 2)

	result, err := Form("sess", []core.Vote{
		vote("a", core.PositionFor, 0.8),
		vote("b", core.PositionAgainst, 0.8),
		vote("c", core.PositionFor, 0.9),
	}, panel, opts, testClock)
	require.NoError(t, err)

	assert.True(t, result.Reached)
	assert.Equal(t, core.OutcomeAccepted, result.Outcome)
	assert.InDelta(t, 3, result.Tally.For, 1e-9)
	assert.InDelta(t, 1, result.Tally.Against, 1e-9)

	t.Run("weight flips the outcome against the headcount", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionAgainst, 0.8),
			vote("b", core.PositionAgainst, 0.8),
			vote("c", core.PositionFor, 0.9),
		}, participants(1, 1, 3), opts, testClock)
		require.NoError(t, err)
		assert.True(t, result.Reached, "weight 3 for beats two weight-1 against")
	})
}

func TestFormUnanimous(t *testing.T) {
	opts := optsFor(core.AlgorithmUnanimous)

	t.Run("single against blocks consensus", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionFor, 0.9),
			vote("b", core.PositionFor, 0.9),
			vote("c", core.PositionAgainst, 0.6),
		}, participants(1, 1, 1), opts, testClock)
		require.NoError(t, err)
		assert.False(t, result.Reached)
	})

	t.Run("abstentions do not block", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionFor, 0.9),
			vote("b", core.PositionFor, 0.9),
			vote("c", core.PositionAbstain, 0.5),
		}, participants(1, 1, 1), opts, testClock)
		require.NoError(t, err)
		assert.True(t, result.Reached)
	})
}

func TestFormSupermajority(t *testing.T) {
	opts := optsFor(core.AlgorithmSupermajority)

	t.Run("three quarters reaches", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionFor, 0.8),
			vote("b", core.PositionFor, 0.8),
			vote("c", core.PositionFor, 0.8),
			vote("d", core.PositionAgainst, 0.8),
		}, participants(1, 1, 1, 1), opts, testClock)
		require.NoError(t, err)
		assert.True(t, result.Reached, "3/4 clears the 0.67 threshold")
	})

	t.Run("two thirds falls just short of 0.67", func(t *testing.T) {
		result, err := Form("sess", []core.Vote{
			vote("a", core.PositionFor, 0.8),
			vote("b", core.PositionFor, 0.8),
			vote("c", core.PositionAgainst, 0.8),
		}, participants(1, 1, 1), opts, testClock)
		require.NoError(t, err)
		assert.False(t, result.Reached)
	})
}

func TestFormParticipationGuard(t *testing.T) {
	opts := optsFor(core.AlgorithmSimpleMajority)

	_, err := Form("sess", []core.Vote{
		vote("a", core.PositionFor, 0.9),
	}, participants(1, 1, 1, 1), opts, testClock)

	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrCodeConsensusImpossible))

	t.Run("no participants at all", func(t *testing.T) {
		_, err := Form("sess", nil, nil, opts, testClock)
		assert.True(t, core.IsCode(err, core.ErrCodeConsensusImpossible))
	})

	t.Run("unknown algorithm is a validation error", func(t *testing.T) {
		_, err := Form("sess", []core.Vote{
			vote("a", core.PositionFor, 0.9),
			vote("b", core.PositionFor, 0.9),
		}, participants(1, 1), optsFor(core.ConsensusAlgorithm("plurality")), testClock)
		assert.True(t, core.IsCode(err, core.ErrCodeValidation))
	})
}

func TestFormLowConfidenceSoftensOutcome(t *testing.T) {
	opts := optsFor(core.AlgorithmSimpleMajority)

	result, err := Form("sess", []core.Vote{
		vote("a", core.PositionFor, 0.2),
		vote("b", core.PositionFor, 0.3),
	}, participants(1, 1), opts, testClock)
	require.NoError(t, err)

	assert.True(t, result.Reached, "low confidence never flips the reached decision")
	assert.Equal(t, core.OutcomeModified, result.Outcome)
	assert.Contains(t, result.Reasoning, "softened")
}

func TestFormConfidenceBounds(t *testing.T) {
	opts := optsFor(core.AlgorithmSimpleMajority)

	result, err := Form("sess", []core.Vote{
		vote("a", core.PositionFor, 1.0),
		vote("b", core.PositionFor, 1.0),
	}, participants(1, 1), opts, testClock)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9, "unanimous full-confidence vote maxes out")
}

func TestCanReach(t *testing.T) {
	t.Run("majority remains feasible while outstanding voters could flip it", func(t *testing.T) {
		opts := optsFor(core.AlgorithmSimpleMajority)
		votes := []core.Vote{
			vote("a", core.PositionAgainst, 0.8),
		}
		assert.True(t, CanReach(votes, participants(1, 1, 1), opts), "two outstanding for-votes would win")
		assert.False(t, CanReach([]core.Vote{
			vote("a", core.PositionAgainst, 0.8),
			vote("b", core.PositionAgainst, 0.8),
			vote("c", core.PositionAgainst, 0.8),
		}, participants(1, 1, 1), opts))
	})

	t.Run("unanimous is dead once any against exists", func(t *testing.T) {
		opts := optsFor(core.AlgorithmUnanimous)
		assert.False(t, CanReach([]core.Vote{vote("a", core.PositionAgainst, 0.5)}, participants(1, 1, 1), opts))
		assert.True(t, CanReach([]core.Vote{vote("a", core.PositionFor, 0.5)}, participants(1, 1, 1), opts))
	})

	t.Run("supermajority feasibility over total participants", func(t *testing.T) {
		opts := optsFor(core.AlgorithmSupermajority)
		votes := []core.Vote{
			vote("a", core.PositionAgainst, 0.8),
			vote("b", core.PositionAgainst, 0.8),
		}
		// 1 outstanding of 3 participants: (0+1)/3 < 0.67.
		assert.False(t, CanReach(votes, participants(1, 1, 1), opts))

		// With 7 participants, 5 outstanding: (0+5)/7 clears 0.67.
		assert.True(t, CanReach(votes, participants(1, 1, 1, 1, 1, 1, 1), opts))
	})
}

func TestStats(t *testing.T) {
	t.Run("empty votes", func(t *testing.T) {
		stats := Stats(nil)
		assert.Zero(t, stats.TotalVotes)
		assert.Zero(t, stats.MeanConfidence)
		assert.Empty(t, stats.PositionDistribution)
	})

	t.Run("distribution and moments", func(t *testing.T) {
		stats := Stats([]core.Vote{
			vote("a", core.PositionFor, 0.4),
			vote("b", core.PositionFor, 0.8),
			vote("c", core.PositionAgainst, 0.6),
			vote("d", core.PositionAbstain, 0.6),
		})

		assert.Equal(t, 4, stats.TotalVotes)
		assert.InDelta(t, 0.6, stats.MeanConfidence, 1e-9)
		assert.InDelta(t, 0.5, stats.PositionDistribution[core.PositionFor], 1e-9)
		assert.InDelta(t, 0.25, stats.PositionDistribution[core.PositionAgainst], 1e-9)
		assert.InDelta(t, 0.25, stats.PositionDistribution[core.PositionAbstain], 1e-9)
		assert.Greater(t, stats.ConfidenceStdDev, 0.0)
	})
}
