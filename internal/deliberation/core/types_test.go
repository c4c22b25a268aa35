package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())

	for _, state := range []SessionState{
		StateInitialized, StateAgentsAssigned, StateArgumentsPresented,
		StateEvidenceAggregated, StateDeliberation, StateConsensusForming,
		StateConsensusReached, StateDeadlocked, StateResolutionInProgress,
	} {
		assert.False(t, state.Terminal(), "state %s should not be terminal", state)
	}
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleMediator))
	assert.True(t, ValidRole(RoleProponent))
	assert.True(t, ValidRole(RoleOpponent))
	assert.True(t, ValidRole(RoleObserver))
	assert.False(t, ValidRole(Role("judge")))
	assert.False(t, ValidRole(Role("")))
}

func TestValidAlgorithm(t *testing.T) {
	assert.True(t, ValidAlgorithm(AlgorithmSimpleMajority))
	assert.True(t, ValidAlgorithm(AlgorithmWeightedMajority))
	assert.True(t, ValidAlgorithm(AlgorithmUnanimous))
	assert.True(t, ValidAlgorithm(AlgorithmSupermajority))
	assert.False(t, ValidAlgorithm(ConsensusAlgorithm("plurality")))
}

func TestSessionClone(t *testing.T) {
	end := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	sess := &Session{
		ID:    "sess-1",
		State: StateCompleted,
		Participants: []Participant{
			{AgentID: "a", Role: RoleProponent, Weight: 1, ArgumentIDs: []string{"arg-1"},
				Votes: []Vote{{AgentID: "a", Position: PositionFor, Confidence: 0.9}}},
			{AgentID: "b", Role: RoleOpponent, Weight: 2},
		},
		Arguments: []Argument{
			{ID: "arg-1", AgentID: "a", Claim: "claim", Evidence: []Evidence{{ID: "ev-1", Source: "s"}}},
		},
		Consensus:    &ConsensusResult{Reached: true, Outcome: OutcomeAccepted},
		ReasoningLog: []string{"line one"},
		EndTime:      &end,
	}

	clone := sess.Clone()
	require.NotSame(t, sess, clone)
	assert.Equal(t, sess, clone)

	t.Run("mutating the clone leaves the original untouched", func(t *testing.T) {
		clone.Participants[0].Votes = append(clone.Participants[0].Votes,
			Vote{AgentID: "a", Position: PositionAgainst})
		clone.Participants[0].ArgumentIDs[0] = "changed"
		clone.Arguments[0].Evidence[0].Source = "changed"
		clone.ReasoningLog = append(clone.ReasoningLog, "extra")
		clone.Consensus.Outcome = OutcomeRejected
		*clone.EndTime = clone.EndTime.Add(time.Hour)

		assert.Len(t, sess.Participants[0].Votes, 1)
		assert.Equal(t, "arg-1", sess.Participants[0].ArgumentIDs[0])
		assert.Equal(t, "s", sess.Arguments[0].Evidence[0].Source)
		assert.Len(t, sess.ReasoningLog, 1)
		assert.Equal(t, OutcomeAccepted, sess.Consensus.Outcome)
		assert.Equal(t, end, *sess.EndTime)
	})
}

func TestSessionParticipantLookup(t *testing.T) {
	sess := &Session{Participants: []Participant{{AgentID: "a"}, {AgentID: "b"}}}

	p, ok := sess.Participant("b")
	require.True(t, ok)
	assert.Equal(t, "b", p.AgentID)

	_, ok = sess.Participant("missing")
	assert.False(t, ok)
}

func TestSessionVotes(t *testing.T) {
	sess := &Session{Participants: []Participant{
		{AgentID: "a", Votes: []Vote{{AgentID: "a", Position: PositionFor}}},
		{AgentID: "b"},
		{AgentID: "c", Votes: []Vote{{AgentID: "c", Position: PositionAgainst}}},
	}}

	votes := sess.Votes()
	require.Len(t, votes, 2)
	assert.Equal(t, "a", votes[0].AgentID)
	assert.Equal(t, "c", votes[1].AgentID)
}

func TestVoteTallyTotal(t *testing.T) {
	tally := VoteTally{For: 2.5, Against: 1, Abstain: 0.5}
	assert.InDelta(t, 4.0, tally.Total(), 1e-9)
}

func TestAgentCapabilityAvailability(t *testing.T) {
	t.Run("availability is the unused load fraction", func(t *testing.T) {
		agent := AgentCapability{CurrentLoad: 1, MaxLoad: 4}
		agent.RecomputeAvailability()
		assert.InDelta(t, 0.75, agent.Availability, 1e-9)
	})

	t.Run("zero at or over capacity", func(t *testing.T) {
		agent := AgentCapability{CurrentLoad: 4, MaxLoad: 4}
		agent.RecomputeAvailability()
		assert.Zero(t, agent.Availability)

		agent = AgentCapability{CurrentLoad: 5, MaxLoad: 4}
		agent.RecomputeAvailability()
		assert.Zero(t, agent.Availability)
	})
}

func TestAgentCapabilityEligibleFor(t *testing.T) {
	agent := AgentCapability{Roles: []Role{RoleMediator, RoleObserver}}
	assert.True(t, agent.EligibleFor(RoleMediator))
	assert.True(t, agent.EligibleFor(RoleObserver))
	assert.False(t, agent.EligibleFor(RoleProponent))
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, 30*time.Minute, cfg.MaxDuration)
	assert.Equal(t, AlgorithmSimpleMajority, cfg.Algorithm)
	assert.Equal(t, DeadlockRevote, cfg.DeadlockStrategy)
	assert.Equal(t, 2, cfg.AppealPolicy.MaxAppealsPerAgent)
	assert.True(t, cfg.AppealPolicy.RequireMediatorReview)
}
