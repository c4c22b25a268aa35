package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dev.helix.deliberation/internal/deliberation/appeals"
	"dev.helix.deliberation/internal/deliberation/argument"
	"dev.helix.deliberation/internal/deliberation/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestOrchestrator(config Config) (*Orchestrator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	o := NewWithDeps(config, nil, nil, nil, quietLogger(), clock, &seqIDs{})
	return o, clock
}

func panel() []core.Participant {
	return []core.Participant{
		{AgentID: "med-1", Role: core.RoleMediator, Weight: 1},
		{AgentID: "pro-1", Role: core.RoleProponent, Weight: 1},
		{AgentID: "opp-1", Role: core.RoleOpponent, Weight: 1},
		{AgentID: "obs-1", Role: core.RoleObserver, Weight: 1},
	}
}

func argInput(agentID, claim string) argument.Input {
	return argument.Input{
		AgentID:   agentID,
		Claim:     claim,
		Reasoning: "because the rollout data supports it, therefore it should proceed",
		Evidence: []core.Evidence{
			{Source: "rollout-report", Content: "error rate held at 0.1% across the canary", Credibility: 0.8},
		},
	}
}

func vote(agentID string, position core.Position, confidence float64) core.Vote {
	return core.Vote{AgentID: agentID, Position: position, Confidence: confidence}
}

func TestInitiateDebate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a session with agents assigned", func(t *testing.T) {
		o, clock := newTestOrchestrator(DefaultConfig())

		sess, err := o.InitiateDebate(ctx, "adopt the new cache layer", panel())
		require.NoError(t, err)

		assert.Equal(t, "id-1", sess.ID)
		assert.Equal(t, core.StateAgentsAssigned, sess.State)
		assert.Equal(t, "adopt the new cache layer", sess.Config.Topic)
		assert.Equal(t, clock.now, sess.StartTime)
		assert.Len(t, sess.Participants, 4)

		stored, err := o.GetSession(sess.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StateAgentsAssigned, stored.State)
	})

	t.Run("rejects invalid debates", func(t *testing.T) {
		o, _ := newTestOrchestrator(DefaultConfig())

		_, err := o.InitiateDebate(ctx, "", panel())
		assert.True(t, core.IsCode(err, core.ErrCodeValidation), "empty topic")

		_, err = o.InitiateDebate(ctx, "t", panel()[:1])
		assert.True(t, core.IsCode(err, core.ErrCodeCapacity), "below minimum")

		crowd := make([]core.Participant, 11)
		for i := range crowd {
			crowd[i] = core.Participant{AgentID: fmt.Sprintf("agent-%d", i), Weight: 1}
		}
		_, err = o.InitiateDebate(ctx, "t", crowd)
		assert.True(t, core.IsCode(err, core.ErrCodeCapacity), "above maximum")

		dup := panel()
		dup[1].AgentID = dup[0].AgentID
		_, err = o.InitiateDebate(ctx, "t", dup)
		assert.True(t, core.IsCode(err, core.ErrCodeValidation), "duplicate participant")

		blank := panel()
		blank[2].AgentID = ""
		_, err = o.InitiateDebate(ctx, "t", blank)
		assert.True(t, core.IsCode(err, core.ErrCodeValidation), "blank agent id")
	})
}

func TestDebateLifecycle(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(DefaultConfig())

	sess, err := o.InitiateDebate(ctx, "migrate the queue to the new broker", panel())
	require.NoError(t, err)

	arg, err := o.SubmitArgument(ctx, sess.ID, argInput("pro-1", "the new broker halves delivery latency"))
	require.NoError(t, err)
	assert.NotEmpty(t, arg.ID)
	assert.Greater(t, arg.Credibility, 0.0)

	_, err = o.SubmitArgument(ctx, sess.ID, argInput("opp-1", "the migration risks message loss during cutover"))
	require.NoError(t, err)

	stored, err := o.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateArgumentsPresented, stored.State)
	assert.Len(t, stored.Arguments, 2)

	summary, report, err := o.AggregateEvidence(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalEvidence)
	assert.True(t, report.Acceptable)

	stored, err = o.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateDeliberation, stored.State)

	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("med-1", core.PositionFor, 0.9)))
	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("pro-1", core.PositionFor, 0.8)))
	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("opp-1", core.PositionAgainst, 0.7)))
	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("obs-1", core.PositionFor, 0.6)))

	result, err := o.FormConsensus(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, result.Reached)
	assert.Equal(t, core.OutcomeAccepted, result.Outcome)

	stored, err = o.GetSession(sess.ID)
	require.NoError(t, err)
	appeal, err := o.Appeals().SubmitAppeal(stored, appeals.Request{
		AgentID: "opp-1",
		Reason:  "the cutover risk was never addressed",
	})
	require.NoError(t, err)
	require.NoError(t, o.Appeals().ReviewAppeal(stored, appeal.ID, "med-1", core.RecommendUphold, "risk was weighed"))
	_, err = o.Appeals().FinalizeAppeal(sess.ID, appeal.ID, core.RecommendUphold)
	require.NoError(t, err)

	outcome, err := o.Outcome(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, outcome.State)
	require.NotNil(t, outcome.Consensus)
	require.Len(t, outcome.Appeals, 1, "the report carries appeal outcomes alongside the consensus")
	assert.Equal(t, appeal.ID, outcome.Appeals[0].ID)
	assert.NotEmpty(t, outcome.ReasoningLog)

	require.NoError(t, o.CloseDebate(sess.ID))
	_, err = o.GetSession(sess.ID)
	assert.True(t, core.IsCode(err, core.ErrCodeNotFound))
	assert.Empty(t, o.Appeals().AppealsFor(sess.ID), "closing the debate drops its appeal records")
}

func TestSubmitArgument(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Orchestrator, string) {
		t.Helper()
		o, _ := newTestOrchestrator(DefaultConfig())
		sess, err := o.InitiateDebate(ctx, "argument intake", panel())
		require.NoError(t, err)
		return o, sess.ID
	}

	t.Run("non-participants are rejected", func(t *testing.T) {
		o, id := setup(t)
		_, err := o.SubmitArgument(ctx, id, argInput("outsider", "claim"))
		assert.True(t, core.IsCode(err, core.ErrCodePermission))
	})

	t.Run("structural failures carry the session id", func(t *testing.T) {
		o, id := setup(t)
		_, err := o.SubmitArgument(ctx, id, argument.Input{AgentID: "pro-1"})
		require.True(t, core.IsCode(err, core.ErrCodeValidation))
		assert.Contains(t, err.Error(), id)
	})

	t.Run("rejected once deliberation opens", func(t *testing.T) {
		o, id := setup(t)
		_, err := o.SubmitArgument(ctx, id, argInput("pro-1", "initial claim"))
		require.NoError(t, err)
		_, _, err = o.AggregateEvidence(ctx, id)
		require.NoError(t, err)

		_, err = o.SubmitArgument(ctx, id, argInput("opp-1", "too late"))
		assert.True(t, core.IsCode(err, core.ErrCodeInvalidState))
	})

	t.Run("unknown session", func(t *testing.T) {
		o, _ := newTestOrchestrator(DefaultConfig())
		_, err := o.SubmitArgument(ctx, "missing", argInput("pro-1", "claim"))
		assert.True(t, core.IsCode(err, core.ErrCodeNotFound))
	})
}

func TestSubmitVote(t *testing.T) {
	ctx := context.Background()

	deliberating := func(t *testing.T) (*Orchestrator, string) {
		t.Helper()
		o, _ := newTestOrchestrator(DefaultConfig())
		sess, err := o.InitiateDebate(ctx, "vote intake", panel())
		require.NoError(t, err)
		_, err = o.SubmitArgument(ctx, sess.ID, argInput("pro-1", "the change is safe"))
		require.NoError(t, err)
		_, _, err = o.AggregateEvidence(ctx, sess.ID)
		require.NoError(t, err)
		return o, sess.ID
	}

	t.Run("first vote opens consensus forming", func(t *testing.T) {
		o, id := deliberating(t)
		require.NoError(t, o.SubmitVote(ctx, id, vote("med-1", core.PositionFor, 0.9)))

		sess, err := o.GetSession(id)
		require.NoError(t, err)
		assert.Equal(t, core.StateConsensusForming, sess.State)
		require.Len(t, sess.Votes(), 1)
	})

	t.Run("confidence must sit in the unit interval", func(t *testing.T) {
		o, id := deliberating(t)
		err := o.SubmitVote(ctx, id, vote("med-1", core.PositionFor, 1.2))
		assert.True(t, core.IsCode(err, core.ErrCodeValidation))
	})

	t.Run("non-participants cannot vote", func(t *testing.T) {
		o, id := deliberating(t)
		err := o.SubmitVote(ctx, id, vote("outsider", core.PositionFor, 0.5))
		assert.True(t, core.IsCode(err, core.ErrCodePermission))
	})

	t.Run("rejected before deliberation", func(t *testing.T) {
		o, _ := newTestOrchestrator(DefaultConfig())
		sess, err := o.InitiateDebate(ctx, "early vote", panel())
		require.NoError(t, err)
		err = o.SubmitVote(ctx, sess.ID, vote("med-1", core.PositionFor, 0.5))
		assert.True(t, core.IsCode(err, core.ErrCodeInvalidState))
	})
}

func TestDebateExpiry(t *testing.T) {
	ctx := context.Background()
	o, clock := newTestOrchestrator(DefaultConfig())

	sess, err := o.InitiateDebate(ctx, "slow debate", panel())
	require.NoError(t, err)

	clock.Advance(31 * time.Minute) // past the 30 minute default

	_, err = o.SubmitArgument(ctx, sess.ID, argInput("pro-1", "stale claim"))
	assert.True(t, core.IsCode(err, core.ErrCodeTimeout))
}

// deadlockedDebate drives a unanimous-consensus debate into deadlock:
// a single dissenting vote makes unanimity unreachable no matter how
// the outstanding votes land.
func deadlockedDebate(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	ctx := context.Background()

	config := DefaultConfig()
	config.Session.Algorithm = core.AlgorithmUnanimous
	o, _ := newTestOrchestrator(config)

	sess, err := o.InitiateDebate(ctx, "unanimity required", panel())
	require.NoError(t, err)
	_, err = o.SubmitArgument(ctx, sess.ID, argInput("pro-1", "everyone must agree"))
	require.NoError(t, err)
	_, _, err = o.AggregateEvidence(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("med-1", core.PositionFor, 0.9)))
	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("pro-1", core.PositionFor, 0.8)))
	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("opp-1", core.PositionAgainst, 0.8)))
	require.NoError(t, o.SubmitVote(ctx, sess.ID, vote("obs-1", core.PositionFor, 0.6)))

	result, err := o.FormConsensus(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, result.Reached)

	stored, err := o.GetSession(sess.ID)
	require.NoError(t, err)
	require.Equal(t, core.StateDeadlocked, stored.State)
	return o, sess.ID
}

func TestDeadlockDetection(t *testing.T) {
	deadlockedDebate(t)
}

func TestResolveDeadlock(t *testing.T) {
	ctx := context.Background()

	t.Run("revote clears votes and reopens consensus forming", func(t *testing.T) {
		o, id := deadlockedDebate(t)

		sess, err := o.ResolveDeadlock(ctx, id, core.DeadlockRevote)
		require.NoError(t, err)
		assert.Equal(t, core.StateConsensusForming, sess.State)
		assert.Empty(t, sess.Votes())

		// The fresh round can now converge.
		require.NoError(t, o.SubmitVote(ctx, id, vote("med-1", core.PositionFor, 0.9)))
		require.NoError(t, o.SubmitVote(ctx, id, vote("pro-1", core.PositionFor, 0.8)))
		require.NoError(t, o.SubmitVote(ctx, id, vote("opp-1", core.PositionFor, 0.7)))
		require.NoError(t, o.SubmitVote(ctx, id, vote("obs-1", core.PositionFor, 0.6)))

		result, err := o.FormConsensus(ctx, id)
		require.NoError(t, err)
		assert.True(t, result.Reached)
	})

	t.Run("mediator decision adopts a modified outcome", func(t *testing.T) {
		o, id := deadlockedDebate(t)

		sess, err := o.ResolveDeadlock(ctx, id, core.DeadlockMediatorDecision)
		require.NoError(t, err)
		assert.Equal(t, core.StateCompleted, sess.State)
		require.NotNil(t, sess.Consensus)
		assert.Equal(t, core.OutcomeModified, sess.Consensus.Outcome)
		assert.InDelta(t, 0.9, sess.Consensus.Confidence, 1e-9, "carries the mediator's confidence")
	})

	t.Run("abort fails the debate", func(t *testing.T) {
		o, id := deadlockedDebate(t)

		sess, err := o.ResolveDeadlock(ctx, id, core.DeadlockAbort)
		require.NoError(t, err)
		assert.Equal(t, core.StateFailed, sess.State)
	})

	t.Run("empty strategy falls back to the session default", func(t *testing.T) {
		o, id := deadlockedDebate(t) // default strategy is revote

		sess, err := o.ResolveDeadlock(ctx, id, "")
		require.NoError(t, err)
		assert.Equal(t, core.StateConsensusForming, sess.State)
	})

	t.Run("unknown strategy leaves the session deadlocked", func(t *testing.T) {
		o, id := deadlockedDebate(t)

		_, err := o.ResolveDeadlock(ctx, id, "coin_flip")
		assert.True(t, core.IsCode(err, core.ErrCodeValidation))

		sess, err := o.GetSession(id)
		require.NoError(t, err)
		assert.Equal(t, core.StateDeadlocked, sess.State)
	})

	t.Run("only deadlocked debates can be resolved", func(t *testing.T) {
		o, _ := newTestOrchestrator(DefaultConfig())
		sess, err := o.InitiateDebate(ctx, "healthy debate", panel())
		require.NoError(t, err)

		_, err = o.ResolveDeadlock(ctx, sess.ID, core.DeadlockRevote)
		assert.True(t, core.IsCode(err, core.ErrCodeInvalidState))
	})
}

func TestAbortDebate(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(DefaultConfig())

	sess, err := o.InitiateDebate(ctx, "doomed debate", panel())
	require.NoError(t, err)

	require.NoError(t, o.AbortDebate(ctx, sess.ID, "owner cancelled"))

	stored, err := o.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, stored.State)

	t.Run("terminal debates cannot be aborted again", func(t *testing.T) {
		err := o.AbortDebate(ctx, sess.ID, "again")
		assert.True(t, core.IsCode(err, core.ErrCodeInvalidState))
	})

	t.Run("closing evicts the failed debate", func(t *testing.T) {
		require.NoError(t, o.CloseDebate(sess.ID))
		_, err := o.GetSession(sess.ID)
		assert.True(t, core.IsCode(err, core.ErrCodeNotFound))
	})
}

func TestCloseDebate(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(DefaultConfig())

	sess, err := o.InitiateDebate(ctx, "still running", panel())
	require.NoError(t, err)

	err = o.CloseDebate(sess.ID)
	assert.True(t, core.IsCode(err, core.ErrCodeInvalidState), "active debates stay open")
}

func TestAllocateTurn(t *testing.T) {
	ctx := context.Background()
	o, clock := newTestOrchestrator(DefaultConfig())

	sess, err := o.InitiateDebate(ctx, "turn taking", panel())
	require.NoError(t, err)

	allocation, err := o.AllocateTurn(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, allocation.SessionID)
	_, ok := sess.Participant(allocation.AgentID)
	assert.True(t, ok, "allocated agent is a participant")
	assert.Equal(t, clock.now.Add(2*time.Minute), allocation.Deadline)

	t.Run("one pending allocation at a time", func(t *testing.T) {
		_, err := o.AllocateTurn(sess.ID)
		assert.True(t, core.IsCode(err, core.ErrCodeInvalidState))
	})

	t.Run("acting on the turn releases it", func(t *testing.T) {
		_, err := o.SubmitArgument(ctx, sess.ID, argInput(allocation.AgentID, "taking my turn"))
		require.NoError(t, err)

		next, err := o.AllocateTurn(sess.ID)
		require.NoError(t, err)
		assert.NotEqual(t, allocation.AgentID, next.AgentID, "round robin moves on")
	})

	t.Run("terminal debates get no turns", func(t *testing.T) {
		require.NoError(t, o.AbortDebate(ctx, sess.ID, "done"))
		_, err := o.AllocateTurn(sess.ID)
		assert.True(t, core.IsCode(err, core.ErrCodeInvalidState))
	})
}

func TestFairnessReport(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(DefaultConfig())

	sess, err := o.InitiateDebate(ctx, "fair debate", panel())
	require.NoError(t, err)
	_, err = o.SubmitArgument(ctx, sess.ID, argInput("pro-1", "opening claim"))
	require.NoError(t, err)
	_, err = o.SubmitArgument(ctx, sess.ID, argInput("opp-1", "counter claim"))
	require.NoError(t, err)

	metrics, report, err := o.FairnessReport(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.TotalTurns)
	assert.Equal(t, 1, metrics.PerAgent["pro-1"].Turns)
	assert.NotZero(t, metrics.FairnessScore)
	assert.NotNil(t, report)
}

func TestRecruitParticipants(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrchestrator(DefaultConfig())

	require.NoError(t, o.Coordinator().RegisterAgent(core.AgentCapability{
		AgentID: "med-1", Roles: []core.Role{core.RoleMediator}, MaxLoad: 3,
	}))
	require.NoError(t, o.Coordinator().RegisterAgent(core.AgentCapability{
		AgentID: "pro-1", Roles: []core.Role{core.RoleProponent}, MaxLoad: 3,
	}))

	participants, err := o.RecruitParticipants(ctx,
		[]core.Role{core.RoleMediator, core.RoleProponent}, nil)
	require.NoError(t, err)

	require.Len(t, participants, 2)
	assert.Equal(t, "med-1", participants[0].AgentID)
	assert.Equal(t, core.RoleMediator, participants[0].Role)
	assert.Equal(t, 1.0, participants[1].Weight)

	t.Run("propagates coordinator failures", func(t *testing.T) {
		_, err := o.RecruitParticipants(ctx, []core.Role{core.RoleOpponent, core.RoleObserver}, nil)
		assert.True(t, core.IsCode(err, core.ErrCodeCapacity))
	})
}
