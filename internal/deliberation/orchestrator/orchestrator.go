// Package orchestrator owns the session registry and sequences the
// deliberation lifecycle: role assignment, argument intake, evidence
// aggregation, turn scheduling, consensus formation and deadlock
// resolution. Each mutating call reads the current session value,
// computes a new immutable value and writes it back; concurrent callers
// mutating the same session id race, so access is serialized per
// session id by the caller.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"dev.helix.deliberation/internal/deliberation/appeals"
	"dev.helix.deliberation/internal/deliberation/argument"
	"dev.helix.deliberation/internal/deliberation/consensus"
	"dev.helix.deliberation/internal/deliberation/coordinator"
	"dev.helix.deliberation/internal/deliberation/core"
	"dev.helix.deliberation/internal/deliberation/evidence"
	"dev.helix.deliberation/internal/deliberation/metrics"
	"dev.helix.deliberation/internal/deliberation/session"
	"dev.helix.deliberation/internal/deliberation/turns"
)

// Config configures the orchestrator.
type Config struct {
	MinParticipants int                `json:"min_participants"`
	MaxParticipants int                `json:"max_participants"`
	Session         core.SessionConfig `json:"session"`
	Consensus       consensus.Options  `json:"consensus"`
	Turns           turns.Config       `json:"turns"`
	Appeals         appeals.Config     `json:"appeals"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinParticipants: 2,
		MaxParticipants: 10,
		Session:         core.DefaultSessionConfig(),
		Consensus:       consensus.DefaultOptions(),
		Turns:           turns.DefaultConfig(),
		Appeals:         appeals.DefaultConfig(),
	}
}

// Orchestrator sequences deliberation sessions end to end.
type Orchestrator struct {
	config      Config
	store       SessionStore
	turns       *turns.Manager
	coordinator *coordinator.Coordinator
	appeals     *appeals.Handler
	logger      *logrus.Logger
	clock       core.Clock
	ids         core.IDGenerator
}

// New creates an orchestrator with default collaborators: an in-memory
// store, a turn manager, a hybrid coordinator, the system clock and
// UUID ids.
func New(logger *logrus.Logger) *Orchestrator {
	return NewWithDeps(DefaultConfig(), nil, nil, nil, logger, nil, nil)
}

// NewWithDeps creates an orchestrator with explicit collaborators. Any
// nil collaborator is replaced with its default.
func NewWithDeps(
	config Config,
	store SessionStore,
	turnManager *turns.Manager,
	coord *coordinator.Coordinator,
	logger *logrus.Logger,
	clock core.Clock,
	ids core.IDGenerator,
) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = core.SystemClock()
	}
	if ids == nil {
		ids = core.NewUUIDGenerator()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if turnManager == nil {
		turnManager = turns.NewManager(config.Turns, clock)
	}
	if coord == nil {
		coord = coordinator.New(coordinator.DefaultConfig(), logger)
	}
	return &Orchestrator{
		config:      config,
		store:       store,
		turns:       turnManager,
		coordinator: coord,
		appeals:     appeals.New(config.Appeals, logger, clock, ids),
		logger:      logger,
		clock:       clock,
		ids:         ids,
	}
}

// Coordinator returns the agent coordinator used for role assignment.
func (o *Orchestrator) Coordinator() *coordinator.Coordinator {
	return o.coordinator
}

// Appeals returns the handler tracking challenges against debate
// decisions. Appeals submitted through it surface in Outcome reports.
func (o *Orchestrator) Appeals() *appeals.Handler {
	return o.appeals
}

// RecruitParticipants asks the coordinator for one agent per required
// role and returns them as session participants, in role order.
func (o *Orchestrator) RecruitParticipants(ctx context.Context, roles []core.Role, expertiseTags []string) ([]core.Participant, error) {
	result, err := o.coordinator.AssignRoles("", roles, expertiseTags)
	if err != nil {
		return nil, err
	}

	participants := make([]core.Participant, 0, len(result.Assignments))
	for _, assignment := range result.Assignments {
		participants = append(participants, core.Participant{
			AgentID: assignment.AgentID,
			Role:    assignment.Role,
			Weight:  1,
		})
	}
	return participants, nil
}

// InitiateDebate validates the topic and participant set, creates the
// session and immediately moves it to the agents-assigned state.
func (o *Orchestrator) InitiateDebate(ctx context.Context, topic string, participants []core.Participant) (*core.Session, error) {
	if topic == "" {
		return nil, core.Errorf(core.ErrCodeValidation, "", "debate topic cannot be empty")
	}
	if len(participants) < o.config.MinParticipants {
		return nil, core.Errorf(core.ErrCodeCapacity, "",
			"debate requires at least %d participants, got %d", o.config.MinParticipants, len(participants))
	}
	if len(participants) > o.config.MaxParticipants {
		return nil, core.Errorf(core.ErrCodeCapacity, "",
			"debate allows at most %d participants, got %d", o.config.MaxParticipants, len(participants))
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.AgentID == "" {
			return nil, core.Errorf(core.ErrCodeValidation, "", "participant agent id cannot be empty")
		}
		if seen[p.AgentID] {
			return nil, core.Errorf(core.ErrCodeValidation, "",
				"participant %s appears more than once", p.AgentID)
		}
		seen[p.AgentID] = true
	}

	cfg := o.config.Session
	cfg.Topic = topic

	sess := session.New(cfg, participants, o.clock, o.ids)
	sess, err := session.Transition(sess, core.StateAgentsAssigned,
		fmt.Sprintf("%d participants assigned", len(participants)), o.clock)
	if err != nil {
		return nil, err
	}

	o.store.Put(sess)
	metrics.SessionStarted()
	o.logger.Infof("initiated debate %s on topic %q with %d participants", sess.ID, topic, len(participants))

	return sess.Clone(), nil
}

// SubmitArgument validates and scores an argument from a participant
// and appends it to the session. The first argument moves the session
// into the arguments-presented state.
func (o *Orchestrator) SubmitArgument(ctx context.Context, sessionID string, in argument.Input) (*core.Argument, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	if err := o.checkNotExpired(sess); err != nil {
		return nil, err
	}
	if sess.State != core.StateAgentsAssigned && sess.State != core.StateArgumentsPresented {
		return nil, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"arguments cannot be submitted in state %s", sess.State)
	}
	if _, ok := sess.Participant(in.AgentID); !ok {
		return nil, core.Errorf(core.ErrCodePermission, sessionID,
			"agent %s is not a participant in this debate", in.AgentID)
	}

	arg, err := argument.Create(in, o.clock, o.ids)
	if err != nil {
		return nil, withSessionID(err, sessionID)
	}

	next := sess.Clone()
	next.Arguments = append(next.Arguments, *arg)
	if p, ok := next.Participant(in.AgentID); ok {
		p.ArgumentIDs = append(p.ArgumentIDs, arg.ID)
	}
	next.ReasoningLog = append(next.ReasoningLog,
		fmt.Sprintf("argument %s submitted by %s (credibility %.2f)", arg.ID, in.AgentID, arg.Credibility))

	if next.State == core.StateAgentsAssigned {
		next, err = session.Transition(next, core.StateArgumentsPresented, "first argument received", o.clock)
		if err != nil {
			return nil, err
		}
	}

	o.store.Put(next)
	o.turns.RecordTurn(sessionID, in.AgentID, core.TurnActionArgument, 0, false)
	metrics.ArgumentSubmitted()
	o.logger.Debugf("argument %s recorded for debate %s", arg.ID, sessionID)

	return arg, nil
}

// AggregateEvidence merges the evidence across all submitted arguments,
// runs the quality check and advances the session into deliberation.
func (o *Orchestrator) AggregateEvidence(ctx context.Context, sessionID string) (*evidence.Summary, evidence.QualityReport, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, evidence.QualityReport{}, err
	}
	if sess.State != core.StateArgumentsPresented {
		return nil, evidence.QualityReport{}, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"evidence can only be aggregated in state %s, session is %s",
			core.StateArgumentsPresented, sess.State)
	}

	summary := evidence.Aggregate(sess.Arguments)
	report := evidence.ValidateQuality(sess.Arguments)

	next := sess.Clone()
	next.ReasoningLog = append(next.ReasoningLog, "evidence aggregated: "+summary.Summary)
	if !report.Acceptable {
		for _, issue := range report.Issues {
			next.ReasoningLog = append(next.ReasoningLog, "evidence quality issue: "+issue)
		}
	}

	next, err = session.Transition(next, core.StateEvidenceAggregated, summary.Summary, o.clock)
	if err != nil {
		return nil, evidence.QualityReport{}, err
	}
	next, err = session.Transition(next, core.StateDeliberation, "deliberation opened", o.clock)
	if err != nil {
		return nil, evidence.QualityReport{}, err
	}

	o.store.Put(next)
	return summary, report, nil
}

// SubmitVote appends a participant's vote. The first vote moves the
// session from deliberation into consensus forming. The engine assumes
// one vote per agent per round; duplicates are the caller's fault.
func (o *Orchestrator) SubmitVote(ctx context.Context, sessionID string, vote core.Vote) error {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return err
	}

	if err := o.checkNotExpired(sess); err != nil {
		return err
	}
	if sess.State != core.StateDeliberation && sess.State != core.StateConsensusForming {
		return core.Errorf(core.ErrCodeInvalidState, sessionID,
			"votes cannot be submitted in state %s", sess.State)
	}
	if vote.Confidence < 0 || vote.Confidence > 1 {
		return core.Errorf(core.ErrCodeValidation, sessionID,
			"vote confidence %.2f is outside [0,1]", vote.Confidence)
	}
	if _, ok := sess.Participant(vote.AgentID); !ok {
		return core.Errorf(core.ErrCodePermission, sessionID,
			"agent %s is not a participant in this debate", vote.AgentID)
	}

	if vote.Timestamp.IsZero() {
		vote.Timestamp = o.clock.Now()
	}

	next := sess.Clone()
	if p, ok := next.Participant(vote.AgentID); ok {
		p.Votes = append(p.Votes, vote)
	}
	next.ReasoningLog = append(next.ReasoningLog,
		fmt.Sprintf("vote %s cast by %s (confidence %.2f)", vote.Position, vote.AgentID, vote.Confidence))

	if next.State == core.StateDeliberation {
		next, err = session.Transition(next, core.StateConsensusForming, "first vote received", o.clock)
		if err != nil {
			return err
		}
	}

	o.store.Put(next)
	o.turns.RecordTurn(sessionID, vote.AgentID, core.TurnActionVote, 0, false)
	metrics.VoteSubmitted(string(vote.Position))

	return nil
}

// FormConsensus tallies all collected votes. On success the session
// completes; otherwise deadlock detection decides whether further
// voting rounds can still succeed.
func (o *Orchestrator) FormConsensus(ctx context.Context, sessionID string) (*core.ConsensusResult, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != core.StateConsensusForming {
		return nil, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"consensus can only be formed in state %s, session is %s",
			core.StateConsensusForming, sess.State)
	}

	opts := o.config.Consensus
	opts.Algorithm = sess.Config.Algorithm

	votes := sess.Votes()
	result, err := consensus.Form(sessionID, votes, sess.Participants, opts, o.clock)
	if err != nil {
		return nil, err
	}

	next := sess.Clone()

	if result.Reached {
		next.Consensus = result
		next, err = session.Transition(next, core.StateConsensusReached, result.Reasoning, o.clock)
		if err != nil {
			return nil, err
		}
		next, err = session.Transition(next, core.StateCompleted, "consensus recorded", o.clock)
		if err != nil {
			return nil, err
		}
		o.store.Put(next)
		metrics.SessionFinished(string(core.StateCompleted))
		o.logger.Infof("debate %s completed: %s with confidence %.2f", sessionID, result.Outcome, result.Confidence)
		return result, nil
	}

	if !consensus.CanReach(votes, sess.Participants, opts) {
		next, err = session.Transition(next, core.StateDeadlocked,
			"no assignment of outstanding votes can reach consensus", o.clock)
		if err != nil {
			return nil, err
		}
		o.store.Put(next)
		metrics.DeadlockDetected()
		o.logger.Warnf("debate %s is deadlocked under %s", sessionID, opts.Algorithm)
		return result, nil
	}

	next.ReasoningLog = append(next.ReasoningLog, "consensus not reached; awaiting further votes")
	o.store.Put(next)
	return result, nil
}

// ResolveDeadlock applies the given strategy to a deadlocked session:
// revote reopens consensus forming with votes cleared, mediator_decision
// adopts the mediator's vote as a modified outcome, abort fails the
// session. An empty strategy falls back to the session's configured one.
func (o *Orchestrator) ResolveDeadlock(ctx context.Context, sessionID string, strategy core.DeadlockStrategy) (*core.Session, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != core.StateDeadlocked {
		return nil, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"deadlock resolution requires state %s, session is %s", core.StateDeadlocked, sess.State)
	}
	if strategy == "" {
		strategy = sess.Config.DeadlockStrategy
	}

	next, err := session.Transition(sess, core.StateResolutionInProgress,
		fmt.Sprintf("resolving deadlock via %s", strategy), o.clock)
	if err != nil {
		return nil, err
	}

	switch strategy {
	case core.DeadlockRevote:
		for i := range next.Participants {
			next.Participants[i].Votes = nil
		}
		next, err = session.Transition(next, core.StateConsensusForming, "votes cleared for a fresh round", o.clock)
		if err != nil {
			return nil, err
		}

	case core.DeadlockMediatorDecision:
		result, derr := o.mediatorDecision(next)
		if derr != nil {
			return nil, derr
		}
		next.Consensus = result
		next, err = session.Transition(next, core.StateCompleted, "mediator decision adopted", o.clock)
		if err != nil {
			return nil, err
		}
		metrics.SessionFinished(string(core.StateCompleted))

	case core.DeadlockAbort:
		next, err = session.Transition(next, core.StateFailed, "deadlock aborted", o.clock)
		if err != nil {
			return nil, err
		}
		metrics.SessionFinished(string(core.StateFailed))

	default:
		return nil, core.Errorf(core.ErrCodeValidation, sessionID,
			"unknown deadlock strategy %q", strategy)
	}

	o.store.Put(next)
	o.logger.Infof("debate %s deadlock resolved via %s, now %s", sessionID, strategy, next.State)
	return next.Clone(), nil
}

// mediatorDecision builds a modified-outcome consensus result from the
// mediator's most recent vote.
func (o *Orchestrator) mediatorDecision(sess *core.Session) (*core.ConsensusResult, error) {
	for i := range sess.Participants {
		p := &sess.Participants[i]
		if p.Role != core.RoleMediator || len(p.Votes) == 0 {
			continue
		}
		vote := p.Votes[len(p.Votes)-1]
		return &core.ConsensusResult{
			Algorithm:  sess.Config.Algorithm,
			Reached:    true,
			Outcome:    core.OutcomeModified,
			Confidence: vote.Confidence,
			Tally:      consensus.Tally(sess.Votes(), sess.Participants, sess.Config.Algorithm),
			Reasoning:  fmt.Sprintf("mediator %s decided %s after deadlock", p.AgentID, vote.Position),
			Timestamp:  o.clock.Now(),
		}, nil
	}
	return nil, core.Errorf(core.ErrCodeConsensusImpossible, sess.ID,
		"no mediator vote available to resolve the deadlock")
}

// AbortDebate fails a session from any pre-terminal state.
func (o *Orchestrator) AbortDebate(ctx context.Context, sessionID, reason string) error {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return err
	}

	next, err := session.Transition(sess, core.StateFailed, reason, o.clock)
	if err != nil {
		return err
	}

	o.store.Put(next)
	metrics.SessionFinished(string(core.StateFailed))
	o.logger.Warnf("debate %s aborted: %s", sessionID, reason)
	return nil
}

// CloseDebate evicts a terminal session from the registry and drops its
// turn history and appeal records.
func (o *Orchestrator) CloseDebate(sessionID string) error {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	if !sess.State.Terminal() {
		return core.Errorf(core.ErrCodeInvalidState, sessionID,
			"debate in state %s cannot be closed", sess.State)
	}

	o.store.Delete(sessionID)
	o.turns.ClearSession(sessionID)
	o.appeals.ClearAppeals(sessionID)
	metrics.SessionClosed()
	return nil
}

// AllocateTurn grants the next speaking turn for an active session.
func (o *Orchestrator) AllocateTurn(sessionID string) (*turns.Allocation, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State.Terminal() {
		return nil, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"turns cannot be allocated for a %s debate", sess.State)
	}

	allocation, err := o.turns.AllocateNextTurn(sessionID, sess.Participants)
	if err != nil {
		return nil, err
	}
	metrics.TurnAllocated(string(allocation.Strategy))
	return allocation, nil
}

// FairnessReport computes turn fairness metrics and violations for a
// session.
func (o *Orchestrator) FairnessReport(sessionID string) (turns.FairnessMetrics, turns.FairnessReport, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return turns.FairnessMetrics{}, turns.FairnessReport{}, err
	}
	return o.turns.CalculateFairnessMetrics(sessionID, sess.Participants),
		o.turns.ValidateFairness(sessionID, sess.Participants),
		nil
}

// GetSession returns a copy of the session.
func (o *Orchestrator) GetSession(sessionID string) (*core.Session, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// ListSessions returns copies of all sessions in the registry.
func (o *Orchestrator) ListSessions() []*core.Session {
	stored := o.store.List()
	sessions := make([]*core.Session, 0, len(stored))
	for _, s := range stored {
		sessions = append(sessions, s.Clone())
	}
	return sessions
}

// OutcomeReport is the audit-facing snapshot of a session's result,
// exposed for external governance sinks. It carries the consensus
// result together with every appeal raised against it.
type OutcomeReport struct {
	SessionID    string                `json:"session_id"`
	Topic        string                `json:"topic"`
	State        core.SessionState     `json:"state"`
	Consensus    *core.ConsensusResult `json:"consensus,omitempty"`
	Appeals      []core.Appeal         `json:"appeals,omitempty"`
	ReasoningLog []string              `json:"reasoning_log"`
}

// Outcome returns the audit snapshot for a session.
func (o *Orchestrator) Outcome(sessionID string) (*OutcomeReport, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	report := &OutcomeReport{
		SessionID:    sess.ID,
		Topic:        sess.Config.Topic,
		State:        sess.State,
		Appeals:      o.appeals.AppealsFor(sess.ID),
		ReasoningLog: append([]string(nil), sess.ReasoningLog...),
	}
	if sess.Consensus != nil {
		result := *sess.Consensus
		report.Consensus = &result
	}
	return report, nil
}

func (o *Orchestrator) lookup(sessionID string) (*core.Session, error) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return nil, core.Errorf(core.ErrCodeNotFound, sessionID, "debate not found")
	}
	return sess, nil
}

// checkNotExpired rejects submissions once the debate has outlived its
// configured maximum duration. Expiry is advisory: it is checked here,
// not enforced by a background timer.
func (o *Orchestrator) checkNotExpired(sess *core.Session) error {
	if sess.Config.MaxDuration <= 0 {
		return nil
	}
	if elapsed := sess.Elapsed(o.clock.Now()); elapsed > sess.Config.MaxDuration {
		return core.Errorf(core.ErrCodeTimeout, sess.ID,
			"debate exceeded its maximum duration of %s (elapsed %s)",
			sess.Config.MaxDuration, elapsed.Round(0))
	}
	return nil
}

// withSessionID stamps the session id onto a typed error produced by a
// session-agnostic component.
func withSessionID(err error, sessionID string) error {
	var de *core.Error
	if errors.As(err, &de) && de.SessionID == "" {
		stamped := *de
		stamped.SessionID = sessionID
		return &stamped
	}
	return err
}
