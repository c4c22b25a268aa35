// Package session implements the deliberation session lifecycle as a
// table-driven state machine. Transition legality, reasoning-log
// appends and terminal timestamps are all centralized here so the
// reachable-state graph stays independently testable.
package session

import (
	"fmt"

	"dev.helix.deliberation/internal/deliberation/core"
)

// guard is an optional predicate attached to a transition. It returns a
// non-nil error when the transition is structurally legal but the
// session content does not permit it.
type guard func(s *core.Session) error

type transitionKey struct {
	from core.SessionState
	to   core.SessionState
}

// transitionTable is the fixed set of legal lifecycle transitions.
// Transitions to StateFailed from any pre-terminal state are handled
// separately in lookup.
var transitionTable = map[transitionKey]guard{
	{core.StateInitialized, core.StateAgentsAssigned}:             guardMinParticipants,
	{core.StateAgentsAssigned, core.StateArgumentsPresented}:      nil,
	{core.StateArgumentsPresented, core.StateEvidenceAggregated}:  nil,
	{core.StateEvidenceAggregated, core.StateDeliberation}:        nil,
	{core.StateDeliberation, core.StateConsensusForming}:          nil,
	{core.StateConsensusForming, core.StateConsensusReached}:      guardConsensusPresent,
	{core.StateConsensusForming, core.StateDeadlocked}:            nil,
	{core.StateConsensusReached, core.StateCompleted}:             guardConsensusPresent,
	{core.StateDeadlocked, core.StateResolutionInProgress}:        nil,
	{core.StateResolutionInProgress, core.StateConsensusForming}:  nil,
	{core.StateResolutionInProgress, core.StateCompleted}:         guardConsensusPresent,
}

func guardMinParticipants(s *core.Session) error {
	if len(s.Participants) < 2 {
		return fmt.Errorf("requires at least 2 participants, have %d", len(s.Participants))
	}
	return nil
}

func guardConsensusPresent(s *core.Session) error {
	if s.Consensus == nil {
		return fmt.Errorf("requires a consensus result")
	}
	return nil
}

func lookup(from, to core.SessionState) (guard, bool) {
	if to == core.StateFailed {
		// Any pre-terminal state may fail.
		if from.Terminal() {
			return nil, false
		}
		return nil, true
	}
	g, ok := transitionTable[transitionKey{from, to}]
	return g, ok
}

// New builds a session in the initialized state. Participants without a
// role receive the default role; participants without a weight receive
// weight 1.
func New(cfg core.SessionConfig, participants []core.Participant, clock core.Clock, ids core.IDGenerator) *core.Session {
	now := clock.Now()

	assigned := make([]core.Participant, len(participants))
	for i, p := range participants {
		if p.Role == "" {
			p.Role = core.DefaultRole
		}
		if p.Weight == 0 {
			p.Weight = 1
		}
		assigned[i] = p
	}

	return &core.Session{
		ID:           ids.NewID(),
		Config:       cfg,
		State:        core.StateInitialized,
		Participants: assigned,
		ReasoningLog: []string{fmt.Sprintf("session initialized on topic: %s", cfg.Topic)},
		StartTime:    now,
	}
}

// CanTransition reports whether the session may move to the target
// state: the pair must be in the transition table and any guard must
// pass.
func CanTransition(s *core.Session, target core.SessionState) bool {
	g, ok := lookup(s.State, target)
	if !ok {
		return false
	}
	if g != nil && g(s) != nil {
		return false
	}
	return true
}

// Transition returns a new session value in the target state with an
// appended reasoning-log entry, setting the end time when the target is
// terminal. The input session is not modified. Illegal transitions are
// rejected with a typed invalid-state error.
func Transition(s *core.Session, target core.SessionState, reason string, clock core.Clock) (*core.Session, error) {
	g, ok := lookup(s.State, target)
	if !ok {
		return nil, core.Errorf(core.ErrCodeInvalidState, s.ID,
			"transition %s -> %s is not permitted", s.State, target)
	}
	if g != nil {
		if err := g(s); err != nil {
			return nil, core.Errorf(core.ErrCodeInvalidState, s.ID,
				"transition %s -> %s blocked: %v", s.State, target, err)
		}
	}

	next := s.Clone()
	next.State = target

	entry := fmt.Sprintf("state %s -> %s", s.State, target)
	if reason != "" {
		entry += ": " + reason
	}
	next.ReasoningLog = append(next.ReasoningLog, entry)

	if target.Terminal() {
		end := clock.Now()
		next.EndTime = &end
	}

	return next, nil
}

// Validate runs the session-level invariant checks: participant count
// once assigned, terminal end-time coupling, and consensus-result
// placement. It is a pure check intended to run after state-affecting
// operations.
func Validate(s *core.Session) error {
	if s.State != core.StateInitialized && len(s.Participants) < 2 {
		return core.Errorf(core.ErrCodeValidation, s.ID,
			"session has %d participants, need at least 2", len(s.Participants))
	}

	if s.State.Terminal() && s.EndTime == nil {
		return core.Errorf(core.ErrCodeValidation, s.ID,
			"terminal state %s has no end time", s.State)
	}
	if !s.State.Terminal() && s.EndTime != nil {
		return core.Errorf(core.ErrCodeValidation, s.ID,
			"non-terminal state %s has an end time", s.State)
	}

	if s.Consensus != nil && !consensusPermitted(s.State) {
		return core.Errorf(core.ErrCodeValidation, s.ID,
			"consensus result present in state %s", s.State)
	}
	if s.State == core.StateCompleted && s.Consensus == nil {
		return core.Errorf(core.ErrCodeValidation, s.ID,
			"completed session has no consensus result")
	}

	return nil
}

// consensusPermitted reports whether a consensus result may be attached
// in the given state: at or past consensus-reached, plus the
// deadlock-resolution path and failure.
func consensusPermitted(state core.SessionState) bool {
	switch state {
	case core.StateConsensusReached, core.StateCompleted,
		core.StateResolutionInProgress, core.StateFailed:
		return true
	}
	return false
}
