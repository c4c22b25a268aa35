// Package core contains the shared domain types for the deliberation
// engine: sessions, participants, arguments, evidence, votes, consensus
// results, turn records, agent capabilities and appeals.
package core

import (
	"time"
)

// SessionState represents the lifecycle state of a deliberation session.
type SessionState string

const (
	StateInitialized          SessionState = "initialized"
	StateAgentsAssigned       SessionState = "agents_assigned"
	StateArgumentsPresented   SessionState = "arguments_presented"
	StateEvidenceAggregated   SessionState = "evidence_aggregated"
	StateDeliberation         SessionState = "deliberation"
	StateConsensusForming     SessionState = "consensus_forming"
	StateConsensusReached     SessionState = "consensus_reached"
	StateDeadlocked           SessionState = "deadlocked"
	StateResolutionInProgress SessionState = "resolution_in_progress"
	StateCompleted            SessionState = "completed"
	StateFailed               SessionState = "failed"
)

// Terminal reports whether the state ends the session lifecycle.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Role defines the role of a participant in a deliberation.
type Role string

const (
	RoleMediator  Role = "mediator"  // Facilitates and holds review authority
	RoleProponent Role = "proponent" // Argues for the claim under debate
	RoleOpponent  Role = "opponent"  // Argues against the claim under debate
	RoleObserver  Role = "observer"  // Watches and votes without advocacy
)

// DefaultRole is applied when a participant is created without a role.
const DefaultRole = RoleObserver

// ValidRole reports whether r is one of the closed role set.
func ValidRole(r Role) bool {
	switch r {
	case RoleMediator, RoleProponent, RoleOpponent, RoleObserver:
		return true
	}
	return false
}

// ConsensusAlgorithm identifies the vote-tallying algorithm.
type ConsensusAlgorithm string

const (
	AlgorithmSimpleMajority   ConsensusAlgorithm = "simple_majority"
	AlgorithmWeightedMajority ConsensusAlgorithm = "weighted_majority"
	AlgorithmUnanimous        ConsensusAlgorithm = "unanimous"
	AlgorithmSupermajority    ConsensusAlgorithm = "supermajority"
)

// ValidAlgorithm reports whether a is one of the closed algorithm set.
func ValidAlgorithm(a ConsensusAlgorithm) bool {
	switch a {
	case AlgorithmSimpleMajority, AlgorithmWeightedMajority, AlgorithmUnanimous, AlgorithmSupermajority:
		return true
	}
	return false
}

// DeadlockStrategy identifies how a deadlocked session is resolved.
type DeadlockStrategy string

const (
	// DeadlockRevote clears cast votes and reopens consensus forming.
	DeadlockRevote DeadlockStrategy = "revote"
	// DeadlockMediatorDecision adopts the mediator's vote as a modified outcome.
	DeadlockMediatorDecision DeadlockStrategy = "mediator_decision"
	// DeadlockAbort fails the session.
	DeadlockAbort DeadlockStrategy = "abort"
)

// AppealPolicy configures post-decision appeal behavior for a session.
type AppealPolicy struct {
	AllowDuringConsensusForming bool `json:"allow_during_consensus_forming"`
	MaxAppealsPerAgent          int  `json:"max_appeals_per_agent"`
	RequireMediatorReview       bool `json:"require_mediator_review"`
}

// DefaultAppealPolicy returns the policy applied when none is configured.
func DefaultAppealPolicy() AppealPolicy {
	return AppealPolicy{
		AllowDuringConsensusForming: false,
		MaxAppealsPerAgent:          2,
		RequireMediatorReview:       true,
	}
}

// SessionConfig configures a deliberation session.
type SessionConfig struct {
	Topic            string             `json:"topic"`
	MaxDuration      time.Duration      `json:"max_duration"`
	Algorithm        ConsensusAlgorithm `json:"algorithm"`
	DeadlockStrategy DeadlockStrategy   `json:"deadlock_strategy"`
	AppealPolicy     AppealPolicy       `json:"appeal_policy"`
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxDuration:      30 * time.Minute,
		Algorithm:        AlgorithmSimpleMajority,
		DeadlockStrategy: DeadlockRevote,
		AppealPolicy:     DefaultAppealPolicy(),
	}
}

// Session is one complete deliberation instance over a topic.
type Session struct {
	ID           string           `json:"id"`
	Config       SessionConfig    `json:"config"`
	State        SessionState     `json:"state"`
	Participants []Participant    `json:"participants"`
	Arguments    []Argument       `json:"arguments"`
	Consensus    *ConsensusResult `json:"consensus,omitempty"`
	ReasoningLog []string         `json:"reasoning_log"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      *time.Time       `json:"end_time,omitempty"`
}

// Clone returns a deep copy of the session. Mutating operations work on
// a clone and write the new value back to the store, so a stored
// session value is never modified in place.
func (s *Session) Clone() *Session {
	clone := *s

	clone.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		clone.Participants[i] = p
		clone.Participants[i].ArgumentIDs = append([]string(nil), p.ArgumentIDs...)
		clone.Participants[i].Votes = append([]Vote(nil), p.Votes...)
	}

	clone.Arguments = make([]Argument, len(s.Arguments))
	for i, a := range s.Arguments {
		clone.Arguments[i] = a
		clone.Arguments[i].Evidence = append([]Evidence(nil), a.Evidence...)
	}

	clone.ReasoningLog = append([]string(nil), s.ReasoningLog...)

	if s.Consensus != nil {
		consensus := *s.Consensus
		clone.Consensus = &consensus
	}
	if s.EndTime != nil {
		end := *s.EndTime
		clone.EndTime = &end
	}

	return &clone
}

// Participant returns the participant with the given agent id.
func (s *Session) Participant(agentID string) (*Participant, bool) {
	for i := range s.Participants {
		if s.Participants[i].AgentID == agentID {
			return &s.Participants[i], true
		}
	}
	return nil, false
}

// Votes collects all votes cast by participants, in participant order.
func (s *Session) Votes() []Vote {
	var votes []Vote
	for i := range s.Participants {
		votes = append(votes, s.Participants[i].Votes...)
	}
	return votes
}

// Elapsed returns how long the session has been running at the given time.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// Participant is an agent taking part in a session under an assigned role.
type Participant struct {
	AgentID     string   `json:"agent_id"`
	Role        Role     `json:"role"`
	Weight      float64  `json:"weight"`
	ArgumentIDs []string `json:"argument_ids,omitempty"`
	Votes       []Vote   `json:"votes,omitempty"`
}

// VerificationStatus is the verification state of an evidence item.
type VerificationStatus string

const (
	EvidenceVerified   VerificationStatus = "verified"
	EvidenceDisputed   VerificationStatus = "disputed"
	EvidenceUnverified VerificationStatus = "unverified"
)

// Evidence is a single item of supporting material attached to an
// argument. Read-only after attachment.
type Evidence struct {
	ID          string             `json:"id"`
	Source      string             `json:"source"`
	Content     string             `json:"content"`
	Credibility float64            `json:"credibility"`
	Status      VerificationStatus `json:"status"`
}

// Argument is a claim with evidence and reasoning presented by an
// agent. Immutable once created.
type Argument struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Claim       string     `json:"claim"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	Reasoning   string     `json:"reasoning,omitempty"`
	Credibility float64    `json:"credibility"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Position is a vote's stance on the topic under deliberation.
type Position string

const (
	PositionFor     Position = "for"
	PositionAgainst Position = "against"
	PositionAbstain Position = "abstain"
)

// Vote is a single vote cast by a participant in a consensus round.
type Vote struct {
	AgentID    string    `json:"agent_id"`
	Position   Position  `json:"position"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Outcome is the resolution computed from a consensus round.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeModified Outcome = "modified"
)

// VoteTally holds the weighted totals per position for one round.
type VoteTally struct {
	For     float64 `json:"for"`
	Against float64 `json:"against"`
	Abstain float64 `json:"abstain"`
	Voters  int     `json:"voters"`
}

// Total returns the combined weight across all positions.
func (t VoteTally) Total() float64 {
	return t.For + t.Against + t.Abstain
}

// ConsensusResult is the outcome of a consensus round, attached to the
// session once the consensus-reached state is entered.
type ConsensusResult struct {
	Algorithm  ConsensusAlgorithm `json:"algorithm"`
	Reached    bool               `json:"reached"`
	Outcome    Outcome            `json:"outcome"`
	Confidence float64            `json:"confidence"`
	Tally      VoteTally          `json:"tally"`
	Reasoning  string             `json:"reasoning"`
	Timestamp  time.Time          `json:"timestamp"`
}

// TurnAction identifies what a participant did with a speaking turn.
type TurnAction string

const (
	TurnActionArgument  TurnAction = "argument"
	TurnActionVote      TurnAction = "vote"
	TurnActionStatement TurnAction = "statement"
)

// TurnRecord is one entry in a session's append-only turn history.
type TurnRecord struct {
	AgentID    string        `json:"agent_id"`
	TurnNumber int           `json:"turn_number"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	Action     TurnAction    `json:"action"`
	TimedOut   bool          `json:"timed_out"`
}

// AgentCapability describes an agent known to the coordinator: the
// roles it may hold, its expertise tags and its load envelope.
type AgentCapability struct {
	AgentID      string   `json:"agent_id"`
	Roles        []Role   `json:"roles"`
	Expertise    []string `json:"expertise,omitempty"`
	CurrentLoad  int      `json:"current_load"`
	MaxLoad      int      `json:"max_load"`
	Availability float64  `json:"availability"`
}

// RecomputeAvailability derives the availability score from the load
// envelope: 1 - load/maxLoad, 0 at or over capacity.
func (c *AgentCapability) RecomputeAvailability() {
	if c.MaxLoad <= 0 || c.CurrentLoad >= c.MaxLoad {
		c.Availability = 0
		return
	}
	c.Availability = 1 - float64(c.CurrentLoad)/float64(c.MaxLoad)
}

// EligibleFor reports whether the agent may hold the given role.
func (c *AgentCapability) EligibleFor(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AppealStatus is the lifecycle status of an appeal.
type AppealStatus string

const (
	AppealSubmitted   AppealStatus = "submitted"
	AppealUnderReview AppealStatus = "under_review"
	AppealApproved    AppealStatus = "approved"
	AppealRejected    AppealStatus = "rejected"
	AppealEscalated   AppealStatus = "escalated"
	AppealWithdrawn   AppealStatus = "withdrawn"
)

// Recommendation is a reviewer's recommendation on an appeal.
type Recommendation string

const (
	RecommendOverturn Recommendation = "overturn"
	RecommendUphold   Recommendation = "uphold"
	RecommendModify   Recommendation = "modify"
)

// AppealReview is one reviewer's assessment of an appeal.
type AppealReview struct {
	Reviewer       string         `json:"reviewer"`
	Recommendation Recommendation `json:"recommendation"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AppealOutcome is the finalized result of an appeal.
type AppealOutcome struct {
	Decision   Recommendation `json:"decision"`
	Status     AppealStatus   `json:"status"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Appeal is a post-decision challenge raised by a participant.
type Appeal struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	AgentID        string         `json:"agent_id"`
	TargetDecision string         `json:"target_decision"`
	Reason         string         `json:"reason"`
	Evidence       []Evidence     `json:"evidence,omitempty"`
	ReviewLevel    string         `json:"review_level,omitempty"`
	Status         AppealStatus   `json:"status"`
	Reviews        []AppealReview `json:"reviews,omitempty"`
	Outcome        *AppealOutcome `json:"outcome,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}
