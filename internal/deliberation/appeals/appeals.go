// Package appeals processes post-decision challenges against a
// session's outcome. The handler is independent of the orchestrator's
// registry: it operates on a session value passed by the caller plus
// its own per-debate appeal list.
package appeals

import (
	"sync"

	"github.com/sirupsen/logrus"

	"dev.helix.deliberation/internal/deliberation/core"
	"dev.helix.deliberation/internal/deliberation/metrics"
)

// Config configures appeal handling.
type Config struct {
	AllowDuringConsensusForming bool    `json:"allow_during_consensus_forming"`
	MaxAppealsPerAgent          int     `json:"max_appeals_per_agent"`
	RequireMediatorReview       bool    `json:"require_mediator_review"`
	MinConfidence               float64 `json:"min_confidence"`
	EscalationThreshold         float64 `json:"escalation_threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AllowDuringConsensusForming: false,
		MaxAppealsPerAgent:          2,
		RequireMediatorReview:       true,
		MinConfidence:               0.6,
		EscalationThreshold:         0.5,
	}
}

// Handler manages the appeal lifecycle per debate.
type Handler struct {
	config  Config
	appeals map[string][]*core.Appeal // session id -> appeals
	logger  *logrus.Logger
	clock   core.Clock
	ids     core.IDGenerator
	mu      sync.RWMutex
}

// New creates an appeal handler. Nil collaborators get defaults.
func New(config Config, logger *logrus.Logger, clock core.Clock, ids core.IDGenerator) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = core.SystemClock()
	}
	if ids == nil {
		ids = core.NewUUIDGenerator()
	}
	return &Handler{
		config:  config,
		appeals: make(map[string][]*core.Appeal),
		logger:  logger,
		clock:   clock,
		ids:     ids,
	}
}

// Request carries the caller-supplied fields for a new appeal.
type Request struct {
	AgentID        string          `json:"agent_id"`
	TargetDecision string          `json:"target_decision"`
	Reason         string          `json:"reason"`
	Evidence       []core.Evidence `json:"evidence,omitempty"`
	ReviewLevel    string          `json:"review_level,omitempty"`
}

// policyFor resolves the appeal policy governing a session. A session
// configured with its own policy overrides the handler defaults; a
// zero policy falls back to them.
func (h *Handler) policyFor(sess *core.Session) core.AppealPolicy {
	if sess.Config.AppealPolicy != (core.AppealPolicy{}) {
		return sess.Config.AppealPolicy
	}
	return core.AppealPolicy{
		AllowDuringConsensusForming: h.config.AllowDuringConsensusForming,
		MaxAppealsPerAgent:          h.config.MaxAppealsPerAgent,
		RequireMediatorReview:       h.config.RequireMediatorReview,
	}
}

// SubmitAppeal registers a challenge against the session's decision.
// Appeals during consensus forming are rejected unless the session
// policy allows them, the submitter must be a participant, and each
// agent is capped at the policy's number of appeals per debate.
func (h *Handler) SubmitAppeal(sess *core.Session, req Request) (*core.Appeal, error) {
	policy := h.policyFor(sess)
	if sess.State == core.StateConsensusForming && !policy.AllowDuringConsensusForming {
		return nil, core.Errorf(core.ErrCodeInvalidState, sess.ID,
			"appeals are not accepted while consensus is forming")
	}
	if _, ok := sess.Participant(req.AgentID); !ok {
		return nil, core.Errorf(core.ErrCodePermission, sess.ID,
			"agent %s is not a participant in this debate", req.AgentID)
	}
	if req.Reason == "" {
		return nil, core.Errorf(core.ErrCodeValidation, sess.ID, "appeal reason cannot be empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for _, appeal := range h.appeals[sess.ID] {
		if appeal.AgentID == req.AgentID {
			count++
		}
	}
	if policy.MaxAppealsPerAgent > 0 && count >= policy.MaxAppealsPerAgent {
		return nil, core.Errorf(core.ErrCodeCapacity, sess.ID,
			"agent %s has reached the maximum of %d appeals", req.AgentID, policy.MaxAppealsPerAgent)
	}

	appeal := &core.Appeal{
		ID:             h.ids.NewID(),
		SessionID:      sess.ID,
		AgentID:        req.AgentID,
		TargetDecision: req.TargetDecision,
		Reason:         req.Reason,
		Evidence:       append([]core.Evidence(nil), req.Evidence...),
		ReviewLevel:    req.ReviewLevel,
		Status:         core.AppealSubmitted,
		SubmittedAt:    h.clock.Now(),
	}
	h.appeals[sess.ID] = append(h.appeals[sess.ID], appeal)

	h.logger.Infof("appeal %s submitted by %s against debate %s", appeal.ID, req.AgentID, sess.ID)
	return cloneAppeal(appeal), nil
}

// ReviewAppeal records a reviewer's recommendation. The reviewer must
// be a participant and, when the session policy demands it, hold the
// mediator role. Each review moves the appeal to under-review.
func (h *Handler) ReviewAppeal(sess *core.Session, appealID string, reviewer string, recommendation core.Recommendation, reasoning string) error {
	participant, ok := sess.Participant(reviewer)
	if !ok {
		return core.Errorf(core.ErrCodePermission, sess.ID,
			"reviewer %s is not a participant in this debate", reviewer)
	}
	if h.policyFor(sess).RequireMediatorReview && participant.Role != core.RoleMediator {
		return core.Errorf(core.ErrCodePermission, sess.ID,
			"reviewer %s does not hold the mediator role", reviewer)
	}
	switch recommendation {
	case core.RecommendOverturn, core.RecommendUphold, core.RecommendModify:
	default:
		return core.Errorf(core.ErrCodeValidation, sess.ID,
			"unknown recommendation %q", recommendation)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	appeal, err := h.findLocked(sess.ID, appealID)
	if err != nil {
		return err
	}
	if appeal.Status != core.AppealSubmitted && appeal.Status != core.AppealUnderReview {
		return core.Errorf(core.ErrCodeInvalidState, sess.ID,
			"appeal %s cannot be reviewed in status %s", appealID, appeal.Status)
	}

	appeal.Reviews = append(appeal.Reviews, core.AppealReview{
		Reviewer:       reviewer,
		Recommendation: recommendation,
		Reasoning:      reasoning,
		Timestamp:      h.clock.Now(),
	})
	appeal.Status = core.AppealUnderReview

	return nil
}

// FinalizeAppeal closes the review phase. Confidence is the share of
// reviewers backing the majority recommendation. An overturn decision
// always approves; otherwise low confidence escalates, uphold rejects
// and modify approves.
func (h *Handler) FinalizeAppeal(sessionID, appealID string, decision core.Recommendation) (*core.AppealOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	appeal, err := h.findLocked(sessionID, appealID)
	if err != nil {
		return nil, err
	}
	if appeal.Status != core.AppealUnderReview {
		return nil, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"appeal %s cannot be finalized in status %s", appealID, appeal.Status)
	}
	if len(appeal.Reviews) == 0 {
		return nil, core.Errorf(core.ErrCodeValidation, sessionID,
			"appeal %s has no reviews to finalize from", appealID)
	}

	confidence := reviewConfidence(appeal.Reviews)

	var status core.AppealStatus
	switch decision {
	case core.RecommendOverturn:
		status = core.AppealApproved
	case core.RecommendUphold, core.RecommendModify:
		if confidence < h.config.MinConfidence {
			status = core.AppealEscalated
		} else if decision == core.RecommendUphold {
			status = core.AppealRejected
		} else {
			status = core.AppealApproved
		}
	default:
		return nil, core.Errorf(core.ErrCodeValidation, sessionID,
			"unknown decision %q", decision)
	}

	outcome := &core.AppealOutcome{
		Decision:   decision,
		Status:     status,
		Confidence: confidence,
		Reasoning:  majorityReasoning(appeal.Reviews),
		Timestamp:  h.clock.Now(),
	}
	appeal.Outcome = outcome
	appeal.Status = status

	metrics.AppealFinished(string(status))
	h.logger.Infof("appeal %s finalized: %s (%s, confidence %.2f)", appealID, decision, status, confidence)

	result := *outcome
	return &result, nil
}

// ShouldEscalate flags an appeal whose reviewers show zero consensus
// (all distinct recommendations) or whose review confidence falls below
// the escalation threshold.
func (h *Handler) ShouldEscalate(appeal *core.Appeal) bool {
	if len(appeal.Reviews) == 0 {
		return false
	}

	distinct := make(map[core.Recommendation]bool)
	for _, review := range appeal.Reviews {
		distinct[review.Recommendation] = true
	}
	if len(appeal.Reviews) > 1 && len(distinct) == len(appeal.Reviews) {
		return true
	}

	return reviewConfidence(appeal.Reviews) < h.config.EscalationThreshold
}

// WithdrawAppeal retracts an appeal. Withdrawal is blocked once the
// appeal has been approved or rejected.
func (h *Handler) WithdrawAppeal(sessionID, appealID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	appeal, err := h.findLocked(sessionID, appealID)
	if err != nil {
		return err
	}
	if appeal.Status == core.AppealApproved || appeal.Status == core.AppealRejected {
		return core.Errorf(core.ErrCodeInvalidState, sessionID,
			"appeal %s cannot be withdrawn in status %s", appealID, appeal.Status)
	}

	appeal.Status = core.AppealWithdrawn
	return nil
}

// AppealsFor returns copies of all appeals raised against a debate.
func (h *Handler) AppealsFor(sessionID string) []core.Appeal {
	h.mu.RLock()
	defer h.mu.RUnlock()

	appeals := make([]core.Appeal, 0, len(h.appeals[sessionID]))
	for _, appeal := range h.appeals[sessionID] {
		appeals = append(appeals, *cloneAppeal(appeal))
	}
	return appeals
}

// ClearAppeals drops all appeal records for a debate.
func (h *Handler) ClearAppeals(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.appeals, sessionID)
}

func (h *Handler) findLocked(sessionID, appealID string) (*core.Appeal, error) {
	for _, appeal := range h.appeals[sessionID] {
		if appeal.ID == appealID {
			return appeal, nil
		}
	}
	return nil, core.Errorf(core.ErrCodeNotFound, sessionID, "appeal %s not found", appealID)
}

// reviewConfidence is the share of reviews backing the most common
// recommendation.
func reviewConfidence(reviews []core.AppealReview) float64 {
	counts := make(map[core.Recommendation]int)
	max := 0
	for _, review := range reviews {
		counts[review.Recommendation]++
		if counts[review.Recommendation] > max {
			max = counts[review.Recommendation]
		}
	}
	return float64(max) / float64(len(reviews))
}

// majorityReasoning returns the reasoning of the first review backing
// the majority recommendation.
func majorityReasoning(reviews []core.AppealReview) string {
	counts := make(map[core.Recommendation]int)
	for _, review := range reviews {
		counts[review.Recommendation]++
	}
	var majority core.Recommendation
	max := 0
	for _, review := range reviews {
		if counts[review.Recommendation] > max {
			max = counts[review.Recommendation]
			majority = review.Recommendation
		}
	}
	for _, review := range reviews {
		if review.Recommendation == majority && review.Reasoning != "" {
			return review.Reasoning
		}
	}
	return ""
}

func cloneAppeal(a *core.Appeal) *core.Appeal {
	clone := *a
	clone.Evidence = append([]core.Evidence(nil), a.Evidence...)
	clone.Reviews = append([]core.AppealReview(nil), a.Reviews...)
	if a.Outcome != nil {
		outcome := *a.Outcome
		clone.Outcome = &outcome
	}
	return &clone
}
