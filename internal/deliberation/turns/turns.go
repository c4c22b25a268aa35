// Package turns schedules speaking turns across participants using a
// pluggable fairness strategy, tracks per-session turn history and
// timeouts, and computes fairness metrics over the accumulated record.
package turns

import (
	"fmt"
	"math"
	"sync"
	"time"

	"dev.helix.deliberation/internal/deliberation/core"
)

// Strategy identifies the turn-allocation strategy.
type Strategy string

const (
	// StrategyRoundRobin gives the turn to the agent with the fewest
	// turns so far, ties broken by participant list order.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyWeightedFair scores agents by weight over turns taken,
	// reduced geometrically per accumulated timeout.
	StrategyWeightedFair Strategy = "weighted_fair"
	// StrategyPriority ranks agents by role priority over turns taken.
	StrategyPriority Strategy = "priority_based"
	// StrategyDynamicAdaptive blends turn fairness, configured weight
	// and recent activity, scaled by a timeout penalty.
	StrategyDynamicAdaptive Strategy = "dynamic_adaptive"
)

// Config configures the turn manager.
type Config struct {
	Strategy             Strategy      `json:"strategy"`
	TurnTimeout          time.Duration `json:"turn_timeout"`
	MaxTurnsPerAgent     int           `json:"max_turns_per_agent"`
	FairnessThreshold    float64       `json:"fairness_threshold"`
	TimeoutPenaltyFactor float64       `json:"timeout_penalty_factor"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:             StrategyRoundRobin,
		TurnTimeout:          2 * time.Minute,
		MaxTurnsPerAgent:     10,
		FairnessThreshold:    0.6,
		TimeoutPenaltyFactor: 0.8,
	}
}

// Allocation is a granted speaking turn with an advisory deadline.
type Allocation struct {
	SessionID   string    `json:"session_id"`
	AgentID     string    `json:"agent_id"`
	TurnNumber  int       `json:"turn_number"`
	Strategy    Strategy  `json:"strategy"`
	AllocatedAt time.Time `json:"allocated_at"`
	Deadline    time.Time `json:"deadline"`
}

// Manager maintains per-session turn histories and at most one pending
// allocation per session.
type Manager struct {
	config   Config
	history  map[string][]core.TurnRecord
	pending  map[string]*Allocation
	timeouts map[string]map[string]int // session id -> agent id -> timeout count
	clock    core.Clock
	mu       sync.RWMutex
}

// NewManager creates a turn manager.
func NewManager(config Config, clock core.Clock) *Manager {
	if config.TimeoutPenaltyFactor <= 0 || config.TimeoutPenaltyFactor > 1 {
		config.TimeoutPenaltyFactor = 0.8
	}
	return &Manager{
		config:   config,
		history:  make(map[string][]core.TurnRecord),
		pending:  make(map[string]*Allocation),
		timeouts: make(map[string]map[string]int),
		clock:    clock,
	}
}

// AllocateNextTurn selects the next speaker for the session. Agents at
// or above the configured max turns are excluded; if nobody remains
// eligible a capacity error is returned. At most one allocation may be
// pending per session.
func (m *Manager) AllocateNextTurn(sessionID string, participants []core.Participant) (*Allocation, error) {
	if len(participants) == 0 {
		return nil, core.Errorf(core.ErrCodeValidation, sessionID, "no participants to allocate a turn among")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pending, ok := m.pending[sessionID]; ok {
		return nil, core.Errorf(core.ErrCodeInvalidState, sessionID,
			"turn %d is already allocated to agent %s", pending.TurnNumber, pending.AgentID)
	}

	turnCounts := m.turnCountsLocked(sessionID)

	eligible := make([]core.Participant, 0, len(participants))
	for _, p := range participants {
		if m.config.MaxTurnsPerAgent > 0 && turnCounts[p.AgentID] >= m.config.MaxTurnsPerAgent {
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return nil, core.Errorf(core.ErrCodeCapacity, sessionID,
			"all participants have reached the maximum of %d turns", m.config.MaxTurnsPerAgent)
	}

	var agentID string
	switch m.config.Strategy {
	case StrategyWeightedFair:
		agentID = m.selectWeightedFair(sessionID, eligible, turnCounts)
	case StrategyPriority:
		agentID = m.selectPriority(eligible, turnCounts)
	case StrategyDynamicAdaptive:
		agentID = m.selectDynamicAdaptive(sessionID, eligible, turnCounts)
	default:
		agentID = m.selectRoundRobin(eligible, turnCounts)
	}

	now := m.clock.Now()
	allocation := &Allocation{
		SessionID:   sessionID,
		AgentID:     agentID,
		TurnNumber:  len(m.history[sessionID]) + 1,
		Strategy:    m.config.Strategy,
		AllocatedAt: now,
		Deadline:    now.Add(m.config.TurnTimeout),
	}
	m.pending[sessionID] = allocation

	return allocation, nil
}

// RecordTurn appends a turn record for the agent and clears any pending
// allocation for the session.
func (m *Manager) RecordTurn(sessionID, agentID string, action core.TurnAction, duration time.Duration, timedOut bool) core.TurnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := core.TurnRecord{
		AgentID:    agentID,
		TurnNumber: len(m.history[sessionID]) + 1,
		Timestamp:  m.clock.Now(),
		Duration:   duration,
		Action:     action,
		TimedOut:   timedOut,
	}
	m.history[sessionID] = append(m.history[sessionID], record)

	if timedOut {
		if m.timeouts[sessionID] == nil {
			m.timeouts[sessionID] = make(map[string]int)
		}
		m.timeouts[sessionID][agentID]++
	}

	delete(m.pending, sessionID)
	return record
}

// PendingAllocation returns the session's pending allocation, if any.
func (m *Manager) PendingAllocation(sessionID string) (*Allocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allocation, ok := m.pending[sessionID]
	return allocation, ok
}

// IsCurrentTurnTimedOut reports whether a pending allocation's deadline
// has passed. Deadlines are advisory; nothing is enforced by a timer.
func (m *Manager) IsCurrentTurnTimedOut(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allocation, ok := m.pending[sessionID]
	if !ok {
		return false
	}
	return m.clock.Now().After(allocation.Deadline)
}

// History returns a copy of the session's turn history.
func (m *Manager) History(sessionID string) []core.TurnRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.history[sessionID]
	out := make([]core.TurnRecord, len(history))
	copy(out, history)
	return out
}

// ClearSession drops the history, timeouts and pending allocation for a
// session. Called when a debate is closed.
func (m *Manager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.history, sessionID)
	delete(m.pending, sessionID)
	delete(m.timeouts, sessionID)
}

// rolePriorities rank speaking priority: the mediator speaks first,
// observers last.
var rolePriorities = map[core.Role]float64{
	core.RoleMediator:  4,
	core.RoleProponent: 3,
	core.RoleOpponent:  2,
	core.RoleObserver:  1,
}

// selectRoundRobin picks the agent with the fewest turns so far, ties
// broken by participant list order.
func (m *Manager) selectRoundRobin(participants []core.Participant, turnCounts map[string]int) string {
	best := participants[0].AgentID
	bestCount := turnCounts[best]
	for _, p := range participants[1:] {
		if turnCounts[p.AgentID] < bestCount {
			best = p.AgentID
			bestCount = turnCounts[p.AgentID]
		}
	}
	return best
}

// selectWeightedFair scores each agent weight/(turns+1), reduced
// geometrically per accumulated timeout.
func (m *Manager) selectWeightedFair(sessionID string, participants []core.Participant, turnCounts map[string]int) string {
	best := participants[0].AgentID
	bestScore := math.Inf(-1)
	for _, p := range participants {
		score := p.Weight / float64(turnCounts[p.AgentID]+1)
		score *= math.Pow(m.config.TimeoutPenaltyFactor, float64(m.timeouts[sessionID][p.AgentID]))
		if score > bestScore {
			best = p.AgentID
			bestScore = score
		}
	}
	return best
}

// selectPriority scores each agent by role priority over turns taken.
func (m *Manager) selectPriority(participants []core.Participant, turnCounts map[string]int) string {
	best := participants[0].AgentID
	bestScore := math.Inf(-1)
	for _, p := range participants {
		score := rolePriorities[p.Role] / float64(turnCounts[p.AgentID]+1)
		if score > bestScore {
			best = p.AgentID
			bestScore = score
		}
	}
	return best
}

// selectDynamicAdaptive blends inverse-turn fairness (40%), configured
// weight (30%) and inverse recent activity over the last three turns
// (20%), scaled by the timeout penalty.
func (m *Manager) selectDynamicAdaptive(sessionID string, participants []core.Participant, turnCounts map[string]int) string {
	recent := m.recentActivityLocked(sessionID, 3)

	best := participants[0].AgentID
	bestScore := math.Inf(-1)
	for _, p := range participants {
		fairness := 1.0 / float64(turnCounts[p.AgentID]+1)
		activity := 1.0 / float64(recent[p.AgentID]+1)
		score := 0.4*fairness + 0.3*p.Weight + 0.2*activity
		score *= math.Pow(m.config.TimeoutPenaltyFactor, float64(m.timeouts[sessionID][p.AgentID]))
		if score > bestScore {
			best = p.AgentID
			bestScore = score
		}
	}
	return best
}

func (m *Manager) turnCountsLocked(sessionID string) map[string]int {
	counts := make(map[string]int)
	for _, record := range m.history[sessionID] {
		counts[record.AgentID]++
	}
	return counts
}

// recentActivityLocked counts each agent's turns among the last n
// records.
func (m *Manager) recentActivityLocked(sessionID string, n int) map[string]int {
	history := m.history[sessionID]
	recent := make(map[string]int)
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	for _, record := range history[start:] {
		recent[record.AgentID]++
	}
	return recent
}

// AgentTurnStats holds per-agent turn statistics.
type AgentTurnStats struct {
	Turns             int     `json:"turns"`
	TimedOutTurns     int     `json:"timed_out_turns"`
	ParticipationRate float64 `json:"participation_rate"`
}

// FairnessMetrics summarizes how evenly turns are distributed.
type FairnessMetrics struct {
	TotalTurns    int                       `json:"total_turns"`
	PerAgent      map[string]AgentTurnStats `json:"per_agent"`
	FairnessScore float64                   `json:"fairness_score"`
}

// CalculateFairnessMetrics computes per-agent turn counts and
// participation rates plus an overall fairness score: 1 minus the
// normalized mean absolute deviation of turn counts. With no turns the
// score is 1.
func (m *Manager) CalculateFairnessMetrics(sessionID string, participants []core.Participant) FairnessMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.history[sessionID]
	metrics := FairnessMetrics{
		TotalTurns: len(history),
		PerAgent:   make(map[string]AgentTurnStats),
	}

	counts := make(map[string]int)
	timedOut := make(map[string]int)
	for _, record := range history {
		counts[record.AgentID]++
		if record.TimedOut {
			timedOut[record.AgentID]++
		}
	}

	for _, p := range participants {
		stats := AgentTurnStats{
			Turns:         counts[p.AgentID],
			TimedOutTurns: timedOut[p.AgentID],
		}
		if len(history) > 0 {
			stats.ParticipationRate = float64(stats.Turns) / float64(len(history))
		}
		metrics.PerAgent[p.AgentID] = stats
	}

	metrics.FairnessScore = fairnessScore(counts, participants)
	return metrics
}

func fairnessScore(counts map[string]int, participants []core.Participant) float64 {
	if len(participants) == 0 {
		return 1
	}

	total := 0
	for _, p := range participants {
		total += counts[p.AgentID]
	}
	if total == 0 {
		return 1
	}

	mean := float64(total) / float64(len(participants))
	var deviation float64
	for _, p := range participants {
		deviation += math.Abs(float64(counts[p.AgentID]) - mean)
	}

	score := 1 - deviation/(2*mean*float64(len(participants)))
	if score < 0 {
		score = 0
	}
	return score
}

// FairnessReport lists fairness violations found for a session.
type FairnessReport struct {
	Fair   bool     `json:"fair"`
	Issues []string `json:"issues,omitempty"`
}

// ValidateFairness flags a low overall fairness score, turn
// monopolization, silent agents and agents whose turns mostly time out.
func (m *Manager) ValidateFairness(sessionID string, participants []core.Participant) FairnessReport {
	metrics := m.CalculateFairnessMetrics(sessionID, participants)
	report := FairnessReport{}

	if metrics.FairnessScore < m.config.FairnessThreshold {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"fairness score %.2f below threshold %.2f",
			metrics.FairnessScore, m.config.FairnessThreshold))
	}

	for _, p := range participants {
		stats := metrics.PerAgent[p.AgentID]
		if metrics.TotalTurns > 0 && stats.ParticipationRate > 0.5 {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"agent %s holds more than half of all turns", p.AgentID))
		}
		if metrics.TotalTurns > 0 && stats.Turns == 0 {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"agent %s has taken no turns", p.AgentID))
		}
		if stats.Turns > 0 && float64(stats.TimedOutTurns)/float64(stats.Turns) > 0.5 {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"agent %s timed out on more than half of its turns", p.AgentID))
		}
	}

	report.Fair = len(report.Issues) == 0
	return report
}
