// Package coordinator assigns deliberation roles to registered agents
// using pluggable load-balancing strategies and tracks per-agent load
// and availability. The agent registry itself is fed by an external
// capability source; the coordinator never discovers agents.
package coordinator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"dev.helix.deliberation/internal/deliberation/core"
)

// Strategy identifies the agent-selection strategy.
type Strategy string

const (
	// StrategyRoundRobin cycles through registered agents across calls.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLeastLoaded prefers the agent with the lowest current load.
	StrategyLeastLoaded Strategy = "least_loaded"
	// StrategyCapabilityBased matches agent expertise against requested tags.
	StrategyCapabilityBased Strategy = "capability_based"
	// StrategyHybrid blends availability and expertise equally.
	StrategyHybrid Strategy = "hybrid"
)

// Config configures the coordinator.
type Config struct {
	Strategy           Strategy `json:"strategy"`
	MinAgentsPerDebate int      `json:"min_agents_per_debate"`
	MaxAgentsPerDebate int      `json:"max_agents_per_debate"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyHybrid,
		MinAgentsPerDebate: 2,
		MaxAgentsPerDebate: 10,
	}
}

// Coordinator owns the agent capability registry and role assignment.
type Coordinator struct {
	config  Config
	logger  *logrus.Logger
	agents  map[string]*core.AgentCapability
	order   []string // registration order, drives round-robin and tie-breaks
	rrIndex int
	mu      sync.RWMutex
}

// New creates a coordinator.
func New(config Config, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		config: config,
		logger: logger,
		agents: make(map[string]*core.AgentCapability),
	}
}

// RegisterAgent adds or updates an agent in the registry. The load
// envelope is validated: load must be non-negative and max load at
// least 1. Agents registered without roles default to observer.
func (c *Coordinator) RegisterAgent(capability core.AgentCapability) error {
	if capability.AgentID == "" {
		return core.Errorf(core.ErrCodeValidation, "", "agent id cannot be empty")
	}
	if capability.CurrentLoad < 0 {
		return core.Errorf(core.ErrCodeValidation, "",
			"agent %s has negative load %d", capability.AgentID, capability.CurrentLoad)
	}
	if capability.MaxLoad < 1 {
		return core.Errorf(core.ErrCodeValidation, "",
			"agent %s max load must be at least 1, got %d", capability.AgentID, capability.MaxLoad)
	}
	for _, role := range capability.Roles {
		if !core.ValidRole(role) {
			return core.Errorf(core.ErrCodeValidation, "",
				"agent %s has unknown role %q", capability.AgentID, role)
		}
	}
	if len(capability.Roles) == 0 {
		capability.Roles = []core.Role{core.DefaultRole}
	}
	capability.RecomputeAvailability()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[capability.AgentID]; !exists {
		c.order = append(c.order, capability.AgentID)
	}
	c.agents[capability.AgentID] = &capability

	c.logger.Debugf("registered agent %s with roles %v (load %d/%d)",
		capability.AgentID, capability.Roles, capability.CurrentLoad, capability.MaxLoad)
	return nil
}

// UnregisterAgent removes an agent from the registry.
func (c *Coordinator) UnregisterAgent(agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.agents[agentID]; !ok {
		return core.Errorf(core.ErrCodeNotFound, "", "agent %s is not registered", agentID)
	}
	delete(c.agents, agentID)
	for i, id := range c.order {
		if id == agentID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetAgent returns a copy of the agent's capability record.
func (c *Coordinator) GetAgent(agentID string) (core.AgentCapability, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return core.AgentCapability{}, core.Errorf(core.ErrCodeNotFound, "",
			"agent %s is not registered", agentID)
	}
	return *agent, nil
}

// ListAgents returns all registered agents in registration order.
func (c *Coordinator) ListAgents() []core.AgentCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agents := make([]core.AgentCapability, 0, len(c.order))
	for _, id := range c.order {
		agents = append(agents, *c.agents[id])
	}
	return agents
}

// UpdateAgentLoad adjusts an agent's current load by delta (floored at
// zero) and recomputes its availability.
func (c *Coordinator) UpdateAgentLoad(agentID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return core.Errorf(core.ErrCodeNotFound, "", "agent %s is not registered", agentID)
	}
	agent.CurrentLoad += delta
	if agent.CurrentLoad < 0 {
		agent.CurrentLoad = 0
	}
	agent.RecomputeAvailability()
	return nil
}

// RoleAssignment binds one required role to a selected agent.
type RoleAssignment struct {
	Role       core.Role `json:"role"`
	AgentID    string    `json:"agent_id"`
	MatchScore float64   `json:"match_score"`
}

// AssignmentResult is the outcome of a role-assignment request.
type AssignmentResult struct {
	Assignments  []RoleAssignment     `json:"assignments"`
	Confidence   float64              `json:"confidence"`
	Alternatives map[core.Role]string `json:"alternatives,omitempty"`
}

// AssignRoles selects one agent per required role using the configured
// strategy. Agents at max load are excluded, an agent is assigned at
// most one role per call, and each successful assignment increments the
// agent's load. Up to one alternative candidate is reported per role.
func (c *Coordinator) AssignRoles(sessionID string, roles []core.Role, expertiseTags []string) (*AssignmentResult, error) {
	if len(roles) < c.config.MinAgentsPerDebate {
		return nil, core.Errorf(core.ErrCodeCapacity, sessionID,
			"debate requires at least %d roles, requested %d", c.config.MinAgentsPerDebate, len(roles))
	}
	if len(roles) > c.config.MaxAgentsPerDebate {
		return nil, core.Errorf(core.ErrCodeCapacity, sessionID,
			"debate allows at most %d roles, requested %d", c.config.MaxAgentsPerDebate, len(roles))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := &AssignmentResult{
		Alternatives: make(map[core.Role]string),
	}
	chosen := make(map[string]bool)
	var scoreSum float64

	for _, role := range roles {
		ranked := c.rankCandidatesLocked(role, expertiseTags, chosen)
		if len(ranked) == 0 {
			return nil, core.Errorf(core.ErrCodeCapacity, sessionID,
				"no available agent is eligible for role %s", role)
		}

		pick := ranked[0]
		chosen[pick.agentID] = true
		scoreSum += pick.score
		result.Assignments = append(result.Assignments, RoleAssignment{
			Role:       role,
			AgentID:    pick.agentID,
			MatchScore: pick.score,
		})

		for _, alt := range ranked[1:] {
			if !chosen[alt.agentID] {
				result.Alternatives[role] = alt.agentID
				break
			}
		}
	}

	// Commit load increments only after every role found an agent.
	for _, assignment := range result.Assignments {
		agent := c.agents[assignment.AgentID]
		agent.CurrentLoad++
		agent.RecomputeAvailability()
	}

	result.Confidence = scoreSum / float64(len(result.Assignments))

	c.logger.Infof("assigned %d roles for session %s with confidence %.2f (strategy %s)",
		len(result.Assignments), sessionID, result.Confidence, c.config.Strategy)
	return result, nil
}

type candidate struct {
	agentID string
	score   float64
}

// rankCandidatesLocked orders the eligible, not-yet-chosen agents for a
// role, best first, according to the configured strategy.
func (c *Coordinator) rankCandidatesLocked(role core.Role, tags []string, chosen map[string]bool) []candidate {
	var eligible []*core.AgentCapability
	for _, id := range c.order {
		agent := c.agents[id]
		if chosen[agent.AgentID] {
			continue
		}
		if agent.CurrentLoad >= agent.MaxLoad {
			continue
		}
		if !agent.EligibleFor(role) {
			continue
		}
		eligible = append(eligible, agent)
	}
	if len(eligible) == 0 {
		return nil
	}

	switch c.config.Strategy {
	case StrategyRoundRobin:
		return c.rankRoundRobinLocked(eligible)
	case StrategyLeastLoaded:
		return rankBy(eligible, func(a *core.AgentCapability) float64 {
			return -float64(a.CurrentLoad)
		})
	case StrategyCapabilityBased:
		return rankBy(eligible, func(a *core.AgentCapability) float64 {
			return expertiseMatch(a.Expertise, tags)
		})
	default: // StrategyHybrid
		return rankBy(eligible, func(a *core.AgentCapability) float64 {
			return 0.5*a.Availability + 0.5*expertiseMatch(a.Expertise, tags)
		})
	}
}

// rankRoundRobinLocked rotates the eligible list around the cyclic
// index, which advances on every call.
func (c *Coordinator) rankRoundRobinLocked(eligible []*core.AgentCapability) []candidate {
	start := c.rrIndex % len(eligible)
	c.rrIndex++

	ranked := make([]candidate, 0, len(eligible))
	for i := 0; i < len(eligible); i++ {
		agent := eligible[(start+i)%len(eligible)]
		ranked = append(ranked, candidate{agentID: agent.AgentID, score: 1})
	}
	return ranked
}

// rankBy orders agents by descending score, stable in registration
// order on ties.
func rankBy(eligible []*core.AgentCapability, score func(*core.AgentCapability) float64) []candidate {
	ranked := make([]candidate, 0, len(eligible))
	for _, agent := range eligible {
		ranked = append(ranked, candidate{agentID: agent.AgentID, score: score(agent)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// expertiseMatch computes the keyword overlap between an agent's
// expertise and the requested tags; a request with no tags matches
// everyone fully.
func expertiseMatch(expertise, tags []string) float64 {
	if len(tags) == 0 {
		return 1
	}
	have := make(map[string]bool, len(expertise))
	for _, e := range expertise {
		have[e] = true
	}
	matched := 0
	for _, tag := range tags {
		if have[tag] {
			matched++
		}
	}
	return float64(matched) / float64(len(tags))
}

// String implements fmt.Stringer for diagnostics.
func (c *Coordinator) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("coordinator{agents: %d, strategy: %s}", len(c.agents), c.config.Strategy)
}
