// Package config loads engine configuration from a YAML file and from
// environment variables. Defaults mirror the per-package DefaultConfig
// constructors; file values override defaults and environment variables
// override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"dev.helix.deliberation/internal/deliberation/appeals"
	"dev.helix.deliberation/internal/deliberation/consensus"
	"dev.helix.deliberation/internal/deliberation/coordinator"
	"dev.helix.deliberation/internal/deliberation/core"
	"dev.helix.deliberation/internal/deliberation/orchestrator"
	"dev.helix.deliberation/internal/deliberation/turns"
)

// Duration accepts Go duration strings ("30m", "90s") in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Engine      EngineConfig      `yaml:"engine"`
	Consensus   ConsensusConfig   `yaml:"consensus"`
	Turns       TurnsConfig       `yaml:"turns"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Appeals     AppealsConfig     `yaml:"appeals"`
}

// EngineConfig covers session-level settings.
type EngineConfig struct {
	MinParticipants  int      `yaml:"min_participants"`
	MaxParticipants  int      `yaml:"max_participants"`
	MaxDuration      Duration `yaml:"max_duration"`
	Algorithm        string   `yaml:"algorithm"`
	DeadlockStrategy string   `yaml:"deadlock_strategy"`
}

type ConsensusConfig struct {
	MinParticipation       float64 `yaml:"min_participation"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	SupermajorityThreshold float64 `yaml:"supermajority_threshold"`
}

type TurnsConfig struct {
	Strategy             string   `yaml:"strategy"`
	TurnTimeout          Duration `yaml:"turn_timeout"`
	MaxTurnsPerAgent     int      `yaml:"max_turns_per_agent"`
	FairnessThreshold    float64  `yaml:"fairness_threshold"`
	TimeoutPenaltyFactor float64  `yaml:"timeout_penalty_factor"`
}

type CoordinatorConfig struct {
	Strategy           string `yaml:"strategy"`
	MinAgentsPerDebate int    `yaml:"min_agents_per_debate"`
	MaxAgentsPerDebate int    `yaml:"max_agents_per_debate"`
}

type AppealsConfig struct {
	AllowDuringConsensusForming bool    `yaml:"allow_during_consensus_forming"`
	MaxAppealsPerAgent          int     `yaml:"max_appeals_per_agent"`
	RequireMediatorReview       bool    `yaml:"require_mediator_review"`
	MinConfidence               float64 `yaml:"min_confidence"`
	EscalationThreshold         float64 `yaml:"escalation_threshold"`
}

// Default returns a config mirroring the engine defaults.
func Default() *Config {
	sess := core.DefaultSessionConfig()
	cons := consensus.DefaultOptions()
	trn := turns.DefaultConfig()
	coord := coordinator.DefaultConfig()
	app := appeals.DefaultConfig()

	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			MinParticipants:  2,
			MaxParticipants:  10,
			MaxDuration:      Duration(sess.MaxDuration),
			Algorithm:        string(sess.Algorithm),
			DeadlockStrategy: string(sess.DeadlockStrategy),
		},
		Consensus: ConsensusConfig{
			MinParticipation:       cons.MinParticipation,
			ConfidenceThreshold:    cons.ConfidenceThreshold,
			SupermajorityThreshold: cons.SupermajorityThreshold,
		},
		Turns: TurnsConfig{
			Strategy:             string(trn.Strategy),
			TurnTimeout:          Duration(trn.TurnTimeout),
			MaxTurnsPerAgent:     trn.MaxTurnsPerAgent,
			FairnessThreshold:    trn.FairnessThreshold,
			TimeoutPenaltyFactor: trn.TimeoutPenaltyFactor,
		},
		Coordinator: CoordinatorConfig{
			Strategy:           string(coord.Strategy),
			MinAgentsPerDebate: coord.MinAgentsPerDebate,
			MaxAgentsPerDebate: coord.MaxAgentsPerDebate,
		},
		Appeals: AppealsConfig{
			AllowDuringConsensusForming: app.AllowDuringConsensusForming,
			MaxAppealsPerAgent:          app.MaxAppealsPerAgent,
			RequireMediatorReview:       app.RequireMediatorReview,
			MinConfidence:               app.MinConfidence,
			EscalationThreshold:         app.EscalationThreshold,
		},
	}
}

// Load returns the default config with environment variable overrides
// applied.
func Load() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML config file over the defaults, then applies
// environment variable overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MinParticipants < 2 {
		return fmt.Errorf("engine.min_participants must be at least 2, got %d", c.Engine.MinParticipants)
	}
	if c.Engine.MaxParticipants < c.Engine.MinParticipants {
		return fmt.Errorf("engine.max_participants %d is below engine.min_participants %d",
			c.Engine.MaxParticipants, c.Engine.MinParticipants)
	}
	if !core.ValidAlgorithm(core.ConsensusAlgorithm(c.Engine.Algorithm)) {
		return fmt.Errorf("unknown consensus algorithm %q", c.Engine.Algorithm)
	}
	if c.Consensus.SupermajorityThreshold <= 0.5 || c.Consensus.SupermajorityThreshold > 1 {
		return fmt.Errorf("consensus.supermajority_threshold must be in (0.5, 1], got %v",
			c.Consensus.SupermajorityThreshold)
	}
	return nil
}

// Orchestrator builds the orchestrator config from the loaded values.
func (c *Config) Orchestrator() orchestrator.Config {
	sess := core.DefaultSessionConfig()
	sess.MaxDuration = time.Duration(c.Engine.MaxDuration)
	sess.Algorithm = core.ConsensusAlgorithm(c.Engine.Algorithm)
	sess.DeadlockStrategy = core.DeadlockStrategy(c.Engine.DeadlockStrategy)
	sess.AppealPolicy = core.AppealPolicy{
		AllowDuringConsensusForming: c.Appeals.AllowDuringConsensusForming,
		MaxAppealsPerAgent:          c.Appeals.MaxAppealsPerAgent,
		RequireMediatorReview:       c.Appeals.RequireMediatorReview,
	}

	return orchestrator.Config{
		MinParticipants: c.Engine.MinParticipants,
		MaxParticipants: c.Engine.MaxParticipants,
		Session:         sess,
		Consensus: consensus.Options{
			Algorithm:              core.ConsensusAlgorithm(c.Engine.Algorithm),
			MinParticipation:       c.Consensus.MinParticipation,
			ConfidenceThreshold:    c.Consensus.ConfidenceThreshold,
			SupermajorityThreshold: c.Consensus.SupermajorityThreshold,
		},
		Turns: turns.Config{
			Strategy:             turns.Strategy(c.Turns.Strategy),
			TurnTimeout:          time.Duration(c.Turns.TurnTimeout),
			MaxTurnsPerAgent:     c.Turns.MaxTurnsPerAgent,
			FairnessThreshold:    c.Turns.FairnessThreshold,
			TimeoutPenaltyFactor: c.Turns.TimeoutPenaltyFactor,
		},
		Appeals: c.AppealsConfig(),
	}
}

// CoordinatorConfig builds the coordinator config from the loaded values.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		Strategy:           coordinator.Strategy(c.Coordinator.Strategy),
		MinAgentsPerDebate: c.Coordinator.MinAgentsPerDebate,
		MaxAgentsPerDebate: c.Coordinator.MaxAgentsPerDebate,
	}
}

// AppealsConfig builds the appeal handler config from the loaded values.
func (c *Config) AppealsConfig() appeals.Config {
	return appeals.Config{
		AllowDuringConsensusForming: c.Appeals.AllowDuringConsensusForming,
		MaxAppealsPerAgent:          c.Appeals.MaxAppealsPerAgent,
		RequireMediatorReview:       c.Appeals.RequireMediatorReview,
		MinConfidence:               c.Appeals.MinConfidence,
		EscalationThreshold:         c.Appeals.EscalationThreshold,
	}
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("DELIBERATION_LOG_LEVEL", c.LogLevel)
	c.Engine.MinParticipants = getIntEnv("DELIBERATION_MIN_PARTICIPANTS", c.Engine.MinParticipants)
	c.Engine.MaxParticipants = getIntEnv("DELIBERATION_MAX_PARTICIPANTS", c.Engine.MaxParticipants)
	c.Engine.MaxDuration = Duration(getDurationEnv("DELIBERATION_MAX_DURATION", time.Duration(c.Engine.MaxDuration)))
	c.Engine.Algorithm = getEnv("DELIBERATION_ALGORITHM", c.Engine.Algorithm)
	c.Engine.DeadlockStrategy = getEnv("DELIBERATION_DEADLOCK_STRATEGY", c.Engine.DeadlockStrategy)
	c.Consensus.MinParticipation = getFloatEnv("DELIBERATION_MIN_PARTICIPATION", c.Consensus.MinParticipation)
	c.Consensus.ConfidenceThreshold = getFloatEnv("DELIBERATION_CONFIDENCE_THRESHOLD", c.Consensus.ConfidenceThreshold)
	c.Consensus.SupermajorityThreshold = getFloatEnv("DELIBERATION_SUPERMAJORITY_THRESHOLD", c.Consensus.SupermajorityThreshold)
	c.Turns.Strategy = getEnv("DELIBERATION_TURN_STRATEGY", c.Turns.Strategy)
	c.Turns.TurnTimeout = Duration(getDurationEnv("DELIBERATION_TURN_TIMEOUT", time.Duration(c.Turns.TurnTimeout)))
	c.Turns.MaxTurnsPerAgent = getIntEnv("DELIBERATION_MAX_TURNS_PER_AGENT", c.Turns.MaxTurnsPerAgent)
	c.Coordinator.Strategy = getEnv("DELIBERATION_COORDINATOR_STRATEGY", c.Coordinator.Strategy)
	c.Appeals.MaxAppealsPerAgent = getIntEnv("DELIBERATION_MAX_APPEALS_PER_AGENT", c.Appeals.MaxAppealsPerAgent)
	c.Appeals.RequireMediatorReview = getBoolEnv("DELIBERATION_REQUIRE_MEDIATOR_REVIEW", c.Appeals.RequireMediatorReview)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
