// Package config loads and validates the yieldcouncil engine configuration.
// All values come from environment variables with sensible defaults; an
// invalid combination is a ConfigurationError and aborts construction
// before any evaluation cycle can run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LockMode controls what happens when evaluate() is called while another
// cycle is in flight.
type LockMode string

const (
	// LockReject refuses concurrent invocations with "evaluation in progress".
	LockReject LockMode = "reject"
	// LockQueue queues concurrent invocations FIFO behind the running cycle.
	LockQueue LockMode = "queue"
)

// Config holds all configuration for the yieldcouncil decision engine.
type Config struct {
	Port    int
	Version string

	Thresholds  ThresholdConfig
	Risk        RiskConfig
	Voting      VotingConfig
	Gather      GatherConfig
	Eligibility EligibilityConfig
	Ledger      LedgerConfig
	Plan        PlanConfig
	Sources     SourcesConfig
	Telemetry   TelemetryConfig

	// DecisionTimeout is the end-to-end deadline for one cycle, from
	// eligibility check through validation.
	DecisionTimeout time.Duration

	// LockMode selects reject vs queue behavior for concurrent evaluate calls.
	LockMode LockMode
}

// ThresholdConfig holds the validator gates.
type ThresholdConfig struct {
	MinimumConfidence  float64
	ConsensusThreshold float64
	RiskCeiling        float64
}

// RiskConfig holds the convex combination weights and failure defaults.
type RiskConfig struct {
	StrategyWeight  float64
	MarketWeight    float64
	LiquidityWeight float64
	TechnicalWeight float64

	// PessimisticDefault is used for liquidity/technical risk when the
	// provider fails, so a dead feed never under-estimates risk.
	PessimisticDefault float64
}

// VotingConfig bounds the voting engine.
type VotingConfig struct {
	MaxRounds int
	// JitterAmplitude scales the per-round confidence noise. Zero keeps
	// voting fully deterministic.
	JitterAmplitude float64
	// JitterSeed seeds the noise source when amplitude is non-zero.
	JitterSeed int64
}

// GatherConfig bounds the input aggregation phase.
type GatherConfig struct {
	FetchTimeout   time.Duration // per-source sub-timeout
	OverallTimeout time.Duration // whole gather deadline
}

// EligibilityConfig bounds the eligibility gate.
type EligibilityConfig struct {
	CooldownPeriod time.Duration
	RetryWindow    time.Duration
	// MaintenanceMode is an operator-set kill switch that blocks every
	// cycle until unset.
	MaintenanceMode bool
}

// LedgerConfig bounds the decision ledger.
type LedgerConfig struct {
	Capacity          int
	PerformanceWindow int
	// DataDir, when non-empty, enables JSON snapshot persistence.
	DataDir string
}

// PlanConfig holds the deterministic execution plan estimates.
type PlanConfig struct {
	HealthCheckSeconds int
	ExecutionSeconds   int
	VerifySeconds      int
	HealthCheckGas     int64
	ExecutionGas       int64
	VerifyGas          int64
}

// SourcesConfig points at the external collaborators.
type SourcesConfig struct {
	StrategyURL string
	SignalURL   string
	RiskFeedURL string
	// MarketURL is the market-suitability endpoint. Empty skips the rule.
	MarketURL string
	// EmergencyURLs lists kill-switch endpoints as "name=url" pairs.
	EmergencyURLs []string
	HTTPTimeout   time.Duration
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// ConfigurationError reports an invalid configuration value. It is the
// only fatal error class in the engine: everything else degrades into
// the returned decision's reasoning.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("YIELDCOUNCIL_PORT", 8080),
		Version: envStr("YIELDCOUNCIL_VERSION", "0.2.0"),
		Thresholds: ThresholdConfig{
			MinimumConfidence:  envFloat("COUNCIL_MIN_CONFIDENCE", 0.6),
			ConsensusThreshold: envFloat("COUNCIL_CONSENSUS_THRESHOLD", 0.7),
			RiskCeiling:        envFloat("COUNCIL_RISK_CEILING", 0.7),
		},
		Risk: RiskConfig{
			StrategyWeight:     envFloat("RISK_WEIGHT_STRATEGY", 0.3),
			MarketWeight:       envFloat("RISK_WEIGHT_MARKET", 0.3),
			LiquidityWeight:    envFloat("RISK_WEIGHT_LIQUIDITY", 0.2),
			TechnicalWeight:    envFloat("RISK_WEIGHT_TECHNICAL", 0.2),
			PessimisticDefault: envFloat("RISK_PESSIMISTIC_DEFAULT", 0.5),
		},
		Voting: VotingConfig{
			MaxRounds:       envInt("VOTING_MAX_ROUNDS", 3),
			JitterAmplitude: envFloat("VOTING_JITTER_AMPLITUDE", 0),
			JitterSeed:      int64(envInt("VOTING_JITTER_SEED", 1)),
		},
		Gather: GatherConfig{
			FetchTimeout:   envDuration("GATHER_FETCH_TIMEOUT", 10*time.Second),
			OverallTimeout: envDuration("GATHER_OVERALL_TIMEOUT", 30*time.Second),
		},
		Eligibility: EligibilityConfig{
			CooldownPeriod:  envDuration("ELIGIBILITY_COOLDOWN", 24*time.Hour),
			RetryWindow:     envDuration("ELIGIBILITY_RETRY_WINDOW", 2*time.Hour),
			MaintenanceMode: envBool("ELIGIBILITY_MAINTENANCE_MODE", false),
		},
		Ledger: LedgerConfig{
			Capacity:          envInt("LEDGER_CAPACITY", 100),
			PerformanceWindow: envInt("LEDGER_PERFORMANCE_WINDOW", 10),
			DataDir:           envStr("YIELDCOUNCIL_DATA_DIR", ""),
		},
		Plan: PlanConfig{
			HealthCheckSeconds: envInt("PLAN_HEALTH_CHECK_SECONDS", 30),
			ExecutionSeconds:   envInt("PLAN_EXECUTION_SECONDS", 300),
			VerifySeconds:      envInt("PLAN_VERIFY_SECONDS", 60),
			HealthCheckGas:     int64(envInt("PLAN_HEALTH_CHECK_GAS", 150000)),
			ExecutionGas:       int64(envInt("PLAN_EXECUTION_GAS", 850000)),
			VerifyGas:          int64(envInt("PLAN_VERIFY_GAS", 120000)),
		},
		Sources: SourcesConfig{
			StrategyURL:   envStr("SOURCE_STRATEGY_URL", ""),
			SignalURL:     envStr("SOURCE_SIGNAL_URL", ""),
			RiskFeedURL:   envStr("SOURCE_RISK_FEED_URL", ""),
			MarketURL:     envStr("SOURCE_MARKET_SUITABILITY_URL", ""),
			EmergencyURLs: envStrList("SOURCE_EMERGENCY_URLS"),
			HTTPTimeout:   envDuration("SOURCE_HTTP_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "yieldcouncil"),
		},
		DecisionTimeout: envDuration("DECISION_TIMEOUT", 30*time.Second),
		LockMode:        LockMode(envStr("COUNCIL_LOCK_MODE", string(LockReject))),
	}
}

// Validate checks threshold and weight invariants. It returns a
// *ConfigurationError describing the first violation found.
func (c *Config) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"COUNCIL_MIN_CONFIDENCE", c.Thresholds.MinimumConfidence},
		{"COUNCIL_CONSENSUS_THRESHOLD", c.Thresholds.ConsensusThreshold},
		{"COUNCIL_RISK_CEILING", c.Thresholds.RiskCeiling},
		{"RISK_PESSIMISTIC_DEFAULT", c.Risk.PessimisticDefault},
	} {
		if f.value < 0 || f.value > 1 {
			return &ConfigurationError{Field: f.name, Reason: "must be within [0,1]"}
		}
	}

	sum := c.Risk.StrategyWeight + c.Risk.MarketWeight + c.Risk.LiquidityWeight + c.Risk.TechnicalWeight
	if sum < 0.999 || sum > 1.001 {
		return &ConfigurationError{Field: "risk weights", Reason: fmt.Sprintf("must sum to 1, got %.3f", sum)}
	}
	for _, w := range []float64{c.Risk.StrategyWeight, c.Risk.MarketWeight, c.Risk.LiquidityWeight, c.Risk.TechnicalWeight} {
		if w < 0 {
			return &ConfigurationError{Field: "risk weights", Reason: "must be non-negative"}
		}
	}

	if c.Voting.MaxRounds < 1 {
		return &ConfigurationError{Field: "VOTING_MAX_ROUNDS", Reason: "must be at least 1"}
	}
	if c.Voting.JitterAmplitude < 0 {
		return &ConfigurationError{Field: "VOTING_JITTER_AMPLITUDE", Reason: "must be non-negative"}
	}
	if c.Ledger.Capacity < 1 {
		return &ConfigurationError{Field: "LEDGER_CAPACITY", Reason: "must be at least 1"}
	}
	if c.DecisionTimeout <= 0 {
		return &ConfigurationError{Field: "DECISION_TIMEOUT", Reason: "must be positive"}
	}
	if c.Gather.FetchTimeout <= 0 || c.Gather.OverallTimeout <= 0 {
		return &ConfigurationError{Field: "gather timeouts", Reason: "must be positive"}
	}
	if c.LockMode != LockReject && c.LockMode != LockQueue {
		return &ConfigurationError{Field: "COUNCIL_LOCK_MODE", Reason: `must be "reject" or "queue"`}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envStrList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
