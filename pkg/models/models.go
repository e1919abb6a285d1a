// Package models defines the domain model for the yieldcouncil decision
// engine: collaborator input snapshots, risk assessments, votes and voting
// rounds, consensus results, governed decisions, execution plans, and the
// persisted decision records kept by the ledger.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Vote Sources ─────────────────────────────────────────────

// VoteSource identifies one of the four fixed opinion roles that cast
// votes each round.
type VoteSource string

const (
	SourceStrategy    VoteSource = "strategy"
	SourceSignal      VoteSource = "signal"
	SourceRisk        VoteSource = "risk"
	SourcePerformance VoteSource = "performance"
)

// VoteSources lists all voter roles in their canonical order.
var VoteSources = []VoteSource{SourceStrategy, SourceSignal, SourceRisk, SourcePerformance}

// ── Vote Decisions ───────────────────────────────────────────

// VoteDecision is a single voter's stance within one round.
type VoteDecision string

const (
	VoteRebalance VoteDecision = "rebalance"
	VoteHold      VoteDecision = "hold"
	VoteAbstain   VoteDecision = "abstain"
)

// ── Decision Actions ─────────────────────────────────────────

// DecisionAction is the final governed outcome of one evaluation cycle.
type DecisionAction string

const (
	// ActionReject means the eligibility gate refused to start a cycle.
	ActionReject DecisionAction = "reject"
	// ActionHold means the council decided against rebalancing.
	ActionHold DecisionAction = "hold"
	// ActionRebalance means the council approved a rebalance and an
	// execution plan was produced.
	ActionRebalance DecisionAction = "rebalance"
)

// ── Signal Directions ────────────────────────────────────────

// SignalDirection is the market-signal monitor's overall read.
type SignalDirection string

const (
	DirectionOpportunity SignalDirection = "opportunity"
	DirectionNeutral     SignalDirection = "neutral"
	DirectionWarning     SignalDirection = "warning"
)

// SignalStrength grades how pronounced the signal is.
type SignalStrength string

const (
	StrengthWeak     SignalStrength = "weak"
	StrengthModerate SignalStrength = "moderate"
	StrengthStrong   SignalStrength = "strong"
)

// ── Collaborator Inputs ──────────────────────────────────────

// StrategyInput is the strategy evaluator's opinion for one cycle.
type StrategyInput struct {
	ExpectedReturn      float64 `json:"expected_return"`
	Confidence          float64 `json:"confidence"`
	GasEstimate         float64 `json:"gas_estimate"`
	ImpermanentLossRisk float64 `json:"impermanent_loss_risk"`
}

// SignalFactor is one contributing factor inside a market-signal snapshot.
type SignalFactor struct {
	Type       string          `json:"type"`
	Direction  SignalDirection `json:"direction"`
	Confidence float64         `json:"confidence"`
	Value      float64         `json:"value,omitempty"`
}

// SignalInput is the market-signal monitor's snapshot for one cycle.
type SignalInput struct {
	Direction  SignalDirection `json:"direction"`
	Strength   SignalStrength  `json:"strength"`
	Confidence float64         `json:"confidence"`
	Factors    []SignalFactor  `json:"factors,omitempty"`
}

// AgentInput wraps one collaborator's opinion snapshot together with its
// availability. A failed or timed-out fetch yields Available=false and
// Confidence 0 rather than aborting the cycle.
type AgentInput struct {
	Source     string         `json:"source"`
	Available  bool           `json:"available"`
	Confidence float64        `json:"confidence"`
	Strategy   *StrategyInput `json:"strategy,omitempty"`
	Signal     *SignalInput   `json:"signal,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
	Error      string         `json:"error,omitempty"`
}

// ── Risk Assessment ──────────────────────────────────────────

// RiskComponents holds the four sub-risk signals, each clamped to [0,1].
type RiskComponents struct {
	Strategy  float64 `json:"strategy"`
	Market    float64 `json:"market"`
	Liquidity float64 `json:"liquidity"`
	Technical float64 `json:"technical"`
}

// RiskAssessment is the combined risk picture for one cycle. Overall is
// a convex combination of the components and always stays in [0,1].
type RiskAssessment struct {
	Components RiskComponents `json:"components"`
	Overall    float64        `json:"overall"`
}

// CycleInputs bundles everything the voting engine consumes: the two
// collaborator opinions plus the derived risk assessment.
type CycleInputs struct {
	Strategy AgentInput     `json:"strategy"`
	Signal   AgentInput     `json:"signal"`
	Risk     RiskAssessment `json:"risk"`
}

// ── Voting ───────────────────────────────────────────────────

// Vote is one voter's stance in one round. Immutable once cast.
type Vote struct {
	Source     VoteSource   `json:"source"`
	Decision   VoteDecision `json:"decision"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Round      int          `json:"round"`
}

// VotingRound is the ordered set of votes cast in one round.
type VotingRound struct {
	Round     int       `json:"round"`
	Votes     []Vote    `json:"votes"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsensusResult aggregates every vote across all executed rounds.
type ConsensusResult struct {
	RebalanceCount int          `json:"rebalance_count"`
	HoldCount      int          `json:"hold_count"`
	AbstainCount   int          `json:"abstain_count"`
	AvgConfidence  float64      `json:"avg_confidence"`
	ConsensusRatio float64      `json:"consensus_ratio"`
	Recommendation VoteDecision `json:"recommendation"`
	Rounds         int          `json:"rounds"`
}

// NonAbstainTotal returns the number of votes that took a stance.
func (c ConsensusResult) NonAbstainTotal() int {
	return c.RebalanceCount + c.HoldCount
}

// ── Execution Plan ───────────────────────────────────────────

// ExecutionStep is one ordered unit of work inside an execution plan.
type ExecutionStep struct {
	ID               string          `json:"id"`
	Action           string          `json:"action"`
	Description      string          `json:"description"`
	EstimatedSeconds int             `json:"estimated_seconds"`
	EstimatedGas     decimal.Decimal `json:"estimated_gas_units"`
}

// ExecutionPlan is the ordered work breakdown for an approved rebalance.
// The plan is consumed by an external execution backend; the engine never
// executes it itself.
type ExecutionPlan struct {
	Steps          []ExecutionStep `json:"steps"`
	TotalSeconds   int             `json:"total_seconds"`
	TotalGas       decimal.Decimal `json:"total_gas_units"`
	RiskMitigation []string        `json:"risk_mitigation"`
	Monitoring     []string        `json:"monitoring"`
}

// ── Decision ─────────────────────────────────────────────────

// Decision is the final governed outcome of one evaluation cycle.
type Decision struct {
	Action           DecisionAction `json:"action"`
	Confidence       float64        `json:"confidence"`
	Consensus        float64        `json:"consensus"`
	OverallRisk      float64        `json:"overall_risk"`
	Reasoning        []string       `json:"reasoning"`
	ExecutionPlan    *ExecutionPlan `json:"execution_plan,omitempty"`
	NextEligibleTime *time.Time     `json:"next_eligible_time,omitempty"`
	Rounds           []VotingRound  `json:"rounds,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Outcome is the realized settlement result for a recorded decision,
// reported asynchronously by the execution backend. It is kept distinct
// from the decision's predicted confidence.
type Outcome struct {
	RealizedReturn float64   `json:"realized_return"`
	Success        bool      `json:"success"`
	SettledAt      time.Time `json:"settled_at"`
}

// DecisionRecord is a persisted Decision plus its derived identity.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Decision   Decision  `json:"decision"`
	Outcome    *Outcome  `json:"outcome,omitempty"`
	InsertedAt time.Time `json:"inserted_at"`
}

// ── Eligibility ──────────────────────────────────────────────

// Eligibility is the gate's verdict on whether a cycle may start.
type Eligibility struct {
	Allowed          bool       `json:"allowed"`
	Reason           string     `json:"reason,omitempty"`
	NextEligibleTime *time.Time `json:"next_eligible_time,omitempty"`
}

// ── Status ───────────────────────────────────────────────────

// EngineStatus is the externally visible engine state.
type EngineStatus struct {
	InProgress   bool      `json:"in_progress"`
	LastDecision *Decision `json:"last_decision,omitempty"`
	SuccessRate  float64   `json:"success_rate"`
}

// Clamp01 bounds v to [0,1]. NaN is treated as 0.
func Clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
