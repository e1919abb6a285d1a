// Package validate enforces the governance gates on a consensus result:
// minimum confidence, minimum consensus, and the risk ceiling. Any
// failing gate forces the decision down to hold; validation never errors.
package validate

import (
	"fmt"
	"time"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Validator applies the ordered threshold gates.
type Validator struct {
	thresholds config.ThresholdConfig
}

// NewValidator creates a validator with the given thresholds.
func NewValidator(thresholds config.ThresholdConfig) *Validator {
	return &Validator{thresholds: thresholds}
}

// Validate produces the pre-execution-plan decision. Gates run in order
// (confidence, consensus, risk ceiling); the first failure forces
// action=hold and short-circuits any reasoning about execution. When all
// gates pass, the consensus recommendation carries through.
func (v *Validator) Validate(result models.ConsensusResult, assessment models.RiskAssessment) models.Decision {
	decision := models.Decision{
		Action:      models.ActionHold,
		Confidence:  result.AvgConfidence,
		Consensus:   result.ConsensusRatio,
		OverallRisk: assessment.Overall,
		Timestamp:   time.Now().UTC(),
	}

	if result.NonAbstainTotal() == 0 {
		decision.Reasoning = append(decision.Reasoning, "no input available: every voter abstained")
		return decision
	}

	if result.AvgConfidence < v.thresholds.MinimumConfidence {
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("confidence gate failed: %.2f below minimum %.2f", result.AvgConfidence, v.thresholds.MinimumConfidence))
		return decision
	}

	if result.ConsensusRatio < v.thresholds.ConsensusThreshold {
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("consensus gate failed: %.2f below threshold %.2f", result.ConsensusRatio, v.thresholds.ConsensusThreshold))
		return decision
	}

	if assessment.Overall > v.thresholds.RiskCeiling {
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("risk ceiling exceeded: %.2f above ceiling %.2f", assessment.Overall, v.thresholds.RiskCeiling))
		return decision
	}

	if result.Recommendation == models.VoteRebalance {
		decision.Action = models.ActionRebalance
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("all gates passed: confidence %.2f, consensus %.2f, risk %.2f", result.AvgConfidence, result.ConsensusRatio, assessment.Overall),
			fmt.Sprintf("council recommends rebalancing (%d rebalance / %d hold across %d rounds)", result.RebalanceCount, result.HoldCount, result.Rounds))
		return decision
	}

	decision.Reasoning = append(decision.Reasoning,
		fmt.Sprintf("gates passed but council recommends holding (%d rebalance / %d hold)", result.RebalanceCount, result.HoldCount))
	return decision
}
