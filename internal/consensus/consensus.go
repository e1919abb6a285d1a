// Package consensus folds every vote cast across all executed rounds
// into a single recommendation with its confidence and agreement ratio.
package consensus

import (
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Aggregate flattens all rounds (not just the last), tallies non-abstain
// votes by decision, and derives the aggregate confidence, consensus
// ratio, and recommendation.
//
// consensusRatio = max(rebalance, hold) / (rebalance + hold), and is 0
// when no vote took a stance. The recommendation is rebalance only when
// rebalance votes strictly outnumber hold votes.
func Aggregate(rounds []models.VotingRound) models.ConsensusResult {
	result := models.ConsensusResult{
		Recommendation: models.VoteHold,
		Rounds:         len(rounds),
	}

	var confidenceSum float64
	for _, round := range rounds {
		for _, v := range round.Votes {
			switch v.Decision {
			case models.VoteRebalance:
				result.RebalanceCount++
				confidenceSum += v.Confidence
			case models.VoteHold:
				result.HoldCount++
				confidenceSum += v.Confidence
			case models.VoteAbstain:
				result.AbstainCount++
			}
		}
	}

	total := result.NonAbstainTotal()
	if total == 0 {
		return result
	}

	result.AvgConfidence = confidenceSum / float64(total)

	majority := result.RebalanceCount
	if result.HoldCount > majority {
		majority = result.HoldCount
	}
	result.ConsensusRatio = float64(majority) / float64(total)

	if result.RebalanceCount > result.HoldCount {
		result.Recommendation = models.VoteRebalance
	}
	return result
}
