// Package risk combines the four sub-risk signals (strategy, market,
// liquidity, technical) into one bounded overall risk score.
package risk

import (
	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Assessor folds per-component risk signals into a RiskAssessment.
// The overall score is a convex combination of the components; the
// config validator guarantees the weights sum to 1.
type Assessor struct {
	weights config.RiskConfig
}

// NewAssessor creates a risk assessor with the given weights.
func NewAssessor(weights config.RiskConfig) *Assessor {
	return &Assessor{weights: weights}
}

// Assess clamps each component to [0,1] before combination and returns
// the weighted overall score, itself clamped to [0,1].
func (a *Assessor) Assess(strategy, market, liquidity, technical float64) models.RiskAssessment {
	c := models.RiskComponents{
		Strategy:  models.Clamp01(strategy),
		Market:    models.Clamp01(market),
		Liquidity: models.Clamp01(liquidity),
		Technical: models.Clamp01(technical),
	}

	overall := a.weights.StrategyWeight*c.Strategy +
		a.weights.MarketWeight*c.Market +
		a.weights.LiquidityWeight*c.Liquidity +
		a.weights.TechnicalWeight*c.Technical

	return models.RiskAssessment{
		Components: c,
		Overall:    models.Clamp01(overall),
	}
}
