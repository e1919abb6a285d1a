// Package plan expands an approved rebalance decision into an ordered
// three-step execution plan with deterministic cost and time estimates.
// The plan is handed to an external execution backend; nothing here
// performs execution.
package plan

import (
	"github.com/shopspring/decimal"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Planner synthesizes execution plans from configured estimates.
type Planner struct {
	cfg config.PlanConfig
}

// NewPlanner creates an execution planner.
func NewPlanner(cfg config.PlanConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Build produces the fixed pipeline: pre-execution health check,
// cross-chain rebalance execution, post-execution verification. Duration
// and gas figures come from configuration, never from live queries.
func (p *Planner) Build() *models.ExecutionPlan {
	steps := []models.ExecutionStep{
		{
			ID:               "health-check",
			Action:           "pre_execution_health_check",
			Description:      "Verify vault balances, oracle freshness, and destination chain liveness before committing funds",
			EstimatedSeconds: p.cfg.HealthCheckSeconds,
			EstimatedGas:     decimal.NewFromInt(p.cfg.HealthCheckGas),
		},
		{
			ID:               "rebalance",
			Action:           "cross_chain_rebalance",
			Description:      "Withdraw from the current strategy and route funds to the target allocation over the CCIP lane",
			EstimatedSeconds: p.cfg.ExecutionSeconds,
			EstimatedGas:     decimal.NewFromInt(p.cfg.ExecutionGas),
		},
		{
			ID:               "verify",
			Action:           "post_execution_verification",
			Description:      "Confirm message delivery, reconcile balances on both chains, and record the settled position",
			EstimatedSeconds: p.cfg.VerifySeconds,
			EstimatedGas:     decimal.NewFromInt(p.cfg.VerifyGas),
		},
	}

	totalSeconds := 0
	totalGas := decimal.Zero
	for _, s := range steps {
		totalSeconds += s.EstimatedSeconds
		totalGas = totalGas.Add(s.EstimatedGas)
	}

	return &models.ExecutionPlan{
		Steps:        steps,
		TotalSeconds: totalSeconds,
		TotalGas:     totalGas,
		RiskMitigation: []string{
			"abort if source-chain balance check deviates more than 1% from the ledgered position",
			"cap slippage at the configured maximum for each leg",
			"retry CCIP delivery once before surfacing a settlement failure",
			"never hold funds in transit longer than the execution estimate plus one verification window",
		},
		Monitoring: []string{
			"watch CCIP message status until finality on the destination chain",
			"alert when realized gas exceeds the estimate by 50%",
			"report the settlement outcome back to the decision ledger",
		},
	}
}
