// Package eligibility decides whether a new decision cycle may start.
// Three ordered rules apply: the rebalance cooldown, the configured
// emergency predicates, and market suitability. The gate has no side
// effects; it is a pure function of ledger state and the current time.
package eligibility

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/internal/ledger"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// EmergencyPredicate is one named kill-switch condition (network
// congestion, bridge outage, extreme volatility). The first predicate
// returning true blocks eligibility indefinitely.
type EmergencyPredicate interface {
	Name() string
	Check(ctx context.Context) (bool, error)
}

// Suitability is the market-suitability collaborator's verdict.
type Suitability struct {
	Suitable bool   `json:"suitable"`
	Reason   string `json:"reason,omitempty"`
}

// MarketSuitabilityPredicate reports whether current market conditions
// are workable for a rebalance at all.
type MarketSuitabilityPredicate interface {
	Check(ctx context.Context) (Suitability, error)
}

// Gate evaluates the eligibility rules in order.
type Gate struct {
	ledger      ledger.Ledger
	cooldown    time.Duration
	retryWindow time.Duration
	emergencies []EmergencyPredicate
	market      MarketSuitabilityPredicate
}

// NewGate creates an eligibility gate. market may be nil, in which case
// the suitability rule is skipped.
func NewGate(l ledger.Ledger, cfg config.EligibilityConfig, emergencies []EmergencyPredicate, market MarketSuitabilityPredicate) *Gate {
	return &Gate{
		ledger:      l,
		cooldown:    cfg.CooldownPeriod,
		retryWindow: cfg.RetryWindow,
		emergencies: emergencies,
		market:      market,
	}
}

// Check returns whether a cycle may start at now, and if not, why and
// when it may be retried.
func (g *Gate) Check(ctx context.Context, now time.Time) (models.Eligibility, error) {
	// Cooldown: the most recent approved rebalance sets the clock.
	last, err := g.ledger.LastRebalance(ctx)
	var empty *ledger.ErrEmpty
	switch {
	case err == nil:
		if elapsed := now.Sub(last.Decision.Timestamp); elapsed < g.cooldown {
			next := last.Decision.Timestamp.Add(g.cooldown)
			return models.Eligibility{
				Allowed:          false,
				Reason:           "rebalance cooldown active",
				NextEligibleTime: &next,
			}, nil
		}
	case errors.As(err, &empty):
		// No prior rebalance, cooldown does not apply.
	default:
		return models.Eligibility{}, err
	}

	// Emergency predicates, in configured order. A predicate that errors
	// is skipped: an unreachable kill-switch feed must not block the gate
	// forever, and the risk ceiling still bounds the final decision.
	for _, p := range g.emergencies {
		triggered, err := p.Check(ctx)
		if err != nil {
			log.Warn().Err(err).Str("predicate", p.Name()).Msg("Emergency predicate check failed, skipping")
			continue
		}
		if triggered {
			return models.Eligibility{
				Allowed: false,
				Reason:  "emergency stop: " + p.Name(),
				// No next eligible time: emergencies clear on their own terms.
			}, nil
		}
	}

	// Market suitability. Collaborator failure is treated as unsuitable.
	if g.market != nil {
		s, err := g.market.Check(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Market suitability check failed")
			s = Suitability{Suitable: false, Reason: "market suitability unavailable"}
		}
		if !s.Suitable {
			reason := s.Reason
			if reason == "" {
				reason = "market conditions unsuitable"
			}
			next := now.Add(g.retryWindow)
			return models.Eligibility{
				Allowed:          false,
				Reason:           reason,
				NextEligibleTime: &next,
			}, nil
		}
	}

	return models.Eligibility{Allowed: true}, nil
}
