// Package voting runs the bounded multi-round weighted vote among the
// four fixed opinion roles. Voter functions are pure: each vote depends
// only on the cycle inputs, the performance signal, and the round index,
// so a round may evaluate its voters concurrently or sequentially with
// identical results. Rounds are sequential because early termination
// depends on the prior round's tally.
package voting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// PerfSignal is the ledger-derived signal the performance voter consumes.
// The engine snapshots it once per cycle so voters stay pure.
type PerfSignal struct {
	SuccessRate  float64
	RecentReturn float64
	SampleSize   int
}

// Engine runs up to MaxRounds voting rounds with early termination once
// the latest round reaches the consensus threshold.
type Engine struct {
	maxRounds int
	threshold float64
	noise     Noise
}

// NewEngine creates a voting engine. noise may be nil for fully
// deterministic voting.
func NewEngine(cfg config.VotingConfig, threshold float64) *Engine {
	var noise Noise
	if cfg.JitterAmplitude > 0 {
		noise = NewSeededJitter(cfg.JitterSeed, cfg.JitterAmplitude)
	}
	return &Engine{
		maxRounds: cfg.MaxRounds,
		threshold: threshold,
		noise:     noise,
	}
}

// Run executes the voting rounds. Cancellation is cooperative: the
// context is checked between rounds, and the rounds completed so far are
// returned together with the context error.
func (e *Engine) Run(ctx context.Context, inputs models.CycleInputs, perf PerfSignal) ([]models.VotingRound, error) {
	rounds := make([]models.VotingRound, 0, e.maxRounds)

	for i := 1; i <= e.maxRounds; i++ {
		if err := ctx.Err(); err != nil {
			return rounds, err
		}

		round := models.VotingRound{
			Round:     i,
			Timestamp: time.Now().UTC(),
			Votes: []models.Vote{
				e.strategyVote(inputs, i),
				e.signalVote(inputs, i),
				e.riskVote(inputs, i),
				e.performanceVote(perf, i),
			},
		}
		rounds = append(rounds, round)

		ratio, agreed := roundConsensus(round)
		log.Debug().
			Int("round", i).
			Float64("consensus", ratio).
			Str("leader", string(agreed)).
			Msg("Voting round complete")

		// Early termination needs at least two completed rounds.
		if i >= 2 && ratio >= e.threshold {
			log.Info().Int("rounds", i).Float64("consensus", ratio).Msg("Early consensus reached")
			break
		}
	}

	return rounds, nil
}

// roundConsensus returns the latest round's agreement ratio among
// non-abstaining votes and the leading decision.
func roundConsensus(round models.VotingRound) (float64, models.VoteDecision) {
	var rebalance, hold int
	for _, v := range round.Votes {
		switch v.Decision {
		case models.VoteRebalance:
			rebalance++
		case models.VoteHold:
			hold++
		}
	}
	total := rebalance + hold
	if total == 0 {
		return 0, models.VoteHold
	}
	if rebalance >= hold {
		return float64(rebalance) / float64(total), models.VoteRebalance
	}
	return float64(hold) / float64(total), models.VoteHold
}

// ── Voter roles ─────────────────────────────────────────────

func (e *Engine) strategyVote(inputs models.CycleInputs, round int) models.Vote {
	in := inputs.Strategy
	if !in.Available || in.Strategy == nil {
		return abstain(models.SourceStrategy, round, "strategy input unavailable")
	}

	s := in.Strategy
	confidence := e.jitter(models.Clamp01(s.Confidence), round, models.SourceStrategy)

	switch {
	case s.ExpectedReturn > 0.05 && s.Confidence > 0.7:
		return models.Vote{
			Source:     models.SourceStrategy,
			Decision:   models.VoteRebalance,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("expected return %.2f%% with confidence %.2f supports rebalancing", s.ExpectedReturn*100, s.Confidence),
			Round:      round,
		}
	case s.ExpectedReturn < 0.02 || s.Confidence < 0.4:
		return models.Vote{
			Source:     models.SourceStrategy,
			Decision:   models.VoteHold,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("expected return %.2f%% or confidence %.2f too weak to act", s.ExpectedReturn*100, s.Confidence),
			Round:      round,
		}
	default:
		return models.Vote{
			Source:     models.SourceStrategy,
			Decision:   models.VoteHold,
			Confidence: confidence,
			Reasoning:  "strategy outlook inconclusive, holding",
			Round:      round,
		}
	}
}

func (e *Engine) signalVote(inputs models.CycleInputs, round int) models.Vote {
	in := inputs.Signal
	if !in.Available || in.Signal == nil {
		return abstain(models.SourceSignal, round, "signal input unavailable")
	}

	s := in.Signal
	confidence := e.jitter(models.Clamp01(s.Confidence), round, models.SourceSignal)

	if s.Direction == models.DirectionOpportunity && s.Confidence > 0.6 {
		return models.Vote{
			Source:     models.SourceSignal,
			Decision:   models.VoteRebalance,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("market signals %s opportunity with confidence %.2f", s.Strength, s.Confidence),
			Round:      round,
		}
	}
	return models.Vote{
		Source:     models.SourceSignal,
		Decision:   models.VoteHold,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("signal direction %q does not support rebalancing", s.Direction),
		Round:      round,
	}
}

func (e *Engine) riskVote(inputs models.CycleInputs, round int) models.Vote {
	// With neither opinion source reporting, the risk picture is built
	// entirely from pessimistic defaults and carries no information.
	if !inputs.Strategy.Available && !inputs.Signal.Available {
		return abstain(models.SourceRisk, round, "no opinion inputs to assess risk against")
	}

	overall := inputs.Risk.Overall
	confidence := e.jitter(max(0.5, 1-overall), round, models.SourceRisk)

	switch {
	case overall < 0.3:
		return models.Vote{
			Source:     models.SourceRisk,
			Decision:   models.VoteRebalance,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("overall risk %.2f is comfortably low", overall),
			Round:      round,
		}
	case overall > 0.6:
		return models.Vote{
			Source:     models.SourceRisk,
			Decision:   models.VoteHold,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("overall risk %.2f is too high to rebalance", overall),
			Round:      round,
		}
	default:
		return models.Vote{
			Source:     models.SourceRisk,
			Decision:   models.VoteHold,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("overall risk %.2f is elevated, holding", overall),
			Round:      round,
		}
	}
}

func (e *Engine) performanceVote(perf PerfSignal, round int) models.Vote {
	if perf.SampleSize == 0 {
		return abstain(models.SourcePerformance, round, "no rebalance history yet")
	}

	confidence := e.jitter(models.Clamp01(perf.SuccessRate), round, models.SourcePerformance)

	switch {
	case perf.SuccessRate > 0.7 && perf.RecentReturn > 0.03:
		return models.Vote{
			Source:     models.SourcePerformance,
			Decision:   models.VoteRebalance,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("historical success rate %.2f with recent return %.3f supports rebalancing", perf.SuccessRate, perf.RecentReturn),
			Round:      round,
		}
	case perf.SuccessRate < 0.4 || perf.RecentReturn < 0:
		return models.Vote{
			Source:     models.SourcePerformance,
			Decision:   models.VoteHold,
			Confidence: confidence,
			Reasoning:  fmt.Sprintf("historical success rate %.2f or recent return %.3f argues for caution", perf.SuccessRate, perf.RecentReturn),
			Round:      round,
		}
	default:
		return models.Vote{
			Source:     models.SourcePerformance,
			Decision:   models.VoteHold,
			Confidence: confidence,
			Reasoning:  "historical performance is mixed, holding",
			Round:      round,
		}
	}
}

func (e *Engine) jitter(confidence float64, round int, source models.VoteSource) float64 {
	if e.noise == nil {
		return confidence
	}
	return models.Clamp01(confidence + e.noise.Jitter(round, source))
}

func abstain(source models.VoteSource, round int, reason string) models.Vote {
	return models.Vote{
		Source:    source,
		Decision:  models.VoteAbstain,
		Reasoning: reason,
		Round:     round,
	}
}
