// Package inputs concurrently gathers the collaborator opinions one
// decision cycle needs. Each fetch has its own sub-timeout and fails in
// isolation: a dead strategy evaluator or signal monitor degrades its
// input to unavailable with confidence 0 instead of aborting the cycle.
package inputs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/internal/risk"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// StrategySource evaluates the current rebalance opportunity.
type StrategySource interface {
	Evaluate(ctx context.Context) (*models.StrategyInput, error)
}

// SignalSource snapshots the current market signal.
type SignalSource interface {
	Snapshot(ctx context.Context) (*models.SignalInput, error)
}

// LiquidityRiskProvider estimates liquidity risk in [0,1].
type LiquidityRiskProvider interface {
	EstimateLiquidityRisk(ctx context.Context) (float64, error)
}

// TechnicalRiskProvider estimates technical/protocol risk in [0,1].
type TechnicalRiskProvider interface {
	EstimateTechnicalRisk(ctx context.Context) (float64, error)
}

// Aggregator pulls all inputs for one cycle and derives the risk picture.
type Aggregator struct {
	strategy  StrategySource
	signal    SignalSource
	liquidity LiquidityRiskProvider
	technical TechnicalRiskProvider
	assessor  *risk.Assessor

	fetchTimeout   time.Duration
	overallTimeout time.Duration
	pessimistic    float64
}

// NewAggregator wires the collaborator sources to the risk assessor.
// Any source may be nil; a nil source behaves like a permanently
// unavailable collaborator.
func NewAggregator(
	strategy StrategySource,
	signal SignalSource,
	liquidity LiquidityRiskProvider,
	technical TechnicalRiskProvider,
	assessor *risk.Assessor,
	gatherCfg config.GatherConfig,
	riskCfg config.RiskConfig,
) *Aggregator {
	return &Aggregator{
		strategy:       strategy,
		signal:         signal,
		liquidity:      liquidity,
		technical:      technical,
		assessor:       assessor,
		fetchTimeout:   gatherCfg.FetchTimeout,
		overallTimeout: gatherCfg.OverallTimeout,
		pessimistic:    riskCfg.PessimisticDefault,
	}
}

// fetchKind identifies which collaborator a fetchResult belongs to.
type fetchKind int

const (
	kindStrategy fetchKind = iota
	kindSignal
	kindLiquidity
	kindTechnical
)

type fetchResult struct {
	kind  fetchKind
	input models.AgentInput
	value float64
	err   error
}

// Gather fetches all inputs concurrently under the overall deadline and
// returns the cycle inputs plus human-readable notes for every degraded
// source. It never returns an error for collaborator failures; only
// context cancellation surfaces through the degraded inputs themselves.
//
// The deadline is enforced here, not by the collaborators: once it
// passes, any fetch that has not delivered yet is treated as
// unavailable and the cycle proceeds, even if the underlying source
// ignores its context.
func (a *Aggregator) Gather(ctx context.Context) (models.CycleInputs, []string) {
	ctx, cancel := context.WithTimeout(ctx, a.overallTimeout)
	defer cancel()

	// Buffered so a late fetch can still deliver after the deadline
	// snapshot without leaking its goroutine.
	results := make(chan fetchResult, 4)

	go func() {
		results <- fetchResult{kind: kindStrategy, input: a.fetchStrategy(ctx)}
	}()
	go func() {
		results <- fetchResult{kind: kindSignal, input: a.fetchSignal(ctx)}
	}()
	go func() {
		v, err := a.fetchLiquidity(ctx)
		results <- fetchResult{kind: kindLiquidity, value: v, err: err}
	}()
	go func() {
		v, err := a.fetchTechnical(ctx)
		results <- fetchResult{kind: kindTechnical, value: v, err: err}
	}()

	strategyIn := deadlineInput(models.SourceStrategy)
	signalIn := deadlineInput(models.SourceSignal)
	liquidityRisk := a.pessimistic
	technicalRisk := a.pessimistic
	liquidityErr := error(errDeadline)
	technicalErr := error(errDeadline)

collect:
	for received := 0; received < 4; received++ {
		select {
		case r := <-results:
			switch r.kind {
			case kindStrategy:
				strategyIn = r.input
			case kindSignal:
				signalIn = r.input
			case kindLiquidity:
				liquidityErr = r.err
				if r.err == nil {
					liquidityRisk = r.value
				}
			case kindTechnical:
				technicalErr = r.err
				if r.err == nil {
					technicalRisk = r.value
				}
			}
		case <-ctx.Done():
			break collect
		}
	}

	var notes []string
	if !strategyIn.Available {
		notes = append(notes, "strategy input unavailable: "+strategyIn.Error)
	}
	if !signalIn.Available {
		notes = append(notes, "signal input unavailable: "+signalIn.Error)
	}
	if liquidityErr != nil {
		notes = append(notes, "liquidity risk defaulted pessimistically: "+liquidityErr.Error())
		log.Warn().Err(liquidityErr).Float64("default", a.pessimistic).Msg("Liquidity risk provider failed")
	}
	if technicalErr != nil {
		notes = append(notes, "technical risk defaulted pessimistically: "+technicalErr.Error())
		log.Warn().Err(technicalErr).Float64("default", a.pessimistic).Msg("Technical risk provider failed")
	}

	assessment := a.assessor.Assess(
		strategyRisk(strategyIn),
		marketRisk(signalIn),
		liquidityRisk,
		technicalRisk,
	)

	return models.CycleInputs{
		Strategy: strategyIn,
		Signal:   signalIn,
		Risk:     assessment,
	}, notes
}

func (a *Aggregator) fetchStrategy(ctx context.Context) models.AgentInput {
	in := models.AgentInput{Source: string(models.SourceStrategy), FetchedAt: time.Now().UTC()}
	if a.strategy == nil {
		in.Error = errNoProvider.Error()
		return in
	}

	fctx, fcancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer fcancel()

	s, err := a.strategy.Evaluate(fctx)
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.Available = true
	in.Confidence = models.Clamp01(s.Confidence)
	in.Strategy = s
	return in
}

func (a *Aggregator) fetchLiquidity(ctx context.Context) (float64, error) {
	if a.liquidity == nil {
		return 0, errNoProvider
	}
	fctx, fcancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer fcancel()

	v, err := a.liquidity.EstimateLiquidityRisk(fctx)
	if err != nil {
		return 0, err
	}
	return models.Clamp01(v), nil
}

func (a *Aggregator) fetchTechnical(ctx context.Context) (float64, error) {
	if a.technical == nil {
		return 0, errNoProvider
	}
	fctx, fcancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer fcancel()

	v, err := a.technical.EstimateTechnicalRisk(fctx)
	if err != nil {
		return 0, err
	}
	return models.Clamp01(v), nil
}

// deadlineInput is the placeholder an opinion fetch resolves to when the
// overall gather deadline passes before it delivers.
func deadlineInput(source models.VoteSource) models.AgentInput {
	return models.AgentInput{
		Source:    string(source),
		Error:     errDeadline.Error(),
		FetchedAt: time.Now().UTC(),
	}
}

func (a *Aggregator) fetchSignal(ctx context.Context) models.AgentInput {
	in := models.AgentInput{Source: string(models.SourceSignal), FetchedAt: time.Now().UTC()}
	if a.signal == nil {
		in.Error = errNoProvider.Error()
		return in
	}

	fctx, fcancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer fcancel()

	s, err := a.signal.Snapshot(fctx)
	if err != nil {
		in.Error = err.Error()
		return in
	}
	in.Available = true
	in.Confidence = models.Clamp01(s.Confidence)
	in.Signal = s
	return in
}

// strategyRisk derives the strategy risk component from the evaluator's
// reported impermanent-loss risk. Zero when unavailable.
func strategyRisk(in models.AgentInput) float64 {
	if !in.Available || in.Strategy == nil {
		return 0
	}
	return in.Strategy.ImpermanentLossRisk
}

// marketRisk extracts volatility out of the signal factors. Zero when the
// signal is unavailable or carries no volatility factor.
func marketRisk(in models.AgentInput) float64 {
	if !in.Available || in.Signal == nil {
		return 0
	}
	for _, f := range in.Signal.Factors {
		if f.Type == "volatility" {
			return f.Value
		}
	}
	return 0
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errNoProvider = sentinelError("no provider configured")
	errDeadline   = sentinelError("gather deadline exceeded")
)
