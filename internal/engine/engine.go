// Package engine orchestrates one evaluation cycle end to end:
// eligibility check, concurrent input gathering, multi-round voting,
// consensus aggregation, threshold validation, execution-plan synthesis,
// and the single ledger append.
//
// Cycle state machine:
//
//	IDLE → ELIGIBILITY_CHECK → {REJECTED | GATHERING} → VOTING →
//	VALIDATING → {HOLD | REBALANCE(+PLAN)} → RECORDED → IDLE
//
// At most one cycle runs at a time under the session lock. A global
// decision timeout wraps everything from the eligibility check through
// validation; exceeding it cancels in-flight work and forces hold.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/internal/consensus"
	"github.com/yieldcouncil/yieldcouncil/internal/eligibility"
	"github.com/yieldcouncil/yieldcouncil/internal/inputs"
	"github.com/yieldcouncil/yieldcouncil/internal/ledger"
	"github.com/yieldcouncil/yieldcouncil/internal/plan"
	"github.com/yieldcouncil/yieldcouncil/internal/validate"
	"github.com/yieldcouncil/yieldcouncil/internal/voting"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

var tracer = otel.Tracer("yieldcouncil-engine")

// ErrBusy is returned in reject lock mode when a cycle is already running.
var ErrBusy = errors.New("evaluation in progress")

// Engine runs governed decision cycles.
type Engine struct {
	cfg        *config.Config
	gate       *eligibility.Gate
	aggregator *inputs.Aggregator
	voting     *voting.Engine
	validator  *validate.Validator
	planner    *plan.Planner
	ledger     ledger.Ledger

	// session is a one-slot semaphore: holding the token means a cycle
	// is in flight. Queue mode waits on it; reject mode bails out.
	session chan struct{}

	mu           sync.RWMutex
	inProgress   bool
	lastDecision *models.Decision

	// cancelMu guards the in-flight cycle's cancel func so external
	// callers can abort cooperatively.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New wires the pipeline together. The configuration is validated first;
// an invalid configuration is fatal and no engine is returned.
func New(
	cfg *config.Config,
	gate *eligibility.Gate,
	aggregator *inputs.Aggregator,
	votingEngine *voting.Engine,
	validator *validate.Validator,
	planner *plan.Planner,
	l ledger.Ledger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		gate:       gate,
		aggregator: aggregator,
		voting:     votingEngine,
		validator:  validator,
		planner:    planner,
		ledger:     l,
		session:    make(chan struct{}, 1),
	}

	// Seed the status from the ledger so the last decision survives a
	// restart when snapshot persistence is on.
	if rec, err := l.Last(context.Background()); err == nil {
		e.lastDecision = &rec.Decision
	}

	return e, nil
}

// Evaluate runs one full decision cycle and returns the governed
// decision. Collaborator failures, validation failures, timeouts, and
// cancellation all surface through the decision's reasoning, never as
// errors; only lock contention (reject mode) and caller cancellation
// while queued produce an error.
func (e *Engine) Evaluate(ctx context.Context) (models.Decision, error) {
	if err := e.acquire(ctx); err != nil {
		return models.Decision{}, err
	}
	defer e.release()

	cctx, cancel := context.WithTimeout(ctx, e.cfg.DecisionTimeout)
	defer cancel()

	e.cancelMu.Lock()
	e.cancel = cancel
	e.cancelMu.Unlock()
	defer func() {
		e.cancelMu.Lock()
		e.cancel = nil
		e.cancelMu.Unlock()
	}()

	cctx, span := tracer.Start(cctx, "decision_cycle")
	defer span.End()

	started := time.Now()
	log.Info().Msg("Decision cycle started")

	decision := e.runCycle(cctx)

	span.SetAttributes(
		attribute.String("decision.action", string(decision.Action)),
		attribute.Float64("decision.confidence", decision.Confidence),
		attribute.Float64("decision.consensus", decision.Consensus),
	)

	// Eligibility rejections are surfaced but never ledgered.
	if decision.Action != models.ActionReject {
		// Record against a fresh context: the cycle context may already
		// be past its deadline, and the append must still happen.
		if _, err := e.ledger.Record(context.Background(), decision); err != nil {
			log.Error().Err(err).Msg("Failed to record decision")
		}
	}

	e.mu.Lock()
	d := decision
	e.lastDecision = &d
	e.mu.Unlock()

	log.Info().
		Str("action", string(decision.Action)).
		Float64("confidence", decision.Confidence).
		Float64("consensus", decision.Consensus).
		Float64("risk", decision.OverallRisk).
		Dur("duration", time.Since(started)).
		Msg("Decision cycle finished")

	return decision, nil
}

// runCycle executes the pipeline stages under the cycle context.
func (e *Engine) runCycle(ctx context.Context) models.Decision {
	// ── ELIGIBILITY_CHECK ──
	sctx, span := tracer.Start(ctx, "eligibility_check")
	elig, err := e.gate.Check(sctx, time.Now().UTC())
	span.End()
	if err != nil {
		log.Error().Err(err).Msg("Eligibility check failed")
		return holdDecision("eligibility check failed: "+err.Error(), models.RiskAssessment{}, nil)
	}
	if !elig.Allowed {
		log.Info().Str("reason", elig.Reason).Msg("Cycle rejected by eligibility gate")
		return models.Decision{
			Action:           models.ActionReject,
			Reasoning:        []string{elig.Reason},
			NextEligibleTime: elig.NextEligibleTime,
			Timestamp:        time.Now().UTC(),
		}
	}

	// ── GATHERING ──
	sctx, span = tracer.Start(ctx, "input_gathering")
	cycleInputs, notes := e.aggregator.Gather(sctx)
	span.End()
	if reason, timedOut := deadlineReason(ctx); timedOut {
		return holdDecision(reason, cycleInputs.Risk, notes)
	}

	// Snapshot the performance signal once so the voters stay pure.
	perf := e.performanceSignal(ctx)

	// ── VOTING ──
	sctx, span = tracer.Start(ctx, "voting", trace.WithAttributes(
		attribute.Int("voting.max_rounds", e.cfg.Voting.MaxRounds),
	))
	rounds, err := e.voting.Run(sctx, cycleInputs, perf)
	span.End()
	if err != nil {
		reason, _ := deadlineReason(ctx)
		return holdDecision(reason, cycleInputs.Risk, notes)
	}

	// ── VALIDATING ──
	_, span = tracer.Start(ctx, "validation")
	result := consensus.Aggregate(rounds)
	decision := e.validator.Validate(result, cycleInputs.Risk)
	span.End()

	decision.Rounds = rounds
	decision.Reasoning = append(notes, decision.Reasoning...)

	if reason, timedOut := deadlineReason(ctx); timedOut {
		return holdDecision(reason, cycleInputs.Risk, notes)
	}

	// ── REBALANCE(+PLAN) ──
	if decision.Action == models.ActionRebalance {
		decision.ExecutionPlan = e.planner.Build()
	}

	return decision
}

// performanceSignal reads the ledger-derived history signal consumed by
// the performance voter.
func (e *Engine) performanceSignal(ctx context.Context) voting.PerfSignal {
	rate, err := e.ledger.SuccessRate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Success rate unavailable")
		return voting.PerfSignal{}
	}
	perf, err := e.ledger.RecentPerformance(ctx, e.cfg.Ledger.PerformanceWindow)
	if err != nil {
		log.Warn().Err(err).Msg("Recent performance unavailable")
		return voting.PerfSignal{}
	}
	return voting.PerfSignal{
		SuccessRate:  rate,
		RecentReturn: perf.AvgReturn,
		SampleSize:   perf.SampleSize,
	}
}

// Cancel aborts the in-flight cycle, if any. The cycle resolves to hold
// with reason "cancelled". Returns false when no cycle is running.
func (e *Engine) Cancel() bool {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.cancel()
	log.Info().Msg("In-flight decision cycle cancelled")
	return true
}

// Status reports the externally visible engine state.
func (e *Engine) Status(ctx context.Context) models.EngineStatus {
	e.mu.RLock()
	status := models.EngineStatus{
		InProgress:   e.inProgress,
		LastDecision: e.lastDecision,
	}
	e.mu.RUnlock()

	rate, err := e.ledger.SuccessRate(ctx)
	if err == nil {
		status.SuccessRate = rate
	}
	return status
}

// ── Session lock ────────────────────────────────────────────

func (e *Engine) acquire(ctx context.Context) error {
	switch e.cfg.LockMode {
	case config.LockQueue:
		select {
		case e.session <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	default: // reject
		select {
		case e.session <- struct{}{}:
		default:
			return ErrBusy
		}
	}

	e.mu.Lock()
	e.inProgress = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.inProgress = false
	e.mu.Unlock()
	<-e.session
}

// deadlineReason maps a terminated cycle context to the hold reason.
func deadlineReason(ctx context.Context) (string, bool) {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return "pipeline timeout", true
	case context.Canceled:
		return "cancelled", true
	default:
		return "", false
	}
}

// holdDecision builds a forced-hold decision carrying the degradation
// notes collected so far.
func holdDecision(reason string, assessment models.RiskAssessment, notes []string) models.Decision {
	return models.Decision{
		Action:      models.ActionHold,
		OverallRisk: assessment.Overall,
		Reasoning:   append(notes, reason),
		Timestamp:   time.Now().UTC(),
	}
}
