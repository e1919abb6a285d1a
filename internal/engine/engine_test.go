package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/internal/eligibility"
	"github.com/yieldcouncil/yieldcouncil/internal/inputs"
	"github.com/yieldcouncil/yieldcouncil/internal/ledger"
	"github.com/yieldcouncil/yieldcouncil/internal/plan"
	"github.com/yieldcouncil/yieldcouncil/internal/risk"
	"github.com/yieldcouncil/yieldcouncil/internal/validate"
	"github.com/yieldcouncil/yieldcouncil/internal/voting"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// ── Stub collaborators ──────────────────────────────────────

type strategyFunc func(ctx context.Context) (*models.StrategyInput, error)

func (f strategyFunc) Evaluate(ctx context.Context) (*models.StrategyInput, error) { return f(ctx) }

type signalFunc func(ctx context.Context) (*models.SignalInput, error)

func (f signalFunc) Snapshot(ctx context.Context) (*models.SignalInput, error) { return f(ctx) }

type liquidityFunc func(ctx context.Context) (float64, error)

func (f liquidityFunc) EstimateLiquidityRisk(ctx context.Context) (float64, error) { return f(ctx) }

type technicalFunc func(ctx context.Context) (float64, error)

func (f technicalFunc) EstimateTechnicalRisk(ctx context.Context) (float64, error) { return f(ctx) }

func fixedStrategy(in models.StrategyInput) strategyFunc {
	return func(ctx context.Context) (*models.StrategyInput, error) {
		cp := in
		return &cp, nil
	}
}

func fixedSignal(in models.SignalInput) signalFunc {
	return func(ctx context.Context) (*models.SignalInput, error) {
		cp := in
		return &cp, nil
	}
}

func fixedRisk(v float64) func(ctx context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) { return v, nil }
}

// ── Test engine wiring ──────────────────────────────────────

type testDeps struct {
	strategy inputs.StrategySource
	signal   inputs.SignalSource
	liq      inputs.LiquidityRiskProvider
	tech     inputs.TechnicalRiskProvider
	mutate   func(*config.Config)
}

func newTestEngine(t *testing.T, deps testDeps) (*Engine, *ledger.MemoryLedger) {
	t.Helper()

	cfg := config.Load()
	cfg.DecisionTimeout = 5 * time.Second
	cfg.Gather.FetchTimeout = time.Second
	cfg.Gather.OverallTimeout = 2 * time.Second
	if deps.mutate != nil {
		deps.mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	l := ledger.NewMemoryLedger(cfg.Ledger.Capacity, "")
	t.Cleanup(func() { l.Close() })

	assessor := risk.NewAssessor(cfg.Risk)
	aggregator := inputs.NewAggregator(deps.strategy, deps.signal, deps.liq, deps.tech, assessor, cfg.Gather, cfg.Risk)
	gate := eligibility.NewGate(l, cfg.Eligibility, nil, nil)
	votingEngine := voting.NewEngine(cfg.Voting, cfg.Thresholds.ConsensusThreshold)
	validator := validate.NewValidator(cfg.Thresholds)
	planner := plan.NewPlanner(cfg.Plan)

	e, err := New(cfg, gate, aggregator, votingEngine, validator, planner, l)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, l
}

func healthyDeps() testDeps {
	return testDeps{
		strategy: fixedStrategy(models.StrategyInput{
			ExpectedReturn:      0.09,
			Confidence:          0.9,
			GasEstimate:         420000,
			ImpermanentLossRisk: 0.1,
		}),
		signal: fixedSignal(models.SignalInput{
			Direction:  models.DirectionOpportunity,
			Strength:   models.StrengthStrong,
			Confidence: 0.8,
			Factors:    []models.SignalFactor{{Type: "volatility", Direction: models.DirectionNeutral, Confidence: 0.7, Value: 0.2}},
		}),
		liq:  liquidityFunc(fixedRisk(0.2)),
		tech: technicalFunc(fixedRisk(0.1)),
	}
}

func reasoningText(d models.Decision) string {
	return strings.Join(d.Reasoning, "\n")
}

// seedRebalance records a rebalance decision stamped at the given time,
// optionally settling it with an outcome.
func seedRebalance(t *testing.T, l *ledger.MemoryLedger, at time.Time, outcome *models.Outcome) {
	t.Helper()
	r, err := l.Record(context.Background(), models.Decision{
		Action:     models.ActionRebalance,
		Confidence: 0.85,
		Timestamp:  at,
	})
	if err != nil {
		t.Fatalf("seed Record() error = %v", err)
	}
	if outcome != nil {
		if err := l.RecordOutcome(context.Background(), r.ID, *outcome); err != nil {
			t.Fatalf("seed RecordOutcome() error = %v", err)
		}
	}
}

// ── Scenarios ───────────────────────────────────────────────

func TestEvaluate_CleanRebalance(t *testing.T) {
	e, l := newTestEngine(t, healthyDeps())

	d, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if d.Action != models.ActionRebalance {
		t.Fatalf("action = %s, want rebalance (reasoning: %s)", d.Action, reasoningText(d))
	}
	if d.Confidence < 0.6 {
		t.Errorf("confidence = %v, want >= 0.6", d.Confidence)
	}
	if d.Consensus < 0.7 {
		t.Errorf("consensus = %v, want >= 0.7", d.Consensus)
	}
	if d.ExecutionPlan == nil || len(d.ExecutionPlan.Steps) != 3 {
		t.Fatalf("execution plan = %+v, want 3 steps", d.ExecutionPlan)
	}

	// Unanimous agreement still takes two rounds: early termination
	// requires at least two completed rounds.
	if len(d.Rounds) != 2 {
		t.Errorf("rounds = %d, want 2", len(d.Rounds))
	}

	n, err := l.Len(context.Background())
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ledger Len() = %d, want 1 recorded decision", n)
	}
}

func TestEvaluate_RiskCeilingForcesHold(t *testing.T) {
	deps := healthyDeps()
	deps.strategy = fixedStrategy(models.StrategyInput{
		ExpectedReturn:      0.09,
		Confidence:          0.9,
		ImpermanentLossRisk: 0.9,
	})
	deps.signal = fixedSignal(models.SignalInput{
		Direction:  models.DirectionOpportunity,
		Strength:   models.StrengthStrong,
		Confidence: 0.8,
		Factors:    []models.SignalFactor{{Type: "volatility", Value: 0.9}},
	})
	deps.liq = liquidityFunc(fixedRisk(0.95))
	deps.tech = technicalFunc(fixedRisk(0.95))

	e, l := newTestEngine(t, deps)

	// Prior successful rebalances make the performance voter side with
	// rebalancing, so vote agreement is high and only the risk ceiling
	// stands in the way.
	old := time.Now().UTC().Add(-48 * time.Hour)
	outcome := &models.Outcome{Success: true, RealizedReturn: 0.05, SettledAt: old.Add(time.Hour)}
	seedRebalance(t, l, old, outcome)
	seedRebalance(t, l, old.Add(time.Minute), outcome)

	d, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != models.ActionHold {
		t.Fatalf("action = %s, want hold (reasoning: %s)", d.Action, reasoningText(d))
	}
	if !strings.Contains(reasoningText(d), "risk ceiling exceeded") {
		t.Errorf("reasoning = %q, want risk ceiling failure named", reasoningText(d))
	}
	if d.ExecutionPlan != nil {
		t.Error("hold decision carries an execution plan")
	}

	n, _ := l.Len(context.Background())
	if n != 3 {
		t.Errorf("ledger Len() = %d, want 3 (two seeds + recorded hold)", n)
	}
}

func TestEvaluate_CooldownRejects(t *testing.T) {
	e, l := newTestEngine(t, healthyDeps())

	rebalancedAt := time.Now().UTC().Add(-time.Hour)
	seedRebalance(t, l, rebalancedAt, nil)

	first, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	for _, d := range []models.Decision{first, second} {
		if d.Action != models.ActionReject {
			t.Fatalf("action = %s, want reject", d.Action)
		}
		if d.NextEligibleTime == nil {
			t.Fatal("NextEligibleTime = nil, want cooldown expiry")
		}
	}

	// Both rejections compute the same retry time from the same record.
	want := rebalancedAt.Add(24 * time.Hour)
	if !first.NextEligibleTime.Equal(want) || !second.NextEligibleTime.Equal(want) {
		t.Errorf("NextEligibleTime = %v / %v, want %v", first.NextEligibleTime, second.NextEligibleTime, want)
	}

	// Rejections are never ledgered.
	n, _ := l.Len(context.Background())
	if n != 1 {
		t.Errorf("ledger Len() = %d, want 1 (seed only)", n)
	}
}

func TestEvaluate_AllSourcesDownForcesHold(t *testing.T) {
	e, l := newTestEngine(t, testDeps{})

	d, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != models.ActionHold {
		t.Fatalf("action = %s, want hold", d.Action)
	}
	if !strings.Contains(reasoningText(d), "no input available") {
		t.Errorf("reasoning = %q, want abstention named", reasoningText(d))
	}
	if d.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 with every voter abstaining", d.Confidence)
	}

	n, _ := l.Len(context.Background())
	if n != 1 {
		t.Errorf("ledger Len() = %d, want 1 (forced hold is still recorded)", n)
	}
}

// ── Timeout, cancellation, session lock ─────────────────────

func TestEvaluate_TimeoutForcesHold(t *testing.T) {
	deps := healthyDeps()
	deps.strategy = strategyFunc(func(ctx context.Context) (*models.StrategyInput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	deps.mutate = func(cfg *config.Config) {
		cfg.DecisionTimeout = 50 * time.Millisecond
	}

	e, l := newTestEngine(t, deps)

	d, err := e.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if d.Action != models.ActionHold {
		t.Fatalf("action = %s, want hold", d.Action)
	}
	if !strings.Contains(reasoningText(d), "pipeline timeout") {
		t.Errorf("reasoning = %q, want pipeline timeout named", reasoningText(d))
	}

	n, _ := l.Len(context.Background())
	if n != 1 {
		t.Errorf("ledger Len() = %d, want 1 (timeout hold is still recorded)", n)
	}
}

func TestEvaluate_CancelForcesHold(t *testing.T) {
	started := make(chan struct{})
	deps := healthyDeps()
	deps.strategy = strategyFunc(func(ctx context.Context) (*models.StrategyInput, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	e, _ := newTestEngine(t, deps)

	done := make(chan models.Decision, 1)
	go func() {
		d, err := e.Evaluate(context.Background())
		if err != nil {
			t.Errorf("Evaluate() error = %v", err)
		}
		done <- d
	}()

	<-started
	if !e.Cancel() {
		t.Fatal("Cancel() = false, want true for in-flight cycle")
	}

	d := <-done
	if d.Action != models.ActionHold {
		t.Fatalf("action = %s, want hold", d.Action)
	}
	if !strings.Contains(reasoningText(d), "cancelled") {
		t.Errorf("reasoning = %q, want cancellation named", reasoningText(d))
	}

	if e.Cancel() {
		t.Error("Cancel() = true with no cycle running, want false")
	}
}

func TestEvaluate_RejectsConcurrentCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	deps := healthyDeps()
	deps.strategy = strategyFunc(func(ctx context.Context) (*models.StrategyInput, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &models.StrategyInput{ExpectedReturn: 0.09, Confidence: 0.9, ImpermanentLossRisk: 0.1}, nil
	})

	e, _ := newTestEngine(t, deps)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := e.Evaluate(context.Background()); err != nil {
			t.Errorf("first Evaluate() error = %v", err)
		}
	}()

	<-started
	if _, err := e.Evaluate(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Evaluate() error = %v, want ErrBusy", err)
	}

	close(release)
	<-done
}

func TestEvaluate_QueueModeWaits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	deps := healthyDeps()
	deps.strategy = strategyFunc(func(ctx context.Context) (*models.StrategyInput, error) {
		select {
		case <-started: // already signalled by the first cycle
		default:
			close(started)
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &models.StrategyInput{ExpectedReturn: 0.09, Confidence: 0.9, ImpermanentLossRisk: 0.1}, nil
	})
	deps.mutate = func(cfg *config.Config) {
		cfg.LockMode = config.LockQueue
		// Second cycle hits the cooldown set by the first rebalance.
	}

	e, l := newTestEngine(t, deps)

	results := make(chan error, 2)
	go func() {
		_, err := e.Evaluate(context.Background())
		results <- err
	}()
	<-started
	go func() {
		_, err := e.Evaluate(context.Background())
		results <- err
	}()

	close(release)
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Errorf("queued Evaluate() error = %v", err)
		}
	}

	// First cycle rebalanced; the queued one was rejected by cooldown and
	// not recorded.
	n, _ := l.Len(context.Background())
	if n != 1 {
		t.Errorf("ledger Len() = %d, want 1", n)
	}
}

func TestStatus(t *testing.T) {
	e, _ := newTestEngine(t, healthyDeps())

	status := e.Status(context.Background())
	if status.InProgress {
		t.Error("InProgress = true before any cycle")
	}
	if status.LastDecision != nil {
		t.Error("LastDecision non-nil before any cycle")
	}

	if _, err := e.Evaluate(context.Background()); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	status = e.Status(context.Background())
	if status.InProgress {
		t.Error("InProgress = true after cycle finished")
	}
	if status.LastDecision == nil || status.LastDecision.Action != models.ActionRebalance {
		t.Errorf("LastDecision = %+v, want recorded rebalance", status.LastDecision)
	}
}

func TestNew_SeedsLastDecisionFromLedger(t *testing.T) {
	cfg := config.Load()
	l := ledger.NewMemoryLedger(cfg.Ledger.Capacity, "")
	t.Cleanup(func() { l.Close() })

	if _, err := l.Record(context.Background(), models.Decision{
		Action:     models.ActionHold,
		Confidence: 0.4,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	e, err := New(cfg, nil, nil, nil, nil, nil, l)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	status := e.Status(context.Background())
	if status.LastDecision == nil || status.LastDecision.Action != models.ActionHold {
		t.Errorf("LastDecision = %+v, want the previously recorded hold", status.LastDecision)
	}
}

func TestNew_InvalidConfiguration(t *testing.T) {
	cfg := config.Load()
	cfg.Thresholds.RiskCeiling = 1.5

	_, err := New(cfg, nil, nil, nil, nil, nil, nil)
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want *config.ConfigurationError", err)
	}
}
