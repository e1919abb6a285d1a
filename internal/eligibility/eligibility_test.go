package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yieldcouncil/yieldcouncil/internal/config"
	"github.com/yieldcouncil/yieldcouncil/internal/ledger"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

func testConfig() config.EligibilityConfig {
	return config.EligibilityConfig{
		CooldownPeriod: 24 * time.Hour,
		RetryWindow:    2 * time.Hour,
	}
}

func newTestLedger(t *testing.T) ledger.Ledger {
	t.Helper()
	l := ledger.NewMemoryLedger(100, "")
	t.Cleanup(func() { l.Close() })
	return l
}

type fakeEmergency struct {
	name      string
	triggered bool
	err       error
}

func (f fakeEmergency) Name() string                            { return f.name }
func (f fakeEmergency) Check(ctx context.Context) (bool, error) { return f.triggered, f.err }

type fakeMarket struct {
	suitability Suitability
	err         error
}

func (f fakeMarket) Check(ctx context.Context) (Suitability, error) { return f.suitability, f.err }

func TestCheck_AllowsWithEmptyLedger(t *testing.T) {
	g := NewGate(newTestLedger(t), testConfig(), nil, nil)

	got, err := g.Check(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !got.Allowed {
		t.Errorf("Check() allowed = false, want true (reason: %s)", got.Reason)
	}
}

func TestCheck_CooldownBlocksAndReportsNextEligibleTime(t *testing.T) {
	l := newTestLedger(t)
	rebalanceAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Record(context.Background(), models.Decision{
		Action:    models.ActionRebalance,
		Timestamp: rebalanceAt,
	})

	g := NewGate(l, testConfig(), nil, nil)

	// One hour after the rebalance: still cooling down.
	now := rebalanceAt.Add(1 * time.Hour)
	got, err := g.Check(context.Background(), now)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got.Allowed {
		t.Fatal("Check() allowed = true inside cooldown, want false")
	}
	wantNext := rebalanceAt.Add(24 * time.Hour)
	if got.NextEligibleTime == nil || !got.NextEligibleTime.Equal(wantNext) {
		t.Errorf("NextEligibleTime = %v, want %v", got.NextEligibleTime, wantNext)
	}

	// A second check within the window reports the identical retry time.
	got2, _ := g.Check(context.Background(), now.Add(30*time.Minute))
	if got2.Allowed {
		t.Fatal("second Check() allowed = true inside cooldown, want false")
	}
	if !got2.NextEligibleTime.Equal(*got.NextEligibleTime) {
		t.Errorf("second NextEligibleTime = %v, want identical %v", got2.NextEligibleTime, got.NextEligibleTime)
	}

	// After the cooldown elapses the gate opens again.
	got3, _ := g.Check(context.Background(), rebalanceAt.Add(25*time.Hour))
	if !got3.Allowed {
		t.Errorf("Check() after cooldown allowed = false, want true (reason: %s)", got3.Reason)
	}
}

func TestCheck_HoldDecisionsDoNotStartCooldown(t *testing.T) {
	l := newTestLedger(t)
	l.Record(context.Background(), models.Decision{
		Action:    models.ActionHold,
		Timestamp: time.Now().Add(-1 * time.Minute),
	})

	g := NewGate(l, testConfig(), nil, nil)
	got, _ := g.Check(context.Background(), time.Now())
	if !got.Allowed {
		t.Errorf("Check() allowed = false after hold, want true (reason: %s)", got.Reason)
	}
}

func TestCheck_FirstTriggeredEmergencyWins(t *testing.T) {
	g := NewGate(newTestLedger(t), testConfig(), []EmergencyPredicate{
		fakeEmergency{name: "network_congestion", triggered: false},
		fakeEmergency{name: "bridge_outage", triggered: true},
		fakeEmergency{name: "extreme_volatility", triggered: true},
	}, nil)

	got, err := g.Check(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got.Allowed {
		t.Fatal("Check() allowed = true with triggered emergency, want false")
	}
	if got.Reason != "emergency stop: bridge_outage" {
		t.Errorf("Reason = %q, want first triggered predicate named", got.Reason)
	}
	if got.NextEligibleTime != nil {
		t.Errorf("NextEligibleTime = %v, want nil (indefinite)", got.NextEligibleTime)
	}
}

func TestCheck_FailingEmergencyPredicateIsSkipped(t *testing.T) {
	g := NewGate(newTestLedger(t), testConfig(), []EmergencyPredicate{
		fakeEmergency{name: "flaky", err: errors.New("feed down")},
	}, nil)

	got, err := g.Check(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !got.Allowed {
		t.Errorf("Check() allowed = false, want true when predicate errors")
	}
}

func TestCheck_UnsuitableMarketSetsRetryWindow(t *testing.T) {
	g := NewGate(newTestLedger(t), testConfig(), nil,
		fakeMarket{suitability: Suitability{Suitable: false, Reason: "thin liquidity"}})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := g.Check(context.Background(), now)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got.Allowed {
		t.Fatal("Check() allowed = true with unsuitable market, want false")
	}
	if got.Reason != "thin liquidity" {
		t.Errorf("Reason = %q, want %q", got.Reason, "thin liquidity")
	}
	wantNext := now.Add(2 * time.Hour)
	if got.NextEligibleTime == nil || !got.NextEligibleTime.Equal(wantNext) {
		t.Errorf("NextEligibleTime = %v, want %v", got.NextEligibleTime, wantNext)
	}
}

func TestCheck_MarketCollaboratorErrorTreatedAsUnsuitable(t *testing.T) {
	g := NewGate(newTestLedger(t), testConfig(), nil,
		fakeMarket{err: errors.New("collaborator timeout")})

	got, err := g.Check(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if got.Allowed {
		t.Error("Check() allowed = true when market collaborator errors, want false")
	}
	if got.NextEligibleTime == nil {
		t.Error("NextEligibleTime = nil, want retry window set")
	}
}
