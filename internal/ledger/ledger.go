// Package ledger provides the bounded, append-only decision history and
// the historical-performance signals derived from it. The ledger is the
// only persisted structure in the engine: it is appended to exactly once
// per completed cycle and read by the eligibility gate and the
// performance voter.
package ledger

import (
	"context"

	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Performance summarizes recent rebalance returns.
type Performance struct {
	AvgReturn  float64 `json:"avg_return"`
	SampleSize int     `json:"sample_size"`
}

// Ledger is the decision history contract. Implementations must make
// appends atomic with respect to reads: a concurrent read observes either
// the pre- or post-append state, never a partial record.
type Ledger interface {
	// Record appends a decision and returns the persisted record.
	// Inserting beyond capacity evicts the oldest record first.
	Record(ctx context.Context, decision models.Decision) (*models.DecisionRecord, error)

	// History returns up to limit records, most recent last.
	// limit <= 0 returns everything.
	History(ctx context.Context, limit int) ([]models.DecisionRecord, error)

	// Get returns one record by ID.
	Get(ctx context.Context, id string) (*models.DecisionRecord, error)

	// Last returns the most recently recorded decision, or ErrEmpty.
	Last(ctx context.Context) (*models.DecisionRecord, error)

	// LastRebalance returns the most recent record with action=rebalance,
	// or ErrEmpty when none exists. The eligibility cooldown keys off it.
	LastRebalance(ctx context.Context) (*models.DecisionRecord, error)

	// SuccessRate returns the fraction of past rebalance records that
	// succeeded. Settled records use their realized outcome; unsettled
	// ones fall back to the confidence>0.6 heuristic. Zero when no
	// rebalance has been recorded.
	SuccessRate(ctx context.Context) (float64, error)

	// RecentPerformance returns a return proxy over the last window
	// rebalance records. Unsettled records simulate the return as
	// (confidence - 0.5); settled ones use the realized return.
	RecentPerformance(ctx context.Context, window int) (Performance, error)

	// RecordOutcome attaches a settlement outcome to a recorded decision.
	RecordOutcome(ctx context.Context, id string, outcome models.Outcome) error

	// Len returns the number of records currently held.
	Len(ctx context.Context) (int, error)

	// Close releases all resources and flushes any pending snapshot.
	Close() error
}

// ErrNotFound is returned when a requested record does not exist.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return "decision record not found: " + e.ID
}

// ErrEmpty is returned by Last/LastRebalance when no matching record exists.
type ErrEmpty struct {
	What string
}

func (e *ErrEmpty) Error() string {
	return "ledger has no " + e.What
}
