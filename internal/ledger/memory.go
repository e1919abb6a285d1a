// In-memory Ledger implementation. Records are held in a FIFO-bounded
// slice guarded by an RWMutex, with file-based snapshot persistence so
// cooldown and performance history survive restarts.

package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// successHeuristicFloor is the confidence above which an unsettled
// rebalance counts as a success. A placeholder until the execution
// backend reports realized outcomes for every record.
const successHeuristicFloor = 0.6

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Records []*models.DecisionRecord `json:"records"`
}

// MemoryLedger implements Ledger with an in-memory FIFO slice.
type MemoryLedger struct {
	mu       sync.RWMutex
	records  []*models.DecisionRecord // oldest first
	capacity int

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewMemoryLedger creates a bounded in-memory ledger. If dataDir is
// non-empty, records are persisted to a JSON snapshot in that directory
// and reloaded on start.
func NewMemoryLedger(capacity int, dataDir string) *MemoryLedger {
	if capacity < 1 {
		capacity = 1
	}
	m := &MemoryLedger{
		records:  make([]*models.DecisionRecord, 0, capacity),
		capacity: capacity,
		saveCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, ledger persistence disabled")
		} else {
			m.snapshotPath = filepath.Join(dataDir, "ledger.json")
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().
		Int("capacity", capacity).
		Str("snapshot", m.snapshotPath).
		Msg("Decision ledger configured")

	return m
}

// Record appends a decision, evicting the oldest record when full.
func (m *MemoryLedger) Record(ctx context.Context, decision models.Decision) (*models.DecisionRecord, error) {
	record := &models.DecisionRecord{
		ID:         uuid.New().String(),
		Decision:   decision,
		InsertedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.records = append(m.records, record)
	if evict := len(m.records) - m.capacity; evict > 0 {
		m.records = append(m.records[:0:0], m.records[evict:]...)
	}
	m.mu.Unlock()

	m.requestSave()

	log.Info().
		Str("id", record.ID).
		Str("action", string(decision.Action)).
		Float64("confidence", decision.Confidence).
		Msg("Decision recorded")
	return record, nil
}

// History returns up to limit records, most recent last.
func (m *MemoryLedger) History(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && len(m.records) > limit {
		start = len(m.records) - limit
	}
	out := make([]models.DecisionRecord, 0, len(m.records)-start)
	for _, r := range m.records[start:] {
		out = append(out, *r)
	}
	return out, nil
}

// Get returns one record by ID.
func (m *MemoryLedger) Get(ctx context.Context, id string) (*models.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{ID: id}
}

// Last returns the most recently recorded decision.
func (m *MemoryLedger) Last(ctx context.Context) (*models.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.records) == 0 {
		return nil, &ErrEmpty{What: "records"}
	}
	cp := *m.records[len(m.records)-1]
	return &cp, nil
}

// LastRebalance returns the most recent rebalance record.
func (m *MemoryLedger) LastRebalance(ctx context.Context) (*models.DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Decision.Action == models.ActionRebalance {
			cp := *m.records[i]
			return &cp, nil
		}
	}
	return nil, &ErrEmpty{What: "rebalance records"}
}

// SuccessRate returns the fraction of rebalance records that succeeded.
func (m *MemoryLedger) SuccessRate(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total, succeeded int
	for _, r := range m.records {
		if r.Decision.Action != models.ActionRebalance {
			continue
		}
		total++
		if recordSucceeded(r) {
			succeeded++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(total), nil
}

// RecentPerformance returns a return proxy over the last window rebalance
// records, most recent first.
func (m *MemoryLedger) RecentPerformance(ctx context.Context, window int) (Performance, error) {
	if window <= 0 {
		window = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	var n int
	for i := len(m.records) - 1; i >= 0 && n < window; i-- {
		r := m.records[i]
		if r.Decision.Action != models.ActionRebalance {
			continue
		}
		if r.Outcome != nil {
			sum += r.Outcome.RealizedReturn
		} else {
			// Simulated return proxy for unsettled records.
			sum += r.Decision.Confidence - 0.5
		}
		n++
	}
	if n == 0 {
		return Performance{}, nil
	}
	return Performance{AvgReturn: sum / float64(n), SampleSize: n}, nil
}

// RecordOutcome attaches a settlement outcome to an existing record.
func (m *MemoryLedger) RecordOutcome(ctx context.Context, id string, outcome models.Outcome) error {
	m.mu.Lock()
	var found bool
	for _, r := range m.records {
		if r.ID == id {
			o := outcome
			r.Outcome = &o
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return &ErrNotFound{ID: id}
	}

	m.requestSave()
	log.Info().
		Str("id", id).
		Bool("success", outcome.Success).
		Float64("realized_return", outcome.RealizedReturn).
		Msg("Decision outcome settled")
	return nil
}

// Len returns the number of records currently held.
func (m *MemoryLedger) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Close stops the save goroutine and flushes a final snapshot.
func (m *MemoryLedger) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

func recordSucceeded(r *models.DecisionRecord) bool {
	if r.Outcome != nil {
		return r.Outcome.Success
	}
	return r.Decision.Confidence > successHeuristicFloor
}

// ── Persistence ─────────────────────────────────────────────

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryLedger) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryLedger) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all records to disk as JSON.
func (m *MemoryLedger) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Records: m.records}, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal ledger snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write ledger snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename ledger snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Ledger snapshot saved")
}

// loadSnapshot reads records from disk on startup.
func (m *MemoryLedger) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No ledger snapshot found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read ledger snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse ledger snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(snap.Records) > m.capacity {
		snap.Records = snap.Records[len(snap.Records)-m.capacity:]
	}
	if snap.Records != nil {
		m.records = snap.Records
	}

	log.Info().Int("records", len(m.records)).Msg("Ledger snapshot loaded")
}
