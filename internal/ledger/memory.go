package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process ledger used in simulated mode and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	trades   map[string]*TradeRecord
	order    []string
	settings Settings

	// FailCreates and FailUpdates inject persistence failures: each
	// positive counter fails that many calls before succeeding.
	FailCreates int
	FailUpdates int
}

type memoryFailure struct{ op string }

func (e *memoryFailure) Error() string { return "memory ledger: injected " + e.op + " failure" }

func NewMemoryLedger(initial Settings) *MemoryLedger {
	return &MemoryLedger{
		trades:   make(map[string]*TradeRecord),
		settings: initial,
	}
}

func (m *MemoryLedger) CreateTrade(ctx context.Context, record *TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreates > 0 {
		m.FailCreates--
		return &memoryFailure{op: "create"}
	}

	cp := *record
	m.trades[record.ID] = &cp
	m.order = append(m.order, record.ID)
	return nil
}

func (m *MemoryLedger) UpdateTrade(ctx context.Context, id string, patch TradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdates > 0 {
		m.FailUpdates--
		return &memoryFailure{op: "update"}
	}

	record, ok := m.trades[id]
	if !ok {
		return ErrTradeNotFound
	}
	record.ExitPrice = patch.ExitPrice
	record.Profit = patch.Profit
	record.ExitReason = patch.Reason
	record.Status = StatusClosed
	closedAt := patch.ClosedAt
	record.ClosedAt = &closedAt
	return nil
}

func (m *MemoryLedger) GetSettings(ctx context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *MemoryLedger) UpdateSettings(ctx context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// GetTradeHistory returns closed trades, most recent first.
func (m *MemoryLedger) GetTradeHistory(ctx context.Context, limit int) ([]*TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []*TradeRecord
	for i := len(m.order) - 1; i >= 0 && len(records) < limit; i-- {
		record := m.trades[m.order[i]]
		if record.Status != StatusClosed {
			continue
		}
		cp := *record
		records = append(records, &cp)
	}
	return records, nil
}

// Trades returns copies of every record, oldest first.
func (m *MemoryLedger) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TradeRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.trades[id])
	}
	return out
}
