package escrow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
// A single mutex serializes Transitions, which gives the compare-and-set
// guarantee trivially.
type MemoryStore struct {
	mu       sync.RWMutex
	txs      map[string]*Transaction
	receipts map[string]string // receipt code → id
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:      make(map[string]*Transaction),
		receipts: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tx
	m.txs[cp.ID] = &cp
	m.receipts[cp.ReceiptCode] = cp.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *MemoryStore) getLocked(id string) (*Transaction, error) {
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	if tx.AIVerdict != nil {
		v := *tx.AIVerdict
		cp.AIVerdict = &v
	}
	if tx.ResolvedAt != nil {
		t := *tx.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp, nil
}

func (m *MemoryStore) GetByReceipt(ctx context.Context, code string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.receipts[code]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return m.getLocked(id)
}

func (m *MemoryStore) Transition(ctx context.Context, id string, from Status, mutate func(*Transaction) error) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if stored.Status != from {
		return nil, ErrInvalidStateTransition
	}

	cp := *stored
	if stored.AIVerdict != nil {
		v := *stored.AIVerdict
		cp.AIVerdict = &v
	}
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	if cp.Status != from && !from.CanTransitionTo(cp.Status) {
		return nil, ErrInvalidStateTransition
	}
	cp.UpdatedAt = time.Now()

	m.txs[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.txs {
		if tx.Status == StatusPending && !tx.AutoSettleAt.After(before) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	// Oldest-due first, then truncate, so a limited sweep drains the
	// backlog in deadline order like the SQL store does.
	sort.Slice(result, func(i, j int) bool {
		return result[i].AutoSettleAt.Before(result[j].AutoSettleAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, wallet string, limit int) ([]*Transaction, error) {
	return m.listBy(func(tx *Transaction) bool {
		return tx.AgentWallet == strings.ToLower(wallet)
	}, limit)
}

func (m *MemoryStore) ListByMerchant(ctx context.Context, wallet string, limit int) ([]*Transaction, error) {
	return m.listBy(func(tx *Transaction) bool {
		return tx.MerchantWallet == strings.ToLower(wallet)
	}, limit)
}

func (m *MemoryStore) listBy(match func(*Transaction) bool, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, tx := range m.txs {
		if match(tx) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) AggregateForMerchant(ctx context.Context, wallet string) (*Aggregate, error) {
	return m.aggregate(func(tx *Transaction) bool {
		return tx.MerchantWallet == strings.ToLower(wallet)
	})
}

func (m *MemoryStore) AggregateForResource(ctx context.Context, resourceID string) (*Aggregate, error) {
	return m.aggregate(func(tx *Transaction) bool {
		return tx.ResourceID == resourceID
	})
}

func (m *MemoryStore) aggregate(match func(*Transaction) bool) (*Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := &Aggregate{}
	earnings := decimal.Zero
	for _, tx := range m.txs {
		if !match(tx) {
			continue
		}
		agg.AccessCount++
		switch tx.Status {
		case StatusSettled:
			agg.SettledCount++
			if amt, err := decimal.NewFromString(tx.Amount); err == nil {
				earnings = earnings.Add(amt)
			}
		case StatusRefunded:
			agg.RefundedCount++
		case StatusRefundRequested:
			agg.OpenDisputes++
		}
		if agg.FirstAt.IsZero() || tx.CreatedAt.Before(agg.FirstAt) {
			agg.FirstAt = tx.CreatedAt
		}
	}
	agg.TotalEarnings, _ = earnings.Float64()
	return agg, nil
}
