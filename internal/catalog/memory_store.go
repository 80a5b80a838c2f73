package catalog

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory catalog for demo/development mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	merchants map[string]*Merchant
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*Resource),
		merchants: make(map[string]*Merchant),
	}
}

// PutResource adds or replaces a resource (seed/demo helper).
func (m *MemoryStore) PutResource(r *Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.MerchantWallet = strings.ToLower(cp.MerchantWallet)
	m.resources[cp.ID] = &cp
}

// PutMerchant adds or replaces a merchant (seed/demo helper).
func (m *MemoryStore) PutMerchant(mc *Merchant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mc
	cp.Wallet = strings.ToLower(cp.Wallet)
	m.merchants[cp.Wallet] = &cp
}

func (m *MemoryStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetMerchant(ctx context.Context, wallet string) (*Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.merchants[strings.ToLower(wallet)]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	cp := *mc
	return &cp, nil
}

func (m *MemoryStore) ListResourcesByMerchant(ctx context.Context, wallet string, limit int) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wallet = strings.ToLower(wallet)
	var result []*Resource
	for _, r := range m.resources {
		if r.MerchantWallet == wallet {
			cp := *r
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
