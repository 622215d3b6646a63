package registry

import (
	"context"
	"sort"
	"sync"
)

// Store persists registrations and the escrowed fee balance.
//
// Save must write the registration and credit the escrow in one atomic
// step: either both happen or neither does. A credit that would overflow
// the balance fails with ErrFeeOverflow and writes nothing.
type Store interface {
	Get(ctx context.Context, subject Identity) (*Registration, error)
	// FindActiveByDomain returns the non-revoked registration bound to
	// domain, or ErrNotFound.
	FindActiveByDomain(ctx context.Context, domain string) (*Registration, error)
	List(ctx context.Context) ([]*Registration, error)
	Save(ctx context.Context, reg *Registration, credit Amount) error
	Balance(ctx context.Context) (Amount, error)
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	regs    map[Identity]*Registration
	balance Amount
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{regs: make(map[Identity]*Registration)}
}

func (s *MemoryStore) Get(_ context.Context, subject Identity) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.regs[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return reg.Clone(), nil
}

func (s *MemoryStore) FindActiveByDomain(_ context.Context, domain string) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.regs {
		if reg.Domain == domain && reg.Status != StatusRevoked {
			return reg.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// List returns all registrations ordered by subject.
func (s *MemoryStore) List(_ context.Context) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		out = append(out, reg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, reg *Registration, credit Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balance.Add(credit)
	if !ok {
		return ErrFeeOverflow
	}
	s.regs[reg.Subject] = reg.Clone()
	s.balance = bal
	return nil
}

func (s *MemoryStore) Balance(_ context.Context) (Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}
