// README: In-memory payment store for tests and the memory storage driver.
package payment

import (
	"context"
	"sync"
	"time"

	"ridematch/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	payments map[types.ID]*Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[types.ID]*Payment)}
}

func (s *MemoryStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.TripID == p.TripID && existing.Status != StatusDeclined {
			return ErrAlreadyPaid
		}
	}
	cp := clonePayment(p)
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := clonePayment(p)
	return &cp, nil
}

func (s *MemoryStore) GetByReference(_ context.Context, reference string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ProviderReference != nil && *p.ProviderReference == reference {
			cp := clonePayment(p)
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if to == StatusApproved {
		p.ApprovedAt = &at
	}
	return true, nil
}

func (s *MemoryStore) SetCheckout(_ context.Context, id types.ID, reference, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.ProviderReference = &reference
	p.PaymentURL = &url
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payments, id)
	return nil
}

func clonePayment(p *Payment) Payment {
	cp := *p
	if p.ProviderReference != nil {
		ref := *p.ProviderReference
		cp.ProviderReference = &ref
	}
	if p.PaymentURL != nil {
		u := *p.PaymentURL
		cp.PaymentURL = &u
	}
	if p.ApprovedAt != nil {
		at := *p.ApprovedAt
		cp.ApprovedAt = &at
	}
	return cp
}
