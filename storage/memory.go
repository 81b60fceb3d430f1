package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"reconcile/core"
)

// MemoryStore keeps the three collections in process memory, preserving
// insertion order per collection. It serves as the zero-configuration
// default and as the test double for the engine.
type MemoryStore struct {
	mu           sync.RWMutex
	payments     map[string]*core.Payment
	paymentOrder []string
	txns         map[string]*core.Transaction
	txnOrder     []string
	links        []core.ReconciliationLink

	now func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*core.Payment),
		txns:     make(map[string]*core.Transaction),
		now:      time.Now,
	}
}

// SetClock overrides the store clock. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) AddPayment(_ context.Context, p core.Payment) (core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.payments[p.PaymentID]; ok {
		return *existing, nil
	}
	now := s.now().UTC()
	if p.PaymentID == "" {
		p.PaymentID = NewID("pay", now)
	}
	p.Status = core.StatusPending
	p.ReceivedAmount = decimal.Zero
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := p
	s.payments[p.PaymentID] = &stored
	s.paymentOrder = append(s.paymentOrder, p.PaymentID)
	return p, nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id string) (*core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) UpdatePayment(_ context.Context, id string, upd PaymentUpdate) (*core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.ReceivedAmount != nil {
		p.ReceivedAmount = *upd.ReceivedAmount
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	p.UpdatedAt = s.now().UTC()
	out := *p
	return &out, nil
}

func (s *MemoryStore) ListPayments(_ context.Context, filter PaymentFilter) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Payment, 0, len(s.paymentOrder))
	for _, id := range s.paymentOrder {
		p := s.payments[id]
		if filter.admits(*p) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.txns[t.TransactionID]; ok {
		return *existing, nil
	}
	now := s.now().UTC()
	if t.TransactionID == "" {
		t.TransactionID = NewID("txn", now)
	}
	t.Matched = false
	t.MatchedToPaymentID = ""
	t.CreatedAt = now
	stored := t
	s.txns[t.TransactionID] = &stored
	s.txnOrder = append(s.txnOrder, t.TransactionID)
	return t, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, nil
	}
	out := *t
	return &out, nil
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, id string, upd TransactionUpdate) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Matched != nil {
		t.Matched = *upd.Matched
	}
	if upd.MatchedToPaymentID != nil {
		t.MatchedToPaymentID = *upd.MatchedToPaymentID
	}
	out := *t
	return &out, nil
}

func (s *MemoryStore) ListUnmatchedTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, 0)
	for _, id := range s.txnOrder {
		t := s.txns[id]
		if !t.Matched {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddLink(_ context.Context, link core.ReconciliationLink) (core.ReconciliationLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	link.LinkID = NewID("link", now)
	link.CreatedAt = now
	s.links = append(s.links, link)
	return link, nil
}

func (s *MemoryStore) LinksForPayment(_ context.Context, paymentID string) ([]core.ReconciliationLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ReconciliationLink, 0)
	for _, l := range s.links {
		if l.PaymentID == paymentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListLinks(_ context.Context) ([]core.ReconciliationLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ReconciliationLink, len(s.links))
	copy(out, s.links)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
