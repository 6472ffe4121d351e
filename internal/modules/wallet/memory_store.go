// README: In-memory wallet store; one mutex serializes every ledger write.
package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ridematch/internal/types"
)

type MemoryStore struct {
	mu          sync.Mutex
	wallets     map[types.ID]*Wallet // by driver
	txs         []Transaction
	payouts     map[types.ID]*Payout
	commissions []CommissionConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[types.ID]*Wallet),
		payouts: make(map[types.ID]*Payout),
	}
}

// SetCommission makes cfg the active commission configuration.
func (s *MemoryStore) SetCommission(cfg CommissionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commissions = append(s.commissions, cfg)
}

func (s *MemoryStore) WithWallet(ctx context.Context, driverID types.ID, currency string, create bool, fn func(LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[driverID]
	if !ok {
		if !create {
			return ErrWalletNotFound
		}
		now := time.Now().UTC()
		w = &Wallet{ID: types.ID(uuid.NewString()), DriverID: driverID, Currency: currency, CreatedAt: now, UpdatedAt: now}
	}

	ltx := &memLedgerTx{store: s, wallet: *w, payouts: map[types.ID]Payout{}}
	if err := fn(ltx); err != nil {
		return err
	}
	*w = ltx.wallet
	s.wallets[driverID] = w
	s.txs = append(s.txs, ltx.txs...)
	for id, p := range ltx.payouts {
		s.payouts[id] = &p
	}
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, driverID types.ID) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[driverID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	c := *w
	return &c, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, walletID types.ID, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Transaction{}
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].WalletID == walletID {
			out = append(out, s.txs[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPayouts(_ context.Context, driverID types.ID) ([]Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Payout{}
	for _, p := range s.payouts {
		if p.DriverID == driverID {
			out = append(out, clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetPayout(_ context.Context, id types.ID) (*Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	c := clonePayout(p)
	return &c, nil
}

func (s *MemoryStore) ActiveCommission(context.Context) (*CommissionConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commissions) == 0 {
		return nil, false, nil
	}
	c := s.commissions[len(s.commissions)-1]
	return &c, true, nil
}

// memLedgerTx stages writes; WithWallet applies them only when fn succeeds.
type memLedgerTx struct {
	store   *MemoryStore
	wallet  Wallet
	txs     []Transaction
	payouts map[types.ID]Payout
}

func (t *memLedgerTx) Wallet() Wallet {
	return t.wallet
}

func (t *memLedgerTx) FindEntry(_ context.Context, category Category, reference string) (*Transaction, error) {
	for _, tr := range append(append([]Transaction{}, t.store.txs...), t.txs...) {
		if tr.WalletID == t.wallet.ID && tr.Category == category && tr.Reference == reference {
			c := tr
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memLedgerTx) Append(_ context.Context, tr *Transaction) error {
	t.txs = append(t.txs, *tr)
	t.wallet.Balance = tr.BalanceAfter
	t.wallet.UpdatedAt = tr.CreatedAt
	return nil
}

func (t *memLedgerTx) InsertPayout(_ context.Context, p *Payout) error {
	t.payouts[p.ID] = clonePayout(p)
	return nil
}

func (t *memLedgerTx) UpdatePayoutStatus(_ context.Context, id types.ID, from, to PayoutStatus, reason *string, at time.Time) (bool, error) {
	p, staged := t.payouts[id]
	if !staged {
		stored, ok := t.store.payouts[id]
		if !ok {
			return false, nil
		}
		p = clonePayout(stored)
	}
	if p.WalletID != t.wallet.ID || p.Status != from {
		return false, nil
	}
	p.Status = to
	ts := at
	p.ProcessedAt = &ts
	if reason != nil {
		r := *reason
		p.RejectionReason = &r
	}
	t.payouts[id] = p
	return true, nil
}

func clonePayout(p *Payout) Payout {
	c := *p
	if p.PeriodStart != nil {
		v := *p.PeriodStart
		c.PeriodStart = &v
	}
	if p.PeriodEnd != nil {
		v := *p.PeriodEnd
		c.PeriodEnd = &v
	}
	if p.ProcessedAt != nil {
		v := *p.ProcessedAt
		c.ProcessedAt = &v
	}
	if p.RejectionReason != nil {
		v := *p.RejectionReason
		c.RejectionReason = &v
	}
	return c
}
