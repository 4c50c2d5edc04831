// Package store provides an in-memory commission.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/estatecrm/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.Mutex
	s  *state
}

var _ commission.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

// Reset drops every row.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newState()
	return nil
}

func (m *Memory) GetProfile(ctx context.Context, id commission.ProfileID) (*commission.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetProfile(ctx, id)
}

func (m *Memory) SaveProfile(ctx context.Context, p commission.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveProfile(ctx, p)
}

func (m *Memory) ListProfiles(ctx context.Context) ([]commission.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListProfiles(ctx)
}

func (m *Memory) GetPlot(ctx context.Context, id commission.PlotID) (*commission.Plot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetPlot(ctx, id)
}

func (m *Memory) SavePlot(ctx context.Context, p commission.Plot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SavePlot(ctx, p)
}

func (m *Memory) ListPlots(ctx context.Context, f commission.PlotFilter) ([]commission.Plot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListPlots(ctx, f)
}

func (m *Memory) AppendPayment(ctx context.Context, p commission.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendPayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, plotID commission.PlotID) ([]commission.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListPayments(ctx, plotID)
}

func (m *Memory) ListCommissions(ctx context.Context, f commission.CommissionFilter) ([]commission.CommissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListCommissions(ctx, f)
}

func (m *Memory) InsertCommission(ctx context.Context, c commission.CommissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertCommission(ctx, c)
}

func (m *Memory) UpdateCommission(ctx context.Context, c commission.CommissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateCommission(ctx, c)
}

func (m *Memory) DeleteCommission(ctx context.Context, id commission.CommissionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.DeleteCommission(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, f commission.TransactionFilter) ([]commission.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ListTransactions(ctx, f)
}

func (m *Memory) InsertTransaction(ctx context.Context, t commission.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.InsertTransaction(ctx, t)
}

func (m *Memory) DeleteTransactionsForPlot(ctx context.Context, plotID commission.PlotID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.DeleteTransactionsForPlot(ctx, plotID)
}

func (m *Memory) GetWallet(ctx context.Context, owner commission.ProfileID) (*commission.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetWallet(ctx, owner)
}

func (m *Memory) AdjustWallet(ctx context.Context, owner commission.ProfileID, c commission.WalletCategory, delta decimal.Decimal) (commission.WalletAdjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AdjustWallet(ctx, owner, c, delta)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held for the whole of fn.
func (m *Memory) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// =============================================================================
// STATE - Unlocked row storage, also the transactional view
// =============================================================================

type state struct {
	profiles     map[commission.ProfileID]commission.Profile
	plots        map[commission.PlotID]commission.Plot
	payments     map[commission.PlotID][]commission.Payment
	commissions  map[commission.CommissionID]commission.CommissionRecord
	transactions []commission.Transaction
	wallets      map[commission.ProfileID]commission.Wallet
	now          func() time.Time
}

func newState() *state {
	return &state{
		profiles:    make(map[commission.ProfileID]commission.Profile),
		plots:       make(map[commission.PlotID]commission.Plot),
		payments:    make(map[commission.PlotID][]commission.Payment),
		commissions: make(map[commission.CommissionID]commission.CommissionRecord),
		wallets:     make(map[commission.ProfileID]commission.Wallet),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *state) clone() *state {
	c := &state{
		profiles:     make(map[commission.ProfileID]commission.Profile, len(s.profiles)),
		plots:        make(map[commission.PlotID]commission.Plot, len(s.plots)),
		payments:     make(map[commission.PlotID][]commission.Payment, len(s.payments)),
		commissions:  make(map[commission.CommissionID]commission.CommissionRecord, len(s.commissions)),
		transactions: append([]commission.Transaction(nil), s.transactions...),
		wallets:      make(map[commission.ProfileID]commission.Wallet, len(s.wallets)),
		now:          s.now,
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.plots {
		c.plots[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = append([]commission.Payment(nil), v...)
	}
	for k, v := range s.commissions {
		c.commissions[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	return c
}

func (s *state) GetProfile(_ context.Context, id commission.ProfileID) (*commission.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, commission.ErrNotFound)
	}
	return &p, nil
}

func (s *state) SaveProfile(_ context.Context, p commission.Profile) error {
	s.profiles[p.ID] = p
	return nil
}

func (s *state) ListProfiles(_ context.Context) ([]commission.Profile, error) {
	out := make([]commission.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) GetPlot(_ context.Context, id commission.PlotID) (*commission.Plot, error) {
	p, ok := s.plots[id]
	if !ok {
		return nil, fmt.Errorf("plot %s: %w", id, commission.ErrNotFound)
	}
	return &p, nil
}

func (s *state) SavePlot(_ context.Context, p commission.Plot) error {
	s.plots[p.ID] = p
	return nil
}

func (s *state) ListPlots(_ context.Context, f commission.PlotFilter) ([]commission.Plot, error) {
	var out []commission.Plot
	for _, p := range s.plots {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) AppendPayment(_ context.Context, p commission.Payment) error {
	if _, ok := s.plots[p.PlotID]; !ok {
		return fmt.Errorf("plot %s: %w", p.PlotID, commission.ErrNotFound)
	}
	s.payments[p.PlotID] = append(s.payments[p.PlotID], p)
	return nil
}

func (s *state) ListPayments(_ context.Context, plotID commission.PlotID) ([]commission.Payment, error) {
	return append([]commission.Payment(nil), s.payments[plotID]...), nil
}

func (s *state) ListCommissions(_ context.Context, f commission.CommissionFilter) ([]commission.CommissionRecord, error) {
	var out []commission.CommissionRecord
	for _, c := range s.commissions {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PlotID != b.PlotID {
			return a.PlotID < b.PlotID
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *state) InsertCommission(_ context.Context, c commission.CommissionRecord) error {
	if _, ok := s.commissions[c.ID]; ok {
		return fmt.Errorf("commission %s already exists", c.ID)
	}
	for _, existing := range s.commissions {
		if existing.PlotID == c.PlotID && existing.Key() == c.Key() {
			return fmt.Errorf("commission for plot %s receiver %s level %d already exists",
				c.PlotID, c.ReceiverID, c.Level)
		}
	}
	s.commissions[c.ID] = c
	return nil
}

func (s *state) UpdateCommission(_ context.Context, c commission.CommissionRecord) error {
	if _, ok := s.commissions[c.ID]; !ok {
		return fmt.Errorf("commission %s: %w", c.ID, commission.ErrNotFound)
	}
	s.commissions[c.ID] = c
	return nil
}

func (s *state) DeleteCommission(_ context.Context, id commission.CommissionID) error {
	if _, ok := s.commissions[id]; !ok {
		return fmt.Errorf("commission %s: %w", id, commission.ErrNotFound)
	}
	delete(s.commissions, id)
	return nil
}

func (s *state) ListTransactions(_ context.Context, f commission.TransactionFilter) ([]commission.Transaction, error) {
	var out []commission.Transaction
	for _, t := range s.transactions {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *state) InsertTransaction(_ context.Context, t commission.Transaction) error {
	s.transactions = append(s.transactions, t)
	return nil
}

func (s *state) DeleteTransactionsForPlot(_ context.Context, plotID commission.PlotID) (int, error) {
	kept := s.transactions[:0:0]
	removed := 0
	for _, t := range s.transactions {
		if t.PlotID == plotID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.transactions = kept
	return removed, nil
}

func (s *state) GetWallet(_ context.Context, owner commission.ProfileID) (*commission.Wallet, error) {
	w, ok := s.wallets[owner]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", owner, commission.ErrNotFound)
	}
	return &w, nil
}

func (s *state) AdjustWallet(_ context.Context, owner commission.ProfileID, c commission.WalletCategory, delta decimal.Decimal) (commission.WalletAdjustment, error) {
	w, ok := s.wallets[owner]
	if !ok {
		w = commission.Wallet{
			OwnerID:             owner,
			DirectSaleBalance:   decimal.Zero,
			DownlineSaleBalance: decimal.Zero,
			TotalBalance:        decimal.Zero,
		}
	}
	next, clamped := w.Adjusted(c, delta)
	next.UpdatedAt = s.now()
	s.wallets[owner] = next
	return commission.WalletAdjustment{Previous: w, Wallet: next, Clamped: clamped}, nil
}
