/*
store.go - Persistence interface for the distribution engine

PURPOSE:
  Defines the contract between the engine and the backing store. The engine
  assumes a single consistent store with row-level operations; it never
  builds its own storage.

ROW SHAPES:
  Profile, Plot, Payment, CommissionRecord, Transaction, Wallet

WALLET MUTATION:
  AdjustWallet is the only way balances change. It is an atomic
  read-modify-write: the sub-balance is clamped at zero, TotalBalance is
  recomputed from the sub-balances and Version is bumped. Stores that use
  optimistic concurrency return ErrConcurrentModification on a lost race.

NOT FOUND:
  Single-row reads return an error matching ErrNotFound for missing rows.

IMPLEMENTATIONS:
  - commission/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: the only writer of commissions, transactions and wallets
*/
package commission

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS
// =============================================================================

type PlotFilter struct {
	Status           *PlotStatus
	CommissionStatus *CommissionStatus
	BrokerID         *ProfileID
}

func (f PlotFilter) Matches(p Plot) bool {
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.CommissionStatus != nil && p.CommissionStatus != *f.CommissionStatus {
		return false
	}
	if f.BrokerID != nil && p.BrokerID != *f.BrokerID {
		return false
	}
	return true
}

type CommissionFilter struct {
	PlotID     *PlotID
	ReceiverID *ProfileID
}

func (f CommissionFilter) Matches(c CommissionRecord) bool {
	if f.PlotID != nil && c.PlotID != *f.PlotID {
		return false
	}
	if f.ReceiverID != nil && c.ReceiverID != *f.ReceiverID {
		return false
	}
	return true
}

type TransactionFilter struct {
	PlotID  *PlotID
	OwnerID *ProfileID
}

func (f TransactionFilter) Matches(t Transaction) bool {
	if f.PlotID != nil && t.PlotID != *f.PlotID {
		return false
	}
	if f.OwnerID != nil && t.OwnerID != *f.OwnerID {
		return false
	}
	return true
}

// =============================================================================
// STORE
// =============================================================================

// ProfileGetter is all the Resolver needs.
type ProfileGetter interface {
	GetProfile(ctx context.Context, id ProfileID) (*Profile, error)
}

type Store interface {
	ProfileGetter
	SaveProfile(ctx context.Context, p Profile) error
	ListProfiles(ctx context.Context) ([]Profile, error)

	GetPlot(ctx context.Context, id PlotID) (*Plot, error)
	SavePlot(ctx context.Context, p Plot) error
	ListPlots(ctx context.Context, filter PlotFilter) ([]Plot, error)

	AppendPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, plotID PlotID) ([]Payment, error)

	// ListCommissions returns records ordered by plot, level, created_at.
	ListCommissions(ctx context.Context, filter CommissionFilter) ([]CommissionRecord, error)
	InsertCommission(ctx context.Context, c CommissionRecord) error
	UpdateCommission(ctx context.Context, c CommissionRecord) error
	DeleteCommission(ctx context.Context, id CommissionID) error

	// ListTransactions returns entries ordered by created_at.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	DeleteTransactionsForPlot(ctx context.Context, plotID PlotID) (int, error)

	GetWallet(ctx context.Context, ownerID ProfileID) (*Wallet, error)
	AdjustWallet(ctx context.Context, ownerID ProfileID, category WalletCategory, delta decimal.Decimal) (WalletAdjustment, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the Store passed to fn
// is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
