/*
Package commission provides the multi-level commission distribution engine.

PURPOSE:
  When a plot is sold (or a booked plot's payments cross the commission
  threshold) the engine walks the seller's sponsorship chain and credits
  each party's wallet. The same engine recalculates a distribution after a
  correction without double counting and without rewriting audit history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Profile: an associate/broker, optionally pointing at its upline
  - Plot: the sale unit, with status and commission status
  - Payment: append-only payment history entry
  - CommissionRecord: one (plot, receiver, level) commission row
  - Transaction: wallet ledger entry (credit/debit, direct/downline)
  - Wallet: per-profile balances, total = direct + downline

PIPELINE:
  payment / admin trigger
    -> Distributor (eligibility, state machine)       orchestrator.go
    -> Resolver (seller + uplines, depth capped)       upline.go
    -> Computer (amount per level)                     compute.go
    -> Applier (records, wallets, transactions)        ledger.go

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, rounded only when applied
  2. Determinism: same sale + chain always yields the same distribution
  3. Recompute safety: recalculation updates in place and keeps created_at

SEE ALSO:
  - store.go: persistence interfaces
  - errors.go: error taxonomy
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProfileID string
type PlotID string
type CommissionID string
type TransactionID string
type PaymentID string

// =============================================================================
// PROFILE - Associate / broker
// =============================================================================

type Profile struct {
	ID        ProfileID
	Name      string
	SponsorID ProfileID
	UplineID  ProfileID
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Upline returns the profile credited one level above this one.
// An explicit upline assignment wins over the onboarding sponsor.
func (p Profile) Upline() ProfileID {
	if p.UplineID != "" {
		return p.UplineID
	}
	return p.SponsorID
}

func (p Profile) IsDeleted() bool { return p.DeletedAt != nil }

// =============================================================================
// PLOT - Sale unit
// =============================================================================

type PlotStatus string

const (
	PlotAvailable PlotStatus = "available"
	PlotBooked    PlotStatus = "booked"
	PlotSold      PlotStatus = "sold"
)

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

type Plot struct {
	ID               PlotID
	ProjectName      string
	PlotNumber       string
	Area             decimal.Decimal // unit count, e.g. gaj
	TotalPrice       decimal.Decimal
	Status           PlotStatus
	PaidPercentage   decimal.Decimal // 0-100
	BrokerID         ProfileID
	CommissionStatus CommissionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (p Plot) Label() string {
	if p.ProjectName == "" {
		return "plot " + p.PlotNumber
	}
	return p.ProjectName + " plot " + p.PlotNumber
}

// =============================================================================
// PAYMENT - Append-only payment history
// =============================================================================

type Payment struct {
	ID        PaymentID
	PlotID    PlotID
	Amount    decimal.Decimal
	PaidAt    time.Time
	Note      string
	CreatedAt time.Time
}

// =============================================================================
// COMMISSION RECORD - One row per (plot, receiver, level)
// =============================================================================

type CommissionRecord struct {
	ID           CommissionID
	PlotID       PlotID
	SellerID     ProfileID
	SellerName   string
	ReceiverID   ProfileID
	ReceiverName string
	Level        int
	Percentage   decimal.Decimal
	SaleAmount   decimal.Decimal
	Amount       decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecipientKey identifies a commission slot within one plot.
type RecipientKey struct {
	ReceiverID ProfileID
	Level      int
}

func (c CommissionRecord) Key() RecipientKey {
	return RecipientKey{ReceiverID: c.ReceiverID, Level: c.Level}
}

// =============================================================================
// TRANSACTION - Wallet ledger entry
// =============================================================================

type TransactionType string

const (
	TxCredit TransactionType = "credit"
	TxDebit  TransactionType = "debit"
)

// WalletCategory selects the wallet sub-balance a transaction affects.
type WalletCategory string

const (
	CategoryDirect   WalletCategory = "direct"
	CategoryDownline WalletCategory = "downline"
)

// CategoryForLevel maps a chain level to its wallet sub-balance.
func CategoryForLevel(level int) WalletCategory {
	if level == 0 {
		return CategoryDirect
	}
	return CategoryDownline
}

type Transaction struct {
	ID          TransactionID
	OwnerID     ProfileID
	Type        TransactionType
	Category    WalletCategory
	Amount      decimal.Decimal
	Description string
	PlotID      PlotID
	Level       int
	CreatedAt   time.Time
}

func (t Transaction) Key() RecipientKey {
	return RecipientKey{ReceiverID: t.OwnerID, Level: t.Level}
}

// =============================================================================
// WALLET - Single mutable aggregate per profile
// =============================================================================

type Wallet struct {
	OwnerID             ProfileID
	DirectSaleBalance   decimal.Decimal
	DownlineSaleBalance decimal.Decimal
	TotalBalance        decimal.Decimal
	Version             int64
	UpdatedAt           time.Time
}

// Balance returns the sub-balance for a category.
func (w Wallet) Balance(c WalletCategory) decimal.Decimal {
	if c == CategoryDirect {
		return w.DirectSaleBalance
	}
	return w.DownlineSaleBalance
}

// Adjusted returns a copy of w with delta applied to the category
// sub-balance, clamped at zero. The second return is true when clamping
// discarded part of a negative delta.
func (w Wallet) Adjusted(c WalletCategory, delta decimal.Decimal) (Wallet, bool) {
	next := w.Balance(c).Add(delta)
	clamped := false
	if next.IsNegative() {
		next = decimal.Zero
		clamped = true
	}
	if c == CategoryDirect {
		w.DirectSaleBalance = next
	} else {
		w.DownlineSaleBalance = next
	}
	w.TotalBalance = w.DirectSaleBalance.Add(w.DownlineSaleBalance)
	w.Version++
	return w, clamped
}

// WalletAdjustment is the result of an atomic balance increment.
type WalletAdjustment struct {
	Previous Wallet
	Wallet   Wallet
	Clamped  bool
}

// Applied is the change that actually landed on the category, which is
// smaller than the requested delta when the balance was clamped.
func (a WalletAdjustment) Applied(c WalletCategory) decimal.Decimal {
	return a.Wallet.Balance(c).Sub(a.Previous.Balance(c))
}
