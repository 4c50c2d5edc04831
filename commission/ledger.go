/*
ledger.go - Ledger applier: commission records, wallets, transactions

PURPOSE:
  Writes a computed Distribution to the store. It is the only code that
  creates commission records, writes wallet transactions or moves wallet
  balances.

MODES:
  initial     - insert records, credit wallets, insert transactions,
                mark the plot's commission paid
  recalculate - reverse what the plot already credited, then apply the new
                distribution in place:
                  1. load existing records keyed by (receiver, level)
                  2. reverse each old amount on the wallet (clamped at 0)
                  3. delete the plot's transactions, remembering the
                     earliest created_at per (receiver, level)
                  4. update matching records in place (created_at kept),
                     insert the rest
                  5. credit the new amount
                  6. insert a transaction stamped with the remembered
                     created_at when there was one

CRITICAL INVARIANTS:
  1. At most one record per (plot, receiver, level)
  2. Every record has exactly one matching wallet credit
  3. Amounts are rounded to the currency minor unit here and nowhere else
  4. A recalculation with unchanged inputs leaves balances and record
     contents unchanged

ATOMICITY:
  Apply performs many writes. Callers run it inside TxStore.WithTx so a
  failure rolls every write back.

SEE ALSO:
  - orchestrator.go: decides when and in which mode Apply runs
  - store.go: AdjustWallet contract
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ApplyMode string

const (
	ModeInitial     ApplyMode = "initial"
	ModeRecalculate ApplyMode = "recalculate"
)

// CurrencyMinorUnits is the number of decimal places of the rupee.
const CurrencyMinorUnits int32 = 2

// =============================================================================
// RESULT TYPES
// =============================================================================

type CreditLine struct {
	CommissionID CommissionID
	ReceiverID   ProfileID
	ReceiverName string
	Level        int
	Category     WalletCategory
	Previous     decimal.Decimal // amount reversed for this key, zero if new
	Amount       decimal.Decimal
	Inserted     bool
	WalletTotal  decimal.Decimal
}

type SkippedRecipient struct {
	ReceiverID ProfileID
	Level      int
	Reason     string
}

type ApplyResult struct {
	PlotID        PlotID
	Mode          ApplyMode
	Credits       []CreditLine
	Skipped       []SkippedRecipient
	Warnings      []Warning
	ReversedTotal decimal.Decimal
	CreditedTotal decimal.Decimal
	Inserted      int
	Updated       int
	Deleted       int
}

// NetChange is the total wallet movement caused by this application.
func (r *ApplyResult) NetChange() decimal.Decimal {
	return r.CreditedTotal.Sub(r.ReversedTotal)
}

func (r *ApplyResult) warn(w Warning) { r.Warnings = append(r.Warnings, w) }

// =============================================================================
// APPLIER
// =============================================================================

type Applier struct {
	Log   *zap.Logger
	Now   func() time.Time
	NewID func() string
}

func NewApplier(log *zap.Logger) *Applier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Applier{
		Log:   log.Named("commission.ledger"),
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Apply writes d for plot. st should be a transactional view.
func (a *Applier) Apply(ctx context.Context, st Store, plot Plot, d Distribution, mode ApplyMode) (*ApplyResult, error) {
	res := &ApplyResult{
		PlotID:        plot.ID,
		Mode:          mode,
		ReversedTotal: decimal.Zero,
		CreditedTotal: decimal.Zero,
	}
	now := a.Now()

	existing, err := st.ListCommissions(ctx, CommissionFilter{PlotID: &plot.ID})
	if err != nil {
		return nil, storeErr("list commissions", err)
	}
	if mode == ModeInitial && len(existing) > 0 {
		res.warn(Warning{
			Kind:   WarnExistingRecords,
			PlotID: plot.ID,
			Detail: fmt.Sprintf("%d records already exist, recalculating instead", len(existing)),
		})
		mode = ModeRecalculate
		res.Mode = mode
	}

	// Steps 1 + 2: key existing records and reverse their wallet effect.
	byKey := make(map[RecipientKey]CommissionRecord, len(existing))
	var order []RecipientKey
	for _, rec := range existing {
		if err := a.reverse(ctx, st, res, rec); err != nil {
			return nil, err
		}
		k := rec.Key()
		if _, dup := byKey[k]; dup {
			res.warn(Warning{
				Kind:    WarnDuplicateKey,
				PlotID:  plot.ID,
				OwnerID: rec.ReceiverID,
				Detail:  fmt.Sprintf("duplicate record %s at level %d removed", rec.ID, rec.Level),
			})
			if err := st.DeleteCommission(ctx, rec.ID); err != nil {
				return nil, storeErr("delete duplicate commission", err)
			}
			res.Deleted++
			continue
		}
		byKey[k] = rec
		order = append(order, k)
	}

	// Step 3: remember original transaction timestamps, then drop the rows.
	stamps := make(map[RecipientKey]time.Time)
	if mode == ModeRecalculate {
		txs, err := st.ListTransactions(ctx, TransactionFilter{PlotID: &plot.ID})
		if err != nil {
			return nil, storeErr("list transactions", err)
		}
		for _, tx := range txs {
			k := tx.Key()
			if ts, ok := stamps[k]; !ok || tx.CreatedAt.Before(ts) {
				stamps[k] = tx.CreatedAt
			}
		}
		if _, err := st.DeleteTransactionsForPlot(ctx, plot.ID); err != nil {
			return nil, storeErr("delete transactions", err)
		}
	}

	// Steps 4-6.
	applied := make(map[RecipientKey]bool, len(d.Entries))
	for _, e := range d.Entries {
		k := e.Key()
		if applied[k] {
			res.warn(Warning{Kind: WarnDuplicateKey, PlotID: plot.ID, OwnerID: e.ReceiverID,
				Detail: fmt.Sprintf("distribution repeats level %d", e.Level)})
			continue
		}

		active, reason, err := a.recipientActive(ctx, st, e.ReceiverID)
		if err != nil {
			return nil, err
		}
		// A soft-deleted profile keeps what it already earned on this plot.
		if _, had := byKey[k]; had && reason == skipProfileDeleted && mode == ModeRecalculate {
			active = true
		}
		if !active {
			res.Skipped = append(res.Skipped, SkippedRecipient{ReceiverID: e.ReceiverID, Level: e.Level, Reason: reason})
			res.warn(Warning{Kind: WarnRecipientSkipped, PlotID: plot.ID, OwnerID: e.ReceiverID, Detail: reason})
			a.Log.Warn("recipient skipped",
				zap.String("plot_id", string(plot.ID)),
				zap.String("receiver_id", string(e.ReceiverID)),
				zap.Int("level", e.Level),
				zap.String("reason", reason))
			continue
		}

		amount := e.Amount.Round(CurrencyMinorUnits)
		category := CategoryForLevel(e.Level)
		line := CreditLine{
			ReceiverID:   e.ReceiverID,
			ReceiverName: e.ReceiverName,
			Level:        e.Level,
			Category:     category,
			Previous:     decimal.Zero,
			Amount:       amount,
		}

		rec, had := byKey[k]
		if had {
			line.Previous = rec.Amount
			rec.SellerID = d.SellerID
			rec.SellerName = d.SellerName
			rec.ReceiverName = e.ReceiverName
			rec.Percentage = e.Rate
			rec.SaleAmount = d.SaleAmount
			rec.Amount = amount
			rec.UpdatedAt = now
			if err := st.UpdateCommission(ctx, rec); err != nil {
				return nil, storeErr("update commission", err)
			}
			res.Updated++
		} else {
			rec = CommissionRecord{
				ID:           CommissionID(a.NewID()),
				PlotID:       plot.ID,
				SellerID:     d.SellerID,
				SellerName:   d.SellerName,
				ReceiverID:   e.ReceiverID,
				ReceiverName: e.ReceiverName,
				Level:        e.Level,
				Percentage:   e.Rate,
				SaleAmount:   d.SaleAmount,
				Amount:       amount,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := st.InsertCommission(ctx, rec); err != nil {
				return nil, storeErr("insert commission", err)
			}
			line.Inserted = true
			res.Inserted++
		}
		line.CommissionID = rec.ID

		adj, err := st.AdjustWallet(ctx, e.ReceiverID, category, amount)
		if err != nil {
			return nil, storeErr("credit wallet", err)
		}
		line.WalletTotal = adj.Wallet.TotalBalance

		createdAt := now
		if ts, ok := stamps[k]; ok {
			createdAt = ts
		}
		tx := Transaction{
			ID:          TransactionID(a.NewID()),
			OwnerID:     e.ReceiverID,
			Type:        TxCredit,
			Category:    category,
			Amount:      amount,
			Description: describe(plot, d, e),
			PlotID:      plot.ID,
			Level:       e.Level,
			CreatedAt:   createdAt,
		}
		if err := st.InsertTransaction(ctx, tx); err != nil {
			return nil, storeErr("insert transaction", err)
		}

		res.CreditedTotal = res.CreditedTotal.Add(amount)
		res.Credits = append(res.Credits, line)
		applied[k] = true
	}

	// Records whose key left the chain were reversed above; drop them too.
	for _, k := range order {
		if applied[k] {
			continue
		}
		rec := byKey[k]
		if err := st.DeleteCommission(ctx, rec.ID); err != nil {
			return nil, storeErr("delete stale commission", err)
		}
		res.Deleted++
		res.warn(Warning{Kind: WarnStaleRecordPurged, PlotID: plot.ID, OwnerID: rec.ReceiverID,
			Detail: fmt.Sprintf("level %d no longer in distribution", rec.Level)})
	}

	plot.CommissionStatus = CommissionPaid
	plot.UpdatedAt = now
	if err := st.SavePlot(ctx, plot); err != nil {
		return nil, storeErr("save plot", err)
	}

	a.Log.Info("distribution applied",
		zap.String("plot_id", string(plot.ID)),
		zap.String("mode", string(res.Mode)),
		zap.Int("credits", len(res.Credits)),
		zap.Int("skipped", len(res.Skipped)),
		zap.String("credited_total", res.CreditedTotal.StringFixed(CurrencyMinorUnits)),
		zap.String("reversed_total", res.ReversedTotal.StringFixed(CurrencyMinorUnits)))
	for _, w := range res.Warnings {
		a.Log.Warn("consistency warning",
			zap.String("kind", string(w.Kind)),
			zap.String("plot_id", string(w.PlotID)),
			zap.String("owner_id", string(w.OwnerID)),
			zap.String("detail", w.Detail))
	}
	return res, nil
}

func (a *Applier) reverse(ctx context.Context, st Store, res *ApplyResult, rec CommissionRecord) error {
	adj, err := st.AdjustWallet(ctx, rec.ReceiverID, CategoryForLevel(rec.Level), rec.Amount.Neg())
	if err != nil {
		return storeErr("reverse wallet", err)
	}
	if adj.Clamped {
		res.warn(Warning{
			Kind:    WarnNegativeClamped,
			PlotID:  rec.PlotID,
			OwnerID: rec.ReceiverID,
			Detail:  fmt.Sprintf("reversing %s from %s balance went below zero", rec.Amount.StringFixed(CurrencyMinorUnits), CategoryForLevel(rec.Level)),
		})
	}
	res.ReversedTotal = res.ReversedTotal.Add(adj.Applied(CategoryForLevel(rec.Level)).Neg())
	return nil
}

// Skip reasons reported in SkippedRecipient.
const (
	skipProfileNotFound = "profile not found"
	skipProfileDeleted  = "profile deleted"
)

func (a *Applier) recipientActive(ctx context.Context, st Store, id ProfileID) (bool, string, error) {
	p, err := st.GetProfile(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return false, skipProfileNotFound, nil
		}
		return false, "", storeErr("get recipient", err)
	}
	if p.IsDeleted() {
		return false, skipProfileDeleted, nil
	}
	return true, "", nil
}

func describe(plot Plot, d Distribution, e Entry) string {
	rate := e.Rate.String() + "%"
	if d.Mode == RatePerArea {
		rate = e.Rate.String() + " per unit"
	}
	if e.Level == 0 {
		return fmt.Sprintf("Direct sale commission on %s (%s)", plot.Label(), rate)
	}
	return fmt.Sprintf("Level %d downline commission from %s on %s (%s)", e.Level, d.SellerName, plot.Label(), rate)
}
