package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentInput is one payment received against a plot.
type PaymentInput struct {
	PlotID PlotID
	Amount decimal.Decimal
	PaidAt time.Time // zero means now
	Note   string
}

// RecordPayment appends the payment, recomputes the plot's paid percentage
// from the full payment history and runs OnPaymentRecorded.
func (d *Distributor) RecordPayment(ctx context.Context, in PaymentInput) (*Payment, *PaymentOutcome, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, invalidState(in.PlotID, "payment amount must be positive")
	}

	unlock := d.Locks.Lock(plotLockKey(in.PlotID))
	defer unlock()

	plot, err := d.Store.GetPlot(ctx, in.PlotID)
	if err != nil {
		return nil, nil, storeErr("get plot", err)
	}
	if !plot.TotalPrice.IsPositive() {
		return nil, nil, invalidState(plot.ID, "plot has no total price")
	}

	now := d.Now()
	payment := Payment{
		ID:        PaymentID(d.Applier.NewID()),
		PlotID:    plot.ID,
		Amount:    in.Amount,
		PaidAt:    in.PaidAt,
		Note:      in.Note,
		CreatedAt: now,
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = now
	}

	var paid decimal.Decimal
	err = d.Store.WithTx(ctx, func(st Store) error {
		if err := st.AppendPayment(ctx, payment); err != nil {
			return storeErr("append payment", err)
		}
		history, err := st.ListPayments(ctx, plot.ID)
		if err != nil {
			return storeErr("list payments", err)
		}
		paid = PaidPercentage(history, plot.TotalPrice)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	d.Log.Info("payment recorded",
		zap.String("plot_id", string(plot.ID)),
		zap.String("payment_id", string(payment.ID)),
		zap.String("amount", payment.Amount.StringFixed(CurrencyMinorUnits)),
		zap.String("paid_percentage", paid.String()))

	out, err := d.onPaymentLocked(ctx, plot.ID, paid)
	return &payment, out, err
}

// PaidPercentage is min(100, sum(payments) / total * 100). The value is not
// rounded: threshold and sold checks compare against it directly.
func PaidPercentage(payments []Payment, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return clampPercentage(sum.Mul(hundred).Div(total))
}

// SaleCorrection changes the sale terms of an existing plot. Nil fields are
// left as they are.
type SaleCorrection struct {
	TotalPrice *decimal.Decimal
	Area       *decimal.Decimal
	BrokerID   *ProfileID
}

// CorrectSale updates a plot's sale terms and keeps its status and
// commission status. When payments exist the paid percentage is recomputed
// against the new price. Wallets are untouched until RecalculateForPlot.
func (d *Distributor) CorrectSale(ctx context.Context, id PlotID, c SaleCorrection) (*Plot, error) {
	if c.TotalPrice != nil && c.TotalPrice.IsNegative() {
		return nil, invalidState(id, "total price must not be negative")
	}
	if c.Area != nil && c.Area.IsNegative() {
		return nil, invalidState(id, "area must not be negative")
	}

	unlock := d.Locks.Lock(plotLockKey(id))
	defer unlock()

	plot, err := d.Store.GetPlot(ctx, id)
	if err != nil {
		return nil, storeErr("get plot", err)
	}
	if c.TotalPrice != nil {
		plot.TotalPrice = *c.TotalPrice
		history, err := d.Store.ListPayments(ctx, id)
		if err != nil {
			return nil, storeErr("list payments", err)
		}
		if len(history) > 0 {
			plot.PaidPercentage = PaidPercentage(history, plot.TotalPrice)
		}
	}
	if c.Area != nil {
		plot.Area = *c.Area
	}
	if c.BrokerID != nil {
		plot.BrokerID = *c.BrokerID
	}
	plot.UpdatedAt = d.Now()
	if err := d.Store.SavePlot(ctx, *plot); err != nil {
		return nil, storeErr("save plot", err)
	}

	d.Log.Info("sale corrected",
		zap.String("plot_id", string(id)),
		zap.String("total_price", plot.TotalPrice.StringFixed(CurrencyMinorUnits)),
		zap.String("paid_percentage", plot.PaidPercentage.String()),
		zap.String("commission_status", string(plot.CommissionStatus)))
	return plot, nil
}
