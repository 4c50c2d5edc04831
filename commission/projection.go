package commission

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROJECTED WALLET - Display only, never written
// =============================================================================

// ProjectedLine is what one booked plot would pay ownerID at area rates.
type ProjectedLine struct {
	PlotID         PlotID
	Label          string
	Level          int
	Category       WalletCategory
	Area           decimal.Decimal
	Rate           decimal.Decimal
	PaidPercentage decimal.Decimal
	Amount         decimal.Decimal
}

type Projection struct {
	OwnerID             ProfileID
	DirectSaleBalance   decimal.Decimal
	DownlineSaleBalance decimal.Decimal
	TotalBalance        decimal.Decimal
	Lines               []ProjectedLine
}

// ProjectWallet sums the area-rate commission ownerID would earn from
// booked plots still below the threshold. It performs no writes.
func (d *Distributor) ProjectWallet(ctx context.Context, ownerID ProfileID) (*Projection, error) {
	if _, err := d.Store.GetProfile(ctx, ownerID); err != nil {
		return nil, storeErr("get profile", err)
	}

	booked, pending := PlotBooked, CommissionPending
	plots, err := d.Store.ListPlots(ctx, PlotFilter{Status: &booked, CommissionStatus: &pending})
	if err != nil {
		return nil, storeErr("list plots", err)
	}

	proj := &Projection{
		OwnerID:             ownerID,
		DirectSaleBalance:   decimal.Zero,
		DownlineSaleBalance: decimal.Zero,
		TotalBalance:        decimal.Zero,
	}
	for _, p := range plots {
		if p.BrokerID == "" || p.PaidPercentage.GreaterThanOrEqual(d.Policy.Threshold()) {
			continue
		}
		chain, err := d.Resolver.Resolve(ctx, p.BrokerID, d.Policy.MaxDepth())
		if err != nil {
			return nil, err
		}
		dist := d.Computer.Compute(SaleContext{
			PlotID:     p.ID,
			SaleType:   SaleBooked,
			SaleAmount: p.TotalPrice,
			Area:       p.Area,
		}, chain)

		for _, e := range dist.Entries {
			if e.ReceiverID != ownerID {
				continue
			}
			amount := e.Amount.Round(CurrencyMinorUnits)
			category := CategoryForLevel(e.Level)
			if category == CategoryDirect {
				proj.DirectSaleBalance = proj.DirectSaleBalance.Add(amount)
			} else {
				proj.DownlineSaleBalance = proj.DownlineSaleBalance.Add(amount)
			}
			proj.Lines = append(proj.Lines, ProjectedLine{
				PlotID:         p.ID,
				Label:          p.Label(),
				Level:          e.Level,
				Category:       category,
				Area:           p.Area,
				Rate:           e.Rate,
				PaidPercentage: p.PaidPercentage,
				Amount:         amount,
			})
		}
	}
	proj.TotalBalance = proj.DirectSaleBalance.Add(proj.DownlineSaleBalance)
	return proj, nil
}
