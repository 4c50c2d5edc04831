package commission

import "github.com/shopspring/decimal"

// =============================================================================
// COMMISSION COMPUTER
// =============================================================================

var hundred = decimal.NewFromInt(100)

// Entry is the amount owed to one recipient. Amount is unrounded.
type Entry struct {
	ReceiverID   ProfileID
	ReceiverName string
	Level        int
	Rate         decimal.Decimal
	Amount       decimal.Decimal
}

func (e Entry) Key() RecipientKey {
	return RecipientKey{ReceiverID: e.ReceiverID, Level: e.Level}
}

type Distribution struct {
	PlotID     PlotID
	SellerID   ProfileID
	SellerName string
	SaleType   SaleType
	Mode       RateMode
	SaleAmount decimal.Decimal
	Area       decimal.Decimal
	Entries    []Entry
}

// Total sums entry amounts at full precision.
func (d Distribution) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range d.Entries {
		total = total.Add(e.Amount)
	}
	return total
}

type Computer struct {
	Policy *RatePolicy
}

func NewComputer(policy *RatePolicy) *Computer {
	return &Computer{Policy: policy}
}

// Compute is deterministic: identical inputs give identical entries in
// chain order. Levels without a rate produce no entry.
func (c *Computer) Compute(sale SaleContext, chain Chain) Distribution {
	table := c.Policy.Rates(sale)
	d := Distribution{
		PlotID:     sale.PlotID,
		SaleType:   sale.SaleType,
		Mode:       table.Mode,
		SaleAmount: sale.SaleAmount,
		Area:       sale.Area,
	}
	if seller, ok := chain.Seller(); ok {
		d.SellerID = seller.ID
		d.SellerName = seller.Name
	}

	for _, link := range chain {
		rate, ok := table.RateFor(link.Level)
		if !ok {
			continue
		}
		d.Entries = append(d.Entries, Entry{
			ReceiverID:   link.ID,
			ReceiverName: link.Name,
			Level:        link.Level,
			Rate:         rate.Rate,
			Amount:       amountFor(table.Mode, sale, rate.Rate),
		})
	}
	return d
}

func amountFor(mode RateMode, sale SaleContext, rate decimal.Decimal) decimal.Decimal {
	if mode == RatePerArea {
		if !sale.Area.IsPositive() {
			return decimal.Zero
		}
		return sale.Area.Mul(rate)
	}
	return sale.SaleAmount.Mul(rate).Div(hundred)
}
