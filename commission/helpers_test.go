package commission_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatecrm/commission-engine/commission"
	"github.com/estatecrm/commission-engine/commission/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%04d", n.Add(1)) }
}

type fixture struct {
	ctx    context.Context
	store  *store.Memory
	clock  *testClock
	engine *commission.Distributor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, commission.DefaultRateSchedule())
}

func newFixtureWith(t *testing.T, schedule commission.RateSchedule) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemory(),
		clock: &testClock{now: t0},
	}
	f.engine = commission.NewDistributor(f.store, schedule,
		commission.WithClock(f.clock.Now),
		commission.WithIDGenerator(sequentialIDs()),
	)
	return f
}

// chain saves profiles where each id is sponsored by the next one.
func (f *fixture) chain(t *testing.T, ids ...commission.ProfileID) {
	t.Helper()
	for i, id := range ids {
		p := commission.Profile{ID: id, Name: "Associate " + string(id), CreatedAt: t0}
		if i+1 < len(ids) {
			p.SponsorID = ids[i+1]
		}
		require.NoError(t, f.store.SaveProfile(f.ctx, p))
	}
}

func (f *fixture) plot(t *testing.T, id commission.PlotID, price int64, status commission.PlotStatus, broker commission.ProfileID) commission.Plot {
	t.Helper()
	paid := decimal.Zero
	if status == commission.PlotSold {
		paid = decimal.NewFromInt(100)
	}
	p := commission.Plot{
		ID:               id,
		ProjectName:      "Green Valley",
		PlotNumber:       string(id),
		Area:             decimal.NewFromInt(300),
		TotalPrice:       decimal.NewFromInt(price),
		Status:           status,
		PaidPercentage:   paid,
		BrokerID:         broker,
		CommissionStatus: commission.CommissionPending,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
	require.NoError(t, f.store.SavePlot(f.ctx, p))
	return p
}

func (f *fixture) getPlot(t *testing.T, id commission.PlotID) commission.Plot {
	t.Helper()
	p, err := f.store.GetPlot(f.ctx, id)
	require.NoError(t, err)
	return *p
}

// wallet returns a zero wallet for owners never credited.
func (f *fixture) wallet(t *testing.T, owner commission.ProfileID) commission.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(f.ctx, owner)
	if commission.IsNotFound(err) {
		return commission.Wallet{OwnerID: owner, DirectSaleBalance: decimal.Zero, DownlineSaleBalance: decimal.Zero, TotalBalance: decimal.Zero}
	}
	require.NoError(t, err)
	return *w
}

func (f *fixture) records(t *testing.T, plotID commission.PlotID) []commission.CommissionRecord {
	t.Helper()
	recs, err := f.store.ListCommissions(f.ctx, commission.CommissionFilter{PlotID: &plotID})
	require.NoError(t, err)
	return recs
}

func (f *fixture) transactions(t *testing.T, plotID commission.PlotID) []commission.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactions(f.ctx, commission.TransactionFilter{PlotID: &plotID})
	require.NoError(t, err)
	return txs
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got)}, msgAndArgs...)...)
}

func byLevel(recs []commission.CommissionRecord) map[int]commission.CommissionRecord {
	out := make(map[int]commission.CommissionRecord, len(recs))
	for _, r := range recs {
		out[r.Level] = r
	}
	return out
}
