package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatecrm/commission-engine/commission"
	"github.com/estatecrm/commission-engine/commission/store"
)

// =============================================================================
// INITIAL DISTRIBUTION
// =============================================================================

func TestDistribute_SoldPlotCreditsThreeLevels(t *testing.T) {
	// GIVEN: seller -> u1 -> u2 and a sold plot at 10,00,000
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")

	// WHEN
	res, err := f.engine.DistributeForPlot(f.ctx, "plot-101")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, commission.OutcomeDistributed, res.Outcome)
	assertDecimal(t, "85000", res.Credited())

	recs := byLevel(f.records(t, "plot-101"))
	require.Len(t, recs, 3)
	assertDecimal(t, "60000", recs[0].Amount)
	assertDecimal(t, "20000", recs[1].Amount)
	assertDecimal(t, "5000", recs[2].Amount)
	assert.Equal(t, commission.ProfileID("seller"), recs[2].SellerID)

	seller := f.wallet(t, "seller")
	assertDecimal(t, "60000", seller.DirectSaleBalance)
	assertDecimal(t, "0", seller.DownlineSaleBalance)
	assertDecimal(t, "60000", seller.TotalBalance)
	assertDecimal(t, "20000", f.wallet(t, "u1").DownlineSaleBalance)
	assertDecimal(t, "5000", f.wallet(t, "u2").DownlineSaleBalance)

	txs := f.transactions(t, "plot-101")
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, commission.TxCredit, tx.Type)
		assert.Equal(t, commission.CategoryForLevel(tx.Level), tx.Category)
		assert.Equal(t, t0, tx.CreatedAt)
	}

	assert.Equal(t, commission.CommissionPaid, f.getPlot(t, "plot-101").CommissionStatus)
}

func TestDistribute_WalletTotalMatchesSubBalances(t *testing.T) {
	// GIVEN: u1 sells one plot directly and earns downline on another
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-1", 1000000, commission.PlotSold, "seller")
	f.plot(t, "plot-2", 500000, commission.PlotSold, "u1")

	// WHEN
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-1")
	require.NoError(t, err)
	_, err = f.engine.DistributeForPlot(f.ctx, "plot-2")
	require.NoError(t, err)

	// THEN
	w := f.wallet(t, "u1")
	assertDecimal(t, "30000", w.DirectSaleBalance)
	assertDecimal(t, "20000", w.DownlineSaleBalance)
	assertDecimal(t, "50000", w.TotalBalance)
	assert.True(t, w.TotalBalance.Equal(w.DirectSaleBalance.Add(w.DownlineSaleBalance)))
}

func TestDistribute_RoundsToMinorUnits(t *testing.T) {
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-odd", 333333, commission.PlotSold, "seller")

	res, err := f.engine.DistributeForPlot(f.ctx, "plot-odd")

	require.NoError(t, err)
	recs := byLevel(f.records(t, "plot-odd"))
	assertDecimal(t, "19999.98", recs[0].Amount)
	assertDecimal(t, "6666.66", recs[1].Amount)
	assertDecimal(t, "1666.67", recs[2].Amount)
	assertDecimal(t, "28333.31", res.Credited())
}

func TestDistribute_OnlyFirstThreeLevelsPaid(t *testing.T) {
	// GIVEN: a five deep chain
	f := newFixture(t)
	f.chain(t, "s", "a", "b", "c", "d")
	f.plot(t, "plot-deep", 1000000, commission.PlotSold, "s")

	// WHEN
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-deep")

	// THEN
	require.NoError(t, err)
	assert.Len(t, f.records(t, "plot-deep"), 3)
	_, err = f.store.GetWallet(f.ctx, "c")
	assert.True(t, commission.IsNotFound(err))
	_, err = f.store.GetWallet(f.ctx, "d")
	assert.True(t, commission.IsNotFound(err))
}

func TestDistribute_SponsorCyclePaysEachProfileOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveProfile(f.ctx, commission.Profile{ID: "a", Name: "A", SponsorID: "b"}))
	require.NoError(t, f.store.SaveProfile(f.ctx, commission.Profile{ID: "b", Name: "B", SponsorID: "a"}))
	f.plot(t, "plot-401", 1000000, commission.PlotSold, "a")

	_, err := f.engine.DistributeForPlot(f.ctx, "plot-401")

	require.NoError(t, err)
	assert.Len(t, f.records(t, "plot-401"), 2)
	assertDecimal(t, "60000", f.wallet(t, "a").TotalBalance)
	assertDecimal(t, "20000", f.wallet(t, "b").TotalBalance)
}

// =============================================================================
// RECALCULATION
// =============================================================================

func TestRecalculate_PriceCorrectionAppliesDelta(t *testing.T) {
	// GIVEN: plot-101 distributed at 10,00,000
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)
	before := byLevel(f.records(t, "plot-101"))

	// WHEN: the price is corrected to 12,00,000 a day later
	f.clock.Advance(24 * time.Hour)
	plot := f.getPlot(t, "plot-101")
	plot.TotalPrice = decimal.NewFromInt(1200000)
	require.NoError(t, f.store.SavePlot(f.ctx, plot))

	res, err := f.engine.RecalculateForPlot(f.ctx, "plot-101")

	// THEN: amounts move to the new price, ids and created_at stay
	require.NoError(t, err)
	assert.Equal(t, commission.OutcomeRecalculated, res.Outcome)
	assert.Equal(t, 3, res.Apply.Updated)
	assert.Zero(t, res.Apply.Inserted)
	assertDecimal(t, "85000", res.Apply.ReversedTotal)
	assertDecimal(t, "102000", res.Apply.CreditedTotal)
	assertDecimal(t, "17000", res.Apply.NetChange())

	after := byLevel(f.records(t, "plot-101"))
	require.Len(t, after, 3)
	assertDecimal(t, "72000", after[0].Amount)
	assertDecimal(t, "24000", after[1].Amount)
	assertDecimal(t, "6000", after[2].Amount)
	for level, rec := range after {
		assert.Equal(t, before[level].ID, rec.ID)
		assert.Equal(t, t0, rec.CreatedAt)
		assert.Equal(t, t0.Add(24*time.Hour), rec.UpdatedAt)
		assertDecimal(t, "1200000", rec.SaleAmount)
	}

	assertDecimal(t, "72000", f.wallet(t, "seller").TotalBalance)
	assertDecimal(t, "24000", f.wallet(t, "u1").TotalBalance)
	assertDecimal(t, "6000", f.wallet(t, "u2").TotalBalance)

	txs := f.transactions(t, "plot-101")
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, t0, tx.CreatedAt, "transaction keeps original timestamp")
	}
}

func TestRecalculate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		res, err := f.engine.RecalculateForPlot(f.ctx, "plot-101")
		require.NoError(t, err)
		assertDecimal(t, "0", res.Apply.NetChange())
	}

	assertDecimal(t, "60000", f.wallet(t, "seller").TotalBalance)
	assertDecimal(t, "20000", f.wallet(t, "u1").TotalBalance)
	assertDecimal(t, "5000", f.wallet(t, "u2").TotalBalance)
	assert.Len(t, f.records(t, "plot-101"), 3)
	assert.Len(t, f.transactions(t, "plot-101"), 3)
}

func TestRecalculate_ConservesBalance(t *testing.T) {
	// GIVEN: two plots sharing the same line
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-1", 1000000, commission.PlotSold, "seller")
	f.plot(t, "plot-2", 2000000, commission.PlotSold, "seller")
	for _, id := range []commission.PlotID{"plot-1", "plot-2"} {
		_, err := f.engine.DistributeForPlot(f.ctx, id)
		require.NoError(t, err)
	}

	// WHEN: only plot-2 is recalculated after a price drop
	p := f.getPlot(t, "plot-2")
	p.TotalPrice = decimal.NewFromInt(1500000)
	require.NoError(t, f.store.SavePlot(f.ctx, p))
	_, err := f.engine.RecalculateForPlot(f.ctx, "plot-2")
	require.NoError(t, err)

	// THEN: each wallet equals the sum of its records
	for _, owner := range []commission.ProfileID{"seller", "u1", "u2"} {
		recs, err := f.store.ListCommissions(f.ctx, commission.CommissionFilter{ReceiverID: &owner})
		require.NoError(t, err)
		sum := decimal.Zero
		for _, r := range recs {
			sum = sum.Add(r.Amount)
		}
		assertDecimal(t, sum.String(), f.wallet(t, owner).TotalBalance, owner)
	}
	assertDecimal(t, "150000", f.wallet(t, "seller").TotalBalance)
}

func TestRecalculate_ClampsDrainedWallet(t *testing.T) {
	// GIVEN: the seller's direct balance was drawn down outside the engine
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)
	_, err = f.store.AdjustWallet(f.ctx, "seller", commission.CategoryDirect, decimal.NewFromInt(-50000))
	require.NoError(t, err)

	// WHEN
	res, err := f.engine.RecalculateForPlot(f.ctx, "plot-101")

	// THEN: the reversal stops at zero and the warning is surfaced
	require.NoError(t, err)
	assert.True(t, hasWarning(res.Apply.Warnings, commission.WarnNegativeClamped, "seller"))
	// only the 10000 left in the seller's wallet could be taken back
	assertDecimal(t, "35000", res.Apply.ReversedTotal)
	assertDecimal(t, "85000", res.Apply.CreditedTotal)
	assertDecimal(t, "50000", res.Apply.NetChange())
	w := f.wallet(t, "seller")
	assertDecimal(t, "60000", w.DirectSaleBalance)
	assertDecimal(t, "60000", w.TotalBalance)
}

func TestRecalculate_RemovesStaleRecipients(t *testing.T) {
	// GIVEN: plot distributed over seller -> u1 -> u2
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.chain(t, "u3")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)

	// WHEN: the seller moves under u3, who has no sponsor
	seller, err := f.store.GetProfile(f.ctx, "seller")
	require.NoError(t, err)
	seller.SponsorID = "u3"
	require.NoError(t, f.store.SaveProfile(f.ctx, *seller))
	res, err := f.engine.RecalculateForPlot(f.ctx, "plot-101")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 2, res.Apply.Deleted)
	assert.True(t, hasWarning(res.Apply.Warnings, commission.WarnStaleRecordPurged, "u1"))
	assert.True(t, hasWarning(res.Apply.Warnings, commission.WarnStaleRecordPurged, "u2"))

	recs := byLevel(f.records(t, "plot-101"))
	require.Len(t, recs, 2)
	assert.Equal(t, commission.ProfileID("u3"), recs[1].ReceiverID)
	assertDecimal(t, "0", f.wallet(t, "u1").TotalBalance)
	assertDecimal(t, "0", f.wallet(t, "u2").TotalBalance)
	assertDecimal(t, "20000", f.wallet(t, "u3").TotalBalance)
	assert.Len(t, f.transactions(t, "plot-101"), 2)
}

// =============================================================================
// APPLIER EDGE CASES
// =============================================================================

func TestApply_InitialOverExistingRecordsRecalculates(t *testing.T) {
	// GIVEN: records already exist although the plot still says pending
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)
	p := f.getPlot(t, "plot-101")
	p.CommissionStatus = commission.CommissionPending
	require.NoError(t, f.store.SavePlot(f.ctx, p))

	// WHEN
	res, err := f.engine.DistributeForPlot(f.ctx, "plot-101")

	// THEN: no double credit
	require.NoError(t, err)
	assert.Equal(t, commission.OutcomeRecalculated, res.Outcome)
	assert.True(t, hasWarning(res.Apply.Warnings, commission.WarnExistingRecords, ""))
	assertDecimal(t, "60000", f.wallet(t, "seller").TotalBalance)
	assert.Len(t, f.records(t, "plot-101"), 3)
}

func TestApply_SkipsDeletedRecipient(t *testing.T) {
	// GIVEN: u1 has been soft deleted
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	u1, err := f.store.GetProfile(f.ctx, "u1")
	require.NoError(t, err)
	deleted := t0
	u1.DeletedAt = &deleted
	require.NoError(t, f.store.SaveProfile(f.ctx, *u1))
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")

	// WHEN
	res, err := f.engine.DistributeForPlot(f.ctx, "plot-101")

	// THEN: u1's share is not paid to anyone, others are unaffected
	require.NoError(t, err)
	require.Len(t, res.Apply.Skipped, 1)
	assert.Equal(t, commission.ProfileID("u1"), res.Apply.Skipped[0].ReceiverID)
	assert.Equal(t, "profile deleted", res.Apply.Skipped[0].Reason)
	assert.True(t, hasWarning(res.Apply.Warnings, commission.WarnRecipientSkipped, "u1"))

	recs := byLevel(f.records(t, "plot-101"))
	assert.Len(t, recs, 2)
	assertDecimal(t, "60000", f.wallet(t, "seller").TotalBalance)
	assertDecimal(t, "5000", f.wallet(t, "u2").TotalBalance)
	_, err = f.store.GetWallet(f.ctx, "u1")
	assert.True(t, commission.IsNotFound(err))
}

func TestRecalculate_KeepsRecordsOfDeletedRecipient(t *testing.T) {
	// GIVEN: a distributed plot, then u1 is soft deleted
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)
	u1, err := f.store.GetProfile(f.ctx, "u1")
	require.NoError(t, err)
	deleted := t0.Add(time.Hour)
	u1.DeletedAt = &deleted
	require.NoError(t, f.store.SaveProfile(f.ctx, *u1))

	// WHEN: recalculated with no change to the sale
	f.clock.Advance(2 * time.Hour)
	res, err := f.engine.RecalculateForPlot(f.ctx, "plot-101")

	// THEN: u1's earned commission survives
	require.NoError(t, err)
	assertDecimal(t, "0", res.Apply.NetChange())
	assert.Empty(t, res.Apply.Skipped)
	assert.Equal(t, 0, res.Apply.Deleted)
	recs := byLevel(f.records(t, "plot-101"))
	require.Len(t, recs, 3)
	assert.Equal(t, commission.ProfileID("u1"), recs[1].ReceiverID)
	assertDecimal(t, "20000", f.wallet(t, "u1").TotalBalance)
	assert.Len(t, f.transactions(t, "plot-101"), 3)
}

// dupStore reports one extra record sharing the seller's key until it is
// deleted, the way legacy data could.
type dupStore struct {
	commission.Store
	extra   commission.CommissionRecord
	deleted bool
}

func (s *dupStore) ListCommissions(ctx context.Context, f commission.CommissionFilter) ([]commission.CommissionRecord, error) {
	recs, err := s.Store.ListCommissions(ctx, f)
	if err != nil || s.deleted || !f.Matches(s.extra) {
		return recs, err
	}
	return append(recs, s.extra), nil
}

func (s *dupStore) DeleteCommission(ctx context.Context, id commission.CommissionID) error {
	if id == s.extra.ID {
		s.deleted = true
		return nil
	}
	return s.Store.DeleteCommission(ctx, id)
}

func TestApply_RemovesDuplicateKeys(t *testing.T) {
	// GIVEN: a duplicate seller record whose amount was also credited
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	_, err := f.engine.DistributeForPlot(f.ctx, "plot-101")
	require.NoError(t, err)
	orig := byLevel(f.records(t, "plot-101"))[0]
	dup := orig
	dup.ID = "legacy-dup"
	dup.CreatedAt = t0.Add(time.Minute)
	_, err = f.store.AdjustWallet(f.ctx, "seller", commission.CategoryDirect, dup.Amount)
	require.NoError(t, err)
	wrapped := &dupStore{Store: f.store, extra: dup}

	// WHEN
	res, err := f.engine.Applier.Apply(f.ctx, wrapped, f.getPlot(t, "plot-101"), *f.mustCompute(t, "plot-101"), commission.ModeRecalculate)

	// THEN: one record remains and the wallet holds a single credit
	require.NoError(t, err)
	assert.True(t, wrapped.deleted)
	assert.Equal(t, 1, res.Deleted)
	assert.True(t, hasWarning(res.Warnings, commission.WarnDuplicateKey, "seller"))
	recs := byLevel(f.records(t, "plot-101"))
	assert.Equal(t, orig.ID, recs[0].ID)
	assertDecimal(t, "60000", f.wallet(t, "seller").TotalBalance)
}

func (f *fixture) mustCompute(t *testing.T, id commission.PlotID) *commission.Distribution {
	t.Helper()
	p := f.getPlot(t, id)
	chain, err := f.engine.Resolver.Resolve(f.ctx, p.BrokerID, f.engine.Policy.MaxDepth())
	require.NoError(t, err)
	d := f.engine.Computer.Compute(commission.SaleContext{
		PlotID:     p.ID,
		SaleType:   commission.SaleSold,
		SaleAmount: p.TotalPrice,
		Area:       p.Area,
	}, chain)
	return &d
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingTx wraps the memory store so writes inside a transaction fail at a
// chosen step.
type failingTx struct {
	*store.Memory
	failInsertTx bool
	conflicts    int
	attempts     int
}

func (s *failingTx) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	s.attempts++
	return s.Memory.WithTx(ctx, func(st commission.Store) error {
		return fn(&failingView{Store: st, parent: s})
	})
}

type failingView struct {
	commission.Store
	parent *failingTx
}

func (v *failingView) InsertTransaction(ctx context.Context, tx commission.Transaction) error {
	if v.parent.failInsertTx {
		return errors.New("disk full")
	}
	return v.Store.InsertTransaction(ctx, tx)
}

func (v *failingView) AdjustWallet(ctx context.Context, owner commission.ProfileID, c commission.WalletCategory, delta decimal.Decimal) (commission.WalletAdjustment, error) {
	if v.parent.conflicts > 0 {
		v.parent.conflicts--
		return commission.WalletAdjustment{}, commission.ErrConcurrentModification
	}
	return v.Store.AdjustWallet(ctx, owner, c, delta)
}

func TestDistribute_FailureRollsBackEverything(t *testing.T) {
	// GIVEN: transaction inserts fail
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	st := &failingTx{Memory: f.store, failInsertTx: true}
	engine := commission.NewDistributor(st, commission.DefaultRateSchedule())

	// WHEN
	_, err := engine.DistributeForPlot(f.ctx, "plot-101")

	// THEN: nothing from the attempt is visible
	require.Error(t, err)
	assert.True(t, commission.IsStoreFailure(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, f.records(t, "plot-101"))
	assert.Empty(t, f.transactions(t, "plot-101"))
	_, err = f.store.GetWallet(f.ctx, "seller")
	assert.True(t, commission.IsNotFound(err))
	assert.Equal(t, commission.CommissionPending, f.getPlot(t, "plot-101").CommissionStatus)
}

func TestDistribute_RetriesConcurrentModification(t *testing.T) {
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	st := &failingTx{Memory: f.store, conflicts: 1}
	engine := commission.NewDistributor(st, commission.DefaultRateSchedule())

	res, err := engine.DistributeForPlot(f.ctx, "plot-101")

	require.NoError(t, err)
	assert.Equal(t, commission.OutcomeDistributed, res.Outcome)
	assert.Equal(t, 2, st.attempts)
	assertDecimal(t, "60000", f.wallet(t, "seller").TotalBalance)
}

func TestDistribute_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.chain(t, "seller", "u1", "u2")
	f.plot(t, "plot-101", 1000000, commission.PlotSold, "seller")
	st := &failingTx{Memory: f.store, conflicts: 100}
	engine := commission.NewDistributor(st, commission.DefaultRateSchedule())

	_, err := engine.DistributeForPlot(f.ctx, "plot-101")

	require.Error(t, err)
	assert.True(t, commission.IsRetryable(err))
	assert.Equal(t, commission.DefaultMaxAttempts, st.attempts)
	assert.Empty(t, f.records(t, "plot-101"))
}

func hasWarning(ws []commission.Warning, kind commission.WarningKind, owner commission.ProfileID) bool {
	for _, w := range ws {
		if w.Kind == kind && (owner == "" || w.OwnerID == owner) {
			return true
		}
	}
	return false
}
