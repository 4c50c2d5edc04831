/*
orchestrator.go - Distribution orchestrator

PURPOSE:
  Entry point of the engine. Decides whether a plot is eligible, resolves
  the chain, computes the distribution and hands it to the Applier inside a
  store transaction.

STATE MACHINE (booked -> sold):
  status    commission  event                     action
  -------   ----------  ------------------------  ----------------------------
  available pending     first payment             status -> booked
  booked    pending     paid >= threshold         distribute (sold rates,
                                                  total price), commission ->
                                                  paid
  booked    paid        paid reaches 100          status -> sold, no new
                                                  distribution
  sold      pending     admin / batch             distribute (sold rates)
  sold      paid        admin recalculation       recalculate (delta)

  A failed distribution never blocks booked -> sold; the plot stays
  commission-pending and is picked up by the next batch run.

CONCURRENCY:
  Per-plot and per-wallet keyed locks serialise work in-process. The plot
  lock is always taken before wallet locks and a goroutine never holds two
  plot locks. Stores may additionally reject a lost race with
  ErrConcurrentModification, which is retried.

BATCH:
  DistributeForAllSoldPlots continues past failures and checks ctx between
  plots.

SEE ALSO:
  - ledger.go: the writes
  - payment.go: RecordPayment
  - projection.go: ProjectWallet
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds retries of an apply that lost a store race.
const DefaultMaxAttempts = 3

type Outcome string

const (
	OutcomeDistributed  Outcome = "distributed"
	OutcomeRecalculated Outcome = "recalculated"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeFailed       Outcome = "failed"
)

// Recorder receives engine events. The metrics package implements it.
type Recorder interface {
	ObserveDistribution(mode ApplyMode, outcome Outcome, credited decimal.Decimal)
	ObserveBatch(summary *BatchSummary, elapsed time.Duration)
	ObserveWarning(kind WarningKind)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDistribution(ApplyMode, Outcome, decimal.Decimal) {}
func (nopRecorder) ObserveBatch(*BatchSummary, time.Duration)               {}
func (nopRecorder) ObserveWarning(WarningKind)                              {}

// DistributionResult describes what happened to one plot.
type DistributionResult struct {
	PlotID       PlotID
	Outcome      Outcome
	Reason       string
	Chain        Chain
	Distribution *Distribution
	Apply        *ApplyResult
}

// Credited is the amount written to wallets, zero when skipped.
func (r *DistributionResult) Credited() decimal.Decimal {
	if r == nil || r.Apply == nil {
		return decimal.Zero
	}
	return r.Apply.CreditedTotal
}

// =============================================================================
// DISTRIBUTOR
// =============================================================================

type Distributor struct {
	Store       TxStore
	Policy      *RatePolicy
	Resolver    *Resolver
	Computer    *Computer
	Applier     *Applier
	Locks       *KeyedLocks
	Recorder    Recorder
	Log         *zap.Logger
	MaxAttempts int
	Now         func() time.Time
}

type Option func(*Distributor)

func WithLogger(log *zap.Logger) Option {
	return func(d *Distributor) {
		if log != nil {
			d.Log = log
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(d *Distributor) {
		if r != nil {
			d.Recorder = r
		}
	}
}

// WithClock fixes the time source for the distributor and its applier.
func WithClock(now func() time.Time) Option {
	return func(d *Distributor) { d.Now = now }
}

// WithIDGenerator replaces uuid generation, mostly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(d *Distributor) { d.Applier.NewID = fn }
}

func NewDistributor(store TxStore, schedule RateSchedule, opts ...Option) *Distributor {
	d := &Distributor{
		Store:       store,
		Policy:      NewRatePolicy(schedule),
		Locks:       NewKeyedLocks(),
		Recorder:    nopRecorder{},
		Log:         zap.NewNop(),
		MaxAttempts: DefaultMaxAttempts,
		Now:         func() time.Time { return time.Now().UTC() },
	}
	d.Applier = NewApplier(nil)
	for _, opt := range opts {
		opt(d)
	}
	d.Resolver = NewResolver(store, d.Log)
	d.Computer = NewComputer(d.Policy)
	d.Applier.Log = d.Log.Named("commission.ledger")
	d.Applier.Now = d.Now
	d.Log = d.Log.Named("commission.distributor")
	return d
}

// DistributeForPlot runs the initial distribution for one plot. A plot
// whose commission is already paid is skipped.
func (d *Distributor) DistributeForPlot(ctx context.Context, id PlotID) (*DistributionResult, error) {
	unlock := d.Locks.Lock(plotLockKey(id))
	defer unlock()

	plot, err := d.Store.GetPlot(ctx, id)
	if err != nil {
		return nil, storeErr("get plot", err)
	}
	return d.distributeLocked(ctx, plot, ModeInitial)
}

// RecalculateForPlot recomputes an eligible plot regardless of its
// commission status and applies only the delta.
func (d *Distributor) RecalculateForPlot(ctx context.Context, id PlotID) (*DistributionResult, error) {
	unlock := d.Locks.Lock(plotLockKey(id))
	defer unlock()

	plot, err := d.Store.GetPlot(ctx, id)
	if err != nil {
		return nil, storeErr("get plot", err)
	}
	return d.distributeLocked(ctx, plot, ModeRecalculate)
}

// distributeLocked expects the caller to hold the plot lock.
func (d *Distributor) distributeLocked(ctx context.Context, plot *Plot, mode ApplyMode) (*DistributionResult, error) {
	res := &DistributionResult{PlotID: plot.ID}

	if mode == ModeInitial && plot.CommissionStatus == CommissionPaid {
		res.Outcome = OutcomeSkipped
		res.Reason = "commission already paid"
		d.Recorder.ObserveDistribution(mode, OutcomeSkipped, decimal.Zero)
		return res, nil
	}

	if err := d.checkEligible(*plot); err != nil {
		d.Recorder.ObserveDistribution(mode, OutcomeFailed, decimal.Zero)
		return nil, err
	}

	chain, err := d.Resolver.Resolve(ctx, plot.BrokerID, d.Policy.MaxDepth())
	if err != nil {
		d.Recorder.ObserveDistribution(mode, OutcomeFailed, decimal.Zero)
		return nil, err
	}
	if len(chain) == 0 {
		d.Recorder.ObserveDistribution(mode, OutcomeFailed, decimal.Zero)
		return nil, fmt.Errorf("plot %s broker %s: %w", plot.ID, plot.BrokerID, ErrSellerNotFound)
	}
	res.Chain = chain

	sale := SaleContext{PlotID: plot.ID, SaleType: SaleSold, SaleAmount: plot.TotalPrice, Area: plot.Area}
	dist := d.Computer.Compute(sale, chain)
	res.Distribution = &dist

	existing, err := d.Store.ListCommissions(ctx, CommissionFilter{PlotID: &plot.ID})
	if err != nil {
		d.Recorder.ObserveDistribution(mode, OutcomeFailed, decimal.Zero)
		return nil, storeErr("list commissions", err)
	}
	keys := make([]string, 0, len(chain)+len(existing))
	for _, link := range chain {
		keys = append(keys, walletLockKey(link.ID))
	}
	for _, rec := range existing {
		keys = append(keys, walletLockKey(rec.ReceiverID))
	}
	unlock := d.Locks.Lock(keys...)
	defer unlock()

	applied, err := d.applyWithRetry(ctx, *plot, dist, mode)
	if err != nil {
		d.Recorder.ObserveDistribution(mode, OutcomeFailed, decimal.Zero)
		d.Log.Error("distribution failed",
			zap.String("plot_id", string(plot.ID)),
			zap.String("mode", string(mode)),
			zap.Error(err))
		return nil, err
	}
	res.Apply = applied
	res.Outcome = OutcomeDistributed
	if applied.Mode == ModeRecalculate {
		res.Outcome = OutcomeRecalculated
	}
	for _, w := range applied.Warnings {
		d.Recorder.ObserveWarning(w.Kind)
	}
	d.Recorder.ObserveDistribution(applied.Mode, res.Outcome, applied.CreditedTotal)
	return res, nil
}

func (d *Distributor) applyWithRetry(ctx context.Context, plot Plot, dist Distribution, mode ApplyMode) (*ApplyResult, error) {
	attempts := d.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		res *ApplyResult
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		err = d.Store.WithTx(ctx, func(st Store) error {
			var applyErr error
			res, applyErr = d.Applier.Apply(ctx, st, plot, dist, mode)
			return applyErr
		})
		if err == nil || !IsRetryable(err) {
			break
		}
		d.Log.Warn("apply lost a race, retrying",
			zap.String("plot_id", string(plot.ID)),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Distributor) checkEligible(p Plot) error {
	if !p.TotalPrice.IsPositive() {
		return invalidState(p.ID, "no sale amount")
	}
	if p.BrokerID == "" {
		return invalidState(p.ID, "no broker assigned")
	}
	switch p.Status {
	case PlotSold:
		return nil
	case PlotBooked:
		if p.PaidPercentage.LessThan(d.Policy.Threshold()) {
			return invalidState(p.ID, "paid %s%% is below the %s%% threshold",
				p.PaidPercentage.String(), d.Policy.Threshold().String())
		}
		return nil
	default:
		return invalidState(p.ID, "plot is %s", p.Status)
	}
}

// =============================================================================
// BATCH
// =============================================================================

type BatchOptions struct {
	// Workers is the number of plots processed concurrently. Values below 1
	// mean sequential.
	Workers int
	// Recalculate forces recalculation of plots already paid.
	Recalculate bool
}

type PlotFailure struct {
	PlotID PlotID `json:"plotId"`
	Error  string `json:"error"`
}

type BatchSummary struct {
	Mode             ApplyMode
	Processed        int
	Succeeded        int
	Skipped          int
	Failed           int
	TotalDistributed decimal.Decimal
	Failures         []PlotFailure
	Canceled         bool
}

// DistributeForAllSoldPlots distributes every sold plot. Per-plot failures
// are collected in the summary; the returned error is only for failing to
// list plots.
func (d *Distributor) DistributeForAllSoldPlots(ctx context.Context, opts BatchOptions) (*BatchSummary, error) {
	started := d.Now()
	mode := ModeInitial
	if opts.Recalculate {
		mode = ModeRecalculate
	}

	sold := PlotSold
	plots, err := d.Store.ListPlots(ctx, PlotFilter{Status: &sold})
	if err != nil {
		return nil, storeErr("list plots", err)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	summary := &BatchSummary{Mode: mode, TotalDistributed: decimal.Zero}
	var mu sync.Mutex
	record := func(id PlotID, res *DistributionResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.Processed++
		switch {
		case err != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, PlotFailure{PlotID: id, Error: err.Error()})
			d.Log.Warn("batch plot failed", zap.String("plot_id", string(id)), zap.Error(err))
		case res.Outcome == OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Succeeded++
			summary.TotalDistributed = summary.TotalDistributed.Add(res.Credited())
		}
	}

	jobs := make(chan PlotID)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				var (
					res *DistributionResult
					err error
				)
				if opts.Recalculate {
					res, err = d.RecalculateForPlot(ctx, id)
				} else {
					res, err = d.DistributeForPlot(ctx, id)
				}
				record(id, res, err)
			}
		}()
	}

feed:
	for _, p := range plots {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- p.ID:
		}
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil && summary.Processed < len(plots) {
		summary.Canceled = true
	}
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].PlotID < summary.Failures[j].PlotID
	})

	elapsed := d.Now().Sub(started)
	d.Recorder.ObserveBatch(summary, elapsed)
	d.Log.Info("batch distribution finished",
		zap.String("mode", string(mode)),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.String("total_distributed", summary.TotalDistributed.StringFixed(CurrencyMinorUnits)),
		zap.Bool("canceled", summary.Canceled),
		zap.Duration("elapsed", elapsed))
	return summary, nil
}

// =============================================================================
// PAYMENT EVENTS
// =============================================================================

// PaymentOutcome reports the plot transitions caused by a payment.
type PaymentOutcome struct {
	PlotID           PlotID
	PaidPercentage   decimal.Decimal
	PreviousStatus   PlotStatus
	Status           PlotStatus
	CommissionStatus CommissionStatus
	Distributed      bool
	BecameSold       bool
	Distribution     *DistributionResult
}

// OnPaymentRecorded applies a new paid percentage to a plot and runs the
// booked -> sold state machine.
func (d *Distributor) OnPaymentRecorded(ctx context.Context, id PlotID, paidPercentage decimal.Decimal) (*PaymentOutcome, error) {
	unlock := d.Locks.Lock(plotLockKey(id))
	defer unlock()
	return d.onPaymentLocked(ctx, id, paidPercentage)
}

func (d *Distributor) onPaymentLocked(ctx context.Context, id PlotID, paidPercentage decimal.Decimal) (*PaymentOutcome, error) {
	plot, err := d.Store.GetPlot(ctx, id)
	if err != nil {
		return nil, storeErr("get plot", err)
	}

	pct := clampPercentage(paidPercentage)
	out := &PaymentOutcome{PlotID: id, PaidPercentage: pct, PreviousStatus: plot.Status}

	plot.PaidPercentage = pct
	if plot.Status == PlotAvailable && pct.IsPositive() {
		plot.Status = PlotBooked
	}
	plot.UpdatedAt = d.Now()
	if err := d.Store.SavePlot(ctx, *plot); err != nil {
		return nil, storeErr("save plot", err)
	}

	// A failed distribution leaves the plot pending for a later batch run
	// but does not hold back the sold transition.
	var distErr error
	if plot.CommissionStatus == CommissionPending && plot.Status != PlotAvailable &&
		pct.GreaterThanOrEqual(d.Policy.Threshold()) {
		res, err := d.distributeLocked(ctx, plot, ModeInitial)
		if err != nil {
			distErr = err
		} else {
			out.Distribution = res
			out.Distributed = res.Outcome != OutcomeSkipped
			if plot, err = d.Store.GetPlot(ctx, id); err != nil {
				return out, storeErr("get plot", err)
			}
		}
	}

	if pct.GreaterThanOrEqual(hundred) && plot.Status != PlotSold {
		plot.Status = PlotSold
		plot.UpdatedAt = d.Now()
		if err := d.Store.SavePlot(ctx, *plot); err != nil {
			return out, errors.Join(distErr, storeErr("save plot", err))
		}
		out.BecameSold = true
	}

	out.Status = plot.Status
	out.CommissionStatus = plot.CommissionStatus
	d.Log.Info("payment applied",
		zap.String("plot_id", string(id)),
		zap.String("paid_percentage", pct.String()),
		zap.String("status", string(out.Status)),
		zap.Bool("distributed", out.Distributed),
		zap.Bool("became_sold", out.BecameSold))
	return out, distErr
}

func clampPercentage(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
