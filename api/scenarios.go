/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with realistic
	data and run the engine over it, so the CRM screens have something to
	show.

AVAILABLE SCENARIOS:
	sold-plot:       Plot sold for 10,00,000 by a seller with two uplines
	price-correction sold-plot, then the price is corrected to 12,00,000
	                 and the plot is recalculated (delta only)
	booked-plot:     Booked plot paid 70% then 76%: distributed at 76%
	batch-run:       Five sold plots, one broker without a profile
	sponsor-cycle:   A sponsors B sponsors A; a sale by A pays A and B once

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create profiles and plots
 3. Record payments or run distributions through the engine

USAGE VIA API:
	POST /api/scenarios/load
	{"scenarioId": "price-correction"}

NOTE:
	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and response helpers
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/estatecrm/commission-engine/commission"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "sold-plot",
			Name:        "Sold Plot",
			Description: "Plot sold for 10,00,000: seller 6%, upline 2%, second upline 0.5%",
		},
		load: loadSoldPlotScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "price-correction",
			Name:        "Price Correction",
			Description: "Sold plot corrected to 12,00,000 and recalculated by delta",
		},
		load: loadPriceCorrectionScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "booked-plot",
			Name:        "Booked Plot",
			Description: "Booked plot paid 70% (projection only) then 76% (distributed)",
		},
		load: loadBookedPlotScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "batch-run",
			Name:        "Batch Run",
			Description: "Five sold plots, one with a broker that has no profile",
		},
		load: loadBatchRunScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "sponsor-cycle",
			Name:        "Sponsorship Cycle",
			Description: "A and B sponsor each other; the chain stops at the repeat",
		},
		load: loadSponsorCycleScenario,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeData(w, http.StatusOK, "", dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeData(w, http.StatusOK, "", s.ScenarioDTO)
			return
		}
	}
	writeData(w, http.StatusOK, "No scenario loaded", nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(store Resetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoadScenarioRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		var found *scenario
		for i := range scenarios {
			if scenarios[i].ID == req.ScenarioID {
				found = &scenarios[i]
				break
			}
		}
		if found == nil {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}

		ctx := r.Context()
		h.mu.Lock()
		defer h.mu.Unlock()

		if err := store.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
			return
		}
		h.currentScenario = ""

		if err := found.load(ctx, h); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
			return
		}
		h.currentScenario = found.ID
		writeData(w, http.StatusOK, "Scenario loaded", found.ScenarioDTO)
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadSoldPlotScenario(ctx context.Context, h *Handler) error {
	if err := h.seedChain(ctx, "seller", "u1", "u2"); err != nil {
		return err
	}
	if err := h.seedPlot(ctx, "plot-101", "Green Valley", "101", 200, 1000000, commission.PlotSold, "seller"); err != nil {
		return err
	}
	_, err := h.Engine.DistributeForPlot(ctx, "plot-101")
	return err
}

func loadPriceCorrectionScenario(ctx context.Context, h *Handler) error {
	if err := loadSoldPlotScenario(ctx, h); err != nil {
		return err
	}
	plot, err := h.Store.GetPlot(ctx, "plot-101")
	if err != nil {
		return err
	}
	plot.TotalPrice = decimal.NewFromInt(1200000)
	plot.UpdatedAt = h.Now()
	if err := h.Store.SavePlot(ctx, *plot); err != nil {
		return err
	}
	_, err = h.Engine.RecalculateForPlot(ctx, "plot-101")
	return err
}

func loadBookedPlotScenario(ctx context.Context, h *Handler) error {
	if err := h.seedChain(ctx, "seller", "u1", "u2"); err != nil {
		return err
	}
	if err := h.seedPlot(ctx, "plot-202", "Sunrise Enclave", "202", 300, 1500000, commission.PlotAvailable, "seller"); err != nil {
		return err
	}
	// 70% first: projection only. Then 6% more crosses the threshold.
	for _, amount := range []int64{1050000, 90000} {
		if _, _, err := h.Engine.RecordPayment(ctx, commission.PaymentInput{
			PlotID: "plot-202",
			Amount: decimal.NewFromInt(amount),
			Note:   "scenario payment",
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadBatchRunScenario(ctx context.Context, h *Handler) error {
	if err := h.seedChain(ctx, "seller", "u1", "u2"); err != nil {
		return err
	}
	for i := 1; i <= 4; i++ {
		id := commission.PlotID(fmt.Sprintf("plot-30%d", i))
		if err := h.seedPlot(ctx, id, "Lake View", fmt.Sprintf("30%d", i), 150, int64(500000*i), commission.PlotSold, "seller"); err != nil {
			return err
		}
	}
	if err := h.seedPlot(ctx, "plot-305", "Lake View", "305", 150, 800000, commission.PlotSold, "removed-broker"); err != nil {
		return err
	}
	_, err := h.Engine.DistributeForAllSoldPlots(ctx, commission.BatchOptions{Workers: 2})
	return err
}

func loadSponsorCycleScenario(ctx context.Context, h *Handler) error {
	now := h.Now()
	for _, p := range []commission.Profile{
		{ID: "a", Name: "Associate A", SponsorID: "b", CreatedAt: now},
		{ID: "b", Name: "Associate B", SponsorID: "a", CreatedAt: now},
	} {
		if err := h.Store.SaveProfile(ctx, p); err != nil {
			return err
		}
	}
	if err := h.seedPlot(ctx, "plot-401", "Hill Top", "401", 100, 1000000, commission.PlotSold, "a"); err != nil {
		return err
	}
	_, err := h.Engine.DistributeForPlot(ctx, "plot-401")
	return err
}

// seedChain creates profiles where each id is sponsored by the next one.
func (h *Handler) seedChain(ctx context.Context, ids ...commission.ProfileID) error {
	now := h.Now()
	for i, id := range ids {
		p := commission.Profile{ID: id, Name: "Associate " + string(id), CreatedAt: now}
		if i+1 < len(ids) {
			p.SponsorID = ids[i+1]
		}
		if err := h.Store.SaveProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedPlot(ctx context.Context, id commission.PlotID, project, number string, area, price int64, status commission.PlotStatus, broker commission.ProfileID) error {
	now := h.Now()
	paid := zeroPercent
	if status == commission.PlotSold {
		paid = fullPercent
	}
	return h.Store.SavePlot(ctx, commission.Plot{
		ID:               id,
		ProjectName:      project,
		PlotNumber:       number,
		Area:             decimal.NewFromInt(area),
		TotalPrice:       decimal.NewFromInt(price),
		Status:           status,
		PaidPercentage:   paid,
		BrokerID:         broker,
		CommissionStatus: commission.CommissionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}
