package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatecrm/commission-engine/commission"
)

func (s *testServer) loadScenario(id string) {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(s.t, http.StatusOK, code, env.Message)
}

func (s *testServer) walletTotal(owner commission.ProfileID) string {
	s.t.Helper()
	w, err := s.store.GetWallet(context.Background(), owner)
	if commission.IsNotFound(err) {
		return "0"
	}
	require.NoError(s.t, err)
	return w.TotalBalance.String()
}

func TestScenario_SoldPlot(t *testing.T) {
	s := setupTestServer(t)

	s.loadScenario("sold-plot")

	assert.Equal(t, "60000", s.walletTotal("seller"))
	assert.Equal(t, "20000", s.walletTotal("u1"))
	assert.Equal(t, "5000", s.walletTotal("u2"))
}

func TestScenario_PriceCorrection(t *testing.T) {
	s := setupTestServer(t)

	s.loadScenario("price-correction")

	assert.Equal(t, "72000", s.walletTotal("seller"))
	assert.Equal(t, "24000", s.walletTotal("u1"))
	assert.Equal(t, "6000", s.walletTotal("u2"))
}

func TestScenario_BookedPlot(t *testing.T) {
	s := setupTestServer(t)

	s.loadScenario("booked-plot")

	plot, err := s.store.GetPlot(context.Background(), "plot-202")
	require.NoError(t, err)
	assert.Equal(t, commission.PlotBooked, plot.Status)
	assert.Equal(t, "76", plot.PaidPercentage.String())
	assert.Equal(t, commission.CommissionPaid, plot.CommissionStatus)
	assert.Equal(t, "90000", s.walletTotal("seller"))
}

func TestScenario_BatchRun(t *testing.T) {
	s := setupTestServer(t)

	s.loadScenario("batch-run")

	// 2% of 5,00,000 + 10,00,000 + 15,00,000 + 20,00,000
	assert.Equal(t, "100000", s.walletTotal("u1"))
	orphan := commission.PlotID("plot-305")
	recs, err := s.store.ListCommissions(context.Background(), commission.CommissionFilter{PlotID: &orphan})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScenario_SponsorCycle(t *testing.T) {
	s := setupTestServer(t)

	s.loadScenario("sponsor-cycle")

	assert.Equal(t, "60000", s.walletTotal("a"))
	assert.Equal(t, "20000", s.walletTotal("b"))
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	s := setupTestServer(t)

	code, env := s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, code)
	var list []ScenarioDTO
	s.decode(env, &list)
	require.Len(t, list, len(scenarios))

	for _, sc := range list {
		t.Run(sc.ID, func(t *testing.T) {
			s.loadScenario(sc.ID)

			code, env := s.do(http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, code)
			var current ScenarioDTO
			s.decode(env, &current)
			assert.Equal(t, sc.ID, current.ID)
		})
	}
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario("sold-plot")

	s.loadScenario("sponsor-cycle")

	_, err := s.store.GetPlot(context.Background(), "plot-101")
	assert.True(t, commission.IsNotFound(err))
	assert.Equal(t, "0", s.walletTotal("seller"))
}

func TestScenario_Unknown(t *testing.T) {
	s := setupTestServer(t)

	code, env := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	code, env = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "No scenario loaded", env.Message)
}
