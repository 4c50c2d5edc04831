/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the distribution engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Commission:
    POST   /api/recalculate-commission         Recalculate one plot {plotId}
    GET    /api/recalculate-commission         Batch over all sold plots
                                               ?mode=recalculate&workers=N

  Plots:
    GET    /api/plots                          List plots (?status, ?commissionStatus, ?brokerId)
    POST   /api/plots                          Create plot (409 if the id exists)
    GET    /api/plots/{id}                     Plot details
    PATCH  /api/plots/{id}                     Correct sale terms {totalPrice, area, brokerId, recalculate}
    POST   /api/plots/{id}/distribute          Initial distribution
    GET    /api/plots/{id}/payments            Payment history
    POST   /api/plots/{id}/payments            Record payment (may trigger distribution)
    GET    /api/plots/{id}/commissions         Commission records

  Profiles:
    GET    /api/profiles                       List profiles
    POST   /api/profiles                       Create profile
    GET    /api/profiles/{id}                  Profile details
    GET    /api/profiles/{id}/chain            Resolved upline chain

  Wallets:
    GET    /api/wallets/{ownerId}              Balances
    GET    /api/wallets/{ownerId}/transactions Ledger entries
    GET    /api/wallets/{ownerId}/projection   Projected wallet (booked plots)

  Scenarios:
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Load a demo scenario

ERROR HANDLING:
  Errors are returned in the envelope with success=false:
  - 400: Malformed input
  - 404: Plot, profile or seller not found
  - 409: Plot id already exists
  - 422: Plot not in a distributable state
  - 500: Store failures

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/estatecrm/commission-engine/commission"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears a store. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  commission.TxStore
	Engine *commission.Distributor
	Log    *zap.Logger
	Now    func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over store and engine.
func NewHandler(store commission.TxStore, engine *commission.Distributor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:  store,
		Engine: engine,
		Log:    log.Named("api"),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// RecalculateCommission recalculates a single plot.
// POST /api/recalculate-commission
func (h *Handler) RecalculateCommission(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PlotID == "" {
		writeError(w, http.StatusBadRequest, "plotId is required", nil)
		return
	}

	res, err := h.Engine.RecalculateForPlot(r.Context(), commission.PlotID(req.PlotID))
	if err != nil {
		writeEngineError(w, "Failed to recalculate commission", err)
		return
	}
	writeData(w, http.StatusOK, "Commission recalculated", toDistributionDTO(res))
}

// RecalculateAll runs the batch over every sold plot.
// GET /api/recalculate-commission?mode=recalculate&workers=4
func (h *Handler) RecalculateAll(w http.ResponseWriter, r *http.Request) {
	opts := commission.BatchOptions{Workers: 1}
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", string(commission.ModeInitial):
	case string(commission.ModeRecalculate):
		opts.Recalculate = true
	default:
		writeError(w, http.StatusBadRequest, "mode must be initial or recalculate", nil)
		return
	}
	if raw := r.URL.Query().Get("workers"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "workers must be a positive integer", err)
			return
		}
		opts.Workers = n
	}

	summary, err := h.Engine.DistributeForAllSoldPlots(r.Context(), opts)
	if err != nil {
		writeEngineError(w, "Failed to run batch distribution", err)
		return
	}
	writeData(w, http.StatusOK, "Batch distribution finished", toBatchSummaryDTO(summary))
}

// =============================================================================
// PLOT HANDLERS
// =============================================================================

// ListPlots returns plots matching the query filters.
func (h *Handler) ListPlots(w http.ResponseWriter, r *http.Request) {
	var f commission.PlotFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		s := commission.PlotStatus(v)
		f.Status = &s
	}
	if v := q.Get("commissionStatus"); v != "" {
		s := commission.CommissionStatus(v)
		f.CommissionStatus = &s
	}
	if v := q.Get("brokerId"); v != "" {
		id := commission.ProfileID(v)
		f.BrokerID = &id
	}

	plots, err := h.Store.ListPlots(r.Context(), f)
	if err != nil {
		writeEngineError(w, "Failed to list plots", err)
		return
	}
	dtos := make([]PlotDTO, len(plots))
	for i, p := range plots {
		dtos[i] = toPlotDTO(p)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// CreatePlot creates a plot. Existing ids are rejected so payment state is
// never overwritten; use UpdatePlot to correct a sale.
func (h *Handler) CreatePlot(w http.ResponseWriter, r *http.Request) {
	var req CreatePlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PlotNumber == "" {
		writeError(w, http.StatusBadRequest, "plotNumber is required", nil)
		return
	}
	if req.Area.IsNegative() || req.TotalPrice.IsNegative() {
		writeError(w, http.StatusBadRequest, "area and totalPrice must not be negative", nil)
		return
	}
	status := commission.PlotStatus(req.Status)
	switch status {
	case "":
		status = commission.PlotAvailable
	case commission.PlotAvailable, commission.PlotBooked, commission.PlotSold:
	default:
		writeError(w, http.StatusBadRequest, "status must be available, booked or sold", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = "plot-" + uuid.NewString()[:8]
	} else if _, err := h.Store.GetPlot(r.Context(), commission.PlotID(id)); err == nil {
		writeError(w, http.StatusConflict, "Plot already exists", nil)
		return
	} else if !commission.IsNotFound(err) {
		writeEngineError(w, "Failed to check plot", err)
		return
	}
	now := h.Now()
	plot := commission.Plot{
		ID:               commission.PlotID(id),
		ProjectName:      req.ProjectName,
		PlotNumber:       req.PlotNumber,
		Area:             req.Area,
		TotalPrice:       req.TotalPrice,
		Status:           status,
		PaidPercentage:   zeroPercent,
		BrokerID:         commission.ProfileID(req.BrokerID),
		CommissionStatus: commission.CommissionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if status == commission.PlotSold {
		plot.PaidPercentage = fullPercent
	}
	if err := h.Store.SavePlot(r.Context(), plot); err != nil {
		writeEngineError(w, "Failed to save plot", err)
		return
	}
	writeData(w, http.StatusCreated, "Plot created", toPlotDTO(plot))
}

// UpdatePlot corrects a plot's sale terms, keeping payment-derived state,
// and optionally recalculates its commission.
func (h *Handler) UpdatePlot(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if (req.Area != nil && req.Area.IsNegative()) || (req.TotalPrice != nil && req.TotalPrice.IsNegative()) {
		writeError(w, http.StatusBadRequest, "area and totalPrice must not be negative", nil)
		return
	}

	correction := commission.SaleCorrection{TotalPrice: req.TotalPrice, Area: req.Area}
	if req.BrokerID != nil {
		broker := commission.ProfileID(*req.BrokerID)
		correction.BrokerID = &broker
	}
	id := commission.PlotID(chi.URLParam(r, "id"))
	plot, err := h.Engine.CorrectSale(r.Context(), id, correction)
	if err != nil {
		writeEngineError(w, "Failed to update plot", err)
		return
	}

	out := PlotUpdateDTO{Plot: toPlotDTO(*plot)}
	if req.Recalculate && plot.CommissionStatus == commission.CommissionPaid {
		res, err := h.Engine.RecalculateForPlot(r.Context(), id)
		if err != nil {
			writeEngineError(w, "Plot updated but recalculation failed", err)
			return
		}
		out.Distribution = toDistributionDTO(res)
		if plot, err = h.Store.GetPlot(r.Context(), id); err == nil {
			out.Plot = toPlotDTO(*plot)
		}
	}
	writeData(w, http.StatusOK, "Plot updated", out)
}

// GetPlot returns a single plot.
func (h *Handler) GetPlot(w http.ResponseWriter, r *http.Request) {
	plot, err := h.Store.GetPlot(r.Context(), commission.PlotID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get plot", err)
		return
	}
	writeData(w, http.StatusOK, "", toPlotDTO(*plot))
}

// DistributePlot runs the initial distribution for a plot.
// POST /api/plots/{id}/distribute
func (h *Handler) DistributePlot(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.DistributeForPlot(r.Context(), commission.PlotID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to distribute commission", err)
		return
	}
	msg := "Commission distributed"
	if res.Outcome == commission.OutcomeSkipped {
		msg = "Commission already distributed"
	}
	writeData(w, http.StatusOK, msg, toDistributionDTO(res))
}

// RecordPayment records a payment against a plot.
// POST /api/plots/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in := commission.PaymentInput{
		PlotID: commission.PlotID(chi.URLParam(r, "id")),
		Amount: req.Amount,
		Note:   req.Note,
	}
	if req.PaidAt != nil {
		in.PaidAt = req.PaidAt.UTC()
	}

	payment, out, err := h.Engine.RecordPayment(r.Context(), in)
	if err != nil && payment == nil {
		writeEngineError(w, "Failed to record payment", err)
		return
	}
	if err != nil {
		// The payment is stored; only the triggered distribution failed.
		h.Log.Warn("payment recorded but distribution failed",
			zap.String("plot_id", string(in.PlotID)),
			zap.Error(err))
		writeEngineError(w, "Payment recorded but commission distribution failed", err)
		return
	}

	writeData(w, http.StatusCreated, "Payment recorded", PaymentOutcomeDTO{
		Payment:          toPaymentDTO(*payment),
		PaidPercentage:   displayPercent(out.PaidPercentage),
		PreviousStatus:   string(out.PreviousStatus),
		Status:           string(out.Status),
		CommissionStatus: string(out.CommissionStatus),
		Distributed:      out.Distributed,
		BecameSold:       out.BecameSold,
		Distribution:     toDistributionDTO(out.Distribution),
	})
}

// ListPayments returns a plot's payment history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := commission.PlotID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetPlot(ctx, id); err != nil {
		writeEngineError(w, "Failed to get plot", err)
		return
	}
	payments, err := h.Store.ListPayments(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// GetPlotCommissions returns the commission records of a plot.
func (h *Handler) GetPlotCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := commission.PlotID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetPlot(ctx, id); err != nil {
		writeEngineError(w, "Failed to get plot", err)
		return
	}
	records, err := h.Store.ListCommissions(ctx, commission.CommissionFilter{PlotID: &id})
	if err != nil {
		writeEngineError(w, "Failed to list commissions", err)
		return
	}
	dtos := make([]CommissionDTO, len(records))
	for i, c := range records {
		dtos[i] = toCommissionDTO(c)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// =============================================================================
// PROFILE HANDLERS
// =============================================================================

// ListProfiles returns all profiles.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListProfiles(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to list profiles", err)
		return
	}
	dtos := make([]ProfileDTO, len(profiles))
	for i, p := range profiles {
		dtos[i] = toProfileDTO(p)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// CreateProfile creates or replaces a profile.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	id := req.ID
	if id == "" {
		id = "prof-" + uuid.NewString()[:8]
	}
	p := commission.Profile{
		ID:        commission.ProfileID(id),
		Name:      req.Name,
		SponsorID: commission.ProfileID(req.SponsorID),
		UplineID:  commission.ProfileID(req.UplineID),
		CreatedAt: h.Now(),
	}
	if err := h.Store.SaveProfile(r.Context(), p); err != nil {
		writeEngineError(w, "Failed to save profile", err)
		return
	}
	writeData(w, http.StatusCreated, "Profile created", toProfileDTO(p))
}

// GetProfile returns a single profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProfile(r.Context(), commission.ProfileID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get profile", err)
		return
	}
	writeData(w, http.StatusOK, "", toProfileDTO(*p))
}

// GetProfileChain returns the seller + upline chain a sale by this profile
// would pay.
func (h *Handler) GetProfileChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := commission.ProfileID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetProfile(ctx, id); err != nil {
		writeEngineError(w, "Failed to get profile", err)
		return
	}
	chain, err := h.Engine.Resolver.Resolve(ctx, id, h.Engine.Policy.MaxDepth())
	if err != nil {
		writeEngineError(w, "Failed to resolve chain", err)
		return
	}
	dtos := make([]ChainLinkDTO, len(chain))
	for i, l := range chain {
		dtos[i] = ChainLinkDTO{ID: string(l.ID), Name: l.Name, Level: l.Level}
	}
	writeData(w, http.StatusOK, "", dtos)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns an owner's balances. Owners without a wallet row get
// zero balances.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := commission.ProfileID(chi.URLParam(r, "ownerId"))
	if _, err := h.Store.GetProfile(ctx, owner); err != nil {
		writeEngineError(w, "Failed to get profile", err)
		return
	}
	wallet, err := h.Store.GetWallet(ctx, owner)
	if commission.IsNotFound(err) {
		wallet = &commission.Wallet{OwnerID: owner}
	} else if err != nil {
		writeEngineError(w, "Failed to get wallet", err)
		return
	}
	writeData(w, http.StatusOK, "", toWalletDTO(*wallet))
}

// GetWalletTransactions returns an owner's ledger entries, oldest first.
func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	owner := commission.ProfileID(chi.URLParam(r, "ownerId"))
	txs, err := h.Store.ListTransactions(r.Context(), commission.TransactionFilter{OwnerID: &owner})
	if err != nil {
		writeEngineError(w, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, t := range txs {
		dtos[i] = toTransactionDTO(t)
	}
	writeData(w, http.StatusOK, "", dtos)
}

// GetWalletProjection returns the projected wallet over booked plots.
func (h *Handler) GetWalletProjection(w http.ResponseWriter, r *http.Request) {
	proj, err := h.Engine.ProjectWallet(r.Context(), commission.ProfileID(chi.URLParam(r, "ownerId")))
	if err != nil {
		writeEngineError(w, "Failed to project wallet", err)
		return
	}
	writeData(w, http.StatusOK, "", toProjectionDTO(proj))
}

// =============================================================================
// HELPERS
// =============================================================================

var (
	zeroPercent = decimal.Zero
	fullPercent = decimal.NewFromInt(100)
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		message = message + ": " + err.Error()
	}
	writeJSON(w, status, Envelope{Success: false, Message: message})
}

// writeEngineError maps engine error categories to HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case commission.IsNotFound(err):
		status = http.StatusNotFound
	case commission.IsInvalidState(err):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, message, err)
}
