/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the CRM frontend

ROUTE GROUPS:
  /api/recalculate-commission  Single plot / batch recalculation
  /api/plots/*                 Plots, payments, commission records
  /api/profiles/*              Associates and their chains
  /api/wallets/*               Balances, ledger, projection
  /api/scenarios/*             Demo scenarios
  /metrics                     Prometheus exposition
  /healthz                     Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures optional parts of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     http.Handler
	Resetter    Resetter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, "ok", nil)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/recalculate-commission", func(r chi.Router) {
			r.Post("/", h.RecalculateCommission)
			r.Get("/", h.RecalculateAll)
		})

		r.Route("/plots", func(r chi.Router) {
			r.Get("/", h.ListPlots)
			r.Post("/", h.CreatePlot)
			r.Get("/{id}", h.GetPlot)
			r.Patch("/{id}", h.UpdatePlot)
			r.Post("/{id}/distribute", h.DistributePlot)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Get("/{id}/commissions", h.GetPlotCommissions)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", h.ListProfiles)
			r.Post("/", h.CreateProfile)
			r.Get("/{id}", h.GetProfile)
			r.Get("/{id}/chain", h.GetProfileChain)
		})

		r.Route("/wallets", func(r chi.Router) {
			r.Get("/{ownerId}", h.GetWallet)
			r.Get("/{ownerId}/transactions", h.GetWalletTransactions)
			r.Get("/{ownerId}/projection", h.GetWalletProjection)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			if opts.Resetter != nil {
				r.Post("/load", h.LoadScenario(opts.Resetter))
			}
		})
	})

	return r
}

// requestLogger logs one structured entry per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
