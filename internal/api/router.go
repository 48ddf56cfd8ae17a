// internal/api/router.go
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"puzzlebounty/internal/api/handler"
	apimw "puzzlebounty/internal/api/middleware"
	"puzzlebounty/internal/auth"
	"puzzlebounty/internal/metrics"
)

// Handlers groups the resource handlers mounted by NewRouter.
type Handlers struct {
	Accounts    *handler.AccountHandler
	Deposits    *handler.DepositHandler
	Withdrawals *handler.WithdrawalHandler
	Puzzles     *handler.PuzzleHandler
}

// NewRouter sets up and returns a new HTTP router. Everything except health,
// metrics and the card webhook requires a bearer token.
func NewRouter(h Handlers, verifier *auth.Verifier, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.RequestLogger(logger))
	r.Use(apimw.Metrics(m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handler.DefaultTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Post("/webhooks/card", h.Deposits.CardWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Get("/balance", h.Accounts.GetBalance)
		r.Get("/ledger", h.Accounts.GetLedger)
		r.Route("/payment-methods", func(r chi.Router) {
			r.Post("/", h.Accounts.AddPaymentMethod)
			r.Get("/", h.Accounts.ListPaymentMethods)
		})

		r.Route("/deposits", func(r chi.Router) {
			r.Post("/", h.Deposits.CreateDeposit)
			r.Post("/{depositID}/confirm", h.Deposits.ConfirmDeposit)
		})
		r.Post("/withdrawals", h.Withdrawals.Withdraw)

		r.Route("/puzzles", func(r chi.Router) {
			r.Post("/", h.Puzzles.CreatePuzzle)
			r.Get("/{puzzleID}", h.Puzzles.GetPuzzle)
			r.Delete("/{puzzleID}", h.Puzzles.CancelPuzzle)
			r.Post("/{puzzleID}/attempts", h.Puzzles.AttemptSolve)
			r.Get("/{puzzleID}/attempts", h.Puzzles.ListAttempts)
		})
	})

	return r
}
