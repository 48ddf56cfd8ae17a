// internal/api/handler/deposit.go
package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/service"
	"puzzlebounty/internal/util"
)

// SignatureHeader carries the card processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

// DepositHandler serves deposit creation, confirmation and processor webhooks.
type DepositHandler struct {
	responder
	service service.DepositService
}

func NewDepositHandler(svc service.DepositService, logger *slog.Logger) *DepositHandler {
	return &DepositHandler{responder: responder{logger: logger}, service: svc}
}

// CreateDepositRequest represents the request body for a deposit.
type CreateDepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Rail   domain.RailType `json:"rail"`
}

type depositInstructions struct {
	Destination  string `json:"destination"`
	NativeAmount int64  `json:"native_amount"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type createDepositResponse struct {
	Deposit      *domain.LedgerEntry `json:"deposit"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Instructions depositInstructions `json:"instructions"`
}

// CreateDeposit handles POST /deposits.
func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req CreateDepositRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	res, err := h.service.CreateDeposit(r.Context(), userID, req.Amount, req.Rail)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, createDepositResponse{
		Deposit:   res.Entry,
		ExpiresAt: res.ExpiresAt,
		Instructions: depositInstructions{
			Destination:  res.Instructions.Destination,
			NativeAmount: res.Instructions.NativeAmount,
			ClientSecret: res.Instructions.ClientSecret,
		},
	})
}

// ConfirmDepositRequest represents the request body for confirming a deposit.
type ConfirmDepositRequest struct {
	ExternalReference string `json:"external_reference"`
}

// ConfirmDeposit handles POST /deposits/{depositID}/confirm.
func (h *DepositHandler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req ConfirmDepositRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.respondWithError(w, r, err)
			return
		}
	}
	res, err := h.service.ConfirmDeposit(r.Context(), service.ConfirmRequest{
		DepositID:         chi.URLParam(r, "depositID"),
		ExternalReference: req.ExternalReference,
		RequestedBy:       userID,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

// CardWebhook handles POST /webhooks/card. It is not behind the bearer
// token middleware; the processor signature authenticates the call.
func (h *DepositHandler) CardWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondWithError(w, r, fmt.Errorf("%w: unreadable body", util.ErrInvalidInput))
		return
	}
	res, err := h.service.HandleCardWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}
