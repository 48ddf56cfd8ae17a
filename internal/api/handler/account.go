// internal/api/handler/account.go
package handler

import (
	"log/slog"
	"net/http"

	"puzzlebounty/internal/api/types"
	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/service"
)

// AccountHandler serves balance, ledger and payment method requests.
type AccountHandler struct {
	responder
	service service.AccountService
}

func NewAccountHandler(svc service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{responder: responder{logger: logger}, service: svc}
}

// GetBalance handles GET /balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	balances, err := h.service.GetBalances(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, balances)
}

// GetLedger handles GET /ledger?limit=&offset=.
func (h *AccountHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	limit, offset := pagination(r)
	entries, total, err := h.service.LedgerHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.LedgerEntry]{
		Data:       entries,
		Limit:      limit,
		Offset:     offset,
		TotalCount: total,
	})
}

// AddPaymentMethodRequest represents the request body for adding a payment method.
type AddPaymentMethodRequest struct {
	Type        domain.RailType `json:"type"`
	Address     string          `json:"address"`
	MakeDefault bool            `json:"make_default"`
}

// AddPaymentMethod handles POST /payment-methods.
func (h *AccountHandler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req AddPaymentMethodRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	pm, err := h.service.AddPaymentMethod(r.Context(), userID, req.Type, req.Address, req.MakeDefault)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, pm)
}

// ListPaymentMethods handles GET /payment-methods.
func (h *AccountHandler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	methods, err := h.service.ListPaymentMethods(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"data": methods})
}
