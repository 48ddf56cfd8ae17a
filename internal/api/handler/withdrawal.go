// internal/api/handler/withdrawal.go
package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/service"
)

// WithdrawalHandler serves withdrawal requests.
type WithdrawalHandler struct {
	responder
	service service.WithdrawalService
}

func NewWithdrawalHandler(svc service.WithdrawalService, logger *slog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{responder: responder{logger: logger}, service: svc}
}

// WithdrawRequest represents the request body for withdraw. An empty
// destination uses the default payment method of the rail.
type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Rail        domain.RailType `json:"rail"`
	Destination string          `json:"destination"`
}

// Withdraw handles POST /withdrawals.
func (h *WithdrawalHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req WithdrawRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	res, err := h.service.Withdraw(r.Context(), service.WithdrawRequest{
		UserID:      userID,
		Amount:      req.Amount,
		Rail:        req.Rail,
		Destination: req.Destination,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}
