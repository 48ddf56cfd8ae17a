// internal/api/handler/puzzle.go
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/service"
)

// PuzzleHandler serves puzzle creation, solving and cancellation.
type PuzzleHandler struct {
	responder
	service service.PuzzleService
}

func NewPuzzleHandler(svc service.PuzzleService, logger *slog.Logger) *PuzzleHandler {
	return &PuzzleHandler{responder: responder{logger: logger}, service: svc}
}

// CreatePuzzleRequest represents the request body for a new puzzle.
type CreatePuzzleRequest struct {
	Title  string          `json:"title"`
	Answer string          `json:"answer"`
	Value  decimal.Decimal `json:"value"`
}

// CreatePuzzle handles POST /puzzles.
func (h *PuzzleHandler) CreatePuzzle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req CreatePuzzleRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	res, err := h.service.CreatePuzzle(r.Context(), service.CreatePuzzleRequest{
		CreatorID: userID,
		Title:     req.Title,
		Answer:    req.Answer,
		Value:     req.Value,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, res)
}

// GetPuzzle handles GET /puzzles/{puzzleID}.
func (h *PuzzleHandler) GetPuzzle(w http.ResponseWriter, r *http.Request) {
	puzzle, err := h.service.GetPuzzle(r.Context(), chi.URLParam(r, "puzzleID"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, puzzle)
}

// AttemptRequest represents the request body for a solve attempt.
type AttemptRequest struct {
	Answer        string `json:"answer"`
	SourceAddress string `json:"source_address"`
}

// AttemptSolve handles POST /puzzles/{puzzleID}/attempts. Wrong answers are
// a normal outcome and return 200.
func (h *PuzzleHandler) AttemptSolve(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req AttemptRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	res, err := h.service.AttemptSolve(r.Context(), service.SolveRequest{
		PuzzleID:      chi.URLParam(r, "puzzleID"),
		UserID:        userID,
		Answer:        req.Answer,
		SourceAddress: req.SourceAddress,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

// ListAttempts handles GET /puzzles/{puzzleID}/attempts for the creator.
func (h *PuzzleHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	attempts, err := h.service.ListAttempts(r.Context(), chi.URLParam(r, "puzzleID"), userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"data": attempts})
}

// CancelPuzzle handles DELETE /puzzles/{puzzleID}.
func (h *PuzzleHandler) CancelPuzzle(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	res, err := h.service.CancelPuzzle(r.Context(), chi.URLParam(r, "puzzleID"), userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}
