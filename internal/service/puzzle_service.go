// internal/service/puzzle_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// maxAnswerBytes is the longest input bcrypt accepts.
const maxAnswerBytes = 72

// PuzzleService escrows bounties and settles solves.
type PuzzleService interface {
	CreatePuzzle(ctx context.Context, req CreatePuzzleRequest) (*CreatePuzzleResult, error)
	AttemptSolve(ctx context.Context, req SolveRequest) (*SolveResult, error)
	CancelPuzzle(ctx context.Context, puzzleID string, requesterID int64) (*CancelResult, error)
	GetPuzzle(ctx context.Context, puzzleID string) (*domain.Puzzle, error)
	ListAttempts(ctx context.Context, puzzleID string, requesterID int64) ([]domain.Attempt, error)
}

// CreatePuzzleRequest holds the creator's input for a new bounty.
type CreatePuzzleRequest struct {
	CreatorID int64
	Title     string
	Answer    string
	Value     decimal.Decimal
}

// CreatePuzzleResult is the escrowed puzzle and what it cost.
type CreatePuzzleResult struct {
	Puzzle     *domain.Puzzle  `json:"puzzle"`
	Fee        decimal.Decimal `json:"fee"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// SolveRequest is one submitted answer.
type SolveRequest struct {
	PuzzleID      string
	UserID        int64
	Answer        string
	SourceAddress string
}

// SolveResult reports the attempt. Reward is set only for the winner.
type SolveResult struct {
	Correct bool                  `json:"correct"`
	Outcome domain.AttemptOutcome `json:"outcome"`
	Reward  *decimal.Decimal      `json:"reward,omitempty"`
	Attempt *domain.Attempt       `json:"attempt"`
}

// CancelResult reports a cancelled puzzle and the refunded escrow.
type CancelResult struct {
	Puzzle     *domain.Puzzle      `json:"puzzle"`
	Refund     *domain.LedgerEntry `json:"refund"`
	NewBalance decimal.Decimal     `json:"new_balance"`
}

// puzzleService implements the PuzzleService interface.
type puzzleService struct {
	Deps
	settings Settings
	balances BalanceAccessor
}

// NewPuzzleService creates a new instance of PuzzleService.
func NewPuzzleService(deps Deps, settings Settings) PuzzleService {
	return &puzzleService{
		Deps:     deps,
		settings: settings,
		balances: NewBalanceAccessor(deps.Store.Accounts, deps.Clock),
	}
}

// CreatePuzzle debits value plus fee from the creator. The value stays in
// escrow until the puzzle is solved or cancelled.
func (s *puzzleService) CreatePuzzle(ctx context.Context, req CreatePuzzleRequest) (*CreatePuzzleResult, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", util.ErrValidation)
	}
	answer := domain.NormalizeAnswer(req.Answer)
	if answer == "" {
		return nil, fmt.Errorf("%w: answer is required", util.ErrValidation)
	}
	if len(answer) > maxAnswerBytes {
		return nil, fmt.Errorf("%w: answer exceeds %d bytes", util.ErrValidation, maxAnswerBytes)
	}
	if err := validateUSD("puzzle value", req.Value, s.settings.PuzzleMin, s.settings.PuzzleMax); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(answer), s.settings.AnswerHashCost)
	if err != nil {
		return nil, fmt.Errorf("create puzzle: failed to hash answer: %w", err)
	}

	fee := s.settings.AdminFee(req.Value)
	now := s.now()
	puzzle := domain.NewPuzzle(req.CreatorID, title, string(hash), req.Value, fee, now)
	entry := domain.NewPuzzleCreationEntry(req.CreatorID, puzzle.ID, req.Value, fee, now)

	var acc *domain.Account
	err = s.Store.inTx(ctx, "create puzzle", func(q repository.DBExecutor) error {
		var err error
		if acc, err = s.balances.Debit(ctx, q, req.CreatorID, req.Value.Add(fee)); err != nil {
			return err
		}
		if err := s.Store.Puzzles.CreatePuzzle(ctx, q, puzzle); err != nil {
			return err
		}
		return s.Store.Ledger.CreateEntry(ctx, q, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("create puzzle: %w", err)
	}

	s.Logger.Info("Puzzle created",
		"puzzle_id", puzzle.ID, "entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType,
		"user_id", req.CreatorID, "value", req.Value.StringFixed(2), "fee", fee.StringFixed(2))
	return &CreatePuzzleResult{Puzzle: puzzle, Fee: fee, NewBalance: acc.BalanceUSD}, nil
}

// AttemptSolve records the attempt and pays the first correct solver. The
// solved flag flip, the payout and the ledger entry commit together, so
// concurrent correct answers produce exactly one payout.
func (s *puzzleService) AttemptSolve(ctx context.Context, req SolveRequest) (*SolveResult, error) {
	puzzle, err := s.loadPuzzle(ctx, req.PuzzleID)
	if err != nil {
		return nil, fmt.Errorf("attempt solve: %w", err)
	}
	if puzzle.CreatorID == req.UserID {
		return nil, fmt.Errorf("attempt solve %s: creator cannot solve own puzzle: %w", puzzle.ID, util.ErrForbidden)
	}
	if puzzle.Status == domain.PuzzleCancelled {
		return nil, fmt.Errorf("attempt solve %s: %w", puzzle.ID, util.ErrPuzzleClosed)
	}

	answer := domain.NormalizeAnswer(req.Answer)
	correct := len(answer) <= maxAnswerBytes &&
		bcrypt.CompareHashAndPassword([]byte(puzzle.AnswerHash), []byte(answer)) == nil

	switch {
	case !correct:
		return s.recordLoss(ctx, req, domain.OutcomeIncorrect)
	case puzzle.Status == domain.PuzzleSolved:
		return s.recordLoss(ctx, req, domain.OutcomeAlreadySolved)
	}

	now := s.now()
	attempt := domain.NewAttempt(puzzle.ID, req.UserID, domain.OutcomeCorrect, req.SourceAddress, now)
	entry := domain.NewPuzzleSolveEntry(puzzle.CreatorID, req.UserID, puzzle.ID, puzzle.Value, now)
	err = s.Store.inTx(ctx, "settle solve", func(q repository.DBExecutor) error {
		if err := s.Store.Puzzles.MarkSolved(ctx, q, puzzle.ID, req.UserID, now); err != nil {
			return err
		}
		if _, err := s.balances.Credit(ctx, q, req.UserID, puzzle.Value); err != nil {
			return err
		}
		if err := s.Store.Ledger.CreateEntry(ctx, q, entry); err != nil {
			return err
		}
		return s.Store.Puzzles.RecordAttempt(ctx, q, attempt)
	})
	if errors.Is(err, util.ErrPuzzleClosed) {
		current, gerr := s.Store.Puzzles.GetPuzzleByID(ctx, s.Store.Executor, puzzle.ID)
		if gerr == nil && current.Status == domain.PuzzleCancelled {
			return nil, fmt.Errorf("attempt solve %s: %w", puzzle.ID, util.ErrPuzzleClosed)
		}
		return s.recordLoss(ctx, req, domain.OutcomeAlreadySolved)
	}
	if err != nil {
		return nil, fmt.Errorf("attempt solve %s: %w", puzzle.ID, err)
	}

	s.Metrics.SolveAttempt(string(domain.OutcomeCorrect))
	s.Logger.Info("Puzzle solved",
		"puzzle_id", puzzle.ID, "entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType,
		"user_id", req.UserID, "creator_id", puzzle.CreatorID, "value", puzzle.Value.StringFixed(2))
	reward := puzzle.Value
	return &SolveResult{Correct: true, Outcome: domain.OutcomeCorrect, Reward: &reward, Attempt: attempt}, nil
}

func (s *puzzleService) recordLoss(ctx context.Context, req SolveRequest, outcome domain.AttemptOutcome) (*SolveResult, error) {
	attempt := domain.NewAttempt(req.PuzzleID, req.UserID, outcome, req.SourceAddress, s.now())
	if err := s.Store.Puzzles.RecordAttempt(ctx, s.Store.Executor, attempt); err != nil {
		return nil, fmt.Errorf("attempt solve %s: failed to record attempt: %w", req.PuzzleID, err)
	}
	s.Metrics.SolveAttempt(string(outcome))
	s.Logger.Debug("Solve attempt recorded", "puzzle_id", req.PuzzleID, "user_id", req.UserID, "outcome", outcome)
	return &SolveResult{Correct: outcome != domain.OutcomeIncorrect, Outcome: outcome, Attempt: attempt}, nil
}

// CancelPuzzle returns the escrowed value to the creator. The admin fee is kept.
func (s *puzzleService) CancelPuzzle(ctx context.Context, puzzleID string, requesterID int64) (*CancelResult, error) {
	puzzle, err := s.loadPuzzle(ctx, puzzleID)
	if err != nil {
		return nil, fmt.Errorf("cancel puzzle: %w", err)
	}
	if puzzle.CreatorID != requesterID {
		return nil, fmt.Errorf("cancel puzzle %s: %w", puzzle.ID, util.ErrForbidden)
	}

	now := s.now()
	refund := domain.NewRefundEntry(puzzle.CreatorID, &puzzle.ID, puzzle.Value, now)
	var acc *domain.Account
	err = s.Store.inTx(ctx, "cancel puzzle", func(q repository.DBExecutor) error {
		if err := s.Store.Puzzles.MarkCancelled(ctx, q, puzzle.ID, now); err != nil {
			return err
		}
		var err error
		if acc, err = s.balances.Credit(ctx, q, puzzle.CreatorID, puzzle.Value); err != nil {
			return err
		}
		return s.Store.Ledger.CreateEntry(ctx, q, refund)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel puzzle %s: %w", puzzle.ID, err)
	}

	puzzle.Status = domain.PuzzleCancelled
	puzzle.UpdatedAt = now
	s.Logger.Info("Puzzle cancelled",
		"puzzle_id", puzzle.ID, "entry_id", refund.ID, "kind", refund.Kind, "rail", refund.RailType,
		"user_id", puzzle.CreatorID, "refund", puzzle.Value.StringFixed(2))
	return &CancelResult{Puzzle: puzzle, Refund: refund, NewBalance: acc.BalanceUSD}, nil
}

// GetPuzzle retrieves a puzzle by its ID.
func (s *puzzleService) GetPuzzle(ctx context.Context, puzzleID string) (*domain.Puzzle, error) {
	puzzle, err := s.loadPuzzle(ctx, puzzleID)
	if err != nil {
		return nil, fmt.Errorf("get puzzle: %w", err)
	}
	return puzzle, nil
}

// ListAttempts returns a puzzle's attempt history to its creator.
func (s *puzzleService) ListAttempts(ctx context.Context, puzzleID string, requesterID int64) ([]domain.Attempt, error) {
	puzzle, err := s.loadPuzzle(ctx, puzzleID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if puzzle.CreatorID != requesterID {
		return nil, fmt.Errorf("list attempts %s: %w", puzzle.ID, util.ErrForbidden)
	}
	return s.Store.Puzzles.ListAttempts(ctx, s.Store.Executor, puzzle.ID)
}

func (s *puzzleService) loadPuzzle(ctx context.Context, id string) (*domain.Puzzle, error) {
	if !domain.ValidID(id) {
		return nil, fmt.Errorf("puzzle %q: %w", id, util.ErrNotFound)
	}
	return s.Store.Puzzles.GetPuzzleByID(ctx, s.Store.Executor, id)
}
