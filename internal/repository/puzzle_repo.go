// internal/repository/puzzle_repo.go
package repository

import (
	"context"
	"time"

	"puzzlebounty/internal/domain"
)

// PuzzleRepository defines the persistence operations on puzzles and attempts.
type PuzzleRepository interface {
	// CreatePuzzle inserts an active puzzle.
	CreatePuzzle(ctx context.Context, q DBExecutor, puzzle *domain.Puzzle) error
	// GetPuzzleByID retrieves a puzzle by its ID.
	GetPuzzleByID(ctx context.Context, q DBExecutor, id string) (*domain.Puzzle, error)
	// MarkSolved flips an active puzzle to solved. It returns
	// util.ErrPuzzleClosed when the puzzle was not active.
	MarkSolved(ctx context.Context, q DBExecutor, id string, solverID int64, at time.Time) error
	// MarkCancelled flips an active puzzle to cancelled, or util.ErrPuzzleClosed.
	MarkCancelled(ctx context.Context, q DBExecutor, id string, at time.Time) error
	// RecordAttempt appends an attempt.
	RecordAttempt(ctx context.Context, q DBExecutor, attempt *domain.Attempt) error
	// ListAttempts returns a puzzle's attempts, oldest first.
	ListAttempts(ctx context.Context, q DBExecutor, puzzleID string) ([]domain.Attempt, error)
}
