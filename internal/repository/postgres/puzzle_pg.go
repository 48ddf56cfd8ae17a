// internal/repository/postgres/puzzle_pg.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"
)

const puzzleColumns = `id, creator_id, title, answer_hash, value, admin_fee, status, solver_id, solved_at, created_at, updated_at`

// PuzzleRepository implements repository.PuzzleRepository for PostgreSQL.
type PuzzleRepository struct{}

// NewPuzzleRepository creates a new PuzzleRepository.
func NewPuzzleRepository() repository.PuzzleRepository {
	return &PuzzleRepository{}
}

// CreatePuzzle inserts a puzzle using the provided DBExecutor.
func (r *PuzzleRepository) CreatePuzzle(ctx context.Context, q repository.DBExecutor, p *domain.Puzzle) error {
	query := `INSERT INTO puzzles (` + puzzleColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.CreatorID, p.Title, p.AnswerHash, p.Value, p.AdminFee, p.Status,
		p.SolverID, p.SolvedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create puzzle: %w", err)
	}
	return nil
}

// GetPuzzleByID retrieves a puzzle by its ID.
func (r *PuzzleRepository) GetPuzzleByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.Puzzle, error) {
	if !domain.ValidID(id) {
		return nil, util.ErrNotFound
	}
	var p domain.Puzzle
	if err := q.GetContext(ctx, &p, `SELECT `+puzzleColumns+` FROM puzzles WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get puzzle %s: %w", id, err)
	}
	return &p, nil
}

// MarkSolved is the compare-and-set that elects exactly one winner.
func (r *PuzzleRepository) MarkSolved(ctx context.Context, q repository.DBExecutor, id string, solverID int64, at time.Time) error {
	query := `UPDATE puzzles SET status = $1, solver_id = $2, solved_at = $3, updated_at = $3
              WHERE id = $4 AND status = $5`
	result, err := q.ExecContext(ctx, query, domain.PuzzleSolved, solverID, at, id, domain.PuzzleActive)
	if err != nil {
		return fmt.Errorf("failed to mark puzzle %s solved: %w", id, err)
	}
	return closedIfUnchanged(result, id)
}

// MarkCancelled flips an active puzzle to cancelled.
func (r *PuzzleRepository) MarkCancelled(ctx context.Context, q repository.DBExecutor, id string, at time.Time) error {
	query := `UPDATE puzzles SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := q.ExecContext(ctx, query, domain.PuzzleCancelled, at, id, domain.PuzzleActive)
	if err != nil {
		return fmt.Errorf("failed to cancel puzzle %s: %w", id, err)
	}
	return closedIfUnchanged(result, id)
}

func closedIfUnchanged(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for puzzle %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("puzzle %s: %w", id, util.ErrPuzzleClosed)
	}
	return nil
}

// RecordAttempt appends an attempt.
func (r *PuzzleRepository) RecordAttempt(ctx context.Context, q repository.DBExecutor, a *domain.Attempt) error {
	query := `INSERT INTO puzzle_attempts (id, puzzle_id, user_id, correct, outcome, source_address, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := q.ExecContext(ctx, query, a.ID, a.PuzzleID, a.UserID, a.Correct, a.Outcome, a.SourceAddress, a.CreatedAt); err != nil {
		return fmt.Errorf("failed to record attempt on puzzle %s: %w", a.PuzzleID, err)
	}
	return nil
}

// ListAttempts returns a puzzle's attempts, oldest first.
func (r *PuzzleRepository) ListAttempts(ctx context.Context, q repository.DBExecutor, puzzleID string) ([]domain.Attempt, error) {
	attempts := []domain.Attempt{}
	query := `SELECT id, puzzle_id, user_id, correct, outcome, source_address, created_at
              FROM puzzle_attempts WHERE puzzle_id = $1 ORDER BY created_at, id`
	if err := q.SelectContext(ctx, &attempts, query, puzzleID); err != nil {
		return nil, fmt.Errorf("failed to list attempts on puzzle %s: %w", puzzleID, err)
	}
	return attempts, nil
}
