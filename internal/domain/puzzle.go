// internal/domain/puzzle.go
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PuzzleStatus defines the lifecycle of a puzzle bounty.
type PuzzleStatus string

const (
	PuzzleActive    PuzzleStatus = "active"
	PuzzleSolved    PuzzleStatus = "solved"
	PuzzleCancelled PuzzleStatus = "cancelled"
)

// Puzzle is a bounty whose value is held in escrow until solved or cancelled.
type Puzzle struct {
	ID         string          `db:"id" json:"id"`
	CreatorID  int64           `db:"creator_id" json:"creator_id"`
	Title      string          `db:"title" json:"title"`
	AnswerHash string          `db:"answer_hash" json:"-"`
	Value      decimal.Decimal `db:"value" json:"value"`
	AdminFee   decimal.Decimal `db:"admin_fee" json:"admin_fee"`
	Status     PuzzleStatus    `db:"status" json:"status"`
	SolverID   *int64          `db:"solver_id" json:"solver_id,omitempty"`
	SolvedAt   *time.Time      `db:"solved_at" json:"solved_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// NewPuzzle creates an active puzzle.
func NewPuzzle(creatorID int64, title, answerHash string, value, adminFee decimal.Decimal, now time.Time) *Puzzle {
	return &Puzzle{
		ID:         NewID(),
		CreatorID:  creatorID,
		Title:      title,
		AnswerHash: answerHash,
		Value:      value,
		AdminFee:   adminFee,
		Status:     PuzzleActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NormalizeAnswer trims and lowercases an answer before hashing or comparing.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// AttemptOutcome is the recorded result of one solve attempt.
type AttemptOutcome string

const (
	OutcomeCorrect       AttemptOutcome = "correct"
	OutcomeIncorrect     AttemptOutcome = "incorrect"
	OutcomeAlreadySolved AttemptOutcome = "already_solved"
)

// Attempt is an append-only record of a submitted answer.
type Attempt struct {
	ID            string         `db:"id" json:"id"`
	PuzzleID      string         `db:"puzzle_id" json:"puzzle_id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	Correct       bool           `db:"correct" json:"correct"`
	Outcome       AttemptOutcome `db:"outcome" json:"outcome"`
	SourceAddress string         `db:"source_address" json:"source_address"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// NewAttempt creates a new Attempt instance.
func NewAttempt(puzzleID string, userID int64, outcome AttemptOutcome, sourceAddress string, now time.Time) *Attempt {
	return &Attempt{
		ID:            NewID(),
		PuzzleID:      puzzleID,
		UserID:        userID,
		Correct:       outcome != OutcomeIncorrect,
		Outcome:       outcome,
		SourceAddress: sourceAddress,
		CreatedAt:     now,
	}
}
