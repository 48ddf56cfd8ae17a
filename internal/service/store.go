// internal/service/store.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"puzzlebounty/internal/clock"
	"puzzlebounty/internal/metrics"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/repository/memory"
	"puzzlebounty/internal/repository/postgres"
	"puzzlebounty/pkg/db"

	"github.com/jmoiron/sqlx"
)

// Store bundles the repositories with the transaction functions of one backend.
type Store struct {
	Executor       repository.DBExecutor // For non-transactional reads
	Accounts       repository.AccountRepository
	PaymentMethods repository.PaymentMethodRepository
	Ledger         repository.LedgerRepository
	Puzzles        repository.PuzzleRepository
	BeginTx        db.BeginTxFunc
	CommitTx       db.CommitTxFunc
	RollbackTx     db.RollbackTxFunc
}

// NewPostgresStore wires the sqlx repositories to dbConn.
func NewPostgresStore(dbConn *sqlx.DB) *Store {
	return &Store{
		Executor:       dbConn,
		Accounts:       postgres.NewAccountRepository(),
		PaymentMethods: postgres.NewPaymentMethodRepository(),
		Ledger:         postgres.NewLedgerRepository(),
		Puzzles:        postgres.NewPuzzleRepository(),
		BeginTx:        db.Beginner(dbConn),
		CommitTx:       db.CommitTx,
		RollbackTx:     db.RollbackTx,
	}
}

// NewMemoryStore wires the in-process repositories to a fresh memory store.
func NewMemoryStore() *Store {
	mem := memory.NewStore()
	return &Store{
		Executor:       mem,
		Accounts:       memory.NewAccountRepository(mem),
		PaymentMethods: memory.NewPaymentMethodRepository(mem),
		Ledger:         memory.NewLedgerRepository(mem),
		Puzzles:        memory.NewPuzzleRepository(mem),
		BeginTx:        mem.BeginTx,
		CommitTx:       db.CommitTx,
		RollbackTx:     db.RollbackTx,
	}
}

// inTx runs fn in one transaction. Every repository call inside fn must use
// the executor it receives.
func (s *Store) inTx(ctx context.Context, op string, fn func(q repository.DBExecutor) error) error {
	txController, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer s.RollbackTx(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return fmt.Errorf("%s: transaction controller does not implement DBExecutor", op)
	}

	if err := fn(txExecutor); err != nil {
		return err
	}

	if err := s.CommitTx(txController); err != nil {
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	return nil
}

// Deps are the collaborators shared by the payment services.
type Deps struct {
	Store   *Store
	Rails   *rail.Registry
	Prices  rail.PriceSource
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (d Deps) now() time.Time {
	return d.Clock.Now()
}
