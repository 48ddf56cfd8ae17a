// pkg/db/transaction_manager.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// TxController defines methods for controlling a database transaction.
// *sqlx.Tx implicitly implements this interface.
type TxController interface {
	Commit() error
	Rollback() error
}

// DBTxBeginner defines the interface for beginning transactions.
// *sqlx.DB implements this.
type DBTxBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// BeginTxFunc starts a unit of work. The returned controller must also
// satisfy repository.DBExecutor.
type BeginTxFunc func(ctx context.Context) (TxController, error)

// CommitTxFunc commits a unit of work.
type CommitTxFunc func(tx TxController) error

// RollbackTxFunc aborts a unit of work; it is safe to call after commit.
type RollbackTxFunc func(tx TxController)

// Beginner adapts a sqlx connection to a BeginTxFunc.
func Beginner(dbConn DBTxBeginner) BeginTxFunc {
	return func(ctx context.Context) (TxController, error) {
		return BeginTx(ctx, dbConn)
	}
}

// BeginTx starts a new database transaction.
// It returns a TxController interface, which *sqlx.Tx implements.
func BeginTx(ctx context.Context, dbConn DBTxBeginner) (TxController, error) {
	tx, err := dbConn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// CommitTx commits the transaction.
func CommitTx(tx TxController) error {
	return tx.Commit()
}

// RollbackTx rolls back the transaction.
func RollbackTx(tx TxController) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("Error rolling back transaction", "error", err)
	}
}
