// internal/repository/postgres/ledger_pg.go
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

const entryColumns = `id, kind, status, from_account, to_account, related_puzzle, amount,
	crypto_amount, crypto_currency, exchange_rate, fees, rail_type, rail_details,
	external_reference, chain_tx_id, expires_at, processed_at, failure_reason, created_at, updated_at`

// LedgerRepository implements repository.LedgerRepository for PostgreSQL.
type LedgerRepository struct{}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository() repository.LedgerRepository {
	return &LedgerRepository{}
}

// CreateEntry inserts a ledger entry using the provided DBExecutor.
func (r *LedgerRepository) CreateEntry(ctx context.Context, q repository.DBExecutor, e *domain.LedgerEntry) error {
	if err := e.RailDetails.Validate(e.RailType); err != nil {
		return fmt.Errorf("create entry %s: %v: %w", e.ID, err, util.ErrInvalidInput)
	}
	query := `INSERT INTO ledger_entries (` + entryColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.Kind, e.Status, e.FromAccount, e.ToAccount, e.RelatedPuzzle, e.Amount,
		e.CryptoAmount, e.CryptoCurrency, e.ExchangeRateAtCreation, e.Fees, e.RailType, e.RailDetails,
		e.ExternalReference, e.ChainTxID, e.ExpiresAt, e.ProcessedAt, e.FailureReason, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create entry %s: %w", e.ID, util.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) getOne(ctx context.Context, q repository.DBExecutor, query string, args ...interface{}) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := q.GetContext(ctx, &e, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &e, nil
}

// GetEntryByID retrieves an entry by its ID.
func (r *LedgerRepository) GetEntryByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	if !domain.ValidID(id) {
		return nil, util.ErrNotFound
	}
	return r.getOne(ctx, q, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
}

// GetEntryForUpdate retrieves an entry and row-locks it for the current transaction.
func (r *LedgerRepository) GetEntryForUpdate(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	if !domain.ValidID(id) {
		return nil, util.ErrNotFound
	}
	return r.getOne(ctx, q, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id)
}

// GetEntryByExternalReference finds the entry claiming ref on a rail.
func (r *LedgerRepository) GetEntryByExternalReference(ctx context.Context, q repository.DBExecutor, rail domain.RailType, ref string) (*domain.LedgerEntry, error) {
	return r.getOne(ctx, q, `SELECT `+entryColumns+` FROM ledger_entries WHERE rail_type = $1 AND external_reference = $2`, rail, ref)
}

// UpdateStatus performs a compare-and-set on the entry status.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, q repository.DBExecutor, id string, from domain.EntryStatus, upd domain.StatusUpdate) error {
	if !domain.CanTransition(from, upd.To) {
		return fmt.Errorf("entry %s: %s -> %s: %w", id, from, upd.To, util.ErrStatusConflict)
	}
	query := `UPDATE ledger_entries
		SET status = $1,
		    external_reference = COALESCE($2, external_reference),
		    chain_tx_id = COALESCE($3, chain_tx_id),
		    failure_reason = COALESCE($4, failure_reason),
		    processed_at = $5,
		    updated_at = $5
		WHERE id = $6 AND status = $7`
	result, err := q.ExecContext(ctx, query, upd.To, upd.ExternalReference, upd.ChainTxID, upd.FailureReason, upd.At, id, from)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entry %s: external reference already claimed: %w", id, util.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to update status of entry %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating entry %s: %w", id, err)
	}
	if rowsAffected == 0 {
		if _, err := r.GetEntryByID(ctx, q, id); err != nil {
			return err
		}
		return fmt.Errorf("entry %s is not %s: %w", id, from, util.ErrStatusConflict)
	}
	return nil
}

// UpdateRailDetails replaces the rail payload of an entry.
func (r *LedgerRepository) UpdateRailDetails(ctx context.Context, q repository.DBExecutor, id string, details domain.RailDetails, at time.Time) error {
	query := `UPDATE ledger_entries SET rail_details = $1, updated_at = $2 WHERE id = $3`
	result, err := q.ExecContext(ctx, query, details, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rail details of entry %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return util.ErrNotFound
	}
	return nil
}

// ListEntriesByAccount retrieves a paginated list of entries touching an account.
// It performs two queries: one for the data and one for the total count.
func (r *LedgerRepository) ListEntriesByAccount(ctx context.Context, q repository.DBExecutor, accountID int64, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &entries, query, accountID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to fetch entries for account %d: %w", accountID, err)
	}

	var totalCount int64
	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE from_account = $1 OR to_account = $1`
	if err := q.GetContext(ctx, &totalCount, countQuery, accountID); err != nil {
		return nil, 0, fmt.Errorf("failed to get total entry count for account %d: %w", accountID, err)
	}
	return entries, totalCount, nil
}

// ListAllEntriesByAccount returns every entry touching an account, oldest first.
func (r *LedgerRepository) ListAllEntriesByAccount(ctx context.Context, q repository.DBExecutor, accountID int64) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at, id`
	if err := q.SelectContext(ctx, &entries, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to fetch entries for account %d: %w", accountID, err)
	}
	return entries, nil
}

// ListPendingDeposits returns pending deposits on a rail, oldest first.
func (r *LedgerRepository) ListPendingDeposits(ctx context.Context, q repository.DBExecutor, rail domain.RailType) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE kind = $1 AND status = $2 AND rail_type = $3
		ORDER BY created_at, id`
	if err := q.SelectContext(ctx, &entries, query, domain.KindDeposit, domain.StatusPending, rail); err != nil {
		return nil, fmt.Errorf("failed to list pending %s deposits: %w", rail, err)
	}
	return entries, nil
}

// ListExpiredDeposits returns pending crypto deposits past their expiry.
// Card deposits are settled by processor webhooks and never expire here.
func (r *LedgerRepository) ListExpiredDeposits(ctx context.Context, q repository.DBExecutor, now time.Time) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE kind = $1 AND status = $2 AND rail_type IN ($3, $4) AND expires_at <= $5
		ORDER BY created_at, id`
	err := q.SelectContext(ctx, &entries, query,
		domain.KindDeposit, domain.StatusPending, domain.RailUTXOChain, domain.RailAccountChain, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired deposits: %w", err)
	}
	return entries, nil
}
