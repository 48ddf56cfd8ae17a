// internal/repository/ledger_repo.go
package repository

import (
	"context"
	"time"

	"puzzlebounty/internal/domain"
)

// LedgerRepository defines the persistence operations on ledger entries.
// Entries are never deleted.
type LedgerRepository interface {
	// CreateEntry inserts an entry whose ID is already assigned.
	CreateEntry(ctx context.Context, q DBExecutor, entry *domain.LedgerEntry) error
	// GetEntryByID retrieves an entry by its ID.
	GetEntryByID(ctx context.Context, q DBExecutor, id string) (*domain.LedgerEntry, error)
	// GetEntryForUpdate retrieves an entry and locks it until the transaction ends.
	GetEntryForUpdate(ctx context.Context, q DBExecutor, id string) (*domain.LedgerEntry, error)
	// GetEntryByExternalReference finds the entry claiming ref on a rail.
	GetEntryByExternalReference(ctx context.Context, q DBExecutor, rail domain.RailType, ref string) (*domain.LedgerEntry, error)
	// UpdateStatus moves an entry from status `from` to upd.To. It returns
	// util.ErrStatusConflict when the entry is no longer in `from`.
	UpdateStatus(ctx context.Context, q DBExecutor, id string, from domain.EntryStatus, upd domain.StatusUpdate) error
	// UpdateRailDetails replaces the rail payload of an entry.
	UpdateRailDetails(ctx context.Context, q DBExecutor, id string, details domain.RailDetails, at time.Time) error
	// ListEntriesByAccount returns a page of entries touching an account and the total count.
	ListEntriesByAccount(ctx context.Context, q DBExecutor, accountID int64, limit, offset int) ([]domain.LedgerEntry, int64, error)
	// ListAllEntriesByAccount returns every entry touching an account.
	ListAllEntriesByAccount(ctx context.Context, q DBExecutor, accountID int64) ([]domain.LedgerEntry, error)
	// ListPendingDeposits returns pending deposits on a rail, oldest first.
	ListPendingDeposits(ctx context.Context, q DBExecutor, rail domain.RailType) ([]domain.LedgerEntry, error)
	// ListExpiredDeposits returns pending crypto deposits whose expiry is at or before now.
	ListExpiredDeposits(ctx context.Context, q DBExecutor, now time.Time) ([]domain.LedgerEntry, error)
}
