// internal/repository/memory/repositories.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"
)

// AccountRepository implements repository.AccountRepository on a Store.
type AccountRepository struct{ s *Store }

// NewAccountRepository creates an AccountRepository backed by s.
func NewAccountRepository(s *Store) repository.AccountRepository {
	return &AccountRepository{s: s}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, q repository.DBExecutor, account *domain.Account) error {
	return r.s.with(ctx, q, func(st *state) error {
		if _, ok := st.usernames[account.Username]; ok {
			return fmt.Errorf("username %q: %w", account.Username, util.ErrDuplicateEntry)
		}
		st.nextAccount++
		account.ID = st.nextAccount
		st.accounts[account.ID] = *account
		st.usernames[account.Username] = account.ID
		return nil
	})
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Account, error) {
	var out domain.Account
	err := r.s.with(ctx, q, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return util.ErrUserNotFound
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *AccountRepository) GetAccountByUsername(ctx context.Context, q repository.DBExecutor, username string) (*domain.Account, error) {
	var out domain.Account
	err := r.s.with(ctx, q, func(st *state) error {
		id, ok := st.usernames[username]
		if !ok {
			return util.ErrUserNotFound
		}
		out = st.accounts[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *AccountRepository) ListAccountIDs(ctx context.Context, q repository.DBExecutor) ([]int64, error) {
	var ids []int64
	err := r.s.with(ctx, q, func(st *state) error {
		for id := range st.accounts {
			ids = append(ids, id)
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}

func (r *AccountRepository) ApplyBalanceChange(ctx context.Context, q repository.DBExecutor, id int64, change domain.BalanceChange) (*domain.Account, error) {
	var out domain.Account
	err := r.s.with(ctx, q, func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return util.ErrUserNotFound
		}
		next := a.BalanceUSD.Add(change.Delta)
		if next.IsNegative() {
			return util.ErrInsufficientFunds
		}
		a.BalanceUSD = next
		a.TotalEarnings = a.TotalEarnings.Add(change.Earnings)
		a.TotalSpent = a.TotalSpent.Add(change.Spent)
		a.UpdatedAt = change.At
		st.accounts[id] = a
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *AccountRepository) AddCryptoBalance(ctx context.Context, q repository.DBExecutor, id int64, asset domain.Asset, delta int64, at time.Time) error {
	return r.s.with(ctx, q, func(st *state) error {
		if _, ok := st.accounts[id]; !ok {
			return util.ErrUserNotFound
		}
		m, ok := st.crypto[id]
		if !ok {
			m = map[domain.Asset]int64{}
			st.crypto[id] = m
		}
		m[asset] += delta
		return nil
	})
}

func (r *AccountRepository) GetCryptoBalances(ctx context.Context, q repository.DBExecutor, id int64) (map[domain.Asset]int64, error) {
	out := map[domain.Asset]int64{}
	err := r.s.with(ctx, q, func(st *state) error {
		for a, n := range st.crypto[id] {
			out[a] = n
		}
		return nil
	})
	return out, err
}

// PaymentMethodRepository implements repository.PaymentMethodRepository on a Store.
type PaymentMethodRepository struct{ s *Store }

// NewPaymentMethodRepository creates a PaymentMethodRepository backed by s.
func NewPaymentMethodRepository(s *Store) repository.PaymentMethodRepository {
	return &PaymentMethodRepository{s: s}
}

func (r *PaymentMethodRepository) CreatePaymentMethod(ctx context.Context, q repository.DBExecutor, pm *domain.PaymentMethod) error {
	return r.s.with(ctx, q, func(st *state) error {
		for _, m := range st.methods {
			if m.Type == pm.Type && m.Address == pm.Address {
				return fmt.Errorf("%s destination already registered: %w", pm.Type, util.ErrDuplicateEntry)
			}
			if pm.IsDefault && m.IsDefault && m.UserID == pm.UserID && m.Type == pm.Type {
				return fmt.Errorf("second default %s method: %w", pm.Type, util.ErrDuplicateEntry)
			}
		}
		st.nextMethodID++
		pm.ID = st.nextMethodID
		st.methods = append(st.methods, *pm)
		return nil
	})
}

func (r *PaymentMethodRepository) ClearDefault(ctx context.Context, q repository.DBExecutor, userID int64, rail domain.RailType) error {
	return r.s.with(ctx, q, func(st *state) error {
		for i := range st.methods {
			if st.methods[i].UserID == userID && st.methods[i].Type == rail {
				st.methods[i].IsDefault = false
			}
		}
		return nil
	})
}

func (r *PaymentMethodRepository) ListPaymentMethods(ctx context.Context, q repository.DBExecutor, userID int64) ([]domain.PaymentMethod, error) {
	out := []domain.PaymentMethod{}
	err := r.s.with(ctx, q, func(st *state) error {
		for _, m := range st.methods {
			if m.UserID == userID {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

func (r *PaymentMethodRepository) GetDefaultPaymentMethod(ctx context.Context, q repository.DBExecutor, userID int64, rail domain.RailType) (*domain.PaymentMethod, error) {
	var out *domain.PaymentMethod
	err := r.s.with(ctx, q, func(st *state) error {
		for _, m := range st.methods {
			if m.UserID == userID && m.Type == rail && m.IsDefault {
				out = &m
				return nil
			}
		}
		return util.ErrNotFound
	})
	return out, err
}

// LedgerRepository implements repository.LedgerRepository on a Store.
type LedgerRepository struct{ s *Store }

// NewLedgerRepository creates a LedgerRepository backed by s.
func NewLedgerRepository(s *Store) repository.LedgerRepository {
	return &LedgerRepository{s: s}
}

func refClaimed(st *state, rail domain.RailType, ref, exceptID string) bool {
	for id, e := range st.entries {
		if id != exceptID && e.RailType == rail && e.ExternalReference != nil && *e.ExternalReference == ref {
			return true
		}
	}
	return false
}

func (r *LedgerRepository) CreateEntry(ctx context.Context, q repository.DBExecutor, e *domain.LedgerEntry) error {
	if err := e.RailDetails.Validate(e.RailType); err != nil {
		return fmt.Errorf("create entry %s: %v: %w", e.ID, err, util.ErrInvalidInput)
	}
	return r.s.with(ctx, q, func(st *state) error {
		if _, ok := st.entries[e.ID]; ok {
			return fmt.Errorf("create entry %s: %w", e.ID, util.ErrDuplicateEntry)
		}
		if e.ExternalReference != nil && refClaimed(st, e.RailType, *e.ExternalReference, e.ID) {
			return fmt.Errorf("create entry %s: %w", e.ID, util.ErrDuplicateEntry)
		}
		st.entries[e.ID] = copyEntry(*e)
		st.entryOrder = append(st.entryOrder, e.ID)
		return nil
	})
}

func (r *LedgerRepository) GetEntryByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	var out domain.LedgerEntry
	err := r.s.with(ctx, q, func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return util.ErrNotFound
		}
		out = copyEntry(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEntryForUpdate needs no row lock: a transaction already owns the store.
func (r *LedgerRepository) GetEntryForUpdate(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	return r.GetEntryByID(ctx, q, id)
}

func (r *LedgerRepository) GetEntryByExternalReference(ctx context.Context, q repository.DBExecutor, rail domain.RailType, ref string) (*domain.LedgerEntry, error) {
	var out domain.LedgerEntry
	err := r.s.with(ctx, q, func(st *state) error {
		for _, id := range st.entryOrder {
			e := st.entries[id]
			if e.RailType == rail && e.ExternalReference != nil && *e.ExternalReference == ref {
				out = copyEntry(e)
				return nil
			}
		}
		return util.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LedgerRepository) UpdateStatus(ctx context.Context, q repository.DBExecutor, id string, from domain.EntryStatus, upd domain.StatusUpdate) error {
	if !domain.CanTransition(from, upd.To) {
		return fmt.Errorf("entry %s: %s -> %s: %w", id, from, upd.To, util.ErrStatusConflict)
	}
	return r.s.with(ctx, q, func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return util.ErrNotFound
		}
		if e.Status != from {
			return fmt.Errorf("entry %s is not %s: %w", id, from, util.ErrStatusConflict)
		}
		if upd.ExternalReference != nil {
			if refClaimed(st, e.RailType, *upd.ExternalReference, id) {
				return fmt.Errorf("entry %s: external reference already claimed: %w", id, util.ErrDuplicateEntry)
			}
			e.ExternalReference = copyPtr(upd.ExternalReference)
		}
		if upd.ChainTxID != nil {
			e.ChainTxID = copyPtr(upd.ChainTxID)
		}
		if upd.FailureReason != nil {
			e.FailureReason = copyPtr(upd.FailureReason)
		}
		at := upd.At
		e.Status = upd.To
		e.ProcessedAt = &at
		e.UpdatedAt = at
		st.entries[id] = e
		return nil
	})
}

func (r *LedgerRepository) UpdateRailDetails(ctx context.Context, q repository.DBExecutor, id string, details domain.RailDetails, at time.Time) error {
	return r.s.with(ctx, q, func(st *state) error {
		e, ok := st.entries[id]
		if !ok {
			return util.ErrNotFound
		}
		e.RailDetails = details
		e.UpdatedAt = at
		st.entries[id] = copyEntry(e)
		return nil
	})
}

func touches(e domain.LedgerEntry, accountID int64) bool {
	return (e.FromAccount != nil && *e.FromAccount == accountID) || (e.ToAccount != nil && *e.ToAccount == accountID)
}

func (r *LedgerRepository) ListEntriesByAccount(ctx context.Context, q repository.DBExecutor, accountID int64, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	all, err := r.ListAllEntriesByAccount(ctx, q, accountID)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if offset >= len(all) {
		return []domain.LedgerEntry{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *LedgerRepository) ListAllEntriesByAccount(ctx context.Context, q repository.DBExecutor, accountID int64) ([]domain.LedgerEntry, error) {
	out := []domain.LedgerEntry{}
	err := r.s.with(ctx, q, func(st *state) error {
		for _, id := range st.entryOrder {
			if e := st.entries[id]; touches(e, accountID) {
				out = append(out, copyEntry(e))
			}
		}
		return nil
	})
	return out, err
}

func (r *LedgerRepository) ListPendingDeposits(ctx context.Context, q repository.DBExecutor, rail domain.RailType) ([]domain.LedgerEntry, error) {
	out := []domain.LedgerEntry{}
	err := r.s.with(ctx, q, func(st *state) error {
		for _, id := range st.entryOrder {
			e := st.entries[id]
			if e.Kind == domain.KindDeposit && e.Status == domain.StatusPending && e.RailType == rail {
				out = append(out, copyEntry(e))
			}
		}
		return nil
	})
	return out, err
}

func (r *LedgerRepository) ListExpiredDeposits(ctx context.Context, q repository.DBExecutor, now time.Time) ([]domain.LedgerEntry, error) {
	out := []domain.LedgerEntry{}
	err := r.s.with(ctx, q, func(st *state) error {
		for _, id := range st.entryOrder {
			e := st.entries[id]
			if e.Kind == domain.KindDeposit && e.RailType.Crypto() && e.Expired(now) {
				out = append(out, copyEntry(e))
			}
		}
		return nil
	})
	return out, err
}

// PuzzleRepository implements repository.PuzzleRepository on a Store.
type PuzzleRepository struct{ s *Store }

// NewPuzzleRepository creates a PuzzleRepository backed by s.
func NewPuzzleRepository(s *Store) repository.PuzzleRepository {
	return &PuzzleRepository{s: s}
}

func (r *PuzzleRepository) CreatePuzzle(ctx context.Context, q repository.DBExecutor, p *domain.Puzzle) error {
	return r.s.with(ctx, q, func(st *state) error {
		if _, ok := st.puzzles[p.ID]; ok {
			return fmt.Errorf("puzzle %s: %w", p.ID, util.ErrDuplicateEntry)
		}
		st.puzzles[p.ID] = *p
		return nil
	})
}

func (r *PuzzleRepository) GetPuzzleByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.Puzzle, error) {
	var out domain.Puzzle
	err := r.s.with(ctx, q, func(st *state) error {
		p, ok := st.puzzles[id]
		if !ok {
			return util.ErrNotFound
		}
		out = p
		out.SolverID = copyPtr(p.SolverID)
		out.SolvedAt = copyPtr(p.SolvedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PuzzleRepository) MarkSolved(ctx context.Context, q repository.DBExecutor, id string, solverID int64, at time.Time) error {
	return r.s.with(ctx, q, func(st *state) error {
		p, ok := st.puzzles[id]
		if !ok || p.Status != domain.PuzzleActive {
			return fmt.Errorf("puzzle %s: %w", id, util.ErrPuzzleClosed)
		}
		p.Status = domain.PuzzleSolved
		p.SolverID = &solverID
		p.SolvedAt = &at
		p.UpdatedAt = at
		st.puzzles[id] = p
		return nil
	})
}

func (r *PuzzleRepository) MarkCancelled(ctx context.Context, q repository.DBExecutor, id string, at time.Time) error {
	return r.s.with(ctx, q, func(st *state) error {
		p, ok := st.puzzles[id]
		if !ok || p.Status != domain.PuzzleActive {
			return fmt.Errorf("puzzle %s: %w", id, util.ErrPuzzleClosed)
		}
		p.Status = domain.PuzzleCancelled
		p.UpdatedAt = at
		st.puzzles[id] = p
		return nil
	})
}

func (r *PuzzleRepository) RecordAttempt(ctx context.Context, q repository.DBExecutor, a *domain.Attempt) error {
	return r.s.with(ctx, q, func(st *state) error {
		st.attempts = append(st.attempts, *a)
		return nil
	})
}

func (r *PuzzleRepository) ListAttempts(ctx context.Context, q repository.DBExecutor, puzzleID string) ([]domain.Attempt, error) {
	out := []domain.Attempt{}
	err := r.s.with(ctx, q, func(st *state) error {
		for _, a := range st.attempts {
			if a.PuzzleID == puzzleID {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}
