// internal/repository/postgres/account_pg.go
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

const accountColumns = `id, username, balance_usd, total_earnings, total_spent, created_at, updated_at`

// AccountRepository implements repository.AccountRepository for PostgreSQL.
type AccountRepository struct{}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository() repository.AccountRepository {
	return &AccountRepository{}
}

// CreateAccount inserts a new account using the provided DBExecutor.
func (r *AccountRepository) CreateAccount(ctx context.Context, q repository.DBExecutor, account *domain.Account) error {
	query := `INSERT INTO users (username, balance_usd, total_earnings, total_spent, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err := q.QueryRowContext(ctx, query,
		account.Username,
		account.BalanceUSD,
		account.TotalEarnings,
		account.TotalSpent,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %q: %w", account.Username, util.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccountByID retrieves an account by its ID using the provided DBExecutor.
func (r *AccountRepository) GetAccountByID(ctx context.Context, q repository.DBExecutor, id int64) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountColumns + ` FROM users WHERE id = $1`
	if err := q.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get account by ID %d: %w", id, err)
	}
	return &account, nil
}

// GetAccountByUsername retrieves an account by its username using the provided DBExecutor.
func (r *AccountRepository) GetAccountByUsername(ctx context.Context, q repository.DBExecutor, username string) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountColumns + ` FROM users WHERE username = $1`
	if err := q.GetContext(ctx, &account, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get account by username '%s': %w", username, err)
	}
	return &account, nil
}

// ListAccountIDs returns every account ID in ascending order.
func (r *AccountRepository) ListAccountIDs(ctx context.Context, q repository.DBExecutor) ([]int64, error) {
	ids := []int64{}
	if err := q.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list account IDs: %w", err)
	}
	return ids, nil
}

// ApplyBalanceChange performs a single conditional UPDATE so that concurrent
// debits can never drive the balance negative.
func (r *AccountRepository) ApplyBalanceChange(ctx context.Context, q repository.DBExecutor, id int64, change domain.BalanceChange) (*domain.Account, error) {
	var account domain.Account
	query := `UPDATE users
		SET balance_usd = balance_usd + $1,
		    total_earnings = total_earnings + $2,
		    total_spent = total_spent + $3,
		    updated_at = $4
		WHERE id = $5 AND balance_usd + $1 >= 0
		RETURNING ` + accountColumns
	err := q.GetContext(ctx, &account, query, change.Delta, change.Earnings, change.Spent, change.At.UTC(), id)
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update balance for account %d: %w", id, err)
	}

	var exists bool
	if err := q.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("failed to check account %d: %w", id, err)
	}
	if !exists {
		return nil, util.ErrUserNotFound
	}
	return nil, util.ErrInsufficientFunds
}

// AddCryptoBalance upserts the informational per-asset balance.
func (r *AccountRepository) AddCryptoBalance(ctx context.Context, q repository.DBExecutor, id int64, asset domain.Asset, delta int64, at time.Time) error {
	query := `INSERT INTO account_crypto_balances (user_id, asset, amount, updated_at)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (user_id, asset)
              DO UPDATE SET amount = account_crypto_balances.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at`
	if _, err := q.ExecContext(ctx, query, id, string(asset), delta, at.UTC()); err != nil {
		return fmt.Errorf("failed to update %s balance for account %d: %w", asset, id, err)
	}
	return nil
}

// GetCryptoBalances returns the informational per-asset balances.
func (r *AccountRepository) GetCryptoBalances(ctx context.Context, q repository.DBExecutor, id int64) (map[domain.Asset]int64, error) {
	var rows []struct {
		Asset  string `db:"asset"`
		Amount int64  `db:"amount"`
	}
	query := `SELECT asset, amount FROM account_crypto_balances WHERE user_id = $1`
	if err := q.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, fmt.Errorf("failed to get crypto balances for account %d: %w", id, err)
	}
	out := make(map[domain.Asset]int64, len(rows))
	for _, row := range rows {
		out[domain.Asset(row.Asset)] = row.Amount
	}
	return out, nil
}

// PaymentMethodRepository implements repository.PaymentMethodRepository for PostgreSQL.
type PaymentMethodRepository struct{}

// NewPaymentMethodRepository creates a new PaymentMethodRepository.
func NewPaymentMethodRepository() repository.PaymentMethodRepository {
	return &PaymentMethodRepository{}
}

// CreatePaymentMethod inserts a payment method using the provided DBExecutor.
func (r *PaymentMethodRepository) CreatePaymentMethod(ctx context.Context, q repository.DBExecutor, pm *domain.PaymentMethod) error {
	query := `INSERT INTO payment_methods (user_id, type, address, is_default, created_at)
              VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := q.QueryRowContext(ctx, query, pm.UserID, pm.Type, pm.Address, pm.IsDefault, pm.CreatedAt).Scan(&pm.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s destination already registered: %w", pm.Type, util.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

// ClearDefault unsets the default flag on a user's methods of one type.
func (r *PaymentMethodRepository) ClearDefault(ctx context.Context, q repository.DBExecutor, userID int64, rail domain.RailType) error {
	query := `UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1 AND type = $2 AND is_default`
	if _, err := q.ExecContext(ctx, query, userID, rail); err != nil {
		return fmt.Errorf("failed to clear default payment method for user %d: %w", userID, err)
	}
	return nil
}

// ListPaymentMethods returns a user's payment methods, oldest first.
func (r *PaymentMethodRepository) ListPaymentMethods(ctx context.Context, q repository.DBExecutor, userID int64) ([]domain.PaymentMethod, error) {
	methods := []domain.PaymentMethod{}
	query := `SELECT id, user_id, type, address, is_default, created_at
              FROM payment_methods WHERE user_id = $1 ORDER BY created_at, id`
	if err := q.SelectContext(ctx, &methods, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list payment methods for user %d: %w", userID, err)
	}
	return methods, nil
}

// GetDefaultPaymentMethod returns the user's default method for a rail.
func (r *PaymentMethodRepository) GetDefaultPaymentMethod(ctx context.Context, q repository.DBExecutor, userID int64, rail domain.RailType) (*domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	query := `SELECT id, user_id, type, address, is_default, created_at
              FROM payment_methods WHERE user_id = $1 AND type = $2 AND is_default`
	if err := q.GetContext(ctx, &pm, query, userID, rail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get default payment method for user %d: %w", userID, err)
	}
	return &pm, nil
}
