// internal/repository/account_repo.go
package repository

import (
	"context"
	"time"

	"puzzlebounty/internal/domain"
)

// AccountRepository defines the persistence operations on custodial accounts.
type AccountRepository interface {
	// CreateAccount adds a new account using the provided DBExecutor.
	CreateAccount(ctx context.Context, q DBExecutor, account *domain.Account) error
	// GetAccountByID retrieves an account by its ID.
	GetAccountByID(ctx context.Context, q DBExecutor, id int64) (*domain.Account, error)
	// GetAccountByUsername retrieves an account by its username.
	GetAccountByUsername(ctx context.Context, q DBExecutor, username string) (*domain.Account, error)
	// ListAccountIDs returns every account ID in ascending order.
	ListAccountIDs(ctx context.Context, q DBExecutor) ([]int64, error)
	// ApplyBalanceChange atomically applies change and returns the new balance.
	// It fails with util.ErrInsufficientFunds, without mutating anything, when
	// the balance would go negative.
	ApplyBalanceChange(ctx context.Context, q DBExecutor, id int64, change domain.BalanceChange) (*domain.Account, error)
	// AddCryptoBalance adjusts the informational per-asset balance.
	AddCryptoBalance(ctx context.Context, q DBExecutor, id int64, asset domain.Asset, delta int64, at time.Time) error
	// GetCryptoBalances returns the informational per-asset balances.
	GetCryptoBalances(ctx context.Context, q DBExecutor, id int64) (map[domain.Asset]int64, error)
}

// PaymentMethodRepository defines the persistence operations on payment methods.
type PaymentMethodRepository interface {
	// CreatePaymentMethod inserts a method; util.ErrDuplicateEntry if (type, address) exists.
	CreatePaymentMethod(ctx context.Context, q DBExecutor, pm *domain.PaymentMethod) error
	// ClearDefault unsets the default flag on all of a user's methods of one type.
	ClearDefault(ctx context.Context, q DBExecutor, userID int64, rail domain.RailType) error
	// ListPaymentMethods returns a user's methods, oldest first.
	ListPaymentMethods(ctx context.Context, q DBExecutor, userID int64) ([]domain.PaymentMethod, error)
	// GetDefaultPaymentMethod returns the user's default method for a rail.
	GetDefaultPaymentMethod(ctx context.Context, q DBExecutor, userID int64, rail domain.RailType) (*domain.PaymentMethod, error)
}
