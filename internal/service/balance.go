// internal/service/balance.go
package service

import (
	"context"
	"fmt"

	"puzzlebounty/internal/clock"
	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

// BalanceAccessor is the only writer of account balances. Each method is a
// single conditional update, so concurrent callers cannot drive a balance
// negative. Callers run it inside the transaction that records the ledger
// entry authorizing the change.
type BalanceAccessor struct {
	accounts repository.AccountRepository
	clock    clock.Clock
}

func NewBalanceAccessor(accounts repository.AccountRepository, clk clock.Clock) BalanceAccessor {
	return BalanceAccessor{accounts: accounts, clock: clk}
}

// Credit adds amount and counts it as earnings.
func (b BalanceAccessor) Credit(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.Account, error) {
	return b.apply(ctx, q, accountID, amount, domain.BalanceChange{Delta: amount, Earnings: amount})
}

// Debit removes amount and counts it as spent. It fails with
// util.ErrInsufficientFunds without mutating anything.
func (b BalanceAccessor) Debit(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.Account, error) {
	return b.apply(ctx, q, accountID, amount, domain.BalanceChange{Delta: amount.Neg(), Spent: amount})
}

// Reverse undoes an earlier Debit, restoring both balance and spent counter.
func (b BalanceAccessor) Reverse(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal) (*domain.Account, error) {
	return b.apply(ctx, q, accountID, amount, domain.BalanceChange{Delta: amount, Spent: amount.Neg()})
}

func (b BalanceAccessor) apply(ctx context.Context, q repository.DBExecutor, accountID int64, amount decimal.Decimal, change domain.BalanceChange) (*domain.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: balance change must be positive", util.ErrValidation)
	}
	change.At = b.clock.Now()
	acc, err := b.accounts.ApplyBalanceChange(ctx, q, accountID, change)
	if err != nil {
		return nil, fmt.Errorf("balance change on account %d: %w", accountID, err)
	}
	return acc, nil
}
