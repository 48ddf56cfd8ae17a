// internal/service/account_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

const maxUsernameLength = 64

// AccountService covers account lifecycle, balance reads and payment methods.
type AccountService interface {
	CreateAccount(ctx context.Context, username string) (*domain.Account, error)
	GetBalances(ctx context.Context, userID int64) (*domain.Balances, error)
	AddPaymentMethod(ctx context.Context, userID int64, railType domain.RailType, address string, makeDefault bool) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, userID int64) ([]domain.PaymentMethod, error)
	LedgerHistory(ctx context.Context, userID int64, limit, offset int) ([]domain.LedgerEntry, int64, error)
	AuditAccount(ctx context.Context, userID int64) (*AuditReport, error)
	AuditAll(ctx context.Context) ([]AuditReport, error)
}

// AuditReport compares a stored balance with the balance implied by the ledger.
type AuditReport struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Reserved   decimal.Decimal `json:"reserved"`
	Consistent bool            `json:"consistent"`
}

// accountService implements the AccountService interface.
type accountService struct {
	Deps
}

// NewAccountService creates a new instance of AccountService.
func NewAccountService(deps Deps) AccountService {
	return &accountService{Deps: deps}
}

func (s *accountService) CreateAccount(ctx context.Context, username string) (*domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return nil, fmt.Errorf("%w: username must be 1 to %d characters", util.ErrValidation, maxUsernameLength)
	}
	account := domain.NewAccount(username)
	if err := s.Store.Accounts.CreateAccount(ctx, s.Store.Executor, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.Logger.Info("Account created", "user_id", account.ID, "username", account.Username)
	return account, nil
}

// GetBalances returns the USD balance with its counters, the informational
// crypto totals and the amount held by pending withdrawals.
func (s *accountService) GetBalances(ctx context.Context, userID int64) (*domain.Balances, error) {
	acc, err := s.Store.Accounts.GetAccountByID(ctx, s.Store.Executor, userID)
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	crypto, err := s.Store.Accounts.GetCryptoBalances(ctx, s.Store.Executor, userID)
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	entries, err := s.Store.Ledger.ListAllEntriesByAccount(ctx, s.Store.Executor, userID)
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	_, reserved := ledgerSum(entries, userID)
	if crypto == nil {
		crypto = map[domain.Asset]int64{}
	}
	return &domain.Balances{
		UserID:        acc.ID,
		USD:           acc.BalanceUSD,
		TotalEarnings: acc.TotalEarnings,
		TotalSpent:    acc.TotalSpent,
		Crypto:        crypto,
		Reserved:      reserved,
	}, nil
}

// AddPaymentMethod registers a destination after the rail validated its
// format. The first method of a rail becomes its default.
func (s *accountService) AddPaymentMethod(ctx context.Context, userID int64, railType domain.RailType, address string, makeDefault bool) (*domain.PaymentMethod, error) {
	address = strings.TrimSpace(address)
	adapter, err := s.Rails.Get(railType)
	if err != nil {
		return nil, err
	}
	if !adapter.ValidateDestination(address) {
		return nil, rail.InvalidDestination(railType, "add payment method", address)
	}

	var pm *domain.PaymentMethod
	err = s.Store.inTx(ctx, "add payment method", func(q repository.DBExecutor) error {
		if _, err := s.Store.Accounts.GetAccountByID(ctx, q, userID); err != nil {
			return err
		}
		_, err := s.Store.PaymentMethods.GetDefaultPaymentMethod(ctx, q, userID, railType)
		switch {
		case errors.Is(err, util.ErrNotFound):
			makeDefault = true
		case err != nil:
			return err
		case makeDefault:
			if err := s.Store.PaymentMethods.ClearDefault(ctx, q, userID, railType); err != nil {
				return err
			}
		}
		pm = domain.NewPaymentMethod(userID, railType, address, makeDefault)
		pm.CreatedAt = s.now()
		return s.Store.PaymentMethods.CreatePaymentMethod(ctx, q, pm)
	})
	if err != nil {
		return nil, fmt.Errorf("add payment method: %w", err)
	}
	s.Logger.Info("Payment method added", "user_id", userID, "rail", railType, "payment_method_id", pm.ID, "default", pm.IsDefault)
	return pm, nil
}

func (s *accountService) ListPaymentMethods(ctx context.Context, userID int64) ([]domain.PaymentMethod, error) {
	methods, err := s.Store.PaymentMethods.ListPaymentMethods(ctx, s.Store.Executor, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return methods, nil
}

// LedgerHistory returns a page of the entries touching an account, newest first.
func (s *accountService) LedgerHistory(ctx context.Context, userID int64, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	if _, err := s.Store.Accounts.GetAccountByID(ctx, s.Store.Executor, userID); err != nil {
		return nil, 0, fmt.Errorf("ledger history: %w", err)
	}
	entries, total, err := s.Store.Ledger.ListEntriesByAccount(ctx, s.Store.Executor, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger history: failed to retrieve entries: %w", err)
	}
	return entries, total, nil
}

// AuditAccount recomputes the balance from the ledger inside one transaction.
func (s *accountService) AuditAccount(ctx context.Context, userID int64) (*AuditReport, error) {
	var report *AuditReport
	err := s.Store.inTx(ctx, "audit account", func(q repository.DBExecutor) error {
		acc, err := s.Store.Accounts.GetAccountByID(ctx, q, userID)
		if err != nil {
			return err
		}
		entries, err := s.Store.Ledger.ListAllEntriesByAccount(ctx, q, userID)
		if err != nil {
			return err
		}
		sum, reserved := ledgerSum(entries, userID)
		report = &AuditReport{
			UserID:     userID,
			Balance:    acc.BalanceUSD,
			LedgerSum:  sum,
			Reserved:   reserved,
			Consistent: acc.BalanceUSD.Equal(sum),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit account %d: %w", userID, err)
	}
	if !report.Consistent {
		s.Logger.Error("Ledger audit mismatch",
			"user_id", userID, "balance", report.Balance.String(), "ledger_sum", report.LedgerSum.String())
	}
	return report, nil
}

// AuditAll audits every account in ID order.
func (s *accountService) AuditAll(ctx context.Context) ([]AuditReport, error) {
	ids, err := s.Store.Accounts.ListAccountIDs(ctx, s.Store.Executor)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	reports := make([]AuditReport, 0, len(ids))
	for _, id := range ids {
		r, err := s.AuditAccount(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// ledgerSum returns the balance implied by entries for accountID: completed
// entries plus the reservations of pending withdrawals.
func ledgerSum(entries []domain.LedgerEntry, accountID int64) (sum, reserved decimal.Decimal) {
	for i := range entries {
		e := &entries[i]
		switch {
		case e.Status == domain.StatusCompleted:
			sum = sum.Add(e.SignedAmountFor(accountID))
		case e.Reserved():
			held := e.SignedAmountFor(accountID)
			sum = sum.Add(held)
			reserved = reserved.Sub(held)
		}
	}
	return sum, reserved
}
