// internal/service/withdrawal_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/oracle"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/rail/card"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

// WithdrawalService moves custodial funds out over an external rail.
type WithdrawalService interface {
	Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error)
}

// WithdrawRequest asks to send Amount USD to Destination. An empty
// destination selects the user's default payment method for the rail.
type WithdrawRequest struct {
	UserID      int64
	Amount      decimal.Decimal
	Rail        domain.RailType
	Destination string
}

// WithdrawResult is returned once the external transfer attempt resolved.
type WithdrawResult struct {
	Entry             *domain.LedgerEntry `json:"withdrawal"`
	ExternalReference string              `json:"external_reference"`
	NewBalance        decimal.Decimal     `json:"new_balance"`
}

// withdrawalService implements the WithdrawalService interface.
type withdrawalService struct {
	Deps
	settings Settings
	balances BalanceAccessor
}

// NewWithdrawalService creates a new instance of WithdrawalService.
func NewWithdrawalService(deps Deps, settings Settings) WithdrawalService {
	return &withdrawalService{
		Deps:     deps,
		settings: settings,
		balances: NewBalanceAccessor(deps.Store.Accounts, deps.Clock),
	}
}

// Withdraw reserves amount plus fee, submits the transfer and either
// finalizes the reservation or reverses it. The debit happens before the
// transfer is submitted, so a failed submission always compensates.
func (s *withdrawalService) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	policy, err := s.settings.policy(req.Rail)
	if err != nil {
		return nil, err
	}
	if err := validateUSD("withdrawal amount", req.Amount, policy.WithdrawMin, policy.WithdrawMax); err != nil {
		return nil, err
	}
	adapter, err := s.Rails.Get(req.Rail)
	if err != nil {
		return nil, err
	}
	destination, err := s.destination(ctx, adapter, req)
	if err != nil {
		s.Metrics.Withdrawal(string(req.Rail), util.Code(err))
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	native, quote, networkFee, err := s.quote(ctx, adapter, req)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	fees := domain.Fees{ProcessingFee: policy.WithdrawFee, NetworkFee: networkFee}
	total := req.Amount.Add(fees.Charged())
	entry := domain.NewWithdrawalEntry(req.UserID, req.Amount, fees, req.Rail,
		withdrawalDetails(req.Rail, destination, native), quote, s.now())

	// Reserve.
	err = s.Store.inTx(ctx, "reserve withdrawal", func(q repository.DBExecutor) error {
		if _, err := s.balances.Debit(ctx, q, req.UserID, total); err != nil {
			return err
		}
		return s.Store.Ledger.CreateEntry(ctx, q, entry)
	})
	if err != nil {
		s.Metrics.Withdrawal(string(req.Rail), util.Code(err))
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	s.Logger.Info("Withdrawal reserved",
		"entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", req.UserID,
		"amount_usd", req.Amount.StringFixed(2), "total_usd", total.StringFixed(2), "native", native)

	// Execute. The outcome is persisted even if the caller goes away.
	settleCtx := context.WithoutCancel(ctx)
	railCtx, cancel := context.WithTimeout(ctx, s.settings.RailTimeout)
	started := time.Now()
	result, sendErr := adapter.CreateOutboundTransfer(railCtx, rail.TransferRequest{
		IdempotencyKey: entry.ID,
		Destination:    destination,
		NativeAmount:   native,
	})
	cancel()
	s.Metrics.ObserveRailCall(string(req.Rail), "outbound_transfer", started, sendErr)

	if sendErr != nil && result.Reference != "" && s.confirmSubmitted(settleCtx, adapter, entry, result.Reference) {
		s.Logger.Warn("Transfer submission errored but the rail observed it",
			"entry_id", entry.ID, "rail", entry.RailType, "reference", result.Reference, "error", sendErr)
		sendErr = nil
	}
	if sendErr != nil {
		return nil, s.compensate(settleCtx, entry, total, sendErr)
	}

	acc, err := s.finalize(settleCtx, entry, result)
	if err != nil {
		// Funds left the platform; the pending entry keeps the reservation.
		s.Logger.Error("Failed to finalize submitted withdrawal",
			"entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", req.UserID,
			"reference", result.Reference, "error", err)
		s.Metrics.Withdrawal(string(req.Rail), "finalize_error")
		return nil, fmt.Errorf("withdraw %s: transfer %s submitted but not recorded: %w", entry.ID, result.Reference, err)
	}

	s.Metrics.Withdrawal(string(req.Rail), "completed")
	s.Logger.Info("Withdrawal completed",
		"entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", req.UserID,
		"reference", result.Reference, "new_balance", acc.BalanceUSD.StringFixed(2))
	return &WithdrawResult{Entry: entry, ExternalReference: result.Reference, NewBalance: acc.BalanceUSD}, nil
}

func (s *withdrawalService) destination(ctx context.Context, adapter rail.Adapter, req WithdrawRequest) (string, error) {
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		pm, err := s.Store.PaymentMethods.GetDefaultPaymentMethod(ctx, s.Store.Executor, req.UserID, req.Rail)
		if errors.Is(err, util.ErrNotFound) {
			return "", fmt.Errorf("%w: no destination given and no default %s payment method", util.ErrValidation, req.Rail)
		}
		if err != nil {
			return "", err
		}
		dest = pm.Address
	}
	if !adapter.ValidateDestination(dest) {
		return "", rail.InvalidDestination(req.Rail, "withdraw", dest)
	}
	return dest, nil
}

// quote converts the USD amount to native units at the current rate and
// prices the network fee for the record.
func (s *withdrawalService) quote(ctx context.Context, adapter rail.Adapter, req WithdrawRequest) (int64, *domain.CryptoQuote, decimal.Decimal, error) {
	if !req.Rail.Crypto() {
		return card.USDToCents(req.Amount), nil, decimal.Zero, nil
	}
	asset := req.Rail.Asset()
	rate, err := s.Prices.Rate(ctx, asset)
	if err != nil {
		return 0, nil, decimal.Zero, err
	}
	native, err := oracle.USDToNative(req.Amount, rate, asset)
	if err != nil {
		return 0, nil, decimal.Zero, err
	}
	networkFee := decimal.Zero
	if feeNative := adapter.EstimateFee(ctx); feeNative > 0 {
		if networkFee, err = oracle.NativeToUSD(feeNative, rate, asset); err != nil {
			return 0, nil, decimal.Zero, err
		}
	}
	return native, &domain.CryptoQuote{Asset: asset, Native: native, Rate: rate}, networkFee, nil
}

func withdrawalDetails(r domain.RailType, destination string, native int64) domain.RailDetails {
	switch r {
	case domain.RailCard:
		return domain.RailDetails{Card: &domain.CardDetails{Destination: destination, AmountCents: native}}
	case domain.RailUTXOChain:
		return domain.RailDetails{UTXOChain: &domain.UTXODetails{Address: destination, ExpectedSats: native}}
	case domain.RailAccountChain:
		return domain.RailDetails{AccountChain: &domain.AccountChainDetails{Address: destination, ExpectedLamports: native}}
	}
	return domain.RailDetails{}
}

// confirmSubmitted asks the rail once whether a transfer whose submission
// errored was nevertheless accepted.
func (s *withdrawalService) confirmSubmitted(ctx context.Context, adapter rail.Adapter, entry *domain.LedgerEntry, ref string) bool {
	railCtx, cancel := context.WithTimeout(ctx, s.settings.RailTimeout)
	defer cancel()
	started := time.Now()
	status, err := adapter.GetTransferStatus(railCtx, ref)
	s.Metrics.ObserveRailCall(string(entry.RailType), "transfer_status", started, err)
	if err != nil {
		s.Logger.Warn("Withdrawal status check failed", "entry_id", entry.ID, "rail", entry.RailType, "reference", ref, "error", err)
		return false
	}
	return status.State == rail.StateConfirmed || status.State == rail.StatePending
}

// finalize completes the reserved entry with the rail's references.
func (s *withdrawalService) finalize(ctx context.Context, entry *domain.LedgerEntry, result rail.TransferResult) (*domain.Account, error) {
	details := entry.RailDetails
	switch {
	case details.Card != nil:
		details.Card.TransferID = result.Reference
	case details.UTXOChain != nil:
		details.UTXOChain.FeeSats = result.FeeNative
	case details.AccountChain != nil:
		details.AccountChain.Signature = result.Reference
	}

	var acc *domain.Account
	now := s.now()
	upd := domain.StatusUpdate{To: domain.StatusCompleted, ExternalReference: &result.Reference, At: now}
	if result.ChainTxID != "" {
		upd.ChainTxID = &result.ChainTxID
	}
	err := s.Store.inTx(ctx, "finalize withdrawal", func(q repository.DBExecutor) error {
		if err := s.Store.Ledger.UpdateRailDetails(ctx, q, entry.ID, details, now); err != nil {
			return err
		}
		if err := s.Store.Ledger.UpdateStatus(ctx, q, entry.ID, domain.StatusPending, upd); err != nil {
			return err
		}
		if entry.CryptoAmount != nil {
			if err := s.Store.Accounts.AddCryptoBalance(ctx, q, *entry.FromAccount, entry.RailType.Asset(), -*entry.CryptoAmount, now); err != nil {
				return err
			}
		}
		var err error
		acc, err = s.Store.Accounts.GetAccountByID(ctx, q, *entry.FromAccount)
		return err
	})
	if err != nil {
		return nil, err
	}
	entry.RailDetails = details
	entry.Status = domain.StatusCompleted
	entry.ExternalReference = upd.ExternalReference
	entry.ChainTxID = upd.ChainTxID
	entry.ProcessedAt = &now
	entry.UpdatedAt = now
	return acc, nil
}

// compensate fails the entry and returns the reservation. The returned
// error wraps the original rail failure.
func (s *withdrawalService) compensate(ctx context.Context, entry *domain.LedgerEntry, total decimal.Decimal, cause error) error {
	reason := cause.Error()
	now := s.now()
	err := s.Store.inTx(ctx, "compensate withdrawal", func(q repository.DBExecutor) error {
		if err := s.Store.Ledger.UpdateStatus(ctx, q, entry.ID, domain.StatusPending, domain.StatusUpdate{
			To: domain.StatusFailed, FailureReason: &reason, At: now,
		}); err != nil {
			return err
		}
		_, err := s.balances.Reverse(ctx, q, *entry.FromAccount, total)
		return err
	})
	if err != nil {
		s.Logger.Error("Failed to compensate withdrawal",
			"entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", *entry.FromAccount,
			"amount_usd", total.StringFixed(2), "cause", cause, "error", err)
		s.Metrics.Withdrawal(string(entry.RailType), "compensation_error")
		return fmt.Errorf("withdraw %s: %w", entry.ID, errors.Join(cause, err))
	}

	entry.Status = domain.StatusFailed
	entry.FailureReason = &reason
	entry.UpdatedAt = now
	s.Metrics.Compensation(string(entry.RailType))
	s.Metrics.Withdrawal(string(entry.RailType), util.Code(cause))
	s.Logger.Warn("Withdrawal compensated",
		"entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", *entry.FromAccount,
		"amount_usd", total.StringFixed(2), "cause", cause)
	return fmt.Errorf("withdraw %s: %w", entry.ID, cause)
}
