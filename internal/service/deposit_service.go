// internal/service/deposit_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/oracle"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/rail/card"
	"puzzlebounty/internal/repository"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

// DepositService reconciles inbound payments with the ledger.
type DepositService interface {
	CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, railType domain.RailType) (*CreateDepositResult, error)
	ConfirmDeposit(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	FailDeposit(ctx context.Context, depositID, reason string) (*domain.LedgerEntry, error)
	RefundDeposit(ctx context.Context, depositID, reason string) (*domain.LedgerEntry, error)
	HandleCardWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
	ExpireDeposits(ctx context.Context) (int, error)
}

// CreateDepositResult tells the payer where to send funds.
type CreateDepositResult struct {
	Entry        *domain.LedgerEntry       `json:"deposit"`
	Instructions rail.DepositInstructions `json:"-"`
	ExpiresAt    time.Time                 `json:"expires_at"`
}

// ConfirmRequest asks to settle a pending deposit. RequestedBy is the
// authenticated caller, or 0 for webhooks and the sweeper.
type ConfirmRequest struct {
	DepositID         string
	ExternalReference string
	RequestedBy       int64
}

// ConfirmResult reports the outcome of a confirmation.
type ConfirmResult struct {
	Entry            *domain.LedgerEntry `json:"deposit"`
	AlreadyProcessed bool                `json:"already_processed"`
	NewBalance       *decimal.Decimal    `json:"new_balance,omitempty"`
}

// WebhookResult reports what a processor callback did.
type WebhookResult struct {
	EventID string         `json:"event_id"`
	Action  string         `json:"action"`
	Confirm *ConfirmResult `json:"confirm,omitempty"`
}

// depositService implements the DepositService interface.
type depositService struct {
	Deps
	settings Settings
	balances BalanceAccessor
}

// NewDepositService creates a new instance of DepositService.
func NewDepositService(deps Deps, settings Settings) DepositService {
	return &depositService{
		Deps:     deps,
		settings: settings,
		balances: NewBalanceAccessor(deps.Store.Accounts, deps.Clock),
	}
}

// CreateDeposit freezes the native amount and exchange rate and persists a
// pending entry before returning payment instructions.
func (s *depositService) CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, railType domain.RailType) (*CreateDepositResult, error) {
	policy, err := s.settings.policy(railType)
	if err != nil {
		return nil, err
	}
	if err := validateUSD("deposit amount", amount, policy.DepositMin, policy.DepositMax); err != nil {
		return nil, err
	}
	adapter, err := s.Rails.Get(railType)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.Accounts.GetAccountByID(ctx, s.Store.Executor, userID); err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}

	native := card.USDToCents(amount)
	var quote *domain.CryptoQuote
	if railType.Crypto() {
		asset := railType.Asset()
		rate, err := s.Prices.Rate(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("create deposit: %w", err)
		}
		native, err = oracle.USDToNative(amount, rate, asset)
		if err != nil {
			return nil, fmt.Errorf("create deposit: %w", err)
		}
		quote = &domain.CryptoQuote{Asset: asset, Native: native, Rate: rate}
	}

	now := s.now()
	expiresAt := now.Add(policy.DepositTTL)
	entry := domain.NewDepositEntry(userID, amount, railType, domain.RailDetails{}, quote, expiresAt, now)

	railCtx, cancel := context.WithTimeout(ctx, s.settings.RailTimeout)
	defer cancel()
	started := time.Now()
	instructions, err := adapter.PrepareDeposit(railCtx, rail.DepositIntent{
		DepositID:    entry.ID,
		UserID:       userID,
		AmountUSD:    amount,
		NativeAmount: native,
	})
	s.Metrics.ObserveRailCall(string(railType), "prepare_deposit", started, err)
	if err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	entry.RailDetails = instructions.Details

	if err := s.Store.Ledger.CreateEntry(ctx, s.Store.Executor, entry); err != nil {
		return nil, fmt.Errorf("create deposit: failed to persist entry: %w", err)
	}

	s.Metrics.DepositCreated(string(railType))
	s.Logger.Info("Deposit created",
		"entry_id", entry.ID, "kind", entry.Kind, "rail", railType, "user_id", userID,
		"amount_usd", amount.StringFixed(2), "native", native, "expires_at", expiresAt)

	return &CreateDepositResult{Entry: entry, Instructions: instructions, ExpiresAt: expiresAt}, nil
}

// ConfirmDeposit verifies an external settlement and credits the user once.
// A completed entry short-circuits before any rail call.
func (s *depositService) ConfirmDeposit(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	entry, err := s.loadDeposit(ctx, req.DepositID)
	if err != nil {
		return nil, fmt.Errorf("confirm deposit: %w", err)
	}
	if req.RequestedBy != 0 && (entry.ToAccount == nil || *entry.ToAccount != req.RequestedBy) {
		return nil, fmt.Errorf("confirm deposit %s: %w", entry.ID, util.ErrForbidden)
	}

	switch entry.Status {
	case domain.StatusCompleted, domain.StatusRefunded:
		return &ConfirmResult{Entry: entry, AlreadyProcessed: true}, nil
	case domain.StatusPending:
	default:
		return nil, fmt.Errorf("confirm deposit %s is %s: %w", entry.ID, entry.Status, util.ErrDepositClosed)
	}
	if entry.RailType.Crypto() && entry.Expired(s.now()) {
		return nil, fmt.Errorf("confirm deposit %s expired at %s: %w", entry.ID, entry.ExpiresAt.Format(time.RFC3339), util.ErrDepositClosed)
	}

	ref, exp, err := s.expectation(entry, req.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("confirm deposit %s: %w", entry.ID, err)
	}

	claimed, err := s.Store.Ledger.GetEntryByExternalReference(ctx, s.Store.Executor, entry.RailType, ref)
	switch {
	case err == nil && claimed.ID != entry.ID:
		return nil, fmt.Errorf("confirm deposit %s: reference %s already settled entry %s: %w", entry.ID, ref, claimed.ID, util.ErrDuplicateResource)
	case err != nil && !errors.Is(err, util.ErrNotFound):
		return nil, fmt.Errorf("confirm deposit %s: %w", entry.ID, err)
	}

	adapter, err := s.Rails.Get(entry.RailType)
	if err != nil {
		return nil, err
	}
	railCtx, cancel := context.WithTimeout(ctx, s.settings.RailTimeout)
	defer cancel()
	started := time.Now()
	status, err := adapter.GetTransferStatus(railCtx, ref)
	s.Metrics.ObserveRailCall(string(entry.RailType), "transfer_status", started, err)
	if err != nil {
		return nil, fmt.Errorf("confirm deposit %s: %w", entry.ID, err)
	}

	if verr := rail.Verify(exp, status); verr != nil {
		if status.State == rail.StateFailed {
			if _, ferr := s.FailDeposit(context.WithoutCancel(ctx), entry.ID, verr.Error()); ferr != nil && !errors.Is(ferr, util.ErrDepositClosed) {
				s.Logger.Error("Failed to mark deposit failed", "entry_id", entry.ID, "error", ferr)
			}
		}
		s.Metrics.DepositSettled(string(entry.RailType), util.Code(verr))
		s.Logger.Warn("Deposit verification rejected",
			"entry_id", entry.ID, "rail", entry.RailType, "reference", ref, "state", status.State, "error", verr)
		return nil, fmt.Errorf("confirm deposit %s: %w", entry.ID, verr)
	}

	return s.complete(ctx, entry.ID, ref)
}

// complete credits the user and completes the entry in one transaction.
func (s *depositService) complete(ctx context.Context, depositID, ref string) (*ConfirmResult, error) {
	var result *ConfirmResult
	err := s.Store.inTx(ctx, "complete deposit", func(q repository.DBExecutor) error {
		entry, err := s.Store.Ledger.GetEntryForUpdate(ctx, q, depositID)
		if err != nil {
			return err
		}
		if entry.Status == domain.StatusCompleted {
			result = &ConfirmResult{Entry: entry, AlreadyProcessed: true}
			return nil
		}
		if entry.Status != domain.StatusPending {
			return fmt.Errorf("deposit %s is %s: %w", entry.ID, entry.Status, util.ErrDepositClosed)
		}

		now := s.now()
		upd := domain.StatusUpdate{To: domain.StatusCompleted, ExternalReference: &ref, At: now}
		if entry.RailType.Crypto() {
			upd.ChainTxID = &ref
		}
		if err := s.Store.Ledger.UpdateStatus(ctx, q, entry.ID, domain.StatusPending, upd); err != nil {
			return err
		}
		acc, err := s.balances.Credit(ctx, q, *entry.ToAccount, entry.Amount)
		if err != nil {
			return err
		}
		if entry.CryptoAmount != nil && entry.RailType.Crypto() {
			if err := s.Store.Accounts.AddCryptoBalance(ctx, q, acc.ID, entry.RailType.Asset(), *entry.CryptoAmount, now); err != nil {
				return err
			}
		}

		entry.Status = domain.StatusCompleted
		entry.ExternalReference = upd.ExternalReference
		entry.ChainTxID = upd.ChainTxID
		entry.ProcessedAt = &now
		entry.UpdatedAt = now
		balance := acc.BalanceUSD
		result = &ConfirmResult{Entry: entry, NewBalance: &balance}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm deposit %s: %w", depositID, err)
	}

	if result.AlreadyProcessed {
		s.Metrics.DepositSettled(string(result.Entry.RailType), "already_processed")
		return result, nil
	}
	s.Metrics.DepositSettled(string(result.Entry.RailType), "completed")
	s.Logger.Info("Deposit completed",
		"entry_id", result.Entry.ID, "kind", result.Entry.Kind, "rail", result.Entry.RailType,
		"user_id", *result.Entry.ToAccount, "reference", ref, "new_balance", result.NewBalance.StringFixed(2))
	return result, nil
}

// expectation derives the reference to check and what it must show.
func (s *depositService) expectation(entry *domain.LedgerEntry, ref string) (string, rail.Expectation, error) {
	policy, err := s.settings.policy(entry.RailType)
	if err != nil {
		return "", rail.Expectation{}, err
	}
	exp := rail.Expectation{
		Destination:      entry.RailDetails.Destination(),
		NativeAmount:     entry.RailDetails.ExpectedNative(),
		TolerancePercent: policy.TolerancePercent,
	}
	if entry.RailType == domain.RailCard {
		intent := entry.RailDetails.Card.PaymentIntentID
		if ref == "" {
			ref = intent
		}
		if ref != intent {
			return "", rail.Expectation{}, fmt.Errorf("%w: reference %s is not this deposit's payment intent", util.ErrVerificationMismatch, ref)
		}
		exp.Destination = intent
		exp.CorrelationID = entry.ID
	}
	if ref == "" {
		return "", rail.Expectation{}, fmt.Errorf("%w: external reference is required", util.ErrValidation)
	}
	return ref, exp, nil
}

func (s *depositService) loadDeposit(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	if !domain.ValidID(id) {
		return nil, fmt.Errorf("deposit %q: %w", id, util.ErrNotFound)
	}
	entry, err := s.Store.Ledger.GetEntryByID(ctx, s.Store.Executor, id)
	if err != nil {
		return nil, err
	}
	if entry.Kind != domain.KindDeposit {
		return nil, fmt.Errorf("entry %s is a %s: %w", id, entry.Kind, util.ErrNotFound)
	}
	return entry, nil
}

// FailDeposit marks a pending deposit failed. Failing an already failed
// deposit is a no-op.
func (s *depositService) FailDeposit(ctx context.Context, depositID, reason string) (*domain.LedgerEntry, error) {
	if _, err := s.loadDeposit(ctx, depositID); err != nil {
		return nil, fmt.Errorf("fail deposit: %w", err)
	}
	var out *domain.LedgerEntry
	err := s.Store.inTx(ctx, "fail deposit", func(q repository.DBExecutor) error {
		entry, err := s.Store.Ledger.GetEntryForUpdate(ctx, q, depositID)
		if err != nil {
			return err
		}
		out = entry
		switch entry.Status {
		case domain.StatusFailed:
			return nil
		case domain.StatusPending:
		case domain.StatusCompleted, domain.StatusRefunded:
			return fmt.Errorf("deposit %s is %s: %w", entry.ID, entry.Status, util.ErrAlreadyProcessed)
		default:
			return fmt.Errorf("deposit %s is %s: %w", entry.ID, entry.Status, util.ErrDepositClosed)
		}
		now := s.now()
		if err := s.Store.Ledger.UpdateStatus(ctx, q, entry.ID, domain.StatusPending, domain.StatusUpdate{
			To: domain.StatusFailed, FailureReason: &reason, At: now,
		}); err != nil {
			return err
		}
		entry.Status = domain.StatusFailed
		entry.FailureReason = &reason
		entry.ProcessedAt = &now
		entry.UpdatedAt = now
		s.Logger.Info("Deposit failed", "entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", *entry.ToAccount, "reason", reason)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fail deposit: %w", err)
	}
	return out, nil
}

// RefundDeposit reverses a completed deposit, e.g. after a chargeback. It
// fails with util.ErrInsufficientFunds when the user already spent the funds.
func (s *depositService) RefundDeposit(ctx context.Context, depositID, reason string) (*domain.LedgerEntry, error) {
	if _, err := s.loadDeposit(ctx, depositID); err != nil {
		return nil, fmt.Errorf("refund deposit: %w", err)
	}
	var out *domain.LedgerEntry
	err := s.Store.inTx(ctx, "refund deposit", func(q repository.DBExecutor) error {
		entry, err := s.Store.Ledger.GetEntryForUpdate(ctx, q, depositID)
		if err != nil {
			return err
		}
		switch entry.Status {
		case domain.StatusCompleted:
		case domain.StatusRefunded:
			return fmt.Errorf("deposit %s: %w", entry.ID, util.ErrAlreadyProcessed)
		default:
			return fmt.Errorf("deposit %s is %s: %w", entry.ID, entry.Status, util.ErrDepositClosed)
		}
		now := s.now()
		if err := s.Store.Ledger.UpdateStatus(ctx, q, entry.ID, domain.StatusCompleted, domain.StatusUpdate{
			To: domain.StatusRefunded, FailureReason: &reason, At: now,
		}); err != nil {
			return err
		}
		if _, err := s.balances.Debit(ctx, q, *entry.ToAccount, entry.Amount); err != nil {
			return err
		}
		if entry.CryptoAmount != nil && entry.RailType.Crypto() {
			if err := s.Store.Accounts.AddCryptoBalance(ctx, q, *entry.ToAccount, entry.RailType.Asset(), -*entry.CryptoAmount, now); err != nil {
				return err
			}
		}
		entry.Status = domain.StatusRefunded
		entry.FailureReason = &reason
		entry.UpdatedAt = now
		out = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("refund deposit: %w", err)
	}
	s.Logger.Info("Deposit refunded", "entry_id", out.ID, "kind", out.Kind, "rail", out.RailType, "user_id", *out.ToAccount, "reason", reason)
	return out, nil
}

// HandleCardWebhook verifies the processor signature before anything else and
// treats redelivery of a settled payment as success.
func (s *depositService) HandleCardWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	adapter, err := s.Rails.Get(domain.RailCard)
	if err != nil {
		return nil, err
	}
	verifier, ok := adapter.(rail.WebhookVerifier)
	if !ok {
		return nil, fmt.Errorf("%w: card rail does not accept webhooks", util.ErrValidation)
	}
	ev, err := verifier.ParseWebhook(payload, signature)
	if err != nil {
		s.Logger.Warn("Rejected card webhook", "error", err)
		return nil, fmt.Errorf("card webhook: %w", err)
	}

	result := &WebhookResult{EventID: ev.ID, Action: "ignored"}
	if ev.Type == rail.EventIgnored {
		return result, nil
	}

	depositID, err := s.depositForEvent(ctx, ev)
	if errors.Is(err, util.ErrNotFound) {
		s.Logger.Warn("Card webhook for unknown deposit", "event_id", ev.ID, "reference", ev.Reference)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("card webhook %s: %w", ev.ID, err)
	}

	switch ev.Type {
	case rail.EventPaymentSucceeded:
		res, err := s.ConfirmDeposit(ctx, ConfirmRequest{DepositID: depositID, ExternalReference: ev.Reference})
		if errors.Is(err, util.ErrDepositClosed) {
			s.Logger.Warn("Ignoring payment success for closed deposit", "event_id", ev.ID, "entry_id", depositID, "error", err)
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("card webhook %s: %w", ev.ID, err)
		}
		result.Action = "confirmed"
		if res.AlreadyProcessed {
			result.Action = "already_processed"
		}
		result.Confirm = res
	case rail.EventPaymentDeclined:
		// The payer may retry on the same intent, so the deposit stays open.
		s.Logger.Info("Card payment attempt declined", "event_id", ev.ID, "entry_id", depositID, "reference", ev.Reference, "reason", ev.Reason)
		result.Action = "declined"
	case rail.EventPaymentCanceled:
		canceled, err := s.intentCanceled(ctx, adapter, ev.Reference)
		if err != nil {
			return nil, fmt.Errorf("card webhook %s: %w", ev.ID, err)
		}
		if !canceled {
			s.Logger.Warn("Ignoring cancellation the processor does not report", "event_id", ev.ID, "entry_id", depositID, "reference", ev.Reference)
			return result, nil
		}
		_, err = s.FailDeposit(ctx, depositID, ev.Reason)
		switch {
		case err == nil:
			result.Action = "failed"
		case errors.Is(err, util.ErrAlreadyProcessed), errors.Is(err, util.ErrDepositClosed):
			s.Logger.Warn("Ignoring payment cancellation for settled deposit", "event_id", ev.ID, "entry_id", depositID, "error", err)
		default:
			return nil, fmt.Errorf("card webhook %s: %w", ev.ID, err)
		}
	}
	return result, nil
}

// intentCanceled asks the processor whether the payment is finally canceled.
func (s *depositService) intentCanceled(ctx context.Context, adapter rail.Adapter, reference string) (bool, error) {
	if reference == "" {
		return false, nil
	}
	railCtx, cancel := context.WithTimeout(ctx, s.settings.RailTimeout)
	defer cancel()
	started := time.Now()
	status, err := adapter.GetTransferStatus(railCtx, reference)
	s.Metrics.ObserveRailCall(string(domain.RailCard), "transfer_status", started, err)
	if err != nil {
		return false, err
	}
	return status.State == rail.StateFailed, nil
}

// depositForEvent prefers the deposit id embedded in the intent metadata and
// falls back to the settled reference for replays.
func (s *depositService) depositForEvent(ctx context.Context, ev rail.WebhookEvent) (string, error) {
	if domain.ValidID(ev.CorrelationID) {
		return ev.CorrelationID, nil
	}
	if ev.Reference == "" {
		return "", util.ErrNotFound
	}
	entry, err := s.Store.Ledger.GetEntryByExternalReference(ctx, s.Store.Executor, domain.RailCard, ev.Reference)
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// ExpireDeposits cancels pending crypto deposits past their expiry.
func (s *depositService) ExpireDeposits(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.Store.Ledger.ListExpiredDeposits(ctx, s.Store.Executor, now)
	if err != nil {
		return 0, fmt.Errorf("expire deposits: %w", err)
	}

	count := 0
	var errs []error
	reason := domain.ReasonDepositExpired
	for _, candidate := range expired {
		err := s.Store.inTx(ctx, "expire deposit", func(q repository.DBExecutor) error {
			entry, err := s.Store.Ledger.GetEntryForUpdate(ctx, q, candidate.ID)
			if err != nil {
				return err
			}
			if !entry.Expired(now) {
				return nil
			}
			if err := s.Store.Ledger.UpdateStatus(ctx, q, entry.ID, domain.StatusPending, domain.StatusUpdate{
				To: domain.StatusCancelled, FailureReason: &reason, At: now,
			}); err != nil {
				return err
			}
			count++
			s.Logger.Info("Deposit expired", "entry_id", entry.ID, "kind", entry.Kind, "rail", entry.RailType, "user_id", *entry.ToAccount)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire deposit %s: %w", candidate.ID, err))
		}
	}
	return count, errors.Join(errs...)
}
