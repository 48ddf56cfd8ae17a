// internal/service/sweeper.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/rail"
	"puzzlebounty/internal/util"
)

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Expired int `json:"expired"`
	Matched int `json:"matched"`
}

// Sweeper expires stale crypto deposits and matches unclaimed inbound chain
// transfers to pending deposits. It never creates ledger entries.
type Sweeper struct {
	Deps
	settings Settings
	deposits DepositService
}

// NewSweeper creates a Sweeper that confirms matches through deposits.
func NewSweeper(deps Deps, settings Settings, deposits DepositService) *Sweeper {
	return &Sweeper{Deps: deps, settings: settings, deposits: deposits}
}

// Run sweeps every SweepInterval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settings.SweepInterval)
	defer ticker.Stop()

	s.Logger.Info("Sweeper started", "interval", s.settings.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.Logger.Error("Sweep finished with errors", "error", err)
			}
		}
	}
}

// RunOnce performs a single expiry and matching pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error

	expired, err := s.deposits.ExpireDeposits(ctx)
	report.Expired = expired
	if err != nil {
		errs = append(errs, err)
	}

	for _, r := range s.Rails.Enabled() {
		adapter, err := s.Rails.Get(r)
		if err != nil {
			continue
		}
		lister, ok := adapter.(rail.InboundLister)
		if !ok {
			continue
		}
		matched, err := s.matchRail(ctx, r, lister)
		report.Matched += matched
		if err != nil {
			errs = append(errs, fmt.Errorf("match %s: %w", r, err))
		}
	}

	err = errors.Join(errs...)
	s.Metrics.ObserveSweep(report.Matched, report.Expired, err, s.now())
	if report.Matched > 0 || report.Expired > 0 {
		s.Logger.Info("Sweep completed", "matched", report.Matched, "expired", report.Expired)
	}
	return report, err
}

// matchRail confirms each unclaimed inbound transfer against the oldest
// pending deposit it fits.
func (s *Sweeper) matchRail(ctx context.Context, r domain.RailType, lister rail.InboundLister) (int, error) {
	policy, err := s.settings.policy(r)
	if err != nil {
		return 0, err
	}

	railCtx, cancel := context.WithTimeout(ctx, s.settings.RailTimeout)
	started := time.Now()
	inbound, err := lister.ListInboundTransfers(railCtx, s.now().Add(-s.settings.SweepLookback))
	cancel()
	s.Metrics.ObserveRailCall(string(r), "list_inbound", started, err)
	if err != nil {
		return 0, err
	}
	if len(inbound) == 0 {
		return 0, nil
	}

	pending, err := s.Store.Ledger.ListPendingDeposits(ctx, s.Store.Executor, r)
	if err != nil {
		return 0, err
	}

	now := s.now()
	used := make(map[string]bool)
	matched := 0
	var errs []error
	for _, in := range inbound {
		if _, err := s.Store.Ledger.GetEntryByExternalReference(ctx, s.Store.Executor, r, in.Reference); err == nil {
			continue
		} else if !errors.Is(err, util.ErrNotFound) {
			errs = append(errs, err)
			continue
		}

		for i := range pending {
			candidate := &pending[i]
			if used[candidate.ID] || candidate.Expired(now) ||
				candidate.RailDetails.Destination() != in.Destination ||
				in.SeenAt.Before(candidate.CreatedAt) ||
				!rail.WithinTolerance(candidate.RailDetails.ExpectedNative(), in.Amount, policy.TolerancePercent) {
				continue
			}

			_, err := s.deposits.ConfirmDeposit(ctx, ConfirmRequest{DepositID: candidate.ID, ExternalReference: in.Reference})
			if err == nil {
				used[candidate.ID] = true
				matched++
				s.Logger.Info("Inbound transfer matched",
					"entry_id", candidate.ID, "rail", r, "reference", in.Reference, "amount", in.Amount)
				break
			}
			if errors.Is(err, util.ErrPendingSettlement) {
				break
			}
			if errors.Is(err, util.ErrVerificationMismatch) || errors.Is(err, util.ErrDepositClosed) {
				continue
			}
			errs = append(errs, err)
			break
		}
	}
	return matched, errors.Join(errs...)
}
