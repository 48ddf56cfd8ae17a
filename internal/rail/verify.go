// internal/rail/verify.go
package rail

import (
	"fmt"

	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

// Expectation is what a deposit entry froze at creation.
type Expectation struct {
	Destination      string
	NativeAmount     int64
	CorrelationID    string
	TolerancePercent decimal.Decimal
}

// Verify checks an observed transfer against an expectation. It returns nil
// when funds landed at the expected destination within the tolerance band,
// util.ErrPendingSettlement when the transfer is not final yet, and
// util.ErrVerificationMismatch otherwise. Callers inspect status.State to
// tell a failed transfer apart from a mismatched one.
func Verify(exp Expectation, status TransferStatus) error {
	switch status.State {
	case StateConfirmed:
	case StatePending:
		return fmt.Errorf("%w: transfer %s has not settled", util.ErrPendingSettlement, status.Reference)
	case StateFailed:
		return fmt.Errorf("%w: transfer %s failed: %s", util.ErrVerificationMismatch, status.Reference, status.Reason)
	default:
		return fmt.Errorf("%w: transfer %s not found", util.ErrVerificationMismatch, status.Reference)
	}

	if exp.CorrelationID != "" && status.CorrelationID != exp.CorrelationID {
		return fmt.Errorf("%w: transfer %s belongs to %q", util.ErrVerificationMismatch, status.Reference, status.CorrelationID)
	}

	observed := status.AmountTo(exp.Destination)
	if observed == 0 {
		return fmt.Errorf("%w: transfer %s pays nothing to %s", util.ErrVerificationMismatch, status.Reference, exp.Destination)
	}
	if !WithinTolerance(exp.NativeAmount, observed, exp.TolerancePercent) {
		return fmt.Errorf("%w: observed %d, expected %d (±%s%%)", util.ErrVerificationMismatch, observed, exp.NativeAmount, exp.TolerancePercent)
	}
	return nil
}

// WithinTolerance reports whether observed is within pct percent of expected,
// in either direction.
func WithinTolerance(expected, observed int64, pct decimal.Decimal) bool {
	if expected <= 0 || observed <= 0 {
		return false
	}
	exp := decimal.NewFromInt(expected)
	diff := decimal.NewFromInt(observed).Sub(exp).Abs()
	limit := exp.Mul(pct).Div(decimal.NewFromInt(100))
	return diff.LessThanOrEqual(limit)
}
