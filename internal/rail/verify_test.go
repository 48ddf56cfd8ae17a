// internal/rail/verify_test.go
package rail

import (
	"errors"
	"testing"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	exp := Expectation{Destination: "platform", NativeAmount: 100_000, TolerancePercent: decimal.NewFromInt(5)}
	confirmed := func(outputs ...Output) TransferStatus {
		return TransferStatus{Reference: "ref", State: StateConfirmed, Outputs: outputs}
	}

	t.Run("exact amount", func(t *testing.T) {
		assert.NoError(t, Verify(exp, confirmed(Output{"platform", 100_000})))
	})

	t.Run("within tolerance both ways", func(t *testing.T) {
		assert.NoError(t, Verify(exp, confirmed(Output{"platform", 96_000})))
		assert.NoError(t, Verify(exp, confirmed(Output{"platform", 104_500})))
	})

	t.Run("ten percent short", func(t *testing.T) {
		err := Verify(exp, confirmed(Output{"platform", 90_000}))
		assert.ErrorIs(t, err, util.ErrVerificationMismatch)
	})

	t.Run("funds sent elsewhere", func(t *testing.T) {
		err := Verify(exp, confirmed(Output{"attacker", 100_000}))
		assert.ErrorIs(t, err, util.ErrVerificationMismatch)
	})

	t.Run("outputs to platform are summed", func(t *testing.T) {
		assert.NoError(t, Verify(exp, confirmed(Output{"platform", 50_000}, Output{"change", 1}, Output{"platform", 50_000})))
	})

	t.Run("pending", func(t *testing.T) {
		err := Verify(exp, TransferStatus{Reference: "ref", State: StatePending})
		assert.ErrorIs(t, err, util.ErrPendingSettlement)
	})

	t.Run("failed", func(t *testing.T) {
		err := Verify(exp, TransferStatus{Reference: "ref", State: StateFailed, Reason: "reverted"})
		assert.ErrorIs(t, err, util.ErrVerificationMismatch)
	})

	t.Run("correlation id must match", func(t *testing.T) {
		e := exp
		e.CorrelationID = "dep-1"
		st := confirmed(Output{"platform", 100_000})
		st.CorrelationID = "dep-2"
		assert.ErrorIs(t, Verify(e, st), util.ErrVerificationMismatch)
		st.CorrelationID = "dep-1"
		assert.NoError(t, Verify(e, st))
	})
}

func TestWithinTolerance(t *testing.T) {
	three := decimal.NewFromInt(3)
	assert.True(t, WithinTolerance(1000, 1030, three))
	assert.False(t, WithinTolerance(1000, 1031, three))
	assert.False(t, WithinTolerance(0, 0, three))
	assert.True(t, WithinTolerance(1000, 1000, decimal.Zero))
}

func TestErrorClassification(t *testing.T) {
	err := Classify(domain.RailCard, "get", errors.New("boom"), util.ErrVerificationMismatch)
	assert.ErrorIs(t, err, util.ErrVerificationMismatch)
	assert.Equal(t, "verification_mismatch", util.Code(err))

	err = Unavailable(domain.RailUTXOChain, "broadcast", errors.New("connection reset"))
	assert.ErrorIs(t, err, util.ErrRailUnavailable)

	var re *Error
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, domain.RailUTXOChain, re.Rail)

	// Already-classified errors pass through unchanged.
	assert.Same(t, err, Classify(domain.RailUTXOChain, "other", err, util.ErrNotFound))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(domain.RailCard)
	assert.ErrorIs(t, err, util.ErrValidation)
	assert.Empty(t, r.Enabled())
}
