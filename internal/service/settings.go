// internal/service/settings.go
package service

import (
	"fmt"
	"time"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/util"

	"github.com/shopspring/decimal"
)

// RailPolicy holds the per-rail limits, all in USD.
type RailPolicy struct {
	DepositMin       decimal.Decimal
	DepositMax       decimal.Decimal
	WithdrawMin      decimal.Decimal
	WithdrawMax      decimal.Decimal
	WithdrawFee      decimal.Decimal
	TolerancePercent decimal.Decimal
	DepositTTL       time.Duration
}

// Settings are the tunables of the payment core.
type Settings struct {
	Policies         map[domain.RailType]RailPolicy
	RailTimeout      time.Duration
	PuzzleFeePercent decimal.Decimal
	PuzzleMin        decimal.Decimal
	PuzzleMax        decimal.Decimal
	AnswerHashCost   int
	SweepInterval    time.Duration
	SweepLookback    time.Duration
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Policies: map[domain.RailType]RailPolicy{
			domain.RailCard: {
				DepositMin: usd("5"), DepositMax: usd("10000"),
				WithdrawMin: usd("10"), WithdrawMax: usd("5000"), WithdrawFee: usd("2.50"),
				TolerancePercent: decimal.Zero, DepositTTL: time.Hour,
			},
			domain.RailUTXOChain: {
				DepositMin: usd("10"), DepositMax: usd("50000"),
				WithdrawMin: usd("25"), WithdrawMax: usd("10000"), WithdrawFee: usd("5"),
				TolerancePercent: usd("5"), DepositTTL: time.Hour,
			},
			domain.RailAccountChain: {
				DepositMin: usd("5"), DepositMax: usd("10000"),
				WithdrawMin: usd("10"), WithdrawMax: usd("5000"), WithdrawFee: usd("2.50"),
				TolerancePercent: usd("3"), DepositTTL: 30 * time.Minute,
			},
		},
		RailTimeout:      30 * time.Second,
		PuzzleFeePercent: usd("5"),
		PuzzleMin:        usd("1"),
		PuzzleMax:        usd("10000"),
		AnswerHashCost:   10,
		SweepInterval:    time.Minute,
		SweepLookback:    24 * time.Hour,
	}
}

// AdminFee is the platform fee on a bounty of value, rounded to cents.
func (s Settings) AdminFee(value decimal.Decimal) decimal.Decimal {
	return value.Mul(s.PuzzleFeePercent).Div(decimal.NewFromInt(100)).Round(2)
}

func (s Settings) policy(r domain.RailType) (RailPolicy, error) {
	p, ok := s.Policies[r]
	if !ok {
		return RailPolicy{}, fmt.Errorf("%w: no policy for rail %q", util.ErrValidation, r)
	}
	return p, nil
}

// validateUSD checks a positive amount with at most cent precision inside [min, max].
func validateUSD(what string, amount, min, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", util.ErrValidation, what)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", util.ErrValidation, what)
	}
	if amount.LessThan(min) {
		return fmt.Errorf("%w: %s %s is below the minimum of %s", util.ErrValidation, what, amount.StringFixed(2), min.StringFixed(2))
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return fmt.Errorf("%w: %s %s exceeds the maximum of %s", util.ErrValidation, what, amount.StringFixed(2), max.StringFixed(2))
	}
	return nil
}
