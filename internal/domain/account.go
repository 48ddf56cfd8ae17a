// internal/domain/account.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the custodial-balance owner. Balance fields are mutated only
// through the balance accessor.
type Account struct {
	ID            int64           `db:"id" json:"id"`
	Username      string          `db:"username" json:"username"`
	BalanceUSD    decimal.Decimal `db:"balance_usd" json:"balance_usd"`
	TotalEarnings decimal.Decimal `db:"total_earnings" json:"total_earnings"`
	TotalSpent    decimal.Decimal `db:"total_spent" json:"total_spent"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// NewAccount creates a new Account with a zero balance.
func NewAccount(username string) *Account {
	now := time.Now().UTC()
	return &Account{
		Username:      username,
		BalanceUSD:    decimal.Zero,
		TotalEarnings: decimal.Zero,
		TotalSpent:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// BalanceChange is one atomic mutation of an account's balance and counters.
type BalanceChange struct {
	Delta    decimal.Decimal
	Earnings decimal.Decimal
	Spent    decimal.Decimal
	At       time.Time
}

// Balances is the read model returned by balance queries.
// Crypto holds informational per-asset totals in base units.
type Balances struct {
	UserID        int64           `json:"user_id"`
	USD           decimal.Decimal `json:"usd"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	Crypto        map[Asset]int64 `json:"crypto"`
	Reserved      decimal.Decimal `json:"reserved"`
}

// PaymentMethod is an externally verified destination owned by a user.
type PaymentMethod struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Type      RailType  `db:"type" json:"type"`
	Address   string    `db:"address" json:"address"`
	IsDefault bool      `db:"is_default" json:"is_default"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewPaymentMethod creates a new PaymentMethod instance.
func NewPaymentMethod(userID int64, rail RailType, address string, isDefault bool) *PaymentMethod {
	return &PaymentMethod{
		UserID:    userID,
		Type:      rail,
		Address:   address,
		IsDefault: isDefault,
		CreatedAt: time.Now().UTC(),
	}
}
