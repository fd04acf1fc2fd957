package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is the per-user credit balance. Reserved is the part of Balance
// earmarked for in-flight jobs.
type Account struct {
	ID                 uuid.UUID       `json:"id"`
	Balance            int             `json:"balance"`
	Reserved           int             `json:"reserved"`
	LifetimeSpent      int             `json:"lifetime_spent"`
	LifetimeMoneySpent decimal.Decimal `json:"lifetime_money_spent"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Available is the part of the balance that can still be reserved or debited.
func (a *Account) Available() int {
	return a.Balance - a.Reserved
}

// Wallet is the read view returned to clients.
type Wallet struct {
	Balance            int             `json:"balance"`
	Reserved           int             `json:"reserved"`
	Available          int             `json:"available"`
	LifetimeSpent      int             `json:"lifetime_spent"`
	LifetimeMoneySpent decimal.Decimal `json:"lifetime_money_spent"`
}

func (a *Account) Wallet() Wallet {
	return Wallet{
		Balance:            a.Balance,
		Reserved:           a.Reserved,
		Available:          a.Available(),
		LifetimeSpent:      a.LifetimeSpent,
		LifetimeMoneySpent: a.LifetimeMoneySpent,
	}
}

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Credits   int             `json:"credits"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Features  []string        `json:"features"`
	IsActive  bool            `json:"-"`
	IsPopular bool            `json:"is_popular"`
}
