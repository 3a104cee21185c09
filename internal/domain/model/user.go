package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User holds the wallet balance. Credit never goes negative.
type User struct {
	ID        string
	Phone     string
	FirstName string
	LastName  string
	Credit    decimal.Decimal
	TraccarID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type CreditTxKind string

const (
	CreditTxUse CreditTxKind = "use"
	CreditTxAdd CreditTxKind = "add"
)

// CreditTransaction is an append-only ledger row for wallet movements.
type CreditTransaction struct {
	ID          string
	UserID      string
	PaymentID   string
	Kind        CreditTxKind
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}
