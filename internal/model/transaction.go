package model

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusSuccess TransactionStatus = "SUCCESS"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// Transaction is a wallet transfer as seen by the ledger. It is read-only here.
type Transaction struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Amount      int64             `json:"amount" db:"amount"`
	Status      TransactionStatus `json:"status" db:"status"`
	PayerID     *uuid.UUID        `json:"payer_id,omitempty" db:"payer_id"`
	PayeeID     *uuid.UUID        `json:"payee_id,omitempty" db:"payee_id"`
	Description string            `json:"description" db:"description"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// Involves reports whether userID is the source or destination of t.
func (t *Transaction) Involves(userID uuid.UUID) bool {
	return (t.PayerID != nil && *t.PayerID == userID) || (t.PayeeID != nil && *t.PayeeID == userID)
}

// PaidBy reports whether userID is the source of t.
func (t *Transaction) PaidBy(userID uuid.UUID) bool {
	return t.PayerID != nil && *t.PayerID == userID
}
