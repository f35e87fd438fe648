package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type LineType string

const (
	LineTypePurchase  LineType = "PURCHASE"  // purchase on credit
	LineTypePayment   LineType = "PAYMENT"   // customer payment
	LineTypeFee       LineType = "FEE"       // service fee
	LineTypePenalty   LineType = "PENALTY"   // late penalty
	LineTypeInterest  LineType = "INTEREST"  // interest on carried-over debt
	LineTypeRepayment LineType = "REPAYMENT" // compensating entry
)

func (t LineType) Valid() bool {
	switch t {
	case LineTypePurchase, LineTypePayment, LineTypeFee, LineTypePenalty, LineTypeInterest, LineTypeRepayment:
		return true
	}
	return false
}

// IsDebit reports whether lines of this type are stored negative.
func (t LineType) IsDebit() bool {
	switch t {
	case LineTypePurchase, LineTypeFee, LineTypePenalty, LineTypeInterest:
		return true
	}
	return false
}

// RequiresCurrent reports whether lines of this type may only be posted to a CURRENT statement.
func (t LineType) RequiresCurrent() bool {
	return t != LineTypeRepayment
}

// ExpectedSign is -1 for debit types and +1 for credit types.
func (t LineType) ExpectedSign() int {
	if t.IsDebit() {
		return -1
	}
	return 1
}

// NormalizeAmount returns amount with the sign required by t.
func NormalizeAmount(t LineType, amount int64) (int64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: unknown line type %q", ErrInvalidInput, t)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount cannot be zero", ErrInvalidAmount)
	}
	if amount < 0 {
		amount = -amount
	}
	if t.IsDebit() {
		return -amount, nil
	}
	return amount, nil
}

type LedgerLine struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	StatementID   uuid.UUID  `json:"statement_id" db:"statement_id"`
	Type          LineType   `json:"type" db:"type"`
	Amount        int64      `json:"amount" db:"amount"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty" db:"transaction_id"`
	// SourceStatementID is the statement an INTEREST or PENALTY line was charged for.
	SourceStatementID *uuid.UUID `json:"source_statement_id,omitempty" db:"source_statement_id"`
	Description       string     `json:"description" db:"description"`
	IsVoided          bool       `json:"is_voided" db:"is_voided"`
	VoidedAt          *time.Time `json:"voided_at,omitempty" db:"voided_at"`
	VoidReason        string     `json:"void_reason,omitempty" db:"void_reason"`
	Reverses          *uuid.UUID `json:"reverses,omitempty" db:"reverses"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// NewLine describes a line to post through the statement service.
type NewLine struct {
	Type              LineType
	Amount            int64
	TransactionID     *uuid.UUID
	SourceStatementID *uuid.UUID
	Reverses          *uuid.UUID
	Description       string
}

// LineUpdate is a partial update; nil fields are left unchanged.
type LineUpdate struct {
	Amount      *int64     `json:"amount,omitempty"`
	Type        *LineType  `json:"type,omitempty"`
	Description *string    `json:"description,omitempty"`
	StatementID *uuid.UUID `json:"statement_id,omitempty"`
}

// Financial reports whether the update touches fields that affect balances.
func (u LineUpdate) Financial() bool {
	return u.Amount != nil || u.Type != nil || u.StatementID != nil
}

// Totals is the aggregate of active lines of one statement.
type Totals struct {
	Debit  int64 // sum of negative amounts, negated
	Credit int64 // sum of positive amounts
}

// SumLines aggregates non-voided lines.
func SumLines(lines []LedgerLine) Totals {
	var t Totals
	for _, l := range lines {
		if l.IsVoided {
			continue
		}
		if l.Amount < 0 {
			t.Debit += -l.Amount
		} else {
			t.Credit += l.Amount
		}
	}
	return t
}

type VoidLineRequest struct {
	Reason string `json:"reason"`
}

type AddLineRequest struct {
	Type        LineType   `json:"type" validate:"required"`
	Amount      int64      `json:"amount" validate:"required"`
	Transaction *uuid.UUID `json:"transaction_id"`
	Description string     `json:"description"`
}
