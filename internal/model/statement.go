package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StatementStatus string

const (
	StatementStatusCurrent           StatementStatus = "CURRENT"
	StatementStatusPendingPayment    StatementStatus = "PENDING_PAYMENT"
	StatementStatusClosedNoPenalty   StatementStatus = "CLOSED_NO_PENALTY"
	StatementStatusClosedWithPenalty StatementStatus = "CLOSED_WITH_PENALTY"
)

// Terminal statuses are never reopened.
func (s StatementStatus) Terminal() bool {
	return s == StatementStatusClosedNoPenalty || s == StatementStatusClosedWithPenalty
}

type Statement struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	Period         BillingPeriod   `json:"period"`
	ReferenceCode  *string         `json:"reference_code,omitempty" db:"reference_code"`
	Status         StatementStatus `json:"status" db:"status"`
	OpeningBalance int64           `json:"opening_balance" db:"opening_balance"`
	ClosingBalance int64           `json:"closing_balance" db:"closing_balance"`
	TotalDebit     int64           `json:"total_debit" db:"total_debit"`
	TotalCredit    int64           `json:"total_credit" db:"total_credit"`
	// CarriedFromID is the statement whose closing balance opened this one.
	CarriedFromID *uuid.UUID `json:"carried_from_id,omitempty" db:"carried_from_id"`
	ClosedAt      *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	DueDate       *time.Time `json:"due_date,omitempty" db:"due_date"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// ApplyTotals sets the aggregate fields and derives the closing balance.
func (s *Statement) ApplyTotals(t Totals) {
	s.TotalDebit = t.Debit
	s.TotalCredit = t.Credit
	s.ClosingBalance = s.OpeningBalance + t.Credit - t.Debit
}

// Debt is the outstanding amount owed on this statement, never negative.
func (s *Statement) Debt() int64 {
	if s.ClosingBalance >= 0 {
		return 0
	}
	return -s.ClosingBalance
}

// MinimumPayment is the amount that must be paid within the due window to avoid a penalty.
func (s *Statement) MinimumPayment(r BillingRates) int64 {
	if s.Status != StatementStatusPendingPayment {
		return 0
	}
	debt := s.Debt()
	if debt == 0 || debt < r.MinimumPaymentThreshold {
		return 0
	}
	return PortionCeil(debt, r.MinimumPaymentPercentage)
}

// Penalty is the late penalty accrued up to now, capped at MaxPenaltyRateCap of the debt.
func (s *Statement) Penalty(r BillingRates, now time.Time) int64 {
	if s.Status != StatementStatusPendingPayment || s.DueDate == nil {
		return 0
	}
	debt := s.Debt()
	if debt == 0 || debt < r.MinimumPaymentThreshold {
		return 0
	}
	if !now.After(*s.DueDate) {
		return 0
	}
	overdueDays := int64(now.Sub(*s.DueDate) / (24 * time.Hour))
	if overdueDays <= 0 {
		return 0
	}
	daily := Portion(debt, r.DailyPenaltyRate.Mul(decimal.NewFromInt(overdueDays)))
	capped := Portion(debt, r.MaxPenaltyRateCap)
	if daily < capped {
		return daily
	}
	return capped
}

// PenaltyEligible reports whether the pending statement misses its minimum payment.
func (s *Statement) PenaltyEligible(r BillingRates, paymentsInWindow int64) bool {
	if s.Status != StatementStatusPendingPayment {
		return false
	}
	debt := s.Debt()
	if debt == 0 || debt < r.MinimumPaymentThreshold {
		return false
	}
	return paymentsInWindow < s.MinimumPayment(r)
}

// DetermineDueOutcome moves a PENDING_PAYMENT statement to its terminal status.
func (s *Statement) DetermineDueOutcome(r BillingRates, paymentsInWindow int64, now time.Time) (StatementStatus, error) {
	if s.Status != StatementStatusPendingPayment {
		return s.Status, fmt.Errorf("%w: due outcome requires %s, statement is %s",
			ErrInvalidState, StatementStatusPendingPayment, s.Status)
	}
	outcome := StatementStatusClosedNoPenalty
	if s.PenaltyEligible(r, paymentsInWindow) {
		outcome = StatementStatusClosedWithPenalty
	}
	s.Status = outcome
	s.ClosedAt = &now
	return outcome, nil
}

// Close moves a CURRENT statement to PENDING_PAYMENT. It reports false when nothing changed.
func (s *Statement) Close(now time.Time, graceDays int) bool {
	if s.Status != StatementStatusCurrent {
		return false
	}
	due := now.AddDate(0, 0, graceDays)
	s.Status = StatementStatusPendingPayment
	s.ClosedAt = &now
	s.DueDate = &due
	return true
}

// InterestOnCarryover is the monthly interest charged on a negative closing balance.
func InterestOnCarryover(previous *Statement, r BillingRates) int64 {
	if previous.ClosingBalance >= 0 {
		return 0
	}
	return Portion(-previous.ClosingBalance, r.MonthlyInterestRate)
}

// StatementDetail is a statement with its lines.
type StatementDetail struct {
	Statement
	Lines []LedgerLine `json:"lines"`
}

// StatementSummary is the read projection served to clients.
type StatementSummary struct {
	ReferenceCode  *string         `json:"reference_code,omitempty"`
	Period         BillingPeriod   `json:"period"`
	Status         StatementStatus `json:"status"`
	OpeningBalance int64           `json:"opening_balance"`
	ClosingBalance int64           `json:"closing_balance"`
	TotalDebit     int64           `json:"total_debit"`
	TotalCredit    int64           `json:"total_credit"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	GraceDays      int             `json:"grace_days"`
	MinimumPayment int64           `json:"minimum_payment"`
	LineCount      int             `json:"line_count"`
}

type RecordPurchaseRequest struct {
	TransactionID uuid.UUID `json:"transaction_id" validate:"required"`
	Description   string    `json:"description"`
}

type RecordPaymentRequest struct {
	Amount        int64      `json:"amount" validate:"required,gt=0"`
	TransactionID *uuid.UUID `json:"transaction_id"`
	Description   string     `json:"description"`
}
