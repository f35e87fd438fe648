package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"credit-billing/internal/model"
)

// StatementStore persists statements. Methods suffixed ForUpdate take a row lock held until the
// surrounding transaction ends.
type StatementStore interface {
	// Create inserts s and returns model.ErrAlreadyExists when (user, period), the CURRENT slot or
	// the reference code is taken.
	Create(ctx context.Context, s *model.Statement) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Statement, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Statement, error)
	GetCurrent(ctx context.Context, userID uuid.UUID) (*model.Statement, error)
	GetCurrentForUpdate(ctx context.Context, userID uuid.UUID) (*model.Statement, error)
	GetByPeriod(ctx context.Context, userID uuid.UUID, p model.BillingPeriod) (*model.Statement, error)
	Latest(ctx context.Context, userID uuid.UUID) (*model.Statement, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Statement, error)
	// ListOutstanding returns the user's CURRENT and PENDING_PAYMENT statements.
	ListOutstanding(ctx context.Context, userID uuid.UUID) ([]model.Statement, error)
	ListCurrentBefore(ctx context.Context, p model.BillingPeriod) ([]model.Statement, error)
	ListPendingDue(ctx context.Context, now time.Time) ([]model.Statement, error)
	UpdateTotals(ctx context.Context, s *model.Statement) error
	UpdateLifecycle(ctx context.Context, s *model.Statement) error
}

type LineStore interface {
	Create(ctx context.Context, l *model.LedgerLine) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.LedgerLine, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.LedgerLine, error)
	Update(ctx context.Context, l *model.LedgerLine) error
	Void(ctx context.Context, l *model.LedgerLine) error
	ListByStatement(ctx context.Context, statementID uuid.UUID, includeVoided bool) ([]model.LedgerLine, error)
	Totals(ctx context.Context, statementID uuid.UUID) (model.Totals, error)
	// ExistsActive reports a non-voided line of type t on the statement other than excludeID.
	ExistsActive(ctx context.Context, statementID uuid.UUID, t model.LineType, excludeID *uuid.UUID) (bool, error)
	// SumPayments totals active PAYMENT lines created within [from, to].
	SumPayments(ctx context.Context, statementID uuid.UUID, from, to time.Time) (int64, error)
	PenaltyExistsFor(ctx context.Context, sourceStatementID uuid.UUID) (bool, error)
	ReversalExists(ctx context.Context, lineID uuid.UUID) (bool, error)
	// PurchaseExistsFor reports an active PURCHASE posted for the wallet transaction.
	PurchaseExistsFor(ctx context.Context, transactionID uuid.UUID) (bool, error)
}

type CapacityStore interface {
	// Create returns model.ErrAlreadyExists when the user already has a record in the same status
	// or the reference code is taken.
	Create(ctx context.Context, c *model.CreditCapacity) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error)
	GetActive(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error)
	GetActiveForUpdate(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.CreditCapacity, error)
	UpdateUsedLimit(ctx context.Context, id uuid.UUID, used int64) error
	UpdateStatus(ctx context.Context, c *model.CreditCapacity) error
	// SuspendActive suspends every active record of the user except exceptID and returns how many.
	SuspendActive(ctx context.Context, userID, exceptID uuid.UUID) (int, error)
}

// Tx is one unit of work. Everything read or written through it commits or rolls back together.
type Tx interface {
	Statements() StatementStore
	Lines() LineStore
	Capacities() CapacityStore
}

// Store opens units of work. Reads outside WithinTx use Read, which is not isolated.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Read() Tx
}

// TransactionSource is the read-only view of the wallet.
type TransactionSource interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
}

// UserDirectory resolves statement owners for notifications.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Calendar maps instants to billing periods.
type Calendar interface {
	PeriodAt(t time.Time) (model.BillingPeriod, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
