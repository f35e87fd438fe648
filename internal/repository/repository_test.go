package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-billing/internal/model"
	"credit-billing/internal/service"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewStore(db, 2*time.Second, logger), mock
}

var statementCols = []string{
	"id", "user_id", "year", "month", "reference_code", "status", "opening_balance", "closing_balance",
	"total_debit", "total_credit", "carried_from_id", "closed_at", "due_date", "created_at", "updated_at",
}

func TestWithinTxCommitsAndSetsLockTimeout(t *testing.T) {
	store, mock := newMockStore(t)
	id, user := uuid.New(), uuid.New()
	now := time.Date(2025, 10, 17, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = '2000ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM statements WHERE user_id = \$1 AND status = 'CURRENT' FOR UPDATE`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows(statementCols).AddRow(
			id.String(), user.String(), 1404, 7, "ST123456", "CURRENT", 0, -8000,
			30000, 12000, nil, nil, nil, now, now,
		))
	mock.ExpectCommit()

	var got *model.Statement
	err := store.WithinTx(context.Background(), func(tx service.Tx) error {
		var err error
		got, err = tx.Statements().GetCurrentForUpdate(context.Background(), user)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, model.BillingPeriod{Year: 1404, Month: 7}, got.Period)
	require.NotNil(t, got.ReferenceCode)
	assert.Equal(t, "ST123456", *got.ReferenceCode)
	assert.Nil(t, got.CarriedFromID)
	assert.Equal(t, int64(-8000), got.ClosingBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx service.Tx) error {
		return model.ErrInvalidState
	})
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementCreateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	s := &model.Statement{
		ID: uuid.New(), UserID: uuid.New(), Period: model.BillingPeriod{Year: 1404, Month: 7},
		Status: model.StatementStatusCurrent, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`(?s)INSERT INTO statements .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Read().Statements().Create(context.Background(), s)
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementGetByIDNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM statements WHERE id = \$1`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(statementCols))

	_, err := store.Read().Statements().GetByID(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListCurrentBefore(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`WHERE status = 'CURRENT' AND \(year < \$1 OR \(year = \$1 AND month < \$2\)\)`).
		WithArgs(1404, 7).
		WillReturnRows(sqlmock.NewRows(statementCols).
			AddRow(uuid.NewString(), uuid.NewString(), 1404, 5, nil, "CURRENT", 0, 0, 0, 0, nil, nil, nil, now, now).
			AddRow(uuid.NewString(), uuid.NewString(), 1404, 6, nil, "CURRENT", 0, -1, 1, 0, nil, nil, nil, now, now))

	list, err := store.Read().Statements().ListCurrentBefore(context.Background(), model.BillingPeriod{Year: 1404, Month: 7})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Nil(t, list[0].ReferenceCode)
	assert.Equal(t, 6, list[1].Period.Month)
}

func TestLineTotalsAndPayments(t *testing.T) {
	store, mock := newMockStore(t)
	statementID := uuid.New()
	from := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 5)

	mock.ExpectQuery(`SUM\(-amount\) FILTER \(WHERE amount < 0\)`).WithArgs(statementID).
		WillReturnRows(sqlmock.NewRows([]string{"debit", "credit"}).AddRow(30000, 12000))
	mock.ExpectQuery(`type = 'PAYMENT' AND NOT is_voided\s+AND created_at >= \$2 AND created_at <= \$3`).
		WithArgs(statementID, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(100000))

	lines := store.Read().Lines()
	totals, err := lines.Totals(context.Background(), statementID)
	require.NoError(t, err)
	assert.Equal(t, model.Totals{Debit: 30000, Credit: 12000}, totals)

	sum, err := lines.SumPayments(context.Background(), statementID, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineCreateInterestViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO ledger_lines`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "ledger_lines_one_active_interest"})

	err := store.Read().Lines().Create(context.Background(), &model.LedgerLine{
		ID: uuid.New(), StatementID: uuid.New(), Type: model.LineTypeInterest, Amount: -4000,
		CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, model.ErrUniquenessViolation)
	assert.Equal(t, model.KindBusinessRule, model.KindOf(err))
}

func TestCapacitySuspendActive(t *testing.T) {
	store, mock := newMockStore(t)
	user, keep := uuid.New(), uuid.New()

	mock.ExpectExec(`(?s)SET status = 'suspended'.*WHERE user_id = \$1 AND status = 'active' AND id <> \$2`).
		WithArgs(user, keep).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := store.Read().Capacities().SuspendActive(context.Background(), user, keep)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), model.ErrNotFound},
		{"duplicate period", &pq.Error{Code: "23505", Constraint: "statements_user_period"}, model.ErrAlreadyExists},
		{"penalty index", &pq.Error{Code: "23505", Constraint: "ledger_lines_one_active_penalty"}, model.ErrUniquenessViolation},
		{"purchase index", &pq.Error{Code: "23505", Constraint: "ledger_lines_one_active_purchase"}, model.ErrUniquenessViolation},
		{"sign check", &pq.Error{Code: "23514", Message: "ledger_lines_amount_sign"}, model.ErrInvalidAmount},
		{"delete trigger", &pq.Error{Code: "23001"}, model.ErrDeletionNotAllowed},
		{"lock timeout", &pq.Error{Code: "55P03"}, model.ErrTransient},
		{"serialization", &pq.Error{Code: "40001"}, model.ErrTransient},
		{"connection", &pq.Error{Code: "08006"}, model.ErrTransient},
		{"bad conn", driver.ErrBadConn, model.ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tc.err), tc.want)
		})
	}

	plain := errors.New("syntax")
	assert.Equal(t, plain, mapError(plain))
	assert.Nil(t, mapError(nil))
}
