package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

const statementColumns = `
        id, user_id, year, month, reference_code, status, opening_balance, closing_balance,
        total_debit, total_credit, carried_from_id, closed_at, due_date, created_at, updated_at`

type StatementRepository struct {
	q      querier
	logger *logrus.Logger
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*model.Statement, error) {
	var s model.Statement
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Period.Year,
		&s.Period.Month,
		&s.ReferenceCode,
		&s.Status,
		&s.OpeningBalance,
		&s.ClosingBalance,
		&s.TotalDebit,
		&s.TotalCredit,
		&s.CarriedFromID,
		&s.ClosedAt,
		&s.DueDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StatementRepository) Create(ctx context.Context, s *model.Statement) error {
	query := `
        INSERT INTO statements (` + statementColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT DO NOTHING
    `

	res, err := r.q.ExecContext(
		ctx,
		query,
		s.ID,
		s.UserID,
		s.Period.Year,
		s.Period.Month,
		s.ReferenceCode,
		s.Status,
		s.OpeningBalance,
		s.ClosingBalance,
		s.TotalDebit,
		s.TotalCredit,
		s.CarriedFromID,
		s.ClosedAt,
		s.DueDate,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", mapError(err))
	}
	if n == 0 {
		r.logger.Debugf("statement insert for user %s period %s skipped by conflict", s.UserID, s.Period)
		return fmt.Errorf("statement %s for user %s: %w", s.Period, s.UserID, model.ErrAlreadyExists)
	}
	return nil
}

func (r *StatementRepository) getOne(ctx context.Context, what, query string, args ...any) (*model.Statement, error) {
	s, err := scanStatement(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, mapError(err))
	}
	return s, nil
}

func (r *StatementRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Statement, error) {
	return r.getOne(ctx, "statement", `SELECT`+statementColumns+` FROM statements WHERE id = $1`, id)
}

func (r *StatementRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Statement, error) {
	return r.getOne(ctx, "statement", `SELECT`+statementColumns+` FROM statements WHERE id = $1 FOR UPDATE`, id)
}

func (r *StatementRepository) GetCurrent(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	return r.getOne(ctx, "current statement",
		`SELECT`+statementColumns+` FROM statements WHERE user_id = $1 AND status = 'CURRENT'`, userID)
}

func (r *StatementRepository) GetCurrentForUpdate(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	return r.getOne(ctx, "current statement",
		`SELECT`+statementColumns+` FROM statements WHERE user_id = $1 AND status = 'CURRENT' FOR UPDATE`, userID)
}

func (r *StatementRepository) GetByPeriod(ctx context.Context, userID uuid.UUID, p model.BillingPeriod) (*model.Statement, error) {
	return r.getOne(ctx, "statement",
		`SELECT`+statementColumns+` FROM statements WHERE user_id = $1 AND year = $2 AND month = $3`,
		userID, p.Year, p.Month)
}

func (r *StatementRepository) Latest(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	return r.getOne(ctx, "latest statement",
		`SELECT`+statementColumns+` FROM statements WHERE user_id = $1 ORDER BY year DESC, month DESC LIMIT 1`, userID)
}

func (r *StatementRepository) list(ctx context.Context, query string, args ...any) ([]model.Statement, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", mapError(err))
	}
	defer rows.Close()

	var statements []model.Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", mapError(err))
		}
		statements = append(statements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate statements: %w", mapError(err))
	}
	return statements, nil
}

func (r *StatementRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Statement, error) {
	return r.list(ctx, `SELECT`+statementColumns+`
        FROM statements WHERE user_id = $1 ORDER BY year DESC, month DESC`, userID)
}

func (r *StatementRepository) ListOutstanding(ctx context.Context, userID uuid.UUID) ([]model.Statement, error) {
	return r.list(ctx, `SELECT`+statementColumns+`
        FROM statements
        WHERE user_id = $1 AND status IN ('CURRENT', 'PENDING_PAYMENT')
        ORDER BY year, month`, userID)
}

func (r *StatementRepository) ListCurrentBefore(ctx context.Context, p model.BillingPeriod) ([]model.Statement, error) {
	return r.list(ctx, `SELECT`+statementColumns+`
        FROM statements
        WHERE status = 'CURRENT' AND (year < $1 OR (year = $1 AND month < $2))
        ORDER BY year, month, created_at`, p.Year, p.Month)
}

func (r *StatementRepository) ListPendingDue(ctx context.Context, now time.Time) ([]model.Statement, error) {
	return r.list(ctx, `SELECT`+statementColumns+`
        FROM statements
        WHERE status = 'PENDING_PAYMENT' AND due_date < $1
        ORDER BY due_date`, now)
}

func (r *StatementRepository) UpdateTotals(ctx context.Context, s *model.Statement) error {
	query := `
        UPDATE statements
        SET total_debit = $2, total_credit = $3, closing_balance = $4, updated_at = $5
        WHERE id = $1
    `
	return r.exec(ctx, "statement totals", query,
		s.ID, s.TotalDebit, s.TotalCredit, s.ClosingBalance, s.UpdatedAt)
}

func (r *StatementRepository) UpdateLifecycle(ctx context.Context, s *model.Statement) error {
	query := `
        UPDATE statements
        SET status = $2, closed_at = $3, due_date = $4, updated_at = $5
        WHERE id = $1
    `
	return r.exec(ctx, "statement status", query, s.ID, s.Status, s.ClosedAt, s.DueDate, s.UpdatedAt)
}

func (r *StatementRepository) exec(ctx context.Context, what, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, mapError(err))
	}
	if n == 0 {
		return fmt.Errorf("failed to update %s: %w", what, model.ErrNotFound)
	}
	return nil
}
