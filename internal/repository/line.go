package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

const lineColumns = `
        id, statement_id, type, amount, transaction_id, source_statement_id, description,
        is_voided, voided_at, void_reason, reverses, created_at, updated_at`

type LineRepository struct {
	q      querier
	logger *logrus.Logger
}

func scanLine(row rowScanner) (*model.LedgerLine, error) {
	var l model.LedgerLine
	err := row.Scan(
		&l.ID,
		&l.StatementID,
		&l.Type,
		&l.Amount,
		&l.TransactionID,
		&l.SourceStatementID,
		&l.Description,
		&l.IsVoided,
		&l.VoidedAt,
		&l.VoidReason,
		&l.Reverses,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LineRepository) Create(ctx context.Context, l *model.LedgerLine) error {
	query := `
        INSERT INTO ledger_lines (` + lineColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `

	_, err := r.q.ExecContext(
		ctx,
		query,
		l.ID,
		l.StatementID,
		l.Type,
		l.Amount,
		l.TransactionID,
		l.SourceStatementID,
		l.Description,
		l.IsVoided,
		l.VoidedAt,
		l.VoidReason,
		l.Reverses,
		l.CreatedAt,
		l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger line: %w", mapError(err))
	}

	r.logger.Debugf("ledger line %s %s %d posted on statement %s", l.ID, l.Type, l.Amount, l.StatementID)
	return nil
}

func (r *LineRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.LedgerLine, error) {
	l, err := scanLine(r.q.QueryRowContext(ctx, `SELECT`+lineColumns+` FROM ledger_lines WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger line: %w", mapError(err))
	}
	return l, nil
}

func (r *LineRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.LedgerLine, error) {
	l, err := scanLine(r.q.QueryRowContext(ctx, `SELECT`+lineColumns+` FROM ledger_lines WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger line: %w", mapError(err))
	}
	return l, nil
}

func (r *LineRepository) Update(ctx context.Context, l *model.LedgerLine) error {
	query := `
        UPDATE ledger_lines
        SET statement_id = $2, type = $3, amount = $4, description = $5, updated_at = $6
        WHERE id = $1
    `
	res, err := r.q.ExecContext(ctx, query, l.ID, l.StatementID, l.Type, l.Amount, l.Description, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update ledger line: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update ledger line: %w", model.ErrNotFound)
	}
	return nil
}

func (r *LineRepository) Void(ctx context.Context, l *model.LedgerLine) error {
	query := `
        UPDATE ledger_lines
        SET is_voided = TRUE, voided_at = $2, void_reason = $3, updated_at = $4
        WHERE id = $1 AND NOT is_voided
    `
	res, err := r.q.ExecContext(ctx, query, l.ID, l.VoidedAt, l.VoidReason, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to void ledger line: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to void ledger line: %w", model.ErrNotFound)
	}
	return nil
}

func (r *LineRepository) ListByStatement(ctx context.Context, statementID uuid.UUID, includeVoided bool) ([]model.LedgerLine, error) {
	query := `SELECT` + lineColumns + `
        FROM ledger_lines
        WHERE statement_id = $1 AND ($2 OR NOT is_voided)
        ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, statementID, includeVoided)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger lines: %w", mapError(err))
	}
	defer rows.Close()

	var lines []model.LedgerLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger line: %w", mapError(err))
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger lines: %w", mapError(err))
	}
	return lines, nil
}

func (r *LineRepository) Totals(ctx context.Context, statementID uuid.UUID) (model.Totals, error) {
	query := `
        SELECT COALESCE(SUM(-amount) FILTER (WHERE amount < 0), 0),
               COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0)
        FROM ledger_lines
        WHERE statement_id = $1 AND NOT is_voided
    `
	var t model.Totals
	if err := r.q.QueryRowContext(ctx, query, statementID).Scan(&t.Debit, &t.Credit); err != nil {
		return model.Totals{}, fmt.Errorf("failed to aggregate ledger lines: %w", mapError(err))
	}
	return t, nil
}

func (r *LineRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check ledger lines: %w", mapError(err))
	}
	return ok, nil
}

func (r *LineRepository) ExistsActive(ctx context.Context, statementID uuid.UUID, t model.LineType, excludeID *uuid.UUID) (bool, error) {
	return r.exists(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ledger_lines
            WHERE statement_id = $1 AND type = $2 AND NOT is_voided
              AND ($3::uuid IS NULL OR id <> $3::uuid)
        )`, statementID, t, excludeID)
}

func (r *LineRepository) SumPayments(ctx context.Context, statementID uuid.UUID, from, to time.Time) (int64, error) {
	query := `
        SELECT COALESCE(SUM(amount), 0)
        FROM ledger_lines
        WHERE statement_id = $1 AND type = 'PAYMENT' AND NOT is_voided
          AND created_at >= $2 AND created_at <= $3
    `
	var sum int64
	if err := r.q.QueryRowContext(ctx, query, statementID, from, to).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum payments: %w", mapError(err))
	}
	return sum, nil
}

func (r *LineRepository) PenaltyExistsFor(ctx context.Context, sourceStatementID uuid.UUID) (bool, error) {
	return r.exists(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ledger_lines
            WHERE source_statement_id = $1 AND type = 'PENALTY' AND NOT is_voided
        )`, sourceStatementID)
}

func (r *LineRepository) ReversalExists(ctx context.Context, lineID uuid.UUID) (bool, error) {
	return r.exists(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ledger_lines WHERE reverses = $1 AND NOT is_voided
        )`, lineID)
}

func (r *LineRepository) PurchaseExistsFor(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	return r.exists(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ledger_lines
            WHERE transaction_id = $1 AND type = 'PURCHASE' AND NOT is_voided
        )`, transactionID)
}
