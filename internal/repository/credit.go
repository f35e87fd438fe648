package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

const capacityColumns = `
        id, user_id, approved_limit, used_limit, grace_days, status, expiry_date,
        approved_at, reference_code, created_at, updated_at`

type CapacityRepository struct {
	q      querier
	logger *logrus.Logger
}

func scanCapacity(row rowScanner) (*model.CreditCapacity, error) {
	var c model.CreditCapacity
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ApprovedLimit,
		&c.UsedLimit,
		&c.GraceDays,
		&c.Status,
		&c.ExpiryDate,
		&c.ApprovedAt,
		&c.ReferenceCode,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CapacityRepository) Create(ctx context.Context, c *model.CreditCapacity) error {
	query := `
        INSERT INTO credit_capacities (` + capacityColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT DO NOTHING
    `

	res, err := r.q.ExecContext(
		ctx,
		query,
		c.ID,
		c.UserID,
		c.ApprovedLimit,
		c.UsedLimit,
		c.GraceDays,
		c.Status,
		c.ExpiryDate,
		c.ApprovedAt,
		c.ReferenceCode,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit capacity: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credit capacity for user %s: %w", c.UserID, model.ErrAlreadyExists)
	}
	return nil
}

func (r *CapacityRepository) getOne(ctx context.Context, query string, args ...any) (*model.CreditCapacity, error) {
	c, err := scanCapacity(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to get credit capacity: %w", mapError(err))
	}
	return c, nil
}

func (r *CapacityRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error) {
	return r.getOne(ctx, `SELECT`+capacityColumns+` FROM credit_capacities WHERE id = $1`, id)
}

func (r *CapacityRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error) {
	return r.getOne(ctx, `SELECT`+capacityColumns+` FROM credit_capacities WHERE id = $1 FOR UPDATE`, id)
}

func (r *CapacityRepository) GetActive(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error) {
	return r.getOne(ctx, `SELECT`+capacityColumns+`
        FROM credit_capacities WHERE user_id = $1 AND status = 'active'`, userID)
}

func (r *CapacityRepository) GetActiveForUpdate(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error) {
	return r.getOne(ctx, `SELECT`+capacityColumns+`
        FROM credit_capacities WHERE user_id = $1 AND status = 'active' FOR UPDATE`, userID)
}

func (r *CapacityRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.CreditCapacity, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT`+capacityColumns+`
        FROM credit_capacities WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit capacities: %w", mapError(err))
	}
	defer rows.Close()

	var capacities []model.CreditCapacity
	for rows.Next() {
		c, err := scanCapacity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit capacity: %w", mapError(err))
		}
		capacities = append(capacities, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credit capacities: %w", mapError(err))
	}
	return capacities, nil
}

func (r *CapacityRepository) UpdateUsedLimit(ctx context.Context, id uuid.UUID, used int64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE credit_capacities SET used_limit = $2, updated_at = NOW() WHERE id = $1`, id, used)
	if err != nil {
		return fmt.Errorf("failed to update used limit: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update used limit: %w", model.ErrNotFound)
	}
	return nil
}

func (r *CapacityRepository) UpdateStatus(ctx context.Context, c *model.CreditCapacity) error {
	query := `
        UPDATE credit_capacities
        SET status = $2, approved_at = $3, updated_at = $4
        WHERE id = $1
    `
	res, err := r.q.ExecContext(ctx, query, c.ID, c.Status, c.ApprovedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update credit capacity status: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update credit capacity status: %w", model.ErrNotFound)
	}
	return nil
}

func (r *CapacityRepository) SuspendActive(ctx context.Context, userID, exceptID uuid.UUID) (int, error) {
	query := `
        UPDATE credit_capacities
        SET status = 'suspended', updated_at = NOW()
        WHERE user_id = $1 AND status = 'active' AND id <> $2
    `
	res, err := r.q.ExecContext(ctx, query, userID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to suspend active credit capacities: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to suspend active credit capacities: %w", mapError(err))
	}
	if n > 0 {
		r.logger.WithFields(logrus.Fields{"user_id": userID, "suspended": n}).Debug("suspended previous active capacities")
	}
	return int(n), nil
}
