package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

// TransactionRepository reads wallet transactions. The wallet service owns the table.
type TransactionRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewTransactionRepository(db *sql.DB, logger *logrus.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

func (r *TransactionRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	query := `
        SELECT id, amount, status, payer_id, payee_id, description, created_at
        FROM wallet_transactions
        WHERE id = $1
    `

	var t model.Transaction
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.Amount,
		&t.Status,
		&t.PayerID,
		&t.PayeeID,
		&t.Description,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, mapError(err))
	}

	r.logger.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"status":         t.Status,
		"amount":         t.Amount,
	}).Debug("wallet transaction loaded")
	return &t, nil
}
