package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

// BillingService is the use-case layer exposed to the API: it validates caller input, reads the
// wallet and composes statement operations.
type BillingService struct {
	statements *StatementService
	logger     *logrus.Logger
}

func NewBillingService(statements *StatementService, logger *logrus.Logger) *BillingService {
	return &BillingService{statements: statements, logger: logger}
}

// RecordPurchase appends a PURCHASE for a successful wallet transaction paid by userID.
func (b *BillingService) RecordPurchase(ctx context.Context, userID uuid.UUID, req model.RecordPurchaseRequest) (*model.Statement, *model.LedgerLine, error) {
	b.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": req.TransactionID,
	}).Info("recording purchase")

	if req.TransactionID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: transaction_id is required", model.ErrInvalidInput)
	}
	txn, err := b.statements.loadTransaction(ctx, &req.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	description := req.Description
	if description == "" {
		description = "Purchase"
	}
	return b.statements.AddPurchase(ctx, userID, txn, description)
}

// RecordPayment posts a PAYMENT on the user's CURRENT statement, opening one if needed.
func (b *BillingService) RecordPayment(ctx context.Context, userID uuid.UUID, req model.RecordPaymentRequest) (*model.Statement, *model.LedgerLine, error) {
	b.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  req.Amount,
	}).Info("recording payment")

	if req.Amount <= 0 {
		return nil, nil, fmt.Errorf("%w: payment amount must be positive", model.ErrInvalidAmount)
	}
	s := b.statements
	txn, err := s.loadTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	if txn != nil && txn.Status != model.TransactionStatusSuccess {
		return nil, nil, fmt.Errorf("%w: transaction %s is %s", model.ErrTransactionNotSuccessful, txn.ID, txn.Status)
	}
	description := req.Description
	if description == "" {
		description = "Payment"
	}

	var (
		current *model.Statement
		line    *model.LedgerLine
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		current, _, err = s.getOrCreateCurrent(ctx, tx, userID, 0, nil)
		if err != nil {
			return err
		}
		line, err = s.postLine(ctx, tx, current, model.NewLine{
			Type:          model.LineTypePayment,
			Amount:        req.Amount,
			TransactionID: req.TransactionID,
			Description:   description,
		}, txn)
		return err
	})
	if err != nil {
		b.logger.WithError(err).Warnf("payment for user %s rejected", userID)
		return nil, nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"statement_id": current.ID,
		"line_id":      line.ID,
		"closing":      current.ClosingBalance,
	}).Info("payment recorded")
	return current, line, nil
}

// CloseCurrentStatement closes the user's CURRENT statement and opens its successor with the
// closing balance carried over. No interest is charged on an early close.
func (b *BillingService) CloseCurrentStatement(ctx context.Context, userID uuid.UUID) (*model.Statement, *model.Statement, error) {
	b.logger.WithField("user_id", userID).Info("closing current statement")

	s := b.statements
	var closed, next *model.Statement
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		closed, err = tx.Statements().GetCurrentForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.close(ctx, tx, closed); err != nil {
			return err
		}
		next, _, err = s.getOrCreateCurrent(ctx, tx, userID, closed.ClosingBalance, &closed.ID)
		return err
	})
	if err != nil {
		b.logger.WithError(err).Warnf("failed to close current statement for user %s", userID)
		return nil, nil, err
	}
	s.notifier.StatementIssued(ctx, *closed, closed.MinimumPayment(s.rates))
	return closed, next, nil
}

func (b *BillingService) ListStatements(ctx context.Context, userID uuid.UUID) ([]model.Statement, error) {
	return b.statements.store.Read().Statements().ListByUser(ctx, userID)
}

// ownedStatement returns the statement when it belongs to userID and not found otherwise.
func (b *BillingService) ownedStatement(ctx context.Context, tx Tx, userID, id uuid.UUID) (*model.Statement, error) {
	st, err := tx.Statements().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, fmt.Errorf("statement %s: %w", id, model.ErrNotFound)
	}
	return st, nil
}

// GetStatement returns the statement with all of its lines, voided ones included.
func (b *BillingService) GetStatement(ctx context.Context, userID, id uuid.UUID) (*model.StatementDetail, error) {
	tx := b.statements.store.Read()
	st, err := b.ownedStatement(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	lines, err := tx.Lines().ListByStatement(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []model.LedgerLine{}
	}
	return &model.StatementDetail{Statement: *st, Lines: lines}, nil
}

func (b *BillingService) StatementSummary(ctx context.Context, userID, id uuid.UUID) (*model.StatementSummary, error) {
	s := b.statements
	tx := s.store.Read()
	st, err := b.ownedStatement(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	lines, err := tx.Lines().ListByStatement(ctx, id, false)
	if err != nil {
		return nil, err
	}
	graceDays, err := s.graceDays(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	return &model.StatementSummary{
		ReferenceCode:  st.ReferenceCode,
		Period:         st.Period,
		Status:         st.Status,
		OpeningBalance: st.OpeningBalance,
		ClosingBalance: st.ClosingBalance,
		TotalDebit:     st.TotalDebit,
		TotalCredit:    st.TotalCredit,
		DueDate:        st.DueDate,
		GraceDays:      graceDays,
		MinimumPayment: st.MinimumPayment(s.rates),
		LineCount:      len(lines),
	}, nil
}
