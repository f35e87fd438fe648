package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

const (
	statementRefPrefix = "ST"
	capacityRefPrefix  = "CR"
	maxRefAttempts     = 5
)

// CodeGenerator returns a reference code with the given prefix.
type CodeGenerator func(prefix string) string

func RandomCode(prefix string) string {
	return fmt.Sprintf("%s%06d", prefix, 100000+rand.IntN(900000))
}

type StatementService struct {
	store    Store
	wallet   TransactionSource
	calendar Calendar
	rates    model.BillingRates
	clock    Clock
	codes    CodeGenerator
	notifier Notifier
	logger   *logrus.Logger
}

type StatementOption func(*StatementService)

func WithClock(c Clock) StatementOption {
	return func(s *StatementService) { s.clock = c }
}

func WithCodeGenerator(g CodeGenerator) StatementOption {
	return func(s *StatementService) { s.codes = g }
}

func WithNotifier(n Notifier) StatementOption {
	return func(s *StatementService) { s.notifier = n }
}

func NewStatementService(
	store Store,
	wallet TransactionSource,
	calendar Calendar,
	rates model.BillingRates,
	logger *logrus.Logger,
	opts ...StatementOption,
) *StatementService {
	s := &StatementService{
		store:    store,
		wallet:   wallet,
		calendar: calendar,
		rates:    rates,
		clock:    SystemClock{},
		codes:    RandomCode,
		notifier: NopNotifier{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StatementService) Rates() model.BillingRates {
	return s.rates
}

// GetOrCreateCurrent returns the user's CURRENT statement, opening one for the present billing
// period when none exists.
func (s *StatementService) GetOrCreateCurrent(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	var current *model.Statement
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		current, _, err = s.getOrCreateCurrent(ctx, tx, userID, 0, nil)
		return err
	})
	if err != nil {
		s.logger.WithError(err).Errorf("failed to get current statement for user %s", userID)
		return nil, err
	}
	return current, nil
}

// getOrCreateCurrent locks and returns the CURRENT statement or inserts a new one. The new
// statement opens in the present billing period, or the one after the user's latest statement
// when that slot is already taken.
func (s *StatementService) getOrCreateCurrent(
	ctx context.Context, tx Tx, userID uuid.UUID, opening int64, carriedFrom *uuid.UUID,
) (*model.Statement, bool, error) {
	current, err := tx.Statements().GetCurrentForUpdate(ctx, userID)
	if err == nil {
		return current, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}

	now := s.clock.Now()
	period, err := s.calendar.PeriodAt(now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve billing period: %w", err)
	}
	latest, err := tx.Statements().Latest(ctx, userID)
	switch {
	case err == nil:
		if !latest.Period.Before(period) {
			period = latest.Period.Next()
		}
	case !errors.Is(err, model.ErrNotFound):
		return nil, false, err
	}

	st := &model.Statement{
		ID:             uuid.New(),
		UserID:         userID,
		Period:         period,
		Status:         model.StatementStatusCurrent,
		OpeningBalance: opening,
		ClosingBalance: opening,
		CarriedFromID:  carriedFrom,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 1; attempt <= maxRefAttempts+1; attempt++ {
		st.ReferenceCode = nil
		if attempt <= maxRefAttempts {
			code := s.codes(statementRefPrefix)
			st.ReferenceCode = &code
		}

		err := tx.Statements().Create(ctx, st)
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"statement_id": st.ID,
				"user_id":      userID,
				"period":       st.Period.String(),
				"opening":      opening,
			}).Info("opened current statement")
			return st, true, nil
		}
		if !errors.Is(err, model.ErrAlreadyExists) {
			return nil, false, err
		}

		// A concurrent writer may have opened the CURRENT statement first.
		if current, err := tx.Statements().GetCurrentForUpdate(ctx, userID); err == nil {
			return current, false, nil
		} else if !errors.Is(err, model.ErrNotFound) {
			return nil, false, err
		}
		if _, err := tx.Statements().GetByPeriod(ctx, userID, st.Period); err == nil {
			st.Period = st.Period.Next()
		} else if !errors.Is(err, model.ErrNotFound) {
			return nil, false, err
		}
		s.logger.Debugf("statement insert conflict for user %s on attempt %d, retrying", userID, attempt)
	}
	return nil, false, fmt.Errorf("failed to open statement for user %s: %w", userID, model.ErrAlreadyExists)
}

// recompute aggregates the active lines of st into its totals and closing balance. st must be
// locked by the caller.
func (s *StatementService) recompute(ctx context.Context, tx Tx, st *model.Statement) error {
	totals, err := tx.Lines().Totals(ctx, st.ID)
	if err != nil {
		return err
	}
	st.ApplyTotals(totals)
	st.UpdatedAt = s.clock.Now()
	if err := tx.Statements().UpdateTotals(ctx, st); err != nil {
		return err
	}
	if st.Status == model.StatementStatusCurrent || st.Status == model.StatementStatusPendingPayment {
		return syncUsedLimit(ctx, tx, st.UserID)
	}
	return nil
}

// postLine validates nl against the locked statement st, inserts it and recomputes st.
func (s *StatementService) postLine(
	ctx context.Context, tx Tx, st *model.Statement, nl model.NewLine, txn *model.Transaction,
) (*model.LedgerLine, error) {
	if !nl.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown line type %q", model.ErrInvalidInput, nl.Type)
	}
	if err := checkPostable(st, nl.Type); err != nil {
		return nil, err
	}
	amount, err := model.NormalizeAmount(nl.Type, nl.Amount)
	if err != nil {
		return nil, err
	}

	switch nl.Type {
	case model.LineTypeInterest:
		exists, err := tx.Lines().ExistsActive(ctx, st.ID, model.LineTypeInterest, nil)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: interest on statement %s", model.ErrUniquenessViolation, st.ID)
		}
	case model.LineTypePenalty:
		if nl.SourceStatementID != nil {
			exists, err := tx.Lines().PenaltyExistsFor(ctx, *nl.SourceStatementID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, fmt.Errorf("%w: penalty for statement %s", model.ErrUniquenessViolation, *nl.SourceStatementID)
			}
		}
	case model.LineTypePurchase:
		if nl.TransactionID != nil {
			exists, err := tx.Lines().PurchaseExistsFor(ctx, *nl.TransactionID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, fmt.Errorf("%w: transaction %s is already posted as a purchase", model.ErrUniquenessViolation, *nl.TransactionID)
			}
		}
	}

	if nl.TransactionID != nil {
		if txn == nil || txn.ID != *nl.TransactionID {
			return nil, fmt.Errorf("%w: transaction %s was not loaded", model.ErrInvalidInput, *nl.TransactionID)
		}
		if !txn.Involves(st.UserID) {
			return nil, fmt.Errorf("%w: transaction %s", model.ErrUnauthorizedTransaction, txn.ID)
		}
	}

	now := s.clock.Now()
	line := &model.LedgerLine{
		ID:                uuid.New(),
		StatementID:       st.ID,
		Type:              nl.Type,
		Amount:            amount,
		TransactionID:     nl.TransactionID,
		SourceStatementID: nl.SourceStatementID,
		Description:       nl.Description,
		Reverses:          nl.Reverses,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.Lines().Create(ctx, line); err != nil {
		return nil, err
	}
	if err := s.recompute(ctx, tx, st); err != nil {
		return nil, err
	}
	return line, nil
}

// checkPostable enforces which statement states accept a line type.
func checkPostable(st *model.Statement, t model.LineType) error {
	if t.RequiresCurrent() && st.Status != model.StatementStatusCurrent {
		return fmt.Errorf("%w: %s lines require a %s statement, statement %s is %s",
			model.ErrInvalidState, t, model.StatementStatusCurrent, st.ID, st.Status)
	}
	if st.Status.Terminal() {
		return fmt.Errorf("%w: statement %s is %s", model.ErrInvalidState, st.ID, st.Status)
	}
	return nil
}

// loadTransaction fetches a wallet transaction before a unit of work starts.
func (s *StatementService) loadTransaction(ctx context.Context, id *uuid.UUID) (*model.Transaction, error) {
	if id == nil {
		return nil, nil
	}
	txn, err := s.wallet.GetTransaction(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", *id, err)
	}
	return txn, nil
}

// AddLine posts a line on the given statement.
func (s *StatementService) AddLine(ctx context.Context, statementID uuid.UUID, nl model.NewLine) (*model.LedgerLine, error) {
	s.logger.WithFields(logrus.Fields{
		"statement_id": statementID,
		"type":         nl.Type,
		"amount":       nl.Amount,
	}).Info("adding ledger line")

	txn, err := s.loadTransaction(ctx, nl.TransactionID)
	if err != nil {
		return nil, err
	}

	var line *model.LedgerLine
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		st, err := tx.Statements().GetByIDForUpdate(ctx, statementID)
		if err != nil {
			return err
		}
		line, err = s.postLine(ctx, tx, st, nl, txn)
		return err
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to add %s line to statement %s", nl.Type, statementID)
		return nil, err
	}
	return line, nil
}

// AddPurchase posts a PURCHASE for a successful wallet transaction paid by userID, provided the
// user's active credit capacity covers it.
func (s *StatementService) AddPurchase(ctx context.Context, userID uuid.UUID, txn *model.Transaction, description string) (*model.Statement, *model.LedgerLine, error) {
	if txn.Status != model.TransactionStatusSuccess {
		return nil, nil, fmt.Errorf("%w: transaction %s is %s", model.ErrTransactionNotSuccessful, txn.ID, txn.Status)
	}
	if !txn.PaidBy(userID) {
		return nil, nil, fmt.Errorf("%w: transaction %s is not paid by user %s", model.ErrUnauthorizedTransaction, txn.ID, userID)
	}
	if txn.Amount <= 0 {
		return nil, nil, fmt.Errorf("%w: purchase amount must be positive", model.ErrInvalidAmount)
	}

	var (
		current *model.Statement
		line    *model.LedgerLine
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		current, _, err = s.getOrCreateCurrent(ctx, tx, userID, 0, nil)
		if err != nil {
			return err
		}

		capacity, err := activeCapacity(ctx, tx, userID, s.clock.Now(), true)
		if err != nil {
			return err
		}
		used, err := outstandingDebt(ctx, tx, userID)
		if err != nil {
			return err
		}
		available := model.ClampLimit(capacity.ApprovedLimit-used, capacity.ApprovedLimit)
		if txn.Amount > available {
			return fmt.Errorf("%w: purchase %d exceeds available %d", model.ErrInsufficientCredit, txn.Amount, available)
		}

		line, err = s.postLine(ctx, tx, current, model.NewLine{
			Type:          model.LineTypePurchase,
			Amount:        txn.Amount,
			TransactionID: &txn.ID,
			Description:   description,
		}, txn)
		return err
	})
	if err != nil {
		s.logger.WithError(err).Warnf("purchase %s for user %s rejected", txn.ID, userID)
		return nil, nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": txn.ID,
		"amount":         txn.Amount,
		"statement_id":   current.ID,
	}).Info("purchase recorded")
	return current, line, nil
}

// AddPayment posts a PAYMENT on a CURRENT statement.
func (s *StatementService) AddPayment(ctx context.Context, statementID uuid.UUID, amount int64, transactionID *uuid.UUID, description string) (*model.LedgerLine, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: payment amount cannot be zero", model.ErrInvalidAmount)
	}
	return s.AddLine(ctx, statementID, model.NewLine{
		Type:          model.LineTypePayment,
		Amount:        amount,
		TransactionID: transactionID,
		Description:   description,
	})
}

// UpdateBalances recomputes a statement from its active lines.
func (s *StatementService) UpdateBalances(ctx context.Context, statementID uuid.UUID) (*model.Statement, error) {
	var st *model.Statement
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		st, err = tx.Statements().GetByIDForUpdate(ctx, statementID)
		if err != nil {
			return err
		}
		return s.recompute(ctx, tx, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Close moves a CURRENT statement to PENDING_PAYMENT. Closing any other statement is a no-op.
func (s *StatementService) Close(ctx context.Context, statementID uuid.UUID) (*model.Statement, error) {
	var (
		st     *model.Statement
		closed bool
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		st, err = tx.Statements().GetByIDForUpdate(ctx, statementID)
		if err != nil {
			return err
		}
		closed, err = s.close(ctx, tx, st)
		return err
	})
	if err != nil {
		s.logger.WithError(err).Errorf("failed to close statement %s", statementID)
		return nil, err
	}
	if closed {
		s.notifier.StatementIssued(ctx, *st, st.MinimumPayment(s.rates))
	}
	return st, nil
}

func (s *StatementService) close(ctx context.Context, tx Tx, st *model.Statement) (bool, error) {
	if st.Status != model.StatementStatusCurrent {
		return false, nil
	}
	if err := s.recompute(ctx, tx, st); err != nil {
		return false, err
	}

	graceDays, err := s.graceDays(ctx, tx, st.UserID)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	st.Close(now, graceDays)
	st.UpdatedAt = now
	if err := tx.Statements().UpdateLifecycle(ctx, st); err != nil {
		return false, err
	}
	if err := syncUsedLimit(ctx, tx, st.UserID); err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"statement_id": st.ID,
		"user_id":      st.UserID,
		"period":       st.Period.String(),
		"closing":      st.ClosingBalance,
		"due_date":     st.DueDate,
	}).Info("statement closed")
	return true, nil
}

// graceDays resolves the user's override from the active capacity or falls back to the default.
func (s *StatementService) graceDays(ctx context.Context, tx Tx, userID uuid.UUID) (int, error) {
	capacity, err := tx.Capacities().GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return s.rates.DefaultGraceDays, nil
		}
		return 0, err
	}
	return capacity.EffectiveGraceDays(s.rates.DefaultGraceDays), nil
}

func (s *StatementService) MinimumPayment(st *model.Statement) int64 {
	return st.MinimumPayment(s.rates)
}

func (s *StatementService) Penalty(st *model.Statement) int64 {
	return st.Penalty(s.rates, s.clock.Now())
}

// DetermineDueOutcome settles a PENDING_PAYMENT statement given the payments made in its window.
func (s *StatementService) DetermineDueOutcome(ctx context.Context, statementID uuid.UUID, paymentsInWindow int64) (model.StatementStatus, error) {
	var outcome model.StatementStatus
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		st, err := tx.Statements().GetByIDForUpdate(ctx, statementID)
		if err != nil {
			return err
		}
		outcome, err = s.determineDueOutcome(ctx, tx, st, paymentsInWindow)
		return err
	})
	return outcome, err
}

func (s *StatementService) determineDueOutcome(ctx context.Context, tx Tx, st *model.Statement, paymentsInWindow int64) (model.StatementStatus, error) {
	now := s.clock.Now()
	outcome, err := st.DetermineDueOutcome(s.rates, paymentsInWindow, now)
	if err != nil {
		return outcome, err
	}
	st.UpdatedAt = now
	if err := tx.Statements().UpdateLifecycle(ctx, st); err != nil {
		return outcome, err
	}
	if err := syncUsedLimit(ctx, tx, st.UserID); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// addInterestOnCarryover charges monthly interest on previous's negative closing balance to the
// locked CURRENT statement. It returns nil when there is nothing to charge.
func (s *StatementService) addInterestOnCarryover(ctx context.Context, tx Tx, current, previous *model.Statement) (*model.LedgerLine, error) {
	if current.Status != model.StatementStatusCurrent {
		return nil, fmt.Errorf("%w: interest requires a %s statement", model.ErrInvalidState, model.StatementStatusCurrent)
	}
	amount := model.InterestOnCarryover(previous, s.rates)
	if amount == 0 {
		return nil, nil
	}
	return s.postLine(ctx, tx, current, model.NewLine{
		Type:              model.LineTypeInterest,
		Amount:            amount,
		SourceStatementID: &previous.ID,
		Description:       fmt.Sprintf("Monthly interest on %s", previous.Period),
	}, nil)
}

// AddMonthlyInterestOnCarryover charges interest for previousID on the CURRENT statement currentID.
func (s *StatementService) AddMonthlyInterestOnCarryover(ctx context.Context, currentID, previousID uuid.UUID) (*model.LedgerLine, error) {
	var line *model.LedgerLine
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.Statements().GetByIDForUpdate(ctx, currentID)
		if err != nil {
			return err
		}
		previous, err := tx.Statements().GetByID(ctx, previousID)
		if err != nil {
			return err
		}
		line, err = s.addInterestOnCarryover(ctx, tx, current, previous)
		return err
	})
	return line, err
}
