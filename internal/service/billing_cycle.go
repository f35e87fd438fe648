package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

// BillingCycle runs the periodic statement transitions. Each statement is handled in its own
// unit of work; a failed item is logged and the batch continues. Transient item errors are
// joined into the returned error so the caller can retry the whole pass.
type BillingCycle struct {
	statements *StatementService
	logger     *logrus.Logger
}

func NewBillingCycle(statements *StatementService, logger *logrus.Logger) *BillingCycle {
	return &BillingCycle{statements: statements, logger: logger}
}

type itemOutcome int

const (
	itemSkipped itemOutcome = iota
	itemDone
)

func (b *BillingCycle) itemFailed(job string, st model.Statement, err error, retry *[]error) {
	b.logger.WithError(err).WithFields(logrus.Fields{
		"job":          job,
		"statement_id": st.ID,
		"user_id":      st.UserID,
		"period":       st.Period.String(),
		"kind":         model.KindOf(err).String(),
	}).Error("billing cycle item failed")
	if model.IsRetryable(err) {
		*retry = append(*retry, fmt.Errorf("statement %s: %w", st.ID, err))
	}
}

// MonthEndRollover closes every CURRENT statement of a past billing period, opens the successor
// with the closing balance carried over and charges interest on a negative carry-over.
func (b *BillingCycle) MonthEndRollover(ctx context.Context) (model.RolloverResult, error) {
	s := b.statements
	var res model.RolloverResult

	period, err := s.calendar.PeriodAt(s.clock.Now())
	if err != nil {
		return res, fmt.Errorf("failed to resolve billing period: %w", err)
	}
	candidates, err := s.store.Read().Statements().ListCurrentBefore(ctx, period)
	if err != nil {
		return res, fmt.Errorf("failed to list statements to roll over: %w", err)
	}

	var retry []error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return res, model.Transient(err)
		}

		var (
			closed   model.Statement
			interest bool
			opened   bool
			outcome  = itemSkipped
		)
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			st, err := tx.Statements().GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if st.Status != model.StatementStatusCurrent || !st.Period.Before(period) {
				return nil
			}
			if _, err := s.close(ctx, tx, st); err != nil {
				return err
			}

			next, created, err := s.getOrCreateCurrent(ctx, tx, st.UserID, st.ClosingBalance, &st.ID)
			if err != nil {
				return err
			}
			opened = created

			if st.ClosingBalance < 0 {
				line, err := s.addInterestOnCarryover(ctx, tx, next, st)
				if err != nil && !errors.Is(err, model.ErrUniquenessViolation) {
					return err
				}
				interest = line != nil
			}
			closed = *st
			outcome = itemDone
			return nil
		})
		if err != nil {
			res.Failed++
			b.itemFailed("month_end_rollover", candidate, err, &retry)
			continue
		}
		if outcome == itemSkipped {
			res.Skipped++
			continue
		}

		res.Closed++
		if opened {
			res.Opened++
		}
		if interest {
			res.InterestLines++
		}
		s.notifier.StatementIssued(ctx, closed, closed.MinimumPayment(s.rates))
	}

	b.logger.WithFields(logrus.Fields{
		"period":         period.String(),
		"closed":         res.Closed,
		"opened":         res.Opened,
		"interest_lines": res.InterestLines,
		"skipped":        res.Skipped,
		"failed":         res.Failed,
	}).Info("month-end rollover finished")
	return res, errors.Join(retry...)
}

// penaltyFor is the penalty posted when pending is settled at now. A statement past its due date
// is at least one day overdue.
func (s *StatementService) penaltyFor(pending *model.Statement, now time.Time) int64 {
	at := now
	if pending.DueDate != nil && now.Sub(*pending.DueDate) < 24*time.Hour {
		at = pending.DueDate.Add(24 * time.Hour)
	}
	return pending.Penalty(s.rates, at)
}

// paymentsInWindow sums payments posted on current within [closedAt, dueDate] of pending.
func paymentsInWindow(ctx context.Context, tx Tx, current, pending *model.Statement) (int64, error) {
	if pending.ClosedAt == nil || pending.DueDate == nil || pending.DueDate.Before(*pending.ClosedAt) {
		return 0, nil
	}
	return tx.Lines().SumPayments(ctx, current.ID, *pending.ClosedAt, *pending.DueDate)
}

type penaltyNotice struct {
	userID uuid.UUID
	source model.Statement
	amount int64
}

// postPenalty charges the late penalty of pending to the user's CURRENT statement unless one was
// already charged. It returns the posted amount or zero.
func (s *StatementService) postPenalty(ctx context.Context, tx Tx, current, pending *model.Statement, now time.Time) (int64, error) {
	exists, err := tx.Lines().PenaltyExistsFor(ctx, pending.ID)
	if err != nil || exists {
		return 0, err
	}
	amount := s.penaltyFor(pending, now)
	if amount == 0 {
		return 0, nil
	}
	_, err = s.postLine(ctx, tx, current, model.NewLine{
		Type:              model.LineTypePenalty,
		Amount:            amount,
		SourceStatementID: &pending.ID,
		Description:       fmt.Sprintf("Late penalty for %s", pending.Period),
	}, nil)
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// FinalizeDueWindows settles every PENDING_PAYMENT statement whose due date passed before now.
// A zero now uses the service clock.
func (b *BillingCycle) FinalizeDueWindows(ctx context.Context, now time.Time) (model.FinalizeResult, error) {
	s := b.statements
	var res model.FinalizeResult
	if now.IsZero() {
		now = s.clock.Now()
	}

	candidates, err := s.store.Read().Statements().ListPendingDue(ctx, now)
	if err != nil {
		return res, fmt.Errorf("failed to list pending statements: %w", err)
	}

	var (
		retry   []error
		notices []penaltyNotice
	)
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return res, model.Transient(err)
		}

		var (
			outcome model.StatementStatus
			penalty int64
			pending model.Statement
		)
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			p, err := tx.Statements().GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if p.Status != model.StatementStatusPendingPayment || p.DueDate == nil || !p.DueDate.Before(now) {
				return nil
			}

			current, _, err := s.getOrCreateCurrent(ctx, tx, p.UserID, 0, nil)
			if err != nil {
				return err
			}
			paid, err := paymentsInWindow(ctx, tx, current, p)
			if err != nil {
				return err
			}

			// Eligibility is read before the outcome moves the statement out of PENDING_PAYMENT.
			if p.PenaltyEligible(s.rates, paid) {
				if penalty, err = s.postPenalty(ctx, tx, current, p, now); err != nil {
					return err
				}
			}
			if outcome, err = s.determineDueOutcome(ctx, tx, p, paid); err != nil {
				return err
			}
			pending = *p
			return nil
		})
		if err != nil {
			res.Failed++
			b.itemFailed("finalize_due_windows", candidate, err, &retry)
			continue
		}

		switch outcome {
		case model.StatementStatusClosedNoPenalty:
			res.ClosedNoPenalty++
		case model.StatementStatusClosedWithPenalty:
			res.ClosedWithPenalty++
		default:
			res.Skipped++
		}
		if penalty > 0 {
			res.PenaltyLines++
			notices = append(notices, penaltyNotice{userID: pending.UserID, source: pending, amount: penalty})
		}
	}

	for _, n := range notices {
		s.notifier.PenaltyPosted(ctx, n.userID, n.source, n.amount)
	}

	b.logger.WithFields(logrus.Fields{
		"closed_no_penalty":   res.ClosedNoPenalty,
		"closed_with_penalty": res.ClosedWithPenalty,
		"penalty_lines":       res.PenaltyLines,
		"skipped":             res.Skipped,
		"failed":              res.Failed,
	}).Info("due-window finalization finished")
	return res, errors.Join(retry...)
}

// DailyPenaltyCalculation charges the late penalty of overdue PENDING_PAYMENT statements that
// have not been finalized yet. At most one penalty line exists per overdue statement.
func (b *BillingCycle) DailyPenaltyCalculation(ctx context.Context) (model.PenaltyRunResult, error) {
	s := b.statements
	var res model.PenaltyRunResult
	now := s.clock.Now()

	candidates, err := s.store.Read().Statements().ListPendingDue(ctx, now)
	if err != nil {
		return res, fmt.Errorf("failed to list overdue statements: %w", err)
	}

	var (
		retry   []error
		notices []penaltyNotice
	)
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return res, model.Transient(err)
		}
		res.Checked++

		var (
			penalty int64
			pending model.Statement
		)
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			p, err := tx.Statements().GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if p.Status != model.StatementStatusPendingPayment || p.DueDate == nil || !p.DueDate.Before(now) {
				return nil
			}
			exists, err := tx.Lines().PenaltyExistsFor(ctx, p.ID)
			if err != nil || exists {
				return err
			}

			current, _, err := s.getOrCreateCurrent(ctx, tx, p.UserID, 0, nil)
			if err != nil {
				return err
			}
			paid, err := paymentsInWindow(ctx, tx, current, p)
			if err != nil {
				return err
			}
			if !p.PenaltyEligible(s.rates, paid) {
				return nil
			}
			// Daily pass charges only what has accrued in whole days.
			if p.Penalty(s.rates, now) == 0 {
				return nil
			}
			penalty, err = s.postPenalty(ctx, tx, current, p, now)
			pending = *p
			return err
		})
		if err != nil {
			res.Failed++
			b.itemFailed("daily_penalty", candidate, err, &retry)
			continue
		}
		if penalty == 0 {
			res.Skipped++
			continue
		}
		res.PenaltyLines++
		notices = append(notices, penaltyNotice{userID: pending.UserID, source: pending, amount: penalty})
	}

	for _, n := range notices {
		s.notifier.PenaltyPosted(ctx, n.userID, n.source, n.amount)
	}

	b.logger.WithFields(logrus.Fields{
		"checked":       res.Checked,
		"penalty_lines": res.PenaltyLines,
		"skipped":       res.Skipped,
		"failed":        res.Failed,
	}).Info("daily penalty calculation finished")
	return res, errors.Join(retry...)
}
