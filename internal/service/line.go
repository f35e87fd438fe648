package service

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

const maxVoidReasonLen = 255

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// lockLineStatements locks the statements a line operation touches in id order, then the line.
func lockLineStatements(ctx context.Context, tx Tx, lineID uuid.UUID, extra *uuid.UUID) (*model.LedgerLine, map[uuid.UUID]*model.Statement, error) {
	line, err := tx.Lines().GetByID(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	ids := []uuid.UUID{line.StatementID}
	if extra != nil && *extra != line.StatementID {
		ids = append(ids, *extra)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	locked := make(map[uuid.UUID]*model.Statement, len(ids))
	for _, id := range ids {
		st, err := tx.Statements().GetByIDForUpdate(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = st
	}

	line, err = tx.Lines().GetByIDForUpdate(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := locked[line.StatementID]; !ok {
		return nil, nil, model.Transient(fmt.Errorf("line %s moved while locking", lineID))
	}
	return line, locked, nil
}

// UpdateLine applies a partial update. Changing the amount, type or statement recomputes every
// statement involved; a description-only change does not.
func (s *StatementService) UpdateLine(ctx context.Context, lineID uuid.UUID, upd model.LineUpdate) (*model.LedgerLine, error) {
	s.logger.WithField("line_id", lineID).Info("updating ledger line")

	var line *model.LedgerLine
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var (
			locked map[uuid.UUID]*model.Statement
			err    error
		)
		line, locked, err = lockLineStatements(ctx, tx, lineID, upd.StatementID)
		if err != nil {
			return err
		}
		if line.IsVoided {
			return fmt.Errorf("%w: line %s is voided", model.ErrInvalidState, lineID)
		}

		source := locked[line.StatementID]
		target := source
		if upd.StatementID != nil {
			target = locked[*upd.StatementID]
		}
		if target.UserID != source.UserID {
			return fmt.Errorf("%w: line %s cannot move to statement %s of another user",
				model.ErrInvalidInput, lineID, target.ID)
		}

		newType := line.Type
		if upd.Type != nil {
			if !upd.Type.Valid() {
				return fmt.Errorf("%w: unknown line type %q", model.ErrInvalidInput, *upd.Type)
			}
			newType = *upd.Type
		}
		amount := line.Amount
		if upd.Amount != nil {
			amount = *upd.Amount
		}
		if !upd.Financial() {
			if upd.Description != nil {
				line.Description = *upd.Description
			}
			line.UpdatedAt = s.clock.Now()
			return tx.Lines().Update(ctx, line)
		}

		if source.Status.Terminal() {
			return fmt.Errorf("%w: statement %s is %s", model.ErrInvalidState, source.ID, source.Status)
		}
		if err := checkPostable(target, newType); err != nil {
			return err
		}
		normalized, err := model.NormalizeAmount(newType, amount)
		if err != nil {
			return err
		}

		if newType == model.LineTypeInterest && (line.Type != model.LineTypeInterest || target.ID != source.ID) {
			exists, err := tx.Lines().ExistsActive(ctx, target.ID, model.LineTypeInterest, &line.ID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: interest on statement %s", model.ErrUniquenessViolation, target.ID)
			}
		}

		line.StatementID = target.ID
		line.Type = newType
		line.Amount = normalized
		if upd.Description != nil {
			line.Description = *upd.Description
		}
		line.UpdatedAt = s.clock.Now()
		if err := tx.Lines().Update(ctx, line); err != nil {
			return err
		}

		if err := s.recompute(ctx, tx, source); err != nil {
			return err
		}
		if target.ID != source.ID {
			return s.recompute(ctx, tx, target)
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to update ledger line %s", lineID)
		return nil, err
	}
	return line, nil
}

// VoidLine soft-deactivates a line and recomputes its statement. It reports false when the line
// was already voided.
func (s *StatementService) VoidLine(ctx context.Context, lineID uuid.UUID, reason string) (bool, error) {
	reason = truncate(reason, maxVoidReasonLen)

	voided := false
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		line, locked, err := lockLineStatements(ctx, tx, lineID, nil)
		if err != nil {
			return err
		}
		if line.IsVoided {
			return nil
		}

		now := s.clock.Now()
		line.IsVoided = true
		line.VoidedAt = &now
		line.VoidReason = reason
		line.UpdatedAt = now
		if err := tx.Lines().Void(ctx, line); err != nil {
			return err
		}
		voided = true
		return s.recompute(ctx, tx, locked[line.StatementID])
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to void ledger line %s", lineID)
		return false, err
	}
	if voided {
		s.logger.WithFields(logrus.Fields{"line_id": lineID, "reason": reason}).Info("ledger line voided")
	}
	return voided, nil
}

// ReverseLine posts a compensating entry on the line's statement: a REPAYMENT for a debit line,
// a PURCHASE for a credit line. A line is reversed at most once.
func (s *StatementService) ReverseLine(ctx context.Context, lineID uuid.UUID, reason string) (*model.LedgerLine, error) {
	var reversal *model.LedgerLine
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		line, locked, err := lockLineStatements(ctx, tx, lineID, nil)
		if err != nil {
			return err
		}
		if line.IsVoided {
			return fmt.Errorf("%w: cannot reverse voided line %s", model.ErrInvalidState, lineID)
		}
		reversed, err := tx.Lines().ReversalExists(ctx, lineID)
		if err != nil {
			return err
		}
		if reversed {
			return fmt.Errorf("%w: line %s is already reversed", model.ErrUniquenessViolation, lineID)
		}

		revType := model.LineTypePurchase
		if line.Type.IsDebit() {
			revType = model.LineTypeRepayment
		}
		description := fmt.Sprintf("Reversal of line %s", lineID)
		if reason != "" {
			description += ": " + reason
		}
		description = truncate(description, maxVoidReasonLen)

		reversal, err = s.postLine(ctx, tx, locked[line.StatementID], model.NewLine{
			Type:        revType,
			Amount:      line.Amount,
			Reverses:    &line.ID,
			Description: description,
		}, nil)
		return err
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to reverse ledger line %s", lineID)
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"line_id": lineID, "reversal_id": reversal.ID}).Info("ledger line reversed")
	return reversal, nil
}

// DeleteLine always fails: ledger lines are corrected by void or reverse.
func (s *StatementService) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	s.logger.WithField("line_id", lineID).Warn("rejected attempt to delete ledger line")
	return fmt.Errorf("line %s: %w", lineID, model.ErrDeletionNotAllowed)
}
